package password

import (
	"crypto/sha512"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/pbkdf2"

	"github.com/alo17/secgateway/internal/observability"
)

// ============================================================================
// Hash / Verify
// ============================================================================

func TestHasher_HashFormat(t *testing.T) {
	t.Parallel()

	h := New()
	stored, err := h.Hash("Parola123!")
	require.NoError(t, err)

	salt, hash, found := strings.Cut(stored, ":")
	require.True(t, found)
	assert.Len(t, salt, 2*SaltBytes)
	assert.Len(t, hash, 2*KeyLength)

	_, err = hex.DecodeString(salt)
	assert.NoError(t, err)
	_, err = hex.DecodeString(hash)
	assert.NoError(t, err)
}

func TestHasher_HashVerify(t *testing.T) {
	t.Parallel()

	h := New()

	tests := []string{
		"Parola123!",
		"",
		"çok gizli şifre",
		strings.Repeat("x", 500),
		"pass:with:colons",
	}

	for _, p := range tests {
		stored, err := h.Hash(p)
		require.NoError(t, err)
		assert.True(t, h.Verify(p, stored), p)
		assert.False(t, h.Verify(p+"x", stored), p)
	}
}

func TestHasher_FreshSalt(t *testing.T) {
	t.Parallel()

	h := New()
	a, err := h.Hash("same")
	require.NoError(t, err)
	b, err := h.Hash("same")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.True(t, h.Verify("same", a))
	assert.True(t, h.Verify("same", b))
}

func TestHasher_VerifyKnownVector(t *testing.T) {
	t.Parallel()

	// Stored values use the hex salt string itself as PBKDF2 salt bytes.
	salt := "00112233445566778899aabbccddeeff"
	key := pbkdf2.Key([]byte("Parola123!"), []byte(salt), DefaultIterations, KeyLength, sha512.New)
	stored := salt + ":" + hex.EncodeToString(key)

	h := New()
	assert.True(t, h.Verify("Parola123!", stored))
	assert.True(t, h.Verify("Parola123!", salt+":"+strings.ToUpper(hex.EncodeToString(key))))
	assert.False(t, h.Verify("parola123!", stored))
}

func TestHasher_VerifyMalformed(t *testing.T) {
	t.Parallel()

	h := New()

	for _, stored := range []string{
		"",
		"nocolon",
		":" + strings.Repeat("a", 128),
		"salt:",
		"salt:abc",
		"salt:" + strings.Repeat("a", 127),
	} {
		assert.False(t, h.Verify("anything", stored), stored)
	}
}

func TestHasher_Iterations(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultIterations, New().Iterations())
	assert.Equal(t, 5000, New(WithIterations(5000)).Iterations())
	assert.Equal(t, DefaultIterations, New(WithIterations(10)).Iterations())
	assert.Equal(t, DefaultIterations, New(WithIterations(MaxIterations+1)).Iterations())

	strong := New(WithIterations(2000))
	stored, err := strong.Hash("Parola123!")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored, "2000$"), stored)

	plain, err := New().Hash("Parola123!")
	require.NoError(t, err)
	assert.NotContains(t, plain, "$", "default count keeps the legacy format")

	// The stored count wins over the verifying hasher's setting.
	tests := []struct {
		name     string
		verifier *Hasher
		stored   string
	}{
		{name: "default verifies prefixed", verifier: New(), stored: stored},
		{name: "other count verifies prefixed", verifier: New(WithIterations(3000)), stored: stored},
		{name: "raised count verifies legacy", verifier: New(WithIterations(3000)), stored: plain},
		{name: "same count", verifier: strong, stored: stored},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.True(t, tt.verifier.Verify("Parola123!", tt.stored))
			assert.False(t, tt.verifier.Verify("Parola123?", tt.stored))
		})
	}
}

func TestHasher_VerifyIterationPrefix(t *testing.T) {
	t.Parallel()

	salt := "00112233445566778899aabbccddeeff"
	key := hex.EncodeToString(pbkdf2.Key([]byte("Parola123!"), []byte(salt), 1500, KeyLength, sha512.New))
	h := New()

	assert.True(t, h.Verify("Parola123!", "1500$"+salt+":"+key))
	assert.False(t, h.Verify("Parola123!", salt+":"+key), "count is not guessed")

	for _, stored := range []string{
		"999$" + salt + ":" + key,
		"0$" + salt + ":" + key,
		"-1500$" + salt + ":" + key,
		"abc$" + salt + ":" + key,
		"$" + salt + ":" + key,
		"99999999$" + salt + ":" + key,
		"1500$",
		"1500$" + salt,
	} {
		assert.False(t, h.Verify("Parola123!", stored), stored)
	}
}

func TestHasher_Metrics(t *testing.T) {
	t.Parallel()

	m := observability.NewMetrics("test")
	h := New(WithMetrics(m))

	stored, err := h.Hash("Parola123!")
	require.NoError(t, err)
	h.Verify("Parola123!", stored)
	h.Verify("wrong", stored)
	h.Verify("wrong", "malformed")

	expected := `
# HELP test_password_verifications_total Total number of password verifications by result
# TYPE test_password_verifications_total counter
test_password_verifications_total{result="match"} 1
test_password_verifications_total{result="mismatch"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "test_password_verifications_total"))
}

// ============================================================================
// Strength
// ============================================================================

func TestCheckStrength(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		password string
		want     []error
	}{
		{name: "strong", password: "Parola123!", want: nil},
		{name: "turkish letters count", password: "Çağrı2024?", want: nil},
		{name: "too short", password: "Pa1!", want: []error{ErrTooShort}},
		{name: "no upper", password: "parola123!", want: []error{ErrNoUpper}},
		{name: "no lower", password: "PAROLA123!", want: []error{ErrNoLower}},
		{name: "no number", password: "Parolaaa!", want: []error{ErrNoNumber}},
		{name: "no special", password: "Parola1234", want: []error{ErrNoSpecial}},
		{name: "underscore is not special", password: "Parola_123", want: []error{ErrNoSpecial}},
		{
			name:     "empty",
			password: "",
			want:     []error{ErrTooShort, ErrNoUpper, ErrNoLower, ErrNoNumber, ErrNoSpecial},
		},
	}

	h := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, h.CheckStrength(tt.password))
		})
	}
}

func TestCheckWithPolicy_Relaxed(t *testing.T) {
	t.Parallel()

	policy := Policy{MinLength: 4}
	assert.Empty(t, CheckWithPolicy("abcd", policy))
	assert.Equal(t, []error{ErrTooShort}, CheckWithPolicy("abc", policy))

	h := New(WithPolicy(policy))
	assert.Empty(t, h.CheckStrength("abcd"))
}

func TestMessages(t *testing.T) {
	t.Parallel()

	msgs := Messages([]error{ErrTooShort, ErrNoSpecial})
	assert.Equal(t, []string{
		"Şifre en az 8 karakter olmalıdır",
		"Şifre en az bir özel karakter içermelidir",
	}, msgs)
	assert.Empty(t, Messages(nil))
}
