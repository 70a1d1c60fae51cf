package audit

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC()
	e := NewEvent(EventLoginAttempt, SeverityLow, "127.0.0.1")

	_, err := uuid.Parse(e.ID)
	require.NoError(t, err)
	assert.Equal(t, EventLoginAttempt, e.Type)
	assert.Equal(t, SeverityLow, e.Severity)
	assert.Equal(t, "127.0.0.1", e.IP)
	assert.False(t, e.Timestamp.Before(before))
	assert.NotNil(t, e.Details)
	assert.False(t, e.Resolved)

	assert.NotEqual(t, e.ID, NewEvent(EventLoginAttempt, SeverityLow, "127.0.0.1").ID)
}

func TestEvent_Builders(t *testing.T) {
	t.Parallel()

	e := NewEvent(EventFailedLogin, SeverityMedium, "ip").
		WithUser("user-1").
		WithUserAgent("curl/8").
		WithRequestID("req").
		WithDetail("attempts", 3)

	assert.Equal(t, "user-1", e.UserID)
	assert.Equal(t, "curl/8", e.UserAgent)
	assert.Equal(t, "req", e.RequestID)
	assert.Equal(t, 3, e.Details["attempts"])

	bare := &Event{}
	bare.WithDetail("k", "v")
	assert.Equal(t, "v", bare.Details["k"])
}

func TestSeverity(t *testing.T) {
	t.Parallel()

	assert.True(t, SeverityCritical.AtLeast(SeverityHigh))
	assert.True(t, SeverityMedium.AtLeast(SeverityMedium))
	assert.False(t, SeverityLow.AtLeast(SeverityMedium))

	assert.True(t, SeverityHigh.Valid())
	assert.False(t, Severity("urgent").Valid())
}

func TestEvent_Clone(t *testing.T) {
	t.Parallel()

	e := NewEvent(EventMalformedBody, SeverityLow, "ip").WithDetail("k", "v")
	c := e.clone()
	c.Details["k"] = "other"

	assert.Equal(t, "v", e.Details["k"])
	assert.Equal(t, e.ID, c.ID)
}
