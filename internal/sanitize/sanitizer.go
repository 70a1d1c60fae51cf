// Package sanitize walks decoded JSON documents and neutralizes string
// values. It is a defense-in-depth blocklist, not a substitute for
// parameterized queries or context-aware output encoding.
package sanitize

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/alo17/secgateway/internal/observability"
)

// Default document limits.
const (
	DefaultMaxDepth = 32
	DefaultMaxNodes = 10000
)

// Blocked replaces every SQL-filter match.
const Blocked = "[BLOCKED]"

// ctxCheckEvery is how many nodes are walked between context checks.
const ctxCheckEvery = 256

var (
	// ErrMaxDepth is returned when a document nests deeper than allowed.
	ErrMaxDepth = errors.New("document exceeds maximum nesting depth")

	// ErrTooLarge is returned when a document has more values than allowed.
	ErrTooLarge = errors.New("document exceeds maximum node count")

	// ErrSyntax is returned for input that is not a single JSON value.
	ErrSyntax = errors.New("invalid JSON document")
)

// sqlRule is one blocklist pattern. A chained rule has no leading \b in its
// expression: a match counts as bounded when it follows a non-word byte or
// starts exactly where the previous accepted match ended, so a run such as
// "OR 1=1OR 1=1" is blocked in one pass.
type sqlRule struct {
	re      *regexp.Regexp
	chained bool
}

// sqlRules are applied in order, each replacing matches with Blocked.
var sqlRules = []sqlRule{
	{re: regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|EXEC|UNION|SCRIPT)\b`)},
	{re: regexp.MustCompile("(--|;|'|\"|`)")},
	{re: regexp.MustCompile(`(?i)(OR|AND)\b\s+\d+\s*=\s*\d+`), chained: true},
	{re: regexp.MustCompile(`(?i)\b(OR|AND)\b\s+['"]\w+['"]\s*=\s*['"]\w+['"]`)},
}

func (r sqlRule) apply(s string) string {
	if !r.chained {
		return r.re.ReplaceAllLiteralString(s, Blocked)
	}

	matches := r.re.FindAllStringIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	var b strings.Builder
	last, prevEnd, accepted := 0, -1, 0
	for _, m := range matches {
		start := m[0]
		if start > 0 && start != prevEnd && isWordByte(s[start-1]) {
			continue
		}
		b.WriteString(s[last:start])
		b.WriteString(Blocked)
		last, prevEnd = m[1], m[1]
		accepted++
	}
	if accepted == 0 {
		return s
	}
	b.WriteString(s[last:])
	return b.String()
}

// isWordByte mirrors the ASCII word class used by \b in RE2.
func isWordByte(c byte) bool {
	return c == '_' ||
		('0' <= c && c <= '9') ||
		('a' <= c && c <= 'z') ||
		('A' <= c && c <= 'Z')
}

var htmlReplacer = strings.NewReplacer(
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
	"/", "&#x2F;",
)

// Mode selects the string filter used by a Sanitizer.
type Mode int

const (
	// ModeSQL applies the SQL keyword and operator blocklist.
	ModeSQL Mode = iota

	// ModeHTML entity-escapes markup characters for an HTML sink.
	ModeHTML
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeSQL:
		return "sql"
	case ModeHTML:
		return "html"
	default:
		return "unknown"
	}
}

// Normalize folds compatibility characters (full-width letters and the
// like) with NFKC and drops invisible control characters other than tab,
// CR and LF.
func Normalize(s string) string {
	t := transform.Chain(
		norm.NFKC,
		runes.Remove(runes.Predicate(func(r rune) bool {
			if r == '\n' || r == '\r' || r == '\t' {
				return false
			}
			if unicode.IsControl(r) {
				return true
			}
			switch r {
			case '\u200B', '\u200C', '\u200D', '\u2060', '\uFEFF':
				return true
			}
			return false
		})),
	)

	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// FilterSQL applies the SQL blocklist to the NFKC-normalized form of s
// until the output no longer changes, so FilterSQL(FilterSQL(s)) ==
// FilterSQL(s). Text with no match is returned exactly as given.
//
// The loop ends: every changing pass replaces characters outside any
// Blocked marker, and a marker never matches a rule.
func FilterSQL(s string) string {
	normalized := Normalize(s)
	cur := normalized
	for {
		next := cur
		for _, r := range sqlRules {
			next = r.apply(next)
		}
		if next == cur {
			break
		}
		cur = next
	}

	if cur == normalized {
		return s
	}
	return cur
}

// EscapeHTML entity-escapes < > " ' and /. It is meant for the rendering
// sink and must not be combined with FilterSQL on the same value.
func EscapeHTML(s string) string {
	return htmlReplacer.Replace(s)
}

// Sanitizer walks decoded JSON and filters every string value. Object keys,
// numbers, booleans and null are left untouched.
type Sanitizer struct {
	mode    Mode
	limits  Limits
	rawKeys map[string]struct{}
	logger  observability.Logger
	metrics *observability.Metrics
}

// Option configures a Sanitizer.
type Option func(*Sanitizer)

// WithMode selects the string filter.
func WithMode(mode Mode) Option {
	return func(s *Sanitizer) {
		s.mode = mode
	}
}

// WithLimits sets the depth and node limits.
func WithLimits(limits Limits) Option {
	return func(s *Sanitizer) {
		s.limits = limits
	}
}

// WithRawKeys names top-level members whose string values RawFields hands
// out unfiltered. Keys match case-insensitively. The sanitized document
// still carries the filtered value.
func WithRawKeys(keys ...string) Option {
	return func(s *Sanitizer) {
		for _, k := range keys {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				s.rawKeys[k] = struct{}{}
			}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Sanitizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Sanitizer) {
		s.metrics = m
	}
}

// New creates a Sanitizer. The default mode is ModeSQL.
func New(opts ...Option) *Sanitizer {
	s := &Sanitizer{
		mode:    ModeSQL,
		limits:  DefaultLimits(),
		rawKeys: make(map[string]struct{}),
		logger:  observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Limits returns the configured document limits.
func (s *Sanitizer) Limits() Limits {
	return s.limits
}

// Mode returns the configured string filter.
func (s *Sanitizer) Mode() Mode {
	return s.mode
}

// RawFields returns the unfiltered string values of the raw keys found at
// the top level of a decoded document, keyed in lower case, or nil when
// there are none. It is
// meant for secrets that are hashed or compared and never stored or
// rendered.
func (s *Sanitizer) RawFields(v any) map[string]string {
	if len(s.rawKeys) == 0 {
		return nil
	}

	var out map[string]string
	add := func(key string, value any) {
		str, ok := value.(string)
		if !ok {
			return
		}
		key = strings.ToLower(key)
		if _, raw := s.rawKeys[key]; !raw {
			return
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[key] = str
	}

	switch doc := v.(type) {
	case Object:
		for _, m := range doc {
			add(m.Key, m.Value)
		}
	case map[string]any:
		for k, child := range doc {
			add(k, child)
		}
	}
	return out
}

// SanitizeString applies the configured filter to one string.
func (s *Sanitizer) SanitizeString(str string) string {
	if s.mode == ModeHTML {
		return EscapeHTML(str)
	}
	return FilterSQL(str)
}

// Sanitize returns a copy of v with every string value filtered. The shape
// and key order are preserved. v is not modified.
func (s *Sanitizer) Sanitize(ctx context.Context, v any) (any, error) {
	w := &walker{ctx: ctx, s: s}

	out, err := w.walk(v, 1)
	if err != nil {
		return nil, err
	}

	if w.modified > 0 {
		s.metrics.AddSanitizedStrings(w.modified)
		s.logger.WithContext(ctx).Debug("sanitized request values",
			observability.Int("modified", w.modified),
			observability.String("mode", s.mode.String()),
		)
	}

	return out, nil
}

type walker struct {
	ctx      context.Context
	s        *Sanitizer
	nodes    int
	modified int
}

func (w *walker) walk(v any, depth int) (any, error) {
	w.nodes++
	if w.s.limits.MaxNodes > 0 && w.nodes > w.s.limits.MaxNodes {
		return nil, ErrTooLarge
	}
	if w.nodes%ctxCheckEvery == 0 {
		if err := w.ctx.Err(); err != nil {
			return nil, err
		}
	}

	switch val := v.(type) {
	case string:
		out := w.s.SanitizeString(val)
		if out != val {
			w.modified++
		}
		return out, nil

	case Object:
		if err := w.checkDepth(depth); err != nil {
			return nil, err
		}
		out := make(Object, len(val))
		for i, m := range val {
			child, err := w.walk(m.Value, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = Member{Key: m.Key, Value: child}
		}
		return out, nil

	case map[string]any:
		if err := w.checkDepth(depth); err != nil {
			return nil, err
		}
		out := make(map[string]any, len(val))
		for k, child := range val {
			sanitized, err := w.walk(child, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = sanitized
		}
		return out, nil

	case []any:
		if err := w.checkDepth(depth); err != nil {
			return nil, err
		}
		out := make([]any, len(val))
		for i, child := range val {
			sanitized, err := w.walk(child, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = sanitized
		}
		return out, nil

	default:
		// json.Number, float64, bool, nil and anything else pass through.
		return v, nil
	}
}

func (w *walker) checkDepth(depth int) error {
	if w.s.limits.MaxDepth > 0 && depth > w.s.limits.MaxDepth {
		return ErrMaxDepth
	}
	return nil
}

// Marshal encodes a sanitized value, keeping Object key order.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}
