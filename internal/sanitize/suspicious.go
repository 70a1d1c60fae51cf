package sanitize

import (
	"regexp"
	"strconv"
	"strings"
)

// SuspiciousPattern is one named detection rule.
type SuspiciousPattern struct {
	Name string
	re   *regexp.Regexp
}

// suspiciousPatterns flag input for auditing only; they never alter it.
var suspiciousPatterns = []SuspiciousPattern{
	{Name: "script_tag", re: regexp.MustCompile(`(?i)<script\b`)},
	{Name: "javascript_uri", re: regexp.MustCompile(`(?i)javascript:`)},
	{Name: "event_handler", re: regexp.MustCompile(`(?i)\bon\w+\s*=`)},
	{Name: "union_select", re: regexp.MustCompile(`(?i)union\s+select`)},
	{Name: "drop_table", re: regexp.MustCompile(`(?i)drop\s+table`)},
	{Name: "delete_from", re: regexp.MustCompile(`(?i)delete\s+from`)},
	{Name: "insert_into", re: regexp.MustCompile(`(?i)insert\s+into`)},
	{Name: "update_set", re: regexp.MustCompile(`(?i)update\s+(\w+\s+)?set\b`)},
}

// DetectSuspicious reports the first suspicious pattern that matches s after
// normalization.
func DetectSuspicious(s string) (string, bool) {
	normalized := Normalize(s)
	for _, p := range suspiciousPatterns {
		if p.re.MatchString(normalized) {
			return p.Name, true
		}
	}
	return "", false
}

// Finding locates a suspicious value inside a document.
type Finding struct {
	// Path is a JSON-pointer-like location, e.g. "/items/0/title".
	Path string

	// Pattern is the name of the rule that matched.
	Pattern string
}

// Scan reports suspicious strings in a decoded document, keys included.
// It visits at most limit values; a non-positive limit means DefaultMaxNodes.
func Scan(v any, limit int) []Finding {
	if limit <= 0 {
		limit = DefaultMaxNodes
	}
	s := &scanner{budget: limit}
	s.scan(v, "")
	return s.findings
}

type scanner struct {
	budget   int
	findings []Finding
}

func (s *scanner) scan(v any, path string) {
	if s.budget <= 0 {
		return
	}
	s.budget--

	switch val := v.(type) {
	case string:
		s.check(val, path)
	case Object:
		for _, m := range val {
			child := path + "/" + escapePointer(m.Key)
			s.check(m.Key, child)
			s.scan(m.Value, child)
		}
	case map[string]any:
		for k, child := range val {
			p := path + "/" + escapePointer(k)
			s.check(k, p)
			s.scan(child, p)
		}
	case []any:
		for i, child := range val {
			s.scan(child, path+"/"+strconv.Itoa(i))
		}
	}
}

func (s *scanner) check(str, path string) {
	if name, ok := DetectSuspicious(str); ok {
		if path == "" {
			path = "/"
		}
		s.findings = append(s.findings, Finding{Path: path, Pattern: name})
	}
}

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

func escapePointer(key string) string {
	return pointerEscaper.Replace(key)
}
