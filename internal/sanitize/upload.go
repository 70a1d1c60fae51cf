package sanitize

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"unicode"
)

// DefaultMaxUploadBytes is the largest accepted file.
const DefaultMaxUploadBytes = 10 << 20

// Upload rejections.
var (
	ErrFileTooLarge       = errors.New("File size exceeds limit")
	ErrFileTypeDenied     = errors.New("File type not allowed")
	ErrSuspiciousFilename = errors.New("Suspicious filename detected")
)

// executableExtensions may not appear as an inner extension, as in
// "invoice.php.jpg".
var executableExtensions = []string{
	".php", ".phtml", ".phar", ".exe", ".dll", ".bat", ".cmd", ".sh",
	".js", ".jsp", ".asp", ".aspx", ".cgi", ".pl", ".py", ".svg", ".html", ".htm",
}

// UploadPolicy limits accepted files.
type UploadPolicy struct {
	MaxBytes int64

	// AllowedExtensions are lower case and include the dot.
	AllowedExtensions []string
}

// DefaultUploadPolicy accepts images and office documents up to 10 MiB.
func DefaultUploadPolicy() UploadPolicy {
	return UploadPolicy{
		MaxBytes:          DefaultMaxUploadBytes,
		AllowedExtensions: []string{".jpg", ".jpeg", ".png", ".gif", ".pdf", ".doc", ".docx"},
	}
}

// UploadCheck describes a rejected or accepted file.
type UploadCheck struct {
	Extension string

	// Reason names the failed rule, e.g. "file_too_large".
	Reason string

	// Pattern is the suspicious pattern that matched, if any.
	Pattern string
}

// CheckUpload validates an upload's name and size against policy. Size is
// checked first, then the extension, then the name itself. The returned
// error wraps one of the Err* rejections.
func CheckUpload(filename string, size int64, policy UploadPolicy) (UploadCheck, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	check := UploadCheck{Extension: ext}

	if size < 0 || size > policy.MaxBytes {
		check.Reason = "file_too_large"
		return check, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, size)
	}

	if ext == "" || !slices.Contains(policy.AllowedExtensions, ext) {
		check.Reason = "file_type_not_allowed"
		return check, fmt.Errorf("%w: %q", ErrFileTypeDenied, ext)
	}

	if pattern, bad := suspiciousFilename(filename); bad {
		check.Reason = "suspicious_filename"
		check.Pattern = pattern
		return check, fmt.Errorf("%w: %s", ErrSuspiciousFilename, pattern)
	}

	return check, nil
}

func suspiciousFilename(name string) (string, bool) {
	if pattern, ok := DetectSuspicious(name); ok {
		return pattern, true
	}

	switch {
	case strings.ContainsAny(name, `/\`):
		return "path_separator", true
	case strings.Contains(name, ".."):
		return "path_traversal", true
	case strings.Contains(name, Blocked):
		return "sql_metacharacter", true
	case strings.IndexFunc(name, unicode.IsControl) >= 0:
		return "control_character", true
	}

	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" || strings.HasPrefix(name, ".") {
		return "hidden_file", true
	}
	if inner := strings.ToLower(filepath.Ext(base)); slices.Contains(executableExtensions, inner) {
		return "double_extension", true
	}
	return "", false
}
