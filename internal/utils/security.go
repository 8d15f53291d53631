package utils

import (
	"html"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// xssPatterns matches common XSS payload shapes.
var xssPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script[^>]*>.*?</script>`),
	regexp.MustCompile(`(?i)<iframe[^>]*>.*?</iframe>`),
	regexp.MustCompile(`(?i)<object[^>]*>.*?</object>`),
	regexp.MustCompile(`(?i)<embed[^>]*>`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)vbscript:`),
	regexp.MustCompile(`(?i)on(load|error|click|mouseover|focus|blur)\s*=`),
}

// ValidateInput rejects control characters, invalid UTF-8, and XSS-shaped
// payloads in user-submitted chat/feed text, returning the trimmed input.
func ValidateInput(input string) (string, bool) {
	if input == "" {
		return "", true
	}

	for _, r := range input {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return "", false
		}
	}

	if !utf8.ValidString(input) {
		return "", false
	}

	for _, pattern := range xssPatterns {
		if pattern.MatchString(input) {
			return "", false
		}
	}

	return strings.TrimSpace(input), true
}

// EscapeHTML escapes HTML special characters in input.
func EscapeHTML(input string) string {
	if input == "" {
		return ""
	}
	return html.EscapeString(input)
}

// SanitizeForLog strips newlines, tabs, and other control characters so a
// value cannot forge log entries when interpolated into a log line.
func SanitizeForLog(input string) string {
	if input == "" {
		return ""
	}

	sanitized := strings.NewReplacer("\n", " ", "\r", " ", "\t", " ").Replace(input)

	var b strings.Builder
	for _, r := range sanitized {
		if r >= 32 || r == ' ' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// allowedImageExtensions is the extension allow-list for uploaded/served
// images (spec.md §4.8 input hardening, §6 image proxy route).
var allowedImageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

// HasAllowedImageExtension reports whether name has one of the allow-listed
// image extensions.
func HasAllowedImageExtension(name string) bool {
	return allowedImageExtensions[strings.ToLower(filepath.Ext(name))]
}
