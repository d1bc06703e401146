package logger

import (
	"fmt"
	"regexp"
	"strings"
)

// maskValue replaces parameter values that may carry secrets.
const maskValue = "***REDACTED***"

// Sanitizer masks query parameters before they reach a log line. A
// statement whose text mentions a sensitive column name gets every
// parameter masked: parameter positions cannot be mapped back to
// columns without parsing the SQL, so the conservative choice wins.
type Sanitizer struct {
	fields   []string
	patterns []*regexp.Regexp
}

// defaultSensitiveFields are the column-name fragments masked when no
// explicit list is configured.
var defaultSensitiveFields = []string{
	"password", "passwd", "pwd",
	"token", "api_key", "apikey", "api_token",
	"secret", "auth", "authorization",
	"credit_card", "card_number", "cvv", "cvc",
	"ssn", "social_security",
	"private_key", "priv_key",
}

// NewSanitizer builds a sanitizer for the given sensitive field names.
// A nil or empty list selects the defaults.
func NewSanitizer(fields []string) *Sanitizer {
	if len(fields) == 0 {
		fields = defaultSensitiveFields
	}
	patterns := make([]*regexp.Regexp, len(fields))
	for i, field := range fields {
		patterns[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(field) + `\b`)
	}
	return &Sanitizer{fields: fields, patterns: patterns}
}

// sensitive reports whether the statement text names a sensitive field.
func (s *Sanitizer) sensitive(sql string) bool {
	for _, pattern := range s.patterns {
		if pattern.MatchString(sql) {
			return true
		}
	}
	return false
}

// MaskParams returns the parameters with sensitive values replaced.
// The input slice is never modified.
func (s *Sanitizer) MaskParams(sql string, params []any) []any {
	if len(params) == 0 || !s.sensitive(sql) {
		return params
	}
	masked := make([]any, len(params))
	for i := range params {
		masked[i] = maskValue
	}
	return masked
}

// FormatParams renders parameters for a log line, truncating oversized
// values. Mask first; FormatParams does not redact.
func (s *Sanitizer) FormatParams(params []any) string {
	if len(params) == 0 {
		return "[]"
	}
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = formatValue(p)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	str := fmt.Sprintf("%v", v)
	const maxLen = 100
	if len(str) > maxLen {
		return str[:maxLen] + "..."
	}
	return str
}
