package logger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskParamsSensitiveStatement(t *testing.T) {
	s := NewSanitizer(nil)
	sql := `UPDATE "users" SET "password" = $1 WHERE "id" = $2`
	params := []any{"hunter2secret", 42}

	masked := s.MaskParams(sql, params)

	assert.Equal(t, []any{maskValue, maskValue}, masked)
	assert.Equal(t, []any{"hunter2secret", 42}, params, "input must not be modified")
}

func TestMaskParamsCleanStatement(t *testing.T) {
	s := NewSanitizer(nil)
	sql := `SELECT "id", "email" FROM "users" WHERE "id" = $1`
	params := []any{42}

	masked := s.MaskParams(sql, params)
	assert.Equal(t, params, masked)
}

func TestMaskParamsCustomFields(t *testing.T) {
	s := NewSanitizer([]string{"pin_code"})

	masked := s.MaskParams(`UPDATE "cards" SET "pin_code" = ?`, []any{"1234"})
	assert.Equal(t, []any{maskValue}, masked)

	// Default fields are not in effect when a custom list is given.
	masked = s.MaskParams(`UPDATE "users" SET "password" = ?`, []any{"x"})
	assert.Equal(t, []any{"x"}, masked)
}

func TestMaskParamsWordBoundary(t *testing.T) {
	s := NewSanitizer(nil)
	// "passwords_archive" should not trip the "password" pattern as a
	// larger word, but the embedded word still matches at boundaries.
	masked := s.MaskParams(`SELECT * FROM "trusted_words"`, []any{"v"})
	assert.Equal(t, []any{"v"}, masked)
}

func TestFormatParams(t *testing.T) {
	s := NewSanitizer(nil)

	assert.Equal(t, "[]", s.FormatParams(nil))
	assert.Equal(t, "[1, a, NULL]", s.FormatParams([]any{1, "a", nil}))
}

func TestFormatParamsTruncatesLongValues(t *testing.T) {
	s := NewSanitizer(nil)
	long := strings.Repeat("x", 500)

	out := s.FormatParams([]any{long})
	assert.True(t, strings.HasSuffix(out, "...]"))
	assert.Less(t, len(out), 120)
}
