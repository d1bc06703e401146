package dialects

import (
	"fmt"
	"strings"
)

// SQLiteDialect implements SQLite-specific SQL dialect.
// Window functions and RETURNING are available (SQLite 3.25 / 3.35).
type SQLiteDialect struct{}

func init() {
	RegisterDialect("sqlite", &SQLiteDialect{})
	RegisterDialect("sqlite3", &SQLiteDialect{})
}

// Name returns the canonical dialect tag.
func (d *SQLiteDialect) Name() string { return "sqlite" }

// QuoteIdentifier quotes a SQLite identifier using double quotes.
func (d *SQLiteDialect) QuoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Placeholder returns SQLite placeholder format (always "?").
func (d *SQLiteDialect) Placeholder(_ int) string {
	return "?"
}

// CastSuffix is the identity for SQLite; cast tags are ignored.
func (d *SQLiteDialect) CastSuffix(_ string) string { return "" }

// UpsertSQL generates SQLite UPSERT syntax using ON CONFLICT.
func (d *SQLiteDialect) UpsertSQL(_ string, conflictColumns, updateCols []string) string {
	if updateCols == nil {
		if len(conflictColumns) > 0 {
			return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(conflictColumns, ", "))
		}
		return " ON CONFLICT DO NOTHING"
	}

	updates := make([]string, len(updateCols))
	for i, col := range updateCols {
		updates[i] = fmt.Sprintf("%s = excluded.%s", col, col)
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s",
		strings.Join(conflictColumns, ", "),
		strings.Join(updates, ", "))
}

// Membership compiles a batch-membership predicate. SQLite has no
// array parameters, so this shares the IN / OR-of-AND fallback with
// MySQL and parameter count grows with batch size.
func (d *SQLiteDialect) Membership(cols []string, castTags []string, tuples [][]any, next int) (string, []any) {
	return fallbackMembership(d, cols, tuples, next)
}

// SupportsWindowFunctions reports ROW_NUMBER() support.
func (d *SQLiteDialect) SupportsWindowFunctions() bool { return true }

// SupportsReturning reports RETURNING clause support.
func (d *SQLiteDialect) SupportsReturning() bool { return true }
