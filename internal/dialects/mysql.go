package dialects

import (
	"fmt"
	"strings"
)

// MySQLDialect implements MySQL-specific SQL dialect.
//
// Window functions are not assumed (MySQL 5.7 compatibility), so
// per-parent row limiting falls back to client-side truncation of one
// unbounded batch query.
type MySQLDialect struct{}

func init() {
	RegisterDialect("mysql", &MySQLDialect{})
}

// Name returns the canonical dialect tag.
func (d *MySQLDialect) Name() string { return "mysql" }

// QuoteIdentifier quotes a MySQL identifier using backticks.
func (d *MySQLDialect) QuoteIdentifier(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

// Placeholder returns MySQL placeholder format (always "?").
func (d *MySQLDialect) Placeholder(_ int) string {
	return "?"
}

// CastSuffix is the identity for MySQL; cast tags are ignored.
func (d *MySQLDialect) CastSuffix(_ string) string { return "" }

// UpsertSQL generates MySQL UPSERT syntax using ON DUPLICATE KEY UPDATE.
// Conflict-ignore is expressed by "updating" a key column to itself,
// which leaves the row untouched on duplicate.
func (d *MySQLDialect) UpsertSQL(_ string, conflictColumns, updateCols []string) string {
	if updateCols == nil {
		if len(conflictColumns) == 0 {
			return ""
		}
		col := conflictColumns[0]
		return fmt.Sprintf(" ON DUPLICATE KEY UPDATE %s = %s", col, col)
	}

	updates := make([]string, len(updateCols))
	for i, col := range updateCols {
		updates[i] = fmt.Sprintf("%s = VALUES(%s)", col, col)
	}
	return fmt.Sprintf(" ON DUPLICATE KEY UPDATE %s", strings.Join(updates, ", "))
}

// Membership compiles a batch-membership predicate. Single keys use an
// IN list, composite keys an OR of per-tuple AND groups. Parameter
// count grows with batch size on this dialect.
func (d *MySQLDialect) Membership(cols []string, castTags []string, tuples [][]any, next int) (string, []any) {
	return fallbackMembership(d, cols, tuples, next)
}

// SupportsWindowFunctions reports ROW_NUMBER() support.
func (d *MySQLDialect) SupportsWindowFunctions() bool { return false }

// SupportsReturning reports RETURNING clause support.
func (d *MySQLDialect) SupportsReturning() bool { return false }

// fallbackMembership is the IN / OR-of-AND membership shared by
// dialects without array constructs.
func fallbackMembership(d Dialect, cols []string, tuples [][]any, next int) (string, []any) {
	params := make([]any, 0, len(tuples)*len(cols))

	if len(cols) == 1 {
		placeholders := make([]string, len(tuples))
		for i, tuple := range tuples {
			placeholders[i] = d.Placeholder(next + i)
			params = append(params, tuple[0])
		}
		return cols[0] + " IN (" + strings.Join(placeholders, ", ") + ")", params
	}

	groups := make([]string, len(tuples))
	index := next
	for i, tuple := range tuples {
		terms := make([]string, len(cols))
		for j, col := range cols {
			terms[j] = col + " = " + d.Placeholder(index)
			params = append(params, tuple[j])
			index++
		}
		groups[i] = "(" + strings.Join(terms, " AND ") + ")"
	}
	return "(" + strings.Join(groups, " OR ") + ")", params
}
