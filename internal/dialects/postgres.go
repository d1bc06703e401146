package dialects

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// PostgresDialect implements PostgreSQL-specific SQL dialect.
type PostgresDialect struct{}

func init() {
	RegisterDialect("postgres", &PostgresDialect{})
	RegisterDialect("postgresql", &PostgresDialect{})
}

// Name returns the canonical dialect tag.
func (d *PostgresDialect) Name() string { return "postgres" }

// QuoteIdentifier quotes a PostgreSQL identifier using double quotes.
func (d *PostgresDialect) QuoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Placeholder returns PostgreSQL placeholder format ($1, $2, etc.).
func (d *PostgresDialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

// CastSuffix returns the PostgreSQL type cast suffix for a tag
// ("uuid" becomes "::uuid"). Empty tags produce no suffix.
func (d *PostgresDialect) CastSuffix(tag string) string {
	if tag == "" {
		return ""
	}
	return "::" + tag
}

// UpsertSQL generates PostgreSQL UPSERT syntax using ON CONFLICT.
func (d *PostgresDialect) UpsertSQL(_ string, conflictColumns, updateCols []string) string {
	if updateCols == nil {
		if len(conflictColumns) > 0 {
			return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(conflictColumns, ", "))
		}
		return " ON CONFLICT DO NOTHING"
	}

	parts := make([]string, len(updateCols))
	for i, col := range updateCols {
		parts[i] = fmt.Sprintf("%s = EXCLUDED.%s", col, col)
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s",
		strings.Join(conflictColumns, ", "),
		strings.Join(parts, ", "),
	)
}

// Membership compiles a batch-membership predicate.
//
// Single-key batches use array equality: one array parameter regardless
// of batch size, so the statement text is stable across batch sizes and
// the prepared-statement cache stays effective.
//
//	col = ANY($1::uuid[])
//
// Composite-key batches join against an unnest of parallel arrays:
//
//	(a, b) IN (SELECT * FROM unnest($1::int8[], $2::int8[]))
func (d *PostgresDialect) Membership(cols []string, castTags []string, tuples [][]any, next int) (string, []any) {
	if len(cols) == 1 {
		values := make([]any, len(tuples))
		for i, tuple := range tuples {
			values[i] = tuple[0]
		}
		suffix := ""
		if castTags[0] != "" {
			suffix = "::" + castTags[0] + "[]"
		}
		sql := cols[0] + " = ANY(" + d.Placeholder(next) + suffix + ")"
		return sql, []any{pq.Array(values)}
	}

	arrays := make([]string, len(cols))
	params := make([]any, len(cols))
	for i := range cols {
		component := make([]any, len(tuples))
		for j, tuple := range tuples {
			component[j] = tuple[i]
		}
		suffix := ""
		if castTags[i] != "" {
			suffix = "::" + castTags[i] + "[]"
		}
		arrays[i] = d.Placeholder(next+i) + suffix
		params[i] = pq.Array(component)
	}
	sql := "(" + strings.Join(cols, ", ") + ") IN (SELECT * FROM unnest(" +
		strings.Join(arrays, ", ") + "))"
	return sql, params
}

// SupportsWindowFunctions reports ROW_NUMBER() support.
func (d *PostgresDialect) SupportsWindowFunctions() bool { return true }

// SupportsReturning reports RETURNING clause support.
func (d *PostgresDialect) SupportsReturning() bool { return true }
