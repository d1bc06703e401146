// Package dialects isolates every per-database decision behind a small
// strategy table: identifier quoting, placeholder style, value cast
// syntax, UPSERT syntax, batch-membership predicates, and window
// function / RETURNING capabilities. The compiler and the relation
// loader stay dialect-agnostic; only this package changes when a new
// backend is added.
package dialects

// Dialect defines database-specific behaviors.
type Dialect interface {
	// Name returns the canonical dialect tag (postgres, mysql, sqlite).
	Name() string

	QuoteIdentifier(string) string

	// Placeholder returns the positional parameter marker for the given
	// 1-based index ($1, $2 for PostgreSQL; ? for MySQL/SQLite).
	Placeholder(index int) string

	// CastSuffix returns the value cast syntax for a cast tag, appended
	// to a placeholder ("::uuid" on PostgreSQL). Dialects without cast
	// syntax return the empty string.
	CastSuffix(tag string) string

	// UpsertSQL returns the conflict clause appended to an INSERT.
	// A nil updateCols means conflict-ignore semantics.
	UpsertSQL(table string, conflictColumns, updateCols []string) string

	// Membership compiles a batch-membership predicate matching rows
	// whose key tuple equals any of the given tuples. cols are already
	// quoted, castTags is parallel to cols, and next is the 1-based
	// index of the first placeholder to use. The number of placeholders
	// consumed always equals the number of returned parameters.
	Membership(cols []string, castTags []string, tuples [][]any, next int) (string, []any)

	// SupportsWindowFunctions reports whether per-parent row limiting
	// can use ROW_NUMBER() in a single query.
	SupportsWindowFunctions() bool

	// SupportsReturning reports whether writes can return rows through
	// a RETURNING clause.
	SupportsReturning() bool
}

var dialects = make(map[string]Dialect)

// RegisterDialect registers a database dialect by driver name.
func RegisterDialect(name string, d Dialect) {
	dialects[name] = d
}

// GetDialect retrieves a registered dialect by driver name.
// The second return value is false for unknown names.
func GetDialect(name string) (Dialect, bool) {
	d, ok := dialects[name]
	return d, ok
}
