// Package schema holds the static table metadata consumed by the query
// compiler and the relation loader: ordered column lists, primary-key
// subsets, per-column dialect cast tags, and relation declarations.
// All types in this package are immutable once a registry is linked.
package schema

// ColumnRef identifies a single column of a registered table.
// References are created once at registration time and never mutated;
// the compiler and the relation loader share them freely.
type ColumnRef struct {
	table   string
	name    string
	primary bool
	castTag string
}

// Table returns the name of the table this column belongs to.
func (c *ColumnRef) Table() string { return c.table }

// Name returns the column name.
func (c *ColumnRef) Name() string { return c.name }

// IsPrimary reports whether the column is part of the table's primary key.
func (c *ColumnRef) IsPrimary() bool { return c.primary }

// CastTag returns the dialect cast tag attached at registration time
// (e.g. "uuid"), or the empty string when the column needs no cast.
// Every condition or write touching the column inherits this tag.
func (c *ColumnRef) CastTag() string { return c.castTag }

// Column describes one column at registration time.
type Column struct {
	Name       string
	PrimaryKey bool
	// CastTag is an optional dialect-specific cast tag (e.g. "uuid").
	// It is independent of the runtime value type.
	CastTag string
}
