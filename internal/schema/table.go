package schema

// Table is the linked, immutable description of one registered table.
type Table struct {
	name      string
	columns   []*ColumnRef
	byName    map[string]*ColumnRef
	primary   []*ColumnRef
	relations map[string]*RelationDef
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Columns returns the columns in registration order.
func (t *Table) Columns() []*ColumnRef { return t.columns }

// Column looks up a column by name.
func (t *Table) Column(name string) (*ColumnRef, bool) {
	c, ok := t.byName[name]
	return c, ok
}

// PrimaryKey returns the primary-key columns in registration order.
// The slice is empty for tables registered without a key.
func (t *Table) PrimaryKey() []*ColumnRef { return t.primary }

// Relation looks up a relation declaration by name.
func (t *Table) Relation(name string) (*RelationDef, bool) {
	r, ok := t.relations[name]
	return r, ok
}

// RelationNames returns the declared relation names. Order is not
// specified.
func (t *Table) RelationNames() []string {
	names := make([]string, 0, len(t.relations))
	for name := range t.relations {
		names = append(names, name)
	}
	return names
}
