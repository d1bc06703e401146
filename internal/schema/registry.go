package schema

import (
	"fmt"
	"regexp"
)

// OrderSpec is one ORDER BY entry in a relation declaration, by column
// name. It is resolved to an OrderTerm when the registry is linked.
type OrderSpec struct {
	Column string
	Desc   bool
}

// RelationSpec declares a relation at registration time. Column names
// are resolved when the registry is linked, so the target table may be
// registered after the owner (forward references are fine).
type RelationSpec struct {
	Name          string
	Kind          Kind
	SourceColumns []string
	TargetTable   string
	TargetColumns []string
	// Where is a static filter on the target table, applied to every
	// load of this relation.
	Where map[string]any
	// Limit bounds children per parent (not total rows). 0 = unlimited.
	Limit int
	// HardLimit is a ceiling whose violation is an error, never a
	// truncation. See HardLimitDefault and HardLimitNone.
	HardLimit int
	Order     []OrderSpec
}

// TableSpec declares a table: an ordered column list with a primary-key
// subset and zero or more relation declarations.
type TableSpec struct {
	Name      string
	Columns   []Column
	Relations []RelationSpec
}

// Registry maps table names to linked Table descriptions. Registration
// is two-phase: Register declares tables, Link resolves relations.
// After Link succeeds the registry is read-only.
type Registry struct {
	tables  map[string]*Table
	pending map[string][]RelationSpec
	linked  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tables:  make(map[string]*Table),
		pending: make(map[string][]RelationSpec),
	}
}

// identRegex accepts plain SQL identifiers. Anything else is rejected
// at registration time so no unvalidated name ever reaches the
// compiler.
var identRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Register declares a table. Relations are recorded but not resolved
// until Link is called.
func (r *Registry) Register(spec TableSpec) error {
	if r.linked {
		return fmt.Errorf("schema: registry already linked")
	}
	if !identRegex.MatchString(spec.Name) {
		return fmt.Errorf("schema: invalid table name %q", spec.Name)
	}
	if _, exists := r.tables[spec.Name]; exists {
		return fmt.Errorf("schema: table %q registered twice", spec.Name)
	}
	if len(spec.Columns) == 0 {
		return fmt.Errorf("schema: table %q has no columns", spec.Name)
	}

	t := &Table{
		name:      spec.Name,
		byName:    make(map[string]*ColumnRef, len(spec.Columns)),
		relations: make(map[string]*RelationDef),
	}
	for _, col := range spec.Columns {
		if !identRegex.MatchString(col.Name) {
			return fmt.Errorf("schema: invalid column name %q in table %q", col.Name, spec.Name)
		}
		if _, dup := t.byName[col.Name]; dup {
			return fmt.Errorf("schema: duplicate column %q in table %q", col.Name, spec.Name)
		}
		ref := &ColumnRef{
			table:   spec.Name,
			name:    col.Name,
			primary: col.PrimaryKey,
			castTag: col.CastTag,
		}
		t.columns = append(t.columns, ref)
		t.byName[col.Name] = ref
		if col.PrimaryKey {
			t.primary = append(t.primary, ref)
		}
	}

	r.tables[spec.Name] = t
	r.pending[spec.Name] = spec.Relations
	return nil
}

// Link resolves all recorded relation declarations. It must be called
// once, after every table has been registered. Link validates that
// source and target key tuples exist and have equal length.
func (r *Registry) Link() error {
	if r.linked {
		return fmt.Errorf("schema: registry already linked")
	}
	for tableName, specs := range r.pending {
		owner := r.tables[tableName]
		for _, spec := range specs {
			def, err := r.linkRelation(owner, spec)
			if err != nil {
				return err
			}
			if _, dup := owner.relations[spec.Name]; dup {
				return fmt.Errorf("schema: relation %q declared twice on table %q", spec.Name, tableName)
			}
			owner.relations[spec.Name] = def
		}
	}
	r.pending = nil
	r.linked = true
	return nil
}

func (r *Registry) linkRelation(owner *Table, spec RelationSpec) (*RelationDef, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("schema: unnamed relation on table %q", owner.name)
	}
	target, ok := r.tables[spec.TargetTable]
	if !ok {
		return nil, fmt.Errorf("schema: relation %q on table %q targets unknown table %q",
			spec.Name, owner.name, spec.TargetTable)
	}
	if len(spec.SourceColumns) == 0 || len(spec.SourceColumns) != len(spec.TargetColumns) {
		return nil, fmt.Errorf("schema: relation %q on table %q: source keys %d != target keys %d",
			spec.Name, owner.name, len(spec.SourceColumns), len(spec.TargetColumns))
	}

	source := make([]*ColumnRef, len(spec.SourceColumns))
	targetKeys := make([]*ColumnRef, len(spec.TargetColumns))
	for i, name := range spec.SourceColumns {
		col, ok := owner.Column(name)
		if !ok {
			return nil, fmt.Errorf("schema: relation %q: no column %q on table %q", spec.Name, name, owner.name)
		}
		source[i] = col
	}
	for i, name := range spec.TargetColumns {
		col, ok := target.Column(name)
		if !ok {
			return nil, fmt.Errorf("schema: relation %q: no column %q on table %q", spec.Name, name, target.name)
		}
		targetKeys[i] = col
	}
	for col := range spec.Where {
		if _, ok := target.Column(col); !ok {
			return nil, fmt.Errorf("schema: relation %q: where filter names unknown column %q", spec.Name, col)
		}
	}

	order := make([]OrderTerm, len(spec.Order))
	for i, o := range spec.Order {
		col, ok := target.Column(o.Column)
		if !ok {
			return nil, fmt.Errorf("schema: relation %q: order names unknown column %q", spec.Name, o.Column)
		}
		order[i] = OrderTerm{Column: col, Desc: o.Desc}
	}

	return &RelationDef{
		name:       spec.Name,
		kind:       spec.Kind,
		sourceKeys: source,
		targetKeys: targetKeys,
		target:     target,
		where:      spec.Where,
		order:      order,
		limit:      spec.Limit,
		hardLimit:  spec.HardLimit,
	}, nil
}

// Table looks up a linked table by name.
func (r *Registry) Table(name string) (*Table, error) {
	if !r.linked {
		return nil, fmt.Errorf("schema: registry not linked")
	}
	t, ok := r.tables[name]
	if !ok {
		return nil, fmt.Errorf("schema: unknown table %q", name)
	}
	return t, nil
}

// Linked reports whether Link has completed.
func (r *Registry) Linked() bool { return r.linked }
