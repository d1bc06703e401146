package schema

// Kind is the closed set of relation kinds.
type Kind int

// Relation kinds.
const (
	HasMany Kind = iota
	HasOne
	BelongsTo
)

// String returns the kind name for logging and error messages.
func (k Kind) String() string {
	switch k {
	case HasMany:
		return "has_many"
	case HasOne:
		return "has_one"
	case BelongsTo:
		return "belongs_to"
	default:
		return "unknown"
	}
}

// Hard-limit sentinels for RelationSpec.HardLimit.
const (
	// HardLimitDefault inherits the client's global hard limit.
	HardLimitDefault = 0
	// HardLimitNone disables the hard-limit check for the relation,
	// regardless of any global default.
	HardLimitNone = -1
)

// OrderTerm is one ORDER BY entry. Ties between terms are broken by
// declaration order only; the primary key is never added implicitly.
type OrderTerm struct {
	Column *ColumnRef
	Desc   bool
}

// RelationDef is the linked form of a relation declaration.
// SourceKeys and TargetKeys are parallel tuples of equal length;
// length 1 is a simple foreign key, length >= 2 a composite one.
type RelationDef struct {
	name       string
	kind       Kind
	sourceKeys []*ColumnRef
	targetKeys []*ColumnRef
	target     *Table
	where      map[string]any
	order      []OrderTerm
	limit      int
	hardLimit  int
}

// Name returns the relation name used at access time.
func (r *RelationDef) Name() string { return r.name }

// Kind returns the relation kind.
func (r *RelationDef) Kind() Kind { return r.kind }

// SourceKeys returns the key columns on the owning table.
func (r *RelationDef) SourceKeys() []*ColumnRef { return r.sourceKeys }

// TargetKeys returns the key columns on the target table, parallel to
// SourceKeys.
func (r *RelationDef) TargetKeys() []*ColumnRef { return r.targetKeys }

// Target returns the target table.
func (r *RelationDef) Target() *Table { return r.target }

// Where returns the static filter applied to every load of this
// relation, as target column name to value. May be nil.
func (r *RelationDef) Where() map[string]any { return r.where }

// Order returns the relation-level ordering. May be empty.
func (r *RelationDef) Order() []OrderTerm { return r.order }

// Limit returns the per-parent row limit (children per parent), or 0
// when unlimited.
func (r *RelationDef) Limit() int { return r.limit }

// HardLimit returns the relation hard limit: HardLimitDefault to
// inherit the global default, HardLimitNone to disable the check, or a
// positive ceiling.
func (r *RelationDef) HardLimit() int { return r.hardLimit }
