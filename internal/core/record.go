package core

import (
	"context"

	"github.com/coregx/recora/internal/schema"
)

// Record is one row of a registered table, produced by a query. Every
// record carries the relation context of the result set it came from,
// so relation access on any record batches across its siblings.
type Record struct {
	table  *schema.Table
	values map[string]any
	rctx   *RelationContext
}

func newRecord(table *schema.Table, values map[string]any) *Record {
	return &Record{table: table, values: values}
}

// Table returns the name of the table this record belongs to.
func (r *Record) Table() string { return r.table.Name() }

// Get returns the value of a column, or nil when the column is absent.
func (r *Record) Get(column string) any { return r.values[column] }

// Values returns the underlying column map. Callers must not mutate it.
func (r *Record) Values() map[string]any { return r.values }

// PrimaryKey returns the record's key values in declaration order.
func (r *Record) PrimaryKey() []any {
	pk := r.table.PrimaryKey()
	values := make([]any, len(pk))
	for i, col := range pk {
		values[i] = r.values[col.Name()]
	}
	return values
}

// Many resolves a HasMany relation through the record's context.
// The first access batches the load across every sibling in the same
// context; later accesses are cache hits.
func (r *Record) Many(ctx context.Context, relation string) ([]*Record, error) {
	return r.rctx.LoadMany(ctx, r, relation)
}

// One resolves a HasOne or BelongsTo relation through the record's
// context. Returns nil without error when no target row matches.
func (r *Record) One(ctx context.Context, relation string) (*Record, error) {
	return r.rctx.LoadOne(ctx, r, relation)
}

// Context returns the relation context this record is attached to.
func (r *Record) Context() *RelationContext { return r.rctx }

// PkeyResult carries the key columns and key values of written rows,
// in the caller's row order. It is produced by the write path and
// consumed by FindByKeys to re-select written rows.
type PkeyResult struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of key rows.
func (p *PkeyResult) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Rows)
}
