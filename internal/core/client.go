// Package core provides the data-access runtime: condition
// normalization, dialect-correct SQL compilation, verb-level
// operations, relation batch loading, and transaction scoping.
package core

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/coregx/recora/internal/dialects"
	"github.com/coregx/recora/internal/logger"
	"github.com/coregx/recora/internal/schema"
	"github.com/coregx/recora/internal/tracer"
)

// Client is the verb-level entry point. It is configured once at
// construction and read-only thereafter; per-call overrides go through
// Query fields. Clients derived from a transaction scope share the
// configuration but execute on the transaction's executor.
type Client struct {
	exec      Executor
	dialect   dialects.Dialect
	registry  *schema.Registry
	logger    logger.Logger
	sanitizer *logger.Sanitizer
	tracer    tracer.Tracer
	pipeline  *pipeline
	maxRows   int
	requireTx bool
	tx        *Tx // non-nil for clients inside a transaction scope
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithLogger sets the structured logger. Queries are logged with
// sensitive parameters masked.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTracer sets the tracer used around statement execution.
func WithTracer(t tracer.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// WithMaxRows sets the global hard limit: any find or relation load
// observing more rows than this fails with LimitExceededError instead
// of truncating. Zero disables the global default.
func WithMaxRows(n int) Option {
	return func(c *Client) { c.maxRows = n }
}

// WithRequireTransaction rejects every write issued outside an active
// transaction scope with a TransactionStateError.
func WithRequireTransaction() Option {
	return func(c *Client) { c.requireTx = true }
}

// WithMiddleware appends middlewares to the pipeline. The first
// registered middleware wraps outermost.
func WithMiddleware(mws ...Middleware) Option {
	return func(c *Client) { c.pipeline.mws = append(c.pipeline.mws, mws...) }
}

// WithQueryHook registers a callback invoked after each statement
// execution, as an Execute/Rows middleware.
func WithQueryHook(hook QueryHook) Option {
	return func(c *Client) { c.pipeline.mws = append(c.pipeline.mws, queryHookMiddleware(hook)) }
}

// WithSensitiveFields overrides the column-name patterns masked in
// query logs.
func WithSensitiveFields(fields []string) Option {
	return func(c *Client) { c.sanitizer = logger.NewSanitizer(fields) }
}

// NewClient creates a client over an injected executor. The registry
// must already be linked.
func NewClient(dialectName string, exec Executor, registry *schema.Registry, opts ...Option) (*Client, error) {
	d, ok := dialects.GetDialect(dialectName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDialect, dialectName)
	}
	if !registry.Linked() {
		return nil, fmt.Errorf("recora: registry must be linked before use")
	}
	c := &Client{
		exec:      exec,
		dialect:   d,
		registry:  registry,
		logger:    &logger.NoopLogger{},
		sanitizer: logger.NewSanitizer(nil),
		tracer:    &tracer.NoopTracer{},
		pipeline:  &pipeline{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Open creates a client over a database/sql pool, selecting the
// dialect by driver name.
func Open(driverName, dsn string, registry *schema.Registry, opts ...Option) (*Client, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	return NewClient(driverName, NewSQLExecutor(db), registry, opts...)
}

// Close releases executor resources when the executor owns any.
func (c *Client) Close() error {
	if closer, ok := c.exec.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Dialect returns the canonical dialect tag.
func (c *Client) Dialect() string { return c.dialect.Name() }

// Executor exposes the underlying executor for raw access.
func (c *Client) Executor() Executor { return c.exec }

// Order is one ORDER BY entry by column name.
type Order struct {
	Column string
	Desc   bool
}

// Query carries the options of a find/count/update/delete call.
// Where pairs are ANDed; each OrWhere map forms one OR group, itself
// ANDed with the rest. Values may be bare Go values or Conditions.
type Query struct {
	Where   map[string]any
	OrWhere []map[string]any
	Order   []Order
	Limit   int
	Offset  int
	// MaxRows overrides the client's hard limit for this call:
	// 0 inherits the global default, negative disables the check.
	MaxRows int
}

func (c *Client) table(name string) (*schema.Table, *compiler, error) {
	t, err := c.registry.Table(name)
	if err != nil {
		return nil, nil, err
	}
	return t, newCompiler(c.dialect, t), nil
}

func (c *Client) orderTerms(t *schema.Table, order []Order) ([]schema.OrderTerm, error) {
	terms := make([]schema.OrderTerm, len(order))
	for i, o := range order {
		col, ok := t.Column(o.Column)
		if !ok {
			return nil, &CompileError{Op: "order", Reason: fmt.Sprintf("unknown column %q on table %q", o.Column, t.Name())}
		}
		terms[i] = schema.OrderTerm{Column: col, Desc: o.Desc}
	}
	return terms, nil
}

// effectiveMaxRows resolves the hard limit for one call: a negative
// override disables the check, a positive one replaces the global
// default.
func (c *Client) effectiveMaxRows(override int) int {
	if override < 0 {
		return 0
	}
	if override > 0 {
		return override
	}
	return c.maxRows
}

// writeGuard enforces the require-transaction flag.
func (c *Client) writeGuard(verb string) error {
	if c.requireTx && c.tx == nil {
		return &TransactionStateError{Reason: verb + " requires an active transaction"}
	}
	return nil
}

// runVerb routes a high-level verb through the verb middlewares.
func (c *Client) runVerb(ctx context.Context, info VerbInfo, body func(context.Context) (any, error)) (any, error) {
	terminal := func(ctx context.Context, _ VerbInfo) (any, error) {
		return body(ctx)
	}
	return c.pipeline.verb(terminal)(ctx, info)
}

// runRows executes a row-returning statement through the Rows
// middlewares and the traced, logged terminal.
func (c *Client) runRows(ctx context.Context, stmt *Statement) (Rows, error) {
	return c.pipeline.rows(c.rowsTerminal)(ctx, stmt)
}

// runExec executes a statement through the Execute middlewares and the
// traced, logged terminal.
func (c *Client) runExec(ctx context.Context, stmt *Statement) (Result, error) {
	return c.pipeline.execute(c.execTerminal)(ctx, stmt)
}

func (c *Client) rowsTerminal(ctx context.Context, stmt *Statement) (Rows, error) {
	ctx, span := c.tracer.StartSpan(ctx, "recora.query.rows")
	defer span.End()

	start := time.Now()
	rows, err := c.exec.Query(ctx, stmt.SQL, stmt.Params)
	elapsed := time.Since(start)

	c.logStatement(stmt, elapsed, int64(len(rows)), err)
	tracer.AddQueryAttributes(span, &tracer.QueryMetadata{
		SQL:       stmt.SQL,
		Duration:  elapsed,
		Rows:      int64(len(rows)),
		Error:     err,
		Dialect:   c.dialect.Name(),
		Operation: DetectOperation(stmt.SQL),
	})
	return rows, err
}

func (c *Client) execTerminal(ctx context.Context, stmt *Statement) (Result, error) {
	ctx, span := c.tracer.StartSpan(ctx, "recora.query.exec")
	defer span.End()

	start := time.Now()
	res, err := c.exec.Exec(ctx, stmt.SQL, stmt.Params)
	elapsed := time.Since(start)

	c.logStatement(stmt, elapsed, res.RowsAffected, err)
	tracer.AddQueryAttributes(span, &tracer.QueryMetadata{
		SQL:       stmt.SQL,
		Duration:  elapsed,
		Rows:      res.RowsAffected,
		Error:     err,
		Dialect:   c.dialect.Name(),
		Operation: DetectOperation(stmt.SQL),
	})
	return res, err
}

func (c *Client) logStatement(stmt *Statement, elapsed time.Duration, rows int64, err error) {
	masked := c.sanitizer.FormatParams(c.sanitizer.MaskParams(stmt.SQL, stmt.Params))
	if err != nil {
		c.logger.Error("statement failed",
			"sql", stmt.SQL,
			"params", masked,
			"duration_ms", elapsed.Milliseconds(),
			"dialect", c.dialect.Name(),
			"error", err,
		)
		return
	}
	c.logger.Info("statement executed",
		"sql", stmt.SQL,
		"params", masked,
		"duration_ms", elapsed.Milliseconds(),
		"rows", rows,
		"dialect", c.dialect.Name(),
	)
}

// Find compiles and runs a SELECT, returning records that share one
// relation context. When a hard limit applies, the compiler requests
// one extra row and Find fails with LimitExceededError if it appears.
func (c *Client) Find(ctx context.Context, table string, q Query) ([]*Record, error) {
	out, err := c.runVerb(ctx, VerbInfo{Verb: "find", Table: table}, func(ctx context.Context) (any, error) {
		return c.doFind(ctx, table, q)
	})
	if err != nil {
		return nil, err
	}
	return out.([]*Record), nil
}

func (c *Client) doFind(ctx context.Context, table string, q Query) ([]*Record, error) {
	t, comp, err := c.table(table)
	if err != nil {
		return nil, err
	}
	p, err := comp.normalizePred(q.Where, q.OrWhere)
	if err != nil {
		return nil, err
	}
	order, err := c.orderTerms(t, q.Order)
	if err != nil {
		return nil, err
	}

	max := c.effectiveMaxRows(q.MaxRows)
	fetchLimit := q.Limit
	guarded := max > 0 && (q.Limit == 0 || q.Limit > max)
	if guarded {
		fetchLimit = max + 1
	}

	stmt, err := comp.find(p, order, fetchLimit, q.Offset)
	if err != nil {
		return nil, err
	}
	rows, err := c.runRows(ctx, stmt)
	if err != nil {
		return nil, err
	}
	if guarded && len(rows) > max {
		return nil, &LimitExceededError{Limit: max, Actual: len(rows), Context: "find", Model: table}
	}

	records := make([]*Record, len(rows))
	for i, row := range rows {
		records[i] = newRecord(t, row)
	}
	c.attachContext(records)
	return records, nil
}

// FindOne returns the first matching record, or ErrNoRows.
func (c *Client) FindOne(ctx context.Context, table string, q Query) (*Record, error) {
	q.Limit = 1
	q.MaxRows = -1
	records, err := c.Find(ctx, table, q)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNoRows
	}
	return records[0], nil
}

// FindByID looks up one record by its primary-key values, given in
// key declaration order.
func (c *Client) FindByID(ctx context.Context, table string, key ...any) (*Record, error) {
	t, err := c.registry.Table(table)
	if err != nil {
		return nil, err
	}
	pk := t.PrimaryKey()
	if len(pk) == 0 {
		return nil, &CompileError{Op: "findById", Reason: fmt.Sprintf("table %q has no key columns", table)}
	}
	if len(key) != len(pk) {
		return nil, &CompileError{Op: "findById", Reason: fmt.Sprintf("key arity mismatch: got %d values for %d key columns", len(key), len(pk))}
	}
	where := make(map[string]any, len(pk))
	for i, col := range pk {
		where[col.Name()] = key[i]
	}
	return c.FindOne(ctx, table, Query{Where: where})
}

// FindByKeys re-selects the rows named by a PkeyResult, in the key
// result's row order.
func (c *Client) FindByKeys(ctx context.Context, table string, keys *PkeyResult) ([]*Record, error) {
	if keys.Len() == 0 {
		return nil, nil
	}
	out, err := c.runVerb(ctx, VerbInfo{Verb: "findByKeys", Table: table}, func(ctx context.Context) (any, error) {
		return c.doFindByKeys(ctx, table, keys)
	})
	if err != nil {
		return nil, err
	}
	return out.([]*Record), nil
}

func (c *Client) doFindByKeys(ctx context.Context, table string, keys *PkeyResult) ([]*Record, error) {
	t, comp, err := c.table(table)
	if err != nil {
		return nil, err
	}
	cols := make([]string, len(keys.Columns))
	tags := make([]string, len(keys.Columns))
	keyCols := make([]*schema.ColumnRef, len(keys.Columns))
	for i, name := range keys.Columns {
		col, ok := t.Column(name)
		if !ok {
			return nil, &CompileError{Op: "findByKeys", Reason: fmt.Sprintf("unknown column %q on table %q", name, table)}
		}
		cols[i] = c.dialect.QuoteIdentifier(col.Name())
		tags[i] = col.CastTag()
		keyCols[i] = col
	}

	membership, params := c.dialect.Membership(cols, tags, keys.Rows, 1)
	stmt := &Statement{
		SQL:    "SELECT " + comp.columnList() + " FROM " + c.dialect.QuoteIdentifier(table) + " WHERE " + membership,
		Params: params,
	}
	rows, err := c.runRows(ctx, stmt)
	if err != nil {
		return nil, err
	}

	// Reorder to match the key result's row order.
	byKey := make(map[string]*Record, len(rows))
	records := make([]*Record, 0, len(rows))
	for _, row := range rows {
		rec := newRecord(t, row)
		tuple := make([]any, len(keyCols))
		for i, col := range keyCols {
			tuple[i] = row[col.Name()]
		}
		byKey[fingerprint(tuple)] = rec
	}
	for _, tuple := range keys.Rows {
		if rec, ok := byKey[fingerprint(tuple)]; ok {
			records = append(records, rec)
		}
	}
	c.attachContext(records)
	return records, nil
}

// Count compiles and runs a SELECT COUNT(*).
func (c *Client) Count(ctx context.Context, table string, q Query) (int64, error) {
	out, err := c.runVerb(ctx, VerbInfo{Verb: "count", Table: table}, func(ctx context.Context) (any, error) {
		_, comp, err := c.table(table)
		if err != nil {
			return nil, err
		}
		p, err := comp.normalizePred(q.Where, q.OrWhere)
		if err != nil {
			return nil, err
		}
		stmt, err := comp.count(p)
		if err != nil {
			return nil, err
		}
		rows, err := c.runRows(ctx, stmt)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return int64(0), nil
		}
		return toInt64(rows[0]["cnt"]), nil
	})
	if err != nil {
		return 0, err
	}
	return out.(int64), nil
}

// Create inserts one row and returns its primary-key values. Columns
// assigned Skip (or absent from the map) keep their database defaults.
func (c *Client) Create(ctx context.Context, table string, values map[string]any) (*PkeyResult, error) {
	return c.createMany(ctx, "create", table, []map[string]any{values})
}

// CreateMany inserts rows grouped by skip-pattern, one statement per
// group, and returns primary-key values in the caller's row order.
func (c *Client) CreateMany(ctx context.Context, table string, rows []map[string]any) (*PkeyResult, error) {
	return c.createMany(ctx, "createMany", table, rows)
}

func (c *Client) createMany(ctx context.Context, verb, table string, rows []map[string]any) (*PkeyResult, error) {
	if err := c.writeGuard(verb); err != nil {
		return nil, err
	}
	out, err := c.runVerb(ctx, VerbInfo{Verb: verb, Table: table}, func(ctx context.Context) (any, error) {
		return c.doCreateMany(ctx, table, rows)
	})
	if err != nil {
		return nil, err
	}
	pk, _ := out.(*PkeyResult)
	return pk, nil
}

func (c *Client) doCreateMany(ctx context.Context, table string, rows []map[string]any) (*PkeyResult, error) {
	t, comp, err := c.table(table)
	if err != nil {
		return nil, err
	}
	pk := t.PrimaryKey()
	wantKeys := len(pk) > 0

	groups, err := comp.insert(rows, wantKeys)
	if err != nil {
		return nil, err
	}

	if !wantKeys {
		for _, g := range groups {
			if _, err := c.runExec(ctx, g.stmt); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	keyNames := make([]string, len(pk))
	for i, col := range pk {
		keyNames[i] = col.Name()
	}
	result := &PkeyResult{Columns: keyNames, Rows: make([][]any, len(rows))}

	for _, g := range groups {
		if c.dialect.SupportsReturning() {
			returned, err := c.runRows(ctx, g.stmt)
			if err != nil {
				return nil, err
			}
			for i, row := range returned {
				if i >= len(g.indexes) {
					break
				}
				tuple := make([]any, len(pk))
				for j, col := range pk {
					tuple[j] = row[col.Name()]
				}
				result.Rows[g.indexes[i]] = tuple
			}
			continue
		}

		res, err := c.runExec(ctx, g.stmt)
		if err != nil {
			return nil, err
		}
		// Without RETURNING, key recovery works only for a single
		// auto-increment key: the driver reports the first generated
		// id and rows receive consecutive ids in statement order.
		if len(pk) == 1 && res.LastInsertID > 0 {
			for i, idx := range g.indexes {
				result.Rows[idx] = []any{res.LastInsertID + int64(i)}
			}
		}
	}

	for _, tuple := range result.Rows {
		if tuple == nil {
			return nil, nil
		}
	}
	return result, nil
}

// Update compiles and runs a single-row UPDATE; Skip columns are
// dropped from SET.
func (c *Client) Update(ctx context.Context, table string, values map[string]any, q Query) (int64, error) {
	if err := c.writeGuard("update"); err != nil {
		return 0, err
	}
	out, err := c.runVerb(ctx, VerbInfo{Verb: "update", Table: table}, func(ctx context.Context) (any, error) {
		_, comp, err := c.table(table)
		if err != nil {
			return nil, err
		}
		p, err := comp.normalizePred(q.Where, q.OrWhere)
		if err != nil {
			return nil, err
		}
		stmt, err := comp.update(values, p)
		if err != nil {
			return nil, err
		}
		res, err := c.runExec(ctx, stmt)
		if err != nil {
			return nil, err
		}
		return res.RowsAffected, nil
	})
	if err != nil {
		return 0, err
	}
	return out.(int64), nil
}

// UpdateMany applies a different value per key per row in one grouped
// statement. Cells marked Skip keep their stored values.
func (c *Client) UpdateMany(ctx context.Context, table string, rows []RowUpdate) (int64, error) {
	if err := c.writeGuard("updateMany"); err != nil {
		return 0, err
	}
	out, err := c.runVerb(ctx, VerbInfo{Verb: "updateMany", Table: table}, func(ctx context.Context) (any, error) {
		_, comp, err := c.table(table)
		if err != nil {
			return nil, err
		}
		stmt, err := comp.updateMany(rows)
		if err != nil {
			return nil, err
		}
		res, err := c.runExec(ctx, stmt)
		if err != nil {
			return nil, err
		}
		return res.RowsAffected, nil
	})
	if err != nil {
		return 0, err
	}
	return out.(int64), nil
}

// Delete removes matching rows and reports how many went away.
func (c *Client) Delete(ctx context.Context, table string, q Query) (int64, error) {
	if err := c.writeGuard("delete"); err != nil {
		return 0, err
	}
	out, err := c.runVerb(ctx, VerbInfo{Verb: "delete", Table: table}, func(ctx context.Context) (any, error) {
		_, comp, err := c.table(table)
		if err != nil {
			return nil, err
		}
		p, err := comp.normalizePred(q.Where, q.OrWhere)
		if err != nil {
			return nil, err
		}
		stmt, err := comp.delete(p, false)
		if err != nil {
			return nil, err
		}
		res, err := c.runExec(ctx, stmt)
		if err != nil {
			return nil, err
		}
		return res.RowsAffected, nil
	})
	if err != nil {
		return 0, err
	}
	return out.(int64), nil
}

// DeleteReturning removes matching rows and returns their primary-key
// values. Dialects without RETURNING select the keys first, then
// delete by the same predicate.
func (c *Client) DeleteReturning(ctx context.Context, table string, q Query) (*PkeyResult, error) {
	if err := c.writeGuard("delete"); err != nil {
		return nil, err
	}
	out, err := c.runVerb(ctx, VerbInfo{Verb: "delete", Table: table}, func(ctx context.Context) (any, error) {
		return c.doDeleteReturning(ctx, table, q)
	})
	if err != nil {
		return nil, err
	}
	return out.(*PkeyResult), nil
}

func (c *Client) doDeleteReturning(ctx context.Context, table string, q Query) (*PkeyResult, error) {
	t, comp, err := c.table(table)
	if err != nil {
		return nil, err
	}
	pk := t.PrimaryKey()
	p, err := comp.normalizePred(q.Where, q.OrWhere)
	if err != nil {
		return nil, err
	}
	stmt, err := comp.delete(p, true)
	if err != nil {
		return nil, err
	}

	keyNames := make([]string, len(pk))
	for i, col := range pk {
		keyNames[i] = col.Name()
	}
	result := &PkeyResult{Columns: keyNames}

	if c.dialect.SupportsReturning() {
		rows, err := c.runRows(ctx, stmt)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			tuple := make([]any, len(pk))
			for i, col := range pk {
				tuple[i] = row[col.Name()]
			}
			result.Rows = append(result.Rows, tuple)
		}
		return result, nil
	}

	// Pre-select the keys, then delete by the same predicate.
	records, err := c.doFind(ctx, table, Query{Where: q.Where, OrWhere: q.OrWhere, MaxRows: -1})
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		result.Rows = append(result.Rows, rec.PrimaryKey())
	}
	if _, err := c.runExec(ctx, stmt); err != nil {
		return nil, err
	}
	return result, nil
}

// Upsert inserts one row with conflict resolution on the given
// columns. A nil update list means conflict-ignore; a non-nil list
// updates those columns from the incoming row.
func (c *Client) Upsert(ctx context.Context, table string, values map[string]any, conflict, update []string) (int64, error) {
	if err := c.writeGuard("upsert"); err != nil {
		return 0, err
	}
	out, err := c.runVerb(ctx, VerbInfo{Verb: "upsert", Table: table}, func(ctx context.Context) (any, error) {
		_, comp, err := c.table(table)
		if err != nil {
			return nil, err
		}
		stmt, err := comp.upsert(values, conflict, update)
		if err != nil {
			return nil, err
		}
		res, err := c.runExec(ctx, stmt)
		if err != nil {
			return nil, err
		}
		return res.RowsAffected, nil
	})
	if err != nil {
		return 0, err
	}
	return out.(int64), nil
}

// Exec runs a raw statement. Raw statements route through the Execute
// middlewares only; verb hooks never see them.
func (c *Client) Exec(ctx context.Context, sqlText string, params ...any) (Result, error) {
	return c.runExec(ctx, &Statement{SQL: sqlText, Params: params})
}

// Query runs a raw row-returning statement through the Rows
// middlewares only.
func (c *Client) Query(ctx context.Context, sqlText string, params ...any) (Rows, error) {
	return c.runRows(ctx, &Statement{SQL: sqlText, Params: params})
}

// toInt64 normalizes driver-specific count representations.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case []byte:
		parsed, _ := strconv.ParseInt(string(n), 10, 64)
		return parsed
	case string:
		parsed, _ := strconv.ParseInt(n, 10, 64)
		return parsed
	default:
		return 0
	}
}
