package core

import (
	"context"
	"database/sql"
	"sync"

	"github.com/coregx/recora/internal/cache"
)

// Rows is a row-returning statement result: one map per row, keyed by
// column name, values as the driver returned them.
type Rows []map[string]any

// Result is the outcome of a non-row-returning statement.
type Result struct {
	RowsAffected int64
	LastInsertID int64
}

// Executor runs compiled statements. The placeholder style is already
// dialect-correct when a statement reaches the executor. Connection
// pooling, timeouts, and the wire protocol are the executor's concern,
// not the compiler's.
type Executor interface {
	// Query runs a row-returning statement.
	Query(ctx context.Context, sqlText string, params []any) (Rows, error)
	// Exec runs a statement and reports the affected row count.
	Exec(ctx context.Context, sqlText string, params []any) (Result, error)
}

// Beginner is implemented by executors that can open a transaction
// scope. The returned executor runs every statement inside that scope.
type Beginner interface {
	Begin(ctx context.Context, opts *TxOptions) (TxExecutor, error)
}

// TxExecutor is an Executor bound to one open transaction.
type TxExecutor interface {
	Executor
	Commit() error
	Rollback() error
}

// TxOptions represents transaction options including isolation level.
type TxOptions struct {
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

// SQLExecutor adapts a database/sql pool to the Executor interface,
// with LRU prepared-statement caching for non-transactional statements.
type SQLExecutor struct {
	db        *sql.DB
	stmtCache *cache.StmtCache
}

// NewSQLExecutor wraps an open database/sql pool.
func NewSQLExecutor(db *sql.DB) *SQLExecutor {
	return &SQLExecutor{db: db, stmtCache: cache.NewStmtCache()}
}

// SetStmtCacheCapacity replaces the statement cache with one of the
// given capacity. Intended for configuration at construction time.
func (e *SQLExecutor) SetStmtCacheCapacity(capacity int) {
	e.stmtCache.Clear()
	e.stmtCache = cache.NewStmtCacheWithCapacity(capacity)
}

// Close releases cached statements and the underlying pool.
func (e *SQLExecutor) Close() error {
	e.stmtCache.Clear()
	return e.db.Close()
}

// DB exposes the underlying pool for schema setup and raw access.
func (e *SQLExecutor) DB() *sql.DB { return e.db }

func (e *SQLExecutor) prepare(ctx context.Context, sqlText string) (*sql.Stmt, error) {
	if stmt, ok := e.stmtCache.Get(sqlText); ok {
		return stmt, nil
	}
	stmt, err := e.db.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	e.stmtCache.Set(sqlText, stmt)
	return stmt, nil
}

// Query runs a row-returning statement through the statement cache.
func (e *SQLExecutor) Query(ctx context.Context, sqlText string, params []any) (Rows, error) {
	stmt, err := e.prepare(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, params...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRows(rows)
}

// Exec runs a statement through the statement cache.
func (e *SQLExecutor) Exec(ctx context.Context, sqlText string, params []any) (Result, error) {
	stmt, err := e.prepare(ctx, sqlText)
	if err != nil {
		return Result{}, err
	}
	res, err := stmt.ExecContext(ctx, params...)
	if err != nil {
		return Result{}, err
	}
	return sqlResult(res), nil
}

// Begin opens a transaction scope. Transactional statements bypass the
// statement cache: cached statements belong to the pool, not to the
// transaction's connection.
func (e *SQLExecutor) Begin(ctx context.Context, opts *TxOptions) (TxExecutor, error) {
	var sqlOpts *sql.TxOptions
	if opts != nil {
		sqlOpts = &sql.TxOptions{Isolation: opts.Isolation, ReadOnly: opts.ReadOnly}
	}
	tx, err := e.db.BeginTx(ctx, sqlOpts)
	if err != nil {
		return nil, err
	}
	return &sqlTxExecutor{tx: tx}, nil
}

// sqlTxExecutor runs statements on one open transaction. A mutex
// serializes statements: no two statements of the same transaction
// scope may be in flight concurrently.
type sqlTxExecutor struct {
	mu sync.Mutex
	tx *sql.Tx
}

func (e *sqlTxExecutor) Query(ctx context.Context, sqlText string, params []any) (Rows, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rows, err := e.tx.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRows(rows)
}

func (e *sqlTxExecutor) Exec(ctx context.Context, sqlText string, params []any) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	res, err := e.tx.ExecContext(ctx, sqlText, params...)
	if err != nil {
		return Result{}, err
	}
	return sqlResult(res), nil
}

func (e *sqlTxExecutor) Commit() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tx.Commit()
}

func (e *sqlTxExecutor) Rollback() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tx.Rollback()
}

func sqlResult(res sql.Result) Result {
	out := Result{}
	if res == nil {
		return out
	}
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
	}
	if id, err := res.LastInsertId(); err == nil {
		out.LastInsertID = id
	}
	return out
}

// scanRows drains a database/sql result set into generic row maps.
func scanRows(rows *sql.Rows) (Rows, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out Rows
	for rows.Next() {
		cells := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, name := range cols {
			row[name] = cells[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
