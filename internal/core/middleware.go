package core

import (
	"context"
	"strings"
	"time"
)

// ExecuteFunc runs one compiled non-row-returning statement.
type ExecuteFunc func(ctx context.Context, stmt *Statement) (Result, error)

// RowsFunc runs one compiled row-returning statement.
type RowsFunc func(ctx context.Context, stmt *Statement) (Rows, error)

// VerbInfo names the high-level operation a verb hook is observing.
type VerbInfo struct {
	Verb  string
	Table string
}

// VerbFunc runs one high-level verb invocation.
type VerbFunc func(ctx context.Context, info VerbInfo) (any, error)

// Middleware wraps statement execution, row-returning queries, and
// high-level verbs. Any of the three hooks may be nil. A hook either
// forwards to next or replaces the call; errors must be propagated,
// not swallowed.
//
// Batched relation loads and raw statement execution route through the
// Execute/Rows hooks only: they are not issued through the verb API,
// so verb hooks never see them.
type Middleware struct {
	Execute func(next ExecuteFunc) ExecuteFunc
	Rows    func(next RowsFunc) RowsFunc
	Verb    func(next VerbFunc) VerbFunc
}

// pipeline composes middlewares. Registration order is outer-to-inner:
// the first registered middleware wraps outermost.
type pipeline struct {
	mws []Middleware
}

func (p *pipeline) execute(terminal ExecuteFunc) ExecuteFunc {
	fn := terminal
	for i := len(p.mws) - 1; i >= 0; i-- {
		if wrap := p.mws[i].Execute; wrap != nil {
			fn = wrap(fn)
		}
	}
	return fn
}

func (p *pipeline) rows(terminal RowsFunc) RowsFunc {
	fn := terminal
	for i := len(p.mws) - 1; i >= 0; i-- {
		if wrap := p.mws[i].Rows; wrap != nil {
			fn = wrap(fn)
		}
	}
	return fn
}

func (p *pipeline) verb(terminal VerbFunc) VerbFunc {
	fn := terminal
	for i := len(p.mws) - 1; i >= 0; i-- {
		if wrap := p.mws[i].Verb; wrap != nil {
			fn = wrap(fn)
		}
	}
	return fn
}

// QueryEvent contains information about an executed statement. It is
// passed to QueryHook callbacks for logging, metrics, or tracing.
type QueryEvent struct {
	SQL          string
	Args         []any
	Duration     time.Duration
	RowsAffected int64
	RowCount     int
	Error        error
	Operation    string
}

// QueryHook is a callback invoked after each statement execution.
type QueryHook func(ctx context.Context, event QueryEvent)

// queryHookMiddleware adapts a QueryHook to the pipeline. It observes
// both execution paths and never alters arguments or results.
func queryHookMiddleware(hook QueryHook) Middleware {
	return Middleware{
		Execute: func(next ExecuteFunc) ExecuteFunc {
			return func(ctx context.Context, stmt *Statement) (Result, error) {
				start := time.Now()
				res, err := next(ctx, stmt)
				hook(ctx, QueryEvent{
					SQL:          stmt.SQL,
					Args:         stmt.Params,
					Duration:     time.Since(start),
					RowsAffected: res.RowsAffected,
					Error:        err,
					Operation:    DetectOperation(stmt.SQL),
				})
				return res, err
			}
		},
		Rows: func(next RowsFunc) RowsFunc {
			return func(ctx context.Context, stmt *Statement) (Rows, error) {
				start := time.Now()
				rows, err := next(ctx, stmt)
				hook(ctx, QueryEvent{
					SQL:       stmt.SQL,
					Args:      stmt.Params,
					Duration:  time.Since(start),
					RowCount:  len(rows),
					Error:     err,
					Operation: DetectOperation(stmt.SQL),
				})
				return rows, err
			}
		},
	}
}

// DetectOperation detects the SQL operation type from the statement
// text: SELECT, INSERT, UPDATE, DELETE, or UNKNOWN.
func DetectOperation(sql string) string {
	sql = strings.TrimSpace(strings.ToUpper(sql))
	switch {
	case strings.HasPrefix(sql, "SELECT"), strings.HasPrefix(sql, "WITH"):
		return "SELECT"
	case strings.HasPrefix(sql, "INSERT"):
		return "INSERT"
	case strings.HasPrefix(sql, "UPDATE"):
		return "UPDATE"
	case strings.HasPrefix(sql, "DELETE"):
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}
