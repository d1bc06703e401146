package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineExecuteOrdering(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return Middleware{
			Execute: func(next ExecuteFunc) ExecuteFunc {
				return func(ctx context.Context, stmt *Statement) (Result, error) {
					order = append(order, name+":before")
					res, err := next(ctx, stmt)
					order = append(order, name+":after")
					return res, err
				}
			},
		}
	}
	p := &pipeline{mws: []Middleware{mw("first"), mw("second")}}

	terminal := func(_ context.Context, _ *Statement) (Result, error) {
		order = append(order, "terminal")
		return Result{RowsAffected: 1}, nil
	}
	res, err := p.execute(terminal)(context.Background(), &Statement{SQL: "DELETE FROM x"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)
	assert.Equal(t, []string{"first:before", "second:before", "terminal", "second:after", "first:after"}, order)
}

func TestPipelineNilHooksAreSkipped(t *testing.T) {
	called := false
	p := &pipeline{mws: []Middleware{{
		Verb: func(next VerbFunc) VerbFunc {
			return func(ctx context.Context, info VerbInfo) (any, error) {
				called = true
				return next(ctx, info)
			}
		},
	}}}

	// The middleware has no Execute hook; the statement path must pass
	// straight through to the terminal.
	res, err := p.execute(func(_ context.Context, _ *Statement) (Result, error) {
		return Result{RowsAffected: 2}, nil
	})(context.Background(), &Statement{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.RowsAffected)
	assert.False(t, called)

	_, err = p.verb(func(_ context.Context, _ VerbInfo) (any, error) {
		return nil, nil
	})(context.Background(), VerbInfo{Verb: "find", Table: "users"})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestPipelineErrorPropagation(t *testing.T) {
	boom := errors.New("boom")
	p := &pipeline{mws: []Middleware{{
		Rows: func(next RowsFunc) RowsFunc {
			return func(ctx context.Context, stmt *Statement) (Rows, error) {
				rows, err := next(ctx, stmt)
				return rows, err
			}
		},
	}}}

	_, err := p.rows(func(_ context.Context, _ *Statement) (Rows, error) {
		return nil, boom
	})(context.Background(), &Statement{})
	assert.ErrorIs(t, err, boom)
}

func TestQueryHookObservesBothPaths(t *testing.T) {
	var events []QueryEvent
	hook := func(_ context.Context, e QueryEvent) { events = append(events, e) }
	p := &pipeline{mws: []Middleware{queryHookMiddleware(hook)}}

	_, err := p.rows(func(_ context.Context, _ *Statement) (Rows, error) {
		return Rows{{"id": 1}, {"id": 2}}, nil
	})(context.Background(), &Statement{SQL: "SELECT 1", Params: []any{7}})
	require.NoError(t, err)

	_, err = p.execute(func(_ context.Context, _ *Statement) (Result, error) {
		return Result{RowsAffected: 3}, nil
	})(context.Background(), &Statement{SQL: "UPDATE x SET y = 1"})
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, "SELECT", events[0].Operation)
	assert.Equal(t, 2, events[0].RowCount)
	assert.Equal(t, []any{7}, events[0].Args)
	assert.Equal(t, "UPDATE", events[1].Operation)
	assert.Equal(t, int64(3), events[1].RowsAffected)
}

func TestQueryHookSeesErrors(t *testing.T) {
	boom := errors.New("syntax error")
	var got error
	p := &pipeline{mws: []Middleware{queryHookMiddleware(func(_ context.Context, e QueryEvent) {
		got = e.Error
	})}}

	_, err := p.execute(func(_ context.Context, _ *Statement) (Result, error) {
		return Result{}, boom
	})(context.Background(), &Statement{SQL: "UPDATE"})
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, got, boom)
}

func TestDetectOperation(t *testing.T) {
	tests := map[string]string{
		"SELECT * FROM x":                 "SELECT",
		"  select 1":                      "SELECT",
		"WITH cte AS (SELECT 1) SELECT 1": "SELECT",
		"INSERT INTO x VALUES (1)":        "INSERT",
		"UPDATE x SET y = 1":              "UPDATE",
		"DELETE FROM x":                   "DELETE",
		"SAVEPOINT recora_sp_1":           "UNKNOWN",
	}
	for sql, want := range tests {
		assert.Equal(t, want, DetectOperation(sql), sql)
	}
}
