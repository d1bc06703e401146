package core

import (
	"errors"
	"fmt"
)

// Predefined errors returned by recora operations.
var (
	// ErrNoRows is returned when a query that expects a row returns no results.
	ErrNoRows = errors.New("recora: no rows in result set")
	// ErrUnsupportedDialect is returned when an unsupported database dialect is specified.
	ErrUnsupportedDialect = errors.New("recora: unsupported database dialect")
	// ErrTxDone is returned when operating on a finished transaction scope.
	ErrTxDone = errors.New("recora: transaction has already been committed or rolled back")
)

// ConditionError reports a malformed predicate or value shape. It is
// raised during normalization, before any SQL is generated.
type ConditionError struct {
	Column string
	Reason string
}

func (e *ConditionError) Error() string {
	if e.Column == "" {
		return "recora: condition error: " + e.Reason
	}
	return fmt.Sprintf("recora: condition error on column %q: %s", e.Column, e.Reason)
}

// CompileError reports a statement that cannot be compiled: key-arity
// mismatches, missing key columns, or an empty required list. Compile
// errors surface synchronously and are never retried.
type CompileError struct {
	Op     string
	Reason string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("recora: cannot compile %s: %s", e.Op, e.Reason)
}

// LimitExceededError reports that a query or relation load returned
// more rows than its configured hard limit allows. It is always
// surfaced, never silently truncated, and never auto-retried.
type LimitExceededError struct {
	Limit  int
	Actual int
	// Context is "find" or "relation".
	Context  string
	Model    string
	Relation string
}

func (e *LimitExceededError) Error() string {
	if e.Relation != "" {
		return fmt.Sprintf("recora: relation %q on %q exceeded hard limit %d (got %d rows)",
			e.Relation, e.Model, e.Limit, e.Actual)
	}
	return fmt.Sprintf("recora: %s on %q exceeded hard limit %d (got %d rows)",
		e.Context, e.Model, e.Limit, e.Actual)
}

// TransactionStateError reports a write attempted outside a required
// transaction or a mismatched enter/leave nesting.
type TransactionStateError struct {
	Reason string
}

func (e *TransactionStateError) Error() string {
	return "recora: transaction state: " + e.Reason
}
