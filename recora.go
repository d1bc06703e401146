// Package recora provides a record-mapping runtime for Go with support
// for PostgreSQL, MySQL, and SQLite. Tables and relations are declared
// explicitly against a registry; queries compile from condition trees
// to dialect-correct SQL; relation access batches automatically so a
// loop over a result set issues one query per relation, not one per
// row. Prepared statement caching, structured query logging, and
// OpenTelemetry tracing come out of the box.
package recora

import (
	"github.com/coregx/recora/internal/core"
	"github.com/coregx/recora/internal/logger"
	"github.com/coregx/recora/internal/schema"
	"github.com/coregx/recora/internal/tracer"
)

type (
	// Client is the verb-level entry point to a database.
	Client = core.Client
	// Option is a functional option for configuring a Client.
	Option = core.Option
	// Query carries the options of a find/count/update/delete call.
	Query = core.Query
	// Order is one ORDER BY entry by column name.
	Order = core.Order
	// Record is one row of a registered table, produced by a query.
	Record = core.Record
	// RelationContext batches and caches relation loads for one result set.
	RelationContext = core.RelationContext
	// PkeyResult carries the key columns and values of written rows.
	PkeyResult = core.PkeyResult
	// RowUpdate is one row of an UpdateMany batch.
	RowUpdate = core.RowUpdate
	// Condition is a tagged predicate or assignment value.
	Condition = core.Condition

	// Statement is a compiled SQL statement with positional parameters.
	Statement = core.Statement
	// Rows is a row-returning statement result.
	Rows = core.Rows
	// Result is the outcome of a non-row-returning statement.
	Result = core.Result
	// Executor runs compiled statements.
	Executor = core.Executor
	// Beginner is implemented by executors that can open transactions.
	Beginner = core.Beginner
	// TxExecutor is an Executor bound to one open transaction.
	TxExecutor = core.TxExecutor
	// SQLExecutor adapts a database/sql pool to the Executor interface.
	SQLExecutor = core.SQLExecutor
	// Tx is one transaction scope; nested scopes are savepoints.
	Tx = core.Tx
	// TxOptions represents transaction options including isolation level.
	TxOptions = core.TxOptions

	// Middleware wraps statement execution and high-level verbs.
	Middleware = core.Middleware
	// ExecuteFunc runs one compiled non-row-returning statement.
	ExecuteFunc = core.ExecuteFunc
	// RowsFunc runs one compiled row-returning statement.
	RowsFunc = core.RowsFunc
	// VerbFunc runs one high-level verb invocation.
	VerbFunc = core.VerbFunc
	// VerbInfo names the operation a verb hook is observing.
	VerbInfo = core.VerbInfo
	// QueryEvent describes one executed statement to a QueryHook.
	QueryEvent = core.QueryEvent
	// QueryHook is a callback invoked after each statement execution.
	QueryHook = core.QueryHook

	// ConditionError reports a malformed predicate or value shape.
	ConditionError = core.ConditionError
	// CompileError reports a statement that cannot be compiled.
	CompileError = core.CompileError
	// LimitExceededError reports a hard-limit violation.
	LimitExceededError = core.LimitExceededError
	// TransactionStateError reports misuse of transaction scoping.
	TransactionStateError = core.TransactionStateError

	// Registry maps table names to linked table descriptions.
	Registry = schema.Registry
	// TableSpec declares a table at registration time.
	TableSpec = schema.TableSpec
	// Column declares one table column.
	Column = schema.Column
	// RelationSpec declares a relation at registration time.
	RelationSpec = schema.RelationSpec
	// OrderSpec is one ORDER BY entry in a relation declaration.
	OrderSpec = schema.OrderSpec
	// Kind is the closed set of relation kinds.
	Kind = schema.Kind

	// Logger is the structured logging interface.
	Logger = logger.Logger
	// SlogAdapter implements Logger over log/slog.
	SlogAdapter = logger.SlogAdapter
	// Tracer opens spans around statement execution.
	Tracer = tracer.Tracer
	// OtelTracer implements Tracer over OpenTelemetry.
	OtelTracer = tracer.OtelTracer
)

// Relation kinds.
const (
	HasMany   = schema.HasMany
	HasOne    = schema.HasOne
	BelongsTo = schema.BelongsTo
)

// Hard-limit sentinels for RelationSpec.HardLimit.
const (
	HardLimitDefault = schema.HardLimitDefault
	HardLimitNone    = schema.HardLimitNone
)

// Predefined errors.
var (
	// ErrNoRows is returned when a query expecting a row finds none.
	ErrNoRows = core.ErrNoRows
	// ErrUnsupportedDialect is returned for unknown dialect names.
	ErrUnsupportedDialect = core.ErrUnsupportedDialect
	// ErrTxDone is returned when operating on a finished transaction.
	ErrTxDone = core.ErrTxDone
)

// Re-export constructors and condition builders.
var (
	Open           = core.Open
	NewClient      = core.NewClient
	NewSQLExecutor = core.NewSQLExecutor
	NewRegistry    = schema.NewRegistry

	// Client options
	WithLogger             = core.WithLogger
	WithTracer             = core.WithTracer
	WithMaxRows            = core.WithMaxRows
	WithRequireTransaction = core.WithRequireTransaction
	WithMiddleware         = core.WithMiddleware
	WithQueryHook          = core.WithQueryHook
	WithSensitiveFields    = core.WithSensitiveFields

	// Condition builders
	Equals    = core.Equals
	In        = core.In
	IsNull    = core.IsNull
	IsNotNull = core.IsNotNull
	Raw       = core.Raw
	Skip      = core.Skip
	Cast      = core.Cast

	// Observability adapters
	NewSlogAdapter = logger.NewSlogAdapter
	NewOtelTracer  = tracer.NewOtelTracer
)
