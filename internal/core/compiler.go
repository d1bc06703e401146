// Copyright (c) 2025 COREGX. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/coregx/recora/internal/dialects"
	"github.com/coregx/recora/internal/schema"
)

// Statement is a compiled SQL statement: dialect-correct text plus its
// positional parameters, ready for an Executor.
type Statement struct {
	SQL    string
	Params []any
}

// compiler turns normalized condition trees and value lists into
// statements for one table. It is stateless apart from the dialect and
// table it was created for; every method is a pure transform.
type compiler struct {
	dialect dialects.Dialect
	table   *schema.Table
}

func newCompiler(d dialects.Dialect, t *schema.Table) *compiler {
	return &compiler{dialect: d, table: t}
}

// pred is a normalized condition tree: pairs are ANDed; each group is
// ORed internally and ANDed with its siblings.
type pred struct {
	pairs  []Pair
	groups [][]Pair
}

// column resolves a column name against the table.
func (c *compiler) column(name string) (*schema.ColumnRef, error) {
	col, ok := c.table.Column(name)
	if !ok {
		return nil, &CompileError{Op: "resolve", Reason: fmt.Sprintf("unknown column %q on table %q", name, c.table.Name())}
	}
	return col, nil
}

// normalizePairs turns a column->value map into sorted, normalized
// pairs. Keys are sorted for deterministic SQL generation (prevents
// statement cache misses).
func (c *compiler) normalizePairs(where map[string]any) ([]Pair, error) {
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]Pair, 0, len(keys))
	for _, key := range keys {
		col, err := c.column(key)
		if err != nil {
			return nil, err
		}
		cond, err := normalizeCondition(col, where[key])
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, Pair{Column: col, Cond: cond})
	}
	return pairs, nil
}

// normalizePred builds the full condition tree from an implicit
// conjunction plus explicit OR groups.
func (c *compiler) normalizePred(where map[string]any, orGroups []map[string]any) (*pred, error) {
	p := &pred{}
	pairs, err := c.normalizePairs(where)
	if err != nil {
		return nil, err
	}
	p.pairs = pairs
	for _, group := range orGroups {
		pairs, err := c.normalizePairs(group)
		if err != nil {
			return nil, err
		}
		if len(pairs) > 0 {
			p.groups = append(p.groups, pairs)
		}
	}
	return p, nil
}

// placeholder emits the next positional placeholder, with the value
// cast suffix when the column carries a cast tag.
func (c *compiler) placeholder(next *int, castTag string) string {
	ph := c.dialect.Placeholder(*next) + c.dialect.CastSuffix(castTag)
	*next++
	return ph
}

// pairSQL compiles one predicate pair. Skip pairs compile to nothing:
// they are filtered out before the statement is assembled.
func (c *compiler) pairSQL(pair Pair, params *[]any, next *int) (string, error) {
	col := c.dialect.QuoteIdentifier(pair.Column.Name())
	cond := pair.Cond

	switch cond.op {
	case opSkip:
		return "", nil

	case opEquals:
		if cond.value == nil {
			return col + " IS NULL", nil
		}
		ph := c.placeholder(next, cond.castTag)
		*params = append(*params, cond.value)
		return col + " = " + ph, nil

	case opIn:
		if len(cond.values) == 0 {
			return "", &CompileError{Op: "where", Reason: fmt.Sprintf("empty IN list for column %q", pair.Column.Name())}
		}
		placeholders := make([]string, len(cond.values))
		for i, v := range cond.values {
			placeholders[i] = c.placeholder(next, cond.castTag)
			*params = append(*params, v)
		}
		return col + " IN (" + strings.Join(placeholders, ", ") + ")", nil

	case opIsNull:
		return col + " IS NULL", nil

	case opIsNotNull:
		return col + " IS NOT NULL", nil

	case opRaw:
		return c.rawSQL(cond, params, next)

	default:
		return "", &CompileError{Op: "where", Reason: "unknown condition kind"}
	}
}

// rawSQL renumbers ? placeholders in a raw fragment to the dialect's
// positional style.
func (c *compiler) rawSQL(cond Condition, params *[]any, next *int) (string, error) {
	if strings.Count(cond.sql, "?") != len(cond.args) {
		return "", &CompileError{Op: "where", Reason: "raw fragment placeholder count does not match argument count"}
	}
	sql := cond.sql
	for range cond.args {
		sql = strings.Replace(sql, "?", c.dialect.Placeholder(*next), 1)
		*next++
	}
	*params = append(*params, cond.args...)
	return sql, nil
}

// whereSQL compiles the condition tree to a WHERE clause, or the empty
// string when every pair was filtered out.
func (c *compiler) whereSQL(p *pred, params *[]any, next *int) (string, error) {
	if p == nil {
		return "", nil
	}
	var parts []string
	for _, pair := range p.pairs {
		sql, err := c.pairSQL(pair, params, next)
		if err != nil {
			return "", err
		}
		if sql != "" {
			parts = append(parts, sql)
		}
	}
	for _, group := range p.groups {
		var ors []string
		for _, pair := range group {
			sql, err := c.pairSQL(pair, params, next)
			if err != nil {
				return "", err
			}
			if sql != "" {
				ors = append(ors, sql)
			}
		}
		if len(ors) == 1 {
			parts = append(parts, ors[0])
		} else if len(ors) > 1 {
			parts = append(parts, "("+strings.Join(ors, " OR ")+")")
		}
	}
	if len(parts) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(parts, " AND "), nil
}

// orderSQL compiles ORDER BY terms. Ties are broken by declaration
// order only; the primary key is never appended implicitly.
func (c *compiler) orderSQL(order []schema.OrderTerm) string {
	if len(order) == 0 {
		return ""
	}
	terms := make([]string, len(order))
	for i, o := range order {
		dir := " ASC"
		if o.Desc {
			dir = " DESC"
		}
		terms[i] = c.dialect.QuoteIdentifier(o.Column.Name()) + dir
	}
	return " ORDER BY " + strings.Join(terms, ", ")
}

// columnList returns the quoted select list for the table, in
// registration order.
func (c *compiler) columnList() string {
	cols := c.table.Columns()
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = c.dialect.QuoteIdentifier(col.Name())
	}
	return strings.Join(quoted, ", ")
}

// find compiles a SELECT. limit and offset are appended verbatim when
// positive; the hard-limit guard (LIMIT max+1) is applied by the
// caller before compilation.
func (c *compiler) find(p *pred, order []schema.OrderTerm, limit, offset int) (*Statement, error) {
	var params []any
	next := 1

	where, err := c.whereSQL(p, &params, &next)
	if err != nil {
		return nil, err
	}

	sql := "SELECT " + c.columnList() + " FROM " + c.dialect.QuoteIdentifier(c.table.Name()) + where + c.orderSQL(order)
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", limit)
	}
	if offset > 0 {
		sql += fmt.Sprintf(" OFFSET %d", offset)
	}
	return &Statement{SQL: sql, Params: params}, nil
}

// count compiles a SELECT COUNT(*).
func (c *compiler) count(p *pred) (*Statement, error) {
	var params []any
	next := 1

	where, err := c.whereSQL(p, &params, &next)
	if err != nil {
		return nil, err
	}
	sql := "SELECT COUNT(*) AS cnt FROM " + c.dialect.QuoteIdentifier(c.table.Name()) + where
	return &Statement{SQL: sql, Params: params}, nil
}

// insertGroup is one grouped multi-row INSERT plus the original caller
// indexes of its rows, in statement order.
type insertGroup struct {
	stmt    *Statement
	indexes []int
}

// normalizedRow is one insert row after write-value normalization,
// keyed by column position in the table.
type normalizedRow map[string]writeValue

func (c *compiler) normalizeRow(values map[string]any) (normalizedRow, error) {
	row := make(normalizedRow, len(values))
	for name, v := range values {
		col, err := c.column(name)
		if err != nil {
			return nil, err
		}
		wv, err := normalizeWriteValue(col, v)
		if err != nil {
			return nil, err
		}
		row[name] = wv
	}
	return row, nil
}

// includedColumns returns the table columns a row actually assigns:
// present in the map and not Skip. Order follows the table.
func (c *compiler) includedColumns(row normalizedRow) []*schema.ColumnRef {
	var cols []*schema.ColumnRef
	for _, col := range c.table.Columns() {
		if wv, ok := row[col.Name()]; ok && !wv.skip {
			cols = append(cols, col)
		}
	}
	return cols
}

// insert compiles create/createMany. Rows are grouped by skip-pattern
// (the set of assigned column positions), because a single multi-row
// INSERT has one fixed column list. Caller row order is preserved
// inside each group and recoverable through insertGroup.indexes.
func (c *compiler) insert(rows []map[string]any, returning bool) ([]insertGroup, error) {
	if len(rows) == 0 {
		return nil, &CompileError{Op: "insert", Reason: "no rows to insert"}
	}
	if returning && len(c.table.PrimaryKey()) == 0 {
		return nil, &CompileError{Op: "insert", Reason: fmt.Sprintf("table %q has no key columns to return", c.table.Name())}
	}

	type group struct {
		cols    []*schema.ColumnRef
		rows    []normalizedRow
		indexes []int
	}
	var order []string
	groups := make(map[string]*group)

	for i, values := range rows {
		row, err := c.normalizeRow(values)
		if err != nil {
			return nil, err
		}
		cols := c.includedColumns(row)
		names := make([]string, len(cols))
		for j, col := range cols {
			names[j] = col.Name()
		}
		sig := strings.Join(names, ",")
		g, ok := groups[sig]
		if !ok {
			g = &group{cols: cols}
			groups[sig] = g
			order = append(order, sig)
		}
		g.rows = append(g.rows, row)
		g.indexes = append(g.indexes, i)
	}

	out := make([]insertGroup, 0, len(order))
	for _, sig := range order {
		g := groups[sig]
		stmt, err := c.insertStatement(g.cols, g.rows, returning)
		if err != nil {
			return nil, err
		}
		out = append(out, insertGroup{stmt: stmt, indexes: g.indexes})
	}
	return out, nil
}

func (c *compiler) insertStatement(cols []*schema.ColumnRef, rows []normalizedRow, returning bool) (*Statement, error) {
	table := c.dialect.QuoteIdentifier(c.table.Name())
	var params []any
	next := 1

	var sql string
	if len(cols) == 0 {
		// Every column skipped: the row takes database defaults.
		if c.dialect.Name() == "mysql" {
			sql = "INSERT INTO " + table + " () VALUES ()"
		} else {
			sql = "INSERT INTO " + table + " DEFAULT VALUES"
		}
		if len(rows) > 1 {
			return nil, &CompileError{Op: "insert", Reason: "multiple all-default rows in one group"}
		}
	} else {
		quoted := make([]string, len(cols))
		for i, col := range cols {
			quoted[i] = c.dialect.QuoteIdentifier(col.Name())
		}
		valueClauses := make([]string, len(rows))
		for i, row := range rows {
			cells := make([]string, len(cols))
			for j, col := range cols {
				wv := row[col.Name()]
				if wv.sql != "" {
					fragment, err := c.rawSQL(Condition{op: opRaw, sql: wv.sql, args: wv.args}, &params, &next)
					if err != nil {
						return nil, err
					}
					cells[j] = fragment
					continue
				}
				cells[j] = c.placeholder(&next, wv.castTag)
				params = append(params, wv.value)
			}
			valueClauses[i] = "(" + strings.Join(cells, ", ") + ")"
		}
		sql = "INSERT INTO " + table + " (" + strings.Join(quoted, ", ") + ") VALUES " + strings.Join(valueClauses, ", ")
	}

	if returning && c.dialect.SupportsReturning() {
		sql += " RETURNING " + c.primaryKeyList()
	}
	return &Statement{SQL: sql, Params: params}, nil
}

func (c *compiler) primaryKeyList() string {
	pk := c.table.PrimaryKey()
	quoted := make([]string, len(pk))
	for i, col := range pk {
		quoted[i] = c.dialect.QuoteIdentifier(col.Name())
	}
	return strings.Join(quoted, ", ")
}

// update compiles a single-row UPDATE. Skip columns are dropped from
// SET; an assignment list that ends up empty is a compile error.
func (c *compiler) update(values map[string]any, p *pred) (*Statement, error) {
	row, err := c.normalizeRow(values)
	if err != nil {
		return nil, err
	}

	var params []any
	next := 1
	var sets []string
	for _, col := range c.table.Columns() {
		wv, ok := row[col.Name()]
		if !ok || wv.skip {
			continue
		}
		quoted := c.dialect.QuoteIdentifier(col.Name())
		if wv.sql != "" {
			fragment, err := c.rawSQL(Condition{op: opRaw, sql: wv.sql, args: wv.args}, &params, &next)
			if err != nil {
				return nil, err
			}
			sets = append(sets, quoted+" = "+fragment)
			continue
		}
		sets = append(sets, quoted+" = "+c.placeholder(&next, wv.castTag))
		params = append(params, wv.value)
	}
	if len(sets) == 0 {
		return nil, &CompileError{Op: "update", Reason: "no columns to update"}
	}

	where, err := c.whereSQL(p, &params, &next)
	if err != nil {
		return nil, err
	}
	sql := "UPDATE " + c.dialect.QuoteIdentifier(c.table.Name()) + " SET " + strings.Join(sets, ", ") + where
	return &Statement{SQL: sql, Params: params}, nil
}

// RowUpdate is one row of an updateMany batch: the primary-key values
// of the row (in key declaration order) and its column assignments.
type RowUpdate struct {
	Key []any
	Set map[string]any
}

// updateMany compiles a batch UPDATE applying a different value per key
// per row in one statement. Columns assigned in some rows but skipped
// in others compile to a conditional that falls back to the column's
// stored value for the skipped rows:
//
//	SET "name" = CASE "id" WHEN ? THEN ? ... ELSE "name" END
//
// Composite keys use the searched form:
//
//	SET "name" = CASE WHEN ("tenant_id" = ? AND "id" = ?) THEN ? ... ELSE "name" END
//
// A column skipped in every row is omitted from SET altogether. The
// WHERE clause uses the dialect's batch-membership strategy over the
// key tuples.
func (c *compiler) updateMany(rows []RowUpdate) (*Statement, error) {
	if len(rows) == 0 {
		return nil, &CompileError{Op: "updateMany", Reason: "no rows to update"}
	}
	pk := c.table.PrimaryKey()
	if len(pk) == 0 {
		return nil, &CompileError{Op: "updateMany", Reason: fmt.Sprintf("table %q has no key columns", c.table.Name())}
	}

	normalized := make([]normalizedRow, len(rows))
	tuples := make([][]any, len(rows))
	for i, row := range rows {
		if len(row.Key) != len(pk) {
			return nil, &CompileError{Op: "updateMany", Reason: fmt.Sprintf("key arity mismatch: got %d values for %d key columns", len(row.Key), len(pk))}
		}
		nr, err := c.normalizeRow(row.Set)
		if err != nil {
			return nil, err
		}
		normalized[i] = nr
		tuples[i] = row.Key
	}

	// Union of assigned columns, in table order. Skipped-everywhere
	// columns are omitted.
	var assigned []*schema.ColumnRef
	for _, col := range c.table.Columns() {
		for _, nr := range normalized {
			if wv, ok := nr[col.Name()]; ok && !wv.skip {
				assigned = append(assigned, col)
				break
			}
		}
	}
	if len(assigned) == 0 {
		return nil, &CompileError{Op: "updateMany", Reason: "no columns to update"}
	}

	var params []any
	next := 1
	singleKey := len(pk) == 1

	sets := make([]string, 0, len(assigned))
	for _, col := range assigned {
		quoted := c.dialect.QuoteIdentifier(col.Name())
		var b strings.Builder
		b.WriteString(quoted)
		if singleKey {
			b.WriteString(" = CASE " + c.dialect.QuoteIdentifier(pk[0].Name()))
		} else {
			b.WriteString(" = CASE")
		}
		for i, nr := range normalized {
			wv, ok := nr[col.Name()]
			if !ok || wv.skip {
				continue
			}
			if singleKey {
				b.WriteString(" WHEN " + c.placeholder(&next, pk[0].CastTag()))
				params = append(params, tuples[i][0])
			} else {
				terms := make([]string, len(pk))
				for j, keyCol := range pk {
					terms[j] = c.dialect.QuoteIdentifier(keyCol.Name()) + " = " + c.placeholder(&next, keyCol.CastTag())
					params = append(params, tuples[i][j])
				}
				b.WriteString(" WHEN (" + strings.Join(terms, " AND ") + ")")
			}
			if wv.sql != "" {
				fragment, err := c.rawSQL(Condition{op: opRaw, sql: wv.sql, args: wv.args}, &params, &next)
				if err != nil {
					return nil, err
				}
				b.WriteString(" THEN " + fragment)
			} else {
				b.WriteString(" THEN " + c.placeholder(&next, wv.castTag))
				params = append(params, wv.value)
			}
		}
		// Rows that skip this column keep their stored value.
		b.WriteString(" ELSE " + quoted + " END")
		sets = append(sets, b.String())
	}

	keyCols := make([]string, len(pk))
	keyTags := make([]string, len(pk))
	for i, col := range pk {
		keyCols[i] = c.dialect.QuoteIdentifier(col.Name())
		keyTags[i] = col.CastTag()
	}
	membership, memberParams := c.dialect.Membership(keyCols, keyTags, tuples, next)
	params = append(params, memberParams...)

	sql := "UPDATE " + c.dialect.QuoteIdentifier(c.table.Name()) +
		" SET " + strings.Join(sets, ", ") +
		" WHERE " + membership
	return &Statement{SQL: sql, Params: params}, nil
}

// delete compiles a DELETE. With returning, the statement yields the
// deleted primary keys as a PkeyResult on dialects with RETURNING.
func (c *compiler) delete(p *pred, returning bool) (*Statement, error) {
	if returning && len(c.table.PrimaryKey()) == 0 {
		return nil, &CompileError{Op: "delete", Reason: fmt.Sprintf("table %q has no key columns to return", c.table.Name())}
	}
	var params []any
	next := 1
	where, err := c.whereSQL(p, &params, &next)
	if err != nil {
		return nil, err
	}
	sql := "DELETE FROM " + c.dialect.QuoteIdentifier(c.table.Name()) + where
	if returning && c.dialect.SupportsReturning() {
		sql += " RETURNING " + c.primaryKeyList()
	}
	return &Statement{SQL: sql, Params: params}, nil
}

// upsert compiles an INSERT with an on-conflict clause. A nil update
// column list means conflict-ignore.
func (c *compiler) upsert(values map[string]any, conflict, update []string) (*Statement, error) {
	row, err := c.normalizeRow(values)
	if err != nil {
		return nil, err
	}
	cols := c.includedColumns(row)
	if len(cols) == 0 {
		return nil, &CompileError{Op: "upsert", Reason: "no columns to insert"}
	}
	for _, name := range conflict {
		if _, err := c.column(name); err != nil {
			return nil, err
		}
	}
	for _, name := range update {
		if _, err := c.column(name); err != nil {
			return nil, err
		}
	}

	stmt, err := c.insertStatement(cols, []normalizedRow{row}, false)
	if err != nil {
		return nil, err
	}
	stmt.SQL += c.dialect.UpsertSQL(c.table.Name(), conflict, update)
	return stmt, nil
}

// relationBatch compiles the single batched query resolving a relation
// for every collected source-key tuple. perParent > 0 bounds children
// per parent through the dialect's window-function strategy; dialects
// without window functions run the unbounded query and the loader
// truncates client-side.
func (c *compiler) relationBatch(rel *schema.RelationDef, tuples [][]any, perParent int) (*Statement, error) {
	if len(tuples) == 0 {
		return nil, &CompileError{Op: "relation", Reason: "empty key tuple set"}
	}
	target := rel.Target()
	tc := newCompiler(c.dialect, target)

	keys := rel.TargetKeys()
	keyCols := make([]string, len(keys))
	keyTags := make([]string, len(keys))
	for i, col := range keys {
		keyCols[i] = c.dialect.QuoteIdentifier(col.Name())
		keyTags[i] = col.CastTag()
		if len(tuples[0]) != len(keys) {
			return nil, &CompileError{Op: "relation", Reason: fmt.Sprintf("key arity mismatch: got %d values for %d key columns", len(tuples[0]), len(keys))}
		}
	}

	next := 1
	var params []any
	membership, memberParams := c.dialect.Membership(keyCols, keyTags, tuples, next)
	next += len(memberParams)
	params = append(params, memberParams...)

	where := " WHERE " + membership
	if len(rel.Where()) > 0 {
		staticPairs, err := tc.normalizePairs(rel.Where())
		if err != nil {
			return nil, err
		}
		for _, pair := range staticPairs {
			sql, err := tc.pairSQL(pair, &params, &next)
			if err != nil {
				return nil, err
			}
			if sql != "" {
				where += " AND " + sql
			}
		}
	}

	cols := tc.columnList()
	from := c.dialect.QuoteIdentifier(target.Name())

	if perParent > 0 && c.dialect.SupportsWindowFunctions() {
		partition := strings.Join(keyCols, ", ")
		orderBy := tc.windowOrder(rel)
		inner := "SELECT " + cols + ", ROW_NUMBER() OVER (PARTITION BY " + partition +
			" ORDER BY " + orderBy + ") AS rn FROM " + from + where
		// The outer ORDER BY pins per-group ordering to the window's.
		sql := "SELECT " + cols + " FROM (" + inner + ") AS sub WHERE rn <= " + fmt.Sprintf("%d", perParent) + " ORDER BY rn"
		return &Statement{SQL: sql, Params: params}, nil
	}

	sql := "SELECT " + cols + " FROM " + from + where + tc.orderSQL(rel.Order())
	return &Statement{SQL: sql, Params: params}, nil
}

// windowOrder returns the intra-partition ordering for the per-parent
// limit window: the relation's declared order, or the first target key
// when none is declared.
func (c *compiler) windowOrder(rel *schema.RelationDef) string {
	if len(rel.Order()) > 0 {
		return strings.TrimPrefix(c.orderSQL(rel.Order()), " ORDER BY ")
	}
	return c.dialect.QuoteIdentifier(rel.TargetKeys()[0].Name())
}
