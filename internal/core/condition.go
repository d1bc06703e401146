// Copyright (c) 2025 COREGX. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package core

import (
	"database/sql/driver"
	"reflect"
	"time"

	"github.com/coregx/recora/internal/schema"
)

// condOp is the closed set of condition kinds.
type condOp int

const (
	opEquals condOp = iota
	opIn
	opIsNull
	opIsNotNull
	opRaw
	opSkip
)

// Condition is a tagged value carried alongside a column: an equality,
// a set membership, a null test, raw SQL, or the Skip sentinel.
//
// Skip is distinct from "value is null": it means "omit this predicate
// or column from the generated statement entirely". A column assigned
// Skip on create keeps its database default; on update it keeps its
// stored value.
type Condition struct {
	op      condOp
	value   any
	values  []any
	sql     string
	args    []any
	castTag string
}

// Equals matches rows where the column equals v. A nil v compiles to
// an IS NULL predicate in conditions and to an explicit NULL in writes.
func Equals(v any) Condition {
	return Condition{op: opEquals, value: v}
}

// In matches rows where the column is any of the given values.
// Compiling an empty In outside of a short-circuit is a CompileError.
func In(values ...any) Condition {
	return Condition{op: opIn, values: values}
}

// IsNull matches rows where the column is NULL.
func IsNull() Condition {
	return Condition{op: opIsNull}
}

// IsNotNull matches rows where the column is not NULL.
func IsNotNull() Condition {
	return Condition{op: opIsNotNull}
}

// Raw embeds a SQL fragment with ? placeholders for the given args.
// Placeholders are renumbered to the dialect's style at compile time.
func Raw(sql string, args ...any) Condition {
	return Condition{op: opRaw, sql: sql, args: args}
}

// Skip omits the column from the generated statement entirely.
func Skip() Condition {
	return Condition{op: opSkip}
}

// Cast is Equals with an explicit dialect cast tag, overriding the tag
// attached to the column at registration time.
func Cast(v any, tag string) Condition {
	return Condition{op: opEquals, value: v, castTag: tag}
}

// IsSkip reports whether the condition is the Skip sentinel.
func (c Condition) IsSkip() bool { return c.op == opSkip }

// Pair is one normalized (column, condition) predicate.
type Pair struct {
	Column *schema.ColumnRef
	Cond   Condition
}

// normalizeCondition turns a bare value or Condition into a Condition
// for use as a WHERE predicate. Bare slices become In, scalars become
// Equals, nil becomes IsNull. The column's cast tag is inherited unless
// the condition carries its own.
func normalizeCondition(col *schema.ColumnRef, v any) (Condition, error) {
	var cond Condition
	switch value := v.(type) {
	case Condition:
		cond = value
	case nil:
		cond = IsNull()
	default:
		c, err := normalizeBare(col, value)
		if err != nil {
			return Condition{}, err
		}
		cond = c
	}
	if cond.castTag == "" {
		cond.castTag = col.CastTag()
	}
	return cond, nil
}

// normalizeBare classifies a non-Condition value: slices and arrays
// (except []byte) become In, recognizable scalars become Equals, and
// anything without a recognizable shape is a ConditionError.
func normalizeBare(col *schema.ColumnRef, v any) (Condition, error) {
	switch v.(type) {
	case []byte, time.Time, driver.Valuer:
		return Equals(v), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		values := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			values[i] = rv.Index(i).Interface()
		}
		return In(values...), nil
	case reflect.Ptr:
		if rv.IsNil() {
			return IsNull(), nil
		}
		return normalizeBare(col, rv.Elem().Interface())
	case reflect.Map, reflect.Chan, reflect.Func:
		return Condition{}, &ConditionError{Column: col.Name(), Reason: "value has no recognizable condition shape"}
	case reflect.Struct:
		if _, ok := v.(driver.Valuer); !ok {
			return Condition{}, &ConditionError{Column: col.Name(), Reason: "struct value has no recognizable condition shape"}
		}
		return Equals(v), nil
	default:
		return Equals(v), nil
	}
}

// writeValue is a normalized assignment for one column of one row.
type writeValue struct {
	skip    bool
	sql     string // raw SQL expression when non-empty
	args    []any
	value   any
	castTag string
}

// normalizeWriteValue turns a bare value or Condition into an
// assignment. Unlike condition normalization, nil stays an explicit
// NULL here: Skip and null must never produce identical SQL.
func normalizeWriteValue(col *schema.ColumnRef, v any) (writeValue, error) {
	cond, ok := v.(Condition)
	if !ok {
		return writeValue{value: v, castTag: col.CastTag()}, nil
	}

	tag := cond.castTag
	if tag == "" {
		tag = col.CastTag()
	}
	switch cond.op {
	case opSkip:
		return writeValue{skip: true}, nil
	case opRaw:
		return writeValue{sql: cond.sql, args: cond.args}, nil
	case opEquals:
		return writeValue{value: cond.value, castTag: tag}, nil
	default:
		return writeValue{}, &ConditionError{Column: col.Name(), Reason: "condition is not assignable"}
	}
}
