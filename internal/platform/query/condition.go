// Package query is a generic paged-query helper shared by the feature stores.
// 条件ツリー + ページング + ソートホワイトリストを goqu に変換して実行する。
package query

import (
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
)

type condOp int

const (
	opNone condOp = iota
	opEq
	opContains
	opLt
	opGt
	opAnd
	opOr
)

// Condition is a backend-independent predicate tree. The zero value matches
// all rows. Field names are resolved against the Finder's field map, not
// against raw column names.
type Condition struct {
	op       condOp
	field    string
	value    any
	children []Condition
}

func (c Condition) IsZero() bool { return c.op == opNone }

func Eq(field string, v any) Condition {
	return Condition{op: opEq, field: field, value: v}
}

// Contains matches a case-insensitive substring.
func Contains(field, s string) Condition {
	return Condition{op: opContains, field: field, value: s}
}

func Lt(field string, v any) Condition {
	return Condition{op: opLt, field: field, value: v}
}

func Gt(field string, v any) Condition {
	return Condition{op: opGt, field: field, value: v}
}

// And drops zero conditions so optional filters can be composed directly.
func And(conds ...Condition) Condition {
	return combine(opAnd, conds)
}

func Or(conds ...Condition) Condition {
	return combine(opOr, conds)
}

func combine(op condOp, conds []Condition) Condition {
	kept := make([]Condition, 0, len(conds))
	for _, c := range conds {
		if !c.IsZero() {
			kept = append(kept, c)
		}
	}
	switch len(kept) {
	case 0:
		return Condition{}
	case 1:
		return kept[0]
	}
	return Condition{op: op, children: kept}
}

func (c Condition) toExpr(fields map[string]string) (exp.Expression, error) {
	switch c.op {
	case opAnd, opOr:
		exprs := make([]exp.Expression, 0, len(c.children))
		for _, child := range c.children {
			e, err := child.toExpr(fields)
			if err != nil {
				return nil, err
			}
			exprs = append(exprs, e)
		}
		if c.op == opAnd {
			return goqu.And(exprs...), nil
		}
		return goqu.Or(exprs...), nil
	case opNone:
		return nil, fmt.Errorf("empty condition")
	}

	col, ok := fields[c.field]
	if !ok {
		return nil, fmt.Errorf("unknown condition field %q", c.field)
	}
	ident := goqu.C(col)

	switch c.op {
	case opEq:
		return ident.Eq(c.value), nil
	case opContains:
		s, _ := c.value.(string)
		return goqu.Func("LOWER", ident).Like("%" + strings.ToLower(s) + "%"), nil
	case opLt:
		return ident.Lt(c.value), nil
	case opGt:
		return ident.Gt(c.value), nil
	}
	return nil, fmt.Errorf("unsupported condition op %d", c.op)
}
