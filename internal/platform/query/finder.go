package query

import (
	"context"
	"log"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql" // dialect import
	"github.com/jmoiron/sqlx"
)

const idColumn = "id"

var dialect = goqu.Dialect("mysql")

// Finder runs paged, counted and cursor queries against one table.
// fields maps condition field names to columns, sortable maps sort keys to
// columns. Both are registered at construction so nothing is resolved by
// reflection at query time.
type Finder[T any] struct {
	db       *sqlx.DB
	table    string
	columns  []any
	fields   map[string]string
	sortable map[string]string
}

func NewFinder[T any](conn *sqlx.DB, table string, columns []string, fields, sortable map[string]string) *Finder[T] {
	cols := make([]any, len(columns))
	for i, c := range columns {
		cols[i] = c
	}
	return &Finder[T]{
		db:       conn,
		table:    table,
		columns:  cols,
		fields:   fields,
		sortable: sortable,
	}
}

// FindPage returns one page of matching rows plus the total count from a
// separate COUNT query sharing the same filter. Explicit orders take
// precedence over req.Sort.
func (f *Finder[T]) FindPage(ctx context.Context, cond Condition, req PageRequest, orders ...SortKey) (Page[T], error) {
	req = req.Normalized()

	sqlStr, args, err := f.buildSelect(cond, req, orders)
	if err != nil {
		return Page[T]{}, err
	}

	content := make([]T, 0, req.Limit)
	if err := f.db.SelectContext(ctx, &content, sqlStr, args...); err != nil {
		return Page[T]{}, err
	}

	total, err := f.Count(ctx, cond)
	if err != nil {
		return Page[T]{}, err
	}

	return Page[T]{
		Content:       content,
		TotalElements: total,
		PageNumber:    req.Offset / req.Limit,
		PageSize:      req.Limit,
	}, nil
}

func (f *Finder[T]) FindAll(ctx context.Context, cond Condition) ([]T, error) {
	ds := dialect.From(f.table).Prepared(true).Select(f.columns...)
	ds, err := f.applyWhere(ds, cond)
	if err != nil {
		return nil, err
	}
	sqlStr, args, err := ds.ToSQL()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0)
	if err := f.db.SelectContext(ctx, &out, sqlStr, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func (f *Finder[T]) Count(ctx context.Context, cond Condition) (int64, error) {
	ds := dialect.From(f.table).Prepared(true).Select(goqu.COUNT(goqu.Star()))
	ds, err := f.applyWhere(ds, cond)
	if err != nil {
		return 0, err
	}
	sqlStr, args, err := ds.ToSQL()
	if err != nil {
		return 0, err
	}
	var total int64
	if err := f.db.GetContext(ctx, &total, sqlStr, args...); err != nil {
		return 0, err
	}
	return total, nil
}

// FindByIDCursor returns up to limit rows with id < lastID (all rows when
// lastID is nil), newest first. Stable under concurrent inserts, unlike
// offset pagination.
func (f *Finder[T]) FindByIDCursor(ctx context.Context, lastID *int64, limit int, cond Condition) ([]T, error) {
	if limit <= 0 {
		limit = defaultCursorSize
	}
	if limit > maxCursorSize {
		limit = maxCursorSize
	}

	sqlStr, args, err := f.buildCursorSelect(lastID, limit, cond)
	if err != nil {
		return nil, err
	}

	out := make([]T, 0, limit)
	if err := f.db.SelectContext(ctx, &out, sqlStr, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func (f *Finder[T]) buildSelect(cond Condition, req PageRequest, orders []SortKey) (string, []any, error) {
	ds := dialect.From(f.table).Prepared(true).Select(f.columns...)

	ds, err := f.applyWhere(ds, cond)
	if err != nil {
		return "", nil, err
	}

	keys := orders
	if len(keys) == 0 {
		keys = req.Sort
	}
	for _, k := range keys {
		col, ok := f.sortable[k.Field]
		if !ok {
			// 未知のソートキーはクエリ全体を落とさず読み飛ばす
			log.Printf("[WARN] %s: skipping unknown sort field %q", f.table, k.Field)
			continue
		}
		if k.Desc {
			ds = ds.OrderAppend(goqu.C(col).Desc())
		} else {
			ds = ds.OrderAppend(goqu.C(col).Asc())
		}
	}

	ds = ds.Limit(uint(req.Limit)).Offset(uint(req.Offset))
	return ds.ToSQL()
}

func (f *Finder[T]) buildCursorSelect(lastID *int64, limit int, cond Condition) (string, []any, error) {
	ds := dialect.From(f.table).Prepared(true).Select(f.columns...)

	ds, err := f.applyWhere(ds, cond)
	if err != nil {
		return "", nil, err
	}
	if lastID != nil {
		ds = ds.Where(goqu.C(idColumn).Lt(*lastID))
	}

	ds = ds.Order(goqu.C(idColumn).Desc()).Limit(uint(limit))
	return ds.ToSQL()
}

func (f *Finder[T]) applyWhere(ds *goqu.SelectDataset, cond Condition) (*goqu.SelectDataset, error) {
	if cond.IsZero() {
		return ds, nil
	}
	expr, err := cond.toExpr(f.fields)
	if err != nil {
		return nil, err
	}
	return ds.Where(expr), nil
}
