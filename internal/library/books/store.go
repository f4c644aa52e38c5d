package books

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"LMS-backend/internal/platform/query"
)

var bookColumns = []string{
	"id", "name", "author", "isbn", "description",
	"publisher", "publish_year", "available", "active", "created_at", "updated_at",
}

// 条件フィールド／ソートキーの許可リスト。未登録キーは Finder 側で弾かれる。
var (
	bookFields = map[string]string{
		"active":       "active",
		"available":    "available",
		"name":         "name",
		"author":       "author",
		"description":  "description",
		"isbn":         "isbn",
		"publisher":    "publisher",
		"publish_year": "publish_year",
	}
	bookSortable = map[string]string{
		"id":           "id",
		"name":         "name",
		"author":       "author",
		"publisher":    "publisher",
		"publish_year": "publish_year",
		"created_at":   "created_at",
	}
)

type Store struct {
	db     *sqlx.DB
	finder *query.Finder[Book]
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:     db,
		finder: query.NewFinder[Book](db, "books", bookColumns, bookFields, bookSortable),
	}
}

func (s *Store) FindPage(ctx context.Context, cond query.Condition, req query.PageRequest, orders ...query.SortKey) (query.Page[Book], error) {
	return s.finder.FindPage(ctx, cond, req, orders...)
}

func (s *Store) FindByIDCursor(ctx context.Context, lastID *int64, limit int, cond query.Condition) ([]Book, error) {
	return s.finder.FindByIDCursor(ctx, lastID, limit, cond)
}

func (s *Store) Count(ctx context.Context, cond query.Condition) (int64, error) {
	return s.finder.Count(ctx, cond)
}

// GetByID returns (nil, nil) when no active book matches.
func (s *Store) GetByID(ctx context.Context, id int64) (*Book, error) {
	const q = `
	SELECT id, name, author, isbn, description, publisher, publish_year, available, active, created_at, updated_at
	FROM books WHERE id = ? AND active = 1`
	var b Book
	if err := s.db.GetContext(ctx, &b, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (s *Store) GetByISBN(ctx context.Context, isbn string) (*Book, error) {
	const q = `
	SELECT id, name, author, isbn, description, publisher, publish_year, available, active, created_at, updated_at
	FROM books WHERE isbn = ? AND active = 1`
	var b Book
	if err := s.db.GetContext(ctx, &b, q, isbn); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (s *Store) ExistsByISBN(ctx context.Context, isbn string) (bool, error) {
	const q = `SELECT COUNT(*) FROM books WHERE isbn = ? AND active = 1`
	var n int64
	if err := s.db.GetContext(ctx, &n, q, isbn); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Insert(ctx context.Context, b *Book) error {
	const q = `
	INSERT INTO books
	(name, author, isbn, description, publisher, publish_year, available, active, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`
	res, err := s.db.ExecContext(ctx, q,
		b.Name, b.Author, b.ISBN, b.Description, b.Publisher, b.PublishYear,
		b.Available, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = id
	return nil
}

func (s *Store) Update(ctx context.Context, b *Book) error {
	const q = `
	UPDATE books
	SET name = ?, author = ?, isbn = ?, description = ?, publisher = ?, publish_year = ?, updated_at = ?
	WHERE id = ? AND active = 1`
	_, err := s.db.ExecContext(ctx, q,
		b.Name, b.Author, b.ISBN, b.Description, b.Publisher, b.PublishYear, b.UpdatedAt, b.ID,
	)
	return err
}

// SoftDelete marks the book inactive. created_at は維持される。
func (s *Store) SoftDelete(ctx context.Context, id int64, now time.Time) (int64, error) {
	const q = `UPDATE books SET active = 0, updated_at = ? WHERE id = ? AND active = 1`
	res, err := s.db.ExecContext(ctx, q, now, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
