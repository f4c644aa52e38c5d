package users

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"LMS-backend/internal/platform/query"
)

var userColumns = []string{
	"id", "name", "email", "phone", "address", "active", "created_at", "updated_at",
}

var (
	userFields = map[string]string{
		"active": "active",
		"name":   "name",
		"email":  "email",
	}
	userSortable = map[string]string{
		"id":         "id",
		"name":       "name",
		"email":      "email",
		"created_at": "created_at",
	}
)

type Store struct {
	db     *sqlx.DB
	finder *query.Finder[User]
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:     db,
		finder: query.NewFinder[User](db, "users", userColumns, userFields, userSortable),
	}
}

func (s *Store) FindPage(ctx context.Context, cond query.Condition, req query.PageRequest) (query.Page[User], error) {
	return s.finder.FindPage(ctx, cond, req)
}

func (s *Store) Count(ctx context.Context, cond query.Condition) (int64, error) {
	return s.finder.Count(ctx, cond)
}

// GetByID returns (nil, nil) when no active user matches.
func (s *Store) GetByID(ctx context.Context, id int64) (*User, error) {
	const q = `
	SELECT id, name, email, phone, address, active, created_at, updated_at
	FROM users WHERE id = ? AND active = 1`
	var u User
	if err := s.db.GetContext(ctx, &u, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	const q = `
	SELECT id, name, email, phone, address, active, created_at, updated_at
	FROM users WHERE email = ? AND active = 1`
	var u User
	if err := s.db.GetContext(ctx, &u, q, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	const q = `SELECT COUNT(*) FROM users WHERE email = ? AND active = 1`
	var n int64
	if err := s.db.GetContext(ctx, &n, q, email); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Insert(ctx context.Context, u *User) error {
	const q = `
	INSERT INTO users (name, email, phone, address, active, created_at, updated_at)
	VALUES (?, ?, ?, ?, 1, ?, ?)`
	res, err := s.db.ExecContext(ctx, q, u.Name, u.Email, u.Phone, u.Address, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = id
	return nil
}

func (s *Store) Update(ctx context.Context, u *User) error {
	const q = `
	UPDATE users SET name = ?, email = ?, phone = ?, address = ?, updated_at = ?
	WHERE id = ? AND active = 1`
	_, err := s.db.ExecContext(ctx, q, u.Name, u.Email, u.Phone, u.Address, u.UpdatedAt, u.ID)
	return err
}

// SoftDelete keeps the row so historical loans stay resolvable.
func (s *Store) SoftDelete(ctx context.Context, id int64, now time.Time) (int64, error) {
	const q = `UPDATE users SET active = 0, updated_at = ? WHERE id = ? AND active = 1`
	res, err := s.db.ExecContext(ctx, q, now, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
