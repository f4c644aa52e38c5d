package loans

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"LMS-backend/internal/platform/db"
	"LMS-backend/internal/platform/query"
)

// 貸出一覧で許可するソートキー。結合クエリなので loans 側を修飾して解決する。
var loanSortable = map[string]string{
	"id":        "l.id",
	"loan_date": "l.loan_date",
	"due_date":  "l.due_date",
	"status":    "l.status",
}

const detailSelect = `
	SELECT l.id, l.loan_ulid, l.user_id, l.book_id, l.loan_date, l.due_date,
	       l.return_date, l.status, l.active, l.created_at, l.updated_at,
	       u.name AS user_name, b.name AS book_name
	FROM loans l
	JOIN users u ON u.id = l.user_id
	JOIN books b ON b.id = l.book_id`

// Tx is the transactional surface a lending operation runs against.
// All methods see uncommitted state of the same transaction.
type Tx interface {
	UserExists(ctx context.Context, userID int64) (bool, error)
	GetBookForUpdate(ctx context.Context, bookID int64) (*loanBook, error)
	CountActiveLoans(ctx context.Context, userID int64) (int64, error)
	HasActiveLoan(ctx context.Context, bookID int64) (bool, error)
	MarkBookUnavailable(ctx context.Context, bookID int64, now time.Time) (int64, error)
	MarkBookAvailable(ctx context.Context, bookID int64, now time.Time) error
	InsertLoan(ctx context.Context, l *Loan) error
	GetLoanForUpdate(ctx context.Context, loanID int64) (*Loan, error)
	MarkReturned(ctx context.Context, loanID int64, now time.Time) error
}

type Store struct {
	db *sqlx.DB
}

func NewStore(conn *sqlx.DB) *Store {
	return &Store{db: conn}
}

// InTx runs fn in a single transaction. Row locks taken via GetBookForUpdate
// and GetLoanForUpdate are held until commit or rollback.
func (s *Store) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		return fn(&txStore{tx: tx})
	})
}

// GetByID returns (nil, nil) when no loan matches.
func (s *Store) GetByID(ctx context.Context, id int64) (*Detail, error) {
	q := detailSelect + ` WHERE l.id = ?`
	var d Detail
	if err := s.db.GetContext(ctx, &d, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

func (s *Store) GetByULID(ctx context.Context, ulid string) (*Detail, error) {
	q := detailSelect + ` WHERE l.loan_ulid = ?`
	var d Detail
	if err := s.db.GetContext(ctx, &d, q, ulid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// ListByStatus returns one page of loans, optionally filtered by status.
// The count comes from a separate query sharing the same filter.
func (s *Store) ListByStatus(ctx context.Context, status *Status, req query.PageRequest) (query.Page[Detail], error) {
	req = req.Normalized()

	var (
		where string
		args  []any
	)
	if status != nil {
		where = ` WHERE l.status = ?`
		args = append(args, string(*status))
	}

	q := detailSelect + where + orderClause(req.Sort) + ` LIMIT ? OFFSET ?`
	content := make([]Detail, 0, req.Limit)
	if err := s.db.SelectContext(ctx, &content, q, append(args, req.Limit, req.Offset)...); err != nil {
		return query.Page[Detail]{}, err
	}

	countQ := `SELECT COUNT(*) FROM loans l` + where
	var total int64
	if err := s.db.GetContext(ctx, &total, countQ, args...); err != nil {
		return query.Page[Detail]{}, err
	}

	return query.Page[Detail]{
		Content:       content,
		TotalElements: total,
		PageNumber:    req.Offset / req.Limit,
		PageSize:      req.Limit,
	}, nil
}

func (s *Store) ListByUser(ctx context.Context, userID int64) ([]Detail, error) {
	q := detailSelect + ` WHERE l.user_id = ? ORDER BY l.loan_date DESC, l.id DESC`
	out := make([]Detail, 0)
	if err := s.db.SelectContext(ctx, &out, q, userID); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListByBook(ctx context.Context, bookID int64) ([]Detail, error) {
	q := detailSelect + ` WHERE l.book_id = ? ORDER BY l.loan_date DESC, l.id DESC`
	out := make([]Detail, 0)
	if err := s.db.SelectContext(ctx, &out, q, bookID); err != nil {
		return nil, err
	}
	return out, nil
}

// ListOverdue returns active loans whose due date has passed but whose status
// has not been swept to OVERDUE yet, plus loans already marked OVERDUE.
func (s *Store) ListOverdue(ctx context.Context, now time.Time) ([]Detail, error) {
	q := detailSelect + `
	WHERE l.status = 'OVERDUE' OR (l.status = 'ACTIVE' AND l.due_date < ?)
	ORDER BY l.due_date ASC`
	out := make([]Detail, 0)
	if err := s.db.SelectContext(ctx, &out, q, now); err != nil {
		return nil, err
	}
	return out, nil
}

// ActiveCountByUser counts ACTIVE loans only. OVERDUE は枠に含めない。
func (s *Store) ActiveCountByUser(ctx context.Context, userID int64) (int64, error) {
	const q = `SELECT COUNT(*) FROM loans WHERE user_id = ? AND status = 'ACTIVE'`
	var n int64
	if err := s.db.GetContext(ctx, &n, q, userID); err != nil {
		return 0, err
	}
	return n, nil
}

// MarkOverdue flips every expired ACTIVE loan to OVERDUE in one statement and
// returns how many rows changed. Safe to call repeatedly.
func (s *Store) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	const q = `UPDATE loans SET status = 'OVERDUE', updated_at = ? WHERE status = 'ACTIVE' AND due_date < ?`
	res, err := s.db.ExecContext(ctx, q, now, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func orderClause(keys []query.SortKey) string {
	var parts []string
	for _, k := range keys {
		col, ok := loanSortable[k.Field]
		if !ok {
			log.Printf("[WARN] loans: skipping unknown sort field %q", k.Field)
			continue
		}
		dir := "ASC"
		if k.Desc {
			dir = "DESC"
		}
		parts = append(parts, fmt.Sprintf("%s %s", col, dir))
	}
	if len(parts) == 0 {
		return ` ORDER BY l.id DESC`
	}
	return ` ORDER BY ` + strings.Join(parts, ", ")
}

// ===== トランザクション内の操作 =====

type txStore struct {
	tx *sqlx.Tx
}

func (t *txStore) UserExists(ctx context.Context, userID int64) (bool, error) {
	const q = `SELECT COUNT(*) FROM users WHERE id = ? AND active = 1`
	var n int64
	if err := t.tx.GetContext(ctx, &n, q, userID); err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetBookForUpdate locks the book row for the rest of the transaction.
// Returns (nil, nil) when no active book matches.
func (t *txStore) GetBookForUpdate(ctx context.Context, bookID int64) (*loanBook, error) {
	const q = `SELECT id, available FROM books WHERE id = ? AND active = 1 FOR UPDATE`
	var b loanBook
	if err := t.tx.GetContext(ctx, &b, q, bookID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (t *txStore) CountActiveLoans(ctx context.Context, userID int64) (int64, error) {
	const q = `SELECT COUNT(*) FROM loans WHERE user_id = ? AND status = 'ACTIVE'`
	var n int64
	if err := t.tx.GetContext(ctx, &n, q, userID); err != nil {
		return 0, err
	}
	return n, nil
}

func (t *txStore) HasActiveLoan(ctx context.Context, bookID int64) (bool, error) {
	const q = `SELECT COUNT(*) FROM loans WHERE book_id = ? AND status = 'ACTIVE'`
	var n int64
	if err := t.tx.GetContext(ctx, &n, q, bookID); err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkBookUnavailable is conditional on the current availability so that two
// concurrent lends of the same book cannot both succeed. 0 rows means lost race.
func (t *txStore) MarkBookUnavailable(ctx context.Context, bookID int64, now time.Time) (int64, error) {
	const q = `UPDATE books SET available = 0, updated_at = ? WHERE id = ? AND available = 1 AND active = 1`
	res, err := t.tx.ExecContext(ctx, q, now, bookID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t *txStore) MarkBookAvailable(ctx context.Context, bookID int64, now time.Time) error {
	const q = `UPDATE books SET available = 1, updated_at = ? WHERE id = ?`
	_, err := t.tx.ExecContext(ctx, q, now, bookID)
	return err
}

func (t *txStore) InsertLoan(ctx context.Context, l *Loan) error {
	const q = `
	INSERT INTO loans
	(loan_ulid, user_id, book_id, loan_date, due_date, return_date, status, active, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`
	res, err := t.tx.ExecContext(ctx, q,
		l.LoanULID, l.UserID, l.BookID, l.LoanDate, l.DueDate, l.ReturnDate,
		l.Status, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	l.ID = id
	return nil
}

func (t *txStore) GetLoanForUpdate(ctx context.Context, loanID int64) (*Loan, error) {
	const q = `
	SELECT id, loan_ulid, user_id, book_id, loan_date, due_date, return_date, status, active, created_at, updated_at
	FROM loans WHERE id = ? FOR UPDATE`
	var l Loan
	if err := t.tx.GetContext(ctx, &l, q, loanID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

func (t *txStore) MarkReturned(ctx context.Context, loanID int64, now time.Time) error {
	const q = `UPDATE loans SET status = 'RETURNED', return_date = ?, updated_at = ? WHERE id = ?`
	_, err := t.tx.ExecContext(ctx, q, now, now, loanID)
	return err
}
