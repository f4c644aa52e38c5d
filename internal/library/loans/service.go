package loans

import (
	"context"
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/oklog/ulid/v2"

	"LMS-backend/internal/platform/apierr"
	"LMS-backend/internal/platform/query"
)

const (
	maxLoansPerUser = 5
	loanPeriodDays  = 14
)

// ===== インターフェース群 =====

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

type IDGen interface {
	New() (string, error)
}

type ulidGen struct{}

func (ulidGen) New() (string, error) {
	t := time.Now().UTC()
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

type LoanStore interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	GetByID(ctx context.Context, id int64) (*Detail, error)
	GetByULID(ctx context.Context, ulid string) (*Detail, error)
	ListByStatus(ctx context.Context, status *Status, req query.PageRequest) (query.Page[Detail], error)
	ListByUser(ctx context.Context, userID int64) ([]Detail, error)
	ListByBook(ctx context.Context, bookID int64) ([]Detail, error)
	ListOverdue(ctx context.Context, now time.Time) ([]Detail, error)
	ActiveCountByUser(ctx context.Context, userID int64) (int64, error)
	MarkOverdue(ctx context.Context, now time.Time) (int64, error)
}

// ===== Service本体 =====

type Service struct {
	store LoanStore
	clock Clock
	id    IDGen
}

func NewService(conn *sqlx.DB) *Service {
	return &Service{
		store: NewStore(conn),
		clock: realClock{},
		id:    ulidGen{},
	}
}

// CreateLoan lends a book to a user. The whole validation chain runs inside
// one transaction with the book row locked, so the availability check and the
// flip to unavailable are atomic.
func (s *Service) CreateLoan(ctx context.Context, req CreateLoanRequest) (*LoanResponse, error) {
	if req.UserID <= 0 {
		return nil, apierr.Invalid("user_id must be > 0")
	}
	if req.BookID <= 0 {
		return nil, apierr.Invalid("book_id must be > 0")
	}

	idStr, err := s.id.New()
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	loan := &Loan{
		LoanULID:  idStr,
		UserID:    req.UserID,
		BookID:    req.BookID,
		LoanDate:  now,
		DueDate:   now.AddDate(0, 0, loanPeriodDays),
		Status:    StatusActive,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		ok, err := tx.UserExists(ctx, req.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return apierr.Invalid(fmt.Sprintf("user not found: %d", req.UserID))
		}

		book, err := tx.GetBookForUpdate(ctx, req.BookID)
		if err != nil {
			return err
		}
		if book == nil {
			return apierr.Invalid(fmt.Sprintf("book not found: %d", req.BookID))
		}
		if !book.Available {
			return apierr.Conflict("book is currently on loan")
		}

		n, err := tx.CountActiveLoans(ctx, req.UserID)
		if err != nil {
			return err
		}
		if n >= maxLoansPerUser {
			return apierr.Conflict(fmt.Sprintf("loan limit exceeded (max %d)", maxLoansPerUser))
		}

		dup, err := tx.HasActiveLoan(ctx, req.BookID)
		if err != nil {
			return err
		}
		if dup {
			return apierr.Conflict("book already has an active loan")
		}

		affected, err := tx.MarkBookUnavailable(ctx, req.BookID, now)
		if err != nil {
			return err
		}
		// 0行更新＝同時実行で先を越された
		if affected == 0 {
			return apierr.Conflict("book is currently on loan")
		}

		return tx.InsertLoan(ctx, loan)
	})
	if err != nil {
		return nil, err
	}
	return buildLoanResponse(loan), nil
}

// ReturnBook closes a loan and frees the book. An OVERDUE loan may still be
// returned; only an already RETURNED one is rejected.
func (s *Service) ReturnBook(ctx context.Context, loanID int64) (*LoanResponse, error) {
	if loanID <= 0 {
		return nil, apierr.Invalid("id must be > 0")
	}

	now := s.clock.Now()
	var returned *Loan

	err := s.store.InTx(ctx, func(tx Tx) error {
		loan, err := tx.GetLoanForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		if loan == nil {
			return apierr.NotFound(fmt.Sprintf("loan not found: %d", loanID))
		}
		if loan.Status == StatusReturned {
			return apierr.Conflict("loan is already returned")
		}

		if err := tx.MarkReturned(ctx, loan.ID, now); err != nil {
			return err
		}
		if err := tx.MarkBookAvailable(ctx, loan.BookID, now); err != nil {
			return err
		}

		loan.Status = StatusReturned
		loan.ReturnDate = &now
		loan.UpdatedAt = now
		returned = loan
		return nil
	})
	if err != nil {
		return nil, err
	}
	return buildLoanResponse(returned), nil
}

// UpdateOverdueLoans sweeps expired ACTIVE loans to OVERDUE and returns the
// number of loans changed. Running it twice changes nothing the second time.
func (s *Service) UpdateOverdueLoans(ctx context.Context) (int64, error) {
	return s.store.MarkOverdue(ctx, s.clock.Now())
}

// GetLoans lists loans newest first, optionally filtered by status.
func (s *Service) GetLoans(ctx context.Context, status string, req query.PageRequest) (query.Page[LoanResponse], error) {
	var filter *Status
	if strings.TrimSpace(status) != "" {
		st, ok := ParseStatus(strings.ToUpper(status))
		if !ok {
			return query.Page[LoanResponse]{}, apierr.Invalid("status must be one of ACTIVE, RETURNED, OVERDUE")
		}
		filter = &st
	}

	page, err := s.store.ListByStatus(ctx, filter, req)
	if err != nil {
		return query.Page[LoanResponse]{}, err
	}
	return toResponsePage(page), nil
}

// GetLoan resolves key as a numeric id first, then as a ULID.
func (s *Service) GetLoan(ctx context.Context, key string) (*LoanResponse, error) {
	var (
		d   *Detail
		err error
	)
	if id, convErr := strconv.ParseInt(key, 10, 64); convErr == nil {
		d, err = s.store.GetByID(ctx, id)
	} else {
		d, err = s.store.GetByULID(ctx, key)
	}
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, apierr.NotFound("loan not found: " + key)
	}
	return buildDetailResponse(d), nil
}

func (s *Service) GetLoansByUser(ctx context.Context, userID int64) ([]LoanResponse, error) {
	if userID <= 0 {
		return nil, apierr.Invalid("user_id must be > 0")
	}
	rows, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toResponses(rows), nil
}

func (s *Service) GetLoansByBook(ctx context.Context, bookID int64) ([]LoanResponse, error) {
	if bookID <= 0 {
		return nil, apierr.Invalid("book_id must be > 0")
	}
	rows, err := s.store.ListByBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	return toResponses(rows), nil
}

func (s *Service) GetOverdueLoans(ctx context.Context) ([]LoanResponse, error) {
	rows, err := s.store.ListOverdue(ctx, s.clock.Now())
	if err != nil {
		return nil, err
	}
	return toResponses(rows), nil
}

func (s *Service) ActiveLoanCount(ctx context.Context, userID int64) (int64, error) {
	if userID <= 0 {
		return 0, apierr.Invalid("user_id must be > 0")
	}
	return s.store.ActiveCountByUser(ctx, userID)
}

func toResponses(rows []Detail) []LoanResponse {
	out := make([]LoanResponse, 0, len(rows))
	for i := range rows {
		out = append(out, *buildDetailResponse(&rows[i]))
	}
	return out
}

func toResponsePage(page query.Page[Detail]) query.Page[LoanResponse] {
	return query.Page[LoanResponse]{
		Content:       toResponses(page.Content),
		TotalElements: page.TotalElements,
		PageNumber:    page.PageNumber,
		PageSize:      page.PageSize,
	}
}
