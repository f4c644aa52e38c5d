package loans

import "time"

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusReturned Status = "RETURNED"
	StatusOverdue  Status = "OVERDUE"
)

// ParseStatus validates a status filter value from the query string.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusActive, StatusReturned, StatusOverdue:
		return Status(s), true
	}
	return "", false
}

type Loan struct {
	ID         int64      `db:"id"`
	LoanULID   string     `db:"loan_ulid"`
	UserID     int64      `db:"user_id"`
	BookID     int64      `db:"book_id"`
	LoanDate   time.Time  `db:"loan_date"`
	DueDate    time.Time  `db:"due_date"`
	ReturnDate *time.Time `db:"return_date"`
	Status     Status     `db:"status"`
	Active     bool       `db:"active"`
	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
}

// Detail is a Loan joined with the borrower and book names for read paths.
type Detail struct {
	Loan
	UserName string `db:"user_name"`
	BookName string `db:"book_name"`
}

// loanBook is the slice of a book row the lending transaction touches.
type loanBook struct {
	ID        int64 `db:"id"`
	Available bool  `db:"available"`
}
