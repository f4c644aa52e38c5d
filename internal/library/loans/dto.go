package loans

import "time"

type CreateLoanRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
	BookID int64 `json:"book_id" binding:"required"`
}

type LoanResponse struct {
	ID         int64      `json:"id"`
	LoanULID   string     `json:"loan_ulid"`
	UserID     int64      `json:"user_id"`
	BookID     int64      `json:"book_id"`
	UserName   string     `json:"user_name,omitempty"`
	BookName   string     `json:"book_name,omitempty"`
	LoanDate   time.Time  `json:"loan_date"`
	DueDate    time.Time  `json:"due_date"`
	ReturnDate *time.Time `json:"return_date,omitempty"`
	Status     Status     `json:"status"`
}

func buildLoanResponse(l *Loan) *LoanResponse {
	return &LoanResponse{
		ID:         l.ID,
		LoanULID:   l.LoanULID,
		UserID:     l.UserID,
		BookID:     l.BookID,
		LoanDate:   l.LoanDate,
		DueDate:    l.DueDate,
		ReturnDate: l.ReturnDate,
		Status:     l.Status,
	}
}

func buildDetailResponse(d *Detail) *LoanResponse {
	res := buildLoanResponse(&d.Loan)
	res.UserName = d.UserName
	res.BookName = d.BookName
	return res
}
