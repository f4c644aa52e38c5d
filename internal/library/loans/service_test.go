package loans

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LMS-backend/internal/platform/apierr"
	"LMS-backend/internal/platform/query"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

type fixedIDGen struct{ id string }

func (f fixedIDGen) New() (string, error) { return f.id, nil }

// fakeTx backs the whole transactional surface with in-memory maps.
// Counting queries derive from loan statuses the same way the SQL does.
type fakeTx struct {
	users    map[int64]bool
	books    map[int64]*loanBook
	loans    map[int64]*Loan
	nextID   int64
	marked   []int64
	returned []int64
	failMark bool
}

func newFakeTx() *fakeTx {
	return &fakeTx{
		users:  map[int64]bool{},
		books:  map[int64]*loanBook{},
		loans:  map[int64]*Loan{},
		nextID: 1,
	}
}

func (f *fakeTx) addLoan(userID, bookID int64, status Status) {
	f.loans[f.nextID] = &Loan{ID: f.nextID, UserID: userID, BookID: bookID, Status: status}
	f.nextID++
}

func (f *fakeTx) UserExists(_ context.Context, userID int64) (bool, error) {
	return f.users[userID], nil
}

func (f *fakeTx) GetBookForUpdate(_ context.Context, bookID int64) (*loanBook, error) {
	return f.books[bookID], nil
}

func (f *fakeTx) CountActiveLoans(_ context.Context, userID int64) (int64, error) {
	var n int64
	for _, l := range f.loans {
		if l.UserID == userID && l.Status == StatusActive {
			n++
		}
	}
	return n, nil
}

func (f *fakeTx) HasActiveLoan(_ context.Context, bookID int64) (bool, error) {
	for _, l := range f.loans {
		if l.BookID == bookID && l.Status == StatusActive {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeTx) MarkBookUnavailable(_ context.Context, bookID int64, _ time.Time) (int64, error) {
	b := f.books[bookID]
	if f.failMark || b == nil || !b.Available {
		return 0, nil
	}
	b.Available = false
	f.marked = append(f.marked, bookID)
	return 1, nil
}

func (f *fakeTx) MarkBookAvailable(_ context.Context, bookID int64, _ time.Time) error {
	if b := f.books[bookID]; b != nil {
		b.Available = true
	}
	return nil
}

func (f *fakeTx) InsertLoan(_ context.Context, l *Loan) error {
	l.ID = f.nextID
	f.nextID++
	f.loans[l.ID] = l
	return nil
}

func (f *fakeTx) GetLoanForUpdate(_ context.Context, loanID int64) (*Loan, error) {
	return f.loans[loanID], nil
}

func (f *fakeTx) MarkReturned(_ context.Context, loanID int64, _ time.Time) error {
	f.returned = append(f.returned, loanID)
	return nil
}

type fakeStore struct {
	tx        *fakeTx
	overdue   []Detail
	sweptRows int64
	sweeps    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{tx: newFakeTx()}
}

func (f *fakeStore) InTx(_ context.Context, fn func(tx Tx) error) error {
	return fn(f.tx)
}

func (f *fakeStore) GetByID(_ context.Context, id int64) (*Detail, error) {
	l := f.tx.loans[id]
	if l == nil {
		return nil, nil
	}
	return &Detail{Loan: *l}, nil
}

func (f *fakeStore) GetByULID(_ context.Context, ulid string) (*Detail, error) {
	for _, l := range f.tx.loans {
		if l.LoanULID == ulid {
			return &Detail{Loan: *l}, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListByStatus(_ context.Context, status *Status, req query.PageRequest) (query.Page[Detail], error) {
	req = req.Normalized()
	out := make([]Detail, 0)
	for _, l := range f.tx.loans {
		if status == nil || l.Status == *status {
			out = append(out, Detail{Loan: *l})
		}
	}
	return query.Page[Detail]{Content: out, TotalElements: int64(len(out)), PageSize: req.Limit}, nil
}

func (f *fakeStore) ListByUser(_ context.Context, userID int64) ([]Detail, error) {
	out := make([]Detail, 0)
	for _, l := range f.tx.loans {
		if l.UserID == userID {
			out = append(out, Detail{Loan: *l})
		}
	}
	return out, nil
}

func (f *fakeStore) ListByBook(_ context.Context, bookID int64) ([]Detail, error) {
	out := make([]Detail, 0)
	for _, l := range f.tx.loans {
		if l.BookID == bookID {
			out = append(out, Detail{Loan: *l})
		}
	}
	return out, nil
}

func (f *fakeStore) ListOverdue(_ context.Context, _ time.Time) ([]Detail, error) {
	return f.overdue, nil
}

func (f *fakeStore) ActiveCountByUser(_ context.Context, userID int64) (int64, error) {
	return f.tx.CountActiveLoans(context.Background(), userID)
}

func (f *fakeStore) MarkOverdue(_ context.Context, _ time.Time) (int64, error) {
	f.sweeps++
	n := f.sweptRows
	f.sweptRows = 0
	return n, nil
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(fs *fakeStore) *Service {
	return &Service{
		store: fs,
		clock: fixedClock{t: testNow},
		id:    fixedIDGen{id: "01JWTESTULID0000000000000"},
	}
}

func assertCode(t *testing.T, err error, code apierr.Code) {
	t.Helper()
	require.Error(t, err)
	api, ok := err.(*apierr.APIError)
	require.True(t, ok, "expected *apierr.APIError, got %T", err)
	assert.Equal(t, code, api.Code)
}

func TestCreateLoanSetsDueDateTwoWeeksOut(t *testing.T) {
	fs := newFakeStore()
	fs.tx.users[1] = true
	fs.tx.books[10] = &loanBook{ID: 10, Available: true}
	svc := newTestService(fs)

	res, err := svc.CreateLoan(context.Background(), CreateLoanRequest{UserID: 1, BookID: 10})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, res.Status)
	assert.Equal(t, testNow, res.LoanDate)
	assert.Equal(t, testNow.AddDate(0, 0, 14), res.DueDate)
	assert.Equal(t, "01JWTESTULID0000000000000", res.LoanULID)
	assert.Contains(t, fs.tx.marked, int64(10), "book should be flipped to unavailable")
}

func TestCreateLoanUnknownUserOrBook(t *testing.T) {
	fs := newFakeStore()
	fs.tx.users[1] = true
	fs.tx.books[10] = &loanBook{ID: 10, Available: true}
	svc := newTestService(fs)

	_, err := svc.CreateLoan(context.Background(), CreateLoanRequest{UserID: 99, BookID: 10})
	assertCode(t, err, apierr.CodeInvalidArgument)

	_, err = svc.CreateLoan(context.Background(), CreateLoanRequest{UserID: 1, BookID: 99})
	assertCode(t, err, apierr.CodeInvalidArgument)
}

func TestCreateLoanBookUnavailable(t *testing.T) {
	fs := newFakeStore()
	fs.tx.users[1] = true
	fs.tx.books[10] = &loanBook{ID: 10, Available: false}
	svc := newTestService(fs)

	_, err := svc.CreateLoan(context.Background(), CreateLoanRequest{UserID: 1, BookID: 10})
	assertCode(t, err, apierr.CodeConflict)
}

func TestCreateLoanLimitExceeded(t *testing.T) {
	fs := newFakeStore()
	fs.tx.users[1] = true
	fs.tx.books[10] = &loanBook{ID: 10, Available: true}
	for i := int64(0); i < maxLoansPerUser; i++ {
		fs.tx.addLoan(1, 100+i, StatusActive)
	}
	svc := newTestService(fs)

	_, err := svc.CreateLoan(context.Background(), CreateLoanRequest{UserID: 1, BookID: 10})
	assertCode(t, err, apierr.CodeConflict)

	// 1件返却済みなら再び借りられる
	fs.tx.loans[1].Status = StatusReturned
	_, err = svc.CreateLoan(context.Background(), CreateLoanRequest{UserID: 1, BookID: 10})
	require.NoError(t, err)
}

func TestCreateLoanOverdueLoansDoNotCountTowardCap(t *testing.T) {
	fs := newFakeStore()
	fs.tx.users[1] = true
	fs.tx.books[10] = &loanBook{ID: 10, Available: true}
	// 延滞中の貸出は枠に含めない
	for i := int64(0); i < maxLoansPerUser; i++ {
		fs.tx.addLoan(1, 100+i, StatusOverdue)
	}
	svc := newTestService(fs)

	res, err := svc.CreateLoan(context.Background(), CreateLoanRequest{UserID: 1, BookID: 10})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, res.Status)
}

func TestCreateLoanDuplicateActiveLoan(t *testing.T) {
	fs := newFakeStore()
	fs.tx.users[1] = true
	fs.tx.books[10] = &loanBook{ID: 10, Available: true}
	fs.tx.addLoan(2, 10, StatusActive)
	svc := newTestService(fs)

	_, err := svc.CreateLoan(context.Background(), CreateLoanRequest{UserID: 1, BookID: 10})
	assertCode(t, err, apierr.CodeConflict)
}

func TestCreateLoanLosesAvailabilityRace(t *testing.T) {
	fs := newFakeStore()
	fs.tx.users[1] = true
	// available in the snapshot but the conditional update affects 0 rows
	fs.tx.books[10] = &loanBook{ID: 10, Available: true}
	fs.tx.failMark = true
	svc := newTestService(fs)

	_, err := svc.CreateLoan(context.Background(), CreateLoanRequest{UserID: 1, BookID: 10})
	assertCode(t, err, apierr.CodeConflict)
	assert.Empty(t, fs.tx.loans, "no loan row may exist after a lost race")
}

func TestReturnBookFreesTheBook(t *testing.T) {
	fs := newFakeStore()
	fs.tx.books[10] = &loanBook{ID: 10, Available: false}
	fs.tx.loans[5] = &Loan{ID: 5, BookID: 10, UserID: 1, Status: StatusActive}
	svc := newTestService(fs)

	res, err := svc.ReturnBook(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, StatusReturned, res.Status)
	require.NotNil(t, res.ReturnDate)
	assert.Equal(t, testNow, *res.ReturnDate)
	assert.True(t, fs.tx.books[10].Available)
	assert.Contains(t, fs.tx.returned, int64(5))
}

func TestReturnBookAlreadyReturned(t *testing.T) {
	fs := newFakeStore()
	fs.tx.loans[5] = &Loan{ID: 5, BookID: 10, Status: StatusReturned}
	svc := newTestService(fs)

	_, err := svc.ReturnBook(context.Background(), 5)
	assertCode(t, err, apierr.CodeConflict)
}

func TestReturnBookOverdueIsAllowed(t *testing.T) {
	fs := newFakeStore()
	fs.tx.books[10] = &loanBook{ID: 10, Available: false}
	fs.tx.loans[5] = &Loan{ID: 5, BookID: 10, Status: StatusOverdue}
	svc := newTestService(fs)

	res, err := svc.ReturnBook(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, StatusReturned, res.Status)
}

func TestReturnBookNotFound(t *testing.T) {
	svc := newTestService(newFakeStore())
	_, err := svc.ReturnBook(context.Background(), 404)
	assertCode(t, err, apierr.CodeNotFound)
}

func TestUpdateOverdueLoansIsIdempotent(t *testing.T) {
	fs := newFakeStore()
	fs.sweptRows = 3
	svc := newTestService(fs)

	n, err := svc.UpdateOverdueLoans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = svc.UpdateOverdueLoans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.Equal(t, 2, fs.sweeps)
}

func TestActiveLoanCountCountsOnlyActive(t *testing.T) {
	fs := newFakeStore()
	fs.tx.addLoan(1, 10, StatusActive)
	fs.tx.addLoan(1, 11, StatusOverdue)
	fs.tx.addLoan(1, 12, StatusReturned)
	svc := newTestService(fs)

	n, err := svc.ActiveLoanCount(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestGetLoansRejectsUnknownStatus(t *testing.T) {
	svc := newTestService(newFakeStore())
	_, err := svc.GetLoans(context.Background(), "LOST", query.PageRequest{})
	assertCode(t, err, apierr.CodeInvalidArgument)
}

func TestGetLoansLowercaseStatusAccepted(t *testing.T) {
	fs := newFakeStore()
	fs.tx.loans[1] = &Loan{ID: 1, Status: StatusActive}
	fs.tx.loans[2] = &Loan{ID: 2, Status: StatusReturned}
	svc := newTestService(fs)

	page, err := svc.GetLoans(context.Background(), "active", query.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Content, 1)
	assert.Equal(t, StatusActive, page.Content[0].Status)
}

func TestGetLoanByIDOrULID(t *testing.T) {
	fs := newFakeStore()
	fs.tx.loans[7] = &Loan{ID: 7, LoanULID: "01JWAAAAAAAAAAAAAAAAAAAAAA", Status: StatusActive}
	svc := newTestService(fs)

	byID, err := svc.GetLoan(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, int64(7), byID.ID)

	byULID, err := svc.GetLoan(context.Background(), "01JWAAAAAAAAAAAAAAAAAAAAAA")
	require.NoError(t, err)
	assert.Equal(t, int64(7), byULID.ID)

	_, err = svc.GetLoan(context.Background(), "999")
	assertCode(t, err, apierr.CodeNotFound)
}
