package books

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

type fakeStore struct {
	books      map[int64]*Book
	isbnExists map[string]bool
	count      int64

	lastCond   query.Condition
	lastReq    query.PageRequest
	lastOrders []query.SortKey
	inserted   *Book
	updated    *Book
	deleted    []int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{books: map[int64]*Book{}, isbnExists: map[string]bool{}}
}

func (f *fakeStore) FindPage(_ context.Context, cond query.Condition, req query.PageRequest, orders ...query.SortKey) (query.Page[Book], error) {
	f.lastCond, f.lastReq, f.lastOrders = cond, req, orders
	return query.Page[Book]{Content: []Book{}, PageSize: req.Limit}, nil
}

func (f *fakeStore) FindByIDCursor(_ context.Context, lastID *int64, limit int, cond query.Condition) ([]Book, error) {
	f.lastCond = cond
	return nil, nil
}

func (f *fakeStore) Count(_ context.Context, cond query.Condition) (int64, error) {
	f.lastCond = cond
	return f.count, nil
}

func (f *fakeStore) GetByID(_ context.Context, id int64) (*Book, error) {
	return f.books[id], nil
}

func (f *fakeStore) GetByISBN(_ context.Context, isbn string) (*Book, error) {
	for _, b := range f.books {
		if b.ISBN != nil && *b.ISBN == isbn {
			return b, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ExistsByISBN(_ context.Context, isbn string) (bool, error) {
	return f.isbnExists[isbn], nil
}

func (f *fakeStore) Insert(_ context.Context, b *Book) error {
	b.ID = int64(len(f.books) + 1)
	f.books[b.ID] = b
	f.inserted = b
	return nil
}

func (f *fakeStore) Update(_ context.Context, b *Book) error {
	f.updated = b
	return nil
}

func (f *fakeStore) SoftDelete(_ context.Context, id int64, _ time.Time) (int64, error) {
	f.deleted = append(f.deleted, id)
	if _, ok := f.books[id]; !ok {
		return 0, nil
	}
	delete(f.books, id)
	return 1, nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		store: fs,
		clock: fixedClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
	}
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestCreateBookDefaultsToAvailable(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)

	res, err := svc.CreateBook(context.Background(), CreateBookRequest{
		Name:   "The Go Programming Language",
		Author: "Donovan",
		ISBN:   strPtr("978-0-13-419044-0"),
	})
	require.NoError(t, err)
	assert.True(t, res.Available)
	require.NotNil(t, fs.inserted)
	assert.True(t, fs.inserted.Active)
	assert.Equal(t, fs.inserted.CreatedAt, fs.inserted.UpdatedAt)
}

func TestCreateBookValidation(t *testing.T) {
	svc := newTestService(newFakeStore())
	ctx := context.Background()

	_, err := svc.CreateBook(ctx, CreateBookRequest{Name: " ", Author: "a"})
	assertCode(t, err, apierr.CodeInvalidArgument)

	_, err = svc.CreateBook(ctx, CreateBookRequest{Name: "b", Author: ""})
	assertCode(t, err, apierr.CodeInvalidArgument)

	_, err = svc.CreateBook(ctx, CreateBookRequest{Name: "b", Author: "a", ISBN: strPtr("12345")})
	assertCode(t, err, apierr.CodeInvalidArgument)

	_, err = svc.CreateBook(ctx, CreateBookRequest{Name: "b", Author: "a", PublishYear: intPtr(2999)})
	assertCode(t, err, apierr.CodeInvalidArgument)

	_, err = svc.CreateBook(ctx, CreateBookRequest{Name: "b", Author: "a", PublishYear: intPtr(999)})
	assertCode(t, err, apierr.CodeInvalidArgument)
}

func TestCreateBookRejectsDuplicateISBN(t *testing.T) {
	fs := newFakeStore()
	fs.isbnExists["9780134190440"] = true
	svc := newTestService(fs)

	_, err := svc.CreateBook(context.Background(), CreateBookRequest{
		Name: "b", Author: "a", ISBN: strPtr("9780134190440"),
	})
	assertCode(t, err, apierr.CodeInvalidArgument)
}

func TestUpdateBookChecksDuplicateOnlyWhenISBNChanges(t *testing.T) {
	fs := newFakeStore()
	fs.books[1] = &Book{ID: 1, Name: "b", Author: "a", ISBN: strPtr("9780134190440"), Available: true, Active: true}
	fs.isbnExists["9780134190440"] = true // its own isbn is taken, by itself
	svc := newTestService(fs)

	// unchanged isbn: no duplicate failure
	res, err := svc.UpdateBook(context.Background(), 1, UpdateBookRequest{
		Name: "renamed", Author: "a", ISBN: strPtr("9780134190440"),
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", res.Name)

	// changed to a taken isbn: rejected
	fs.isbnExists["9780201633610"] = true
	_, err = svc.UpdateBook(context.Background(), 1, UpdateBookRequest{
		Name: "b", Author: "a", ISBN: strPtr("9780201633610"),
	})
	assertCode(t, err, apierr.CodeInvalidArgument)
}

func TestUpdateBookNotFound(t *testing.T) {
	svc := newTestService(newFakeStore())
	_, err := svc.UpdateBook(context.Background(), 7, UpdateBookRequest{Name: "b", Author: "a"})
	assertCode(t, err, apierr.CodeNotFound)
}

func TestDeleteBookOnLoanConflicts(t *testing.T) {
	fs := newFakeStore()
	fs.books[1] = &Book{ID: 1, Name: "b", Author: "a", Available: false, Active: true}
	svc := newTestService(fs)

	err := svc.DeleteBook(context.Background(), 1)
	assertCode(t, err, apierr.CodeConflict)
	assert.Empty(t, fs.deleted)
}

func TestDeleteBookNotFound(t *testing.T) {
	svc := newTestService(newFakeStore())
	err := svc.DeleteBook(context.Background(), 42)
	assertCode(t, err, apierr.CodeNotFound)
}

func TestBookExists(t *testing.T) {
	fs := newFakeStore()
	fs.books[1] = &Book{ID: 1, Name: "Go", Author: "Kim", Active: true}
	svc := newTestService(fs)

	ok, err := svc.BookExists(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.BookExists(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.BookExists(context.Background(), 0)
	assertCode(t, err, apierr.CodeInvalidArgument)
}

func TestAuthorExists(t *testing.T) {
	fs := newFakeStore()
	fs.count = 2
	svc := newTestService(fs)

	ok, err := svc.AuthorExists(context.Background(), "Kim")
	require.NoError(t, err)
	assert.True(t, ok)

	fs.count = 0
	ok, err = svc.AuthorExists(context.Background(), "Kim")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.AuthorExists(context.Background(), "  ")
	assertCode(t, err, apierr.CodeInvalidArgument)
}

func TestGetBookInvalidID(t *testing.T) {
	svc := newTestService(newFakeStore())
	_, err := svc.GetBook(context.Background(), 0)
	assertCode(t, err, apierr.CodeInvalidArgument)
}

func TestLatestBooksClampsLimitAndOrders(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)

	_, err := svc.LatestBooks(context.Background(), 500)
	require.NoError(t, err)
	assert.Equal(t, maxLatestBooks, fs.lastReq.Limit)
	require.Len(t, fs.lastOrders, 1)
	assert.Equal(t, query.SortKey{Field: "created_at", Desc: true}, fs.lastOrders[0])
}

func TestSearchPreviewRequiresKeywordAndCapsLimit(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)

	_, err := svc.SearchPreview(context.Background(), "  ", 5)
	assertCode(t, err, apierr.CodeInvalidArgument)

	_, err = svc.SearchPreview(context.Background(), "go", 50)
	require.NoError(t, err)
	assert.Equal(t, previewLimit, fs.lastReq.Limit)
}

func TestNormalizeKeywordFoldsFullWidth(t *testing.T) {
	assert.Equal(t, "Go 123", normalizeKeyword("Ｇｏ　１２３"))
	assert.Equal(t, "", normalizeKeyword("   "))
}

func TestIsValidISBN(t *testing.T) {
	assert.True(t, isValidISBN("978-0-13-419044-0"))
	assert.True(t, isValidISBN("0134190440"))
	assert.False(t, isValidISBN("12345"))
	assert.False(t, isValidISBN(""))
}

func assertCode(t *testing.T, err error, code apierr.Code) {
	t.Helper()
	require.Error(t, err)
	api, ok := err.(*apierr.APIError)
	require.True(t, ok, "expected *apierr.APIError, got %T", err)
	assert.Equal(t, code, api.Code)
}
