package books

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/text/unicode/norm"

	"LMS-backend/internal/platform/apierr"
	"LMS-backend/internal/platform/query"
)

const (
	previewLimit   = 10
	maxLatestBooks = 50
	minPublishYear = 1000
)

type Clock interface{ Now() time.Time }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// BookStore is what the service needs from the persistence layer.
type BookStore interface {
	FindPage(ctx context.Context, cond query.Condition, req query.PageRequest, orders ...query.SortKey) (query.Page[Book], error)
	FindByIDCursor(ctx context.Context, lastID *int64, limit int, cond query.Condition) ([]Book, error)
	Count(ctx context.Context, cond query.Condition) (int64, error)
	GetByID(ctx context.Context, id int64) (*Book, error)
	GetByISBN(ctx context.Context, isbn string) (*Book, error)
	ExistsByISBN(ctx context.Context, isbn string) (bool, error)
	Insert(ctx context.Context, b *Book) error
	Update(ctx context.Context, b *Book) error
	SoftDelete(ctx context.Context, id int64, now time.Time) (int64, error)
}

type Service struct {
	store BookStore
	clock Clock
}

func NewService(db *sqlx.DB) *Service {
	return &Service{store: NewStore(db), clock: realClock{}}
}

// GetBooks lists active books, optionally narrowed by a keyword over
// name/author/description and by an author filter.
func (s *Service) GetBooks(ctx context.Context, keyword, author string, req query.PageRequest) (query.Page[BookResponse], error) {
	cond := query.And(
		query.Eq("active", true),
		keywordCondition(keyword),
		authorCondition(author),
	)

	page, err := s.store.FindPage(ctx, cond, req)
	if err != nil {
		return query.Page[BookResponse]{}, err
	}
	return toResponsePage(page), nil
}

func (s *Service) GetBook(ctx context.Context, id int64) (*BookResponse, error) {
	if id <= 0 {
		return nil, apierr.Invalid("id must be > 0")
	}
	b, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, apierr.NotFound("book not found")
	}
	resp := buildBookResponse(b)
	return &resp, nil
}

func (s *Service) GetBookByISBN(ctx context.Context, isbn string) (*BookResponse, error) {
	if !isValidISBN(isbn) {
		return nil, apierr.Invalid("invalid isbn format")
	}
	b, err := s.store.GetByISBN(ctx, isbn)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, apierr.NotFound("book not found")
	}
	resp := buildBookResponse(b)
	return &resp, nil
}

// BookExists reports whether an active book with the id exists.
func (s *Service) BookExists(ctx context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, apierr.Invalid("id must be > 0")
	}
	b, err := s.store.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return b != nil, nil
}

func (s *Service) AuthorExists(ctx context.Context, author string) (bool, error) {
	n, err := s.CountByAuthor(ctx, author)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Service) CountByAuthor(ctx context.Context, author string) (int64, error) {
	if strings.TrimSpace(author) == "" {
		return 0, apierr.Invalid("author is required")
	}
	return s.store.Count(ctx, query.And(
		query.Eq("active", true),
		query.Eq("author", author),
	))
}

func (s *Service) TotalActiveCount(ctx context.Context) (int64, error) {
	return s.store.Count(ctx, query.Eq("active", true))
}

// SearchPreview は最大10件に絞ったキーワード検索
func (s *Service) SearchPreview(ctx context.Context, keyword string, limit int) (query.Page[BookResponse], error) {
	if strings.TrimSpace(keyword) == "" {
		return query.Page[BookResponse]{}, apierr.Invalid("keyword is required")
	}
	if limit <= 0 || limit > previewLimit {
		limit = previewLimit
	}

	cond := query.And(query.Eq("active", true), keywordCondition(keyword))
	page, err := s.store.FindPage(ctx, cond, query.PageRequest{Limit: limit})
	if err != nil {
		return query.Page[BookResponse]{}, err
	}
	return toResponsePage(page), nil
}

func (s *Service) LatestBooks(ctx context.Context, limit int) (query.Page[BookResponse], error) {
	if limit < 1 {
		limit = 1
	}
	if limit > maxLatestBooks {
		limit = maxLatestBooks
	}

	page, err := s.store.FindPage(ctx, query.Eq("active", true),
		query.PageRequest{Limit: limit},
		query.SortKey{Field: "created_at", Desc: true},
	)
	if err != nil {
		return query.Page[BookResponse]{}, err
	}
	return toResponsePage(page), nil
}

// BooksForInfiniteScroll pages by descending id so concurrent inserts cannot
// shift or duplicate entries between requests.
func (s *Service) BooksForInfiniteScroll(ctx context.Context, lastID *int64, size int) ([]BookResponse, error) {
	rows, err := s.store.FindByIDCursor(ctx, lastID, size, query.Eq("active", true))
	if err != nil {
		return nil, err
	}
	out := make([]BookResponse, 0, len(rows))
	for i := range rows {
		out = append(out, buildBookResponse(&rows[i]))
	}
	return out, nil
}

func (s *Service) CreateBook(ctx context.Context, req CreateBookRequest) (*BookResponse, error) {
	now := s.clock.Now()
	if err := validateBookData(req.Name, req.Author, req.ISBN, req.PublishYear, now); err != nil {
		return nil, err
	}

	if req.ISBN != nil && *req.ISBN != "" {
		exists, err := s.store.ExistsByISBN(ctx, *req.ISBN)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, apierr.Invalid("isbn already exists: " + *req.ISBN)
		}
	}

	b := &Book{
		Name:        req.Name,
		Author:      req.Author,
		ISBN:        req.ISBN,
		Description: req.Description,
		Publisher:   req.Publisher,
		PublishYear: req.PublishYear,
		Available:   true,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Insert(ctx, b); err != nil {
		return nil, err
	}

	resp := buildBookResponse(b)
	return &resp, nil
}

func (s *Service) UpdateBook(ctx context.Context, id int64, req UpdateBookRequest) (*BookResponse, error) {
	now := s.clock.Now()
	if err := validateBookData(req.Name, req.Author, req.ISBN, req.PublishYear, now); err != nil {
		return nil, err
	}

	b, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, apierr.NotFound("book not found")
	}

	// ISBN変更時のみ重複チェック
	if req.ISBN != nil && *req.ISBN != "" && !sameISBN(b.ISBN, req.ISBN) {
		exists, err := s.store.ExistsByISBN(ctx, *req.ISBN)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, apierr.Invalid("isbn already exists: " + *req.ISBN)
		}
	}

	b.Name = req.Name
	b.Author = req.Author
	b.ISBN = req.ISBN
	b.Description = req.Description
	b.Publisher = req.Publisher
	b.PublishYear = req.PublishYear
	b.UpdatedAt = now

	if err := s.store.Update(ctx, b); err != nil {
		return nil, err
	}

	resp := buildBookResponse(b)
	return &resp, nil
}

// DeleteBook soft-deletes. A book with an outstanding loan cannot be removed.
func (s *Service) DeleteBook(ctx context.Context, id int64) error {
	b, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if b == nil {
		return apierr.NotFound("book not found")
	}
	if !b.Available {
		return apierr.Conflict("book is currently on loan")
	}

	n, err := s.store.SoftDelete(ctx, id, s.clock.Now())
	if err != nil {
		return err
	}
	if n == 0 {
		return apierr.NotFound("book not found")
	}
	return nil
}

// ---------- helpers ----------

func keywordCondition(keyword string) query.Condition {
	kw := normalizeKeyword(keyword)
	if kw == "" {
		return query.Condition{}
	}
	return query.Or(
		query.Contains("name", kw),
		query.Contains("author", kw),
		query.Contains("description", kw),
	)
}

func authorCondition(author string) query.Condition {
	a := normalizeKeyword(author)
	if a == "" {
		return query.Condition{}
	}
	return query.Contains("author", a)
}

// normalizeKeyword folds full-width input (NFKC) before matching; catalog
// searches regularly arrive with full-width digits and latin letters.
func normalizeKeyword(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}

func isValidISBN(isbn string) bool {
	clean := strings.ReplaceAll(isbn, "-", "")
	return len(clean) == 10 || len(clean) == 13
}

func sameISBN(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func validateBookData(name, author string, isbn *string, publishYear *int, now time.Time) error {
	if strings.TrimSpace(name) == "" {
		return apierr.Invalid("name is required")
	}
	if strings.TrimSpace(author) == "" {
		return apierr.Invalid("author is required")
	}
	if isbn != nil && *isbn != "" && !isValidISBN(*isbn) {
		return apierr.Invalid("invalid isbn format")
	}
	if publishYear != nil && (*publishYear < minPublishYear || *publishYear > now.Year()) {
		return apierr.Invalid("invalid publish year")
	}
	return nil
}

func toResponsePage(p query.Page[Book]) query.Page[BookResponse] {
	content := make([]BookResponse, 0, len(p.Content))
	for i := range p.Content {
		content = append(content, buildBookResponse(&p.Content[i]))
	}
	return query.Page[BookResponse]{
		Content:       content,
		TotalElements: p.TotalElements,
		PageNumber:    p.PageNumber,
		PageSize:      p.PageSize,
	}
}
