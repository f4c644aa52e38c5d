package users

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"LMS-backend/internal/platform/apierr"
	"LMS-backend/internal/platform/query"
)

type Clock interface{ Now() time.Time }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type UserStore interface {
	FindPage(ctx context.Context, cond query.Condition, req query.PageRequest) (query.Page[User], error)
	Count(ctx context.Context, cond query.Condition) (int64, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Insert(ctx context.Context, u *User) error
	Update(ctx context.Context, u *User) error
	SoftDelete(ctx context.Context, id int64, now time.Time) (int64, error)
}

type Service struct {
	store UserStore
	clock Clock
}

func NewService(db *sqlx.DB) *Service {
	return &Service{store: NewStore(db), clock: realClock{}}
}

// GetUsers lists active users; keyword matches name or email.
func (s *Service) GetUsers(ctx context.Context, keyword string, req query.PageRequest) (query.Page[UserResponse], error) {
	cond := query.And(
		query.Eq("active", true),
		keywordCondition(keyword),
	)

	page, err := s.store.FindPage(ctx, cond, req)
	if err != nil {
		return query.Page[UserResponse]{}, err
	}

	content := make([]UserResponse, 0, len(page.Content))
	for i := range page.Content {
		content = append(content, buildUserResponse(&page.Content[i]))
	}
	return query.Page[UserResponse]{
		Content:       content,
		TotalElements: page.TotalElements,
		PageNumber:    page.PageNumber,
		PageSize:      page.PageSize,
	}, nil
}

func (s *Service) GetUser(ctx context.Context, id int64) (*UserResponse, error) {
	if id <= 0 {
		return nil, apierr.Invalid("id must be > 0")
	}
	u, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apierr.NotFound("user not found")
	}
	resp := buildUserResponse(u)
	return &resp, nil
}

func (s *Service) GetUserByEmail(ctx context.Context, email string) (*UserResponse, error) {
	if strings.TrimSpace(email) == "" {
		return nil, apierr.Invalid("email is required")
	}
	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apierr.NotFound("user not found")
	}
	resp := buildUserResponse(u)
	return &resp, nil
}

// UserExists reports whether an active user with the id exists.
func (s *Service) UserExists(ctx context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, apierr.Invalid("id must be > 0")
	}
	u, err := s.store.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return u != nil, nil
}

func (s *Service) EmailExists(ctx context.Context, email string) (bool, error) {
	if strings.TrimSpace(email) == "" {
		return false, apierr.Invalid("email is required")
	}
	return s.store.ExistsByEmail(ctx, email)
}

func (s *Service) TotalCount(ctx context.Context) (int64, error) {
	return s.store.Count(ctx, query.Eq("active", true))
}

func (s *Service) CreateUser(ctx context.Context, req CreateUserRequest) (*UserResponse, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, apierr.Invalid("name is required")
	}
	if strings.TrimSpace(req.Email) == "" {
		return nil, apierr.Invalid("email is required")
	}

	exists, err := s.store.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apierr.Invalid("email already exists: " + req.Email)
	}

	now := s.clock.Now()
	u := &User{
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		Address:   req.Address,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Insert(ctx, u); err != nil {
		return nil, err
	}

	resp := buildUserResponse(u)
	return &resp, nil
}

func (s *Service) UpdateUser(ctx context.Context, id int64, req UpdateUserRequest) (*UserResponse, error) {
	u, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apierr.NotFound("user not found")
	}

	// メール変更時のみ重複チェック
	if u.Email != req.Email {
		exists, err := s.store.ExistsByEmail(ctx, req.Email)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, apierr.Invalid("email already exists: " + req.Email)
		}
	}

	u.Name = req.Name
	u.Email = req.Email
	u.Phone = req.Phone
	u.Address = req.Address
	u.UpdatedAt = s.clock.Now()

	if err := s.store.Update(ctx, u); err != nil {
		return nil, err
	}

	resp := buildUserResponse(u)
	return &resp, nil
}

// DeleteUser soft-deletes, matching the book policy so loan history keeps
// valid user references.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	n, err := s.store.SoftDelete(ctx, id, s.clock.Now())
	if err != nil {
		return err
	}
	if n == 0 {
		return apierr.NotFound("user not found")
	}
	return nil
}

func keywordCondition(keyword string) query.Condition {
	kw := strings.TrimSpace(keyword)
	if kw == "" {
		return query.Condition{}
	}
	return query.Or(
		query.Contains("name", kw),
		query.Contains("email", kw),
	)
}
