package user

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/xenking/backoffice/internal/domain/errs"
	"github.com/xenking/backoffice/internal/pagination"
)

// MinPasswordLength is the shortest accepted plain-text password.
const MinPasswordLength = 8

// CreateRequest holds the input for registering a user.
type CreateRequest struct {
	Email    string
	Password string
	Name     string
	Phone    string
}

// UpdateRequest holds a partial update. Nil fields are left unchanged.
type UpdateRequest struct {
	Name     *string
	Phone    *string
	Password *string
	IsActive *bool
}

// Service implements user management.
type Service struct {
	users    Repository
	now      func() time.Time
	hashCost int
}

// NewService creates a user Service backed by users.
func NewService(users Repository) *Service {
	return &Service{
		users:    users,
		now:      time.Now,
		hashCost: bcrypt.DefaultCost,
	}
}

// Create registers a new user. A taken email is reported as a conflict
// before hashing; storage still guards the race with its unique index.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*User, error) {
	if err := validatePassword(req.Password); err != nil {
		return nil, err
	}
	email := NormalizeEmail(req.Email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, errors.Wrap(err, "check email")
	}
	if exists {
		return nil, errs.Conflict("user", "email")
	}

	hash, err := s.hash(req.Password)
	if err != nil {
		return nil, err
	}
	u, err := New(email, req.Name, req.Phone, hash, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, errors.Wrap(err, "create user")
	}
	return u, nil
}

// Get returns the user with the given id.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "find user")
	}
	return u, nil
}

// List returns one page of users matching filter.
func (s *Service) List(ctx context.Context, filter Filter, page pagination.Params) (pagination.Result[User], error) {
	filter.Email = NormalizeEmail(filter.Email)
	filter.Search = strings.TrimSpace(filter.Search)
	res, err := s.users.FindAll(ctx, filter, page)
	if err != nil {
		return pagination.Result[User]{}, errors.Wrap(err, "list users")
	}
	return res, nil
}

// Update applies a partial update to the user with the given id.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*User, error) {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "find user")
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, errs.Validation("name is required")
		}
		u.Name = name
	}
	if req.Phone != nil {
		u.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.IsActive != nil {
		u.IsActive = *req.IsActive
	}
	if req.Password != nil {
		if err := validatePassword(*req.Password); err != nil {
			return nil, err
		}
		hash, err := s.hash(*req.Password)
		if err != nil {
			return nil, err
		}
		u.PasswordHash = hash
	}
	u.UpdatedAt = s.now().UTC()

	if err := s.users.Update(ctx, u); err != nil {
		return nil, errors.Wrap(err, "update user")
	}
	return u, nil
}

// Delete removes the user with the given id.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.users.Delete(ctx, id); err != nil {
		return errors.Wrap(err, "delete user")
	}
	return nil
}

// CheckPassword reports whether password matches the stored hash.
func CheckPassword(u *User, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

func (s *Service) hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return "", errors.Wrap(err, "hash password")
	}
	return string(h), nil
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return errs.Validation("password must be at least %d characters", MinPasswordLength)
	}
	// bcrypt ignores input past 72 bytes.
	if len(password) > 72 {
		return errs.Validation("password must be at most 72 bytes")
	}
	return nil
}
