package memory

import (
	"context"
	"strings"
	"time"

	"github.com/xenking/backoffice/internal/domain/errs"
	"github.com/xenking/backoffice/internal/domain/user"
	"github.com/xenking/backoffice/internal/pagination"
)

var _ user.Repository = (*UserRepository)(nil)

// UserRepository stores users in a Store.
type UserRepository struct {
	s *Store
}

func (r *UserRepository) FindByID(_ context.Context, id string) (*user.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, errs.NotFound("user", id)
	}
	return &u, nil
}

func (r *UserRepository) FindOne(_ context.Context, f user.Filter) (*user.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	res := page(r.s.users, userMatcher(f), userKey, pagination.Params{Page: 1, Limit: 1})
	if len(res.Items) == 0 {
		return nil, errs.NotFound("user", f.Email)
	}
	return &res.Items[0], nil
}

func (r *UserRepository) FindAll(_ context.Context, f user.Filter, p pagination.Params) (pagination.Result[user.User], error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return page(r.s.users, userMatcher(f), userKey, p), nil
}

func (r *UserRepository) Create(_ context.Context, u *user.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[u.ID]; ok {
		return errs.Conflict("user", "id")
	}
	if r.emailTaken(u.Email, u.ID) {
		return errs.Conflict("user", "email")
	}
	r.s.users[u.ID] = *u
	return nil
}

func (r *UserRepository) Update(_ context.Context, u *user.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[u.ID]; !ok {
		return errs.NotFound("user", u.ID)
	}
	if r.emailTaken(u.Email, u.ID) {
		return errs.Conflict("user", "email")
	}
	r.s.users[u.ID] = *u
	return nil
}

func (r *UserRepository) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[id]; !ok {
		return errs.NotFound("user", id)
	}
	delete(r.s.users, id)
	return nil
}

func (r *UserRepository) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.emailTaken(email, ""), nil
}

func (r *UserRepository) emailTaken(email, exceptID string) bool {
	for id, u := range r.s.users {
		if id != exceptID && u.Email == email {
			return true
		}
	}
	return false
}

func userKey(u user.User) (time.Time, string) { return u.CreatedAt, u.ID }

func userMatcher(f user.Filter) func(user.User) bool {
	search := strings.ToLower(f.Search)
	return func(u user.User) bool {
		if f.Email != "" && u.Email != f.Email {
			return false
		}
		if f.IsActive != nil && u.IsActive != *f.IsActive {
			return false
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(u.Name), search) &&
			!strings.Contains(u.Email, search) {
			return false
		}
		return true
	}
}
