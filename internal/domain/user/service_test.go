package user

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/xenking/backoffice/internal/domain/errs"
	"github.com/xenking/backoffice/internal/pagination"
)

type mockUserRepo struct {
	byID      map[string]*User
	exists    bool
	existsErr error
	createErr error
	created   *User
	updated   *User
	deleted   string
}

func newMockUserRepo(users ...*User) *mockUserRepo {
	m := &mockUserRepo{byID: make(map[string]*User)}
	for _, u := range users {
		m.byID[u.ID] = u
	}
	return m
}

func (m *mockUserRepo) FindByID(_ context.Context, id string) (*User, error) {
	u, ok := m.byID[id]
	if !ok {
		return nil, errs.NotFound("user", id)
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepo) FindOne(_ context.Context, f Filter) (*User, error) {
	for _, u := range m.byID {
		if u.Email == f.Email {
			return u, nil
		}
	}
	return nil, errs.NotFound("user", f.Email)
}

func (m *mockUserRepo) FindAll(_ context.Context, _ Filter, p pagination.Params) (pagination.Result[User], error) {
	items := make([]User, 0, len(m.byID))
	for _, u := range m.byID {
		items = append(items, *u)
	}
	return pagination.CreatePaginatedResult(items, int64(len(items)), p.Page, p.Limit), nil
}

func (m *mockUserRepo) Create(_ context.Context, u *User) error {
	m.created = u
	return m.createErr
}

func (m *mockUserRepo) Update(_ context.Context, u *User) error {
	m.updated = u
	return nil
}

func (m *mockUserRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.byID[id]; !ok {
		return errs.NotFound("user", id)
	}
	m.deleted = id
	return nil
}

func (m *mockUserRepo) ExistsByEmail(_ context.Context, _ string) (bool, error) {
	return m.exists, m.existsErr
}

func newTestService(repo Repository) *Service {
	s := NewService(repo)
	s.hashCost = bcrypt.MinCost
	s.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	return s
}

func TestService_Create(t *testing.T) {
	tests := []struct {
		name    string
		repo    *mockUserRepo
		req     CreateRequest
		wantErr error
	}{
		{
			name: "creates active user with normalized email",
			repo: newMockUserRepo(),
			req:  CreateRequest{Email: "  Jane@Example.COM ", Password: "secret-pass", Name: "Jane"},
		},
		{
			name:    "short password",
			repo:    newMockUserRepo(),
			req:     CreateRequest{Email: "jane@example.com", Password: "short", Name: "Jane"},
			wantErr: errs.ErrValidation,
		},
		{
			name:    "invalid email",
			repo:    newMockUserRepo(),
			req:     CreateRequest{Email: "not-an-email", Password: "secret-pass", Name: "Jane"},
			wantErr: errs.ErrValidation,
		},
		{
			name:    "missing name",
			repo:    newMockUserRepo(),
			req:     CreateRequest{Email: "jane@example.com", Password: "secret-pass"},
			wantErr: errs.ErrValidation,
		},
		{
			name:    "taken email",
			repo:    &mockUserRepo{exists: true},
			req:     CreateRequest{Email: "jane@example.com", Password: "secret-pass", Name: "Jane"},
			wantErr: errs.ErrConflict,
		},
		{
			name:    "storage race reports conflict",
			repo:    &mockUserRepo{createErr: errs.Conflict("user", "email")},
			req:     CreateRequest{Email: "jane@example.com", Password: "secret-pass", Name: "Jane"},
			wantErr: errs.ErrConflict,
		},
		{
			name:    "lookup failure",
			repo:    &mockUserRepo{existsErr: errors.New("connection reset")},
			req:     CreateRequest{Email: "jane@example.com", Password: "secret-pass", Name: "Jane"},
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(tt.repo)
			u, err := svc.Create(context.Background(), tt.req)

			if tt.repo.existsErr != nil {
				require.Error(t, err)
				return
			}
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "jane@example.com", u.Email)
			assert.True(t, u.IsActive)
			assert.NotEqual(t, tt.req.Password, u.PasswordHash)
			assert.True(t, CheckPassword(u, tt.req.Password))
			assert.Equal(t, u, tt.repo.created)
		})
	}
}

func TestService_Update(t *testing.T) {
	existing := &User{ID: "u-1", Email: "a@example.com", Name: "A", IsActive: true, PasswordHash: "x"}
	repo := newMockUserRepo(existing)
	svc := newTestService(repo)

	name := "Alice"
	inactive := false
	password := "new-password"
	u, err := svc.Update(context.Background(), "u-1", UpdateRequest{Name: &name, IsActive: &inactive, Password: &password})
	require.NoError(t, err)

	assert.Equal(t, "Alice", u.Name)
	assert.False(t, u.IsActive)
	assert.True(t, CheckPassword(u, password))
	assert.Equal(t, svc.now(), u.UpdatedAt)
	assert.Equal(t, u, repo.updated)

	blank := "  "
	_, err = svc.Update(context.Background(), "u-1", UpdateRequest{Name: &blank})
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = svc.Update(context.Background(), "missing", UpdateRequest{})
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestService_Delete(t *testing.T) {
	repo := newMockUserRepo(&User{ID: "u-1"})
	svc := newTestService(repo)

	require.NoError(t, svc.Delete(context.Background(), "u-1"))
	assert.Equal(t, "u-1", repo.deleted)
	require.ErrorIs(t, svc.Delete(context.Background(), "u-2"), errs.ErrNotFound)
}

func TestNew(t *testing.T) {
	now := time.Now()
	u, err := New("Bob@Example.com", " Bob ", "", "hash", now)
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", u.Email)
	assert.Equal(t, "Bob", u.Name)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, now, u.CreatedAt)

	_, err = New("bob@example.com", "Bob", "", "", now)
	require.ErrorIs(t, err, errs.ErrValidation)
}
