package user

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/backoffice/internal/domain/crud"
	"github.com/xenking/backoffice/internal/domain/errs"
)

// User is a customer account managed from the back-office.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Phone        string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Filter narrows user listings. Zero fields match everything.
type Filter struct {
	Email    string
	IsActive *bool
	// Search matches a case-insensitive substring of name or email.
	Search string
}

// Repository persists users. Email uniqueness is enforced by storage.
type Repository interface {
	crud.Repository[User, Filter]
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// New builds an active user, validating required fields.
func New(email, name, phone, passwordHash string, now time.Time) (*User, error) {
	email = NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.Validation("name is required")
	}
	if passwordHash == "" {
		return nil, errs.Validation("password hash is required")
	}
	return &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		Name:         name,
		Phone:        strings.TrimSpace(phone),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func validateEmail(email string) error {
	if email == "" {
		return errs.Validation("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return errs.Validation("email %q is invalid", email)
	}
	return nil
}
