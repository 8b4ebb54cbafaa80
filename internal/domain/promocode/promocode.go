// Package promocode implements promotional discount codes: eligibility
// validation, discount computation and the apply-to-order use case.
package promocode

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/backoffice/internal/domain/crud"
	"github.com/xenking/backoffice/internal/domain/errs"
	"github.com/xenking/backoffice/internal/pagination"
)

// Eligibility failures. Each is a distinct kind matching errs.ErrValidation.
var (
	ErrInactiveCode         = &errs.ValidationError{Reason: "promo code is inactive"}
	ErrTotalLimitExceeded   = &errs.ValidationError{Reason: "promo code usage limit reached"}
	ErrPerUserLimitExceeded = &errs.ValidationError{Reason: "promo code usage limit per user reached"}
	ErrNotYetStarted        = &errs.ValidationError{Reason: "promo code is not active yet"}
	ErrExpired              = &errs.ValidationError{Reason: "promo code has expired"}
	ErrOrderOwnership       = &errs.ValidationError{Reason: "order belongs to another user"}
	ErrLimitBelowUsage      = &errs.ValidationError{Reason: "total limit is below used count"}
)

const maxCodeLength = 64

var hundred = decimal.NewFromInt(100)

// PromoCode is a percentage discount with global and per-user usage limits
// and an optional validity window.
type PromoCode struct {
	ID              string
	Code            string
	DiscountPercent int
	TotalLimit      int
	PerUserLimit    int
	UsedCount       int
	IsActive        bool
	StartsAt        *time.Time
	EndsAt          *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Params holds the admin-editable attributes of a promo code.
type Params struct {
	Code            string
	DiscountPercent int
	TotalLimit      int
	PerUserLimit    int
	IsActive        bool
	StartsAt        *time.Time
	EndsAt          *time.Time
}

// NormalizeCode trims and upper-cases a code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// New builds a promo code from p, validating ranges.
func New(p Params, now time.Time) (*PromoCode, error) {
	p.Code = NormalizeCode(p.Code)
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &PromoCode{
		ID:              uuid.NewString(),
		Code:            p.Code,
		DiscountPercent: p.DiscountPercent,
		TotalLimit:      p.TotalLimit,
		PerUserLimit:    p.PerUserLimit,
		IsActive:        p.IsActive,
		StartsAt:        p.StartsAt,
		EndsAt:          p.EndsAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func (p Params) validate() error {
	if p.Code == "" {
		return errs.Validation("code is required")
	}
	if len(p.Code) > maxCodeLength {
		return errs.Validation("code must be at most %d characters", maxCodeLength)
	}
	for _, r := range p.Code {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return errs.Validation("code %q contains invalid character %q", p.Code, r)
		}
	}
	if p.DiscountPercent < 1 || p.DiscountPercent > 100 {
		return errs.Validation("discount percent must be within [1, 100], got %d", p.DiscountPercent)
	}
	if p.TotalLimit < 1 {
		return errs.Validation("total limit must be at least 1, got %d", p.TotalLimit)
	}
	if p.PerUserLimit < 1 {
		return errs.Validation("per-user limit must be at least 1, got %d", p.PerUserLimit)
	}
	if p.StartsAt != nil && p.EndsAt != nil && !p.EndsAt.After(*p.StartsAt) {
		return errs.Validation("ends at must be after starts at")
	}
	return nil
}

// ValidateUsage checks whether the code may be used once more by a user who
// has already used it userUsageCount times. Checks run in a fixed order and
// the first failure wins. The code is never mutated.
func (c *PromoCode) ValidateUsage(now time.Time, userUsageCount int) error {
	switch {
	case !c.IsActive:
		return ErrInactiveCode
	case c.UsedCount >= c.TotalLimit:
		return ErrTotalLimitExceeded
	case userUsageCount >= c.PerUserLimit:
		return ErrPerUserLimitExceeded
	case c.StartsAt != nil && now.Before(*c.StartsAt):
		return ErrNotYetStarted
	case c.EndsAt != nil && now.After(*c.EndsAt):
		return ErrExpired
	}
	return nil
}

// CalculateDiscount returns amount * DiscountPercent / 100 without rounding.
func (c *PromoCode) CalculateDiscount(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(int64(c.DiscountPercent))).Div(hundred)
}

// IncrementUsage records one more usage, refusing to exceed TotalLimit.
func (c *PromoCode) IncrementUsage() error {
	if c.UsedCount >= c.TotalLimit {
		return ErrTotalLimitExceeded
	}
	c.UsedCount++
	return nil
}

// Filter narrows promo code listings. Zero fields match everything.
type Filter struct {
	Code     string
	IsActive *bool
}

// Repository persists promo codes and their usages.
//
// Update writes TotalLimit only while the stored UsedCount does not exceed
// it and reports ErrLimitBelowUsage otherwise.
type Repository interface {
	crud.Repository[PromoCode, Filter]
	ExistsByCode(ctx context.Context, code string) (bool, error)
	// CountUsages returns how many times userID has used the promo code.
	CountUsages(ctx context.Context, promoCodeID, userID string) (int, error)
	ListUsages(ctx context.Context, filter UsageFilter, page pagination.Params) (pagination.Result[Usage], error)
	// ReserveUsage atomically increments UsedCount (only while below
	// TotalLimit), increments the per-user counter (only while below
	// PerUserLimit) and inserts u. Either all three happen or none does.
	// Lost races are reported as ErrTotalLimitExceeded,
	// ErrPerUserLimitExceeded or, for an order already used, errs.ConflictError.
	ReserveUsage(ctx context.Context, u *Usage) (*PromoCode, error)
}
