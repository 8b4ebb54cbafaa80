// Package order contains the order entity and the create-order use case.
package order

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/backoffice/internal/domain/crud"
	"github.com/xenking/backoffice/internal/domain/errs"
)

// Order is a customer purchase. Once created, only the discount fields are
// ever attached; amounts are never rewritten.
type Order struct {
	ID             string
	UserID         string
	Amount         decimal.Decimal
	PromoCodeID    string
	DiscountAmount decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// New builds an order for userID, validating required fields.
func New(userID string, amount decimal.Decimal, now time.Time) (*Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errs.Validation("user id is required")
	}
	if amount.IsNegative() {
		return nil, errs.Validation("amount must not be negative")
	}
	return &Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		Amount:    amount,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// HasDiscount reports whether a promo code has been applied.
func (o *Order) HasDiscount() bool {
	return o.PromoCodeID != ""
}

// FinalAmount is Amount minus the applied discount.
func (o *Order) FinalAmount() decimal.Decimal {
	return o.Amount.Sub(o.DiscountAmount)
}

// AttachDiscount records an applied promo code. An order carries at most one.
func (o *Order) AttachDiscount(promoCodeID string, discount decimal.Decimal, now time.Time) error {
	if o.HasDiscount() {
		return errs.Conflict("order", "promo code")
	}
	if promoCodeID == "" {
		return errs.Validation("promo code id is required")
	}
	if discount.IsNegative() || discount.GreaterThan(o.Amount) {
		return errs.Validation("discount %s out of range [0, %s]", discount, o.Amount)
	}
	o.PromoCodeID = promoCodeID
	o.DiscountAmount = discount
	o.UpdatedAt = now
	return nil
}

// Filter narrows order listings. Zero fields match everything.
type Filter struct {
	UserID      string
	PromoCodeID string
}

// Repository persists orders. Orders are never replaced or deleted.
type Repository interface {
	crud.Reader[Order, Filter]
	crud.Creator[Order]
	// AttachDiscount sets the discount fields of an order that has none yet.
	// An order that already carries a promo code yields errs.ConflictError.
	AttachDiscount(ctx context.Context, id, promoCodeID string, discount decimal.Decimal, at time.Time) error
}
