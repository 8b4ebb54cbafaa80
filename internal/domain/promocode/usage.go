package promocode

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/backoffice/internal/domain/errs"
)

// Usage records one application of a promo code to an order.
type Usage struct {
	ID             string
	PromoCodeID    string
	UserID         string
	OrderID        string
	DiscountAmount decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UsageFilter narrows usage listings.
type UsageFilter struct {
	PromoCodeID string
	UserID      string
}

// NewUsage builds a usage record, validating required fields.
func NewUsage(promoCodeID, userID, orderID string, discount decimal.Decimal, now time.Time) (*Usage, error) {
	switch {
	case promoCodeID == "":
		return nil, errs.Validation("promo code id is required")
	case userID == "":
		return nil, errs.Validation("user id is required")
	case orderID == "":
		return nil, errs.Validation("order id is required")
	case discount.IsNegative():
		return nil, errs.Validation("discount must not be negative")
	}
	return &Usage{
		ID:             uuid.NewString(),
		PromoCodeID:    promoCodeID,
		UserID:         userID,
		OrderID:        orderID,
		DiscountAmount: discount,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}
