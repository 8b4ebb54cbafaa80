// Package event defines the domain events published to the event bus.
//
// An Envelope is a tagged variant: Kind selects which payload pointer is set.
// Consumers switch on Kind instead of probing payload fields.
package event

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind discriminates event payloads. It doubles as the bus job name.
type Kind string

const (
	KindPromoCodeApplied Kind = "promo_code_applied"
	KindOrderCreated     Kind = "order_created"
)

// Kinds lists every known event kind.
func Kinds() []Kind {
	return []Kind{KindPromoCodeApplied, KindOrderCreated}
}

// Envelope carries exactly one event payload.
type Envelope struct {
	ID         string
	Kind       Kind
	OccurredAt time.Time

	PromoCodeApplied *PromoCodeApplied
	OrderCreated     *OrderCreated
}

// PromoCodeApplied is emitted after a promo code usage is committed.
type PromoCodeApplied struct {
	PromoCodeID    string
	Code           string
	UserID         string
	OrderID        string
	OrderAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
	Timestamp      time.Time
}

// OrderCreated is emitted after an order is persisted.
type OrderCreated struct {
	OrderID        string
	UserID         string
	Amount         decimal.Decimal
	PromoCodeID    string
	DiscountAmount decimal.NullDecimal
	Timestamp      time.Time
}

// NewPromoCodeApplied wraps p into an envelope with a fresh id.
func NewPromoCodeApplied(p PromoCodeApplied) Envelope {
	return Envelope{
		ID:               uuid.NewString(),
		Kind:             KindPromoCodeApplied,
		OccurredAt:       p.Timestamp,
		PromoCodeApplied: &p,
	}
}

// NewOrderCreated wraps p into an envelope with a fresh id.
func NewOrderCreated(p OrderCreated) Envelope {
	return Envelope{
		ID:           uuid.NewString(),
		Kind:         KindOrderCreated,
		OccurredAt:   p.Timestamp,
		OrderCreated: &p,
	}
}

// Publisher enqueues events for asynchronous consumers.
type Publisher interface {
	Publish(ctx context.Context, e Envelope) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, e Envelope) error

func (f PublisherFunc) Publish(ctx context.Context, e Envelope) error { return f(ctx, e) }
