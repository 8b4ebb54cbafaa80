// Package analytics turns domain events into append-only warehouse rows.
package analytics

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/backoffice/internal/domain/event"
	"github.com/xenking/backoffice/internal/eventbus"
)

// Analytics tables.
const (
	TablePromoCodeUsage = "promo_code_usage_events"
	TableOrders         = "order_events"
)

// Row maps column names to values. Values are strings, decimals, times or
// nil.
type Row map[string]any

// Sink stores rows. Inserting the same event_id twice must be harmless.
type Sink interface {
	Insert(ctx context.Context, table string, row Row) error
}

// Subscriber registers event handlers, typically an eventbus.Bus.
type Subscriber interface {
	Subscribe(kind event.Kind, h eventbus.Handler)
}

// Consumer writes one row per consumed event.
type Consumer struct {
	sink Sink
}

// NewConsumer creates a Consumer writing to sink.
func NewConsumer(sink Sink) *Consumer {
	return &Consumer{sink: sink}
}

// Register subscribes the consumer to every event kind.
func (c *Consumer) Register(s Subscriber) {
	for _, kind := range event.Kinds() {
		s.Subscribe(kind, c.Handle)
	}
}

// Handle inserts the row for e. Errors are returned so the bus retries.
func (c *Consumer) Handle(ctx context.Context, e event.Envelope) error {
	table, row, err := ToRow(e)
	if err != nil {
		return err
	}
	if err := c.sink.Insert(ctx, table, row); err != nil {
		return errors.Wrapf(err, "insert into %s", table)
	}
	return nil
}

// ToRow maps e to its table and row.
func ToRow(e event.Envelope) (string, Row, error) {
	switch e.Kind {
	case event.KindPromoCodeApplied:
		p := e.PromoCodeApplied
		if p == nil {
			return "", nil, errors.Errorf("event %s: missing %s payload", e.ID, e.Kind)
		}
		return TablePromoCodeUsage, Row{
			"event_id":        e.ID,
			"promo_code_id":   p.PromoCodeID,
			"promo_code":      p.Code,
			"user_id":         p.UserID,
			"order_id":        p.OrderID,
			"order_amount":    p.OrderAmount,
			"discount_amount": p.DiscountAmount,
			"occurred_at":     p.Timestamp.UTC(),
		}, nil
	case event.KindOrderCreated:
		p := e.OrderCreated
		if p == nil {
			return "", nil, errors.Errorf("event %s: missing %s payload", e.ID, e.Kind)
		}
		row := Row{
			"event_id":        e.ID,
			"order_id":        p.OrderID,
			"user_id":         p.UserID,
			"amount":          p.Amount,
			"promo_code_id":   nil,
			"discount_amount": nil,
			"occurred_at":     p.Timestamp.UTC(),
		}
		if p.PromoCodeID != "" {
			row["promo_code_id"] = p.PromoCodeID
		}
		if p.DiscountAmount.Valid {
			row["discount_amount"] = p.DiscountAmount.Decimal
		}
		return TableOrders, row, nil
	default:
		return "", nil, errors.Errorf("event %s: unsupported kind %q", e.ID, e.Kind)
	}
}
