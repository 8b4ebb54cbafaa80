package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/backoffice/internal/domain/errs"
	"github.com/xenking/backoffice/internal/domain/event"
	"github.com/xenking/backoffice/internal/domain/user"
	"github.com/xenking/backoffice/internal/pagination"
)

// UserLookup resolves order owners.
type UserLookup interface {
	FindByID(ctx context.Context, id string) (*user.User, error)
}

// CreateRequest holds the input for creating an order.
type CreateRequest struct {
	UserID string
	Amount decimal.Decimal
}

// Service encapsulates order business logic.
type Service struct {
	orders Repository
	users  UserLookup
	events event.Publisher
	now    func() time.Time
}

// NewService creates an order Service with the required dependencies.
func NewService(orders Repository, users UserLookup, events event.Publisher) *Service {
	return &Service{
		orders: orders,
		users:  users,
		events: events,
		now:    time.Now,
	}
}

// Create validates and persists an order for an active user, then publishes
// OrderCreated. A publish failure leaves the order persisted and is
// returned as a transient error.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	now := s.now().UTC()
	o, err := New(req.UserID, req.Amount, now)
	if err != nil {
		return nil, err
	}

	u, err := s.users.FindByID(ctx, o.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "find user")
	}
	if !u.IsActive {
		return nil, errs.Validation("user %s is inactive", u.ID)
	}

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	payload := event.OrderCreated{
		OrderID:   o.ID,
		UserID:    o.UserID,
		Amount:    o.Amount,
		Timestamp: now,
	}
	if o.HasDiscount() {
		payload.PromoCodeID = o.PromoCodeID
		payload.DiscountAmount = decimal.NewNullDecimal(o.DiscountAmount)
	}
	if err := s.events.Publish(ctx, event.NewOrderCreated(payload)); err != nil {
		return nil, errors.Wrapf(errs.Transient("publish order created", err), "order %s persisted", o.ID)
	}

	return o, nil
}

// Get returns the order with the given id.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "find order")
	}
	return o, nil
}

// List returns one page of orders matching filter.
func (s *Service) List(ctx context.Context, filter Filter, page pagination.Params) (pagination.Result[Order], error) {
	res, err := s.orders.FindAll(ctx, filter, page)
	if err != nil {
		return pagination.Result[Order]{}, errors.Wrap(err, "list orders")
	}
	return res, nil
}
