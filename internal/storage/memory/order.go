package memory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/backoffice/internal/domain/errs"
	"github.com/xenking/backoffice/internal/domain/order"
	"github.com/xenking/backoffice/internal/pagination"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository stores orders in a Store.
type OrderRepository struct {
	s *Store
}

func (r *OrderRepository) FindByID(_ context.Context, id string) (*order.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	o, ok := r.s.orders[id]
	if !ok {
		return nil, errs.NotFound("order", id)
	}
	return &o, nil
}

func (r *OrderRepository) FindOne(_ context.Context, f order.Filter) (*order.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	res := page(r.s.orders, orderMatcher(f), orderKey, pagination.Params{Page: 1, Limit: 1})
	if len(res.Items) == 0 {
		return nil, errs.NotFound("order", f.UserID)
	}
	return &res.Items[0], nil
}

func (r *OrderRepository) FindAll(_ context.Context, f order.Filter, p pagination.Params) (pagination.Result[order.Order], error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return page(r.s.orders, orderMatcher(f), orderKey, p), nil
}

func (r *OrderRepository) Create(_ context.Context, o *order.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.orders[o.ID]; ok {
		return errs.Conflict("order", "id")
	}
	r.s.orders[o.ID] = *o
	return nil
}

func (r *OrderRepository) AttachDiscount(_ context.Context, id, promoCodeID string, discount decimal.Decimal, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	o, ok := r.s.orders[id]
	if !ok {
		return errs.NotFound("order", id)
	}
	if err := o.AttachDiscount(promoCodeID, discount, at); err != nil {
		return err
	}
	r.s.orders[id] = o
	return nil
}

func orderKey(o order.Order) (time.Time, string) { return o.CreatedAt, o.ID }

func orderMatcher(f order.Filter) func(order.Order) bool {
	return func(o order.Order) bool {
		if f.UserID != "" && o.UserID != f.UserID {
			return false
		}
		if f.PromoCodeID != "" && o.PromoCodeID != f.PromoCodeID {
			return false
		}
		return true
	}
}
