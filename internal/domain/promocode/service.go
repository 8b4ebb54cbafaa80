package promocode

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/backoffice/internal/domain/errs"
	"github.com/xenking/backoffice/internal/domain/event"
	"github.com/xenking/backoffice/internal/domain/order"
	"github.com/xenking/backoffice/internal/pagination"
)

// OrderStore is the subset of order persistence the apply use case needs.
type OrderStore interface {
	FindByID(ctx context.Context, id string) (*order.Order, error)
	AttachDiscount(ctx context.Context, id, promoCodeID string, discount decimal.Decimal, at time.Time) error
}

// ApplyRequest holds the input for applying a code to an order.
type ApplyRequest struct {
	Code    string
	UserID  string
	OrderID string
}

// ApplyResult holds the outcome of a successful application.
type ApplyResult struct {
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
	PromoCode      *PromoCode
}

// UpdateRequest holds a partial update. Nil fields are left unchanged;
// ClearStartsAt and ClearEndsAt remove the window bounds.
type UpdateRequest struct {
	DiscountPercent *int
	TotalLimit      *int
	PerUserLimit    *int
	IsActive        *bool
	StartsAt        *time.Time
	EndsAt          *time.Time
	ClearStartsAt   bool
	ClearEndsAt     bool
}

// Service implements promo code management and application.
type Service struct {
	codes  Repository
	orders OrderStore
	events event.Publisher
	now    func() time.Time
}

// NewService creates a promo code Service.
func NewService(codes Repository, orders OrderStore, events event.Publisher) *Service {
	return &Service{
		codes:  codes,
		orders: orders,
		events: events,
		now:    time.Now,
	}
}

// Apply applies a promo code to one of the user's orders.
//
// Eligibility is checked up front so that ordinary rejections leave no trace.
// The reservation then re-checks the limits atomically in storage, so
// concurrent applications cannot overshoot them. After the reservation is
// committed the usage stands even if a later step fails.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	code := NormalizeCode(req.Code)
	if code == "" {
		return nil, errs.Validation("code is required")
	}
	if req.UserID == "" {
		return nil, errs.Validation("user id is required")
	}

	pc, err := s.codes.FindOne(ctx, Filter{Code: code})
	if err != nil {
		return nil, errors.Wrap(err, "find promo code")
	}

	o, err := s.orders.FindByID(ctx, req.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "find order")
	}
	if o.UserID != req.UserID {
		return nil, ErrOrderOwnership
	}
	if o.HasDiscount() {
		return nil, errs.Conflict("order", "promo code")
	}

	used, err := s.codes.CountUsages(ctx, pc.ID, req.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "count usages")
	}
	now := s.now().UTC()
	if err := pc.ValidateUsage(now, used); err != nil {
		return nil, err
	}

	discount := pc.CalculateDiscount(o.Amount).Round(2)
	final := o.Amount.Sub(discount)

	usage, err := NewUsage(pc.ID, req.UserID, o.ID, discount, now)
	if err != nil {
		return nil, err
	}
	reserved, err := s.codes.ReserveUsage(ctx, usage)
	if err != nil {
		return nil, errors.Wrap(err, "reserve usage")
	}

	if err := s.orders.AttachDiscount(ctx, o.ID, pc.ID, discount, now); err != nil {
		return nil, errors.Wrap(err, "attach discount")
	}

	e := event.NewPromoCodeApplied(event.PromoCodeApplied{
		PromoCodeID:    pc.ID,
		Code:           pc.Code,
		UserID:         req.UserID,
		OrderID:        o.ID,
		OrderAmount:    o.Amount,
		DiscountAmount: discount,
		Timestamp:      now,
	})
	if err := s.events.Publish(ctx, e); err != nil {
		return nil, errors.Wrapf(errs.Transient("publish promo code applied", err), "usage %s committed", usage.ID)
	}

	return &ApplyResult{
		DiscountAmount: discount,
		FinalAmount:    final,
		PromoCode:      reserved,
	}, nil
}

// Create registers a new promo code.
func (s *Service) Create(ctx context.Context, p Params) (*PromoCode, error) {
	pc, err := New(p, s.now().UTC())
	if err != nil {
		return nil, err
	}
	exists, err := s.codes.ExistsByCode(ctx, pc.Code)
	if err != nil {
		return nil, errors.Wrap(err, "check code")
	}
	if exists {
		return nil, errs.Conflict("promo code", "code")
	}
	if err := s.codes.Create(ctx, pc); err != nil {
		return nil, errors.Wrap(err, "create promo code")
	}
	return pc, nil
}

// Get returns the promo code with the given id.
func (s *Service) Get(ctx context.Context, id string) (*PromoCode, error) {
	pc, err := s.codes.FindByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "find promo code")
	}
	return pc, nil
}

// List returns one page of promo codes matching filter.
func (s *Service) List(ctx context.Context, filter Filter, page pagination.Params) (pagination.Result[PromoCode], error) {
	filter.Code = NormalizeCode(filter.Code)
	res, err := s.codes.FindAll(ctx, filter, page)
	if err != nil {
		return pagination.Result[PromoCode]{}, errors.Wrap(err, "list promo codes")
	}
	return res, nil
}

// Update applies a partial update. The code itself and UsedCount are
// immutable; TotalLimit cannot drop below UsedCount.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*PromoCode, error) {
	pc, err := s.codes.FindByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "find promo code")
	}

	p := Params{
		Code:            pc.Code,
		DiscountPercent: pc.DiscountPercent,
		TotalLimit:      pc.TotalLimit,
		PerUserLimit:    pc.PerUserLimit,
		IsActive:        pc.IsActive,
		StartsAt:        pc.StartsAt,
		EndsAt:          pc.EndsAt,
	}
	if req.DiscountPercent != nil {
		p.DiscountPercent = *req.DiscountPercent
	}
	if req.TotalLimit != nil {
		p.TotalLimit = *req.TotalLimit
	}
	if req.PerUserLimit != nil {
		p.PerUserLimit = *req.PerUserLimit
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}
	if req.ClearStartsAt {
		p.StartsAt = nil
	} else if req.StartsAt != nil {
		p.StartsAt = req.StartsAt
	}
	if req.ClearEndsAt {
		p.EndsAt = nil
	} else if req.EndsAt != nil {
		p.EndsAt = req.EndsAt
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	if p.TotalLimit < pc.UsedCount {
		return nil, ErrLimitBelowUsage
	}

	pc.DiscountPercent = p.DiscountPercent
	pc.TotalLimit = p.TotalLimit
	pc.PerUserLimit = p.PerUserLimit
	pc.IsActive = p.IsActive
	pc.StartsAt = p.StartsAt
	pc.EndsAt = p.EndsAt
	pc.UpdatedAt = s.now().UTC()

	// Usages may commit after the read above; the repository re-checks the
	// limit against the stored count.
	if err := s.codes.Update(ctx, pc); err != nil {
		if errors.Is(err, ErrLimitBelowUsage) {
			return nil, ErrLimitBelowUsage
		}
		return nil, errors.Wrap(err, "update promo code")
	}
	return pc, nil
}

// Delete removes the promo code with the given id. Recorded usages are kept.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.codes.Delete(ctx, id); err != nil {
		return errors.Wrap(err, "delete promo code")
	}
	return nil
}

// ListUsages returns one page of usages of the promo code with the given id.
func (s *Service) ListUsages(ctx context.Context, id string, page pagination.Params) (pagination.Result[Usage], error) {
	if _, err := s.codes.FindByID(ctx, id); err != nil {
		return pagination.Result[Usage]{}, errors.Wrap(err, "find promo code")
	}
	res, err := s.codes.ListUsages(ctx, UsageFilter{PromoCodeID: id}, page)
	if err != nil {
		return pagination.Result[Usage]{}, errors.Wrap(err, "list usages")
	}
	return res, nil
}
