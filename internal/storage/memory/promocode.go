package memory

import (
	"context"
	"time"

	"github.com/xenking/backoffice/internal/domain/errs"
	"github.com/xenking/backoffice/internal/domain/promocode"
	"github.com/xenking/backoffice/internal/pagination"
)

var _ promocode.Repository = (*PromoCodeRepository)(nil)

// PromoCodeRepository stores promo codes and usages in a Store.
type PromoCodeRepository struct {
	s *Store
}

func clonePromoCode(pc promocode.PromoCode) *promocode.PromoCode {
	pc.StartsAt = clonePtr(pc.StartsAt)
	pc.EndsAt = clonePtr(pc.EndsAt)
	return &pc
}

func (r *PromoCodeRepository) FindByID(_ context.Context, id string) (*promocode.PromoCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	pc, ok := r.s.codes[id]
	if !ok {
		return nil, errs.NotFound("promo code", id)
	}
	return clonePromoCode(pc), nil
}

func (r *PromoCodeRepository) FindOne(_ context.Context, f promocode.Filter) (*promocode.PromoCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	res := page(r.s.codes, codeMatcher(f), codeKey, pagination.Params{Page: 1, Limit: 1})
	if len(res.Items) == 0 {
		return nil, errs.NotFound("promo code", f.Code)
	}
	return clonePromoCode(res.Items[0]), nil
}

func (r *PromoCodeRepository) FindAll(_ context.Context, f promocode.Filter, p pagination.Params) (pagination.Result[promocode.PromoCode], error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	res := page(r.s.codes, codeMatcher(f), codeKey, p)
	return pagination.Map(res, func(pc promocode.PromoCode) promocode.PromoCode {
		return *clonePromoCode(pc)
	}), nil
}

func (r *PromoCodeRepository) Create(_ context.Context, pc *promocode.PromoCode) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.codes[pc.ID]; ok {
		return errs.Conflict("promo code", "id")
	}
	for _, existing := range r.s.codes {
		if existing.Code == pc.Code {
			return errs.Conflict("promo code", "code")
		}
	}
	r.s.codes[pc.ID] = *clonePromoCode(*pc)
	return nil
}

// Update stores the admin-editable fields of pc. Code and UsedCount are
// owned by storage and left untouched.
func (r *PromoCodeRepository) Update(_ context.Context, pc *promocode.PromoCode) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.codes[pc.ID]
	if !ok {
		return errs.NotFound("promo code", pc.ID)
	}
	if stored.UsedCount > pc.TotalLimit {
		return promocode.ErrLimitBelowUsage
	}
	stored.DiscountPercent = pc.DiscountPercent
	stored.TotalLimit = pc.TotalLimit
	stored.PerUserLimit = pc.PerUserLimit
	stored.IsActive = pc.IsActive
	stored.StartsAt = clonePtr(pc.StartsAt)
	stored.EndsAt = clonePtr(pc.EndsAt)
	stored.UpdatedAt = pc.UpdatedAt
	r.s.codes[pc.ID] = stored
	pc.UsedCount = stored.UsedCount
	return nil
}

func (r *PromoCodeRepository) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.codes[id]; !ok {
		return errs.NotFound("promo code", id)
	}
	delete(r.s.codes, id)
	return nil
}

func (r *PromoCodeRepository) ExistsByCode(_ context.Context, code string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, pc := range r.s.codes {
		if pc.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (r *PromoCodeRepository) CountUsages(_ context.Context, promoCodeID, userID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.countUsages(promoCodeID, userID), nil
}

func (r *PromoCodeRepository) countUsages(promoCodeID, userID string) int {
	n := 0
	for _, u := range r.s.usages {
		if u.PromoCodeID == promoCodeID && u.UserID == userID {
			n++
		}
	}
	return n
}

func (r *PromoCodeRepository) ListUsages(_ context.Context, f promocode.UsageFilter, p pagination.Params) (pagination.Result[promocode.Usage], error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	match := func(u promocode.Usage) bool {
		return (f.PromoCodeID == "" || u.PromoCodeID == f.PromoCodeID) &&
			(f.UserID == "" || u.UserID == f.UserID)
	}
	key := func(u promocode.Usage) (time.Time, string) { return u.CreatedAt, u.ID }
	return page(r.s.usages, match, key, p), nil
}

// ReserveUsage re-checks the limits against the stored code and commits the
// usage under the store lock.
func (r *PromoCodeRepository) ReserveUsage(_ context.Context, u *promocode.Usage) (*promocode.PromoCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	pc, ok := r.s.codes[u.PromoCodeID]
	switch {
	case !ok:
		return nil, errs.NotFound("promo code", u.PromoCodeID)
	case !pc.IsActive:
		return nil, promocode.ErrInactiveCode
	}
	if r.countUsages(pc.ID, u.UserID) >= pc.PerUserLimit {
		return nil, promocode.ErrPerUserLimitExceeded
	}
	for _, existing := range r.s.usages {
		if existing.OrderID == u.OrderID {
			return nil, errs.Conflict("promo code usage", "order")
		}
	}
	if err := pc.IncrementUsage(); err != nil {
		return nil, err
	}
	pc.UpdatedAt = u.CreatedAt

	r.s.codes[pc.ID] = pc
	r.s.usages[u.ID] = *u
	return clonePromoCode(pc), nil
}

func codeKey(pc promocode.PromoCode) (time.Time, string) { return pc.CreatedAt, pc.ID }

func codeMatcher(f promocode.Filter) func(promocode.PromoCode) bool {
	return func(pc promocode.PromoCode) bool {
		if f.Code != "" && pc.Code != f.Code {
			return false
		}
		if f.IsActive != nil && pc.IsActive != *f.IsActive {
			return false
		}
		return true
	}
}
