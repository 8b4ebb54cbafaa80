// Package memory provides in-process repositories with the same semantics as
// the MongoDB adapter. All repositories of a Store share one lock, so
// multi-entity operations such as usage reservation are atomic.
package memory

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/xenking/backoffice/internal/domain/auth"
	"github.com/xenking/backoffice/internal/domain/order"
	"github.com/xenking/backoffice/internal/domain/promocode"
	"github.com/xenking/backoffice/internal/domain/user"
	"github.com/xenking/backoffice/internal/pagination"
)

// Store holds every collection in memory.
type Store struct {
	mu      sync.Mutex
	users   map[string]user.User
	orders  map[string]order.Order
	codes   map[string]promocode.PromoCode
	usages  map[string]promocode.Usage
	apiKeys map[string]auth.APIKeyInfo
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:   make(map[string]user.User),
		orders:  make(map[string]order.Order),
		codes:   make(map[string]promocode.PromoCode),
		usages:  make(map[string]promocode.Usage),
		apiKeys: make(map[string]auth.APIKeyInfo),
	}
}

// Users returns the user repository.
func (s *Store) Users() *UserRepository { return &UserRepository{s: s} }

// Orders returns the order repository.
func (s *Store) Orders() *OrderRepository { return &OrderRepository{s: s} }

// PromoCodes returns the promo code repository.
func (s *Store) PromoCodes() *PromoCodeRepository { return &PromoCodeRepository{s: s} }

// APIKeys returns the API key repository.
func (s *Store) APIKeys() *APIKeyRepository { return &APIKeyRepository{s: s} }

// page filters values with match, orders them newest first and cuts one page.
func page[T any](values map[string]T, match func(T) bool, created func(T) (time.Time, string), p pagination.Params) pagination.Result[T] {
	var all []T
	for _, v := range values {
		if match(v) {
			all = append(all, v)
		}
	}
	slices.SortFunc(all, func(a, b T) int {
		at, aid := created(a)
		bt, bid := created(b)
		if c := bt.Compare(at); c != 0 {
			return c
		}
		return cmp.Compare(aid, bid)
	})
	from, to := p.Window(len(all))
	return pagination.CreatePaginatedResult(all[from:to:to], int64(len(all)), p.Page, p.Limit)
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}
