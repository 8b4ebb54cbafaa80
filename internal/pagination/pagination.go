// Package pagination implements page/limit listing shared by every repository.
package pagination

import (
	"math"

	"github.com/xenking/backoffice/internal/domain/errs"
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params selects one page of a listing. Page is 1-based.
type Params struct {
	Page  int
	Limit int
}

// NewParams validates page and limit. Zero or negative values are rejected
// rather than defaulted so that TotalPages never divides by zero.
func NewParams(page, limit int) (Params, error) {
	if page < 1 {
		return Params{}, errs.Validation("page must be at least 1, got %d", page)
	}
	if limit < 1 {
		return Params{}, errs.Validation("limit must be at least 1, got %d", limit)
	}
	if limit > MaxLimit {
		return Params{}, errs.Validation("limit must be at most %d, got %d", MaxLimit, limit)
	}
	if page-1 > math.MaxInt/limit {
		return Params{}, errs.Validation("page %d is out of range for limit %d", page, limit)
	}
	return Params{Page: page, Limit: limit}, nil
}

// Default returns the first page with the default limit.
func Default() Params {
	return Params{Page: DefaultPage, Limit: DefaultLimit}
}

// Skip returns the number of items preceding the page.
func (p Params) Skip() int {
	return Skip(p.Page, p.Limit)
}

// Skip returns (page-1)*limit, or 0 for a non-positive page. Products past
// math.MaxInt saturate.
func Skip(page, limit int) int {
	if page < 1 || limit < 1 {
		return 0
	}
	if page-1 > math.MaxInt/limit {
		return math.MaxInt
	}
	return (page - 1) * limit
}

// Result is one page of items together with the listing totals.
type Result[T any] struct {
	Items      []T
	Total      int64
	Page       int
	Limit      int
	TotalPages int
}

// CreatePaginatedResult assembles a Result, deriving TotalPages as
// ceil(total/limit). A non-positive limit yields zero pages.
func CreatePaginatedResult[T any](items []T, total int64, page, limit int) Result[T] {
	if items == nil {
		items = []T{}
	}
	totalPages := 0
	if limit > 0 {
		totalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	return Result[T]{
		Items:      items,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}
}

// Map converts the items of r with fn, keeping the totals.
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	items := make([]U, len(r.Items))
	for i, item := range r.Items {
		items[i] = fn(item)
	}
	return Result[U]{
		Items:      items,
		Total:      r.Total,
		Page:       r.Page,
		Limit:      r.Limit,
		TotalPages: r.TotalPages,
	}
}

// Window returns the bounds of the page within a slice of n items.
func (p Params) Window(n int) (from, to int) {
	from = min(p.Skip(), n)
	to = min(from+p.Limit, n)
	return from, to
}
