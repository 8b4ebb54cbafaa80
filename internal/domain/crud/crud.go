// Package crud declares the generic repository capabilities shared by the
// domain packages. Each domain composes the subset it needs: orders are
// readable and insertable but never replaced, users and promo codes support
// the full set.
package crud

import (
	"context"

	"github.com/xenking/backoffice/internal/pagination"
)

// Reader looks up entities of type T matching filters of type F.
// Misses are reported as errs.NotFoundError.
type Reader[T, F any] interface {
	FindByID(ctx context.Context, id string) (*T, error)
	FindOne(ctx context.Context, filter F) (*T, error)
	FindAll(ctx context.Context, filter F, page pagination.Params) (pagination.Result[T], error)
}

// Creator inserts new entities. Unique index violations are reported as
// errs.ConflictError.
type Creator[T any] interface {
	Create(ctx context.Context, v *T) error
}

// Writer replaces and removes existing entities.
type Writer[T any] interface {
	Creator[T]
	Update(ctx context.Context, v *T) error
	Delete(ctx context.Context, id string) error
}

// Repository is the full CRUD capability set.
type Repository[T, F any] interface {
	Reader[T, F]
	Writer[T]
}
