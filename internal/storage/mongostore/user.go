package mongostore

import (
	"context"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/xenking/backoffice/internal/domain/user"
	"github.com/xenking/backoffice/internal/pagination"
)

var _ user.Repository = (*UserRepository)(nil)

type userDoc struct {
	ID           string    `bson:"_id"`
	Email        string    `bson:"email"`
	PasswordHash string    `bson:"password_hash"`
	Name         string    `bson:"name"`
	Phone        string    `bson:"phone,omitempty"`
	IsActive     bool      `bson:"is_active"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func userToDoc(u *user.User) userDoc {
	return userDoc{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Name:         u.Name,
		Phone:        u.Phone,
		IsActive:     u.IsActive,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (d userDoc) toUser() (user.User, error) {
	return user.User{
		ID:           d.ID,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Name:         d.Name,
		Phone:        d.Phone,
		IsActive:     d.IsActive,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}, nil
}

// UserRepository stores users in the users collection.
type UserRepository struct {
	c collection
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*user.User, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id}}, id)
}

func (r *UserRepository) FindOne(ctx context.Context, f user.Filter) (*user.User, error) {
	return r.findOne(ctx, userFilter(f), f.Email)
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.D, key string) (*user.User, error) {
	var d userDoc
	if err := r.c.findOne(ctx, filter, key, &d); err != nil {
		return nil, err
	}
	u, err := d.toUser()
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) FindAll(ctx context.Context, f user.Filter, p pagination.Params) (pagination.Result[user.User], error) {
	return findPage(ctx, r.c, userFilter(f), p, userDoc.toUser)
}

func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	return r.c.insert(ctx, userToDoc(u))
}

func (r *UserRepository) Update(ctx context.Context, u *user.User) error {
	return r.c.updateByID(ctx, u.ID, bson.D{{Key: "$set", Value: bson.D{
		{Key: "email", Value: u.Email},
		{Key: "password_hash", Value: u.PasswordHash},
		{Key: "name", Value: u.Name},
		{Key: "phone", Value: u.Phone},
		{Key: "is_active", Value: u.IsActive},
		{Key: "updated_at", Value: u.UpdatedAt},
	}}})
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	return r.c.deleteByID(ctx, id)
}

func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.c.exists(ctx, bson.D{{Key: "email", Value: email}})
}

func userFilter(f user.Filter) bson.D {
	filter := bson.D{}
	if f.Email != "" {
		filter = append(filter, bson.E{Key: "email", Value: f.Email})
	}
	if f.IsActive != nil {
		filter = append(filter, bson.E{Key: "is_active", Value: *f.IsActive})
	}
	if f.Search != "" {
		pattern := regexp.QuoteMeta(f.Search)
		filter = append(filter, bson.E{Key: "$or", Value: bson.A{
			bson.D{{Key: "name", Value: bson.D{{Key: "$regex", Value: pattern}, {Key: "$options", Value: "i"}}}},
			bson.D{{Key: "email", Value: bson.D{{Key: "$regex", Value: pattern}, {Key: "$options", Value: "i"}}}},
		}})
	}
	return filter
}
