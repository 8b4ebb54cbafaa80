package mongostore

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/backoffice/internal/domain/auth"
	"github.com/xenking/backoffice/internal/domain/errs"
)

var _ auth.Repository = (*APIKeyRepository)(nil)

type apiKeyDoc struct {
	ID        string    `bson:"_id"`
	KeyHash   string    `bson:"key_hash"`
	Name      string    `bson:"name"`
	Scopes    []string  `bson:"scopes"`
	Active    bool      `bson:"active"`
	CreatedAt time.Time `bson:"created_at"`
}

// APIKeyRepository stores API keys by hash.
type APIKeyRepository struct {
	coll *mongo.Collection
}

func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	var d apiKeyDoc
	err := r.coll.FindOne(ctx, bson.D{{Key: "key_hash", Value: hash}}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.NotFound("api key", "")
	}
	if err != nil {
		return nil, errors.Wrap(mapErr(err), "find api key")
	}
	return &auth.APIKeyInfo{
		ID:        d.ID,
		KeyHash:   d.KeyHash,
		Name:      d.Name,
		Scopes:    d.Scopes,
		Active:    d.Active,
		CreatedAt: d.CreatedAt.UTC(),
	}, nil
}

// Upsert inserts the key or replaces the one with the same hash.
func (r *APIKeyRepository) Upsert(ctx context.Context, key *auth.APIKeyInfo) error {
	d := apiKeyDoc{
		ID:        key.ID,
		KeyHash:   key.KeyHash,
		Name:      key.Name,
		Scopes:    key.Scopes,
		Active:    key.Active,
		CreatedAt: key.CreatedAt,
	}
	_, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "key_hash", Value: key.KeyHash}},
		bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "name", Value: d.Name},
				{Key: "scopes", Value: d.Scopes},
				{Key: "active", Value: d.Active},
			}},
			{Key: "$setOnInsert", Value: bson.D{
				{Key: "_id", Value: d.ID},
				{Key: "created_at", Value: d.CreatedAt},
			}},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return errors.Wrap(mapErr(err), "upsert api key")
	}
	return nil
}
