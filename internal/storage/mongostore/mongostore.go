// Package mongostore implements the domain repositories on MongoDB.
//
// Documents use string UUIDs as _id and store money as Decimal128. Usage
// reservation runs in a multi-document transaction, so the server must be a
// replica set (a single-node set is enough).
package mongostore

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/xenking/backoffice/internal/domain/errs"
	"github.com/xenking/backoffice/internal/pagination"
)

// Collection names.
const (
	CollUsers        = "users"
	CollOrders       = "orders"
	CollPromoCodes   = "promo_codes"
	CollUsages       = "promo_code_usages"
	CollUserCounters = "promo_code_user_counters"
	CollAPIKeys      = "api_keys"
)

// ConnectTimeout bounds how long Connect keeps retrying the first ping.
const ConnectTimeout = 30 * time.Second

// Store groups the repositories over one database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials uri, waits for the primary to answer and returns a Store
// over database.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}

	lg := zctx.From(ctx)
	if _, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, client.Ping(ctx, readpref.Primary())
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(ConnectTimeout),
		backoff.WithNotify(func(err error, d time.Duration) {
			lg.Warn("MongoDB not ready, retrying", zap.Error(err), zap.Duration("delay", d))
		}),
	); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, errors.Wrap(err, "ping")
	}

	return &Store{client: client, db: client.Database(database)}, nil
}

// Ping checks that the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Users returns the user repository.
func (s *Store) Users() *UserRepository {
	return &UserRepository{c: s.collection(CollUsers, "user", "email")}
}

// Orders returns the order repository.
func (s *Store) Orders() *OrderRepository {
	return &OrderRepository{c: s.collection(CollOrders, "order", "id")}
}

// PromoCodes returns the promo code repository.
func (s *Store) PromoCodes() *PromoCodeRepository {
	return &PromoCodeRepository{
		client:   s.client,
		codes:    s.collection(CollPromoCodes, "promo code", "code"),
		usages:   s.collection(CollUsages, "promo code usage", "order"),
		counters: s.db.Collection(CollUserCounters),
	}
}

// APIKeys returns the API key repository.
func (s *Store) APIKeys() *APIKeyRepository {
	return &APIKeyRepository{coll: s.db.Collection(CollAPIKeys)}
}

// EnsureIndexes creates the unique and lookup indexes. It is idempotent.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	unique := func(keys bson.D) mongo.IndexModel {
		return mongo.IndexModel{Keys: keys, Options: options.Index().SetUnique(true)}
	}
	plain := func(keys bson.D) mongo.IndexModel {
		return mongo.IndexModel{Keys: keys}
	}
	indexes := map[string][]mongo.IndexModel{
		CollUsers: {
			unique(bson.D{{Key: "email", Value: 1}}),
			plain(bson.D{{Key: "created_at", Value: -1}}),
		},
		CollOrders: {
			plain(bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}),
		},
		CollPromoCodes: {
			unique(bson.D{{Key: "code", Value: 1}}),
		},
		CollUsages: {
			unique(bson.D{{Key: "order_id", Value: 1}}),
			plain(bson.D{{Key: "promo_code_id", Value: 1}, {Key: "user_id", Value: 1}}),
		},
		CollAPIKeys: {
			unique(bson.D{{Key: "key_hash", Value: 1}}),
		},
	}
	for coll, models := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return errors.Wrapf(mapErr(err), "create indexes on %s", coll)
		}
	}
	return nil
}

func (s *Store) collection(name, entity, uniqueField string) collection {
	return collection{coll: s.db.Collection(name), entity: entity, uniqueField: uniqueField}
}

// collection wraps the CRUD primitives shared by the repositories.
type collection struct {
	coll        *mongo.Collection
	entity      string
	uniqueField string
}

func (c collection) findOne(ctx context.Context, filter bson.D, key string, dst any) error {
	err := c.coll.FindOne(ctx, filter).Decode(dst)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return errs.NotFound(c.entity, key)
	}
	if err != nil {
		return errors.Wrapf(mapErr(err), "find %s", c.entity)
	}
	return nil
}

func (c collection) insert(ctx context.Context, doc any) error {
	if _, err := c.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errs.Conflict(c.entity, c.uniqueField)
		}
		return errors.Wrapf(mapErr(err), "insert %s", c.entity)
	}
	return nil
}

func (c collection) updateByID(ctx context.Context, id string, update bson.D) error {
	res, err := c.coll.UpdateByID(ctx, id, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errs.Conflict(c.entity, c.uniqueField)
		}
		return errors.Wrapf(mapErr(err), "update %s", c.entity)
	}
	if res.MatchedCount == 0 {
		return errs.NotFound(c.entity, id)
	}
	return nil
}

func (c collection) deleteByID(ctx context.Context, id string) error {
	res, err := c.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return errors.Wrapf(mapErr(err), "delete %s", c.entity)
	}
	if res.DeletedCount == 0 {
		return errs.NotFound(c.entity, id)
	}
	return nil
}

func (c collection) exists(ctx context.Context, filter bson.D) (bool, error) {
	n, err := c.coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, errors.Wrapf(mapErr(err), "count %s", c.entity)
	}
	return n > 0, nil
}

// findPage decodes one page of documents of type D, newest first, and
// converts them with conv.
func findPage[D, T any](ctx context.Context, c collection, filter bson.D, p pagination.Params, conv func(D) (T, error)) (pagination.Result[T], error) {
	total, err := c.coll.CountDocuments(ctx, filter)
	if err != nil {
		return pagination.Result[T]{}, errors.Wrapf(mapErr(err), "count %s", c.entity)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(p.Skip())).
		SetLimit(int64(p.Limit))
	cur, err := c.coll.Find(ctx, filter, opts)
	if err != nil {
		return pagination.Result[T]{}, errors.Wrapf(mapErr(err), "find %s", c.entity)
	}
	var docs []D
	if err := cur.All(ctx, &docs); err != nil {
		return pagination.Result[T]{}, errors.Wrapf(mapErr(err), "decode %s", c.entity)
	}

	items := make([]T, 0, len(docs))
	for _, d := range docs {
		v, err := conv(d)
		if err != nil {
			return pagination.Result[T]{}, errors.Wrapf(err, "convert %s", c.entity)
		}
		items = append(items, v)
	}
	return pagination.CreatePaginatedResult(items, total, p.Page, p.Limit), nil
}

// mapErr marks network failures and timeouts as transient.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return errs.Transient("mongodb", err)
	}
	return err
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, errors.Wrapf(err, "convert %s to decimal128", d)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "convert decimal128 %s", v)
	}
	return d, nil
}
