package mongostore

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/backoffice/internal/domain/errs"
	"github.com/xenking/backoffice/internal/domain/promocode"
	"github.com/xenking/backoffice/internal/pagination"
)

var _ promocode.Repository = (*PromoCodeRepository)(nil)

type promoCodeDoc struct {
	ID              string     `bson:"_id"`
	Code            string     `bson:"code"`
	DiscountPercent int        `bson:"discount_percent"`
	TotalLimit      int        `bson:"total_limit"`
	PerUserLimit    int        `bson:"per_user_limit"`
	UsedCount       int        `bson:"used_count"`
	IsActive        bool       `bson:"is_active"`
	StartsAt        *time.Time `bson:"starts_at"`
	EndsAt          *time.Time `bson:"ends_at"`
	CreatedAt       time.Time  `bson:"created_at"`
	UpdatedAt       time.Time  `bson:"updated_at"`
}

func promoCodeToDoc(pc *promocode.PromoCode) promoCodeDoc {
	return promoCodeDoc{
		ID:              pc.ID,
		Code:            pc.Code,
		DiscountPercent: pc.DiscountPercent,
		TotalLimit:      pc.TotalLimit,
		PerUserLimit:    pc.PerUserLimit,
		UsedCount:       pc.UsedCount,
		IsActive:        pc.IsActive,
		StartsAt:        pc.StartsAt,
		EndsAt:          pc.EndsAt,
		CreatedAt:       pc.CreatedAt,
		UpdatedAt:       pc.UpdatedAt,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func (d promoCodeDoc) toPromoCode() (promocode.PromoCode, error) {
	return promocode.PromoCode{
		ID:              d.ID,
		Code:            d.Code,
		DiscountPercent: d.DiscountPercent,
		TotalLimit:      d.TotalLimit,
		PerUserLimit:    d.PerUserLimit,
		UsedCount:       d.UsedCount,
		IsActive:        d.IsActive,
		StartsAt:        utcPtr(d.StartsAt),
		EndsAt:          utcPtr(d.EndsAt),
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}, nil
}

type usageDoc struct {
	ID             string               `bson:"_id"`
	PromoCodeID    string               `bson:"promo_code_id"`
	UserID         string               `bson:"user_id"`
	OrderID        string               `bson:"order_id"`
	DiscountAmount primitive.Decimal128 `bson:"discount_amount"`
	CreatedAt      time.Time            `bson:"created_at"`
	UpdatedAt      time.Time            `bson:"updated_at"`
}

func usageToDoc(u *promocode.Usage) (usageDoc, error) {
	discount, err := toDecimal128(u.DiscountAmount)
	if err != nil {
		return usageDoc{}, err
	}
	return usageDoc{
		ID:             u.ID,
		PromoCodeID:    u.PromoCodeID,
		UserID:         u.UserID,
		OrderID:        u.OrderID,
		DiscountAmount: discount,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}, nil
}

func (d usageDoc) toUsage() (promocode.Usage, error) {
	discount, err := fromDecimal128(d.DiscountAmount)
	if err != nil {
		return promocode.Usage{}, err
	}
	return promocode.Usage{
		ID:             d.ID,
		PromoCodeID:    d.PromoCodeID,
		UserID:         d.UserID,
		OrderID:        d.OrderID,
		DiscountAmount: discount,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}, nil
}

// PromoCodeRepository stores promo codes, their usages and the per-user
// usage counters.
type PromoCodeRepository struct {
	client   *mongo.Client
	codes    collection
	usages   collection
	counters *mongo.Collection
}

func (r *PromoCodeRepository) FindByID(ctx context.Context, id string) (*promocode.PromoCode, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id}}, id)
}

func (r *PromoCodeRepository) FindOne(ctx context.Context, f promocode.Filter) (*promocode.PromoCode, error) {
	return r.findOne(ctx, codeFilter(f), f.Code)
}

func (r *PromoCodeRepository) findOne(ctx context.Context, filter bson.D, key string) (*promocode.PromoCode, error) {
	var d promoCodeDoc
	if err := r.codes.findOne(ctx, filter, key, &d); err != nil {
		return nil, err
	}
	pc, err := d.toPromoCode()
	if err != nil {
		return nil, err
	}
	return &pc, nil
}

func (r *PromoCodeRepository) FindAll(ctx context.Context, f promocode.Filter, p pagination.Params) (pagination.Result[promocode.PromoCode], error) {
	return findPage(ctx, r.codes, codeFilter(f), p, promoCodeDoc.toPromoCode)
}

func (r *PromoCodeRepository) Create(ctx context.Context, pc *promocode.PromoCode) error {
	return r.codes.insert(ctx, promoCodeToDoc(pc))
}

// Update stores the admin-editable fields of pc and refreshes pc.UsedCount
// from the stored document. Code and used_count are never written here.
func (r *PromoCodeRepository) Update(ctx context.Context, pc *promocode.PromoCode) error {
	var d promoCodeDoc
	err := r.codes.coll.FindOneAndUpdate(ctx,
		bson.D{
			{Key: "_id", Value: pc.ID},
			{Key: "$expr", Value: bson.D{{Key: "$lte", Value: bson.A{"$used_count", pc.TotalLimit}}}},
		},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "discount_percent", Value: pc.DiscountPercent},
			{Key: "total_limit", Value: pc.TotalLimit},
			{Key: "per_user_limit", Value: pc.PerUserLimit},
			{Key: "is_active", Value: pc.IsActive},
			{Key: "starts_at", Value: pc.StartsAt},
			{Key: "ends_at", Value: pc.EndsAt},
			{Key: "updated_at", Value: pc.UpdatedAt},
		}}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return r.updateMiss(ctx, pc.ID)
	}
	if err != nil {
		return errors.Wrap(mapErr(err), "update promo code")
	}
	pc.UsedCount = d.UsedCount
	return nil
}

// updateMiss tells a missing code apart from one whose usages outgrew the
// requested total limit.
func (r *PromoCodeRepository) updateMiss(ctx context.Context, id string) error {
	exists, err := r.codes.exists(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return errors.Wrap(err, "check promo code")
	}
	if !exists {
		return errs.NotFound("promo code", id)
	}
	return promocode.ErrLimitBelowUsage
}

func (r *PromoCodeRepository) Delete(ctx context.Context, id string) error {
	return r.codes.deleteByID(ctx, id)
}

func (r *PromoCodeRepository) ExistsByCode(ctx context.Context, code string) (bool, error) {
	return r.codes.exists(ctx, bson.D{{Key: "code", Value: code}})
}

func (r *PromoCodeRepository) CountUsages(ctx context.Context, promoCodeID, userID string) (int, error) {
	n, err := r.usages.coll.CountDocuments(ctx, bson.D{
		{Key: "promo_code_id", Value: promoCodeID},
		{Key: "user_id", Value: userID},
	})
	if err != nil {
		return 0, errors.Wrap(mapErr(err), "count usages")
	}
	return int(n), nil
}

func (r *PromoCodeRepository) ListUsages(ctx context.Context, f promocode.UsageFilter, p pagination.Params) (pagination.Result[promocode.Usage], error) {
	filter := bson.D{}
	if f.PromoCodeID != "" {
		filter = append(filter, bson.E{Key: "promo_code_id", Value: f.PromoCodeID})
	}
	if f.UserID != "" {
		filter = append(filter, bson.E{Key: "user_id", Value: f.UserID})
	}
	return findPage(ctx, r.usages, filter, p, usageDoc.toUsage)
}

// ReserveUsage commits the guarded used_count increment, the per-user
// counter increment and the usage insert in one transaction.
func (r *PromoCodeRepository) ReserveUsage(ctx context.Context, u *promocode.Usage) (*promocode.PromoCode, error) {
	usage, err := usageToDoc(u)
	if err != nil {
		return nil, err
	}

	sess, err := r.client.StartSession()
	if err != nil {
		return nil, errors.Wrap(mapErr(err), "start session")
	}
	defer sess.EndSession(ctx)

	res, err := sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return r.reserve(sc, usage)
	})
	if err != nil {
		return nil, err
	}
	return res.(*promocode.PromoCode), nil
}

func (r *PromoCodeRepository) reserve(ctx context.Context, u usageDoc) (*promocode.PromoCode, error) {
	var d promoCodeDoc
	err := r.codes.coll.FindOneAndUpdate(ctx,
		bson.D{
			{Key: "_id", Value: u.PromoCodeID},
			{Key: "is_active", Value: true},
			{Key: "$expr", Value: bson.D{{Key: "$lt", Value: bson.A{"$used_count", "$total_limit"}}}},
		},
		bson.D{
			{Key: "$inc", Value: bson.D{{Key: "used_count", Value: 1}}},
			{Key: "$set", Value: bson.D{{Key: "updated_at", Value: u.CreatedAt}}},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, r.reserveMiss(ctx, u.PromoCodeID)
	}
	if err != nil {
		return nil, errors.Wrap(mapErr(err), "increment used count")
	}

	// The counter document id is deterministic, so when the user is at the
	// limit the filter misses and the upsert collides with the existing one.
	_, err = r.counters.UpdateOne(ctx,
		bson.D{
			{Key: "_id", Value: u.PromoCodeID + "/" + u.UserID},
			{Key: "count", Value: bson.D{{Key: "$lt", Value: d.PerUserLimit}}},
		},
		bson.D{
			{Key: "$inc", Value: bson.D{{Key: "count", Value: 1}}},
			{Key: "$setOnInsert", Value: bson.D{
				{Key: "promo_code_id", Value: u.PromoCodeID},
				{Key: "user_id", Value: u.UserID},
			}},
		},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		return nil, promocode.ErrPerUserLimitExceeded
	}
	if err != nil {
		return nil, errors.Wrap(mapErr(err), "increment user counter")
	}

	if err := r.usages.insert(ctx, u); err != nil {
		return nil, err
	}

	pc, err := d.toPromoCode()
	if err != nil {
		return nil, err
	}
	return &pc, nil
}

// reserveMiss explains why the guarded increment matched nothing.
func (r *PromoCodeRepository) reserveMiss(ctx context.Context, id string) error {
	pc, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !pc.IsActive {
		return promocode.ErrInactiveCode
	}
	return promocode.ErrTotalLimitExceeded
}

func codeFilter(f promocode.Filter) bson.D {
	filter := bson.D{}
	if f.Code != "" {
		filter = append(filter, bson.E{Key: "code", Value: f.Code})
	}
	if f.IsActive != nil {
		filter = append(filter, bson.E{Key: "is_active", Value: *f.IsActive})
	}
	return filter
}
