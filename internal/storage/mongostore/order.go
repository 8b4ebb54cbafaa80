package mongostore

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/xenking/backoffice/internal/domain/errs"
	"github.com/xenking/backoffice/internal/domain/order"
	"github.com/xenking/backoffice/internal/pagination"
)

var _ order.Repository = (*OrderRepository)(nil)

type orderDoc struct {
	ID             string                `bson:"_id"`
	UserID         string                `bson:"user_id"`
	Amount         primitive.Decimal128  `bson:"amount"`
	PromoCodeID    string                `bson:"promo_code_id,omitempty"`
	DiscountAmount *primitive.Decimal128 `bson:"discount_amount,omitempty"`
	CreatedAt      time.Time             `bson:"created_at"`
	UpdatedAt      time.Time             `bson:"updated_at"`
}

func orderToDoc(o *order.Order) (orderDoc, error) {
	amount, err := toDecimal128(o.Amount)
	if err != nil {
		return orderDoc{}, err
	}
	d := orderDoc{
		ID:          o.ID,
		UserID:      o.UserID,
		Amount:      amount,
		PromoCodeID: o.PromoCodeID,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
	if o.HasDiscount() {
		discount, err := toDecimal128(o.DiscountAmount)
		if err != nil {
			return orderDoc{}, err
		}
		d.DiscountAmount = &discount
	}
	return d, nil
}

func (d orderDoc) toOrder() (order.Order, error) {
	amount, err := fromDecimal128(d.Amount)
	if err != nil {
		return order.Order{}, err
	}
	o := order.Order{
		ID:          d.ID,
		UserID:      d.UserID,
		Amount:      amount,
		PromoCodeID: d.PromoCodeID,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
	if d.DiscountAmount != nil {
		if o.DiscountAmount, err = fromDecimal128(*d.DiscountAmount); err != nil {
			return order.Order{}, err
		}
	}
	return o, nil
}

// OrderRepository stores orders in the orders collection.
type OrderRepository struct {
	c collection
}

func (r *OrderRepository) FindByID(ctx context.Context, id string) (*order.Order, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id}}, id)
}

func (r *OrderRepository) FindOne(ctx context.Context, f order.Filter) (*order.Order, error) {
	return r.findOne(ctx, orderFilter(f), f.UserID)
}

func (r *OrderRepository) findOne(ctx context.Context, filter bson.D, key string) (*order.Order, error) {
	var d orderDoc
	if err := r.c.findOne(ctx, filter, key, &d); err != nil {
		return nil, err
	}
	o, err := d.toOrder()
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) FindAll(ctx context.Context, f order.Filter, p pagination.Params) (pagination.Result[order.Order], error) {
	return findPage(ctx, r.c, orderFilter(f), p, orderDoc.toOrder)
}

func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	d, err := orderToDoc(o)
	if err != nil {
		return err
	}
	return r.c.insert(ctx, d)
}

// AttachDiscount sets the discount only on an order that has none yet.
func (r *OrderRepository) AttachDiscount(ctx context.Context, id, promoCodeID string, discount decimal.Decimal, at time.Time) error {
	o, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	// Domain checks first so range errors surface as validation failures.
	if err := o.AttachDiscount(promoCodeID, discount, at); err != nil {
		return err
	}
	value, err := toDecimal128(discount)
	if err != nil {
		return err
	}

	res, err := r.c.coll.UpdateOne(ctx,
		bson.D{
			{Key: "_id", Value: id},
			{Key: "promo_code_id", Value: bson.D{{Key: "$exists", Value: false}}},
		},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "promo_code_id", Value: promoCodeID},
			{Key: "discount_amount", Value: value},
			{Key: "updated_at", Value: at},
		}}},
	)
	if err != nil {
		return errors.Wrap(mapErr(err), "attach discount")
	}
	if res.MatchedCount == 0 {
		return errs.Conflict("order", "promo_code_id")
	}
	return nil
}

func orderFilter(f order.Filter) bson.D {
	filter := bson.D{}
	if f.UserID != "" {
		filter = append(filter, bson.E{Key: "user_id", Value: f.UserID})
	}
	if f.PromoCodeID != "" {
		filter = append(filter, bson.E{Key: "promo_code_id", Value: f.PromoCodeID})
	}
	return filter
}
