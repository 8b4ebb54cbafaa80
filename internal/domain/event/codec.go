package event

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// Wire layout:
//
//	{"id":"...","kind":"promo_code_applied","occurred_at":"RFC3339Nano","payload":{...}}
//
// Money is encoded as decimal strings.

// Encode writes e as a JSON object.
func (e Envelope) Encode(enc *jx.Encoder) {
	enc.ObjStart()
	enc.FieldStart("id")
	enc.Str(e.ID)
	enc.FieldStart("kind")
	enc.Str(string(e.Kind))
	enc.FieldStart("occurred_at")
	encodeTime(enc, e.OccurredAt)
	enc.FieldStart("payload")
	switch {
	case e.PromoCodeApplied != nil:
		e.PromoCodeApplied.encode(enc)
	case e.OrderCreated != nil:
		e.OrderCreated.encode(enc)
	default:
		enc.Null()
	}
	enc.ObjEnd()
}

// Marshal encodes e, rejecting envelopes whose payload does not match Kind.
func Marshal(e Envelope) ([]byte, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	var enc jx.Encoder
	e.Encode(&enc)
	return enc.Bytes(), nil
}

// Unmarshal decodes an envelope produced by Marshal.
func Unmarshal(data []byte) (Envelope, error) {
	var (
		e       Envelope
		payload jx.Raw
	)
	d := jx.DecodeBytes(data)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			e.ID, err = d.Str()
		case "kind":
			var s string
			s, err = d.Str()
			e.Kind = Kind(s)
		case "occurred_at":
			e.OccurredAt, err = decodeTime(d)
		case "payload":
			payload, err = d.Raw()
		default:
			err = d.Skip()
		}
		return errors.Wrapf(err, "field %q", key)
	}); err != nil {
		return Envelope{}, errors.Wrap(err, "decode envelope")
	}

	switch e.Kind {
	case KindPromoCodeApplied:
		var p PromoCodeApplied
		if err := p.decode(jx.DecodeBytes(payload)); err != nil {
			return Envelope{}, errors.Wrap(err, "decode promo_code_applied")
		}
		e.PromoCodeApplied = &p
	case KindOrderCreated:
		var p OrderCreated
		if err := p.decode(jx.DecodeBytes(payload)); err != nil {
			return Envelope{}, errors.Wrap(err, "decode order_created")
		}
		e.OrderCreated = &p
	default:
		return Envelope{}, errors.Errorf("unknown event kind %q", e.Kind)
	}
	return e, nil
}

func (e Envelope) validate() error {
	switch e.Kind {
	case KindPromoCodeApplied:
		if e.PromoCodeApplied == nil || e.OrderCreated != nil {
			return errors.Errorf("envelope %s: payload does not match kind %q", e.ID, e.Kind)
		}
	case KindOrderCreated:
		if e.OrderCreated == nil || e.PromoCodeApplied != nil {
			return errors.Errorf("envelope %s: payload does not match kind %q", e.ID, e.Kind)
		}
	default:
		return errors.Errorf("envelope %s: unknown kind %q", e.ID, e.Kind)
	}
	return nil
}

func (p *PromoCodeApplied) encode(enc *jx.Encoder) {
	enc.ObjStart()
	enc.FieldStart("promo_code_id")
	enc.Str(p.PromoCodeID)
	enc.FieldStart("code")
	enc.Str(p.Code)
	enc.FieldStart("user_id")
	enc.Str(p.UserID)
	enc.FieldStart("order_id")
	enc.Str(p.OrderID)
	enc.FieldStart("order_amount")
	enc.Str(p.OrderAmount.String())
	enc.FieldStart("discount_amount")
	enc.Str(p.DiscountAmount.String())
	enc.FieldStart("timestamp")
	encodeTime(enc, p.Timestamp)
	enc.ObjEnd()
}

func (p *PromoCodeApplied) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "promo_code_id":
			p.PromoCodeID, err = d.Str()
		case "code":
			p.Code, err = d.Str()
		case "user_id":
			p.UserID, err = d.Str()
		case "order_id":
			p.OrderID, err = d.Str()
		case "order_amount":
			p.OrderAmount, err = decodeDecimal(d)
		case "discount_amount":
			p.DiscountAmount, err = decodeDecimal(d)
		case "timestamp":
			p.Timestamp, err = decodeTime(d)
		default:
			err = d.Skip()
		}
		return errors.Wrapf(err, "field %q", key)
	})
}

func (p *OrderCreated) encode(enc *jx.Encoder) {
	enc.ObjStart()
	enc.FieldStart("order_id")
	enc.Str(p.OrderID)
	enc.FieldStart("user_id")
	enc.Str(p.UserID)
	enc.FieldStart("amount")
	enc.Str(p.Amount.String())
	if p.PromoCodeID != "" {
		enc.FieldStart("promo_code_id")
		enc.Str(p.PromoCodeID)
	}
	if p.DiscountAmount.Valid {
		enc.FieldStart("discount_amount")
		enc.Str(p.DiscountAmount.Decimal.String())
	}
	enc.FieldStart("timestamp")
	encodeTime(enc, p.Timestamp)
	enc.ObjEnd()
}

func (p *OrderCreated) decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "order_id":
			p.OrderID, err = d.Str()
		case "user_id":
			p.UserID, err = d.Str()
		case "amount":
			p.Amount, err = decodeDecimal(d)
		case "promo_code_id":
			p.PromoCodeID, err = d.Str()
		case "discount_amount":
			var v decimal.Decimal
			v, err = decodeDecimal(d)
			p.DiscountAmount = decimal.NullDecimal{Decimal: v, Valid: err == nil}
		case "timestamp":
			p.Timestamp, err = decodeTime(d)
		default:
			err = d.Skip()
		}
		return errors.Wrapf(err, "field %q", key)
	})
}

func encodeTime(enc *jx.Encoder, t time.Time) {
	enc.Str(t.UTC().Format(time.RFC3339Nano))
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, s)
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.Number {
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(n.String())
	}
	s, err := d.Str()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(s)
}
