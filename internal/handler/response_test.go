package handler

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(v encoder) string {
	var e jx.Encoder
	v.Encode(&e)
	return string(e.Bytes())
}

// The struct tags document the wire shape; the hand-written encoders must
// produce the same documents.
func TestResponseEncoding(t *testing.T) {
	created := time.Date(2024, 6, 1, 12, 30, 0, 123000000, time.UTC)
	ends := created.Add(48 * time.Hour)
	discount := "20.00"

	user := userResponse{ID: "u-1", Email: "a@example.com", Name: "A", IsActive: true, CreatedAt: created, UpdatedAt: created}
	code := promoCodeResponse{
		ID: "pc-1", Code: "SUMMER2024", DiscountPercent: 20, TotalLimit: 10, PerUserLimit: 1,
		UsedCount: 3, IsActive: true, EndsAt: &ends, CreatedAt: created, UpdatedAt: created,
	}

	tests := []struct {
		name string
		v    encoder
	}{
		{"error", errorResponse{Code: 422, Message: `bad "input"`}},
		{"user without phone", user},
		{"user with phone", userResponse{ID: "u-2", Email: "b@example.com", Name: "B", Phone: "+1555", CreatedAt: created, UpdatedAt: created}},
		{"order without discount", orderResponse{ID: "o-1", UserID: "u-1", Amount: "100.00", FinalAmount: "100.00", CreatedAt: created, UpdatedAt: created}},
		{"order with discount", orderResponse{
			ID: "o-2", UserID: "u-1", Amount: "100.00", PromoCodeID: "pc-1", DiscountAmount: &discount,
			FinalAmount: "80.00", CreatedAt: created, UpdatedAt: created,
		}},
		{"promo code", code},
		{"usage", usageResponse{ID: "us-1", PromoCodeID: "pc-1", UserID: "u-1", OrderID: "o-1", DiscountAmount: "20.00", CreatedAt: created}},
		{"apply", applyPromoCodeResponse{OrderID: "o-1", DiscountAmount: "20.00", FinalAmount: "80.00", PromoCode: code}},
		{"page", pageResponse[userResponse]{Items: []userResponse{user}, Total: 21, Page: 2, Limit: 20, TotalPages: 2}},
		{"empty page", pageResponse[usageResponse]{Items: []usageResponse{}, Page: 1, Limit: 20}},
		{"stats", statsResponse{Waiting: 1, Active: 2, Delayed: 3, Completed: 4, Failed: 5}},
		{"failed job", jobResponse{
			ID: "j-1", Name: "order_created", Attempts: 3, EnqueuedAt: created, FinishedAt: &ends,
			LastError: "boom", Event: json.RawMessage(`{"id":"e-1","kind":"order_created"}`),
		}},
		{"jobs", list[jobResponse]{{ID: "j-2", Name: "order_created", Attempts: 1, EnqueuedAt: created, Event: json.RawMessage(`{}`)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want, err := json.Marshal(tt.v)
			require.NoError(t, err)
			assert.JSONEq(t, string(want), encode(tt.v))
		})
	}
}

func TestList_EncodesEmptyAsArray(t *testing.T) {
	assert.Equal(t, "[]", encode(list[jobResponse](nil)))
	assert.Equal(t, `{"items":[],"total":0,"page":1,"limit":20,"total_pages":0}`,
		encode(pageResponse[userResponse]{Page: 1, Limit: 20}))
}
