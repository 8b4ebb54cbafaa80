package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/backoffice/internal/domain/order"
)

// Money is rendered as a string with two decimals to avoid float rounding.
func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

type orderResponse struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Amount         string    `json:"amount"`
	PromoCodeID    string    `json:"promo_code_id,omitempty"`
	DiscountAmount *string   `json:"discount_amount,omitempty"`
	FinalAmount    string    `json:"final_amount"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (o orderResponse) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("user_id")
	e.Str(o.UserID)
	e.FieldStart("amount")
	e.Str(o.Amount)
	if o.PromoCodeID != "" {
		e.FieldStart("promo_code_id")
		e.Str(o.PromoCodeID)
	}
	if o.DiscountAmount != nil {
		e.FieldStart("discount_amount")
		e.Str(*o.DiscountAmount)
	}
	e.FieldStart("final_amount")
	e.Str(o.FinalAmount)
	e.FieldStart("created_at")
	encodeTime(e, o.CreatedAt)
	e.FieldStart("updated_at")
	encodeTime(e, o.UpdatedAt)
	e.ObjEnd()
}

func toOrderResponse(o order.Order) orderResponse {
	resp := orderResponse{
		ID:          o.ID,
		UserID:      o.UserID,
		Amount:      money(o.Amount),
		PromoCodeID: o.PromoCodeID,
		FinalAmount: money(o.FinalAmount()),
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
	if o.HasDiscount() {
		d := money(o.DiscountAmount)
		resp.DiscountAmount = &d
	}
	return resp
}

type createOrderRequest struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// ListOrders handles GET /api/orders?page&limit&user_id&promo_code_id.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	page, err := pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	res, err := h.orders.List(r.Context(), order.Filter{
		UserID:      q.Get("user_id"),
		PromoCodeID: q.Get("promo_code_id"),
	}, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPage(res, toOrderResponse))
}

// CreateOrder handles POST /api/orders. Amount accepts a JSON number or a
// decimal string.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.Create(r.Context(), order.CreateRequest{
		UserID: req.UserID,
		Amount: req.Amount,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(*o))
}

// GetOrder handles GET /api/orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(*o))
}
