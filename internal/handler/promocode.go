package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/backoffice/internal/domain/promocode"
)

type promoCodeResponse struct {
	ID              string     `json:"id"`
	Code            string     `json:"code"`
	DiscountPercent int        `json:"discount_percent"`
	TotalLimit      int        `json:"total_limit"`
	PerUserLimit    int        `json:"per_user_limit"`
	UsedCount       int        `json:"used_count"`
	IsActive        bool       `json:"is_active"`
	StartsAt        *time.Time `json:"starts_at,omitempty"`
	EndsAt          *time.Time `json:"ends_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (pc promoCodeResponse) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(pc.ID)
	e.FieldStart("code")
	e.Str(pc.Code)
	e.FieldStart("discount_percent")
	e.Int(pc.DiscountPercent)
	e.FieldStart("total_limit")
	e.Int(pc.TotalLimit)
	e.FieldStart("per_user_limit")
	e.Int(pc.PerUserLimit)
	e.FieldStart("used_count")
	e.Int(pc.UsedCount)
	e.FieldStart("is_active")
	e.Bool(pc.IsActive)
	optionalTime(e, "starts_at", pc.StartsAt)
	optionalTime(e, "ends_at", pc.EndsAt)
	e.FieldStart("created_at")
	encodeTime(e, pc.CreatedAt)
	e.FieldStart("updated_at")
	encodeTime(e, pc.UpdatedAt)
	e.ObjEnd()
}

func toPromoCodeResponse(pc promocode.PromoCode) promoCodeResponse {
	return promoCodeResponse{
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

type usageResponse struct {
	ID             string    `json:"id"`
	PromoCodeID    string    `json:"promo_code_id"`
	UserID         string    `json:"user_id"`
	OrderID        string    `json:"order_id"`
	DiscountAmount string    `json:"discount_amount"`
	CreatedAt      time.Time `json:"created_at"`
}

func (u usageResponse) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(u.ID)
	e.FieldStart("promo_code_id")
	e.Str(u.PromoCodeID)
	e.FieldStart("user_id")
	e.Str(u.UserID)
	e.FieldStart("order_id")
	e.Str(u.OrderID)
	e.FieldStart("discount_amount")
	e.Str(u.DiscountAmount)
	e.FieldStart("created_at")
	encodeTime(e, u.CreatedAt)
	e.ObjEnd()
}

func toUsageResponse(u promocode.Usage) usageResponse {
	return usageResponse{
		ID:             u.ID,
		PromoCodeID:    u.PromoCodeID,
		UserID:         u.UserID,
		OrderID:        u.OrderID,
		DiscountAmount: money(u.DiscountAmount),
		CreatedAt:      u.CreatedAt,
	}
}

type createPromoCodeRequest struct {
	Code            string     `json:"code"`
	DiscountPercent int        `json:"discount_percent"`
	TotalLimit      int        `json:"total_limit"`
	PerUserLimit    int        `json:"per_user_limit"`
	IsActive        *bool      `json:"is_active"`
	StartsAt        *time.Time `json:"starts_at"`
	EndsAt          *time.Time `json:"ends_at"`
}

// updatePromoCodeRequest distinguishes an absent window bound from an
// explicit null, which clears it.
type updatePromoCodeRequest struct {
	DiscountPercent *int                 `json:"discount_percent"`
	TotalLimit      *int                 `json:"total_limit"`
	PerUserLimit    *int                 `json:"per_user_limit"`
	IsActive        *bool                `json:"is_active"`
	StartsAt        optional[*time.Time] `json:"starts_at"`
	EndsAt          optional[*time.Time] `json:"ends_at"`
}

type applyPromoCodeRequest struct {
	Code    string `json:"code"`
	UserID  string `json:"user_id"`
	OrderID string `json:"order_id"`
}

type applyPromoCodeResponse struct {
	OrderID        string            `json:"order_id"`
	DiscountAmount string            `json:"discount_amount"`
	FinalAmount    string            `json:"final_amount"`
	PromoCode      promoCodeResponse `json:"promo_code"`
}

func (r applyPromoCodeResponse) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("order_id")
	e.Str(r.OrderID)
	e.FieldStart("discount_amount")
	e.Str(r.DiscountAmount)
	e.FieldStart("final_amount")
	e.Str(r.FinalAmount)
	e.FieldStart("promo_code")
	r.PromoCode.Encode(e)
	e.ObjEnd()
}

// ListPromoCodes handles GET /api/promo-codes?page&limit&code&is_active.
func (h *Handler) ListPromoCodes(w http.ResponseWriter, r *http.Request) {
	page, err := pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	active, err := boolParam(r, "is_active")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.promoCodes.List(r.Context(), promocode.Filter{
		Code:     promocode.NormalizeCode(r.URL.Query().Get("code")),
		IsActive: active,
	}, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPage(res, toPromoCodeResponse))
}

// CreatePromoCode handles POST /api/promo-codes. New codes are active unless
// is_active is false.
func (h *Handler) CreatePromoCode(w http.ResponseWriter, r *http.Request) {
	var req createPromoCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	pc, err := h.promoCodes.Create(r.Context(), promocode.Params{
		Code:            req.Code,
		DiscountPercent: req.DiscountPercent,
		TotalLimit:      req.TotalLimit,
		PerUserLimit:    req.PerUserLimit,
		IsActive:        active,
		StartsAt:        req.StartsAt,
		EndsAt:          req.EndsAt,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPromoCodeResponse(*pc))
}

// GetPromoCode handles GET /api/promo-codes/{id}.
func (h *Handler) GetPromoCode(w http.ResponseWriter, r *http.Request) {
	pc, err := h.promoCodes.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPromoCodeResponse(*pc))
}

// UpdatePromoCode handles PATCH /api/promo-codes/{id}.
func (h *Handler) UpdatePromoCode(w http.ResponseWriter, r *http.Request) {
	var req updatePromoCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	upd := promocode.UpdateRequest{
		DiscountPercent: req.DiscountPercent,
		TotalLimit:      req.TotalLimit,
		PerUserLimit:    req.PerUserLimit,
		IsActive:        req.IsActive,
	}
	if req.StartsAt.Set {
		upd.StartsAt = req.StartsAt.Value
		upd.ClearStartsAt = req.StartsAt.Value == nil
	}
	if req.EndsAt.Set {
		upd.EndsAt = req.EndsAt.Value
		upd.ClearEndsAt = req.EndsAt.Value == nil
	}
	pc, err := h.promoCodes.Update(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPromoCodeResponse(*pc))
}

// DeletePromoCode handles DELETE /api/promo-codes/{id}.
func (h *Handler) DeletePromoCode(w http.ResponseWriter, r *http.Request) {
	if err := h.promoCodes.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListPromoCodeUsages handles GET /api/promo-codes/{id}/usages.
func (h *Handler) ListPromoCodeUsages(w http.ResponseWriter, r *http.Request) {
	page, err := pageParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.promoCodes.ListUsages(r.Context(), chi.URLParam(r, "id"), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPage(res, toUsageResponse))
}

// ApplyPromoCode handles POST /api/promo-codes/apply.
func (h *Handler) ApplyPromoCode(w http.ResponseWriter, r *http.Request) {
	var req applyPromoCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.promoCodes.Apply(r.Context(), promocode.ApplyRequest{
		Code:    req.Code,
		UserID:  req.UserID,
		OrderID: req.OrderID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, applyPromoCodeResponse{
		OrderID:        req.OrderID,
		DiscountAmount: money(res.DiscountAmount),
		FinalAmount:    money(res.FinalAmount),
		PromoCode:      toPromoCodeResponse(*res.PromoCode),
	})
}
