package handler

import (
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/backoffice/internal/domain/auth"
)

// requireAPIKey authenticates the X-API-Key header and stores the key
// identity in the request context.
func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := h.auth.Authenticate(r.Context(), r.Header.Get(APIKeyHeader))
		if err != nil {
			zctx.From(r.Context()).Debug("API key rejected", zap.Error(err))
			writeErrorStatus(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := auth.WithKey(r.Context(), info)
		ctx = zctx.With(ctx, zap.String("api_key", info.Name))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
