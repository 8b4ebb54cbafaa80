// Package handler exposes the back-office over a JSON REST API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/backoffice/internal/domain/auth"
	"github.com/xenking/backoffice/internal/domain/order"
	"github.com/xenking/backoffice/internal/domain/promocode"
	"github.com/xenking/backoffice/internal/domain/user"
	"github.com/xenking/backoffice/internal/eventbus"
)

// APIKeyHeader carries the admin API key.
const APIKeyHeader = "X-API-Key"

// Handler serves the REST API, delegating to the domain services.
type Handler struct {
	users      *user.Service
	orders     *order.Service
	promoCodes *promocode.Service
	auth       *auth.Authenticator
	events     eventbus.Inspector
}

// Deps lists the services the handler delegates to. Events may be nil when
// the bus cannot be inspected.
type Deps struct {
	Users      *user.Service
	Orders     *order.Service
	PromoCodes *promocode.Service
	Auth       *auth.Authenticator
	Events     eventbus.Inspector
}

// New creates a Handler.
func New(d Deps) *Handler {
	return &Handler{
		users:      d.Users,
		orders:     d.Orders,
		promoCodes: d.PromoCodes,
		auth:       d.Auth,
		events:     d.Events,
	}
}

// Routes builds the router. Everything below /api except the OpenAPI
// document requires an API key.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorStatus(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorStatus(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/openapi.yaml", serveOpenAPI)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAPIKey)

			r.Route("/users", func(r chi.Router) {
				r.Get("/", h.ListUsers)
				r.Post("/", h.CreateUser)
				r.Get("/{id}", h.GetUser)
				r.Patch("/{id}", h.UpdateUser)
				r.Delete("/{id}", h.DeleteUser)
			})
			r.Route("/orders", func(r chi.Router) {
				r.Get("/", h.ListOrders)
				r.Post("/", h.CreateOrder)
				r.Get("/{id}", h.GetOrder)
			})
			r.Route("/promo-codes", func(r chi.Router) {
				r.Get("/", h.ListPromoCodes)
				r.Post("/", h.CreatePromoCode)
				r.Post("/apply", h.ApplyPromoCode)
				r.Get("/{id}", h.GetPromoCode)
				r.Patch("/{id}", h.UpdatePromoCode)
				r.Delete("/{id}", h.DeletePromoCode)
				r.Get("/{id}/usages", h.ListPromoCodeUsages)
			})
			r.Route("/events", func(r chi.Router) {
				r.Get("/stats", h.EventStats)
				r.Get("/failed", h.FailedEvents)
				r.Get("/completed", h.CompletedEvents)
			})
		})
	})
	return r
}
