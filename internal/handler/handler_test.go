package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/backoffice/internal/domain/auth"
	"github.com/xenking/backoffice/internal/domain/event"
	"github.com/xenking/backoffice/internal/domain/order"
	"github.com/xenking/backoffice/internal/domain/promocode"
	"github.com/xenking/backoffice/internal/domain/user"
	"github.com/xenking/backoffice/internal/eventbus"
	"github.com/xenking/backoffice/internal/eventbus/memory"
	memstore "github.com/xenking/backoffice/internal/storage/memory"
)

const testKey = "test-api-key"

var testPepper = []byte("pepper")

type testServer struct {
	t   *testing.T
	srv *httptest.Server
	bus *memory.Bus
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := memstore.New()
	bus, err := memory.New(eventbus.Options{})
	require.NoError(t, err)

	hasher := auth.NewHasher(testPepper)
	require.NoError(t, store.APIKeys().Upsert(context.Background(),
		hasher.NewKey("test", testKey, []string{"admin"}, time.Now())))

	h := New(Deps{
		Users:      user.NewService(store.Users()),
		Orders:     order.NewService(store.Orders(), store.Users(), bus),
		PromoCodes: promocode.NewService(store.PromoCodes(), store.Orders(), bus),
		Auth:       auth.NewAuthenticator(store.APIKeys(), testPepper),
		Events:     bus,
	})
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)

	return &testServer{t: t, srv: srv, bus: bus}
}

// do sends body (marshalled unless it is already a string) with the test
// API key and decodes the JSON response into out when out is non-nil.
func (s *testServer) do(method, path string, body, out any) int {
	s.t.Helper()
	return s.doWithKey(testKey, method, path, body, out)
}

func (s *testServer) doWithKey(key, method, path string, body, out any) int {
	s.t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(s.t, json.NewEncoder(&buf).Encode(b))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}

	resp, err := s.srv.Client().Do(req)
	require.NoError(s.t, err)
	defer func() { _ = resp.Body.Close() }()

	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(s.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *testServer) createUser(email string) userResponse {
	s.t.Helper()
	var u userResponse
	status := s.do(http.MethodPost, "/api/users", map[string]any{
		"email":    email,
		"password": "s3cret-pass",
		"name":     "Test User",
	}, &u)
	require.Equal(s.t, http.StatusCreated, status)
	return u
}

func (s *testServer) createOrder(userID, amount string) orderResponse {
	s.t.Helper()
	var o orderResponse
	status := s.do(http.MethodPost, "/api/orders", fmt.Sprintf(`{"user_id":%q,"amount":%q}`, userID, amount), &o)
	require.Equal(s.t, http.StatusCreated, status)
	return o
}

func (s *testServer) createPromoCode(body map[string]any) promoCodeResponse {
	s.t.Helper()
	var pc promoCodeResponse
	status := s.do(http.MethodPost, "/api/promo-codes", body, &pc)
	require.Equal(s.t, http.StatusCreated, status)
	return pc
}

func TestRequireAPIKey(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		key  string
		want int
	}{
		{name: "missing", key: "", want: http.StatusUnauthorized},
		{name: "unknown", key: "nope", want: http.StatusUnauthorized},
		{name: "valid", key: testKey, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			status := s.doWithKey(tt.key, http.MethodGet, "/api/users", nil, &body)
			assert.Equal(t, tt.want, status)
			if tt.want == http.StatusUnauthorized {
				assert.Equal(t, "unauthorized", body["message"])
				assert.EqualValues(t, http.StatusUnauthorized, body["code"])
			}
		})
	}
}

func TestOpenAPIIsPublic(t *testing.T) {
	s := newTestServer(t)

	resp, err := s.srv.Client().Get(s.srv.URL + "/api/openapi.yaml")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)

	var body errorResponse
	status := s.do(http.MethodGet, "/api/nothing-here", nil, &body)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, http.StatusNotFound, body.Code)
}

func TestApplyPromoCode(t *testing.T) {
	s := newTestServer(t)

	u := s.createUser("buyer@example.com")
	o := s.createOrder(u.ID, "100")
	assert.Equal(t, "100.00", o.Amount)
	assert.Nil(t, o.DiscountAmount)

	pc := s.createPromoCode(map[string]any{
		"code":             "summer2024",
		"discount_percent": 20,
		"total_limit":      10,
		"per_user_limit":   1,
	})
	assert.Equal(t, "SUMMER2024", pc.Code)
	assert.True(t, pc.IsActive)

	apply := map[string]any{"code": "SUMMER2024", "user_id": u.ID, "order_id": o.ID}

	var applied applyPromoCodeResponse
	status := s.do(http.MethodPost, "/api/promo-codes/apply", apply, &applied)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "20.00", applied.DiscountAmount)
	assert.Equal(t, "80.00", applied.FinalAmount)
	assert.Equal(t, 1, applied.PromoCode.UsedCount)

	var got orderResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/orders/"+o.ID, nil, &got))
	require.NotNil(t, got.DiscountAmount)
	assert.Equal(t, "20.00", *got.DiscountAmount)
	assert.Equal(t, "80.00", got.FinalAmount)
	assert.Equal(t, pc.ID, got.PromoCodeID)

	t.Run("same order twice", func(t *testing.T) {
		var body errorResponse
		status := s.do(http.MethodPost, "/api/promo-codes/apply", apply, &body)
		assert.Equal(t, http.StatusConflict, status)
	})

	t.Run("per-user limit", func(t *testing.T) {
		second := s.createOrder(u.ID, "50")
		var body errorResponse
		status := s.do(http.MethodPost, "/api/promo-codes/apply", map[string]any{
			"code": "SUMMER2024", "user_id": u.ID, "order_id": second.ID,
		}, &body)
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Equal(t, promocode.ErrPerUserLimitExceeded.Error(), body.Message)
	})

	t.Run("foreign order", func(t *testing.T) {
		other := s.createUser("other@example.com")
		var body errorResponse
		status := s.do(http.MethodPost, "/api/promo-codes/apply", map[string]any{
			"code": "SUMMER2024", "user_id": other.ID, "order_id": o.ID,
		}, &body)
		assert.Equal(t, http.StatusUnprocessableEntity, status)
	})

	t.Run("unknown code", func(t *testing.T) {
		var body errorResponse
		status := s.do(http.MethodPost, "/api/promo-codes/apply", map[string]any{
			"code": "NOPE", "user_id": u.ID, "order_id": o.ID,
		}, &body)
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("usages", func(t *testing.T) {
		var page pageResponse[usageResponse]
		require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/promo-codes/"+pc.ID+"/usages", nil, &page))
		require.Len(t, page.Items, 1)
		assert.EqualValues(t, 1, page.Total)
		assert.Equal(t, o.ID, page.Items[0].OrderID)
		assert.Equal(t, "20.00", page.Items[0].DiscountAmount)
	})

	t.Run("events", func(t *testing.T) {
		var stats statsResponse
		require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/events/stats", nil, &stats))
		// Two orders created plus one application; no worker is running.
		assert.EqualValues(t, 3, stats.Waiting)

		var failed []jobResponse
		require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/events/failed", nil, &failed))
		assert.Empty(t, failed)
	})
}

func TestErrorStatuses(t *testing.T) {
	s := newTestServer(t)
	u := s.createUser("taken@example.com")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{
			name:   "malformed body",
			method: http.MethodPost,
			path:   "/api/users",
			body:   `{"email":`,
			want:   http.StatusBadRequest,
		},
		{
			name:   "unknown field",
			method: http.MethodPost,
			path:   "/api/users",
			body:   `{"email":"a@example.com","password":"s3cret-pass","name":"A","role":"admin"}`,
			want:   http.StatusBadRequest,
		},
		{
			name:   "empty body",
			method: http.MethodPost,
			path:   "/api/orders",
			body:   "",
			want:   http.StatusBadRequest,
		},
		{
			name:   "invalid email",
			method: http.MethodPost,
			path:   "/api/users",
			body:   map[string]any{"email": "not-an-email", "password": "s3cret-pass", "name": "A"},
			want:   http.StatusUnprocessableEntity,
		},
		{
			name:   "duplicate email",
			method: http.MethodPost,
			path:   "/api/users",
			body:   map[string]any{"email": "TAKEN@example.com", "password": "s3cret-pass", "name": "B"},
			want:   http.StatusConflict,
		},
		{
			name:   "negative amount",
			method: http.MethodPost,
			path:   "/api/orders",
			body:   fmt.Sprintf(`{"user_id":%q,"amount":"-1"}`, u.ID),
			want:   http.StatusUnprocessableEntity,
		},
		{
			name:   "order for missing user",
			method: http.MethodPost,
			path:   "/api/orders",
			body:   `{"user_id":"missing","amount":"10"}`,
			want:   http.StatusNotFound,
		},
		{
			name:   "discount out of range",
			method: http.MethodPost,
			path:   "/api/promo-codes",
			body:   map[string]any{"code": "BAD", "discount_percent": 150, "total_limit": 1, "per_user_limit": 1},
			want:   http.StatusUnprocessableEntity,
		},
		{
			name:   "missing user",
			method: http.MethodGet,
			path:   "/api/users/missing",
			want:   http.StatusNotFound,
		},
		{
			name:   "bad page",
			method: http.MethodGet,
			path:   "/api/users?page=abc",
			want:   http.StatusBadRequest,
		},
		{
			name:   "zero page",
			method: http.MethodGet,
			path:   "/api/users?page=0",
			want:   http.StatusUnprocessableEntity,
		},
		{
			name:   "page past addressable range",
			method: http.MethodGet,
			path:   "/api/users?page=4611686018427387904&limit=100",
			want:   http.StatusUnprocessableEntity,
		},
		{
			name:   "orders page past addressable range",
			method: http.MethodGet,
			path:   "/api/orders?page=9223372036854775807",
			want:   http.StatusUnprocessableEntity,
		},
		{
			name:   "bad boolean",
			method: http.MethodGet,
			path:   "/api/promo-codes?is_active=maybe",
			want:   http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body errorResponse
			status := s.do(tt.method, tt.path, tt.body, &body)
			assert.Equal(t, tt.want, status)
			assert.Equal(t, tt.want, body.Code)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestListUsersPagination(t *testing.T) {
	s := newTestServer(t)
	for i := range 3 {
		s.createUser(fmt.Sprintf("user%d@example.com", i))
	}

	t.Run("defaults", func(t *testing.T) {
		var page pageResponse[userResponse]
		require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/users", nil, &page))
		assert.Equal(t, 1, page.Page)
		assert.Equal(t, 20, page.Limit)
		assert.EqualValues(t, 3, page.Total)
		assert.Equal(t, 1, page.TotalPages)
		assert.Len(t, page.Items, 3)
	})

	t.Run("limit is capped", func(t *testing.T) {
		var page pageResponse[userResponse]
		require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/users?limit=500", nil, &page))
		assert.Equal(t, 100, page.Limit)
	})

	t.Run("second page", func(t *testing.T) {
		var page pageResponse[userResponse]
		require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/users?page=2&limit=2", nil, &page))
		assert.Len(t, page.Items, 1)
		assert.Equal(t, 2, page.TotalPages)
	})

	t.Run("page past the end", func(t *testing.T) {
		var page pageResponse[userResponse]
		require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/users?page=9", nil, &page))
		assert.NotNil(t, page.Items)
		assert.Empty(t, page.Items)
	})

	t.Run("search", func(t *testing.T) {
		var page pageResponse[userResponse]
		require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/users?search=USER1", nil, &page))
		require.Len(t, page.Items, 1)
		assert.Equal(t, "user1@example.com", page.Items[0].Email)
	})
}

func TestUpdateUser(t *testing.T) {
	s := newTestServer(t)
	u := s.createUser("patch@example.com")

	var got userResponse
	status := s.do(http.MethodPatch, "/api/users/"+u.ID, map[string]any{"name": "Renamed", "is_active": false}, &got)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Renamed", got.Name)
	assert.False(t, got.IsActive)
	assert.Equal(t, u.Email, got.Email)

	var body errorResponse
	status = s.do(http.MethodPost, "/api/orders", fmt.Sprintf(`{"user_id":%q,"amount":"10"}`, u.ID), &body)
	assert.Equal(t, http.StatusUnprocessableEntity, status, "inactive users cannot order")

	require.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/api/users/"+u.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/users/"+u.ID, nil, &body))
}

func TestUpdatePromoCode(t *testing.T) {
	s := newTestServer(t)
	ends := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	pc := s.createPromoCode(map[string]any{
		"code":             "WINTER",
		"discount_percent": 10,
		"total_limit":      5,
		"per_user_limit":   2,
		"ends_at":          ends,
	})
	require.NotNil(t, pc.EndsAt)

	t.Run("omitted fields are kept", func(t *testing.T) {
		var got promoCodeResponse
		status := s.do(http.MethodPatch, "/api/promo-codes/"+pc.ID, `{"discount_percent":15}`, &got)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, 15, got.DiscountPercent)
		require.NotNil(t, got.EndsAt)
		assert.True(t, ends.Equal(*got.EndsAt))
	})

	t.Run("null clears the bound", func(t *testing.T) {
		var got promoCodeResponse
		status := s.do(http.MethodPatch, "/api/promo-codes/"+pc.ID, `{"ends_at":null}`, &got)
		require.Equal(t, http.StatusOK, status)
		assert.Nil(t, got.EndsAt)
		assert.Equal(t, 15, got.DiscountPercent)
	})

	t.Run("code is immutable", func(t *testing.T) {
		var body errorResponse
		status := s.do(http.MethodPatch, "/api/promo-codes/"+pc.ID, `{"code":"OTHER"}`, &body)
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("filter by code", func(t *testing.T) {
		var page pageResponse[promoCodeResponse]
		require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/promo-codes?code=winter", nil, &page))
		require.Len(t, page.Items, 1)
		assert.Equal(t, pc.ID, page.Items[0].ID)
	})

	t.Run("delete", func(t *testing.T) {
		require.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/api/promo-codes/"+pc.ID, nil, nil))
		var body errorResponse
		assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/promo-codes/"+pc.ID, nil, &body))
	})
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusOf(fmt.Errorf("boom")))
	assert.Equal(t, http.StatusBadRequest, statusOf(badRequest("bad %s", "input")))
	assert.True(t, strings.HasPrefix(badRequest("page: %s", "x").Error(), "page:"))
}

func TestEventJobLists(t *testing.T) {
	s := newTestServer(t)

	for _, kind := range event.Kinds() {
		s.bus.Subscribe(kind, func(context.Context, event.Envelope) error { return nil })
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.bus.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	u := s.createUser("events@example.com")
	s.createOrder(u.ID, "10")

	var completed []jobResponse
	require.Eventually(t, func() bool {
		completed = nil
		return s.do(http.MethodGet, "/api/events/completed", nil, &completed) == http.StatusOK &&
			len(completed) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, string(event.KindOrderCreated), completed[0].Name)
	assert.Equal(t, 1, completed[0].Attempts)
	assert.NotNil(t, completed[0].FinishedAt)

	var limited []jobResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/events/completed?limit=1", nil, &limited))
	assert.Len(t, limited, 1)

	var failed []jobResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/events/failed", nil, &failed))
	assert.Empty(t, failed)
}

func TestEventEndpointsWithoutInspector(t *testing.T) {
	h := New(Deps{Auth: auth.NewAuthenticator(memstore.New().APIKeys(), testPepper)})
	for path, fn := range map[string]http.HandlerFunc{
		"/api/events/stats":     h.EventStats,
		"/api/events/failed":    h.FailedEvents,
		"/api/events/completed": h.CompletedEvents,
	} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			fn(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusNotImplemented, rec.Code)
		})
	}
}
