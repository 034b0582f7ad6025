package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotilabs/housing-backend/pkg/auth"
	"github.com/kotilabs/housing-backend/pkg/config"
	"github.com/kotilabs/housing-backend/pkg/enums"
	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
	"github.com/kotilabs/housing-backend/pkg/redis"
)

const batchPattern = "/api/v1/invoices/batches"

func newRedisStore(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redis.New(context.Background(), config.RedisConfig{Address: mr.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func requestWithPattern(method, url, pattern string, body io.Reader, actor auth.Actor) *http.Request {
	req := httptest.NewRequest(method, url, body)
	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{pattern}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rc)
	return req.WithContext(WithActor(ctx, actor))
}

func managerActor() auth.Actor {
	return auth.Actor{UserID: uuid.New(), TenantID: uuid.New(), Role: enums.TenantRoleManager}
}

func TestRouteTTLSelection(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		pattern string
		want    time.Duration
		ok      bool
	}{
		{"invoice batch", http.MethodPost, batchPattern, criticalIdempotencyTTL, true},
		{"purchase", http.MethodPost, "/api/v1/payment/product-items/{productItemId}/purchase", criticalIdempotencyTTL, true},
		{"start subscription", http.MethodPost, "/api/v1/payment/subscriptions", defaultIdempotencyTTL, true},
		{"change subscription", http.MethodPatch, "/api/v1/payment/subscriptions/{planId}", defaultIdempotencyTTL, true},
		{"cancel subscription", http.MethodDelete, "/api/v1/payment/subscriptions/{planId}", 0, false},
		{"read", http.MethodGet, "/api/v1/payment/credits", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ttl, ok := routeTTL(tt.method, tt.pattern)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, ttl)
			}
		})
	}
}

func TestIdempotencyMiddlewareRequiresHeader(t *testing.T) {
	mw := Idempotency(newRedisStore(t), nil)
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusCreated)
	})

	req := requestWithPattern(http.MethodPost, batchPattern, batchPattern, strings.NewReader(`{"name":"x"}`), managerActor())
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.False(t, called)
}

func TestIdempotencyMiddlewareReplaysStoredResponse(t *testing.T) {
	mw := Idempotency(newRedisStore(t), nil)
	actor := managerActor()
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	for i := 0; i < 2; i++ {
		req := requestWithPattern(http.MethodPost, batchPattern, batchPattern, strings.NewReader(`{"name":"x"}`), actor)
		req.Header.Set("Idempotency-Key", "abc")
		resp := httptest.NewRecorder()
		mw(handler).ServeHTTP(resp, req)
		assert.Equal(t, http.StatusCreated, resp.Code)
		assert.Equal(t, "application/json", resp.Header().Get("Content-Type"))
		assert.Equal(t, `{"ok":true}`, strings.TrimSpace(resp.Body.String()))
	}
	assert.Equal(t, 1, calls)

	// Keys are scoped to the caller.
	other := requestWithPattern(http.MethodPost, batchPattern, batchPattern, strings.NewReader(`{"name":"x"}`), managerActor())
	other.Header.Set("Idempotency-Key", "abc")
	mw(handler).ServeHTTP(httptest.NewRecorder(), other)
	assert.Equal(t, 2, calls)
}

func TestIdempotencyMiddlewareDetectsBodyChange(t *testing.T) {
	mw := Idempotency(newRedisStore(t), nil)
	actor := managerActor()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := requestWithPattern(http.MethodPost, batchPattern, batchPattern, strings.NewReader(`{"name":"x"}`), actor)
	req.Header.Set("Idempotency-Key", "xyz")
	mw(handler).ServeHTTP(httptest.NewRecorder(), req)

	replay := requestWithPattern(http.MethodPost, batchPattern, batchPattern, strings.NewReader(`{"name":"y"}`), actor)
	replay.Header.Set("Idempotency-Key", "xyz")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, replay)

	require.Equal(t, http.StatusConflict, resp.Code)
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	assert.Equal(t, string(pkgerrors.CodeIdempotency), payload.Error.Code)
}

func TestIdempotencyMiddlewareDoesNotStoreServerErrors(t *testing.T) {
	mw := Idempotency(newRedisStore(t), nil)
	actor := managerActor()
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 2; i++ {
		req := requestWithPattern(http.MethodPost, batchPattern, batchPattern, strings.NewReader(`{}`), actor)
		req.Header.Set("Idempotency-Key", "retry-me")
		mw(handler).ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, 2, calls)
}

func TestIdempotencyMiddlewareRejectsConcurrentDuplicate(t *testing.T) {
	mw := Idempotency(newRedisStore(t), nil)
	actor := managerActor()
	newReq := func() *http.Request {
		req := requestWithPattern(http.MethodPost, batchPattern, batchPattern, strings.NewReader(`{"name":"x"}`), actor)
		req.Header.Set("Idempotency-Key", "same-key")
		return req
	}

	var inner *httptest.ResponseRecorder
	var handler http.Handler
	handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inner == nil {
			inner = httptest.NewRecorder()
			mw(handler).ServeHTTP(inner, newReq())
		}
		w.WriteHeader(http.StatusCreated)
	})

	outer := httptest.NewRecorder()
	mw(handler).ServeHTTP(outer, newReq())

	assert.Equal(t, http.StatusCreated, outer.Code)
	require.NotNil(t, inner)
	assert.Equal(t, http.StatusConflict, inner.Code)
	assert.Contains(t, inner.Body.String(), "still in progress")

	replay := httptest.NewRecorder()
	mw(handler).ServeHTTP(replay, newReq())
	assert.Equal(t, http.StatusCreated, replay.Code)
}
