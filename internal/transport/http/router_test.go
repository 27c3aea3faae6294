package http

import (
	"fmt"
	"log/slog"
	nethttp "net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"domainpay/internal/platform/middleware"
	"domainpay/pkg/testutil"
)

type stubRoutes struct{ hits *int }

func (s stubRoutes) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/callback", func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		*s.hits++
		w.WriteHeader(nethttp.StatusOK)
	})
	return r
}

type allowAllValidator struct{}

func (allowAllValidator) ValidateToken(string) (*middleware.JWTClaims, error) {
	return &middleware.JWTClaims{Subject: "ops@example.com"}, nil
}

type denyAllValidator struct{}

func (denyAllValidator) ValidateToken(string) (*middleware.JWTClaims, error) {
	return nil, fmt.Errorf("invalid token")
}

func newTestRouter(auth middleware.JWTValidator, payments, orders Routable) nethttp.Handler {
	return NewRouter(Deps{
		Payments:    payments,
		Fulfillment: orders,
		Auth:        auth,
		Logger:      slog.Default(),
	})
}

func TestHealthzWithoutBackends(t *testing.T) {
	hits := 0
	router := newTestRouter(allowAllValidator{}, stubRoutes{&hits}, stubRoutes{&hits})

	rr := testutil.DoRequest(router, testutil.NewRequest(t, nethttp.MethodGet, "/healthz"))

	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "healthy", true)
}

func TestMetricsEndpoint(t *testing.T) {
	hits := 0
	router := newTestRouter(allowAllValidator{}, stubRoutes{&hits}, stubRoutes{&hits})

	rr := testutil.DoRequest(router, testutil.NewRequest(t, nethttp.MethodGet, "/metrics"))
	testutil.AssertStatusOK(t, rr)
}

// The gateway callback authenticates with its signature, never a bearer
// token, so it must stay reachable without Authorization.
func TestCallbackRouteIsUnauthenticated(t *testing.T) {
	hits := 0
	router := newTestRouter(denyAllValidator{}, stubRoutes{&hits}, stubRoutes{&hits})

	rr := testutil.DoRequest(router, testutil.NewRequest(t, nethttp.MethodPost, "/payments/callback"))

	testutil.AssertStatusOK(t, rr)
	assert.Equal(t, 1, hits)
}

func TestOrderRoutesRequireAuth(t *testing.T) {
	hits := 0
	router := newTestRouter(denyAllValidator{}, stubRoutes{&hits}, stubRoutes{&hits})

	t.Run("missing token", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, nethttp.MethodPost, "/orders/callback"))
		testutil.AssertStatus(t, rr, nethttp.StatusUnauthorized)
	})

	t.Run("invalid token", func(t *testing.T) {
		req := testutil.NewRequest(t, nethttp.MethodPost, "/orders/callback")
		req.Header.Set("Authorization", "Bearer bad-token")
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatus(t, rr, nethttp.StatusUnauthorized)
	})

	t.Run("valid token passes through", func(t *testing.T) {
		router := newTestRouter(allowAllValidator{}, stubRoutes{new(int)}, stubRoutes{&hits})
		req := testutil.NewRequest(t, nethttp.MethodPost, "/orders/callback")
		req.Header.Set("Authorization", "Bearer good-token")
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatusOK(t, rr)
		assert.Equal(t, 1, hits)
	})
}
