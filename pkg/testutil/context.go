package testutil

import (
	"net/http"

	"domainpay/internal/platform/middleware"
)

// WithOperator injects an authenticated operator subject into the request
// context, simulating what the auth middleware does for a valid bearer token.
func WithOperator(req *http.Request, operator string) *http.Request {
	return req.WithContext(middleware.WithOperator(req.Context(), operator))
}
