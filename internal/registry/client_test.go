package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	return NewClient(Config{
		BaseURL:    url,
		ResellerID: "rs-1",
		APIKey:     "registry-key",
		Timeout:    2 * time.Second,
	})
}

func TestRegisterSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/domains/register", r.URL.Path)
		assert.Equal(t, "rs-1", r.Header.Get("X-Reseller-Id"))
		assert.Equal(t, "registry-key", r.Header.Get("X-Api-Key"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "example.com", req["domain"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"domain": map[string]any{
				"id":          "rd-42",
				"name":        "example.com",
				"status":      "active",
				"nameservers": []string{"ns1.example.net"},
				"expiresAt":   time.Now().AddDate(1, 0, 0).Format(time.RFC3339),
			},
		})
	}))
	defer srv.Close()

	result, err := newTestClient(srv.URL).Register(context.Background(), RegisterRequest{
		DomainName:  "example.com",
		PeriodYears: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "rd-42", result.DomainID)
	assert.Equal(t, "active", result.Status)
	assert.Equal(t, []string{"ns1.example.net"}, result.Nameservers)
	assert.NotNil(t, result.ExpiresAt)
	assert.NotEmpty(t, result.Raw)
}

func TestErrorCategories(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantCategory  ErrorCategory
		wantRetryable bool
	}{
		{"server error", http.StatusServiceUnavailable, `{}`, ErrorOutage, true},
		{"bad credentials", http.StatusUnauthorized, `{}`, ErrorAuthentication, false},
		{"rejected operation", http.StatusUnprocessableEntity, `{"success":false,"message":"domain unavailable"}`, ErrorRejected, false},
		{"success false", http.StatusOK, `{"success":false,"message":"insufficient balance"}`, ErrorRejected, false},
		{"malformed body", http.StatusOK, `{{{`, ErrorBadData, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).Register(context.Background(), RegisterRequest{DomainName: "example.com"})
			require.Error(t, err)

			var provErr *ProviderError
			require.True(t, errors.As(err, &provErr))
			assert.Equal(t, tt.wantCategory, provErr.Category)
			assert.Equal(t, tt.wantRetryable, IsRetryable(err))
		})
	}
}

func TestRejectionCarriesRawResponse(t *testing.T) {
	body := `{"success":false,"message":"domain unavailable"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Register(context.Background(), RegisterRequest{DomainName: "example.com"})
	require.Error(t, err)
	assert.JSONEq(t, body, string(RawResponse(err)))

	var provErr *ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Contains(t, provErr.Message, "domain unavailable")
}

func TestUnreachableRegistryIsRetryable(t *testing.T) {
	_, err := newTestClient("http://127.0.0.1:1").Register(context.Background(), RegisterRequest{DomainName: "example.com"})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}
