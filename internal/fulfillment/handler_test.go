package fulfillment

import (
	"context"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "domainpay/pkg/errors"
	"domainpay/pkg/testutil"
)

type fakeProvisioner struct {
	calls    []int64
	actors   []string
	failWith error
}

func (f *fakeProvisioner) Provision(_ context.Context, orderID int64, actor, _ string) error {
	f.calls = append(f.calls, orderID)
	f.actors = append(f.actors, actor)
	return f.failWith
}

func TestProvisionEndpoint(t *testing.T) {
	t.Run("success returns completed", func(t *testing.T) {
		svc := &fakeProvisioner{}
		h := NewHandler(svc, slog.Default())

		req := testutil.NewRequest(t, http.MethodPost, "/42/provision")
		req = testutil.WithOperator(req, "ops@example.com")
		rr := testutil.DoRequest(h.Routes(), req)

		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONContains(t, rr, "status", "completed")
		require.Equal(t, []int64{42}, svc.calls)
		assert.Equal(t, []string{"ops@example.com"}, svc.actors)
	})

	t.Run("non-numeric id", func(t *testing.T) {
		svc := &fakeProvisioner{}
		h := NewHandler(svc, slog.Default())

		rr := testutil.DoRequest(h.Routes(), testutil.NewRequest(t, http.MethodPost, "/abc/provision"))

		testutil.AssertStatus(t, rr, http.StatusBadRequest)
		assert.Empty(t, svc.calls)
	})

	errorCases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", pkgerrors.New(pkgerrors.CodeNotFound, "order not found"), http.StatusNotFound},
		{"invalid state", pkgerrors.New(pkgerrors.CodeInvalidState, "order is cancelled"), http.StatusConflict},
		{"provider rejected", pkgerrors.New(pkgerrors.CodeProviderRejected, "domain unavailable"), http.StatusUnprocessableEntity},
		{"registry outage", pkgerrors.New(pkgerrors.CodeUnavailable, "registry temporarily unavailable"), http.StatusBadGateway},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeProvisioner{failWith: tt.err}
			h := NewHandler(svc, slog.Default())

			req := testutil.WithOperator(testutil.NewRequest(t, http.MethodPost, "/42/provision"), "ops@example.com")
			rr := testutil.DoRequest(h.Routes(), req)

			testutil.AssertStatus(t, rr, tt.wantStatus)
		})
	}
}
