package fulfillment

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"domainpay/internal/domains"
	ordermodels "domainpay/internal/order/models"
	orderstore "domainpay/internal/order/store"
	"domainpay/internal/registry"
	"domainpay/internal/registry/mocks"
	"domainpay/pkg/audit"
	auditmem "domainpay/pkg/audit/store/memory"
	pkgerrors "domainpay/pkg/errors"
)

type FulfillmentSuite struct {
	suite.Suite

	ctrl      *gomock.Controller
	orders    *orderstore.InMemory
	domains   *domains.InMemory
	provider  *mocks.MockProvider
	auditSink *auditmem.Store
	service   *Service
}

func TestFulfillmentSuite(t *testing.T) {
	suite.Run(t, new(FulfillmentSuite))
}

func (s *FulfillmentSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.orders = orderstore.NewInMemory()
	s.domains = domains.NewInMemory()
	s.provider = mocks.NewMockProvider(s.ctrl)
	s.auditSink = auditmem.New()
	s.service = NewService(
		s.orders, s.domains, s.provider,
		audit.NewRecorder(s.auditSink, slog.Default()),
		nil, slog.Default(), nil,
	)
}

func (s *FulfillmentSuite) seedOrder(status ordermodels.Status, action ordermodels.Action) *ordermodels.Order {
	ord := &ordermodels.Order{
		Status:      status,
		Action:      action,
		DomainName:  "example.com",
		PeriodYears: 1,
	}
	if action == ordermodels.ActionRenew {
		ord.RegistryDomainID = "rd-42"
	}
	if action == ordermodels.ActionTransfer {
		ord.AuthCode = "epp-secret"
	}
	s.orders.Seed(ord)
	return ord
}

func registerResult() *registry.Result {
	expires := time.Now().AddDate(1, 0, 0)
	return &registry.Result{
		DomainID:    "rd-42",
		Status:      "active",
		Nameservers: []string{"ns1.example.net", "ns2.example.net"},
		ExpiresAt:   &expires,
		Raw:         []byte(`{"success":true}`),
	}
}

func (s *FulfillmentSuite) TestRegisterSuccess() {
	ctx := context.Background()
	ord := s.seedOrder(ordermodels.StatusPaid, ordermodels.ActionRegister)

	s.provider.EXPECT().
		Register(gomock.Any(), registry.RegisterRequest{
			DomainName:  "example.com",
			PeriodYears: 1,
		}).
		Return(registerResult(), nil)

	s.Require().NoError(s.service.Provision(ctx, ord.ID, "ops@example.com", "manual"))

	got, err := s.orders.FindByID(ctx, ord.ID)
	s.Require().NoError(err)
	s.Equal(ordermodels.StatusCompleted, got.Status)
	s.Require().NotNil(got.CompletedAt)
	s.JSONEq(`{"success":true}`, string(got.RdashResponse))
	s.Nil(got.RdashError)
	s.Contains(got.Notes, "register completed")

	domain, err := s.domains.FindByRegistryID(ctx, "rd-42")
	s.Require().NoError(err)
	s.Equal("example.com", domain.Name)
	s.Len(s.auditSink.ByAction(audit.ActionFulfillmentSucceeded), 1)
}

// A completed order is terminal: retries return success without touching the
// registry.
func (s *FulfillmentSuite) TestCompletedOrderSkipsProvider() {
	ctx := context.Background()
	ord := s.seedOrder(ordermodels.StatusCompleted, ordermodels.ActionRegister)

	// No provider expectations set: any call fails the test.
	s.Require().NoError(s.service.Provision(ctx, ord.ID, "ops@example.com", "manual"))
	s.Require().NoError(s.service.Provision(ctx, ord.ID, "ops@example.com", "payment_webhook"))
	s.Empty(s.auditSink.Events())
}

func (s *FulfillmentSuite) TestInvalidStates() {
	ctx := context.Background()

	s.Run("cancelled order", func() {
		ord := s.seedOrder(ordermodels.StatusCancelled, ordermodels.ActionRegister)
		err := s.service.Provision(ctx, ord.ID, "ops", "manual")
		s.Require().Error(err)
		s.True(pkgerrors.Is(err, pkgerrors.CodeInvalidState))
	})

	s.Run("pending order", func() {
		ord := s.seedOrder(ordermodels.StatusPending, ordermodels.ActionRegister)
		err := s.service.Provision(ctx, ord.ID, "ops", "manual")
		s.Require().Error(err)
		s.True(pkgerrors.Is(err, pkgerrors.CodeInvalidState))
	})

	s.Run("unknown order", func() {
		err := s.service.Provision(ctx, 999, "ops", "manual")
		s.Require().Error(err)
		s.True(pkgerrors.Is(err, pkgerrors.CodeNotFound))
	})
}

func (s *FulfillmentSuite) TestRenewWithoutDomainIDFailsFast() {
	ctx := context.Background()
	ord := &ordermodels.Order{
		Status:      ordermodels.StatusPaid,
		Action:      ordermodels.ActionRenew,
		DomainName:  "example.com",
		PeriodYears: 1,
	}
	s.orders.Seed(ord)

	err := s.service.Provision(ctx, ord.ID, "ops", "manual")
	s.Require().Error(err)
	s.True(pkgerrors.Is(err, pkgerrors.CodeBadRequest))
	s.Len(s.auditSink.ByAction(audit.ActionFulfillmentFailed), 1)
}

func (s *FulfillmentSuite) TestProviderRejectionRevertsToPaid() {
	ctx := context.Background()
	ord := s.seedOrder(ordermodels.StatusPaid, ordermodels.ActionRegister)

	raw := []byte(`{"success":false,"message":"domain unavailable"}`)
	s.provider.EXPECT().
		Register(gomock.Any(), gomock.Any()).
		Return(nil, &registry.ProviderError{
			Category:  registry.ErrorRejected,
			Message:   "domain unavailable",
			Retryable: false,
			Raw:       raw,
		})

	err := s.service.Provision(ctx, ord.ID, "ops@example.com", "manual")
	s.Require().Error(err)
	s.True(pkgerrors.Is(err, pkgerrors.CodeProviderRejected))

	// The order lands back in paid with the raw provider error attached; the
	// payment is captured and the operator decides what happens next.
	got, findErr := s.orders.FindByID(ctx, ord.ID)
	s.Require().NoError(findErr)
	s.Equal(ordermodels.StatusPaid, got.Status)
	s.JSONEq(string(raw), string(got.RdashError))
	s.Contains(got.Notes, "register failed")

	s.Equal(0, s.domains.UpsertCount())
	s.Len(s.auditSink.ByAction(audit.ActionFulfillmentFailed), 1)
}

func (s *FulfillmentSuite) TestProviderOutageIsRetryable() {
	ctx := context.Background()
	ord := s.seedOrder(ordermodels.StatusPaid, ordermodels.ActionRegister)

	s.provider.EXPECT().
		Register(gomock.Any(), gomock.Any()).
		Return(nil, &registry.ProviderError{
			Category:  registry.ErrorOutage,
			Message:   "registry returned 503",
			Retryable: true,
		})

	err := s.service.Provision(ctx, ord.ID, "ops@example.com", "manual")
	s.Require().Error(err)
	s.True(pkgerrors.Is(err, pkgerrors.CodeUnavailable))

	got, findErr := s.orders.FindByID(ctx, ord.ID)
	s.Require().NoError(findErr)
	s.Equal(ordermodels.StatusPaid, got.Status)
}

func (s *FulfillmentSuite) TestRenewDoesNotUpsertDomain() {
	ctx := context.Background()
	ord := s.seedOrder(ordermodels.StatusPaid, ordermodels.ActionRenew)

	s.provider.EXPECT().
		Renew(gomock.Any(), registry.RenewRequest{
			DomainID:    "rd-42",
			DomainName:  "example.com",
			PeriodYears: 1,
		}).
		Return(registerResult(), nil)

	s.Require().NoError(s.service.Provision(ctx, ord.ID, "ops@example.com", "manual"))

	got, err := s.orders.FindByID(ctx, ord.ID)
	s.Require().NoError(err)
	s.Equal(ordermodels.StatusCompleted, got.Status)
	// Renewal extends an existing registration; the domain record is owned by
	// the registration flow.
	s.Equal(0, s.domains.UpsertCount())
}

func (s *FulfillmentSuite) TestTransferSuccess() {
	ctx := context.Background()
	ord := s.seedOrder(ordermodels.StatusPaid, ordermodels.ActionTransfer)

	s.provider.EXPECT().
		Transfer(gomock.Any(), registry.TransferRequest{
			DomainName:  "example.com",
			AuthCode:    "epp-secret",
			PeriodYears: 1,
		}).
		Return(registerResult(), nil)

	s.Require().NoError(s.service.Provision(ctx, ord.ID, "ops@example.com", "manual"))
	s.Equal(1, s.domains.UpsertCount())
}

func (s *FulfillmentSuite) TestTransferWithoutAuthCode() {
	ctx := context.Background()
	ord := &ordermodels.Order{
		Status:      ordermodels.StatusPaid,
		Action:      ordermodels.ActionTransfer,
		DomainName:  "example.com",
		PeriodYears: 1,
	}
	s.orders.Seed(ord)

	err := s.service.Provision(ctx, ord.ID, "ops", "manual")
	s.Require().Error(err)
	s.True(pkgerrors.Is(err, pkgerrors.CodeBadRequest))
}

// Two provisioning attempts racing on a paid order: the MarkProcessing
// compare-and-set lets exactly one through to the provider.
func (s *FulfillmentSuite) TestConcurrentProvisionSingleProviderCall() {
	ctx := context.Background()
	ord := s.seedOrder(ordermodels.StatusPaid, ordermodels.ActionRegister)

	s.provider.EXPECT().
		Register(gomock.Any(), gomock.Any()).
		Return(registerResult(), nil).
		Times(1)

	done := make(chan error, 2)
	go func() { done <- s.service.Provision(ctx, ord.ID, "ops", "manual") }()
	go func() { done <- s.service.Provision(ctx, ord.ID, "ops", "payment_webhook") }()
	s.Require().NoError(<-done)
	s.Require().NoError(<-done)

	s.Equal(1, s.domains.UpsertCount())
}
