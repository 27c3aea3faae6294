package fulfillment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"domainpay/internal/domains"
	"domainpay/internal/fulfillment/metrics"
	ordermodels "domainpay/internal/order/models"
	orderstore "domainpay/internal/order/store"
	"domainpay/internal/registry"
	"domainpay/pkg/audit"
	pkgerrors "domainpay/pkg/errors"
	txcontext "domainpay/pkg/tx"
)

// Service turns a paid order into a real registry operation. Payment
// reconciliation and operator retries both converge here, so the guards at
// the top are what make double provisioning impossible.
type Service struct {
	orders   orderstore.Store
	domains  domains.Store
	provider registry.Provider
	auditor  *audit.Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
	// db, when set, wraps the post-provision writes (domain upsert, order
	// completion, audit outbox) in one transaction. Nil in unit tests backed
	// by memory stores.
	db     *sql.DB
	tracer trace.Tracer
	now    func() time.Time
}

func NewService(
	orders orderstore.Store,
	domainStore domains.Store,
	provider registry.Provider,
	auditor *audit.Recorder,
	m *metrics.Metrics,
	logger *slog.Logger,
	db *sql.DB,
) *Service {
	return &Service{
		orders:   orders,
		domains:  domainStore,
		provider: provider,
		auditor:  auditor,
		metrics:  m,
		logger:   logger,
		db:       db,
		tracer:   otel.Tracer("domainpay/fulfillment"),
		now:      time.Now,
	}
}

// Provision executes the order's registry action. Idempotent with respect to
// completed orders; a provider failure leaves the order in paid with the raw
// error recorded so an operator can retry through the same entry point.
func (s *Service) Provision(ctx context.Context, orderID int64, actor, source string) error {
	ctx, span := s.tracer.Start(ctx, "fulfillment.Provision",
		trace.WithAttributes(
			attribute.Int64("order.id", orderID),
			attribute.String("source", source),
		))
	defer span.End()

	ord, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, "order not found", err)
	}

	// Completed is terminal: a retried callback plus a manual retry must not
	// provision twice. Returning success keeps retries cheap and quiet.
	if ord.Status == ordermodels.StatusCompleted {
		s.metrics.IncOutcome(string(ord.Action), "skipped")
		s.logger.InfoContext(ctx, "order already completed, skipping fulfillment",
			"order_id", orderID, "source", source)
		return nil
	}
	if ord.Status == ordermodels.StatusCancelled {
		return pkgerrors.New(pkgerrors.CodeInvalidState, "order is cancelled")
	}
	if ord.Status == ordermodels.StatusPending {
		return pkgerrors.New(pkgerrors.CodeInvalidState, "order payment not captured")
	}
	if ord.Status == ordermodels.StatusProcessing {
		// Another attempt holds the order; its outcome is authoritative.
		s.metrics.IncOutcome(string(ord.Action), "skipped")
		s.logger.InfoContext(ctx, "order provisioning already in flight",
			"order_id", orderID, "source", source)
		return nil
	}

	if err := validateActionable(ord); err != nil {
		s.recordFailure(ctx, ord, actor, source, nil, err)
		return err
	}

	moved, err := s.orders.MarkProcessing(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, "mark order processing", err)
	}
	if !moved {
		// Lost the paid to processing transition to a concurrent attempt;
		// let that one own the outcome.
		s.metrics.IncOutcome(string(ord.Action), "skipped")
		return nil
	}

	s.auditor.Record(ctx, audit.Event{
		Actor:    actor,
		Source:   source,
		Action:   audit.ActionFulfillmentStarted,
		Resource: orderResource(orderID),
		Payload:  orderPayload(ord),
	})

	started := s.now()
	result, provErr := s.dispatch(ctx, ord)
	s.metrics.ObserveProviderLatency(string(ord.Action), s.now().Sub(started))

	if provErr != nil {
		s.recordFailure(ctx, ord, actor, source, registry.RawResponse(provErr), provErr)
		if registry.IsRetryable(provErr) {
			return pkgerrors.Wrap(pkgerrors.CodeUnavailable, "registry temporarily unavailable", provErr)
		}
		return pkgerrors.Wrap(pkgerrors.CodeProviderRejected, "registry rejected operation", provErr)
	}

	if err := s.finalize(ctx, ord, result, actor, source); err != nil {
		return err
	}

	s.metrics.IncOutcome(string(ord.Action), "completed")
	s.logger.InfoContext(ctx, "order fulfilled",
		"order_id", orderID,
		"action", string(ord.Action),
		"domain", ord.DomainName,
		"registry_domain_id", result.DomainID,
		"source", source,
	)
	return nil
}

// validateActionable fails fast before any provider call when the order
// cannot possibly be provisioned.
func validateActionable(ord *ordermodels.Order) error {
	if ord.DomainName == "" {
		return pkgerrors.New(pkgerrors.CodeBadRequest, "order has no domain name")
	}
	if !ord.Action.Valid() {
		return pkgerrors.New(pkgerrors.CodeBadRequest, fmt.Sprintf("unknown order action %q", ord.Action))
	}
	if ord.PeriodYears <= 0 {
		return pkgerrors.New(pkgerrors.CodeBadRequest, "order has no registration period")
	}
	if ord.Action == ordermodels.ActionTransfer && ord.AuthCode == "" {
		return pkgerrors.New(pkgerrors.CodeBadRequest, "transfer order missing auth code")
	}
	// Renewal needs the registry-assigned domain id. Orders created before
	// the domain was ever provisioned through us may lack it; guessing a
	// lookup-by-name could renew the wrong registration, so refuse and let an
	// operator fix the order.
	if ord.Action == ordermodels.ActionRenew && ord.RegistryDomainID == "" {
		return pkgerrors.New(pkgerrors.CodeBadRequest, "renew order missing registry domain id")
	}
	return nil
}

func (s *Service) dispatch(ctx context.Context, ord *ordermodels.Order) (*registry.Result, error) {
	switch ord.Action {
	case ordermodels.ActionRegister:
		return s.provider.Register(ctx, registry.RegisterRequest{
			DomainName:      ord.DomainName,
			CustomerID:      ord.RegistryCustomerID,
			PeriodYears:     ord.PeriodYears,
			WhoisProtection: ord.WhoisProtection,
		})
	case ordermodels.ActionRenew:
		return s.provider.Renew(ctx, registry.RenewRequest{
			DomainID:    ord.RegistryDomainID,
			DomainName:  ord.DomainName,
			PeriodYears: ord.PeriodYears,
		})
	case ordermodels.ActionTransfer:
		return s.provider.Transfer(ctx, registry.TransferRequest{
			DomainName:  ord.DomainName,
			CustomerID:  ord.RegistryCustomerID,
			AuthCode:    ord.AuthCode,
			PeriodYears: ord.PeriodYears,
		})
	default:
		return nil, pkgerrors.New(pkgerrors.CodeBadRequest, fmt.Sprintf("unknown order action %q", ord.Action))
	}
}

// finalize persists the successful result: domain upsert (register/transfer
// only), order completion and the audit entry, atomically when a database is
// wired.
func (s *Service) finalize(ctx context.Context, ord *ordermodels.Order, result *registry.Result, actor, source string) error {
	apply := func(ctx context.Context) error {
		if ord.Action != ordermodels.ActionRenew {
			if err := s.domains.Upsert(ctx, &domains.Domain{
				RegistryID:  result.DomainID,
				CustomerID:  ord.RegistryCustomerID,
				Name:        ord.DomainName,
				Status:      result.Status,
				Nameservers: result.Nameservers,
				ExpiresAt:   result.ExpiresAt,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, "persist domain record", err)
			}
		}

		completed, err := s.orders.Complete(ctx, ord.ID, s.now(), result.Raw)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, "complete order", err)
		}
		if !completed {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "order left processing state during fulfillment")
		}

		note := fmt.Sprintf("%s %s completed via %s (registry domain %s)",
			s.now().Format(time.RFC3339), ord.Action, source, result.DomainID)
		if err := s.orders.AppendNote(ctx, ord.ID, note); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, "append order note", err)
		}

		s.auditor.Record(ctx, audit.Event{
			Actor:    actor,
			Source:   source,
			Action:   audit.ActionFulfillmentSucceeded,
			Resource: orderResource(ord.ID),
			Payload:  result.Raw,
		})
		return nil
	}

	if s.db == nil {
		return apply(ctx)
	}

	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, "begin fulfillment transaction", err)
	}
	defer func() {
		_ = dbtx.Rollback()
	}()
	if err := apply(txcontext.WithTx(ctx, dbtx)); err != nil {
		return err
	}
	if err := dbtx.Commit(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, "commit fulfillment transaction", err)
	}
	return nil
}

// recordFailure puts the order back in paid with the raw provider error and
// leaves a note for the operator. Payment is captured; cancelling here would
// strand money, so paid is the only acceptable landing state.
func (s *Service) recordFailure(ctx context.Context, ord *ordermodels.Order, actor, source string, raw []byte, cause error) {
	if raw == nil {
		raw, _ = json.Marshal(map[string]string{"error": cause.Error()})
	}

	if ord.Status == ordermodels.StatusPaid || ord.Status == ordermodels.StatusProcessing {
		if _, err := s.orders.RevertToPaid(ctx, ord.ID, raw); err != nil {
			s.logger.ErrorContext(ctx, "revert order to paid failed", "order_id", ord.ID, "error", err)
		}
		note := fmt.Sprintf("%s %s failed via %s: %s",
			s.now().Format(time.RFC3339), ord.Action, source, cause.Error())
		if err := s.orders.AppendNote(ctx, ord.ID, note); err != nil {
			s.logger.ErrorContext(ctx, "append failure note failed", "order_id", ord.ID, "error", err)
		}
	}

	s.metrics.IncOutcome(string(ord.Action), "failed")
	s.auditor.Record(ctx, audit.Event{
		Actor:    actor,
		Source:   source,
		Action:   audit.ActionFulfillmentFailed,
		Resource: orderResource(ord.ID),
		Payload:  raw,
		Status:   "error",
	})
	s.logger.WarnContext(ctx, "fulfillment failed",
		"order_id", ord.ID,
		"action", string(ord.Action),
		"source", source,
		"error", cause,
	)
}

func orderResource(id int64) string {
	return fmt.Sprintf("order:%d", id)
}

func orderPayload(ord *ordermodels.Order) json.RawMessage {
	payload, _ := json.Marshal(map[string]any{
		"action":  ord.Action,
		"domain":  ord.DomainName,
		"period":  ord.PeriodYears,
		"status":  ord.Status,
		"whois":   ord.WhoisProtection,
		"renewId": ord.RegistryDomainID,
	})
	return payload
}
