package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	orderstore "domainpay/internal/order/store"
	"domainpay/internal/payment/metrics"
	"domainpay/internal/payment/models"
	"domainpay/internal/payment/store"
	"domainpay/pkg/audit"
	pkgerrors "domainpay/pkg/errors"
	"domainpay/pkg/sentinel"
)

// Fulfiller hands a paid order to the fulfillment module. Kept as a local
// interface so reconciliation can be tested without a registry in the loop.
type Fulfiller interface {
	Provision(ctx context.Context, orderID int64, actor, source string) error
}

// Service is the reconciliation core. Every gateway status observation, no
// matter which entry point saw it, funnels through Apply; the conditional
// store advance is what makes concurrent duplicate deliveries collapse into
// exactly one transition.
type Service struct {
	transactions store.Store
	orders       orderstore.Store
	fulfiller    Fulfiller
	auditor      *audit.Recorder
	metrics      *metrics.Metrics
	logger       *slog.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

func NewService(
	transactions store.Store,
	orders orderstore.Store,
	fulfiller Fulfiller,
	auditor *audit.Recorder,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	return &Service{
		transactions: transactions,
		orders:       orders,
		fulfiller:    fulfiller,
		auditor:      auditor,
		metrics:      m,
		logger:       logger,
		tracer:       otel.Tracer("domainpay/payment"),
		now:          time.Now,
	}
}

// Apply reconciles one gateway notification against the stored transaction.
// It is safe to call any number of times with the same notification: only the
// first terminal observation changes state, everything after is a no-op.
func (s *Service) Apply(ctx context.Context, n models.Notification, source models.Source) error {
	ctx, span := s.tracer.Start(ctx, "payment.Apply",
		trace.WithAttributes(
			attribute.String("merchant_order_id", n.MerchantOrderID),
			attribute.String("result_code", n.ResultCode),
			attribute.String("source", string(source)),
		))
	defer span.End()

	tx, err := s.transactions.FindByMerchantOrderID(ctx, n.MerchantOrderID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.metrics.IncNoOp("unknown_transaction")
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, "unknown merchant order id", err)
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, "load transaction", err)
	}

	if tx.Status.Terminal() {
		s.metrics.IncNoOp("already_terminal")
		s.logger.DebugContext(ctx, "duplicate notification for settled transaction",
			"merchant_order_id", n.MerchantOrderID, "status", string(tx.Status), "source", string(source))
		return nil
	}

	next, ok := mapResultCode(n.ResultCode)
	if !ok {
		// Pending or unrecognized but non-terminal: nothing to record, the
		// poller will ask again.
		s.metrics.IncNoOp("still_pending")
		return nil
	}

	// Amount mismatch on a success means either a tampered payload or a
	// gateway-side inconsistency. Either way the transaction must not settle;
	// a zero notification amount means the gateway did not state one.
	if next == models.StatusSuccess && n.Amount != 0 && n.Amount != tx.Amount {
		s.metrics.IncNoOp("amount_mismatch")
		s.auditor.Record(ctx, audit.Event{
			Actor:    actorFor(source),
			Source:   string(source),
			Action:   audit.ActionCallbackRejected,
			Resource: transactionResource(n.MerchantOrderID),
			Payload:  n.Raw,
			Status:   "error",
		})
		s.logger.WarnContext(ctx, "notification amount mismatch",
			"merchant_order_id", n.MerchantOrderID,
			"expected", tx.Amount,
			"got", n.Amount,
			"source", string(source),
		)
		return pkgerrors.New(pkgerrors.CodeBadRequest,
			fmt.Sprintf("amount mismatch: expected %d, got %d", tx.Amount, n.Amount))
	}

	adv := store.Advance{
		Next:          next,
		StatusCode:    n.ResultCode,
		StatusMessage: n.StatusMessage,
		Reference:     n.Reference,
	}
	if next == models.StatusSuccess {
		paidAt := s.now()
		adv.PaidAt = &paidAt
	}

	updated, won, err := s.transactions.AdvanceFromPending(ctx, n.MerchantOrderID, adv)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, "advance transaction", err)
	}
	if !won {
		// Some other delivery settled this transaction between our read and
		// the update. Their side effects are authoritative.
		s.metrics.IncNoOp("lost_race")
		s.logger.InfoContext(ctx, "transaction already advanced by concurrent delivery",
			"merchant_order_id", n.MerchantOrderID, "source", string(source))
		return nil
	}

	s.metrics.IncTransition(string(next), string(source))
	s.auditor.Record(ctx, audit.Event{
		Actor:    actorFor(source),
		Source:   string(source),
		Action:   audit.ActionTransactionStatusChanged,
		Resource: transactionResource(n.MerchantOrderID),
		Payload:  n.Raw,
	})
	s.logger.InfoContext(ctx, "transaction settled",
		"merchant_order_id", n.MerchantOrderID,
		"status", string(next),
		"order_id", updated.OrderID,
		"source", string(source),
	)

	switch next {
	case models.StatusSuccess:
		return s.onPaid(ctx, updated, source)
	case models.StatusFailed, models.StatusExpired:
		s.cancelOrder(ctx, updated, source, string(next))
		return nil
	}
	return nil
}

// Expire settles a transaction whose payment window elapsed without the
// gateway ever reporting a terminal status. Called by the poller; the same
// conditional advance protects against a webhook arriving at the same moment.
func (s *Service) Expire(ctx context.Context, merchantOrderID string, source models.Source) error {
	ctx, span := s.tracer.Start(ctx, "payment.Expire",
		trace.WithAttributes(attribute.String("merchant_order_id", merchantOrderID)))
	defer span.End()

	updated, won, err := s.transactions.AdvanceFromPending(ctx, merchantOrderID, store.Advance{
		Next:          models.StatusExpired,
		StatusMessage: "payment window elapsed",
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, "expire transaction", err)
	}
	if !won {
		s.metrics.IncNoOp("lost_race")
		return nil
	}

	s.metrics.IncTransition(string(models.StatusExpired), string(source))
	s.auditor.Record(ctx, audit.Event{
		Actor:    actorFor(source),
		Source:   string(source),
		Action:   audit.ActionTransactionStatusChanged,
		Resource: transactionResource(merchantOrderID),
	})
	s.logger.InfoContext(ctx, "transaction expired locally",
		"merchant_order_id", merchantOrderID, "order_id", updated.OrderID)

	s.cancelOrder(ctx, updated, source, string(models.StatusExpired))
	return nil
}

// onPaid marks the order paid and triggers fulfillment. A fulfillment failure
// is reported to the caller but the order stays paid; money is captured and
// the operator retry path picks it up from there.
func (s *Service) onPaid(ctx context.Context, tx *models.Transaction, source models.Source) error {
	moved, err := s.orders.MarkPaid(ctx, tx.OrderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, "mark order paid", err)
	}
	if moved {
		s.auditor.Record(ctx, audit.Event{
			Actor:    actorFor(source),
			Source:   string(source),
			Action:   audit.ActionOrderPaid,
			Resource: orderResource(tx.OrderID),
		})
	}

	if err := s.fulfiller.Provision(ctx, tx.OrderID, actorFor(source), string(source)); err != nil {
		s.logger.ErrorContext(ctx, "fulfillment after payment failed",
			"order_id", tx.OrderID,
			"merchant_order_id", tx.MerchantOrderID,
			"error", err,
		)
		return fmt.Errorf("fulfill order %d: %w", tx.OrderID, err)
	}
	return nil
}

// cancelOrder cancels the linked order if it is still pending. An order that
// already collected a successful payment through another transaction is left
// alone.
func (s *Service) cancelOrder(ctx context.Context, tx *models.Transaction, source models.Source, reason string) {
	cancelled, err := s.orders.CancelIfPending(ctx, tx.OrderID)
	if err != nil {
		s.logger.ErrorContext(ctx, "cancel order failed",
			"order_id", tx.OrderID, "error", err)
		return
	}
	if !cancelled {
		return
	}
	note := fmt.Sprintf("%s cancelled: payment %s (%s)",
		s.now().Format(time.RFC3339), reason, tx.MerchantOrderID)
	if err := s.orders.AppendNote(ctx, tx.OrderID, note); err != nil {
		s.logger.ErrorContext(ctx, "append cancellation note failed",
			"order_id", tx.OrderID, "error", err)
	}
	s.auditor.Record(ctx, audit.Event{
		Actor:    actorFor(source),
		Source:   string(source),
		Action:   audit.ActionOrderCancelled,
		Resource: orderResource(tx.OrderID),
	})
}

// mapResultCode translates a gateway result code into the transaction status
// it settles to. The second return is false for codes that leave the
// transaction pending.
func mapResultCode(code string) (models.Status, bool) {
	switch code {
	case models.ResultCodeSuccess:
		return models.StatusSuccess, true
	case models.ResultCodeFailed:
		return models.StatusFailed, true
	case models.ResultCodePending, "":
		return "", false
	default:
		// The gateway's documented codes stop at 02, but its status API has
		// been seen returning vendor codes for cancelled and expired sessions.
		// Any unknown code is terminal and not a success, so expired is the
		// safe reading.
		return models.StatusExpired, true
	}
}

func actorFor(source models.Source) string {
	switch source {
	case models.SourceWebhook:
		return "gateway"
	case models.SourcePoller:
		return "system"
	default:
		return string(source)
	}
}

func transactionResource(merchantOrderID string) string {
	return "transaction:" + merchantOrderID
}

func orderResource(id int64) string {
	return fmt.Sprintf("order:%d", id)
}
