package poller

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"domainpay/internal/payment/metrics"
	"domainpay/internal/payment/models"
)

// StatusQuerier fetches the gateway's current view of one transaction.
type StatusQuerier interface {
	Status(ctx context.Context, merchantOrderID string) (models.Notification, error)
}

// Reconciler is the slice of the payment service the poller drives.
type Reconciler interface {
	Apply(ctx context.Context, n models.Notification, source models.Source) error
	Expire(ctx context.Context, merchantOrderID string, source models.Source) error
}

// PendingLister enumerates transactions still awaiting a terminal status.
type PendingLister interface {
	ListPending(ctx context.Context, limit int) ([]*models.Transaction, error)
}

// Poller is the safety net behind the webhook: every pending transaction is
// re-checked against the gateway on an interval, so a lost callback delays
// settlement by at most one tick instead of losing it.
type Poller struct {
	transactions PendingLister
	gateway      StatusQuerier
	service      Reconciler
	claims       Claims
	metrics      *metrics.Metrics
	logger       *slog.Logger

	interval    time.Duration
	batchLimit  int
	concurrency int
	now         func() time.Time
}

type Config struct {
	Interval    time.Duration
	BatchLimit  int
	Concurrency int
}

func New(
	transactions PendingLister,
	gw StatusQuerier,
	service Reconciler,
	claims Claims,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg Config,
) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 500
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if claims == nil {
		claims = NoopClaims{}
	}
	return &Poller{
		transactions: transactions,
		gateway:      gw,
		service:      service,
		claims:       claims,
		metrics:      m,
		logger:       logger,
		interval:     cfg.Interval,
		batchLimit:   cfg.BatchLimit,
		concurrency:  cfg.Concurrency,
		now:          time.Now,
	}
}

// Run ticks until ctx is cancelled. Each tick is independent; a failed tick
// leaves everything pending for the next one.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("poller started",
		"interval", p.interval.String(),
		"batch_limit", p.batchLimit,
		"concurrency", p.concurrency,
	)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick processes one batch of pending transactions. Exported so a tick can be
// triggered directly in tests and maintenance tooling.
func (p *Poller) Tick(ctx context.Context) {
	pending, err := p.transactions.ListPending(ctx, p.batchLimit)
	if err != nil {
		p.logger.ErrorContext(ctx, "list pending transactions failed", "error", err)
		return
	}
	p.metrics.ObservePollerBatch(len(pending))
	if len(pending) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, tx := range pending {
		tx := tx
		g.Go(func() error {
			// One transaction's failure never aborts the batch, so the
			// goroutine always returns nil.
			p.reconcileOne(gctx, tx)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Poller) reconcileOne(ctx context.Context, tx *models.Transaction) {
	if !p.claims.TryClaim(ctx, tx.MerchantOrderID) {
		return
	}

	// A transaction past its payment window expires locally without a gateway
	// round trip. The conditional advance still protects against a late
	// webhook racing this.
	if tx.ExpiresAt != nil && p.now().After(*tx.ExpiresAt) {
		if err := p.service.Expire(ctx, tx.MerchantOrderID, models.SourcePoller); err != nil {
			p.logger.ErrorContext(ctx, "expire transaction failed",
				"merchant_order_id", tx.MerchantOrderID, "error", err)
		}
		return
	}

	started := p.now()
	n, err := p.gateway.Status(ctx, tx.MerchantOrderID)
	p.metrics.ObserveGatewayLatency(p.now().Sub(started))
	if err != nil {
		p.logger.WarnContext(ctx, "gateway status query failed",
			"merchant_order_id", tx.MerchantOrderID, "error", err)
		return
	}
	if n.MerchantOrderID == "" {
		n.MerchantOrderID = tx.MerchantOrderID
	}

	if err := p.service.Apply(ctx, n, models.SourcePoller); err != nil {
		p.logger.ErrorContext(ctx, "poller reconciliation failed",
			"merchant_order_id", tx.MerchantOrderID, "error", err)
	}
}
