package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	auditpg "domainpay/pkg/audit/store/postgres"
)

const defaultBatchSize = 100

// Worker drains the audit outbox: each pass claims unpublished rows, produces
// them to Kafka, materializes them into audit_events, and stamps them
// published. Kafka is the durable fan-out; audit_events is the local query
// surface for operators.
type Worker struct {
	db       *sql.DB
	store    *auditpg.Store
	producer *kgo.Client
	topic    string
	interval time.Duration
	logger   *slog.Logger
}

func New(db *sql.DB, store *auditpg.Store, producer *kgo.Client, topic string, interval time.Duration, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Worker{
		db:       db,
		store:    store,
		producer: producer,
		topic:    topic,
		interval: interval,
		logger:   logger,
	}
}

// EnsureTopic creates the audit topic if it does not exist yet.
func (w *Worker) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	adm := kadm.NewClient(w.producer)
	resp, err := adm.CreateTopic(ctx, partitions, replication, nil, w.topic)
	if err != nil {
		return fmt.Errorf("create audit topic: %w", err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create audit topic: %w", resp.Err)
	}
	return nil
}

// Run processes the outbox until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.ErrorContext(ctx, "audit outbox drain failed", "error", err)
			}
		}
	}
}

// drain publishes one batch. Claim and publish share a transaction so a crash
// between produce and commit re-delivers the batch; the materialized insert is
// idempotent and Kafka consumers are expected to dedupe on event ID.
func (w *Worker) drain(ctx context.Context) error {
	for {
		n, err := w.drainBatch(ctx)
		if err != nil {
			return err
		}
		if n < defaultBatchSize {
			return nil
		}
	}
}

func (w *Worker) drainBatch(ctx context.Context) (int, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin outbox drain: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	entries, err := w.store.ClaimUnpublished(ctx, tx, defaultBatchSize)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	for _, entry := range entries {
		record := &kgo.Record{
			Topic: w.topic,
			Key:   []byte(entry.ID.String()),
			Value: entry.Payload,
		}
		if err := w.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
			return 0, fmt.Errorf("produce audit event %s: %w", entry.ID, err)
		}

		event, err := auditpg.DecodePayload(entry.Payload)
		if err != nil {
			// A malformed payload would wedge the outbox forever; log it and
			// move on, the Kafka copy is already out.
			w.logger.ErrorContext(ctx, "skip materializing audit event", "id", entry.ID, "error", err)
		} else if err := w.store.Materialize(ctx, tx, event); err != nil {
			return 0, err
		}

		if err := w.store.MarkPublished(ctx, tx, entry.ID); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit outbox drain: %w", err)
	}
	return len(entries), nil
}
