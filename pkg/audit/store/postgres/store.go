package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"domainpay/pkg/audit"
	txcontext "domainpay/pkg/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Events are written to the outbox table and published to Kafka by the outbox
// worker, which also materializes them into audit_events for querying.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// outboxPayload is the JSON structure published to Kafka. Field names match
// audit.Event for deserialization by downstream consumers.
type outboxPayload struct {
	ID        string          `json:"ID"`
	Timestamp string          `json:"Timestamp"`
	Actor     string          `json:"Actor,omitempty"`
	Source    string          `json:"Source,omitempty"`
	Action    string          `json:"Action"`
	Resource  string          `json:"Resource"`
	Payload   json.RawMessage `json:"Payload,omitempty"`
	Status    string          `json:"Status"`
}

// Append writes an audit event to the outbox table. It honours a transaction
// in context so domain writes and their audit entry commit together.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	payload := outboxPayload{
		ID:        event.ID.String(),
		Timestamp: event.Timestamp.Format(time.RFC3339Nano),
		Actor:     event.Actor,
		Source:    event.Source,
		Action:    string(event.Action),
		Resource:  event.Resource,
		Payload:   event.Payload,
		Status:    event.Status,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		event.ID,
		"audit",
		event.Resource,
		string(event.Action),
		payloadBytes,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// OutboxEntry is an unpublished row claimed by the worker.
type OutboxEntry struct {
	ID      uuid.UUID
	Type    string
	Payload []byte
}

// ClaimUnpublished locks up to limit unpublished entries for this worker pass.
// FOR UPDATE SKIP LOCKED keeps concurrent workers from double-publishing.
func (s *Store) ClaimUnpublished(ctx context.Context, tx *sql.Tx, limit int) ([]OutboxEntry, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, event_type, payload
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox entries: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.Type, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox entries: %w", err)
	}
	return entries, nil
}

// MarkPublished stamps an outbox entry after its Kafka produce succeeded.
func (s *Store) MarkPublished(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	if _, err := tx.ExecContext(ctx, `UPDATE outbox SET published_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

// Materialize inserts the event into audit_events for querying.
// Idempotent via ON CONFLICT DO NOTHING so worker retries are safe.
func (s *Store) Materialize(ctx context.Context, tx *sql.Tx, event audit.Event) error {
	query := `
		INSERT INTO audit_events (id, timestamp, actor, source, action, resource, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	var payload any
	if len(event.Payload) > 0 {
		payload = []byte(event.Payload)
	}
	_, err := tx.ExecContext(ctx, query,
		event.ID,
		event.Timestamp,
		event.Actor,
		event.Source,
		string(event.Action),
		event.Resource,
		payload,
		event.Status,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByResource returns events for one entity, newest first.
func (s *Store) ListByResource(ctx context.Context, resource string) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, actor, source, action, resource, payload, status
		FROM audit_events
		WHERE resource = $1
		ORDER BY timestamp DESC
	`, resource)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			event   audit.Event
			action  string
			payload []byte
		)
		if err := rows.Scan(&event.ID, &event.Timestamp, &event.Actor, &event.Source, &action, &event.Resource, &payload, &event.Status); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Action = audit.Action(action)
		event.Payload = payload
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// DecodePayload turns an outbox payload back into an audit.Event for
// materialization.
func DecodePayload(raw []byte) (audit.Event, error) {
	var p outboxPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return audit.Event{}, fmt.Errorf("unmarshal outbox payload: %w", err)
	}
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return audit.Event{}, fmt.Errorf("parse outbox event id: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		return audit.Event{}, fmt.Errorf("parse outbox timestamp: %w", err)
	}
	return audit.Event{
		ID:        id,
		Timestamp: ts,
		Actor:     p.Actor,
		Source:    p.Source,
		Action:    audit.Action(p.Action),
		Resource:  p.Resource,
		Payload:   p.Payload,
		Status:    p.Status,
	}, nil
}
