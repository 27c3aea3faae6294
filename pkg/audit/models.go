package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Action names the state transition or attempt an event records.
type Action string

const (
	ActionTransactionStatusChanged Action = "transaction_status_changed"
	ActionOrderPaid                Action = "order_paid"
	ActionOrderCancelled           Action = "order_cancelled"
	ActionFulfillmentStarted       Action = "fulfillment_started"
	ActionFulfillmentSucceeded     Action = "fulfillment_succeeded"
	ActionFulfillmentFailed        Action = "fulfillment_failed"
	ActionCallbackRejected         Action = "callback_rejected"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        uuid.UUID
	Timestamp time.Time
	// Actor is who triggered the action: "system" for gateway-driven
	// transitions, an operator subject for manual ones.
	Actor string
	// Source is the triggering entry point (payment_webhook, poller, manual)
	// or a client IP where one is known.
	Source string
	Action Action
	// Resource identifies the affected entity, e.g. "transaction:TRX-123" or
	// "order:42".
	Resource string
	// Payload holds the raw gateway/provider data for the event. Opaque bytes
	// by design: shapes vary per gateway and are only read by humans.
	Payload json.RawMessage
	// Status is "ok" for applied transitions, "error" for failed attempts.
	Status string
}

// Store is an append-only audit sink.
type Store interface {
	Append(ctx context.Context, event Event) error
}
