package models

import (
	"encoding/json"
	"time"
)

// Status is the persisted transaction state. It is monotonic: once terminal
// it is never overwritten, which is what makes duplicate gateway
// notifications safe to replay.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusExpired Status = "expired"
)

// Terminal reports whether the status can never change again.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusExpired
}

// Source identifies which entry point observed a gateway status. Webhook and
// poller race by design; the audit trail records who won.
type Source string

const (
	SourceWebhook Source = "payment_webhook"
	SourcePoller  Source = "poller"
	SourceManual  Source = "manual"
)

// Gateway result codes shared by the callback and the status API.
const (
	ResultCodeSuccess = "00"
	ResultCodePending = "01"
	ResultCodeFailed  = "02"
)

// Transaction is one payment attempt against an order. An order may
// accumulate several (retries); at most one ever reaches success.
type Transaction struct {
	ID              int64
	MerchantOrderID string
	OrderID         int64
	Amount          int64
	PaymentMethod   string
	Status          Status
	// ExternalReference is the gateway-assigned id for this payment session.
	ExternalReference string
	// StatusCode and StatusMessage keep the raw gateway result for audit.
	StatusCode    string
	StatusMessage string
	ExpiresAt     *time.Time
	PaidAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Notification is the canonical record both entry points normalize into:
// the webhook parses it out of the callback body, the poller builds it from
// the status API response. Raw keeps the original payload as opaque bytes for
// the audit trail; its shape varies per gateway version.
type Notification struct {
	MerchantOrderID string
	Amount          int64
	ResultCode      string
	Reference       string
	StatusMessage   string
	SettlementDate  string
	Raw             json.RawMessage
}
