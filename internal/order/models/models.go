package models

import "time"

// Status is the commercial order state.
//
// paid deserves a note: it means payment captured but provisioning not done —
// the safe fallback after a registry failure. An order in paid is waiting for
// an operator (or a later reconciliation pass) to retry, and is never
// regressed to pending or escalated to cancelled by automation.
type Status string

const (
	StatusPending Status = "pending"
	// StatusProcessing is held only while a registry call is in flight.
	StatusProcessing Status = "processing"
	StatusPaid       Status = "paid"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Action is the registry operation the order purchases.
type Action string

const (
	ActionRegister Action = "register"
	ActionRenew    Action = "renew"
	ActionTransfer Action = "transfer"
)

// Valid reports whether the action is one the fulfillment dispatcher knows.
func (a Action) Valid() bool {
	return a == ActionRegister || a == ActionRenew || a == ActionTransfer
}

// Order is the commercial record a successful payment fulfills.
type Order struct {
	ID         int64
	Status     Status
	Action     Action
	DomainName string
	// RegistryCustomerID is the reseller-side customer the domain belongs to.
	RegistryCustomerID string
	// RegistryDomainID is required for renew; it may be absent when the order
	// was created before the domain was ever provisioned through us.
	RegistryDomainID string
	// AuthCode is required for transfer.
	AuthCode        string
	PeriodYears     int
	WhoisProtection bool
	// Notes is an append-only human-readable audit trail.
	Notes string
	// RdashResponse and RdashError hold the last raw provisioning result from
	// the registry provider, success and failure respectively.
	RdashResponse []byte
	RdashError    []byte
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
