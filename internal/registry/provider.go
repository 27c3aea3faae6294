package registry

import (
	"context"
	"encoding/json"
	"time"
)

//go:generate mockgen -source=provider.go -destination=mocks/provider_mock.go -package=mocks

// Provider is the domain registry reseller API. Calls are not idempotent on
// the provider side; callers rely on the completed-order guard to avoid
// double provisioning.
type Provider interface {
	Register(ctx context.Context, req RegisterRequest) (*Result, error)
	Renew(ctx context.Context, req RenewRequest) (*Result, error)
	Transfer(ctx context.Context, req TransferRequest) (*Result, error)
}

type RegisterRequest struct {
	DomainName      string
	CustomerID      string
	PeriodYears     int
	WhoisProtection bool
}

type RenewRequest struct {
	DomainID    string
	DomainName  string
	PeriodYears int
}

type TransferRequest struct {
	DomainName  string
	CustomerID  string
	AuthCode    string
	PeriodYears int
}

// Result is the provider's view of the domain after a successful operation.
// Raw keeps the unparsed response body for the order record and audit trail.
type Result struct {
	DomainID    string
	Status      string
	Nameservers []string
	ExpiresAt   *time.Time
	Raw         json.RawMessage
}
