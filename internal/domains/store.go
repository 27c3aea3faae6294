package domains

import "context"

// Store persists domain records.
type Store interface {
	// Upsert inserts or overwrites the record for a registry id. Re-running a
	// fulfillment (retried callback, operator retry) converges on the same
	// row instead of failing.
	Upsert(ctx context.Context, domain *Domain) error
	FindByRegistryID(ctx context.Context, registryID string) (*Domain, error)
}
