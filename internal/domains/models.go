package domains

import "time"

// Domain is the persisted record of a provisioned domain. It is keyed by the
// registry-assigned id, not the name: a domain deleted and re-registered gets
// a fresh registry id and a fresh row.
type Domain struct {
	RegistryID  string
	CustomerID  string
	Name        string
	Status      string
	Nameservers []string
	ExpiresAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
