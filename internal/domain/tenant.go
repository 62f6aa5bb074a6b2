package domain

import (
	"time"
)

// Tier is the subscription tier of a tenant. Tiers are ordered:
// starter < professional < enterprise.
type Tier string

const (
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

var tierRank = map[Tier]int{
	TierStarter:      1,
	TierProfessional: 2,
	TierEnterprise:   3,
}

func (t Tier) IsValid() bool {
	_, ok := tierRank[t]
	return ok
}

// Less reports whether t is a lower tier than other.
func (t Tier) Less(other Tier) bool {
	return tierRank[t] < tierRank[other]
}

// Status is the lifecycle status of a tenant in the master registry.
type Status string

const (
	StatusProvisioning    Status = "provisioning"
	StatusActive          Status = "active"
	StatusSuspended       Status = "suspended"
	StatusDecommissioning Status = "decommissioning"
	StatusDecommissioned  Status = "decommissioned"
	StatusDeleted         Status = "deleted"
)

// validTransitions mirrors the lifecycle state machine:
// provisioning -> active -> {suspended <-> active} -> decommissioning -> {decommissioned | deleted}.
// provisioning -> deleted covers compensation after a failed provision;
// provisioning -> decommissioning lets an operator tear down a provision
// that crashed mid-flight and left the record stuck.
var validTransitions = map[Status][]Status{
	StatusProvisioning:    {StatusActive, StatusDecommissioning, StatusDeleted},
	StatusActive:          {StatusSuspended, StatusDecommissioning},
	StatusSuspended:       {StatusActive, StatusDecommissioning},
	StatusDecommissioning: {StatusDecommissioned, StatusDeleted},
	StatusDecommissioned:  {StatusDeleted},
}

// CanTransition reports whether the registry may move a tenant from one
// status to another.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ResourceLimits are the per-tenant quota settings stored in the registry.
type ResourceLimits struct {
	MaxUsers          int64 `json:"max_users"`
	MaxAccessories    int64 `json:"max_accessories"`
	StorageBytes      int64 `json:"storage_bytes"`
	APICallsPerPeriod int64 `json:"api_calls_per_period"`
}

// DefaultLimits returns the default resource limits for a tier.
func DefaultLimits(t Tier) ResourceLimits {
	switch t {
	case TierProfessional:
		return ResourceLimits{
			MaxUsers:          50,
			MaxAccessories:    20000,
			StorageBytes:      20 << 30,
			APICallsPerPeriod: 500000,
		}
	case TierEnterprise:
		return ResourceLimits{
			MaxUsers:          500,
			MaxAccessories:    200000,
			StorageBytes:      200 << 30,
			APICallsPerPeriod: 5000000,
		}
	default:
		return ResourceLimits{
			MaxUsers:          10,
			MaxAccessories:    2000,
			StorageBytes:      2 << 30,
			APICallsPerPeriod: 50000,
		}
	}
}

// Tenant is a master registry record. RoutingKey is the subdomain used for
// request routing and is unique among non-deleted tenants. ConnDescriptor
// is the DSN of the tenant's isolated database; it is never empty for an
// active tenant.
type Tenant struct {
	ID               string          `json:"tenant_id"`
	Name             string          `json:"tenant_name"`
	RoutingKey       string          `json:"routing_key"`
	ConnDescriptor   string          `json:"-"`
	Tier             Tier            `json:"tier"`
	Status           Status          `json:"status"`
	Limits           ResourceLimits  `json:"limits"`
	Features         map[string]bool `json:"features,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	DecommissionedAt *time.Time      `json:"decommissioned_at,omitempty"`
}

// ResourceKind identifies one tracked resource in a usage snapshot.
type ResourceKind string

const (
	ResourceUsers       ResourceKind = "users"
	ResourceAccessories ResourceKind = "accessories"
	ResourceStorage     ResourceKind = "storage"
	ResourceAPICalls    ResourceKind = "api_calls"
)

// UsageSnapshot is a point-in-time reading of one resource kind against
// its configured limit. Snapshots are derived on demand and never stored
// authoritatively. Unavailable marks a kind whose accounting backend could
// not be reached; Current/Percent are meaningless in that case.
type UsageSnapshot struct {
	TenantID    string       `json:"tenant_id"`
	Kind        ResourceKind `json:"kind"`
	Current     int64        `json:"current"`
	Limit       int64        `json:"limit"`
	Percent     float64      `json:"usage_percent"`
	Unavailable bool         `json:"unavailable,omitempty"`
	ComputedAt  time.Time    `json:"computed_at"`
}

// MigrationRecord is the audit record of one migration attempt against one
// tenant database.
type MigrationRecord struct {
	ID             string    `json:"migration_id"`
	TenantID       string    `json:"tenant_id"`
	Script         string    `json:"script"`
	Success        bool      `json:"success"`
	ObjectsChanged []string  `json:"objects_changed,omitempty"`
	DurationMS     int64     `json:"duration_ms"`
	BackupLocation string    `json:"backup_location,omitempty"`
	AppliedAt      time.Time `json:"applied_at"`
}
