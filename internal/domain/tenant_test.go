package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTier_Ordering(t *testing.T) {
	assert.True(t, TierStarter.Less(TierProfessional))
	assert.True(t, TierProfessional.Less(TierEnterprise))
	assert.False(t, TierEnterprise.Less(TierStarter))
	assert.False(t, TierStarter.Less(TierStarter))
}

func TestTier_IsValid(t *testing.T) {
	assert.True(t, TierStarter.IsValid())
	assert.True(t, TierEnterprise.IsValid())
	assert.False(t, Tier("platinum").IsValid())
	assert.False(t, Tier("").IsValid())
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusProvisioning, StatusActive, true},
		{StatusProvisioning, StatusDeleted, true},
		{StatusProvisioning, StatusDecommissioning, true},
		{StatusActive, StatusSuspended, true},
		{StatusSuspended, StatusActive, true},
		{StatusActive, StatusDecommissioning, true},
		{StatusSuspended, StatusDecommissioning, true},
		{StatusDecommissioning, StatusDecommissioned, true},
		{StatusDecommissioning, StatusDeleted, true},
		{StatusDecommissioned, StatusDeleted, true},

		{StatusActive, StatusProvisioning, false},
		{StatusDecommissioned, StatusActive, false},
		{StatusDeleted, StatusActive, false},
		{StatusProvisioning, StatusSuspended, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestDefaultLimits_ScaleWithTier(t *testing.T) {
	starter := DefaultLimits(TierStarter)
	pro := DefaultLimits(TierProfessional)
	ent := DefaultLimits(TierEnterprise)

	require.Equal(t, int64(10), starter.MaxUsers)
	assert.Less(t, starter.MaxUsers, pro.MaxUsers)
	assert.Less(t, pro.MaxUsers, ent.MaxUsers)
	assert.Less(t, starter.StorageBytes, ent.StorageBytes)
	assert.Less(t, starter.APICallsPerPeriod, ent.APICallsPerPeriod)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&RegistryError{Op: "get tenant", Err: errors.New("connection refused")}))
	assert.True(t, IsRetryable(&ConnectionError{TenantID: "t1", Err: errors.New("dial timeout")}))
	assert.False(t, IsRetryable(ErrTenantNotFound))
	assert.False(t, IsRetryable(&TenantUnavailableError{Status: StatusSuspended}))
	assert.False(t, IsRetryable(ErrRoutingKeyTaken))
}

func TestLimitViolationError_Message(t *testing.T) {
	err := &LimitViolationError{Resource: ResourceUsers, Current: 11, Requested: 10}
	assert.Contains(t, err.Error(), "users")
	assert.Contains(t, err.Error(), "11")
	assert.Contains(t, err.Error(), "10")
}
