package claim

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rhizacore/claimguard/claimguard/economy/balance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock makes the gate's notion of time explicit so window and timeout
// behavior can be tested without sleeping.
type testClock struct {
	current time.Time
}

func (c *testClock) now() time.Time          { return c.current }
func (c *testClock) advance(d time.Duration) { c.current = c.current.Add(d) }

func newTestGate() (*SecurityGate, *testClock) {
	clock := &testClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	gate := NewSecurityGate(DefaultSecurityConfig(), nil, nil)
	gate.now = clock.now
	return gate, clock
}

func TestAcquireLock_Contention(t *testing.T) {
	gate, _ := newTestGate()

	lock, err := gate.AcquireLock(1, "manual_claim")
	require.NoError(t, err)
	require.NotEmpty(t, lock.ID)

	_, err = gate.AcquireLock(1, "manual_claim")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindLockContention))

	// Other users are unaffected.
	_, err = gate.AcquireLock(2, "manual_claim")
	assert.NoError(t, err)
}

func TestAcquireLock_StaleLockReclaimed(t *testing.T) {
	gate, clock := newTestGate()

	_, err := gate.AcquireLock(1, "manual_claim")
	require.NoError(t, err)

	clock.advance(29 * time.Second)
	_, err = gate.AcquireLock(1, "manual_claim")
	assert.True(t, IsKind(err, KindLockContention), "lock still live before the timeout")

	clock.advance(2 * time.Second)
	lock, err := gate.AcquireLock(1, "manual_claim")
	require.NoError(t, err, "stale lock is reclaimable after the timeout")
	assert.NotEmpty(t, lock.ID)
}

func TestReleaseLock_RequiresMatchingID(t *testing.T) {
	gate, _ := newTestGate()

	lock, err := gate.AcquireLock(1, "manual_claim")
	require.NoError(t, err)

	assert.False(t, gate.ReleaseLock(1, "wrong-id"))
	assert.True(t, gate.Status(1).Locked)

	assert.True(t, gate.ReleaseLock(1, lock.ID))
	assert.False(t, gate.Status(1).Locked)
	assert.False(t, gate.ReleaseLock(1, lock.ID), "double release is a no-op")
}

func TestAcquireLock_RateLimitBlocks(t *testing.T) {
	gate, clock := newTestGate()

	for i := 0; i < 3; i++ {
		lock, err := gate.AcquireLock(1, "manual_claim")
		require.NoError(t, err)
		gate.RecordAttempt(1, float64(10+i), "manual_claim", true)
		gate.ReleaseLock(1, lock.ID)
		clock.advance(10 * time.Second)
	}

	_, err := gate.AcquireLock(1, "manual_claim")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindRateLimited))

	var claimErr *Error
	require.ErrorAs(t, err, &claimErr)
	assert.Equal(t, 5*time.Minute, claimErr.RetryAfter)

	// Subsequent attempts hit the block entry, not the rate limiter.
	_, err = gate.AcquireLock(1, "manual_claim")
	assert.True(t, IsKind(err, KindBlocked))

	status := gate.Status(1)
	assert.True(t, status.Blocked)
	assert.Equal(t, "rate limit exceeded", status.BlockReason)

	// The block expires on its own.
	clock.advance(5*time.Minute + time.Second)
	_, err = gate.AcquireLock(1, "manual_claim")
	assert.NoError(t, err)
}

func TestValidateClaim_AmountChecks(t *testing.T) {
	gate, _ := newTestGate()
	snap := &balance.Snapshot{UserID: 1, Claimable: 50}

	tests := []struct {
		name        string
		amount      float64
		accumulated float64
		wantKind    Kind
	}{
		{name: "zero amount", amount: 0, wantKind: KindInvalidAmount},
		{name: "negative amount", amount: -1, wantKind: KindInvalidAmount},
		{name: "exceeds claimable", amount: 51, wantKind: KindInsufficientBalance},
		{name: "within claimable", amount: 50},
		{name: "covered by accrual", amount: 52, accumulated: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := gate.ValidateClaim(context.Background(), 1, tt.amount, snap, tt.accumulated, nil)
			if tt.wantKind == "" {
				assert.NoError(t, err)
			} else {
				assert.True(t, IsKind(err, tt.wantKind))
			}
		})
	}
}

func TestValidateClaim_RapidFireBlocks(t *testing.T) {
	gate, clock := newTestGate()
	snap := &balance.Snapshot{UserID: 1, Claimable: 100}

	for i := 0; i < 3; i++ {
		gate.RecordAttempt(1, float64(i+1), "manual_claim", false)
		clock.advance(time.Second)
	}

	err := gate.ValidateClaim(context.Background(), 1, 10, snap, 0, nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSuspiciousPattern))

	// The rapid-fire heuristic escalates to a hard block.
	_, err = gate.AcquireLock(1, "manual_claim")
	assert.True(t, IsKind(err, KindBlocked))
}

func TestValidateClaim_IdenticalAmountsSoftRejected(t *testing.T) {
	gate, clock := newTestGate()
	snap := &balance.Snapshot{UserID: 1, Claimable: 100}

	// Spread outside the rapid-fire window but inside the identical-amount
	// window.
	for i := 0; i < 3; i++ {
		gate.RecordAttempt(1, 25, "manual_claim", true)
		clock.advance(15 * time.Second)
	}

	err := gate.ValidateClaim(context.Background(), 1, 25, snap, 0, nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSuspiciousPattern))

	// Soft rejection: a different amount passes and no block is placed.
	assert.NoError(t, gate.ValidateClaim(context.Background(), 1, 30, snap, 0, nil))
	assert.False(t, gate.Status(1).Blocked)
}

func TestVerifyClientBalance(t *testing.T) {
	snap := &balance.Snapshot{UserID: 1, Claimable: 50}

	tests := []struct {
		name       string
		production bool
		client     float64
		wantErr    bool
	}{
		{name: "exact match", production: true, client: 50},
		{name: "within tolerance", production: true, client: 50.0005},
		{name: "beyond tolerance in production", production: true, client: 51, wantErr: true},
		{name: "within dev tolerance", production: false, client: 53},
		{name: "beyond dev tolerance", production: false, client: 56, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSecurityConfig()
			cfg.Production = tt.production
			gate := NewSecurityGate(cfg, nil, nil)

			err := gate.ValidateClaim(context.Background(), 1, 10, snap, 0,
				&ClientBalance{Claimable: tt.client})
			if tt.wantErr {
				assert.True(t, IsKind(err, KindVerificationFailed))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGenerateTransactionID(t *testing.T) {
	gate, _ := newTestGate()

	id := gate.GenerateTransactionID(42, "manual_claim", 12.5)
	assert.True(t, strings.HasPrefix(id, "TXN-42-manual_claim-12.5-"))

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := gate.GenerateTransactionID(42, "manual_claim", 12.5)
		_, dup := seen[id]
		require.False(t, dup, "transaction ids must be unique")
		seen[id] = struct{}{}
	}
}

func TestCleanup_ReclaimsExpiredState(t *testing.T) {
	gate, clock := newTestGate()

	_, err := gate.AcquireLock(1, "manual_claim")
	require.NoError(t, err)
	gate.RecordAttempt(1, 10, "manual_claim", true)

	gate.mu.Lock()
	gate.blocks[2] = blockEntry{until: clock.now().Add(time.Minute), reason: "test"}
	gate.mu.Unlock()

	clock.advance(2 * time.Hour)
	gate.cleanup()

	gate.mu.Lock()
	defer gate.mu.Unlock()
	assert.Empty(t, gate.locks)
	assert.Empty(t, gate.blocks)
	assert.Empty(t, gate.attempts)
}

func TestStatus_CountsRecentAttempts(t *testing.T) {
	gate, clock := newTestGate()

	gate.RecordAttempt(1, 10, "manual_claim", true)
	clock.advance(45 * time.Second)
	gate.RecordAttempt(1, 11, "manual_claim", true)
	clock.advance(30 * time.Second)

	status := gate.Status(1)
	assert.Equal(t, 1, status.RecentAttempts, "only attempts inside the rate window count")
	assert.False(t, status.Locked)
	assert.False(t, status.Blocked)
}
