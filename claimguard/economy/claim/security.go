package claim

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rhizacore/claimguard/claimguard/database/models"
	"github.com/rhizacore/claimguard/claimguard/database/repositories"
	"github.com/rhizacore/claimguard/claimguard/economy"
	"github.com/rhizacore/claimguard/claimguard/economy/balance"
	"github.com/rhizacore/claimguard/claimguard/logger"
)

const (
	attemptRetention = time.Hour
	cleanupInterval  = 10 * time.Second

	rapidFireWindow    = 5 * time.Second
	rapidFireThreshold = 3

	identicalAmountWindow    = time.Minute
	identicalAmountThreshold = 3
)

// SecurityConfig carries the gate's tuning knobs.
type SecurityConfig struct {
	LockTimeout        time.Duration
	RateLimitWindow    time.Duration
	MaxClaimsPerWindow int
	BlockDuration      time.Duration
	// BalanceTolerance is the floating-point slack for balance
	// cross-verification; DevBalanceTolerance applies outside production.
	BalanceTolerance    float64
	DevBalanceTolerance float64
	Production          bool
}

func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		LockTimeout:         30 * time.Second,
		RateLimitWindow:     time.Minute,
		MaxClaimsPerWindow:  3,
		BlockDuration:       5 * time.Minute,
		BalanceTolerance:    0.001,
		DevBalanceTolerance: 5.0,
		Production:          true,
	}
}

// Lock is a transient per-user marker preventing concurrent claim operations.
type Lock struct {
	UserID     int64
	ID         string
	AcquiredAt time.Time
	Operation  string
}

type blockEntry struct {
	until  time.Time
	reason string
}

type attempt struct {
	at        time.Time
	amount    float64
	operation string
	success   bool
}

// ClientBalance is the caller-supplied balance view, cross-verified against
// the server-side recompute before any mutation.
type ClientBalance struct {
	Claimable   float64
	Accumulated float64
	Claimed     float64
}

// SecurityStatus summarizes a user's standing with the gate.
type SecurityStatus struct {
	Locked         bool
	Blocked        bool
	BlockReason    string
	BlockRemaining time.Duration
	RecentAttempts int
}

// SecurityGate guards the claim mutation path: per-user mutual exclusion,
// sliding-window rate limiting, suspicious-pattern detection and balance
// cross-verification. All state is in-process, keyed per user.
type SecurityGate struct {
	cfg        SecurityConfig
	activities repositories.ActivityRepository
	audit      *economy.AuditWriter

	mu       sync.Mutex
	locks    map[int64]*Lock
	blocks   map[int64]blockEntry
	attempts map[int64][]attempt

	now func() time.Time
}

func NewSecurityGate(cfg SecurityConfig, activities repositories.ActivityRepository, audit *economy.AuditWriter) *SecurityGate {
	return &SecurityGate{
		cfg:        cfg,
		activities: activities,
		audit:      audit,
		locks:      make(map[int64]*Lock),
		blocks:     make(map[int64]blockEntry),
		attempts:   make(map[int64][]attempt),
		now:        time.Now,
	}
}

// AcquireLock grants the per-user claim lock, or rejects with the block
// status, an in-progress operation, or the rate limit, checked in that order.
func (g *SecurityGate) AcquireLock(userID int64, operation string) (*Lock, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()

	if block, ok := g.blocks[userID]; ok && block.until.After(now) {
		remaining := block.until.Sub(now)
		return nil, &Error{
			Kind: KindBlocked,
			Message: fmt.Sprintf("Account temporarily blocked: %s. Try again in %d seconds.",
				block.reason, int(math.Ceil(remaining.Seconds()))),
			RetryAfter: remaining,
		}
	}

	if lock, ok := g.locks[userID]; ok && now.Sub(lock.AcquiredAt) < g.cfg.LockTimeout {
		return nil, newError(KindLockContention,
			"Another claim operation is already in progress. Please wait and try again.")
	}

	if g.countRecentLocked(userID, now, g.cfg.RateLimitWindow) >= g.cfg.MaxClaimsPerWindow {
		g.blocks[userID] = blockEntry{
			until:  now.Add(g.cfg.BlockDuration),
			reason: "rate limit exceeded",
		}
		logger.LogSecurity("Rate limit exceeded, blocking user", userID,
			slog.Duration("block_duration", g.cfg.BlockDuration))
		return nil, &Error{
			Kind: KindRateLimited,
			Message: fmt.Sprintf("Too many claim attempts. Please wait %d seconds before trying again.",
				int(g.cfg.BlockDuration.Seconds())),
			RetryAfter: g.cfg.BlockDuration,
		}
	}

	lock := &Lock{
		UserID:     userID,
		ID:         gonanoid.Must(12),
		AcquiredAt: now,
		Operation:  operation,
	}
	g.locks[userID] = lock
	return lock, nil
}

// ReleaseLock removes the user's lock only when lockID matches the live
// lock, so a stale release cannot clear a newer acquisition.
func (g *SecurityGate) ReleaseLock(userID int64, lockID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if lock, ok := g.locks[userID]; ok && lock.ID == lockID {
		delete(g.locks, userID)
		return true
	}
	return false
}

// ValidateClaim runs the pre-mutation checks: amount sanity, balance cover,
// suspicious-pattern heuristics and server-side balance cross-verification.
// It mutates nothing beyond suspicious-activity logging and block entries.
func (g *SecurityGate) ValidateClaim(ctx context.Context, userID int64, amount float64, snap *balance.Snapshot, accumulated float64, client *ClientBalance) error {
	if amount <= 0 {
		return newError(KindInvalidAmount, "Invalid claim amount")
	}

	available := snap.Claimable + accumulated
	if amount > available {
		g.logSuspicious(userID, "balance_manipulation", models.SuspiciousMetadata{
			Operation:        "claim",
			RequestedAmount:  amount,
			AvailableBalance: available,
		})
		return newError(KindInsufficientBalance, "Insufficient balance for claim operation")
	}

	if err := g.checkPatterns(userID, amount); err != nil {
		return err
	}

	if client != nil {
		if err := g.verifyClientBalance(userID, snap, client); err != nil {
			return err
		}
	}
	return nil
}

func (g *SecurityGate) checkPatterns(userID int64, amount float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	attempts := g.attempts[userID]

	var rapid, identical int
	for _, a := range attempts {
		if now.Sub(a.at) < rapidFireWindow {
			rapid++
		}
		if a.amount == amount && now.Sub(a.at) < identicalAmountWindow {
			identical++
		}
	}

	if rapid >= rapidFireThreshold {
		g.blocks[userID] = blockEntry{
			until:  now.Add(g.cfg.BlockDuration),
			reason: "suspicious rapid-fire claiming detected",
		}
		g.logSuspicious(userID, "rapid_fire_attempts", models.SuspiciousMetadata{
			Operation: "claim",
			Attempts:  rapid,
		})
		return &Error{
			Kind:       KindSuspiciousPattern,
			Message:    "Suspicious activity detected. Account temporarily blocked.",
			RetryAfter: g.cfg.BlockDuration,
		}
	}

	if identical >= identicalAmountThreshold {
		// Soft rejection: deters scripted replay without blocking
		// legitimate repeated small claims.
		g.logSuspicious(userID, "identical_amount_pattern", models.SuspiciousMetadata{
			Operation: "claim",
			Amount:    amount,
			Attempts:  identical,
		})
		return newError(KindSuspiciousPattern,
			"Suspicious claiming pattern detected. Please vary your claim amounts.")
	}
	return nil
}

func (g *SecurityGate) verifyClientBalance(userID int64, snap *balance.Snapshot, client *ClientBalance) error {
	diff := math.Abs(client.Claimable - snap.Claimable)
	if diff <= g.cfg.BalanceTolerance {
		return nil
	}

	if !g.cfg.Production && diff < g.cfg.DevBalanceTolerance {
		slog.Warn("Balance discrepancy within development tolerance, allowing claim",
			slog.String("type", "security"),
			slog.Int64("user_id", userID),
			slog.Float64("client_claimable", client.Claimable),
			slog.Float64("server_claimable", snap.Claimable),
			slog.Float64("difference", diff))
		return nil
	}

	g.logSuspicious(userID, "balance_discrepancy", models.SuspiciousMetadata{
		Operation:       "claim",
		ClientClaimable: client.Claimable,
		ServerClaimable: snap.Claimable,
		Difference:      diff,
		Tolerance:       g.cfg.BalanceTolerance,
	})
	return newError(KindVerificationFailed,
		"Balance verification failed. Please refresh and try again.")
}

// RecordAttempt appends to the user's sliding attempt window, pruning
// entries older than the retention horizon.
func (g *SecurityGate) RecordAttempt(userID int64, amount float64, operation string, success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	attempts := append(g.attempts[userID], attempt{
		at:        now,
		amount:    amount,
		operation: operation,
		success:   success,
	})

	cutoff := now.Add(-attemptRetention)
	pruned := attempts[:0]
	for _, a := range attempts {
		if a.at.After(cutoff) {
			pruned = append(pruned, a)
		}
	}
	g.attempts[userID] = pruned
}

// GenerateTransactionID produces the idempotency key for a claim: unique
// across calls via timestamp plus a random suffix.
func (g *SecurityGate) GenerateTransactionID(userID int64, operation string, amount float64) string {
	return fmt.Sprintf("TXN-%d-%s-%s-%d-%s",
		userID,
		operation,
		strconv.FormatFloat(amount, 'f', -1, 64),
		g.now().UnixMilli(),
		gonanoid.Must(9))
}

// CheckTransactionIdempotency reports whether a ledger row already carries
// the transaction id.
func (g *SecurityGate) CheckTransactionIdempotency(ctx context.Context, transactionID string) (bool, error) {
	return g.activities.ExistsByTransactionID(ctx, transactionID)
}

// Status reports the user's current lock/block/attempt standing.
func (g *SecurityGate) Status(userID int64) SecurityStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	status := SecurityStatus{}

	if lock, ok := g.locks[userID]; ok {
		status.Locked = now.Sub(lock.AcquiredAt) < g.cfg.LockTimeout
	}
	if block, ok := g.blocks[userID]; ok && block.until.After(now) {
		status.Blocked = true
		status.BlockReason = block.reason
		status.BlockRemaining = block.until.Sub(now)
	}
	for _, a := range g.attempts[userID] {
		if now.Sub(a.at) < g.cfg.RateLimitWindow {
			status.RecentAttempts++
		}
	}
	return status
}

// StartCleanupRoutine reclaims stale locks, expired blocks and old attempts
// periodically. Safe to run concurrently with active claims.
func (g *SecurityGate) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.cleanup()
			}
		}
	}()
}

func (g *SecurityGate) cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()

	for userID, lock := range g.locks {
		if now.Sub(lock.AcquiredAt) >= g.cfg.LockTimeout {
			delete(g.locks, userID)
		}
	}
	for userID, block := range g.blocks {
		if !block.until.After(now) {
			delete(g.blocks, userID)
		}
	}
	cutoff := now.Add(-attemptRetention)
	for userID, attempts := range g.attempts {
		pruned := attempts[:0]
		for _, a := range attempts {
			if a.at.After(cutoff) {
				pruned = append(pruned, a)
			}
		}
		if len(pruned) == 0 {
			delete(g.attempts, userID)
		} else {
			g.attempts[userID] = pruned
		}
	}
}

func (g *SecurityGate) countRecentLocked(userID int64, now time.Time, window time.Duration) int {
	count := 0
	for _, a := range g.attempts[userID] {
		if now.Sub(a.at) < window {
			count++
		}
	}
	return count
}

// logSuspicious enqueues a suspicious-activity entry. The audit writer
// enqueue is non-blocking, so calling with g.mu held is safe.
func (g *SecurityGate) logSuspicious(userID int64, activityType string, meta models.SuspiciousMetadata) {
	if g.audit == nil {
		return
	}
	g.audit.LogSuspicious(&models.SuspiciousActivity{
		UserID:       userID,
		ActivityType: activityType,
		Metadata:     meta,
		CreatedAt:    g.now(),
	})
}
