// Package claim implements the RZC claim pipeline: the security gate that
// guards the mutation path and the orchestrator that converts unclaimed
// mining rewards into available balance.
package claim

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rhizacore/claimguard/claimguard/database/models"
	"github.com/rhizacore/claimguard/claimguard/database/repositories"
	"github.com/rhizacore/claimguard/claimguard/economy"
	"github.com/rhizacore/claimguard/claimguard/economy/balance"
	"github.com/rhizacore/claimguard/claimguard/logger"
)

const (
	opManualClaim = "manual_claim"

	// Completed claims cached per transaction id so idempotent replays
	// return the original result without touching the ledger.
	resultCacheSize = 1024
)

// Request is a single claim invocation. TransactionID may be supplied by
// the caller for retry safety; when empty the gate generates one. Client
// carries the caller's balance view for cross-verification.
type Request struct {
	UserID        int64
	Amount        float64
	TransactionID string
	Client        *ClientBalance
}

// Result is the outcome of a successful (or idempotently replayed) claim.
type Result struct {
	ClaimedAmount       float64
	NewAvailableBalance float64
	TransactionID       string
	ActivitiesMarked    int
	SessionCompleted    bool
	Replayed            bool
}

// Service sequences gate checks, ledger mutation and audit logging for the
// claim operation. Failures come back as *Error; infrastructure errors are
// wrapped with KindLedgerWrite and safe to retry thanks to the idempotency
// key.
type Service struct {
	users      repositories.UserRepository
	activities repositories.ActivityRepository
	calc       *balance.Calculator
	gate       *SecurityGate
	audit      *economy.AuditWriter
	monitor    *economy.Monitor
	results    *lru.Cache
}

func NewService(
	users repositories.UserRepository,
	activities repositories.ActivityRepository,
	calc *balance.Calculator,
	gate *SecurityGate,
	audit *economy.AuditWriter,
	monitor *economy.Monitor,
) (*Service, error) {
	results, err := lru.New(resultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}
	return &Service{
		users:      users,
		activities: activities,
		calc:       calc,
		gate:       gate,
		audit:      audit,
		monitor:    monitor,
		results:    results,
	}, nil
}

// Claim converts up to req.Amount of the user's claimable mining rewards
// into available balance. Whole reward rows are flagged oldest-first until
// the requested amount is covered; any overshoot is credited to the user.
func (s *Service) Claim(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	result, err := s.claim(ctx, req)
	took := time.Since(start)

	if err != nil {
		kind := KindOf(err)
		if kind == "" {
			kind = KindLedgerWrite
		}
		if kind == KindVerificationFailed {
			s.monitor.RecordDiscrepancy(req.UserID)
		}
		s.monitor.RecordFailure(req.UserID, string(kind), took)
		logger.LogClaim(req.UserID, req.Amount, took, err)
		return nil, err
	}

	if !result.Replayed {
		s.monitor.RecordSuccess(req.UserID, result.ClaimedAmount, took)
		logger.LogClaim(req.UserID, result.ClaimedAmount, took, nil)
	}
	return result, nil
}

func (s *Service) claim(ctx context.Context, req Request) (*Result, error) {
	// Idempotency pre-check: a transaction id that already reached the
	// ledger means the claim was applied; return the original result.
	if req.TransactionID != "" {
		if result, ok := s.replay(ctx, req.TransactionID); ok {
			return result, nil
		}
	}

	snap, err := s.calc.Compute(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, balance.ErrUnavailable) {
			return nil, newError(KindBalanceUnavailable,
				"Balance temporarily unavailable. Please try again in a moment.")
		}
		return nil, fmt.Errorf("computing balance: %w", err)
	}

	lock, err := s.gate.AcquireLock(req.UserID, opManualClaim)
	if err != nil {
		return nil, err
	}
	defer s.gate.ReleaseLock(req.UserID, lock.ID)

	transactionID := req.TransactionID
	if transactionID == "" {
		transactionID = s.gate.GenerateTransactionID(req.UserID, opManualClaim, req.Amount)
	} else {
		// Double-submit race: a concurrent call with the same id may have
		// completed while we waited for the lock.
		if result, ok := s.replay(ctx, transactionID); ok {
			return result, nil
		}
	}

	sessionCompleted := s.completeActiveSession(ctx, req.UserID)
	if sessionCompleted {
		if snap, err = s.calc.Compute(ctx, req.UserID); err != nil {
			return nil, newError(KindBalanceUnavailable,
				"Balance temporarily unavailable. Please try again in a moment.")
		}
	}

	// Headroom for accrual the session-completion step could not persist.
	var accumulated float64
	if !sessionCompleted {
		if session, serr := s.calc.ActiveSession(ctx, req.UserID); serr == nil && session != nil {
			accumulated = balance.AccruedFromSession(session, time.Now())
		}
	}

	if err := s.gate.ValidateClaim(ctx, req.UserID, req.Amount, snap, accumulated, req.Client); err != nil {
		s.gate.RecordAttempt(req.UserID, req.Amount, opManualClaim, false)
		s.auditAttempt(req.UserID, req.Amount, transactionID, false, models.AuditMetadata{
			OriginalAmount: req.Amount,
			FailureKind:    string(KindOf(err)),
		})
		return nil, err
	}

	result, err := s.execute(ctx, req, snap, transactionID, sessionCompleted)
	if err != nil {
		s.gate.RecordAttempt(req.UserID, req.Amount, opManualClaim, false)
		s.auditAttempt(req.UserID, req.Amount, transactionID, false, models.AuditMetadata{
			OriginalAmount: req.Amount,
			FailureKind:    string(KindOf(err)),
		})
		return nil, err
	}

	s.gate.RecordAttempt(req.UserID, result.ClaimedAmount, opManualClaim, true)
	s.auditAttempt(req.UserID, result.ClaimedAmount, transactionID, true, models.AuditMetadata{
		OriginalAmount:   req.Amount,
		ActualAmount:     result.ClaimedAmount,
		NewBalance:       result.NewAvailableBalance,
		ActivitiesMarked: result.ActivitiesMarked,
		SessionCompleted: sessionCompleted,
	})

	s.results.Add(transactionID, result)
	return result, nil
}

// execute performs the ledger mutation: flag reward rows, credit the user
// balance, insert the claim activity. The three writes are one logical
// transaction; partial failure triggers compensating writes.
func (s *Service) execute(ctx context.Context, req Request, snap *balance.Snapshot, transactionID string, sessionCompleted bool) (*Result, error) {
	rows, err := s.activities.GetUnclaimedMining(ctx, req.UserID)
	if err != nil {
		return nil, newError(KindLedgerWrite, "Claim could not be processed. Please try again.")
	}

	ids, flaggedTotal := selectRows(rows, req.Amount)
	if len(ids) == 0 {
		// Validation passed on accrual headroom alone; nothing persisted
		// to convert yet.
		return &Result{
			TransactionID:       transactionID,
			NewAvailableBalance: snap.Available,
			SessionCompleted:    sessionCompleted,
		}, nil
	}

	now := time.Now()
	if err := s.activities.MarkClaimed(ctx, ids, transactionID, now); err != nil {
		slog.Error("Failed to flag mining rewards",
			slog.String("type", "claim"),
			slog.Int64("user_id", req.UserID),
			slog.Any("error", err))
		return nil, newError(KindLedgerWrite, "Claim could not be processed. Please try again.")
	}

	if err := s.users.CreditBalance(ctx, req.UserID, flaggedTotal, now); err != nil {
		s.compensate(ctx, req.UserID, ids, 0)
		slog.Error("Failed to credit balance, rolled back reward flags",
			slog.String("type", "claim"),
			slog.Int64("user_id", req.UserID),
			slog.Any("error", err))
		return nil, newError(KindLedgerWrite, "Claim could not be processed. Please try again.")
	}

	newBalance := snap.Available + flaggedTotal

	claimActivity := &models.Activity{
		UserID:        req.UserID,
		Type:          models.ActivityClaim,
		Amount:        flaggedTotal,
		Status:        models.StatusCompleted,
		TransactionID: transactionID,
		Metadata: models.ActivityMetadata{
			ClaimType:        "manual",
			ActivitiesMarked: len(ids),
			PreviousBalance:  snap.Available,
			NewBalance:       newBalance,
		},
		CreatedAt: now,
	}
	if err := s.activities.Insert(ctx, claimActivity); err != nil {
		s.compensate(ctx, req.UserID, ids, flaggedTotal)
		slog.Error("Failed to insert claim activity, rolled back claim",
			slog.String("type", "claim"),
			slog.Int64("user_id", req.UserID),
			slog.Any("error", err))
		return nil, newError(KindLedgerWrite, "Claim could not be processed. Please try again.")
	}

	return &Result{
		ClaimedAmount:       flaggedTotal,
		NewAvailableBalance: newBalance,
		TransactionID:       transactionID,
		ActivitiesMarked:    len(ids),
		SessionCompleted:    sessionCompleted,
	}, nil
}

// compensate reverts partial claim writes. Failures here are logged for
// manual reconciliation; there is nothing further to roll back to.
func (s *Service) compensate(ctx context.Context, userID int64, ids []int64, credited float64) {
	if credited > 0 {
		if err := s.users.DebitBalance(ctx, userID, credited); err != nil {
			slog.Error("Compensation debit failed, manual reconciliation required",
				slog.String("type", "claim"),
				slog.Int64("user_id", userID),
				slog.Float64("amount", credited),
				slog.Any("error", err))
		}
	}
	if err := s.activities.UnmarkClaimed(ctx, ids); err != nil {
		slog.Error("Compensation unflag failed, manual reconciliation required",
			slog.String("type", "claim"),
			slog.Int64("user_id", userID),
			slog.Any("error", err))
	}
}

// selectRows picks whole reward rows oldest-first until the cumulative
// amount covers the request. Overshoot from the last row is kept by the
// user as part of the credited balance; rows are never split.
func selectRows(rows []*models.Activity, amount float64) ([]int64, float64) {
	var ids []int64
	var total float64
	for _, row := range rows {
		if total >= amount {
			break
		}
		ids = append(ids, row.ID)
		total += row.Amount
	}
	return ids, total
}

// replay resolves a transaction id that already completed: first from the
// result cache, then by reconstructing from the ledger row.
func (s *Service) replay(ctx context.Context, transactionID string) (*Result, bool) {
	if v, ok := s.results.Get(transactionID); ok {
		original := *(v.(*Result))
		original.Replayed = true
		return &original, true
	}

	activity, err := s.activities.GetByTransactionID(ctx, transactionID)
	if err != nil || activity == nil {
		return nil, false
	}

	return &Result{
		ClaimedAmount:       activity.Amount,
		NewAvailableBalance: activity.Metadata.NewBalance,
		TransactionID:       transactionID,
		ActivitiesMarked:    activity.Metadata.ActivitiesMarked,
		Replayed:            true,
	}, true
}

// completeActiveSession folds an in-flight mining session into the ledger
// so its accrual becomes claimable. Best-effort: on failure the session
// stays active and the claim proceeds against persisted rewards only.
func (s *Service) completeActiveSession(ctx context.Context, userID int64) bool {
	session, err := s.calc.ActiveSession(ctx, userID)
	if err != nil || session == nil {
		return false
	}

	now := time.Now()
	earned := balance.AccruedFromSession(session, now)
	if earned <= 0 {
		return false
	}

	activity := &models.Activity{
		UserID: userID,
		Type:   models.ActivityMiningComplete,
		Amount: earned,
		Status: models.StatusCompleted,
		Metadata: models.ActivityMetadata{
			SessionID:            session.ActivityID,
			ElapsedHours:         now.Sub(session.StartTime).Hours(),
			CompletedDuringClaim: true,
		},
		CreatedAt: now,
	}
	if err := s.activities.Insert(ctx, activity); err != nil {
		slog.Warn("Failed to complete active mining session during claim",
			slog.String("type", "claim"),
			slog.Int64("user_id", userID),
			slog.Any("error", err))
		return false
	}

	slog.Info("Completed active mining session during claim",
		slog.String("type", "claim"),
		slog.Int64("user_id", userID),
		slog.Float64("earned", earned))
	return true
}

func (s *Service) auditAttempt(userID int64, amount float64, transactionID string, success bool, meta models.AuditMetadata) {
	if s.audit == nil {
		return
	}
	s.audit.LogClaimAudit(&models.ClaimAuditLog{
		UserID:          userID,
		Operation:       opManualClaim,
		Amount:          amount,
		TransactionID:   transactionID,
		Success:         success,
		FingerprintHash: fingerprint(userID),
		CreatedAt:       time.Now(),
		Metadata:        meta,
	})
}

// fingerprint is a short stable-enough hash for correlating audit entries
// without storing identifying data.
func fingerprint(userID int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d-%d", userID, time.Now().UnixNano())))
	return hex.EncodeToString(sum[:])[:16]
}
