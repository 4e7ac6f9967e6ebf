// Package balance derives claimable, claimed and total-earned figures from
// the activity ledger, reconciling them against the user balance record.
package balance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/rhizacore/claimguard/claimguard/database/models"
	"github.com/rhizacore/claimguard/claimguard/database/repositories"
	"golang.org/x/sync/singleflight"
)

// ErrUnavailable marks a snapshot that could not be computed because the
// ledger was unreachable. Callers must disable claiming rather than treat
// the user as having nothing to claim.
var ErrUnavailable = errors.New("balance temporarily unavailable")

const (
	// A mining session runs 24 hours and yields at most 50 RZC.
	SessionDuration = 24 * time.Hour
	SessionReward   = 50.0

	DefaultTolerance = 0.001
)

// Snapshot is the point-in-time balance view for one user.
type Snapshot struct {
	UserID        int64
	Available     float64
	Claimable     float64
	Claimed       float64
	TotalEarned   float64
	LastClaimTime time.Time
	CalculatedAt  time.Time
}

// Session describes an in-flight mining session reconstructed from the ledger.
type Session struct {
	ActivityID int64
	UserID     int64
	StartTime  time.Time
	EndTime    time.Time
}

// ConsistencyReport compares the ledger-derived figures with the user record.
type ConsistencyReport struct {
	Consistent            bool
	ClaimedVsAvailable    float64
	ClaimableVsActivities float64
	Recommendations       []string
}

type Calculator struct {
	users      repositories.UserRepository
	activities repositories.ActivityRepository
	tolerance  float64
	group      singleflight.Group
}

func NewCalculator(users repositories.UserRepository, activities repositories.ActivityRepository, tolerance float64) *Calculator {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Calculator{
		users:      users,
		activities: activities,
		tolerance:  tolerance,
	}
}

// Compute builds a balance snapshot for the user. Concurrent computes for the
// same user are deduplicated; the result is deterministic for a given ledger
// state. Read failures return ErrUnavailable, never a zeroed snapshot.
func (c *Calculator) Compute(ctx context.Context, userID int64) (*Snapshot, error) {
	v, err, _ := c.group.Do(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		return c.compute(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (c *Calculator) compute(ctx context.Context, userID int64) (*Snapshot, error) {
	user, err := c.users.GetByID(ctx, userID)
	if err != nil {
		slog.Error("Balance read failed",
			slog.String("type", "db"),
			slog.Int64("user_id", userID),
			slog.Any("error", err))
		return nil, fmt.Errorf("%w: reading user %d: %s", ErrUnavailable, userID, err)
	}

	activities, err := c.activities.GetCompleted(ctx, userID,
		models.ActivityMiningComplete, models.ActivityClaim)
	if err != nil {
		slog.Error("Activity read failed",
			slog.String("type", "db"),
			slog.Int64("user_id", userID),
			slog.Any("error", err))
		return nil, fmt.Errorf("%w: reading activities for user %d: %s", ErrUnavailable, userID, err)
	}

	snap := &Snapshot{
		UserID:        userID,
		Available:     user.AvailableBalance,
		LastClaimTime: user.LastClaimTime,
		CalculatedAt:  time.Now(),
	}

	var claimedSum float64
	for _, a := range activities {
		switch a.Type {
		case models.ActivityMiningComplete:
			snap.TotalEarned += a.Amount
			if !a.Metadata.ClaimedToAirdrop {
				snap.Claimable += a.Amount
			}
		case models.ActivityClaim:
			claimedSum += a.Amount
			// Activities are ordered newest first.
			if snap.LastClaimTime.Before(a.CreatedAt) {
				snap.LastClaimTime = a.CreatedAt
			}
		}
	}
	snap.Claimed = claimedSum

	// The user record is authoritative for the claimed amount. Any drift
	// between it and the claim activities folds back into the claimable
	// figure so externally visible totals stay self-consistent.
	if drift := claimedSum - user.AvailableBalance; math.Abs(drift) > c.tolerance {
		slog.Warn("Balance drift detected, folding into claimable",
			slog.String("type", "sys"),
			slog.Int64("user_id", userID),
			slog.Float64("claim_activity_sum", claimedSum),
			slog.Float64("available_balance", user.AvailableBalance),
			slog.Float64("drift", drift))
		snap.Claimable += drift
	}

	if snap.Claimable < 0 {
		snap.Claimable = 0
	}
	return snap, nil
}

// ActiveSession returns the user's in-flight mining session, or nil when
// there is none. A session is live while its start is younger than the
// session duration and no mining_complete row exists after it.
func (c *Calculator) ActiveSession(ctx context.Context, userID int64) (*Session, error) {
	start, err := c.activities.LatestMiningStart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: reading mining session for user %d: %s", ErrUnavailable, userID, err)
	}
	if start == nil {
		return nil, nil
	}

	endTime := start.CreatedAt.Add(SessionDuration)
	if !time.Now().Before(endTime) {
		return nil, nil
	}

	completed, err := c.activities.HasMiningCompleteAfter(ctx, userID, start.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: checking session completion for user %d: %s", ErrUnavailable, userID, err)
	}
	if completed {
		return nil, nil
	}

	return &Session{
		ActivityID: start.ID,
		UserID:     userID,
		StartTime:  start.CreatedAt,
		EndTime:    endTime,
	}, nil
}

// AccruedFromSession computes the not-yet-persisted accrual of an active
// session at the given instant, capped at the session reward.
func AccruedFromSession(s *Session, now time.Time) float64 {
	if s == nil {
		return 0
	}

	end := now
	if end.After(s.EndTime) {
		end = s.EndTime
	}

	elapsedHours := end.Sub(s.StartTime).Hours()
	accrued := math.Min(elapsedHours*(SessionReward/SessionDuration.Hours()), SessionReward)
	return math.Max(0, accrued)
}

// CheckConsistency cross-validates the ledger against the user record and
// reports discrepancies without mutating anything.
func (c *Calculator) CheckConsistency(ctx context.Context, userID int64) (*ConsistencyReport, error) {
	user, err := c.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: reading user %d: %s", ErrUnavailable, userID, err)
	}

	activities, err := c.activities.GetCompleted(ctx, userID,
		models.ActivityMiningComplete, models.ActivityClaim)
	if err != nil {
		return nil, fmt.Errorf("%w: reading activities for user %d: %s", ErrUnavailable, userID, err)
	}

	var claimedSum, unclaimedMining float64
	for _, a := range activities {
		switch a.Type {
		case models.ActivityClaim:
			claimedSum += a.Amount
		case models.ActivityMiningComplete:
			if !a.Metadata.ClaimedToAirdrop {
				unclaimedMining += a.Amount
			}
		}
	}

	snap, err := c.Compute(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := &ConsistencyReport{
		ClaimedVsAvailable:    math.Abs(claimedSum - user.AvailableBalance),
		ClaimableVsActivities: math.Abs(snap.Claimable - unclaimedMining),
	}
	report.Consistent = report.ClaimedVsAvailable < c.tolerance &&
		report.ClaimableVsActivities < c.tolerance

	if report.ClaimedVsAvailable >= c.tolerance {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("available_balance (%.3f) differs from summed claim activities (%.3f)",
				user.AvailableBalance, claimedSum))
	}
	if report.ClaimableVsActivities >= c.tolerance {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("claimable (%.3f) differs from unclaimed mining activities (%.3f)",
				snap.Claimable, unclaimedMining))
	}
	return report, nil
}
