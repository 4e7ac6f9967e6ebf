package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rhizacore/claimguard/claimguard/database/models"
	"github.com/uptrace/bun"
)

var ErrActivityNotFound = errors.New("activity not found")

type ActivityRepository interface {
	Insert(ctx context.Context, activity *models.Activity) error
	// GetCompleted returns the user's completed activities of the given
	// types, newest first.
	GetCompleted(ctx context.Context, userID int64, types ...string) ([]*models.Activity, error)
	// GetUnclaimedMining returns completed mining rewards not yet claimed,
	// oldest first, so claims consume the oldest rewards.
	GetUnclaimedMining(ctx context.Context, userID int64) ([]*models.Activity, error)
	// MarkClaimed flags the given mining rows as converted to available
	// balance. The flag flips exactly once per row.
	MarkClaimed(ctx context.Context, ids []int64, transactionID string, at time.Time) error
	// UnmarkClaimed reverts MarkClaimed during compensation of a failed claim.
	UnmarkClaimed(ctx context.Context, ids []int64) error
	ExistsByTransactionID(ctx context.Context, transactionID string) (bool, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*models.Activity, error)
	// LatestMiningStart returns the most recent completed mining_start row,
	// or nil when the user never started a session.
	LatestMiningStart(ctx context.Context, userID int64) (*models.Activity, error)
	HasMiningCompleteAfter(ctx context.Context, userID int64, t time.Time) (bool, error)
}

type activityRepository struct {
	db *bun.DB
}

func NewActivityRepository(db *bun.DB) ActivityRepository {
	return &activityRepository{db: db}
}

func (r *activityRepository) Insert(ctx context.Context, activity *models.Activity) error {
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now()
	}
	_, err := r.db.NewInsert().Model(activity).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert %s activity: %w", activity.Type, err)
	}
	return nil
}

func (r *activityRepository) GetCompleted(ctx context.Context, userID int64, types ...string) ([]*models.Activity, error) {
	var activities []*models.Activity
	err := r.db.NewSelect().
		Model(&activities).
		Where("user_id = ?", userID).
		Where("type IN (?)", bun.In(types)).
		Where("status = ?", models.StatusCompleted).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	return activities, nil
}

func (r *activityRepository) GetUnclaimedMining(ctx context.Context, userID int64) ([]*models.Activity, error) {
	var activities []*models.Activity
	err := r.db.NewSelect().
		Model(&activities).
		Where("user_id = ?", userID).
		Where("type = ?", models.ActivityMiningComplete).
		Where("status = ?", models.StatusCompleted).
		Where("(metadata->>'claimed_to_airdrop') IS DISTINCT FROM 'true'").
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query unclaimed mining activities: %w", err)
	}
	return activities, nil
}

func (r *activityRepository) MarkClaimed(ctx context.Context, ids []int64, transactionID string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	patch, err := json.Marshal(models.ActivityMetadata{
		ClaimedToAirdrop: true,
		ClaimedAt:        &at,
		TransactionID:    transactionID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal metadata patch: %w", err)
	}

	result, err := r.db.NewUpdate().
		Model((*models.Activity)(nil)).
		Set("metadata = COALESCE(metadata, '{}'::jsonb) || ?::jsonb", string(patch)).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark activities claimed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows != int64(len(ids)) {
		return fmt.Errorf("marked %d of %d activities: %w", rows, len(ids), ErrActivityNotFound)
	}
	return nil
}

func (r *activityRepository) UnmarkClaimed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := r.db.NewUpdate().
		Model((*models.Activity)(nil)).
		Set("metadata = metadata - 'claimed_to_airdrop' - 'claimed_at' - 'transaction_id'").
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to unmark claimed activities: %w", err)
	}
	return nil
}

func (r *activityRepository) ExistsByTransactionID(ctx context.Context, transactionID string) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*models.Activity)(nil)).
		Where("transaction_id = ?", transactionID).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check transaction id: %w", err)
	}
	return exists, nil
}

func (r *activityRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.Activity, error) {
	activity := new(models.Activity)
	err := r.db.NewSelect().
		Model(activity).
		Where("transaction_id = ?", transactionID).
		Limit(1).
		Scan(ctx)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrActivityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get activity by transaction id: %w", err)
	}
	return activity, nil
}

func (r *activityRepository) LatestMiningStart(ctx context.Context, userID int64) (*models.Activity, error) {
	activity := new(models.Activity)
	err := r.db.NewSelect().
		Model(activity).
		Where("user_id = ?", userID).
		Where("type = ?", models.ActivityMiningStart).
		Where("status = ?", models.StatusCompleted).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest mining start: %w", err)
	}
	return activity, nil
}

func (r *activityRepository) HasMiningCompleteAfter(ctx context.Context, userID int64, t time.Time) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*models.Activity)(nil)).
		Where("user_id = ?", userID).
		Where("type = ?", models.ActivityMiningComplete).
		Where("status = ?", models.StatusCompleted).
		Where("created_at > ?", t).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check mining completion: %w", err)
	}
	return exists, nil
}
