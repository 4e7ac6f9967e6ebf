package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rhizacore/claimguard/claimguard/database/models"
	"github.com/uptrace/bun"
)

var ErrUserNotFound = errors.New("user not found")

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, userID int64) (*models.User, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	// CreditBalance atomically increments available_balance and stamps the
	// last claim time. Used only by the claim orchestrator.
	CreditBalance(ctx context.Context, userID int64, delta float64, claimTime time.Time) error
	// DebitBalance is the compensation path for a failed multi-step claim.
	DebitBalance(ctx context.Context, userID int64, delta float64) error
}

type userRepository struct {
	db *bun.DB
}

func NewUserRepository(db *bun.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()
	_, err := r.db.NewInsert().Model(user).Exec(ctx)
	return err
}

func (r *userRepository) GetByID(ctx context.Context, userID int64) (*models.User, error) {
	user := new(models.User)
	err := r.db.NewSelect().
		Model(user).
		Where("id = ?", userID).
		Scan(ctx)

	if errors.Is(err, sql.ErrNoRows) {
		slog.Warn("User not found in database",
			slog.String("type", "db"),
			slog.String("operation", "GetByID"),
			slog.Int64("user_id", userID))
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", userID, err)
	}
	return user, nil
}

func (r *userRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	user := new(models.User)
	err := r.db.NewSelect().
		Model(user).
		Where("telegram_id = ?", telegramID).
		Scan(ctx)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by telegram id %d: %w", telegramID, err)
	}
	return user, nil
}

func (r *userRepository) CreditBalance(ctx context.Context, userID int64, delta float64, claimTime time.Time) error {
	result, err := r.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("available_balance = available_balance + ?", delta).
		Set("last_claim_time = ?", claimTime).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *userRepository) DebitBalance(ctx context.Context, userID int64, delta float64) error {
	_, err := r.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("available_balance = available_balance - ?", delta).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to debit balance: %w", err)
	}
	return nil
}
