package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/rhizacore/claimguard/claimguard/database/models"
	"github.com/uptrace/bun"
)

// AuditRepository persists the best-effort audit trail. Callers reach it
// through the async audit writer, never inline on the claim path.
type AuditRepository interface {
	InsertAuditLog(ctx context.Context, entry *models.ClaimAuditLog) error
	InsertSuspiciousActivity(ctx context.Context, entry *models.SuspiciousActivity) error
}

type auditRepository struct {
	db *bun.DB
}

func NewAuditRepository(db *bun.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) InsertAuditLog(ctx context.Context, entry *models.ClaimAuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := r.db.NewInsert().Model(entry).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert audit log entry: %w", err)
	}
	return nil
}

func (r *auditRepository) InsertSuspiciousActivity(ctx context.Context, entry *models.SuspiciousActivity) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := r.db.NewInsert().Model(entry).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert suspicious activity entry: %w", err)
	}
	return nil
}
