package economy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rhizacore/claimguard/claimguard/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuditRepo struct {
	mu         sync.Mutex
	audits     []*models.ClaimAuditLog
	suspicious []*models.SuspiciousActivity
}

func (r *fakeAuditRepo) InsertAuditLog(_ context.Context, entry *models.ClaimAuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, entry)
	return nil
}

func (r *fakeAuditRepo) InsertSuspiciousActivity(_ context.Context, entry *models.SuspiciousActivity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suspicious = append(r.suspicious, entry)
	return nil
}

func (r *fakeAuditRepo) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.audits), len(r.suspicious)
}

func TestAuditWriter_DrainsQueue(t *testing.T) {
	repo := &fakeAuditRepo{}
	writer := NewAuditWriter(repo, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	writer.Start(ctx)

	writer.LogClaimAudit(&models.ClaimAuditLog{UserID: 1, Operation: "manual_claim", Success: true})
	writer.LogSuspicious(&models.SuspiciousActivity{UserID: 1, ActivityType: "rapid_fire_attempts"})

	require.Eventually(t, func() bool {
		audits, suspicious := repo.counts()
		return audits == 1 && suspicious == 1
	}, time.Second, 10*time.Millisecond)
}

func TestAuditWriter_DropsWhenQueueFull(t *testing.T) {
	repo := &fakeAuditRepo{}
	// Writer not started, so the queue never drains.
	writer := NewAuditWriter(repo, 1)

	writer.LogClaimAudit(&models.ClaimAuditLog{UserID: 1})
	writer.LogClaimAudit(&models.ClaimAuditLog{UserID: 2})
	writer.LogSuspicious(&models.SuspiciousActivity{UserID: 3})

	// Nothing blocked and nothing was written.
	audits, suspicious := repo.counts()
	assert.Zero(t, audits)
	assert.Zero(t, suspicious)
	assert.Len(t, writer.queue, 1)
}
