package economy

import (
	"context"
	"log/slog"
	"time"

	"github.com/rhizacore/claimguard/claimguard/database/models"
	"github.com/rhizacore/claimguard/claimguard/database/repositories"
)

const (
	defaultAuditQueueSize = 256
	auditWriteTimeout     = 5 * time.Second
)

type auditJob struct {
	audit      *models.ClaimAuditLog
	suspicious *models.SuspiciousActivity
}

// AuditWriter drains audit and suspicious-activity entries into the ledger
// on a background goroutine. Enqueueing never blocks the claim path: when
// the queue is full the entry is dropped and logged locally.
type AuditWriter struct {
	repo  repositories.AuditRepository
	queue chan auditJob
}

func NewAuditWriter(repo repositories.AuditRepository, queueSize int) *AuditWriter {
	if queueSize <= 0 {
		queueSize = defaultAuditQueueSize
	}
	return &AuditWriter{
		repo:  repo,
		queue: make(chan auditJob, queueSize),
	}
}

// Start drains the queue until ctx is cancelled.
func (w *AuditWriter) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case job := <-w.queue:
				w.write(job)
			}
		}
	}()
}

func (w *AuditWriter) write(job auditJob) {
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()

	var err error
	switch {
	case job.audit != nil:
		err = w.repo.InsertAuditLog(ctx, job.audit)
	case job.suspicious != nil:
		err = w.repo.InsertSuspiciousActivity(ctx, job.suspicious)
	}
	if err != nil {
		// Audit failures never propagate to the claim path.
		slog.Warn("Audit write failed",
			slog.String("type", "sys"),
			slog.Any("error", err))
	}
}

// LogClaimAudit enqueues an audit entry, dropping it when the queue is full.
func (w *AuditWriter) LogClaimAudit(entry *models.ClaimAuditLog) {
	w.enqueue(auditJob{audit: entry})
}

// LogSuspicious enqueues a suspicious-activity entry, dropping it when the
// queue is full.
func (w *AuditWriter) LogSuspicious(entry *models.SuspiciousActivity) {
	w.enqueue(auditJob{suspicious: entry})
}

func (w *AuditWriter) enqueue(job auditJob) {
	select {
	case w.queue <- job:
	default:
		slog.Warn("Audit queue full, dropping entry",
			slog.String("type", "sys"),
			slog.Int("queue_size", cap(w.queue)))
	}
}
