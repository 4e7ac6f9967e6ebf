package economy

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// Alerting thresholds, from operational experience with the claim path.
const (
	warnErrorRate     = 0.05
	criticalErrorRate = 0.15
	warnLatency       = 5 * time.Second
	criticalLatency   = 10 * time.Second
)

// Metrics is a snapshot of claim-path health aggregates.
type Metrics struct {
	TotalAttempts     int64
	Successes         int64
	Failures          int64
	SuccessRate       float64
	AvgProcessingTime time.Duration
	Discrepancies     int64
	FailuresByKind    map[string]int64
	Health            HealthStatus
	Uptime            time.Duration
	LastUpdated       time.Time
}

// Monitor aggregates claim attempt outcomes for operational dashboards.
// Recording is cheap and never fails; it must not slow down a claim.
type Monitor struct {
	mu             sync.Mutex
	attempts       int64
	successes      int64
	failures       int64
	totalLatency   time.Duration
	discrepancies  int64
	failuresByKind map[string]int64
	started        time.Time
}

func NewMonitor() *Monitor {
	return &Monitor{
		failuresByKind: make(map[string]int64),
		started:        time.Now(),
	}
}

func (m *Monitor) RecordSuccess(userID int64, amount float64, took time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	m.successes++
	m.totalLatency += took

	slog.Debug("Claim succeeded",
		slog.String("type", "claim"),
		slog.Int64("user_id", userID),
		slog.Float64("amount", amount),
		slog.Duration("took", took))
}

func (m *Monitor) RecordFailure(userID int64, kind string, took time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	m.failures++
	m.totalLatency += took
	m.failuresByKind[kind]++

	slog.Debug("Claim failed",
		slog.String("type", "claim"),
		slog.Int64("user_id", userID),
		slog.String("kind", kind),
		slog.Duration("took", took))
}

func (m *Monitor) RecordDiscrepancy(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discrepancies++
}

// Metrics returns a copy of the current aggregates.
func (m *Monitor) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := Metrics{
		TotalAttempts:  m.attempts,
		Successes:      m.successes,
		Failures:       m.failures,
		Discrepancies:  m.discrepancies,
		FailuresByKind: make(map[string]int64, len(m.failuresByKind)),
		Uptime:         time.Since(m.started),
		LastUpdated:    time.Now(),
	}
	for k, v := range m.failuresByKind {
		metrics.FailuresByKind[k] = v
	}

	if m.attempts > 0 {
		metrics.SuccessRate = float64(m.successes) / float64(m.attempts)
		metrics.AvgProcessingTime = m.totalLatency / time.Duration(m.attempts)
	}
	metrics.Health = health(metrics)
	return metrics
}

// Health reports the overall claim-path health.
func (m *Monitor) Health() HealthStatus {
	return m.Metrics().Health
}

func health(metrics Metrics) HealthStatus {
	if metrics.TotalAttempts == 0 {
		return HealthHealthy
	}

	errorRate := 1 - metrics.SuccessRate
	switch {
	case errorRate > criticalErrorRate || metrics.AvgProcessingTime > criticalLatency:
		return HealthCritical
	case errorRate > warnErrorRate || metrics.AvgProcessingTime > warnLatency:
		return HealthWarning
	default:
		return HealthHealthy
	}
}

// StartReporting logs a metrics summary periodically until ctx is cancelled.
func (m *Monitor) StartReporting(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics := m.Metrics()
				slog.Info("Claim system health",
					slog.String("type", "sys"),
					slog.String("health", string(metrics.Health)),
					slog.Int64("attempts", metrics.TotalAttempts),
					slog.Int64("failures", metrics.Failures),
					slog.Float64("success_rate", metrics.SuccessRate),
					slog.Duration("avg_processing_time", metrics.AvgProcessingTime),
					slog.Int64("discrepancies", metrics.Discrepancies))
			}
		}
	}()
}
