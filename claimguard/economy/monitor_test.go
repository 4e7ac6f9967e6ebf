package economy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonitor_Metrics(t *testing.T) {
	m := NewMonitor()

	m.RecordSuccess(1, 10, 100*time.Millisecond)
	m.RecordSuccess(2, 20, 300*time.Millisecond)
	m.RecordFailure(3, "rate_limited", 50*time.Millisecond)
	m.RecordDiscrepancy(3)

	metrics := m.Metrics()
	assert.Equal(t, int64(3), metrics.TotalAttempts)
	assert.Equal(t, int64(2), metrics.Successes)
	assert.Equal(t, int64(1), metrics.Failures)
	assert.Equal(t, int64(1), metrics.Discrepancies)
	assert.InDelta(t, 2.0/3.0, metrics.SuccessRate, 1e-9)
	assert.Equal(t, 150*time.Millisecond, metrics.AvgProcessingTime)
	assert.Equal(t, int64(1), metrics.FailuresByKind["rate_limited"])
}

func TestMonitor_Health(t *testing.T) {
	tests := []struct {
		name      string
		successes int
		failures  int
		latency   time.Duration
		want      HealthStatus
	}{
		{name: "no traffic", want: HealthHealthy},
		{name: "all successes", successes: 100, latency: 100 * time.Millisecond, want: HealthHealthy},
		{name: "error rate at warning", successes: 90, failures: 10, latency: 100 * time.Millisecond, want: HealthWarning},
		{name: "error rate critical", successes: 80, failures: 20, latency: 100 * time.Millisecond, want: HealthCritical},
		{name: "latency at warning", successes: 10, latency: 6 * time.Second, want: HealthWarning},
		{name: "latency critical", successes: 10, latency: 11 * time.Second, want: HealthCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor()
			for i := 0; i < tt.successes; i++ {
				m.RecordSuccess(1, 1, tt.latency)
			}
			for i := 0; i < tt.failures; i++ {
				m.RecordFailure(1, "ledger_write", tt.latency)
			}
			assert.Equal(t, tt.want, m.Health())
		})
	}
}

func TestMonitor_MetricsCopyIsIndependent(t *testing.T) {
	m := NewMonitor()
	m.RecordFailure(1, "blocked", time.Millisecond)

	metrics := m.Metrics()
	metrics.FailuresByKind["blocked"] = 99

	assert.Equal(t, int64(1), m.Metrics().FailuresByKind["blocked"])
}
