// Package metrics defines the Prometheus collectors for sync activity.
//
// Collectors are registered on a caller-supplied registry so tests and
// multiple engines in one process never collide on the default registry.
// All methods are safe on a nil *Sync.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "taskflow"

// Direction labels per-task transfers.
const (
	DirectionPublish = "publish"
	DirectionPull    = "pull"
)

// Result labels per-task transfers. A transient failure is expected to
// succeed on a later attempt; a permanent one needs the data fixed.
const (
	ResultOK        = "ok"
	ResultTransient = "transient"
	ResultPermanent = "permanent"
)

// Sync holds the sync engine's collectors.
type Sync struct {
	attempts  *prometheus.CounterVec
	skips     *prometheus.CounterVec
	transfers *prometheus.CounterVec
	duration  prometheus.Histogram
	pending   prometheus.Gauge
	inFlight  prometheus.Gauge
}

// NewSync registers the sync collectors on reg.
func NewSync(reg prometheus.Registerer) *Sync {
	f := promauto.With(reg)
	return &Sync{
		attempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_attempts_total",
				Help:      "Admitted sync attempts by outcome",
			},
			[]string{"outcome"},
		),
		skips: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_skips_total",
				Help:      "Sync requests refused by the scheduler, by reason",
			},
			[]string{"reason"},
		),
		transfers: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_task_transfers_total",
				Help:      "Per-task transfers by direction and result",
			},
			[]string{"direction", "result"},
		),
		duration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_attempt_duration_seconds",
				Help:      "Duration of admitted sync attempts",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		pending: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sync_pending_tasks",
				Help:      "Tasks saved locally and waiting to be published",
			},
		),
		inFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sync_in_flight",
				Help:      "1 while a sync attempt is running",
			},
		),
	}
}

// AttemptStarted marks an attempt as running.
func (m *Sync) AttemptStarted() {
	if m == nil {
		return
	}
	m.inFlight.Set(1)
}

// AttemptFinished records the outcome and duration of an attempt.
func (m *Sync) AttemptFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Set(0)
	m.attempts.WithLabelValues(outcome).Inc()
	m.duration.Observe(d.Seconds())
}

// Skipped counts a refused request.
func (m *Sync) Skipped(reason string) {
	if m == nil {
		return
	}
	m.skips.WithLabelValues(reason).Inc()
}

// Transfer counts one per-task transfer with one of the Result labels.
func (m *Sync) Transfer(direction, result string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(direction, result).Inc()
}

// SetPending reports the size of the pending-publish set.
func (m *Sync) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}
