package jobs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the job registry's queue depth and lifecycle counters.
type Metrics struct {
	Running      prometheus.Gauge
	Registered   prometheus.Counter
	Completed    prometheus.Counter
	Failed       prometheus.Counter
	Killed       prometheus.Counter
	PrunedTotal  prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics returns the process-wide Metrics singleton, registering its
// collectors with the default Prometheus registry on first call.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			Running: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "nexus_jobs_running",
				Help: "Current number of running background jobs",
			}),
			Registered: promauto.NewCounter(prometheus.CounterOpts{
				Name: "nexus_jobs_registered_total",
				Help: "Total number of jobs registered",
			}),
			Completed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "nexus_jobs_completed_total",
				Help: "Total number of jobs that completed successfully",
			}),
			Failed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "nexus_jobs_failed_total",
				Help: "Total number of jobs that failed",
			}),
			Killed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "nexus_jobs_killed_total",
				Help: "Total number of jobs killed",
			}),
			PrunedTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "nexus_jobs_pruned_total",
				Help: "Total number of terminal job records pruned from the store",
			}),
		}
	})
	return metricsInstance
}

func (m *Metrics) onRegister() {
	if m == nil {
		return
	}
	m.Running.Inc()
	m.Registered.Inc()
}

func (m *Metrics) onTerminal(phase Phase) {
	if m == nil {
		return
	}
	m.Running.Dec()
	switch phase {
	case PhaseCompleted:
		m.Completed.Inc()
	case PhaseFailed:
		m.Failed.Inc()
	case PhaseKilled:
		m.Killed.Inc()
	}
}
