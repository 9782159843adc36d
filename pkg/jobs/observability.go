package jobs

import (
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "mailqueue"

// Metrics groups the queue collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	enqueued      *prometheus.CounterVec
	processed     *prometheus.CounterVec
	retries       *prometheus.CounterVec
	inFlight      *prometheus.GaugeVec
	activeBackend *prometheus.GaugeVec
	fallbacks     prometheus.Counter
	probes        *prometheus.CounterVec
	recoveries    *prometheus.CounterVec
	migrated      *prometheus.CounterVec
}

// NewMetrics creates the queue collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, errors.New("prometheus registerer is required")
	}
	m := &Metrics{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_enqueued_total",
			Help:      "Total number of jobs enqueued",
		}, []string{"backend", "job_name"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_processed_total",
			Help:      "Total number of processing outcomes",
		}, []string{"backend", "job_name", "status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_retry_total",
			Help:      "Total number of retries scheduled after a failure",
		}, []string{"backend", "job_name"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_inflight",
			Help:      "Current number of jobs waiting on an outcome",
		}, []string{"backend"}),
		activeBackend: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_backend",
			Help:      "1 for the backend currently receiving enqueues",
		}, []string{"backend"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "backend_fallback_total",
			Help:      "Total number of switches from the persistent to the local backend",
		}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "probe_total",
			Help:      "Total number of persistent backend probes",
		}, []string{"result"}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "recovery_total",
			Help:      "Total number of recovery attempts",
		}, []string{"result"}),
		migrated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "recovery_migrated_jobs_total",
			Help:      "Total number of jobs migrated from local to persistent",
		}, []string{"state"}),
	}

	collectors := []prometheus.Collector{
		m.enqueued, m.processed, m.retries, m.inFlight, m.activeBackend,
		m.fallbacks, m.probes, m.recoveries, m.migrated,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) recordEnqueued(kind BackendKind, job *Job) {
	if m == nil || job == nil {
		return
	}
	m.enqueued.WithLabelValues(string(kind), normalizeMetricLabel(job.Name, "unknown")).Inc()
}

func (m *Metrics) recordProcessed(kind BackendKind, jobName, status string) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(string(kind), normalizeMetricLabel(jobName, "unknown"), status).Inc()
}

func (m *Metrics) recordRetry(kind BackendKind, jobName string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(string(kind), normalizeMetricLabel(jobName, "unknown")).Inc()
}

func (m *Metrics) incInFlight(kind BackendKind) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) decInFlight(kind BackendKind) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(string(kind)).Dec()
}

func (m *Metrics) setActiveBackend(kind BackendKind) {
	if m == nil {
		return
	}
	for _, candidate := range []BackendKind{BackendPersistent, BackendLocal} {
		value := 0.0
		if candidate == kind {
			value = 1
		}
		m.activeBackend.WithLabelValues(string(candidate)).Set(value)
	}
}

func (m *Metrics) recordFallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

func (m *Metrics) recordProbe(ok bool) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(resultLabel(ok)).Inc()
}

func (m *Metrics) recordRecovery(result string) {
	if m == nil {
		return
	}
	m.recoveries.WithLabelValues(result).Inc()
}

func (m *Metrics) recordMigrated(state State) {
	if m == nil {
		return
	}
	m.migrated.WithLabelValues(string(state)).Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func normalizeMetricLabel(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
