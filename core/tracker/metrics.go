package tracker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the tracker's Prometheus collectors. A nil *Metrics is a no-op.
type Metrics struct {
	checks        *prometheus.CounterVec
	resets        prometheus.Counter
	indexed       *prometheus.CounterVec
	jobRuns       *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	queueDepth    prometheus.Gauge
	purged        prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resetwatch_checks_total",
			Help: "Entity status checks by outcome.",
		}, []string{"outcome"}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resetwatch_resets_detected_total",
			Help: "Reset facts recorded.",
		}),
		indexed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resetwatch_indexed_entities_total",
			Help: "Entities seen and admitted by indexing and discovery.",
		}, []string{"kind"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resetwatch_job_runs_total",
			Help: "Scheduled job runs by job and result.",
		}, []string{"job", "result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "resetwatch_cycle_duration_seconds",
			Help:    "Duration of monitoring cycles.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "resetwatch_queue_depth",
			Help: "Entries in the monitoring queue after the last cycle.",
		}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resetwatch_queue_purged_total",
			Help: "Queue entries removed by cleanup.",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.checks, m.resets, m.indexed, m.jobRuns, m.cycleDuration, m.queueDepth, m.purged} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observeCheck(outcome string) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeReset() {
	if m == nil {
		return
	}
	m.resets.Inc()
}

func (m *Metrics) observeIndexed(seen, admitted int) {
	if m == nil {
		return
	}
	m.indexed.WithLabelValues("seen").Add(float64(seen))
	m.indexed.WithLabelValues("admitted").Add(float64(admitted))
}

func (m *Metrics) observeJob(name string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobRuns.WithLabelValues(name, result).Inc()
}

func (m *Metrics) observeCycle(d time.Duration, queueDepth int) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(d.Seconds())
	m.queueDepth.Set(float64(queueDepth))
}

func (m *Metrics) observePurged(n int64) {
	if m == nil {
		return
	}
	m.purged.Add(float64(n))
}
