package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CurationMetrics tracks edits, cascades, audit delivery and browse requests.
type CurationMetrics struct {
	registry *prometheus.Registry

	editsTotal        *prometheus.CounterVec
	cascadeSize       *prometheus.HistogramVec
	auditWritesTotal  *prometheus.CounterVec
	browseDuration    prometheus.Histogram
	statsCacheTotal   *prometheus.CounterVec
	lockConflictTotal prometheus.Counter

	collectors []prometheus.Collector
}

// NewCurationMetrics creates and registers curation metrics.
func NewCurationMetrics(registry *prometheus.Registry) (*CurationMetrics, error) {
	m := &CurationMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *CurationMetrics) initMetrics() {
	m.editsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curation_edits_total",
			Help: "Total number of submitted edits by branch and outcome",
		},
		[]string{"branch", "outcome"}, // outcome: applied, unchanged, partial, not_found, invalid, error
	)

	m.cascadeSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "curation_cascade_records",
			Help:    "Number of records changed by one edit",
			Buckets: prometheus.ExponentialBuckets(BucketStart1, BucketFactor2, BucketCount12), // 1 to 2048
		},
		[]string{"branch"},
	)

	m.auditWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curation_audit_writes_total",
			Help: "Total number of audit batches delivered per sink",
		},
		[]string{"sink", "status"},
	)

	m.browseDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "curation_browse_duration_seconds",
			Help:    "Time taken to answer a browse request",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
		},
	)

	m.statsCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curation_stats_cache_total",
			Help: "Browse statistics cache lookups",
		},
		[]string{"result"}, // hit, miss
	)

	m.lockConflictTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "curation_lock_conflicts_total",
			Help: "Edits that gave up after the record kept moving between scopes",
		},
	)

	m.collectors = []prometheus.Collector{
		m.editsTotal,
		m.cascadeSize,
		m.auditWritesTotal,
		m.browseDuration,
		m.statsCacheTotal,
		m.lockConflictTotal,
	}
}

// Describe implements the Collector interface
func (m *CurationMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *CurationMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordEdit counts one edit and, when records changed, observes the cascade size.
func (m *CurationMetrics) RecordEdit(branch, outcome string, affected int) {
	m.editsTotal.WithLabelValues(branch, outcome).Inc()
	if affected > 0 {
		m.cascadeSize.WithLabelValues(branch).Observe(float64(affected))
	}
}

// RecordAuditWrite counts one audit batch delivered to a sink.
func (m *CurationMetrics) RecordAuditWrite(sink string, err error) {
	status := LabelSuccess
	if err != nil {
		status = LabelError
	}
	m.auditWritesTotal.WithLabelValues(sink, status).Inc()
}

// RecordBrowseDuration observes the time taken by one browse request.
func (m *CurationMetrics) RecordBrowseDuration(seconds float64) {
	m.browseDuration.Observe(seconds)
}

// RecordStatsCache counts a stats cache lookup.
func (m *CurationMetrics) RecordStatsCache(hit bool) {
	result := LabelMiss
	if hit {
		result = LabelHit
	}
	m.statsCacheTotal.WithLabelValues(result).Inc()
}

// RecordLockConflict counts an edit rejected because its scope could not be pinned.
func (m *CurationMetrics) RecordLockConflict() {
	m.lockConflictTotal.Inc()
}
