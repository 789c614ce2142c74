package observability

import (
	"time"

	"github.com/boddenberg/sso-sync/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the sync service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	syncTotal        *prometheus.CounterVec
	syncDuration     *prometheus.HistogramVec
	remoteErrors     *prometheus.CounterVec
	identityWarnings *prometheus.CounterVec
	tablesFound      *prometheus.CounterVec
	schemaDefaulted  *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		syncTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssosync_sync_total",
				Help: "Sync attempts by site type and result.",
			},
			[]string{"site_type", "result"},
		),
		syncDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ssosync_sync_duration_seconds",
				Help:    "Duration of operations by name.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		remoteErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssosync_remote_errors_total",
				Help: "Tenant store errors other than missing tables.",
			},
			[]string{"site", "operation"},
		),
		identityWarnings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssosync_identity_warnings_total",
				Help: "Identity-provider steps that failed without failing the sync.",
			},
			[]string{"site"},
		),
		tablesFound: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssosync_tables_found_total",
				Help: "Candidate user tables that returned rows during aggregation.",
			},
			[]string{"site_type", "table"},
		),
		schemaDefaulted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssosync_schema_defaulted_total",
				Help: "Schema probes that fell back to static column defaults.",
			},
			[]string{"site_type"},
		),
	}
}

// RecordDuration records the duration of an operation.
func (m *Metrics) RecordDuration(operation string, d time.Duration) {
	m.syncDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordSync counts one sync outcome.
func (m *Metrics) RecordSync(o domain.SyncOutcome) {
	m.syncTotal.WithLabelValues(string(o.SiteType), syncResult(o)).Inc()
	if o.Partial() {
		m.identityWarnings.WithLabelValues(o.Site).Inc()
	}
}

// IncrRemoteError increments the tenant store error counter.
func (m *Metrics) IncrRemoteError(site, operation string) {
	m.remoteErrors.WithLabelValues(site, operation).Inc()
}

// IncrTableFound counts a candidate table that yielded rows.
func (m *Metrics) IncrTableFound(siteType domain.SiteType, table string) {
	m.tablesFound.WithLabelValues(string(siteType), table).Inc()
}

// IncrSchemaDefaulted counts a probe answered from static defaults.
func (m *Metrics) IncrSchemaDefaulted(siteType domain.SiteType) {
	m.schemaDefaulted.WithLabelValues(string(siteType)).Inc()
}

func syncResult(o domain.SyncOutcome) string {
	switch {
	case o.Action == domain.ActionSkipped:
		return "skipped"
	case o.Partial():
		return "partial"
	case o.Success:
		return "success"
	default:
		return "failed"
	}
}

// GetSyncSnapshot returns cumulative sync counters for GET /v1/metrics/sync.
func (m *Metrics) GetSyncSnapshot() *domain.SyncMetrics {
	var succeeded, failed, skipped, partial float64
	for _, st := range []domain.SiteType{domain.SiteHRMS, domain.SiteSales, domain.SiteCMS, domain.SiteGarage, domain.SiteGeneric, ""} {
		succeeded += getCounterValue(m.syncTotal, string(st), "success")
		partial += getCounterValue(m.syncTotal, string(st), "partial")
		failed += getCounterValue(m.syncTotal, string(st), "failed")
		skipped += getCounterValue(m.syncTotal, string(st), "skipped")
	}

	total := succeeded + partial + failed + skipped
	successRate := float64(0)
	if attempted := total - skipped; attempted > 0 {
		successRate = (succeeded + partial) / attempted
	}

	return &domain.SyncMetrics{
		TotalSyncs:      int64(total),
		Succeeded:       int64(succeeded + partial),
		Failed:          int64(failed),
		Skipped:         int64(skipped),
		PartialWarnings: int64(partial),
		SuccessRate:     successRate,
		Period:          "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for the given labels.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
