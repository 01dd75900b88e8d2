// Package metrics defines the Prometheus collectors for statement imports.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ImportMetrics groups the import collectors. A nil *ImportMetrics is valid
// and records nothing.
type ImportMetrics struct {
	ParsesTotal     *prometheus.CounterVec
	ParseDuration   *prometheus.HistogramVec
	DraftsTotal     *prometheus.CounterVec
	WarningsTotal   *prometheus.CounterVec
	CommitsTotal    *prometheus.CounterVec
	CommittedRows   *prometheus.CounterVec
	PreviewsCached  prometheus.Gauge
	PreviewsEvicted prometheus.Counter
}

// NewImportMetrics creates the collectors and registers them with reg.
// Collectors already registered by an earlier call are reused.
func NewImportMetrics(reg prometheus.Registerer) (*ImportMetrics, error) {
	m := &ImportMetrics{
		ParsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statement_import",
			Name:      "parses_total",
			Help:      "Parse attempts by source and outcome.",
		}, []string{"source_id", "outcome"}),
		ParseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "statement_import",
			Name:      "parse_duration_seconds",
			Help:      "Time spent parsing one upload.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"source_type"}),
		DraftsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statement_import",
			Name:      "drafts_total",
			Help:      "Drafts produced by parsing.",
		}, []string{"source_id"}),
		WarningsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statement_import",
			Name:      "warnings_total",
			Help:      "Row warnings raised by parsing.",
		}, []string{"source_id"}),
		CommitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statement_import",
			Name:      "commits_total",
			Help:      "Commit attempts by outcome.",
		}, []string{"outcome"}),
		CommittedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statement_import",
			Name:      "committed_rows_total",
			Help:      "Rows handled by commits, inserted or skipped as duplicates.",
		}, []string{"result"}),
		PreviewsCached: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "statement_import",
			Name:      "previews_cached",
			Help:      "Parse previews waiting for commit or discard.",
		}),
		PreviewsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "statement_import",
			Name:      "previews_evicted_total",
			Help:      "Previews dropped after their TTL expired.",
		}),
	}

	if reg == nil {
		return m, nil
	}

	var err error
	if m.ParsesTotal, err = register(reg, m.ParsesTotal); err != nil {
		return nil, err
	}
	if m.ParseDuration, err = register(reg, m.ParseDuration); err != nil {
		return nil, err
	}
	if m.DraftsTotal, err = register(reg, m.DraftsTotal); err != nil {
		return nil, err
	}
	if m.WarningsTotal, err = register(reg, m.WarningsTotal); err != nil {
		return nil, err
	}
	if m.CommitsTotal, err = register(reg, m.CommitsTotal); err != nil {
		return nil, err
	}
	if m.CommittedRows, err = register(reg, m.CommittedRows); err != nil {
		return nil, err
	}
	if m.PreviewsCached, err = register(reg, m.PreviewsCached); err != nil {
		return nil, err
	}
	if m.PreviewsEvicted, err = register(reg, m.PreviewsEvicted); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Handler exposes the default gatherer in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *ImportMetrics) ObserveParse(sourceID, sourceType, outcome string, seconds float64, drafts, warnings int) {
	if m == nil {
		return
	}
	m.ParsesTotal.WithLabelValues(sourceID, outcome).Inc()
	m.ParseDuration.WithLabelValues(sourceType).Observe(seconds)
	if drafts > 0 {
		m.DraftsTotal.WithLabelValues(sourceID).Add(float64(drafts))
	}
	if warnings > 0 {
		m.WarningsTotal.WithLabelValues(sourceID).Add(float64(warnings))
	}
}

func (m *ImportMetrics) ObserveCommit(outcome string, inserted, skipped int) {
	if m == nil {
		return
	}
	m.CommitsTotal.WithLabelValues(outcome).Inc()
	m.CommittedRows.WithLabelValues("inserted").Add(float64(inserted))
	m.CommittedRows.WithLabelValues("skipped").Add(float64(skipped))
}

func (m *ImportMetrics) SetCachedPreviews(n int) {
	if m == nil {
		return
	}
	m.PreviewsCached.Set(float64(n))
}

func (m *ImportMetrics) AddEvicted(n int) {
	if m == nil || n == 0 {
		return
	}
	m.PreviewsEvicted.Add(float64(n))
}
