// Package metrics exposes Prometheus instruments for widget activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Config struct {
	Namespace string
	Subsystem string
	Registry  prometheus.Registerer
}

type Option func(*Config)

func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithRegistry sets the registerer. Tests pass a fresh prometheus.NewRegistry().
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

type Metrics struct {
	Materializations   *prometheus.CounterVec
	MaterializeErrors  prometheus.Counter
	BatchesCommitted   prometheus.Counter
	BatchesDiscarded   *prometheus.CounterVec
	BatchSize          prometheus.Histogram
	ReferencesCreated  prometheus.Counter
	ReferencesRevoked  prometheus.Counter
	ReferencesLive     prometheus.Gauge
	ActionsDispatched  *prometheus.CounterVec
	ActiveWidgets      prometheus.Gauge
	RestrictionRejects *prometheus.CounterVec
}

func New(opts ...Option) *Metrics {
	cfg := Config{
		Namespace: "filepicker",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	factory := promauto.With(cfg.Registry)

	return &Metrics{
		Materializations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "materializations_total",
			Help:      "Files materialized, by data format and mode (inline or reference)",
		}, []string{"format", "mode"}),

		MaterializeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "materialize_errors_total",
			Help:      "Files that failed to materialize",
		}),

		BatchesCommitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "batches_committed_total",
			Help:      "Batches appended to a widget's selected files",
		}),

		BatchesDiscarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "batches_discarded_total",
			Help:      "Batches dropped before commit, by reason",
		}, []string{"reason"}),

		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "batch_size_files",
			Help:      "Number of files per committed batch",
			Buckets:   []float64{1, 2, 5, 10, 20, 50},
		}),

		ReferencesCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "references_created_total",
			Help:      "Transient references created for large files",
		}),

		ReferencesRevoked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "references_revoked_total",
			Help:      "Transient references released",
		}),

		ReferencesLive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "references_live",
			Help:      "Transient references currently held",
		}),

		ActionsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "actions_dispatched_total",
			Help:      "onFilesSelected dispatches, by outcome",
		}, []string{"status"}),

		ActiveWidgets: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "active_widgets",
			Help:      "Widget controllers currently registered",
		}),

		RestrictionRejects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "restriction_rejections_total",
			Help:      "Files rejected by uploader restrictions, by rule",
		}, []string{"rule"}),
	}
}

// NewNop returns instruments registered on a private registry, for callers
// that do not export metrics.
func NewNop() *Metrics {
	return New(WithRegistry(prometheus.NewRegistry()))
}
