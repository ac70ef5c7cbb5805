package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "tagstore"

// Reload outcomes recorded in the reloads counter.
const (
	reloadOK        = "ok"
	reloadRemoved   = "removed"
	reloadContended = "contended"
	reloadError     = "error"
)

type metrics struct {
	tagsAdded          prometheus.Counter
	durabilityFailures prometheus.Counter
	appendDuration     prometheus.Histogram
	reloads            *prometheus.CounterVec
	watchErrors        prometheus.Counter
}

// newMetrics registers the store collectors with reg. A nil reg registers
// them with a private registry so independent stores never collide.
func newMetrics(reg prometheus.Registerer, groups func() int) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	factory := promauto.With(reg)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "groups",
		Help:      "Number of cached tag groups.",
	}, func() float64 { return float64(groups()) })

	return &metrics{
		tagsAdded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tags_added_total",
			Help:      "Tags newly added through AddTags.",
		}),
		durabilityFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "durability_failures_total",
			Help:      "Appends that failed after the in-memory update.",
		}),
		appendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "append_duration_seconds",
			Help:      "Time to lock and append to a storage file.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5},
		}),
		reloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reloads_total",
			Help:      "Full reloads of storage files by outcome.",
		}, []string{"result"}),
		watchErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "watch_errors_total",
			Help:      "Errors reported by the filesystem watcher.",
		}),
	}
}
