package variant

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filevault_variant_cache_hits_total",
		Help: "Variant requests served from the cache without a transform.",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filevault_variant_cache_misses_total",
		Help: "Variant requests that required a transform.",
	})
	transformFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filevault_variant_transform_failures_total",
		Help: "Image transforms that failed on corrupt or unsupported sources.",
	})
	invalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filevault_variant_invalidations_total",
		Help: "Variant invalidation sweeps triggered by original overwrites.",
	})
)
