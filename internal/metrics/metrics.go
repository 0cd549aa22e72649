// Package metrics registers the Prometheus instruments for the enforcement
// plane. All vars are registered on the default registry via promauto and
// served by promhttp on the admin listener.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts every request entering the enforcement pipeline.
	RequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shield_requests_total",
		Help: "Total requests seen by the enforcement pipeline",
	})

	// AllowedTotal counts requests on a protected route that passed every
	// check. Requests that matched no route are counted by PassthroughTotal.
	AllowedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shield_allowed_total",
		Help: "Total requests on a protected route that passed every enforcement check",
	})

	// BlockedTotal counts block decisions by reason.
	BlockedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shield_blocked_total",
		Help: "Total blocked requests by policy reason",
	}, []string{"reason"})

	// PassthroughTotal counts requests whose (method, path) matched no route.
	PassthroughTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shield_passthrough_total",
		Help: "Total requests that matched no protected route",
	})

	// RequestDuration observes time spent inside the pipeline plus handler.
	RequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shield_request_duration_seconds",
		Help:    "Request duration through the shield and application",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	// Buckets gauges the live token-bucket count across all shards.
	Buckets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shield_buckets",
		Help: "Live token buckets held by the rate limiter",
	})

	// ActiveConnections gauges in-flight acquisitions in the concurrent limiter.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shield_active_connections",
		Help: "In-flight requests holding a concurrent-limit slot",
	})

	// UpstreamErrorsTotal counts admitted requests the upstream failed to answer.
	UpstreamErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shield_upstream_errors_total",
		Help: "Total admitted requests that failed at the upstream hop",
	})

	// SnapshotRefreshTotal counts snapshot publications by outcome.
	SnapshotRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shield_snapshot_refresh_total",
		Help: "Rule snapshot refresh attempts by status",
	}, []string{"status"})
)
