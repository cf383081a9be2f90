// Package metrics exposes Prometheus counters for the analytics pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsIngested counts analytics events accepted and persisted.
	EventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fromscratch_events_ingested_total",
		Help: "Number of analytics events accepted and persisted.",
	})

	// EventsRateLimited counts events rejected by the per-session rate limit.
	EventsRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fromscratch_events_rate_limited_total",
		Help: "Number of analytics events rejected by the rate limiter.",
	})

	// GeoLookupFailures counts geolocation lookups that failed on
	// transport, HTTP status or response decoding. Lookups the service
	// answered with no data are not failures and are not counted.
	GeoLookupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fromscratch_geo_lookup_failures_total",
		Help: "Number of geolocation lookups that failed before yielding an answer.",
	})

	// SinkPublishFailures counts failed best-effort sink publishes.
	SinkPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fromscratch_sink_publish_failures_total",
		Help: "Number of analytics events that could not be published to the sink.",
	})
)
