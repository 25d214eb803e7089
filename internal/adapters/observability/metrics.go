package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stay_sync"

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	ExternalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "external_requests_total", Help: "Outbound requests."},
		[]string{"service", "endpoint", "status"},
	)
	ExternalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "external_request_duration_seconds",
			Help:    "Outbound request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "cache_events_total", Help: "Cache hits/misses/sets/corrupt entries."},
		[]string{"cache", "event"}, // event: hit|miss|set|corrupt
	)
	UnitSyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "unit_syncs_total", Help: "Per-unit sync outcomes."},
		[]string{"outcome"}, // outcome: synced|skipped|error
	)
	PassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "pass_duration_seconds",
			Help:    "Full sync pass duration seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)
	RecordsUpserted = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "records_upserted_total", Help: "Daily records written by sync."},
	)
	CleanupDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "cleanup_deleted_total", Help: "Daily records removed by retention cleanup."},
	)
	PriceFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "price_fallbacks_total", Help: "Days priced with the minimum-season fallback."},
	)
	Invalidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "invalidations_total", Help: "Reservation-driven availability flips."},
		[]string{"kind"}, // kind: unavailable|available
	)
	CacheStale = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "cache_stale", Help: "1 when no sync pass completed within the staleness window."},
	)
)

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(HTTPRequests, HTTPLatency, ExternalRequests, ExternalLatency, CacheEvents,
		UnitSyncs, PassDuration, RecordsUpserted, CleanupDeleted, PriceFallbacks, Invalidations, CacheStale)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveExternal(service, endpoint string, status int, dur time.Duration) {
	ExternalRequests.WithLabelValues(service, endpoint, strconv.Itoa(status)).Inc()
	ExternalLatency.WithLabelValues(service, endpoint).Observe(dur.Seconds())
}

func ObserveCache(cache, event string) { // event: hit|miss|set|corrupt
	CacheEvents.WithLabelValues(cache, event).Inc()
}

func ObserveUnitSync(outcome string) { UnitSyncs.WithLabelValues(outcome).Inc() }

func ObservePass(dur time.Duration, upserted int64) {
	PassDuration.Observe(dur.Seconds())
	RecordsUpserted.Add(float64(upserted))
}

func ObserveInvalidation(kind string) { Invalidations.WithLabelValues(kind).Inc() }

func SetStale(stale bool) {
	if stale {
		CacheStale.Set(1)
		return
	}
	CacheStale.Set(0)
}

func LabelErr(err error) string {
	if err == nil {
		return "none"
	}
	return fmt.Sprintf("%T", err)
}
