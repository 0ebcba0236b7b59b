// Package metrics provides the metrics sink used by the Riot API client.
//
// Components never talk to Prometheus directly. They receive a Sink and ask it
// for counters and timers by dotted name plus key/value tag pairs:
//
//	sink.Counter("client.requests", "type", "MatchDetails", "status", "2xx").Inc()
//	sink.Timer("client.latency", "type", "MatchDetails", "status", "2xx", "retries", "0").Observe(d)
//
// The Prometheus implementation maps dotted names to snake case, appends
// "_total" to counters and "_seconds" to timers, and turns tag keys into
// label names.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the client binary.
var Registry = prometheus.DefaultRegisterer

// Counter is a monotonically increasing metric.
type Counter interface {
	Inc()
}

// Timer records durations.
type Timer interface {
	Observe(d time.Duration)
}

// Sink hands out counters and timers. Tags are alternating key/value pairs;
// a trailing key without a value is ignored.
type Sink interface {
	Counter(name string, tags ...string) Counter
	Timer(name string, tags ...string) Timer
}

// Nop is a Sink that discards everything.
var Nop Sink = nopSink{}

type nopSink struct{}

func (nopSink) Counter(string, ...string) Counter { return nopMetric{} }
func (nopSink) Timer(string, ...string) Timer     { return nopMetric{} }

type nopMetric struct{}

func (nopMetric) Inc()                  {}
func (nopMetric) Observe(time.Duration) {}

// Metric names emitted by the client. They are part of the dashboard contract.
//
// Pipeline (pkg/client):
//   - client.requests{type, status} (Counter): one per attempt, status is 2xx, 4xx, 5xx, 429 or error
//   - client.retries{type} (Counter): retries scheduled
//   - client.latency{type, status, retries} (Timer): logical request latency by final outcome
//   - client.coalesced{type} (Counter): callers that joined an in-flight request
//
// Cache (pkg/cache):
//   - cache.hits{type}, cache.misses{type} (Counter)
//   - cache.errors{operation} (Counter): get, set, delete
//
// Cooldown (pkg/ratelimit):
//   - ratelimit.cooldowns (Counter): cooldowns recorded from 429 responses
//   - ratelimit.waits (Timer): time spent waiting for a shared cooldown
//
// Example Prometheus queries:
//
//	# Upstream error ratio
//	sum(rate(riot_client_requests_total{status=~"5xx|error"}[5m])) / sum(rate(riot_client_requests_total[5m]))
//
//	# P95 latency per request type
//	histogram_quantile(0.95, sum by (type, le) (rate(riot_client_latency_seconds_bucket[5m])))
const (
	ClientRequests  = "client.requests"
	ClientRetries   = "client.retries"
	ClientLatency   = "client.latency"
	ClientCoalesced = "client.coalesced"

	CacheHits   = "cache.hits"
	CacheMisses = "cache.misses"
	CacheErrors = "cache.errors"

	RateLimitCooldowns = "ratelimit.cooldowns"
	RateLimitWaits     = "ratelimit.waits"
)
