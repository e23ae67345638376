package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Collector tracks relay counters without external dependencies and renders
// them in a Prometheus-compatible text exposition.
type Collector struct {
	mu sync.RWMutex

	// Request metrics by endpoint
	totalRequests    map[string]int64
	totalRequestsDur map[string]int64 // total duration in ms
	requestErrors    map[string]int64

	// Outbound stream events by type
	eventsEmitted map[string]int64

	// Poll loop
	totalPollAttempts int64
	pollTimeouts      int64

	// System
	startTime time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		totalRequests:    make(map[string]int64),
		totalRequestsDur: make(map[string]int64),
		requestErrors:    make(map[string]int64),
		eventsEmitted:    make(map[string]int64),
		startTime:        time.Now(),
	}
}

// RecordRequest records a completed request to an endpoint.
func (c *Collector) RecordRequest(endpoint string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests[endpoint]++
	c.totalRequestsDur[endpoint] += duration.Milliseconds()
}

// RecordError records a request error for an endpoint.
func (c *Collector) RecordError(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestErrors[endpoint]++
}

// RecordEvent records one outbound stream event by type.
func (c *Collector) RecordEvent(eventType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventsEmitted[eventType]++
}

// RecordPollAttempts accumulates run poll attempts; timedOut marks budget
// exhaustion.
func (c *Collector) RecordPollAttempts(attempts int, timedOut bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalPollAttempts += int64(attempts)
	if timedOut {
		c.pollTimeouts++
	}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Requests      map[string]int64 `json:"requests"`
	RequestErrors map[string]int64 `json:"request_errors"`
	Events        map[string]int64 `json:"events"`
	PollAttempts  int64            `json:"poll_attempts"`
	PollTimeouts  int64            `json:"poll_timeouts"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Requests:      copyCounters(c.totalRequests),
		RequestErrors: copyCounters(c.requestErrors),
		Events:        copyCounters(c.eventsEmitted),
		PollAttempts:  c.totalPollAttempts,
		PollTimeouts:  c.pollTimeouts,
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
	}
}

// Export renders the counters as Prometheus text exposition format.
func (c *Collector) Export() string {
	snap := c.Snapshot()
	var b strings.Builder

	b.WriteString("# TYPE relay_requests_total counter\n")
	writeLabelled(&b, "relay_requests_total", "endpoint", snap.Requests)
	b.WriteString("# TYPE relay_request_errors_total counter\n")
	writeLabelled(&b, "relay_request_errors_total", "endpoint", snap.RequestErrors)
	b.WriteString("# TYPE relay_events_total counter\n")
	writeLabelled(&b, "relay_events_total", "type", snap.Events)

	b.WriteString("# TYPE relay_poll_attempts_total counter\n")
	fmt.Fprintf(&b, "relay_poll_attempts_total %d\n", snap.PollAttempts)
	b.WriteString("# TYPE relay_poll_timeouts_total counter\n")
	fmt.Fprintf(&b, "relay_poll_timeouts_total %d\n", snap.PollTimeouts)
	b.WriteString("# TYPE relay_uptime_seconds gauge\n")
	fmt.Fprintf(&b, "relay_uptime_seconds %d\n", snap.UptimeSeconds)

	return b.String()
}

func writeLabelled(b *strings.Builder, metric, label string, counters map[string]int64) {
	keys := make([]string, 0, len(counters))
	for k := range counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "%s{%s=%q} %d\n", metric, label, k, counters[k])
	}
}

func copyCounters(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
