// Package metrics aggregates per-process request, latency, token and tool
// counters for the /api/metrics endpoint. One collector instance is shared
// by every turn; all access goes through a single mutex.
package metrics

import (
	"sync"
	"time"
)

// maxSamples bounds the latency and TTFT reservoirs. When full, the oldest
// sample is evicted so percentiles track recent behavior.
const maxSamples = 1000

// Collector accumulates counters between resets.
type Collector struct {
	mu        sync.Mutex
	started   time.Time
	total     int
	success   int
	errored   int
	latencies []float64 // ms
	ttft      []float64 // ms
	tokensIn  int
	tokensOut int
	toolCalls map[string]int
	errors    map[string]int

	now func() time.Time
}

// NewCollector returns an empty collector with the uptime clock started.
func NewCollector() *Collector {
	c := &Collector{now: time.Now}
	c.resetLocked()
	return c
}

// Reset clears every counter and restarts the uptime clock.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Collector) resetLocked() {
	c.started = c.now()
	c.total, c.success, c.errored = 0, 0, 0
	c.latencies = nil
	c.ttft = nil
	c.tokensIn, c.tokensOut = 0, 0
	c.toolCalls = make(map[string]int)
	c.errors = make(map[string]int)
}

// RecordRequestStart counts a new request and returns its start mark for
// the later latency calls.
func (c *Collector) RecordRequestStart() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total++
	return c.now()
}

// RecordFirstToken samples time-to-first-token for the request started at
// start.
func (c *Collector) RecordFirstToken(start time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttft = appendSample(c.ttft, c.sinceMS(start))
}

// RecordRequestComplete samples total latency and counts the outcome.
func (c *Collector) RecordRequestComplete(start time.Time, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latencies = appendSample(c.latencies, c.sinceMS(start))
	if success {
		c.success++
	} else {
		c.errored++
	}
}

// RecordTokens adds to the running token totals.
func (c *Collector) RecordTokens(input, output int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokensIn += input
	c.tokensOut += output
}

// RecordToolCall counts one invocation of the named tool.
func (c *Collector) RecordToolCall(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolCalls[name]++
}

// RecordError counts one error of the given kind.
func (c *Collector) RecordError(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors[kind]++
}

func (c *Collector) sinceMS(start time.Time) float64 {
	return float64(c.now().Sub(start)) / float64(time.Millisecond)
}

func appendSample(samples []float64, v float64) []float64 {
	if len(samples) >= maxSamples {
		samples = samples[1:]
	}
	return append(samples, v)
}
