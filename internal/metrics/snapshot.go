package metrics

import (
	"math"
	"sort"
	"time"
)

// RequestStats counts request outcomes. SuccessRate is a percentage and
// reads 100 while no requests have finished.
type RequestStats struct {
	Total       int     `json:"total"`
	Success     int     `json:"success"`
	Error       int     `json:"error"`
	SuccessRate float64 `json:"success_rate"`
}

// LatencyStats summarizes total request latency in milliseconds.
type LatencyStats struct {
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// TTFTStats summarizes time-to-first-token in milliseconds.
type TTFTStats struct {
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
}

// TokenStats totals token usage since the last reset.
type TokenStats struct {
	TotalInput          int     `json:"total_input"`
	TotalOutput         int     `json:"total_output"`
	ThroughputPerSecond float64 `json:"throughput_per_second"`
}

// Snapshot is the /api/metrics response body.
type Snapshot struct {
	UptimeSeconds float64        `json:"uptime_seconds"`
	StartedAt     time.Time      `json:"started_at"`
	Requests      RequestStats   `json:"requests"`
	LatencyMS     LatencyStats   `json:"latency_ms"`
	TTFTMS        TTFTStats      `json:"ttft_ms"`
	Tokens        TokenStats     `json:"tokens"`
	ToolCalls     map[string]int `json:"tool_calls"`
	Errors        map[string]int `json:"errors"`
}

// Snapshot computes the current aggregate view.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	uptime := c.now().Sub(c.started).Seconds()

	successRate := 100.0
	if c.total > 0 {
		successRate = float64(c.success) / float64(c.total) * 100
	}

	lat := distribution(c.latencies)
	ttft := distribution(c.ttft)

	throughput := 0.0
	if uptime > 0 {
		throughput = float64(c.tokensIn+c.tokensOut) / uptime
	}

	return Snapshot{
		UptimeSeconds: round2(uptime),
		StartedAt:     c.started,
		Requests: RequestStats{
			Total:       c.total,
			Success:     c.success,
			Error:       c.errored,
			SuccessRate: round2(successRate),
		},
		LatencyMS: LatencyStats{
			Avg: round2(lat.avg), Min: round2(lat.min), Max: round2(lat.max),
			P50: round2(lat.p50), P95: round2(lat.p95), P99: round2(lat.p99),
		},
		TTFTMS: TTFTStats{
			Avg: round2(ttft.avg), Min: round2(ttft.min), Max: round2(ttft.max),
			P50: round2(ttft.p50), P95: round2(ttft.p95),
		},
		Tokens: TokenStats{
			TotalInput:          c.tokensIn,
			TotalOutput:         c.tokensOut,
			ThroughputPerSecond: round2(throughput),
		},
		ToolCalls: topTools(c.toolCalls, 10),
		Errors:    copyCounts(c.errors),
	}
}

type dist struct {
	avg, min, max, p50, p95, p99 float64
}

func distribution(samples []float64) dist {
	if len(samples) == 0 {
		return dist{}
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return dist{
		avg: sum / float64(len(sorted)),
		min: sorted[0],
		max: sorted[len(sorted)-1],
		p50: percentile(sorted, 50),
		p95: percentile(sorted, 95),
		p99: percentile(sorted, 99),
	}
}

// percentile interpolates linearly between the two samples bracketing rank
// k = (n-1)*p/100. Input must be sorted and non-empty.
func percentile(sorted []float64, p float64) float64 {
	k := float64(len(sorted)-1) * p / 100
	f := int(k)
	c := f + 1
	if c >= len(sorted) {
		c = f
	}
	return sorted[f] + (sorted[c]-sorted[f])*(k-float64(f))
}

// topTools keeps the n most-called tools, ties broken by name so the output
// is stable.
func topTools(counts map[string]int, n int) map[string]int {
	type entry struct {
		name  string
		count int
	}
	entries := make([]entry, 0, len(counts))
	for name, count := range counts {
		entries = append(entries, entry{name, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].name < entries[j].name
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	top := make(map[string]int, len(entries))
	for _, e := range entries {
		top[e.name] = e.count
	}
	return top
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
