// Package connectivity records delivery outcomes per endpoint and summarizes the last hour.
package connectivity

import (
	"sort"
	"sync"
	"time"
)

// Window is how long individual deliveries are kept.
const Window = time.Hour

// Call is a single delivery attempt.
type Call struct {
	Timestamp time.Time
	Success   bool
	Latency   time.Duration
	Error     string
}

// Tracker records deliveries to the endpoints one engine talks to.
type Tracker struct {
	mu        sync.Mutex
	endpoints map[string][]Call
	order     []string
	now       func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		endpoints: make(map[string][]Call),
		now:       time.Now,
	}
}

// TrackSuccess records an acknowledged delivery.
func (t *Tracker) TrackSuccess(endpoint string, latency time.Duration) {
	t.track(endpoint, Call{Success: true, Latency: latency})
}

// TrackFailure records a failed delivery.
func (t *Tracker) TrackFailure(endpoint string, latency time.Duration, errorMsg string) {
	t.track(endpoint, Call{Success: false, Latency: latency, Error: errorMsg})
}

func (t *Tracker) track(endpoint string, call Call) {
	t.mu.Lock()
	defer t.mu.Unlock()

	call.Timestamp = t.now().UTC()
	if _, ok := t.endpoints[endpoint]; !ok {
		t.order = append(t.order, endpoint)
	}
	t.endpoints[endpoint] = prune(append(t.endpoints[endpoint], call), call.Timestamp.Add(-Window))
}

// prune drops calls older than cutoff. Calls are appended in time order.
func prune(calls []Call, cutoff time.Time) []Call {
	for i, call := range calls {
		if call.Timestamp.After(cutoff) {
			return calls[i:]
		}
	}
	return calls[:0]
}

// Latency holds millisecond percentiles.
type Latency struct {
	P50 int64 `json:"p50"`
	P95 int64 `json:"p95"`
	P99 int64 `json:"p99"`
}

// Endpoint summarizes one endpoint over the window.
type Endpoint struct {
	URL          string    `json:"url"`
	Status       string    `json:"status"`
	LastCall     time.Time `json:"last_call"`
	TotalCalls   int       `json:"total_calls_1h"`
	SuccessRate  float64   `json:"success_rate_1h"`
	LatencyMs    Latency   `json:"latency_ms"`
	RecentErrors []string  `json:"recent_errors"`
}

// Stats is a point-in-time summary of every tracked endpoint.
type Stats struct {
	Endpoints []Endpoint `json:"endpoints"`
}

// Stats summarizes the window. Endpoints appear in first-use order.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-Window)
	out := Stats{Endpoints: make([]Endpoint, 0, len(t.order))}

	for _, url := range t.order {
		calls := prune(t.endpoints[url], cutoff)
		t.endpoints[url] = calls
		if len(calls) == 0 {
			continue
		}

		var successCount int
		var lastCall time.Time
		latencies := make([]float64, 0, len(calls))
		recentErrors := make([]string, 0)

		for _, call := range calls {
			if call.Success {
				successCount++
			} else if len(recentErrors) < 5 {
				recentErrors = append(recentErrors, call.Error)
			}
			latencies = append(latencies, float64(call.Latency.Milliseconds()))
			if call.Timestamp.After(lastCall) {
				lastCall = call.Timestamp
			}
		}

		successRate := float64(successCount) / float64(len(calls))

		sort.Float64s(latencies)

		status := "healthy"
		if successRate < 0.9 {
			status = "unhealthy"
		} else if successRate < 0.95 {
			status = "degraded"
		}

		out.Endpoints = append(out.Endpoints, Endpoint{
			URL:         url,
			Status:      status,
			LastCall:    lastCall,
			TotalCalls:  len(calls),
			SuccessRate: successRate,
			LatencyMs: Latency{
				P50: int64(percentile(latencies, 0.50)),
				P95: int64(percentile(latencies, 0.95)),
				P99: int64(percentile(latencies, 0.99)),
			},
			RecentErrors: recentErrors,
		})
	}

	return out
}

// percentile calculates the percentile of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)-1) * p)
	return sorted[index]
}
