package upstream

import (
	"sync"
	"time"
)

// endpoint tracks the health of a single upstream RPC endpoint.
// Health transitions are optimistic: an endpoint marked unhealthy becomes
// selectable again after the cooldown elapses, without an active probe.
type endpoint struct {
	url string

	mu                  sync.Mutex
	healthy             bool
	consecutiveFailures int
	lastChecked         time.Time
	retryAt             time.Time
}

// EndpointHealth is a point-in-time snapshot of an endpoint's health record.
type EndpointHealth struct {
	URL                 string    `json:"url"`
	Healthy             bool      `json:"healthy"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastCheckedAt       time.Time `json:"lastCheckedAt"`
}

func newEndpoint(url string) *endpoint {
	return &endpoint{
		url:     url,
		healthy: true,
	}
}

// selectable reports whether the endpoint may be tried. An unhealthy
// endpoint whose cooldown has elapsed flips back to healthy here.
func (e *endpoint) selectable(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.healthy && !now.Before(e.retryAt) {
		e.healthy = true
		e.consecutiveFailures = 0
	}
	return e.healthy
}

// recordSuccess marks the endpoint healthy and resets its failure counter.
func (e *endpoint) recordSuccess(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.healthy = true
	e.consecutiveFailures = 0
	e.lastChecked = now
}

// recordFailure increments the failure counter and, past the threshold,
// marks the endpoint unhealthy until the cooldown elapses.
// Returns true if this failure tripped the unhealthy transition.
func (e *endpoint) recordFailure(now time.Time, threshold int, cooldown time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.consecutiveFailures++
	e.lastChecked = now
	if e.healthy && e.consecutiveFailures >= threshold {
		e.healthy = false
		e.retryAt = now.Add(cooldown)
		return true
	}
	if !e.healthy {
		e.retryAt = now.Add(cooldown)
	}
	return false
}

// forceHealthy resets the endpoint to healthy regardless of its counters.
// Used when every endpoint is unhealthy to avoid a permanent deadlock.
func (e *endpoint) forceHealthy() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.healthy = true
	e.consecutiveFailures = 0
	e.retryAt = time.Time{}
}

// snapshot returns a copy of the health record.
func (e *endpoint) snapshot() EndpointHealth {
	e.mu.Lock()
	defer e.mu.Unlock()

	return EndpointHealth{
		URL:                 e.url,
		Healthy:             e.healthy,
		ConsecutiveFailures: e.consecutiveFailures,
		LastCheckedAt:       e.lastChecked,
	}
}
