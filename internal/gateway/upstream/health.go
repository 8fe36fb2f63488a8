package upstream

import (
	"sync"
	"time"
)

// HealthSnapshot is the orchestrator's view of provider health, exposed on
// the detailed health endpoint.
type HealthSnapshot struct {
	Degraded    bool       `json:"degraded"`
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`
	LastFailure *time.Time `json:"lastFailure,omitempty"`
}

// healthSignal tracks the most recent success and failure. It is a cheap
// degrade-fast signal, not a circuit breaker: nothing trips open, the
// window just has to elapse or a success has to land.
type healthSignal struct {
	mu          sync.RWMutex
	lastSuccess time.Time
	lastFailure time.Time
	probeWindow time.Duration
	now         func() time.Time
}

func newHealthSignal(probeWindow time.Duration) *healthSignal {
	return &healthSignal{
		probeWindow: probeWindow,
		now:         time.Now,
	}
}

func (h *healthSignal) recordSuccess() {
	h.mu.Lock()
	h.lastSuccess = h.now()
	h.mu.Unlock()
}

func (h *healthSignal) recordFailure() {
	h.mu.Lock()
	h.lastFailure = h.now()
	h.mu.Unlock()
}

// degraded reports whether the last failure is both recent and newer than
// the last success.
func (h *healthSignal) degraded() bool {
	if h.probeWindow <= 0 {
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.lastFailure.IsZero() {
		return false
	}
	if !h.lastSuccess.Before(h.lastFailure) {
		return false
	}
	return h.now().Sub(h.lastFailure) < h.probeWindow
}

func (h *healthSignal) snapshot() HealthSnapshot {
	degraded := h.degraded()

	h.mu.RLock()
	defer h.mu.RUnlock()

	snap := HealthSnapshot{Degraded: degraded}
	if !h.lastSuccess.IsZero() {
		t := h.lastSuccess
		snap.LastSuccess = &t
	}
	if !h.lastFailure.IsZero() {
		t := h.lastFailure
		snap.LastFailure = &t
	}
	return snap
}
