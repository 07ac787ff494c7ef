// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package monitor provides the health, rate-limit and quality trackers the
// collection orchestrator consumes.
package monitor

import (
	"sync"
	"time"

	"github.com/pdiddy/paper-census/pkg/types"
)

// Health status values reported by the tracker.
const (
	StatusHealthy   = types.APIHealthy
	StatusDegraded  = types.APIDegraded
	StatusUnhealthy = types.APIUnhealthy
	StatusUnknown   = types.APIUnknown
)

// HealthTracker keeps a rolling window of request outcomes per external API
// and grades each one healthy, degraded or unhealthy.
type HealthTracker struct {
	mu         sync.Mutex
	windowSize int
	apis       map[string]*apiWindow
}

type apiWindow struct {
	outcomes  []outcome // ring buffer
	next      int
	filled    int
	consecErr int
}

type outcome struct {
	ok      bool
	latency time.Duration
}

// NewHealthTracker creates a tracker with the given rolling window size per
// API (default 50).
func NewHealthTracker(windowSize int) *HealthTracker {
	if windowSize <= 0 {
		windowSize = 50
	}
	return &HealthTracker{
		windowSize: windowSize,
		apis:       make(map[string]*apiWindow),
	}
}

// Record notes one request outcome for an API.
func (h *HealthTracker) Record(api string, success bool, latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	w, ok := h.apis[api]
	if !ok {
		w = &apiWindow{outcomes: make([]outcome, h.windowSize)}
		h.apis[api] = w
	}
	w.outcomes[w.next] = outcome{ok: success, latency: latency}
	w.next = (w.next + 1) % len(w.outcomes)
	if w.filled < len(w.outcomes) {
		w.filled++
	}
	if success {
		w.consecErr = 0
	} else {
		w.consecErr++
	}
}

// HealthStatus summarizes one API's recent window. An API with no recorded
// requests reports status unknown with a success rate of 1.
func (h *HealthTracker) HealthStatus(api string) types.APIHealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statusLocked(api)
}

func (h *HealthTracker) statusLocked(api string) types.APIHealthSnapshot {
	w, ok := h.apis[api]
	if !ok || w.filled == 0 {
		return types.APIHealthSnapshot{Status: StatusUnknown, SuccessRate: 1}
	}

	successes := 0
	var total time.Duration
	for i := 0; i < w.filled; i++ {
		if w.outcomes[i].ok {
			successes++
		}
		total += w.outcomes[i].latency
	}
	rate := float64(successes) / float64(w.filled)
	avg := total / time.Duration(w.filled)

	status := StatusHealthy
	switch {
	case w.consecErr >= 5 || rate < 0.5:
		status = StatusUnhealthy
	case rate < 0.9:
		status = StatusDegraded
	}
	return types.APIHealthSnapshot{
		Status:            status,
		SuccessRate:       rate,
		AvgResponseMillis: float64(avg) / float64(time.Millisecond),
		ConsecutiveErrors: w.consecErr,
	}
}

// Snapshot summarizes every tracked API, keyed by name.
func (h *HealthTracker) Snapshot() map[string]types.APIHealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]types.APIHealthSnapshot, len(h.apis))
	for api := range h.apis {
		out[api] = h.statusLocked(api)
	}
	return out
}
