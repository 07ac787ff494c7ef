// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package monitor

import (
	"math"
	"testing"
	"time"
)

func TestHealthStatusUnknownWithoutSamples(t *testing.T) {
	h := NewHealthTracker(10)
	snap := h.HealthStatus("openalex")
	if snap.Status != StatusUnknown {
		t.Errorf("Status = %q, want unknown", snap.Status)
	}
	if snap.SuccessRate != 1 {
		t.Errorf("SuccessRate = %v, want 1", snap.SuccessRate)
	}
}

func TestHealthStatusTransitions(t *testing.T) {
	cases := []struct {
		name      string
		successes int
		failures  int
		want      string
	}{
		{"all successes", 10, 0, StatusHealthy},
		{"mostly successes", 9, 1, StatusHealthy},
		{"some failures", 8, 2, StatusDegraded},
		{"half failures", 5, 5, StatusDegraded},
		{"mostly failures", 3, 7, StatusUnhealthy},
		{"all failures", 0, 10, StatusUnhealthy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthTracker(50)
			// Interleave so failures never run consecutively enough to
			// trip the consecutive-error rule on their own.
			for i := 0; i < tc.successes || i < tc.failures; i++ {
				if i < tc.failures {
					h.Record("api", false, 10*time.Millisecond)
				}
				if i < tc.successes {
					h.Record("api", true, 10*time.Millisecond)
				}
			}
			if got := h.HealthStatus("api").Status; got != tc.want {
				t.Errorf("Status = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestConsecutiveErrorsForceUnhealthy(t *testing.T) {
	h := NewHealthTracker(50)
	for i := 0; i < 20; i++ {
		h.Record("api", true, 5*time.Millisecond)
	}
	for i := 0; i < 5; i++ {
		h.Record("api", false, 5*time.Millisecond)
	}

	snap := h.HealthStatus("api")
	// 20/25 success would be degraded on rate alone.
	if snap.Status != StatusUnhealthy {
		t.Errorf("Status = %q, want unhealthy after 5 consecutive errors", snap.Status)
	}
	if snap.ConsecutiveErrors != 5 {
		t.Errorf("ConsecutiveErrors = %d, want 5", snap.ConsecutiveErrors)
	}
}

func TestRollingWindowEvictsOldOutcomes(t *testing.T) {
	h := NewHealthTracker(4)
	for i := 0; i < 4; i++ {
		h.Record("api", false, time.Millisecond)
	}
	if got := h.HealthStatus("api").Status; got != StatusUnhealthy {
		t.Fatalf("Status = %q, want unhealthy", got)
	}

	for i := 0; i < 4; i++ {
		h.Record("api", true, time.Millisecond)
	}
	snap := h.HealthStatus("api")
	if snap.Status != StatusHealthy {
		t.Errorf("Status = %q, want healthy once failures age out", snap.Status)
	}
	if snap.SuccessRate != 1 {
		t.Errorf("SuccessRate = %v, want 1", snap.SuccessRate)
	}
	if snap.ConsecutiveErrors != 0 {
		t.Errorf("ConsecutiveErrors = %d, want 0", snap.ConsecutiveErrors)
	}
}

func TestAverageLatency(t *testing.T) {
	h := NewHealthTracker(10)
	h.Record("api", true, 10*time.Millisecond)
	h.Record("api", true, 20*time.Millisecond)
	h.Record("api", true, 30*time.Millisecond)

	snap := h.HealthStatus("api")
	if math.Abs(snap.AvgResponseMillis-20) > 0.01 {
		t.Errorf("AvgResponseMillis = %v, want 20", snap.AvgResponseMillis)
	}
}

func TestSnapshotCoversAllTrackedAPIs(t *testing.T) {
	h := NewHealthTracker(10)
	h.Record("openalex", true, time.Millisecond)
	h.Record("semantic_scholar", false, time.Millisecond)

	snap := h.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot has %d entries, want 2", len(snap))
	}
	if _, ok := snap["openalex"]; !ok {
		t.Error("openalex missing from snapshot")
	}
	if _, ok := snap["semantic_scholar"]; !ok {
		t.Error("semantic_scholar missing from snapshot")
	}
}
