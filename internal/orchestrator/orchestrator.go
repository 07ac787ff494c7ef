// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package orchestrator coordinates collection sessions: it schedules
// bounded-concurrency collection units per venue/year pair, retries unit
// failures, checkpoints progress through the checkpoint manager, and adapts
// the concurrency bound to the observed health of the external APIs.
//
// The package owns only the coordination logic. The actual API clients,
// monitors and the paper store are consumed through the small interfaces
// below, implemented by internal/sources, internal/monitor and
// internal/catalog.
package orchestrator

import (
	"context"
	"time"

	"github.com/pdiddy/paper-census/pkg/types"
)

// Phase identifies where a coordination run currently is. ErrorRecovery is
// reachable from any phase on a failure the run cannot contain.
type Phase string

const (
	PhaseInitialization Phase = "initialization"
	PhaseAPISetup       Phase = "api_setup"
	PhaseCollection     Phase = "collection"
	PhaseQualityCheck   Phase = "quality_check"
	PhaseCompletion     Phase = "completion"
	PhaseErrorRecovery  Phase = "error_recovery"
)

// CollectionAPI fetches the papers for one venue/year pair. A limit of 0
// means no cap. Implementations live in internal/sources.
type CollectionAPI interface {
	Name() string
	Collect(ctx context.Context, venue string, year, limit int) ([]types.Paper, error)
}

// HealthMonitor tracks request outcomes per external API and grades each
// one over a rolling window.
type HealthMonitor interface {
	Record(api string, success bool, latency time.Duration)
	HealthStatus(api string) types.APIHealthSnapshot
	Snapshot() map[string]types.APIHealthSnapshot
}

// RateLimiter owns the per-API request budget. WaitIfNeeded blocks until a
// request may proceed and reports how long it waited.
type RateLimiter interface {
	CanMakeRequest(api string) bool
	WaitIfNeeded(ctx context.Context, api string) (time.Duration, error)
	RecordRequest(api string, success bool, latency time.Duration)
	Snapshot() map[string]types.RateLimitSnapshot
}

// QualityMonitor judges a collected batch before it is stored.
type QualityMonitor interface {
	CheckCollectionQuality(papers []types.Paper, venue string, year int) types.QualityReport
}

// PaperSink durably stores the papers collected for one pair. Implemented
// by the catalog store.
type PaperSink interface {
	StorePapers(ctx context.Context, sessionID string, key types.VenueKey, papers []types.Paper) error
}

// SessionResults is the outcome of one CoordinateSession run. It covers the
// pairs processed by this run; the session itself carries the cumulative
// progress across runs.
type SessionResults struct {
	SessionID       string            `json:"session_id"`
	CompletedVenues []types.VenueKey  `json:"completed_venues"`
	FailedVenues    map[string]string `json:"failed_venues,omitempty"`
	PapersByVenue   types.PaperCounts `json:"papers_by_venue"`
	TotalPapers     int               `json:"total_papers"`
	Duration        time.Duration     `json:"duration"`
	FinalPhase      Phase             `json:"final_phase"`
}
