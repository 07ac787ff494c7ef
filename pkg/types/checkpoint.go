// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// CheckpointType classifies the state transition a checkpoint records.
type CheckpointType string

const (
	CheckpointSessionStarted   CheckpointType = "session_started"
	CheckpointVenueCompleted   CheckpointType = "venue_completed"
	CheckpointBatchCompleted   CheckpointType = "batch_completed"
	CheckpointAPICallCompleted CheckpointType = "api_call_completed"
	CheckpointErrorOccurred    CheckpointType = "error_occurred"
)

// Valid reports whether t is one of the known checkpoint types.
func (t CheckpointType) Valid() bool {
	switch t {
	case CheckpointSessionStarted, CheckpointVenueCompleted, CheckpointBatchCompleted,
		CheckpointAPICallCompleted, CheckpointErrorOccurred:
		return true
	default:
		return false
	}
}

// ValidationStatus is the trust level assigned to a checkpoint on load.
// It is recomputed from the stored payload and never checksummed itself.
type ValidationStatus string

const (
	ValidationValid      ValidationStatus = "valid"
	ValidationCorrupted  ValidationStatus = "corrupted"
	ValidationIncomplete ValidationStatus = "incomplete"
)

// APIHealthSnapshot.Status values. Unknown means no requests have been
// observed yet.
const (
	APIHealthy   = "healthy"
	APIDegraded  = "degraded"
	APIUnhealthy = "unhealthy"
	APIUnknown   = "unknown"
)

// APIHealthSnapshot is a point-in-time view of one external API's health,
// attached to checkpoints for post-mortem analysis.
type APIHealthSnapshot struct {
	// Status is healthy, degraded, unhealthy or unknown.
	Status string `json:"status" yaml:"status"`

	// SuccessRate is the fraction of recent requests that succeeded.
	SuccessRate float64 `json:"success_rate" yaml:"success_rate"`

	// AvgResponseMillis is the average response time over the recent window.
	AvgResponseMillis float64 `json:"avg_response_ms" yaml:"avg_response_ms"`

	// ConsecutiveErrors counts errors since the last success.
	ConsecutiveErrors int `json:"consecutive_errors" yaml:"consecutive_errors"`
}

// RateLimitSnapshot is a point-in-time view of one external API's rate
// limit budget.
type RateLimitSnapshot struct {
	// RequestsRemaining is the budget left in the current window.
	RequestsRemaining int `json:"requests_remaining" yaml:"requests_remaining"`

	// WindowResetAt is when the budget refills.
	WindowResetAt time.Time `json:"window_reset_at" yaml:"window_reset_at"`

	// Limited reports whether requests are currently being held back.
	Limited bool `json:"limited" yaml:"limited"`
}

// ErrorContext captures the failure attached to an error_occurred checkpoint.
type ErrorContext struct {
	// Type is a short machine-readable classification (e.g. "api_error").
	Type string `json:"type" yaml:"type"`

	// Message is the error text.
	Message string `json:"message" yaml:"message"`

	// Venue and Year identify the unit being processed, when applicable.
	Venue string `json:"venue,omitempty" yaml:"venue,omitempty"`
	Year  int    `json:"year,omitempty" yaml:"year,omitempty"`

	// Operation names what was being attempted when the error occurred.
	Operation string `json:"operation,omitempty" yaml:"operation,omitempty"`

	// Recoverable reports whether a resume can be expected to succeed.
	Recoverable bool `json:"recoverable" yaml:"recoverable"`

	// OccurredAt is when the error was observed.
	OccurredAt time.Time `json:"occurred_at" yaml:"occurred_at"`
}

// ProgressSnapshot is the orchestrator's view of session progress handed to
// the checkpoint manager. The sets are copied on checkpoint construction so
// later mutation cannot alter a written checkpoint.
type ProgressSnapshot struct {
	Completed   VenueSet    `json:"completed_venues" yaml:"completed_venues"`
	InProgress  VenueSet    `json:"in_progress_venues" yaml:"in_progress_venues"`
	Failed      VenueSet    `json:"failed_venues" yaml:"failed_venues"`
	PaperCounts PaperCounts `json:"paper_counts" yaml:"paper_counts"`
}

// CheckpointData is an immutable, checksummed snapshot of session progress
// at one instant. The payload never changes after construction; only
// ValidationStatus is recomputed when the checkpoint is reloaded.
type CheckpointData struct {
	// ID is derived from session id, type, timestamp and a random suffix.
	ID string `json:"checkpoint_id" yaml:"checkpoint_id"`

	// SessionID names the owning session.
	SessionID string `json:"session_id" yaml:"session_id"`

	// Type classifies the recorded transition.
	Type CheckpointType `json:"checkpoint_type" yaml:"checkpoint_type"`

	// Timestamp is the creation instant (UTC). Checkpoint ordering for a
	// session is always by this field, never by insertion order.
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	// Progress sets and counts at the snapshot instant.
	Completed   VenueSet    `json:"completed_venues" yaml:"completed_venues"`
	InProgress  VenueSet    `json:"in_progress_venues" yaml:"in_progress_venues"`
	Failed      VenueSet    `json:"failed_venues" yaml:"failed_venues"`
	PaperCounts PaperCounts `json:"paper_counts" yaml:"paper_counts"`

	// TotalPapers is the sum over PaperCounts, precomputed at construction.
	TotalPapers int `json:"total_papers" yaml:"total_papers"`

	// LastOperation describes the most recent successful operation.
	LastOperation string `json:"last_operation" yaml:"last_operation"`

	// APIHealth and RateLimits are read-mostly snapshots of the external
	// API state at checkpoint time, keyed by API name.
	APIHealth  map[string]APIHealthSnapshot `json:"api_health,omitempty" yaml:"api_health,omitempty"`
	RateLimits map[string]RateLimitSnapshot `json:"rate_limits,omitempty" yaml:"rate_limits,omitempty"`

	// ErrorContext is set only on error_occurred checkpoints.
	ErrorContext *ErrorContext `json:"error_context,omitempty" yaml:"error_context,omitempty"`

	// Checksum is computed over the canonical payload at construction.
	Checksum string `json:"checksum" yaml:"checksum"`

	// ValidationStatus is the trust level assigned on the most recent load.
	ValidationStatus ValidationStatus `json:"validation_status" yaml:"validation_status"`
}

// NewCheckpointID derives a checkpoint id from its session, type and
// timestamp plus a random suffix, so ids stay unique even when two
// checkpoints share a timestamp.
func NewCheckpointID(sessionID string, t CheckpointType, ts time.Time) string {
	return fmt.Sprintf("%s-%s-%d-%s", sessionID, t, ts.UnixNano(), uuid.NewString()[:8])
}

// NewCheckpoint constructs a checkpoint over a copy of the given progress
// snapshot and computes its checksum. The returned checkpoint is valid by
// construction.
func NewCheckpoint(sessionID string, t CheckpointType, snap ProgressSnapshot, lastOp string,
	apiHealth map[string]APIHealthSnapshot, rateLimits map[string]RateLimitSnapshot,
	errCtx *ErrorContext) (*CheckpointData, error) {

	if sessionID == "" {
		return nil, fmt.Errorf("new checkpoint: empty session id")
	}
	if !t.Valid() {
		return nil, fmt.Errorf("new checkpoint: unknown checkpoint type %q", t)
	}

	ts := time.Now().UTC()
	cp := &CheckpointData{
		ID:               NewCheckpointID(sessionID, t, ts),
		SessionID:        sessionID,
		Type:             t,
		Timestamp:        ts,
		Completed:        cloneOrEmpty(snap.Completed),
		InProgress:       cloneOrEmpty(snap.InProgress),
		Failed:           cloneOrEmpty(snap.Failed),
		PaperCounts:      clonePaperCounts(snap.PaperCounts),
		LastOperation:    lastOp,
		APIHealth:        apiHealth,
		RateLimits:       rateLimits,
		ErrorContext:     errCtx,
		ValidationStatus: ValidationValid,
	}
	cp.TotalPapers = cp.PaperCounts.Total()

	sum, err := cp.ComputeChecksum()
	if err != nil {
		return nil, fmt.Errorf("new checkpoint: %w", err)
	}
	cp.Checksum = sum
	return cp, nil
}

func cloneOrEmpty(s VenueSet) VenueSet {
	if s == nil {
		return make(VenueSet)
	}
	return s.Clone()
}

func clonePaperCounts(p PaperCounts) PaperCounts {
	if p == nil {
		return make(PaperCounts)
	}
	return p.Clone()
}

// checksumPayload is the canonical encoding the checkpoint checksum covers.
// Field order is fixed, venue sets are sorted slices, the timestamp is
// RFC3339Nano in UTC, and map keys are sorted by the JSON encoder, so equal
// payloads always produce identical bytes. The checksum field itself and
// the validation status are deliberately excluded.
type checksumPayload struct {
	SessionID   string         `json:"session_id"`
	Type        CheckpointType `json:"type"`
	Timestamp   string         `json:"timestamp"`
	Completed   []string       `json:"completed"`
	InProgress  []string       `json:"in_progress"`
	Failed      []string       `json:"failed"`
	PaperCounts PaperCounts    `json:"paper_counts"`
	TotalPapers int            `json:"total_papers"`
	LastOp      string         `json:"last_op"`
}

// ComputeChecksum hashes the canonical payload with xxhash-64 and returns
// it as "xxh64:<hex>".
func (c *CheckpointData) ComputeChecksum() (string, error) {
	payload := checksumPayload{
		SessionID:   c.SessionID,
		Type:        c.Type,
		Timestamp:   c.Timestamp.UTC().Format(time.RFC3339Nano),
		Completed:   c.Completed.Strings(),
		InProgress:  c.InProgress.Strings(),
		Failed:      c.Failed.Strings(),
		PaperCounts: c.PaperCounts,
		TotalPapers: c.TotalPapers,
		LastOp:      c.LastOperation,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("checksum payload: %w", err)
	}
	return fmt.Sprintf("xxh64:%016x", xxhash.Sum64(data)), nil
}

// ValidateIntegrity recomputes the checksum and compares it to the stored
// one. A mismatch means the payload changed after construction.
func (c *CheckpointData) ValidateIntegrity() bool {
	sum, err := c.ComputeChecksum()
	if err != nil {
		return false
	}
	return sum == c.Checksum
}

// HasRequiredFields reports whether the identity fields a recovery needs
// are all present.
func (c *CheckpointData) HasRequiredFields() bool {
	return c.ID != "" && c.SessionID != "" && c.Type.Valid() && !c.Timestamp.IsZero() && c.Checksum != ""
}

// Snapshot returns a copy of the checkpoint's progress fields, suitable for
// restoring session state without aliasing the checkpoint's own sets.
func (c *CheckpointData) Snapshot() ProgressSnapshot {
	return ProgressSnapshot{
		Completed:   cloneOrEmpty(c.Completed),
		InProgress:  cloneOrEmpty(c.InProgress),
		Failed:      cloneOrEmpty(c.Failed),
		PaperCounts: clonePaperCounts(c.PaperCounts),
	}
}
