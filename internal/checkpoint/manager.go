// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package checkpoint turns orchestrator progress into durable checkpoints
// and answers which checkpoint a recovery should trust.
package checkpoint

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/paper-census/internal/state"
	"github.com/pdiddy/paper-census/pkg/types"
)

// ErrNoUsableCheckpoint reports that no checkpoint of the session passed
// validation at the recovery threshold.
var ErrNoUsableCheckpoint = errors.New("no usable recovery checkpoint")

// Manager creates, validates and prunes checkpoints for sessions. A
// manager instance serializes its own session mutations; the store it
// wraps serializes file access per session.
type Manager struct {
	mu     sync.Mutex
	store  *state.Store
	cfg    types.StorageConfig
	logger *zap.Logger
}

// NewManager wraps a store. A nil logger is replaced with a nop.
func NewManager(store *state.Store, cfg types.StorageConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, cfg: cfg, logger: logger}
}

// snapshotOf copies a session's progress fields.
func snapshotOf(sess *types.CollectionSession) types.ProgressSnapshot {
	return types.ProgressSnapshot{
		Completed:   sess.Completed.Clone(),
		InProgress:  sess.InProgress.Clone(),
		Failed:      sess.Failed.Clone(),
		PaperCounts: sess.PaperCounts.Clone(),
	}
}

// validateSnapshot rejects snapshots that would violate the progress-set
// partition before anything is persisted.
func validateSnapshot(sess *types.CollectionSession, snap types.ProgressSnapshot) error {
	probe := types.CollectionSession{
		ID:         sess.ID,
		Status:     sess.Status,
		Venues:     sess.Venues,
		Completed:  snap.Completed,
		InProgress: snap.InProgress,
		Failed:     snap.Failed,
	}
	return probe.CheckPartition()
}

// Create builds a checkpoint over the given snapshot, persists it, and
// only then applies the snapshot to the session and saves its status. A
// persistence failure leaves the in-memory session untouched. Once the
// session's cumulative checkpoint counter exceeds the configured maximum,
// the oldest checkpoints are pruned down to the retention buffer.
func (m *Manager) Create(sess *types.CollectionSession, t types.CheckpointType, snap types.ProgressSnapshot,
	lastOp string, apiHealth map[string]types.APIHealthSnapshot, rateLimits map[string]types.RateLimitSnapshot,
	errCtx *types.ErrorContext) (*types.CheckpointData, error) {

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(sess, t, snap, lastOp, apiHealth, rateLimits, errCtx)
}

func (m *Manager) createLocked(sess *types.CollectionSession, t types.CheckpointType, snap types.ProgressSnapshot,
	lastOp string, apiHealth map[string]types.APIHealthSnapshot, rateLimits map[string]types.RateLimitSnapshot,
	errCtx *types.ErrorContext) (*types.CheckpointData, error) {

	if err := validateSnapshot(sess, snap); err != nil {
		return nil, fmt.Errorf("create checkpoint: %w", err)
	}

	cp, err := types.NewCheckpoint(sess.ID, t, snap, lastOp, apiHealth, rateLimits, errCtx)
	if err != nil {
		return nil, fmt.Errorf("create checkpoint: %w", err)
	}
	if err := m.store.SaveCheckpoint(cp); err != nil {
		return nil, fmt.Errorf("create checkpoint: %w", err)
	}

	// The checkpoint is durable; the session may now change.
	applied := cp.Snapshot()
	sess.Completed = applied.Completed
	sess.InProgress = applied.InProgress
	sess.Failed = applied.Failed
	sess.PaperCounts = applied.PaperCounts
	sess.LastCheckpointID = cp.ID
	sess.CheckpointCount++
	if t == types.CheckpointErrorOccurred {
		sess.ErrorCount++
		if errCtx != nil && errCtx.Venue != "" {
			key := types.VenueKey{Venue: errCtx.Venue, Year: errCtx.Year}
			if sess.Failed.Has(key) {
				if sess.FailureMessages == nil {
					sess.FailureMessages = make(map[string]string)
				}
				sess.FailureMessages[key.String()] = errCtx.Message
			}
		}
	}

	if err := m.store.SaveSession(sess); err != nil {
		return cp, fmt.Errorf("create checkpoint: saving session status: %w", err)
	}

	if m.cfg.MaxCheckpointsPerSession > 0 && sess.CheckpointCount > m.cfg.MaxCheckpointsPerSession {
		if err := m.prune(sess.ID); err != nil {
			m.logger.Warn("checkpoint pruning failed",
				zap.String("session_id", sess.ID), zap.Error(err))
		}
	}
	return cp, nil
}

// prune deletes the oldest checkpoints, keeping the newest RetentionBuffer.
func (m *Manager) prune(sessionID string) error {
	ids, err := m.store.ListCheckpoints(sessionID)
	if err != nil {
		return err
	}
	keep := m.cfg.RetentionBuffer
	if keep <= 0 {
		keep = 1
	}
	if len(ids) <= keep {
		return nil
	}
	for _, id := range ids[:len(ids)-keep] {
		if err := m.store.DeleteCheckpoint(sessionID, id); err != nil {
			return fmt.Errorf("pruning %s: %w", id, err)
		}
		m.logger.Debug("pruned checkpoint",
			zap.String("session_id", sessionID), zap.String("checkpoint_id", id))
	}
	return nil
}

// --- specialized transitions ---

// CreateSessionStarted records the initial checkpoint of a run; for a
// fresh session every target is not started.
func (m *Manager) CreateSessionStarted(sess *types.CollectionSession,
	apiHealth map[string]types.APIHealthSnapshot, rateLimits map[string]types.RateLimitSnapshot) (*types.CheckpointData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(sess, types.CheckpointSessionStarted, snapshotOf(sess),
		"session started", apiHealth, rateLimits, nil)
}

// MarkVenueInProgress moves one pair into the in-progress set and persists
// the status. Restarted pairs leave the failed set and drop their old
// failure message. No checkpoint is written for this transition.
func (m *Manager) MarkVenueInProgress(sess *types.CollectionSession, key types.VenueKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess.Completed.Has(key) {
		return fmt.Errorf("mark in progress: %s already completed", key)
	}
	sess.Failed.Remove(key)
	delete(sess.FailureMessages, key.String())
	sess.InProgress.Add(key)

	if err := m.store.SaveSession(sess); err != nil {
		// Roll the in-memory transition back so state and disk agree.
		sess.InProgress.Remove(key)
		return fmt.Errorf("mark in progress %s: %w", key, err)
	}
	return nil
}

// CreateVenueCompleted moves one pair from in-progress to completed,
// records its final paper count, and checkpoints the transition.
func (m *Manager) CreateVenueCompleted(sess *types.CollectionSession, key types.VenueKey, paperCount int,
	apiHealth map[string]types.APIHealthSnapshot, rateLimits map[string]types.RateLimitSnapshot) (*types.CheckpointData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := snapshotOf(sess)
	snap.InProgress.Remove(key)
	snap.Failed.Remove(key)
	snap.Completed.Add(key)
	snap.PaperCounts.Set(key, paperCount)

	lastOp := fmt.Sprintf("completed %s with %d papers", key, paperCount)
	return m.createLocked(sess, types.CheckpointVenueCompleted, snap, lastOp, apiHealth, rateLimits, nil)
}

// CreateAPICallCompleted records progress within a venue: the running
// paper count for a pair still in flight.
func (m *Manager) CreateAPICallCompleted(sess *types.CollectionSession, key types.VenueKey, papersSoFar int,
	apiHealth map[string]types.APIHealthSnapshot, rateLimits map[string]types.RateLimitSnapshot) (*types.CheckpointData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := snapshotOf(sess)
	snap.PaperCounts.Set(key, papersSoFar)

	lastOp := fmt.Sprintf("api call completed for %s (%d papers)", key, papersSoFar)
	return m.createLocked(sess, types.CheckpointAPICallCompleted, snap, lastOp, apiHealth, rateLimits, nil)
}

// CreateBatchCompleted records a periodic snapshot of the session as it
// stands, without any transition.
func (m *Manager) CreateBatchCompleted(sess *types.CollectionSession, lastOp string,
	apiHealth map[string]types.APIHealthSnapshot, rateLimits map[string]types.RateLimitSnapshot) (*types.CheckpointData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(sess, types.CheckpointBatchCompleted, snapshotOf(sess), lastOp, apiHealth, rateLimits, nil)
}

// CreateVenueFailed moves one pair from in-progress to failed after retry
// exhaustion and checkpoints the failure with its error context.
func (m *Manager) CreateVenueFailed(sess *types.CollectionSession, key types.VenueKey, cause error,
	apiHealth map[string]types.APIHealthSnapshot, rateLimits map[string]types.RateLimitSnapshot) (*types.CheckpointData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := snapshotOf(sess)
	snap.InProgress.Remove(key)
	snap.Completed.Remove(key)
	snap.Failed.Add(key)

	errCtx := &types.ErrorContext{
		Type:        "venue_collection_failed",
		Message:     cause.Error(),
		Venue:       key.Venue,
		Year:        key.Year,
		Operation:   "collect",
		Recoverable: true,
		OccurredAt:  time.Now().UTC(),
	}
	lastOp := fmt.Sprintf("failed %s: %v", key, cause)
	return m.createLocked(sess, types.CheckpointErrorOccurred, snap, lastOp, apiHealth, rateLimits, errCtx)
}

// CreateErrorOccurred checkpoints a failure that is not tied to a single
// pair (workflow-level errors). The progress sets are snapshotted as they
// stand.
func (m *Manager) CreateErrorOccurred(sess *types.CollectionSession, errCtx *types.ErrorContext,
	apiHealth map[string]types.APIHealthSnapshot, rateLimits map[string]types.RateLimitSnapshot) (*types.CheckpointData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if errCtx == nil {
		return nil, fmt.Errorf("create error checkpoint: nil error context")
	}
	lastOp := fmt.Sprintf("error occurred: %s", errCtx.Message)
	return m.createLocked(sess, types.CheckpointErrorOccurred, snapshotOf(sess), lastOp, apiHealth, rateLimits, errCtx)
}

// FinishSession records the final status of a run (completed, paused,
// interrupted or failed) and writes a closing checkpoint. A persistence
// failure rolls the status back so state and disk agree.
func (m *Manager) FinishSession(sess *types.CollectionSession, status types.SessionStatus,
	apiHealth map[string]types.APIHealthSnapshot, rateLimits map[string]types.RateLimitSnapshot) (*types.CheckpointData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !status.Valid() {
		return nil, fmt.Errorf("finish session: invalid status %q", status)
	}

	prev := sess.Status
	sess.Status = status
	lastOp := fmt.Sprintf("session finished with status %s", status)
	cp, err := m.createLocked(sess, types.CheckpointBatchCompleted, snapshotOf(sess), lastOp, apiHealth, rateLimits, nil)
	if err != nil {
		sess.Status = prev
		return nil, err
	}
	return cp, nil
}

// --- recovery support ---

// FindBestRecoveryCheckpoint validates the session's full checkpoint
// chain, filters to the ones usable for recovery, picks the highest
// integrity score (ties go to the newest), and re-validates that
// checkpoint on load. It never returns an unverified checkpoint.
func (m *Manager) FindBestRecoveryCheckpoint(sessionID string) (*types.CheckpointData, error) {
	results, err := m.store.ValidateCheckpoints(sessionID)
	if err != nil {
		return nil, fmt.Errorf("find recovery checkpoint: %w", err)
	}

	bestID := ""
	bestScore := -1.0
	for _, r := range results { // timestamp order, so >= prefers newer
		if !r.UsableForRecovery {
			continue
		}
		if r.IntegrityScore >= bestScore {
			bestID = r.CheckpointID
			bestScore = r.IntegrityScore
		}
	}
	if bestID == "" {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNoUsableCheckpoint)
	}

	cp, err := m.store.LoadCheckpoint(sessionID, bestID)
	if err != nil {
		return nil, fmt.Errorf("find recovery checkpoint: reloading %s: %w", bestID, err)
	}
	if cp.ValidationStatus != types.ValidationValid {
		m.logger.Warn("best checkpoint failed re-validation",
			zap.String("session_id", sessionID),
			zap.String("checkpoint_id", bestID),
			zap.String("status", string(cp.ValidationStatus)))
		return nil, fmt.Errorf("session %s: best checkpoint %s failed re-validation: %w",
			sessionID, bestID, ErrNoUsableCheckpoint)
	}
	return cp, nil
}

// Summary aggregates the checkpoint chain of one session.
type Summary struct {
	SessionID          string                         `json:"session_id"`
	Total              int                            `json:"total"`
	ByType             map[types.CheckpointType]int   `json:"by_type"`
	ByValidity         map[types.ValidationStatus]int `json:"by_validity"`
	AverageIntegrity   float64                        `json:"average_integrity"`
	HasRecoveryOptions bool                           `json:"has_recovery_options"`
	LatestID           string                         `json:"latest_id,omitempty"`
	LatestAt           time.Time                      `json:"latest_at"`
}

// CheckpointSummary validates and classifies every checkpoint of a
// session.
func (m *Manager) CheckpointSummary(sessionID string) (*Summary, error) {
	results, err := m.store.ValidateCheckpoints(sessionID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint summary: %w", err)
	}

	sum := &Summary{
		SessionID:  sessionID,
		Total:      len(results),
		ByType:     make(map[types.CheckpointType]int),
		ByValidity: make(map[types.ValidationStatus]int),
	}
	var totalScore float64
	for _, r := range results {
		totalScore += r.IntegrityScore
		if r.UsableForRecovery {
			sum.HasRecoveryOptions = true
		}
	}
	if len(results) > 0 {
		sum.AverageIntegrity = totalScore / float64(len(results))
	}

	ids, err := m.store.ListCheckpoints(sessionID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint summary: %w", err)
	}
	for _, id := range ids {
		cp, lerr := m.store.LoadCheckpoint(sessionID, id)
		if lerr != nil {
			continue
		}
		if cp.Type.Valid() {
			sum.ByType[cp.Type]++
		}
		sum.ByValidity[cp.ValidationStatus]++
		sum.LatestID = cp.ID
		sum.LatestAt = cp.Timestamp
	}
	return sum, nil
}
