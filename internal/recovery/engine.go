// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package recovery reconstructs what happened to an interrupted session
// and turns that picture into an actionable resumption plan.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/paper-census/internal/checkpoint"
	"github.com/pdiddy/paper-census/internal/state"
	"github.com/pdiddy/paper-census/pkg/types"
)

// PaperCounter reports how many papers a durable catalog actually holds
// for a session. It sharpens the paper-loss estimate; a nil counter makes
// the engine fall back to checkpoint totals.
type PaperCounter interface {
	CountPapers(ctx context.Context, sessionID string) (int, error)
}

// Engine analyzes interruptions and resumes sessions.
type Engine struct {
	store   *state.Store
	manager *checkpoint.Manager
	cfg     types.RecoveryConfig
	papers  PaperCounter
	logger  *zap.Logger
}

// NewEngine wires the engine. papers may be nil.
func NewEngine(store *state.Store, manager *checkpoint.Manager, cfg types.RecoveryConfig,
	papers PaperCounter, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, manager: manager, cfg: cfg, papers: papers, logger: logger}
}

// AnalyzeInterruption reconstructs the state of an interrupted session
// from its checkpoint chain and status file. Session state is not
// modified; the finished analysis is archived under the session's
// recovery directory.
func (e *Engine) AnalyzeInterruption(ctx context.Context, sessionID string) (*types.InterruptionAnalysis, error) {
	start := time.Now()

	sess, err := e.store.LoadSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("analyze interruption: %w", err)
	}

	analysis := &types.InterruptionAnalysis{
		SessionID:                 sessionID,
		AnalyzedAt:                start.UTC(),
		VenuesDefinitelyCompleted: make(types.VenueSet),
		VenuesPossiblyIncomplete:  make(types.VenueSet),
		VenuesUnknownStatus:       make(types.VenueSet),
		VenuesNotStarted:          make(types.VenueSet),
	}

	// Newest checkpoint by timestamp, whatever its validity.
	latest, err := e.store.LoadLatestCheckpoint(sessionID)
	if err != nil && !errors.Is(err, state.ErrCheckpointNotFound) {
		return nil, fmt.Errorf("analyze interruption: %w", err)
	}
	if latest != nil {
		analysis.LastCheckpointID = latest.ID
		analysis.LastCheckpointAt = latest.Timestamp
	}

	// Grade the full chain.
	results, err := e.store.ValidateCheckpoints(sessionID)
	if err != nil {
		return nil, fmt.Errorf("analyze interruption: %w", err)
	}
	for _, r := range results {
		if r.Passed {
			analysis.ValidCheckpoints = append(analysis.ValidCheckpoints, r.CheckpointID)
		} else {
			analysis.CorruptedCheckpoints = append(analysis.CorruptedCheckpoints, r.CheckpointID)
		}
	}
	// The only dangling reference a session holds is its last checkpoint id.
	if sess.LastCheckpointID != "" && !containsID(results, sess.LastCheckpointID) {
		analysis.MissingCheckpoints = append(analysis.MissingCheckpoints, sess.LastCheckpointID)
	}

	// The best usable checkpoint anchors what we can prove.
	best, err := e.manager.FindBestRecoveryCheckpoint(sessionID)
	if err != nil && !errors.Is(err, checkpoint.ErrNoUsableCheckpoint) {
		return nil, fmt.Errorf("analyze interruption: %w", err)
	}

	e.bucketVenues(analysis, sess, best)
	analysis.Complexity = classifyComplexity(latest, best, e.cfg.RecentCheckpointWindow, start)
	analysis.Cause = e.classifyCause(sess, latest, analysis)
	e.estimatePapers(ctx, analysis, sess, best)

	analysis.AnalysisDuration = time.Since(start)
	if e.cfg.AnalysisSoftBudget > 0 && analysis.AnalysisDuration > e.cfg.AnalysisSoftBudget {
		e.logger.Warn("interruption analysis exceeded soft budget",
			zap.String("session_id", sessionID),
			zap.Duration("elapsed", analysis.AnalysisDuration),
			zap.Duration("budget", e.cfg.AnalysisSoftBudget))
	}
	if err := e.store.SaveRecoveryArtifact(sessionID, "last-analysis", analysis); err != nil {
		e.logger.Warn("analysis artifact not saved",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	return analysis, nil
}

func containsID(results []types.ValidationResult, id string) bool {
	for _, r := range results {
		if r.CheckpointID == id {
			return true
		}
	}
	return false
}

// bucketVenues partitions the session targets by what the best trusted
// checkpoint proves about them:
//
//	definitely completed  completion recorded in a durable checkpoint
//	possibly incomplete   started or failed per the checkpoint, unproven
//	unknown status        tracked only by the (unverifiable) status file
//	not started           no trace anywhere
func (e *Engine) bucketVenues(a *types.InterruptionAnalysis, sess *types.CollectionSession, best *types.CheckpointData) {
	if best != nil {
		a.VenuesDefinitelyCompleted = best.Completed.Clone()
		a.VenuesPossiblyIncomplete = best.InProgress.Union(best.Failed)
	}

	proven := a.VenuesDefinitelyCompleted.Union(a.VenuesPossiblyIncomplete)
	statusTracked := sess.Completed.Union(sess.InProgress).Union(sess.Failed)
	for k := range statusTracked {
		if _, ok := proven[k]; !ok {
			a.VenuesUnknownStatus[k] = struct{}{}
		}
	}

	covered := proven.Union(a.VenuesUnknownStatus)
	for k := range sess.TargetSet() {
		if _, ok := covered[k]; !ok {
			a.VenuesNotStarted[k] = struct{}{}
		}
	}
}

// classifyComplexity grades how hard a safe resume will be.
func classifyComplexity(latest, best *types.CheckpointData, recentWindow time.Duration, now time.Time) types.RecoveryComplexity {
	switch {
	case best == nil:
		return types.RecoveryProblematic
	case latest != nil && best.ID != latest.ID:
		// The newest checkpoint is unusable; an older one must carry the
		// recovery.
		return types.RecoveryComplex
	case recentWindow > 0 && now.Sub(best.Timestamp) > recentWindow:
		return types.RecoverySimple
	default:
		return types.RecoveryTrivial
	}
}

// classifyCause names the most likely interruption cause with supporting
// evidence. Signals are checked in decreasing order of specificity.
func (e *Engine) classifyCause(sess *types.CollectionSession,
	latest *types.CheckpointData, a *types.InterruptionAnalysis) types.InterruptionCause {

	var evidence []string

	if latest != nil && latest.ValidationStatus != types.ValidationValid {
		evidence = append(evidence,
			fmt.Sprintf("latest checkpoint %s is %s", latest.ID, latest.ValidationStatus))
		return types.InterruptionCause{
			Type:       types.CauseCrashDuringCheckpoint,
			Confidence: 0.6,
			Evidence:   evidence,
		}
	}

	if sess.Status == types.SessionPaused {
		evidence = append(evidence, "session status is paused")
		return types.InterruptionCause{
			Type:       types.CauseManualStop,
			Confidence: 0.9,
			Evidence:   evidence,
		}
	}

	checks, err := e.store.CheckDataIntegrity(sess.ID)
	if err == nil {
		damaged := 0
		for _, c := range checks {
			if c.Status == types.FileMissing || c.Status == types.FilePartial {
				damaged++
			}
		}
		if damaged > 0 || len(a.MissingCheckpoints) > 0 {
			evidence = append(evidence,
				fmt.Sprintf("%d damaged or missing files in the session directory", damaged+len(a.MissingCheckpoints)))
			return types.InterruptionCause{
				Type:       types.CauseStorageFailure,
				Confidence: 0.5,
				Evidence:   evidence,
			}
		}
	}

	if sess.Status == types.SessionActive || sess.Status == types.SessionInterrupted {
		evidence = append(evidence, fmt.Sprintf("session status is %s, not a terminal state", sess.Status))
		if latest != nil {
			evidence = append(evidence,
				fmt.Sprintf("latest checkpoint written %s before analysis", a.AnalyzedAt.Sub(latest.Timestamp).Round(time.Second)))
		}
		return types.InterruptionCause{
			Type:       types.CauseProcessKilled,
			Confidence: 0.7,
			Evidence:   evidence,
		}
	}

	evidence = append(evidence, fmt.Sprintf("session status is %s", sess.Status))
	return types.InterruptionCause{
		Type:       types.CauseUnknown,
		Confidence: 0.2,
		Evidence:   evidence,
	}
}

// estimatePapers fills the collected/lost estimates. The catalog count is
// preferred when a counter is wired; the gap between status-tracked counts
// and the best checkpoint approximates work done after the last durable
// proof.
func (e *Engine) estimatePapers(ctx context.Context, a *types.InterruptionAnalysis,
	sess *types.CollectionSession, best *types.CheckpointData) {

	provenTotal := 0
	if best != nil {
		provenTotal = best.TotalPapers
	}

	collected := provenTotal
	if e.papers != nil {
		if n, err := e.papers.CountPapers(ctx, sess.ID); err == nil {
			collected = n
		} else {
			e.logger.Warn("paper catalog count failed; using checkpoint total",
				zap.String("session_id", sess.ID), zap.Error(err))
		}
	}
	a.EstimatedPapersCollected = collected

	statusTotal := sess.TotalPapers()
	if statusTotal > provenTotal {
		a.EstimatedPapersLost = statusTotal - provenTotal
	}
}

// CreateRecoveryPlan turns an analysis into an actionable plan. The
// strategy is monotonic in complexity and the confidence reflects the
// checkpoint evidence the analysis found.
func (e *Engine) CreateRecoveryPlan(sessionID string, analysis *types.InterruptionAnalysis) (*types.RecoveryPlan, error) {
	if analysis == nil {
		return nil, fmt.Errorf("create recovery plan: nil analysis")
	}
	if analysis.SessionID != sessionID {
		return nil, fmt.Errorf("create recovery plan: analysis belongs to %s, not %s", analysis.SessionID, sessionID)
	}
	if _, err := e.store.LoadSession(sessionID); err != nil {
		return nil, fmt.Errorf("create recovery plan: %w", err)
	}

	plan := &types.RecoveryPlan{
		SessionID:        sessionID,
		CreatedAt:        time.Now().UTC(),
		VenuesToSkip:     analysis.VenuesDefinitelyCompleted.Clone(),
		VenuesToValidate: analysis.VenuesPossiblyIncomplete.Clone(),
		VenuesToRestart:  analysis.VenuesUnknownStatus.Clone(),
		VenuesToResume:   analysis.VenuesNotStarted.Clone(),
		Confidence:       0.5,
	}

	if len(analysis.ValidCheckpoints) > 0 {
		plan.Confidence += 0.1
	} else {
		plan.Confidence -= 0.2
	}

	switch analysis.Complexity {
	case types.RecoveryTrivial:
		plan.Strategy = types.ResumeFromLastCheckpoint
		plan.EstimatedRecoveryTime = time.Minute
	case types.RecoverySimple:
		plan.Strategy = types.ResumeFromLastCheckpoint
		plan.EstimatedRecoveryTime = 2 * time.Minute
	case types.RecoveryComplex:
		plan.Strategy = types.ResumePartialRestart
		plan.EstimatedRecoveryTime = 4 * time.Minute
	case types.RecoveryProblematic:
		plan.Strategy = types.ResumeFullRestart
		plan.EstimatedRecoveryTime = 5 * time.Minute
	default:
		return nil, fmt.Errorf("create recovery plan: unknown complexity %q", analysis.Complexity)
	}

	if analysis.Complexity != types.RecoveryProblematic {
		best, err := e.manager.FindBestRecoveryCheckpoint(sessionID)
		if err != nil && !errors.Is(err, checkpoint.ErrNoUsableCheckpoint) {
			return nil, fmt.Errorf("create recovery plan: %w", err)
		}
		if best != nil {
			plan.OptimalCheckpointID = best.ID
		}
	}

	if len(analysis.CorruptedCheckpoints) > 0 {
		plan.CorruptedDataToDiscard = append(plan.CorruptedDataToDiscard, analysis.CorruptedCheckpoints...)
		plan.Risks = append(plan.Risks,
			fmt.Sprintf("%d corrupted checkpoints will be discarded", len(analysis.CorruptedCheckpoints)))
	}
	if len(analysis.MissingCheckpoints) > 0 {
		plan.Risks = append(plan.Risks,
			fmt.Sprintf("%d referenced checkpoints are missing from disk", len(analysis.MissingCheckpoints)))
	}
	if analysis.VenuesUnknownStatus.Len() > 0 {
		plan.Risks = append(plan.Risks,
			fmt.Sprintf("%d venues have unverifiable status and will be restarted", analysis.VenuesUnknownStatus.Len()))
	}
	if analysis.Complexity == types.RecoveryProblematic {
		plan.Risks = append(plan.Risks, "no valid checkpoint exists; prior progress cannot be trusted")
	}
	if analysis.EstimatedPapersLost > 0 {
		plan.Risks = append(plan.Risks,
			fmt.Sprintf("approximately %d papers were collected after the last durable checkpoint and may be recollected", analysis.EstimatedPapersLost))
	}

	plan.EstimatedPapersRecoverable = analysis.EstimatedPapersCollected
	plan.Confidence = clamp01(plan.Confidence)

	if err := e.store.SaveRecoveryArtifact(sessionID, "last-plan", plan); err != nil {
		e.logger.Warn("plan artifact not saved",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	return plan, nil
}

// ResumeSession restores a session from a plan, re-activates it, and runs
// state-consistency validation. Calling it twice with the same plan
// restores the same progress sets both times.
func (e *Engine) ResumeSession(ctx context.Context, sessionID string, plan *types.RecoveryPlan) (*types.SessionResumeResult, error) {
	start := time.Now()
	if plan == nil {
		return nil, fmt.Errorf("resume session: nil plan")
	}
	if plan.SessionID != sessionID {
		return nil, fmt.Errorf("resume session: plan belongs to %s, not %s", plan.SessionID, sessionID)
	}
	if !plan.Strategy.Valid() {
		return nil, fmt.Errorf("resume session: unknown strategy %q", plan.Strategy)
	}

	sess, err := e.store.LoadSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("resume session: %w", err)
	}

	result := &types.SessionResumeResult{
		SessionID: sessionID,
		ResumedAt: start.UTC(),
	}

	// Restore progress from the plan's checkpoint, or start clean for a
	// full restart.
	restored := types.ProgressSnapshot{
		Completed:   make(types.VenueSet),
		InProgress:  make(types.VenueSet),
		Failed:      make(types.VenueSet),
		PaperCounts: make(types.PaperCounts),
	}
	recordedTotal := 0
	if plan.OptimalCheckpointID != "" {
		cp, lerr := e.store.LoadCheckpoint(sessionID, plan.OptimalCheckpointID)
		if lerr != nil {
			return nil, fmt.Errorf("resume session: loading optimal checkpoint: %w", lerr)
		}
		if cp.ValidationStatus != types.ValidationValid {
			return nil, fmt.Errorf("resume session: optimal checkpoint %s is %s, refusing to restore from it",
				cp.ID, cp.ValidationStatus)
		}
		restored = cp.Snapshot()
		recordedTotal = cp.TotalPapers
		result.RestoredFromCheckpoint = cp.ID
	}

	// Pairs slated for restart drop all prior traces.
	for _, raw := range plan.VenuesToRestart.Strings() {
		k, perr := types.ParseVenueKey(raw)
		if perr != nil {
			continue
		}
		restored.Completed.Remove(k)
		restored.InProgress.Remove(k)
		restored.Failed.Remove(k)
		delete(restored.PaperCounts, raw)
	}

	sess.Completed = restored.Completed
	sess.InProgress = restored.InProgress
	sess.Failed = restored.Failed
	sess.PaperCounts = restored.PaperCounts
	sess.Status = types.SessionActive

	result.RestoredCompleted = restored.Completed.Clone()
	result.RestoredInProgress = restored.InProgress.Clone()
	result.RestoredFailed = restored.Failed.Clone()

	result.ConsistencyChecks = e.validateConsistency(sess, recordedTotal)
	result.ConsistencyValidated = true
	for _, c := range result.ConsistencyChecks {
		if !c.Passed {
			result.ConsistencyValidated = false
		}
	}

	if err := e.store.SaveSession(sess); err != nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("restored state not persisted: %v", err))
	}
	if err := e.store.SaveRecoveryArtifact(sessionID, "last-resume", result); err != nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("resume artifact not saved: %v", err))
	}

	result.ReadyForContinuation = result.ConsistencyValidated && len(result.Warnings) == 0
	result.Duration = time.Since(start)
	if e.cfg.ResumeSoftBudget > 0 && result.Duration > e.cfg.ResumeSoftBudget {
		e.logger.Warn("session resume exceeded soft budget",
			zap.String("session_id", sessionID),
			zap.Duration("elapsed", result.Duration),
			zap.Duration("budget", e.cfg.ResumeSoftBudget))
	}
	return result, nil
}

// validateConsistency runs the state-consistency checks after a restore.
// Venue consistency is a hard failure (confidence 0); paper-count drift
// beyond the tolerance is a soft failure (confidence 0.3) with a
// recalculation recommendation.
func (e *Engine) validateConsistency(sess *types.CollectionSession, recordedTotal int) []types.ConsistencyCheck {
	var checks []types.ConsistencyCheck

	venueCheck := types.ConsistencyCheck{Name: "venue_consistency", Passed: true, Confidence: 1.0}
	if err := sess.CheckPartition(); err != nil {
		venueCheck.Passed = false
		venueCheck.Confidence = 0
		venueCheck.Detail = err.Error()
	}
	checks = append(checks, venueCheck)

	countCheck := types.ConsistencyCheck{Name: "paper_count_consistency", Passed: true, Confidence: 1.0}
	sum := sess.TotalPapers()
	switch {
	case recordedTotal == 0:
		if sum != 0 {
			countCheck.Passed = false
			countCheck.Confidence = 0.3
			countCheck.Detail = fmt.Sprintf("per-venue counts sum to %d but no total was recorded", sum)
			countCheck.Recommendation = "recalculate"
		}
	default:
		drift := math.Abs(float64(sum-recordedTotal)) / float64(recordedTotal)
		if drift > e.cfg.PaperCountTolerance {
			countCheck.Passed = false
			countCheck.Confidence = 0.3
			countCheck.Detail = fmt.Sprintf("per-venue counts sum to %d, recorded total is %d (drift %.0f%%)",
				sum, recordedTotal, drift*100)
			countCheck.Recommendation = "recalculate"
		}
	}
	checks = append(checks, countCheck)

	return checks
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
