// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// RecoveryComplexity classifies how hard it is to safely resume an
// interrupted session.
type RecoveryComplexity string

const (
	// RecoveryTrivial: the latest checkpoint is valid and recent.
	RecoveryTrivial RecoveryComplexity = "trivial"

	// RecoverySimple: the latest checkpoint is valid but stale.
	RecoverySimple RecoveryComplexity = "simple"

	// RecoveryComplex: the latest checkpoint is unusable and an older
	// valid one must be used.
	RecoveryComplex RecoveryComplexity = "complex"

	// RecoveryProblematic: no valid checkpoint exists.
	RecoveryProblematic RecoveryComplexity = "problematic"
)

// Valid reports whether c is one of the known complexity classes.
func (c RecoveryComplexity) Valid() bool {
	switch c {
	case RecoveryTrivial, RecoverySimple, RecoveryComplex, RecoveryProblematic:
		return true
	default:
		return false
	}
}

// ResumptionStrategy is the chosen approach for continuing a session.
type ResumptionStrategy string

const (
	ResumeFromLastCheckpoint ResumptionStrategy = "from_last_checkpoint"
	ResumeFromVenueStart     ResumptionStrategy = "from_venue_start"
	ResumePartialRestart     ResumptionStrategy = "partial_restart"
	ResumeFullRestart        ResumptionStrategy = "full_restart"
)

// Valid reports whether s is one of the known strategies.
func (s ResumptionStrategy) Valid() bool {
	switch s {
	case ResumeFromLastCheckpoint, ResumeFromVenueStart, ResumePartialRestart, ResumeFullRestart:
		return true
	default:
		return false
	}
}

// InterruptionCauseType classifies why a session stopped.
type InterruptionCauseType string

const (
	CauseProcessKilled          InterruptionCauseType = "process_killed"
	CauseCrashDuringCheckpoint  InterruptionCauseType = "crash_during_checkpoint"
	CauseStorageFailure         InterruptionCauseType = "storage_failure"
	CauseManualStop             InterruptionCauseType = "manual_stop"
	CauseUnknown                InterruptionCauseType = "unknown"
)

// InterruptionCause is the engine's best explanation for an interruption,
// with supporting evidence and a confidence in [0,1].
type InterruptionCause struct {
	Type       InterruptionCauseType `json:"cause_type" yaml:"cause_type"`
	Confidence float64               `json:"confidence" yaml:"confidence"`
	Evidence   []string              `json:"evidence" yaml:"evidence"`
}

// InterruptionAnalysis is the reconstructed picture of an interrupted
// session. It is derived from checkpoints and the status file on demand,
// never treated as primary state.
type InterruptionAnalysis struct {
	SessionID  string    `json:"session_id" yaml:"session_id"`
	AnalyzedAt time.Time `json:"analyzed_at" yaml:"analyzed_at"`

	// LastCheckpointID is the newest checkpoint by timestamp, regardless
	// of its validity.
	LastCheckpointID string    `json:"last_checkpoint_id,omitempty" yaml:"last_checkpoint_id,omitempty"`
	LastCheckpointAt time.Time `json:"last_checkpoint_at" yaml:"last_checkpoint_at"`

	// Venue buckets partition the session's targets by what the
	// checkpoint record proves about them.
	VenuesDefinitelyCompleted VenueSet `json:"venues_definitely_completed" yaml:"venues_definitely_completed"`
	VenuesPossiblyIncomplete  VenueSet `json:"venues_possibly_incomplete" yaml:"venues_possibly_incomplete"`
	VenuesUnknownStatus       VenueSet `json:"venues_unknown_status" yaml:"venues_unknown_status"`
	VenuesNotStarted          VenueSet `json:"venues_not_started" yaml:"venues_not_started"`

	// Checkpoint census from validating the full chain.
	ValidCheckpoints     []string `json:"valid_checkpoints" yaml:"valid_checkpoints"`
	CorruptedCheckpoints []string `json:"corrupted_checkpoints" yaml:"corrupted_checkpoints"`
	MissingCheckpoints   []string `json:"missing_checkpoints" yaml:"missing_checkpoints"`

	Complexity RecoveryComplexity `json:"recovery_complexity" yaml:"recovery_complexity"`
	Cause      InterruptionCause  `json:"interruption_cause" yaml:"interruption_cause"`

	// Paper-loss estimate: collected is what the best evidence supports,
	// lost is what progress suggests happened after the last checkpoint.
	EstimatedPapersCollected int `json:"estimated_papers_collected" yaml:"estimated_papers_collected"`
	EstimatedPapersLost      int `json:"estimated_papers_lost" yaml:"estimated_papers_lost"`

	AnalysisDuration time.Duration `json:"analysis_duration" yaml:"analysis_duration"`
}

// RecoveryPlan is an actionable resumption proposal derived from an
// InterruptionAnalysis.
type RecoveryPlan struct {
	SessionID string    `json:"session_id" yaml:"session_id"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`

	// Strategy is monotonic in the analysis complexity: trivial and
	// simple resume from the last checkpoint, complex restarts partially,
	// problematic restarts from scratch.
	Strategy ResumptionStrategy `json:"resumption_strategy" yaml:"resumption_strategy"`

	// OptimalCheckpointID is the checkpoint to restore from, when one is
	// usable.
	OptimalCheckpointID string `json:"optimal_checkpoint_id,omitempty" yaml:"optimal_checkpoint_id,omitempty"`

	VenuesToSkip     VenueSet `json:"venues_to_skip" yaml:"venues_to_skip"`
	VenuesToResume   VenueSet `json:"venues_to_resume" yaml:"venues_to_resume"`
	VenuesToRestart  VenueSet `json:"venues_to_restart" yaml:"venues_to_restart"`
	VenuesToValidate VenueSet `json:"venues_to_validate" yaml:"venues_to_validate"`

	// CorruptedDataToDiscard lists checkpoint ids whose payloads must not
	// be trusted during the resume.
	CorruptedDataToDiscard []string `json:"corrupted_data_to_discard" yaml:"corrupted_data_to_discard"`

	EstimatedRecoveryTime      time.Duration `json:"estimated_recovery_time" yaml:"estimated_recovery_time"`
	EstimatedPapersRecoverable int           `json:"estimated_papers_recoverable" yaml:"estimated_papers_recoverable"`

	// Confidence is in [0,1]; valid checkpoints raise it, missing or
	// corrupted ones lower it.
	Confidence float64  `json:"confidence_score" yaml:"confidence_score"`
	Risks      []string `json:"risks" yaml:"risks"`
}

// ValidationResult grades one checkpoint's trustworthiness for recovery.
type ValidationResult struct {
	CheckpointID string `json:"checkpoint_id" yaml:"checkpoint_id"`

	// IntegrityScore is in [0,1]: decodable 0.3, required fields 0.2,
	// checksum match 0.5.
	IntegrityScore float64 `json:"integrity_score" yaml:"integrity_score"`

	// Passed means the checkpoint is fully intact.
	Passed bool `json:"passed" yaml:"passed"`

	// UsableForRecovery requires an integrity score of at least 0.7.
	UsableForRecovery bool `json:"usable_for_recovery" yaml:"usable_for_recovery"`

	Issues []string `json:"issues,omitempty" yaml:"issues,omitempty"`
}

// FileStatus classifies one stored file during an integrity sweep.
type FileStatus string

const (
	FileValid     FileStatus = "valid"
	FileCorrupted FileStatus = "corrupted"
	FileMissing   FileStatus = "missing"
	FilePartial   FileStatus = "partial"
)

// FileCheck is the integrity verdict for one stored file.
type FileCheck struct {
	Path            string     `json:"path" yaml:"path"`
	Status          FileStatus `json:"status" yaml:"status"`
	SuggestedAction string     `json:"suggested_action" yaml:"suggested_action"`
}

// ConsistencyCheck is one state-consistency validation run during resume.
type ConsistencyCheck struct {
	Name           string  `json:"name" yaml:"name"`
	Passed         bool    `json:"passed" yaml:"passed"`
	Confidence     float64 `json:"confidence" yaml:"confidence"`
	Detail         string  `json:"detail,omitempty" yaml:"detail,omitempty"`
	Recommendation string  `json:"recommendation,omitempty" yaml:"recommendation,omitempty"`
}

// SessionResumeResult reports what a resume restored and whether the
// session is safe to continue.
type SessionResumeResult struct {
	SessionID              string `json:"session_id" yaml:"session_id"`
	RestoredFromCheckpoint string `json:"restored_from_checkpoint,omitempty" yaml:"restored_from_checkpoint,omitempty"`

	RestoredCompleted  VenueSet `json:"restored_completed" yaml:"restored_completed"`
	RestoredInProgress VenueSet `json:"restored_in_progress" yaml:"restored_in_progress"`
	RestoredFailed     VenueSet `json:"restored_failed" yaml:"restored_failed"`

	ConsistencyChecks    []ConsistencyCheck `json:"consistency_checks" yaml:"consistency_checks"`
	ConsistencyValidated bool               `json:"consistency_validated" yaml:"consistency_validated"`

	// ReadyForContinuation is true only when the resume saw no errors and
	// every consistency check passed.
	ReadyForContinuation bool `json:"ready_for_continuation" yaml:"ready_for_continuation"`

	Warnings  []string      `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	ResumedAt time.Time     `json:"resumed_at" yaml:"resumed_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}

// QualityReport is the verdict of a collection quality check over one
// venue/year batch of papers.
type QualityReport struct {
	Passed bool     `json:"passed" yaml:"passed"`
	Issues []string `json:"issues,omitempty" yaml:"issues,omitempty"`
}
