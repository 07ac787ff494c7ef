// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package state persists collection sessions and their checkpoints to a
// directory-per-session layout:
//
//	sessions/<session_id>/
//	  session_config.json    immutable config snapshot, written once
//	  session_status.json    current session state, rewritten per checkpoint
//	  checkpoints/<id>.json[.gz]
//	  venues/                per-venue artifacts
//	  recovery/              recovery analyses and plans
//
// Every write goes through a write-temp-then-rename sequence, so a reader
// never observes a partially written file under a canonical name.
package state

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/paper-census/pkg/types"
)

const (
	sessionsDirName    = "sessions"
	configFileName     = "session_config.json"
	statusFileName     = "session_status.json"
	checkpointsDirName = "checkpoints"
	venuesDirName      = "venues"
	recoveryDirName    = "recovery"
)

var (
	// ErrSessionNotFound reports that no session with the given id exists.
	ErrSessionNotFound = errors.New("session not found")

	// ErrCheckpointNotFound reports that no checkpoint file exists for the
	// given id, or that an existing file is beyond salvage.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrSessionExists reports an attempt to create a session whose id is
	// already taken.
	ErrSessionExists = errors.New("session already exists")
)

// Store reads and writes session state under a single base directory.
type Store struct {
	cfg    types.StorageConfig
	locks  *SessionLockTable
	logger *zap.Logger
}

// NewStore creates the sessions directory if needed and returns a store.
// A nil lock table gets a private one; a nil logger is replaced with a nop.
func NewStore(cfg types.StorageConfig, locks *SessionLockTable, logger *zap.Logger) (*Store, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("new store: base directory not configured")
	}
	if locks == nil {
		locks = NewSessionLockTable()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Join(cfg.BaseDir, sessionsDirName), 0o755); err != nil {
		return nil, fmt.Errorf("creating sessions directory: %w", err)
	}
	return &Store{cfg: cfg, locks: locks, logger: logger}, nil
}

// SessionDir returns the directory for one session.
func (s *Store) SessionDir(sessionID string) string {
	return filepath.Join(s.cfg.BaseDir, sessionsDirName, sessionID)
}

// CheckpointsDir returns the checkpoint directory for one session.
func (s *Store) CheckpointsDir(sessionID string) string {
	return filepath.Join(s.SessionDir(sessionID), checkpointsDirName)
}

// VenuesDir returns the venue artifact directory for one session.
func (s *Store) VenuesDir(sessionID string) string {
	return filepath.Join(s.SessionDir(sessionID), venuesDirName)
}

// RecoveryDir returns the recovery artifact directory for one session.
func (s *Store) RecoveryDir(sessionID string) string {
	return filepath.Join(s.SessionDir(sessionID), recoveryDirName)
}

// validID rejects ids that are empty or would escape the session tree
// when used as a path element.
func validID(id string) error {
	if id == "" {
		return fmt.Errorf("empty id")
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("id %q contains path separators", id)
	}
	return nil
}

// --- sessions ---

// CreateSession writes the immutable config snapshot and the initial
// status file for a new session. Returns ErrSessionExists when the id is
// already taken.
func (s *Store) CreateSession(sess *types.CollectionSession) error {
	start := time.Now()
	if err := validID(sess.ID); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !sess.Status.Valid() {
		return fmt.Errorf("create session %s: invalid status %q", sess.ID, sess.Status)
	}
	if err := sess.CheckPartition(); err != nil {
		return fmt.Errorf("create session %s: %w", sess.ID, err)
	}

	lock := s.locks.For(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	dir := s.SessionDir(sess.ID)
	configPath := filepath.Join(dir, configFileName)
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("create session %s: %w", sess.ID, ErrSessionExists)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("create session %s: %w", sess.ID, err)
	}

	for _, sub := range []string{checkpointsDirName, venuesDirName, recoveryDirName} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("create session %s: %w", sess.ID, err)
		}
	}

	if err := s.writeJSONAtomic(configPath, sess, false); err != nil {
		return fmt.Errorf("create session %s: writing config: %w", sess.ID, err)
	}
	sess.LastActivityAt = time.Now().UTC()
	if err := s.writeJSONAtomic(filepath.Join(dir, statusFileName), sess, false); err != nil {
		return fmt.Errorf("create session %s: writing status: %w", sess.ID, err)
	}

	if elapsed := time.Since(start); elapsed > s.cfg.CreateSoftBudget && s.cfg.CreateSoftBudget > 0 {
		s.logger.Warn("session creation exceeded soft budget",
			zap.String("session_id", sess.ID),
			zap.Duration("elapsed", elapsed),
			zap.Duration("budget", s.cfg.CreateSoftBudget))
	}
	return nil
}

// SaveSession rewrites the status file for an existing session and bumps
// its last-activity timestamp.
func (s *Store) SaveSession(sess *types.CollectionSession) error {
	if err := validID(sess.ID); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if !sess.Status.Valid() {
		return fmt.Errorf("save session %s: invalid status %q", sess.ID, sess.Status)
	}
	if err := sess.CheckPartition(); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}

	lock := s.locks.For(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	dir := s.SessionDir(sess.ID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("save session %s: %w", sess.ID, ErrSessionNotFound)
	}

	sess.LastActivityAt = time.Now().UTC()
	if err := s.writeJSONAtomic(filepath.Join(dir, statusFileName), sess, false); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

// LoadSession reads the current status of one session.
func (s *Store) LoadSession(sessionID string) (*types.CollectionSession, error) {
	if err := validID(sessionID); err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	data, err := os.ReadFile(filepath.Join(s.SessionDir(sessionID), statusFileName))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("load session %s: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	var sess types.CollectionSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("load session %s: decoding status: %w", sessionID, err)
	}
	return &sess, nil
}

// LoadSessionConfig reads the immutable config snapshot written at
// creation time.
func (s *Store) LoadSessionConfig(sessionID string) (*types.CollectionSession, error) {
	if err := validID(sessionID); err != nil {
		return nil, fmt.Errorf("load session config: %w", err)
	}
	data, err := os.ReadFile(filepath.Join(s.SessionDir(sessionID), configFileName))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("load session config %s: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load session config %s: %w", sessionID, err)
	}
	var sess types.CollectionSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("load session config %s: decoding: %w", sessionID, err)
	}
	return &sess, nil
}

// SessionSummary is one row of a session listing.
type SessionSummary struct {
	ID              string              `json:"session_id"`
	Status          types.SessionStatus `json:"status"`
	TargetCount     int                 `json:"target_count"`
	CompletedCount  int                 `json:"completed_count"`
	FailedCount     int                 `json:"failed_count"`
	TotalPapers     int                 `json:"total_papers"`
	CheckpointCount int                 `json:"checkpoint_count"`
	CreatedAt       time.Time           `json:"created_at"`
	LastActivityAt  time.Time           `json:"last_activity_at"`
}

// ListSessions summarizes every session under the base directory, newest
// activity first. Sessions with unreadable status files are included with
// only their id so an operator can still find and repair them.
func (s *Store) ListSessions() ([]SessionSummary, error) {
	entries, err := os.ReadDir(filepath.Join(s.cfg.BaseDir, sessionsDirName))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var out []SessionSummary
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sess, err := s.LoadSession(e.Name())
		if err != nil {
			s.logger.Warn("skipping unreadable session status",
				zap.String("session_id", e.Name()), zap.Error(err))
			out = append(out, SessionSummary{ID: e.Name()})
			continue
		}
		out = append(out, SessionSummary{
			ID:              sess.ID,
			Status:          sess.Status,
			TargetCount:     len(sess.Targets()),
			CompletedCount:  sess.Completed.Len(),
			FailedCount:     sess.Failed.Len(),
			TotalPapers:     sess.TotalPapers(),
			CheckpointCount: sess.CheckpointCount,
			CreatedAt:       sess.CreatedAt,
			LastActivityAt:  sess.LastActivityAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out, nil
}

// --- checkpoints ---

// SaveCheckpoint persists one checkpoint. Checkpoints failing their own
// integrity check are rejected and nothing is written. Files larger than
// the compression threshold are gzip-compressed.
func (s *Store) SaveCheckpoint(cp *types.CheckpointData) error {
	start := time.Now()
	if err := validID(cp.SessionID); err != nil {
		return fmt.Errorf("save checkpoint: session: %w", err)
	}
	if err := validID(cp.ID); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if !cp.HasRequiredFields() {
		return fmt.Errorf("save checkpoint %s: missing required fields", cp.ID)
	}
	if !cp.ValidateIntegrity() {
		return fmt.Errorf("save checkpoint %s: integrity check failed, not persisted", cp.ID)
	}

	lock := s.locks.For(cp.SessionID)
	lock.Lock()
	defer lock.Unlock()

	dir := s.CheckpointsDir(cp.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.ID, err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("save checkpoint %s: encoding: %w", cp.ID, err)
	}

	path := filepath.Join(dir, cp.ID+".json")
	compress := s.cfg.CompressionThreshold > 0 && len(data) > s.cfg.CompressionThreshold
	if compress {
		path += ".gz"
	}
	err = writeFileAtomic(path, func(w io.Writer) error {
		if !compress {
			_, werr := w.Write(data)
			return werr
		}
		gz := gzip.NewWriter(w)
		if _, werr := gz.Write(data); werr != nil {
			gz.Close()
			return werr
		}
		return gz.Close()
	})
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.ID, err)
	}

	if elapsed := time.Since(start); elapsed > s.cfg.SaveSoftBudget && s.cfg.SaveSoftBudget > 0 {
		s.logger.Warn("checkpoint save exceeded soft budget",
			zap.String("checkpoint_id", cp.ID),
			zap.Duration("elapsed", elapsed),
			zap.Duration("budget", s.cfg.SaveSoftBudget))
	}
	return nil
}

// LoadCheckpoint reads one checkpoint and assigns its validation status:
// valid when the recomputed checksum matches, corrupted when it does not,
// incomplete when required fields are missing. A file that cannot be
// decoded at all is returned as an incomplete shell carrying just the ids,
// so callers can report it without trusting its payload. Only a missing
// file yields ErrCheckpointNotFound.
func (s *Store) LoadCheckpoint(sessionID, checkpointID string) (*types.CheckpointData, error) {
	start := time.Now()
	cp, decodable, err := s.loadCheckpointRaw(sessionID, checkpointID)
	if err != nil {
		return nil, err
	}

	switch {
	case !decodable, !cp.HasRequiredFields():
		cp.ValidationStatus = types.ValidationIncomplete
	case !cp.ValidateIntegrity():
		cp.ValidationStatus = types.ValidationCorrupted
	default:
		cp.ValidationStatus = types.ValidationValid
	}

	if elapsed := time.Since(start); elapsed > s.cfg.LoadSoftBudget && s.cfg.LoadSoftBudget > 0 {
		s.logger.Warn("checkpoint load exceeded soft budget",
			zap.String("checkpoint_id", checkpointID),
			zap.Duration("elapsed", elapsed),
			zap.Duration("budget", s.cfg.LoadSoftBudget))
	}
	return cp, nil
}

// loadCheckpointRaw reads and decodes one checkpoint file. decodable
// reports whether the file held a parseable checkpoint; when it did not,
// the returned record is a shell carrying just the ids.
func (s *Store) loadCheckpointRaw(sessionID, checkpointID string) (*types.CheckpointData, bool, error) {
	if err := validID(sessionID); err != nil {
		return nil, false, fmt.Errorf("load checkpoint: session: %w", err)
	}
	if err := validID(checkpointID); err != nil {
		return nil, false, fmt.Errorf("load checkpoint: %w", err)
	}

	data, err := s.readCheckpointBytes(sessionID, checkpointID)
	if err != nil {
		return nil, false, err
	}

	cp := &types.CheckpointData{}
	if jerr := json.Unmarshal(data, cp); jerr != nil {
		s.logger.Warn("checkpoint file undecodable",
			zap.String("session_id", sessionID),
			zap.String("checkpoint_id", checkpointID),
			zap.Error(jerr))
		return &types.CheckpointData{ID: checkpointID, SessionID: sessionID}, false, nil
	}
	return cp, true, nil
}

// readCheckpointBytes finds the plain or compressed file for one
// checkpoint and returns its decompressed contents.
func (s *Store) readCheckpointBytes(sessionID, checkpointID string) ([]byte, error) {
	dir := s.CheckpointsDir(sessionID)
	plain := filepath.Join(dir, checkpointID+".json")
	if data, err := os.ReadFile(plain); err == nil {
		return data, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("load checkpoint %s: %w", checkpointID, err)
	}

	f, err := os.Open(plain + ".gz")
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("load checkpoint %s: %w", checkpointID, ErrCheckpointNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", checkpointID, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		// A truncated gzip header reads as an empty payload; the caller
		// will classify the checkpoint as incomplete.
		return nil, nil
	}
	defer gz.Close()
	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, nil
	}
	return data, nil
}

// ListCheckpoints returns the checkpoint ids for one session ordered by
// the timestamp stored inside each file (not file mtime or name order).
// Files whose timestamp cannot be read sort first.
func (s *Store) ListCheckpoints(sessionID string) ([]string, error) {
	if err := validID(sessionID); err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	dir := s.CheckpointsDir(sessionID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("list checkpoints %s: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("list checkpoints %s: %w", sessionID, err)
	}

	type stamped struct {
		id string
		ts time.Time
	}
	var found []stamped
	for _, e := range entries {
		id, ok := checkpointIDFromFilename(e.Name())
		if !ok {
			continue
		}
		var ts time.Time
		if cp, lerr := s.LoadCheckpoint(sessionID, id); lerr == nil {
			ts = cp.Timestamp
		}
		found = append(found, stamped{id: id, ts: ts})
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].ts.Before(found[j].ts) })

	ids := make([]string, len(found))
	for i, f := range found {
		ids[i] = f.id
	}
	return ids, nil
}

// checkpointIDFromFilename strips the .json or .json.gz suffix.
func checkpointIDFromFilename(name string) (string, bool) {
	if strings.HasSuffix(name, ".json.gz") {
		return strings.TrimSuffix(name, ".json.gz"), true
	}
	if strings.HasSuffix(name, ".json") {
		return strings.TrimSuffix(name, ".json"), true
	}
	return "", false
}

// LoadLatestCheckpoint returns the checkpoint with the greatest timestamp
// for one session, or ErrCheckpointNotFound when the session has none.
func (s *Store) LoadLatestCheckpoint(sessionID string) (*types.CheckpointData, error) {
	ids, err := s.ListCheckpoints(sessionID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("latest checkpoint %s: %w", sessionID, ErrCheckpointNotFound)
	}
	return s.LoadCheckpoint(sessionID, ids[len(ids)-1])
}

// DeleteCheckpoint removes a checkpoint's file (plain or compressed).
func (s *Store) DeleteCheckpoint(sessionID, checkpointID string) error {
	if err := validID(sessionID); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	if err := validID(checkpointID); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}

	lock := s.locks.For(sessionID)
	lock.Lock()
	defer lock.Unlock()

	dir := s.CheckpointsDir(sessionID)
	removed := false
	for _, path := range []string{
		filepath.Join(dir, checkpointID+".json"),
		filepath.Join(dir, checkpointID+".json.gz"),
	} {
		err := os.Remove(path)
		if err == nil {
			removed = true
			continue
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("delete checkpoint %s: %w", checkpointID, err)
		}
	}
	if !removed {
		return fmt.Errorf("delete checkpoint %s: %w", checkpointID, ErrCheckpointNotFound)
	}
	return nil
}

// --- validation ---

// ValidateCheckpoints grades every checkpoint of a session. The integrity
// score sums three independent checks: the file decodes (0.3), required
// fields are present (0.2), the checksum matches (0.5). A checkpoint is
// usable for recovery at a score of at least 0.7.
func (s *Store) ValidateCheckpoints(sessionID string) ([]types.ValidationResult, error) {
	ids, err := s.ListCheckpoints(sessionID)
	if err != nil {
		return nil, err
	}
	results := make([]types.ValidationResult, 0, len(ids))
	for _, id := range ids {
		cp, decodable, lerr := s.loadCheckpointRaw(sessionID, id)
		if lerr != nil {
			results = append(results, types.ValidationResult{
				CheckpointID: id,
				Issues:       []string{lerr.Error()},
			})
			continue
		}

		res := types.ValidationResult{CheckpointID: id}
		if decodable {
			res.IntegrityScore += 0.3
		} else {
			res.Issues = append(res.Issues, "file does not decode as a checkpoint")
		}
		if decodable && cp.HasRequiredFields() {
			res.IntegrityScore += 0.2
		} else {
			res.Issues = append(res.Issues, "required fields missing")
		}
		if decodable && cp.ValidateIntegrity() {
			res.IntegrityScore += 0.5
		} else {
			res.Issues = append(res.Issues, "checksum mismatch")
		}
		res.Passed = res.IntegrityScore > 0.999
		res.UsableForRecovery = res.IntegrityScore >= 0.7
		results = append(results, res)
	}
	return results, nil
}

// CheckDataIntegrity sweeps every file of one session and reports a
// per-file verdict with a suggested recovery action.
func (s *Store) CheckDataIntegrity(sessionID string) ([]types.FileCheck, error) {
	if err := validID(sessionID); err != nil {
		return nil, fmt.Errorf("check data integrity: %w", err)
	}
	dir := s.SessionDir(sessionID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []types.FileCheck{{
			Path:            dir,
			Status:          types.FileMissing,
			SuggestedAction: "session directory missing; recreate the session or restore from backup",
		}}, nil
	}

	var checks []types.FileCheck

	checks = append(checks, s.checkSessionFile(filepath.Join(dir, configFileName),
		"recreate the session config from the original venue plan"))
	checks = append(checks, s.checkSessionFile(filepath.Join(dir, statusFileName),
		"restore status from the best valid checkpoint"))

	cpDir := s.CheckpointsDir(sessionID)
	entries, err := os.ReadDir(cpDir)
	if os.IsNotExist(err) {
		checks = append(checks, types.FileCheck{
			Path:            cpDir,
			Status:          types.FileMissing,
			SuggestedAction: "recreate the checkpoints directory; prior checkpoints are lost",
		})
		return checks, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check data integrity %s: %w", sessionID, err)
	}
	for _, e := range entries {
		id, ok := checkpointIDFromFilename(e.Name())
		if !ok {
			continue
		}
		path := filepath.Join(cpDir, e.Name())
		cp, lerr := s.LoadCheckpoint(sessionID, id)
		if lerr != nil {
			checks = append(checks, types.FileCheck{
				Path:            path,
				Status:          types.FileMissing,
				SuggestedAction: "checkpoint disappeared during the sweep; re-run the integrity check",
			})
			continue
		}
		switch cp.ValidationStatus {
		case types.ValidationValid:
			checks = append(checks, types.FileCheck{Path: path, Status: types.FileValid})
		case types.ValidationCorrupted:
			checks = append(checks, types.FileCheck{
				Path:            path,
				Status:          types.FileCorrupted,
				SuggestedAction: "exclude this checkpoint from recovery and discard it",
			})
		case types.ValidationIncomplete:
			checks = append(checks, types.FileCheck{
				Path:            path,
				Status:          types.FilePartial,
				SuggestedAction: "discard the partial checkpoint; an older checkpoint will be used",
			})
		}
	}
	return checks, nil
}

func (s *Store) checkSessionFile(path, action string) types.FileCheck {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return types.FileCheck{Path: path, Status: types.FileMissing, SuggestedAction: action}
	}
	if err != nil {
		return types.FileCheck{Path: path, Status: types.FilePartial, SuggestedAction: action}
	}
	var sess types.CollectionSession
	if jerr := json.Unmarshal(data, &sess); jerr != nil || sess.ID == "" {
		return types.FileCheck{Path: path, Status: types.FileCorrupted, SuggestedAction: action}
	}
	return types.FileCheck{Path: path, Status: types.FileValid}
}

// --- recovery artifacts ---

// SaveRecoveryArtifact writes a JSON artifact (analysis, plan, resume
// result) into the session's recovery directory.
func (s *Store) SaveRecoveryArtifact(sessionID, name string, v interface{}) error {
	if err := validID(sessionID); err != nil {
		return fmt.Errorf("save recovery artifact: %w", err)
	}
	if err := validID(name); err != nil {
		return fmt.Errorf("save recovery artifact: name: %w", err)
	}
	dir := s.RecoveryDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save recovery artifact %s: %w", name, err)
	}
	if err := s.writeJSONAtomic(filepath.Join(dir, name+".json"), v, true); err != nil {
		return fmt.Errorf("save recovery artifact %s: %w", name, err)
	}
	return nil
}

// --- venue artifacts ---

// SaveVenueArtifact writes a JSON artifact for one venue/year pair into
// the session's venues directory.
func (s *Store) SaveVenueArtifact(sessionID string, key types.VenueKey, v interface{}) error {
	if err := validID(sessionID); err != nil {
		return fmt.Errorf("save venue artifact: %w", err)
	}
	dir := s.VenuesDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save venue artifact %s: %w", key, err)
	}
	if err := s.writeJSONAtomic(filepath.Join(dir, venueArtifactName(key)), v, true); err != nil {
		return fmt.Errorf("save venue artifact %s: %w", key, err)
	}
	return nil
}

// venueArtifactName maps a pair to a safe file name (e.g. "ICML_2023.json").
// Venue names may contain spaces or path separators.
func venueArtifactName(key types.VenueKey) string {
	venue := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '.':
			return r
		default:
			return '_'
		}
	}, key.Venue)
	return fmt.Sprintf("%s_%d.json", venue, key.Year)
}

// --- write helpers ---

// writeJSONAtomic encodes v and renames it into place. indent selects
// pretty printing for artifacts meant to be read by people.
func (s *Store) writeJSONAtomic(path string, v interface{}, indent bool) error {
	var (
		data []byte
		err  error
	)
	if indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("encoding: %w", err)
	}
	return writeFileAtomic(path, func(w io.Writer) error {
		_, werr := w.Write(data)
		return werr
	})
}

// writeFileAtomic writes through a temp file in the destination directory
// and renames it over the canonical name, so concurrent readers see either
// the old contents or the new, never a partial write.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".census-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	writeErr := write(tmpFile)
	closeErr := tmpFile.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
