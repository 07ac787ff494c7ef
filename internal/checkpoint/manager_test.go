// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/paper-census/internal/state"
	"github.com/pdiddy/paper-census/pkg/types"
)

// --- test helpers ---

func testManagerWithConfig(t *testing.T, cfg types.StorageConfig) (*Manager, *state.Store) {
	t.Helper()
	store, err := state.NewStore(cfg, state.NewSessionLockTable(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return NewManager(store, cfg, zap.NewNop()), store
}

func testManager(t *testing.T) (*Manager, *state.Store) {
	t.Helper()
	return testManagerWithConfig(t, types.DefaultStorageConfig(t.TempDir()))
}

func newSession(t *testing.T, store *state.Store, id string) *types.CollectionSession {
	t.Helper()
	sess, err := types.NewCollectionSession(id, []types.VenueConfig{
		{Name: "ICML", Years: []int{2023}, MaxPapersPerYear: 100, Priority: 1},
		{Name: "NeurIPS", Years: []int{2023}, MaxPapersPerYear: 100, Priority: 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.CreateSession(sess); err != nil {
		t.Fatal(err)
	}
	return sess
}

func corruptOnDisk(t *testing.T, store *state.Store, sessionID, checkpointID string) {
	t.Helper()
	path := filepath.Join(store.CheckpointsDir(sessionID), checkpointID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	raw["total_papers"] = 12345
	tampered, err := json.Marshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, tampered, 0o644); err != nil {
		t.Fatal(err)
	}
}

var (
	icml    = types.VenueKey{Venue: "ICML", Year: 2023}
	neurips = types.VenueKey{Venue: "NeurIPS", Year: 2023}
)

// --- transitions ---

func TestCreateSessionStarted(t *testing.T) {
	mgr, store := testManager(t)
	sess := newSession(t, store, "sess-1")

	cp, err := mgr.CreateSessionStarted(sess, nil, nil)
	if err != nil {
		t.Fatalf("CreateSessionStarted: %v", err)
	}
	if cp.Type != types.CheckpointSessionStarted {
		t.Errorf("type = %q", cp.Type)
	}
	if cp.Completed.Len() != 0 || cp.InProgress.Len() != 0 || cp.Failed.Len() != 0 {
		t.Error("fresh session checkpoint should have empty progress sets")
	}
	if sess.CheckpointCount != 1 {
		t.Errorf("CheckpointCount = %d, want 1", sess.CheckpointCount)
	}
	if sess.LastCheckpointID != cp.ID {
		t.Errorf("LastCheckpointID = %q, want %q", sess.LastCheckpointID, cp.ID)
	}
	if sess.NotStarted().Len() != 2 {
		t.Errorf("not started = %d, want 2", sess.NotStarted().Len())
	}

	loaded, err := store.LoadCheckpoint("sess-1", cp.ID)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if loaded.ValidationStatus != types.ValidationValid {
		t.Errorf("persisted checkpoint status = %q", loaded.ValidationStatus)
	}
}

func TestVenueLifecycle(t *testing.T) {
	mgr, store := testManager(t)
	sess := newSession(t, store, "sess-1")

	if _, err := mgr.CreateSessionStarted(sess, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := mgr.MarkVenueInProgress(sess, icml); err != nil {
		t.Fatalf("MarkVenueInProgress: %v", err)
	}
	if !sess.InProgress.Has(icml) {
		t.Fatal("pair not in progress after mark")
	}

	if _, err := mgr.CreateAPICallCompleted(sess, icml, 20, nil, nil); err != nil {
		t.Fatalf("CreateAPICallCompleted: %v", err)
	}
	if !sess.InProgress.Has(icml) {
		t.Error("api-call checkpoint must not complete the pair")
	}
	if got := sess.PaperCounts.Get(icml); got != 20 {
		t.Errorf("running count = %d, want 20", got)
	}

	cp, err := mgr.CreateVenueCompleted(sess, icml, 42, nil, nil)
	if err != nil {
		t.Fatalf("CreateVenueCompleted: %v", err)
	}
	if !sess.Completed.Has(icml) || sess.InProgress.Has(icml) {
		t.Error("pair did not move in-progress -> completed")
	}
	if got := sess.PaperCounts.Get(icml); got != 42 {
		t.Errorf("final count = %d, want 42", got)
	}
	if cp.TotalPapers != 42 {
		t.Errorf("checkpoint TotalPapers = %d, want 42", cp.TotalPapers)
	}
	if err := sess.CheckPartition(); err != nil {
		t.Errorf("partition violated after lifecycle: %v", err)
	}

	// Status on disk reflects the transition.
	loaded, err := store.LoadSession("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.Completed.Has(icml) {
		t.Error("persisted status missing completion")
	}
	if loaded.CheckpointCount != 3 {
		t.Errorf("persisted CheckpointCount = %d, want 3", loaded.CheckpointCount)
	}
}

func TestMarkVenueInProgressRejectsCompleted(t *testing.T) {
	mgr, store := testManager(t)
	sess := newSession(t, store, "sess-1")
	if err := mgr.MarkVenueInProgress(sess, icml); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.CreateVenueCompleted(sess, icml, 10, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := mgr.MarkVenueInProgress(sess, icml); err == nil {
		t.Error("completed pair accepted for in-progress")
	}
}

func TestMarkVenueInProgressClearsFailure(t *testing.T) {
	mgr, store := testManager(t)
	sess := newSession(t, store, "sess-1")
	if err := mgr.MarkVenueInProgress(sess, icml); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.CreateVenueFailed(sess, icml, errors.New("http 503"), nil, nil); err != nil {
		t.Fatal(err)
	}
	if !sess.Failed.Has(icml) {
		t.Fatal("pair not failed")
	}
	if sess.FailureMessages[icml.String()] == "" {
		t.Fatal("failure message not recorded")
	}

	if err := mgr.MarkVenueInProgress(sess, icml); err != nil {
		t.Fatalf("restarting failed pair: %v", err)
	}
	if sess.Failed.Has(icml) {
		t.Error("restarted pair still in failed set")
	}
	if _, ok := sess.FailureMessages[icml.String()]; ok {
		t.Error("stale failure message kept after restart")
	}
}

func TestCreateVenueFailedRecordsContext(t *testing.T) {
	mgr, store := testManager(t)
	sess := newSession(t, store, "sess-1")
	if err := mgr.MarkVenueInProgress(sess, icml); err != nil {
		t.Fatal(err)
	}

	cp, err := mgr.CreateVenueFailed(sess, icml, errors.New("connection reset"), nil, nil)
	if err != nil {
		t.Fatalf("CreateVenueFailed: %v", err)
	}
	if cp.Type != types.CheckpointErrorOccurred {
		t.Errorf("type = %q", cp.Type)
	}
	if cp.ErrorContext == nil || cp.ErrorContext.Venue != "ICML" || cp.ErrorContext.Year != 2023 {
		t.Errorf("error context = %+v", cp.ErrorContext)
	}
	if sess.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", sess.ErrorCount)
	}
	if got := sess.FailureMessages[icml.String()]; got != "connection reset" {
		t.Errorf("failure message = %q", got)
	}
}

func TestFinishSession(t *testing.T) {
	mgr, store := testManager(t)
	sess := newSession(t, store, "sess-1")

	if err := mgr.MarkVenueInProgress(sess, icml); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.CreateVenueCompleted(sess, icml, 42, nil, nil); err != nil {
		t.Fatal(err)
	}

	cp, err := mgr.FinishSession(sess, types.SessionCompleted, nil, nil)
	if err != nil {
		t.Fatalf("FinishSession: %v", err)
	}
	if cp.Type != types.CheckpointBatchCompleted {
		t.Errorf("type = %q", cp.Type)
	}
	if sess.Status != types.SessionCompleted {
		t.Errorf("status = %q, want completed", sess.Status)
	}

	loaded, err := store.LoadSession("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Status != types.SessionCompleted {
		t.Errorf("persisted status = %q, want completed", loaded.Status)
	}

	if _, err := mgr.FinishSession(sess, types.SessionStatus("warp"), nil, nil); err == nil {
		t.Error("invalid status accepted")
	}
	if sess.Status != types.SessionCompleted {
		t.Errorf("failed finish mutated status to %q", sess.Status)
	}
}

func TestCreateRejectsPartitionViolation(t *testing.T) {
	mgr, store := testManager(t)
	sess := newSession(t, store, "sess-1")

	snap := types.ProgressSnapshot{
		Completed:  types.NewVenueSet(icml),
		InProgress: types.NewVenueSet(icml), // same pair twice
		Failed:     types.NewVenueSet(),
	}
	before := sess.CheckpointCount
	if _, err := mgr.Create(sess, types.CheckpointBatchCompleted, snap, "bad", nil, nil, nil); err == nil {
		t.Fatal("partition-violating snapshot accepted")
	}
	if sess.CheckpointCount != before {
		t.Error("failed create mutated the session")
	}
	if sess.Completed.Len() != 0 {
		t.Error("failed create applied its snapshot")
	}
}

// --- pruning ---

func TestPruningKeepsRetentionBuffer(t *testing.T) {
	cfg := types.DefaultStorageConfig(t.TempDir())
	cfg.MaxCheckpointsPerSession = 5
	cfg.RetentionBuffer = 3
	mgr, store := testManagerWithConfig(t, cfg)
	sess := newSession(t, store, "sess-1")

	for i := 0; i < 5+20; i++ {
		op := fmt.Sprintf("batch %d", i)
		if _, err := mgr.CreateBatchCompleted(sess, op, nil, nil); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	ids, err := store.ListCheckpoints("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 {
		t.Fatalf("on disk = %d checkpoints, want exactly the retention buffer (3)", len(ids))
	}
	if sess.CheckpointCount != 25 {
		t.Errorf("cumulative counter = %d, want 25", sess.CheckpointCount)
	}

	// The survivors are the newest ones.
	latest, err := store.LoadLatestCheckpoint("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if latest.LastOperation != "batch 24" {
		t.Errorf("latest = %q, want batch 24", latest.LastOperation)
	}
}

func TestNoPruningBelowMax(t *testing.T) {
	cfg := types.DefaultStorageConfig(t.TempDir())
	cfg.MaxCheckpointsPerSession = 10
	cfg.RetentionBuffer = 2
	mgr, store := testManagerWithConfig(t, cfg)
	sess := newSession(t, store, "sess-1")

	for i := 0; i < 10; i++ {
		if _, err := mgr.CreateBatchCompleted(sess, fmt.Sprintf("batch %d", i), nil, nil); err != nil {
			t.Fatal(err)
		}
	}
	ids, err := store.ListCheckpoints("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 10 {
		t.Errorf("on disk = %d, want all 10 while at the max", len(ids))
	}
}

// --- recovery selection ---

func TestFindBestRecoveryCheckpoint(t *testing.T) {
	mgr, store := testManager(t)
	sess := newSession(t, store, "sess-1")

	if _, err := mgr.CreateSessionStarted(sess, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := mgr.MarkVenueInProgress(sess, icml); err != nil {
		t.Fatal(err)
	}
	good, err := mgr.CreateVenueCompleted(sess, icml, 42, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	best, err := mgr.FindBestRecoveryCheckpoint("sess-1")
	if err != nil {
		t.Fatalf("FindBestRecoveryCheckpoint: %v", err)
	}
	if best.ID != good.ID {
		t.Errorf("best = %s, want newest valid %s", best.ID, good.ID)
	}
	if best.ValidationStatus != types.ValidationValid {
		t.Errorf("best status = %q", best.ValidationStatus)
	}
}

func TestFindBestFallsBackPastCorrupted(t *testing.T) {
	mgr, store := testManager(t)
	sess := newSession(t, store, "sess-1")

	older, err := mgr.CreateSessionStarted(sess, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.MarkVenueInProgress(sess, icml); err != nil {
		t.Fatal(err)
	}
	newest, err := mgr.CreateVenueCompleted(sess, icml, 42, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	corruptOnDisk(t, store, "sess-1", newest.ID)

	best, err := mgr.FindBestRecoveryCheckpoint("sess-1")
	if err != nil {
		t.Fatalf("FindBestRecoveryCheckpoint: %v", err)
	}
	if best.ID != older.ID {
		t.Errorf("best = %s, want fallback to older valid %s", best.ID, older.ID)
	}
}

func TestFindBestNoUsableCheckpoint(t *testing.T) {
	mgr, store := testManager(t)
	sess := newSession(t, store, "sess-1")

	cp, err := mgr.CreateSessionStarted(sess, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	corruptOnDisk(t, store, "sess-1", cp.ID)

	_, err = mgr.FindBestRecoveryCheckpoint("sess-1")
	if !errors.Is(err, ErrNoUsableCheckpoint) {
		t.Errorf("err = %v, want ErrNoUsableCheckpoint", err)
	}
}

// --- summary ---

func TestCheckpointSummary(t *testing.T) {
	mgr, store := testManager(t)
	sess := newSession(t, store, "sess-1")

	if _, err := mgr.CreateSessionStarted(sess, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := mgr.MarkVenueInProgress(sess, icml); err != nil {
		t.Fatal(err)
	}
	completed, err := mgr.CreateVenueCompleted(sess, icml, 42, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	corruptOnDisk(t, store, "sess-1", completed.ID)

	sum, err := mgr.CheckpointSummary("sess-1")
	if err != nil {
		t.Fatalf("CheckpointSummary: %v", err)
	}
	if sum.Total != 2 {
		t.Errorf("Total = %d, want 2", sum.Total)
	}
	if sum.ByType[types.CheckpointSessionStarted] != 1 || sum.ByType[types.CheckpointVenueCompleted] != 1 {
		t.Errorf("ByType = %v", sum.ByType)
	}
	if sum.ByValidity[types.ValidationValid] != 1 || sum.ByValidity[types.ValidationCorrupted] != 1 {
		t.Errorf("ByValidity = %v", sum.ByValidity)
	}
	if !sum.HasRecoveryOptions {
		t.Error("HasRecoveryOptions = false with one valid checkpoint")
	}
	if sum.AverageIntegrity <= 0.5 || sum.AverageIntegrity >= 1.0 {
		t.Errorf("AverageIntegrity = %f, want between 0.5 and 1.0", sum.AverageIntegrity)
	}
	if sum.LatestID != completed.ID {
		t.Errorf("LatestID = %s, want %s", sum.LatestID, completed.ID)
	}
}

// --- timestamps ---

func TestCheckpointTimestampsNonDecreasing(t *testing.T) {
	mgr, store := testManager(t)
	sess := newSession(t, store, "sess-1")

	var prev time.Time
	for i := 0; i < 5; i++ {
		cp, err := mgr.CreateBatchCompleted(sess, fmt.Sprintf("batch %d", i), nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if cp.Timestamp.Before(prev) {
			t.Fatalf("checkpoint %d timestamp went backwards", i)
		}
		prev = cp.Timestamp
	}

	ids, err := store.ListCheckpoints("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 5 {
		t.Fatalf("listed %d, want 5", len(ids))
	}
}
