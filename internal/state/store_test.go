// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pdiddy/paper-census/pkg/types"
)

// --- test helpers ---

func testStore(t *testing.T) *Store {
	t.Helper()
	cfg := types.DefaultStorageConfig(t.TempDir())
	store, err := NewStore(cfg, NewSessionLockTable(), zap.NewNop())
	require.NoError(t, err)
	return store
}

func testSession(t *testing.T, id string) *types.CollectionSession {
	t.Helper()
	sess, err := types.NewCollectionSession(id, []types.VenueConfig{
		{Name: "ICML", Years: []int{2022, 2023}, MaxPapersPerYear: 100, Priority: 1},
		{Name: "NeurIPS", Years: []int{2023}, MaxPapersPerYear: 100, Priority: 2},
	})
	require.NoError(t, err)
	return sess
}

// testCheckpoint builds a persisted-ready checkpoint. A non-zero ts
// overrides the construction timestamp (with the checksum recomputed) so
// tests can control ordering.
func testCheckpoint(t *testing.T, sessionID string, ts time.Time) *types.CheckpointData {
	t.Helper()
	counts := make(types.PaperCounts)
	counts.Set(types.VenueKey{Venue: "ICML", Year: 2023}, 42)
	cp, err := types.NewCheckpoint(sessionID, types.CheckpointVenueCompleted, types.ProgressSnapshot{
		Completed:   types.NewVenueSet(types.VenueKey{Venue: "ICML", Year: 2023}),
		PaperCounts: counts,
	}, "collected ICML:2023", nil, nil, nil)
	require.NoError(t, err)
	if !ts.IsZero() {
		cp.Timestamp = ts
		sum, cerr := cp.ComputeChecksum()
		require.NoError(t, cerr)
		cp.Checksum = sum
	}
	return cp
}

// corruptCheckpointFile flips one payload field in the stored JSON without
// updating the checksum.
func corruptCheckpointFile(t *testing.T, store *Store, sessionID, checkpointID string) {
	t.Helper()
	path := filepath.Join(store.CheckpointsDir(sessionID), checkpointID+".json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	raw["total_papers"] = 9999
	tampered, err := json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, tampered, 0o644))
}

// --- sessions ---

func TestCreateAndLoadSession(t *testing.T) {
	store := testStore(t)
	sess := testSession(t, "sess-1")

	require.NoError(t, store.CreateSession(sess))

	loaded, err := store.LoadSession("sess-1")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, loaded.ID)
	assert.Equal(t, types.SessionActive, loaded.Status)
	assert.Len(t, loaded.Targets(), 3)

	cfg, err := store.LoadSessionConfig("sess-1")
	require.NoError(t, err)
	assert.Equal(t, sess.Venues, cfg.Venues)

	for _, sub := range []string{"checkpoints", "venues", "recovery"} {
		info, serr := os.Stat(filepath.Join(store.SessionDir("sess-1"), sub))
		require.NoError(t, serr)
		assert.True(t, info.IsDir())
	}
}

func TestCreateSessionDuplicateID(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.CreateSession(testSession(t, "sess-1")))

	err := store.CreateSession(testSession(t, "sess-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionExists)
}

func TestLoadSessionNotFound(t *testing.T) {
	store := testStore(t)
	_, err := store.LoadSession("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSaveSessionUpdatesActivity(t *testing.T) {
	store := testStore(t)
	sess := testSession(t, "sess-1")
	require.NoError(t, store.CreateSession(sess))

	before := sess.LastActivityAt
	time.Sleep(5 * time.Millisecond)
	sess.Completed.Add(types.VenueKey{Venue: "ICML", Year: 2023})
	require.NoError(t, store.SaveSession(sess))
	assert.True(t, sess.LastActivityAt.After(before), "LastActivityAt not bumped")

	loaded, err := store.LoadSession("sess-1")
	require.NoError(t, err)
	assert.True(t, loaded.Completed.Has(types.VenueKey{Venue: "ICML", Year: 2023}))
}

func TestSaveSessionUnknownID(t *testing.T) {
	store := testStore(t)
	err := store.SaveSession(testSession(t, "ghost"))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSaveSessionRejectsPartitionViolation(t *testing.T) {
	store := testStore(t)
	sess := testSession(t, "sess-1")
	require.NoError(t, store.CreateSession(sess))

	k := types.VenueKey{Venue: "ICML", Year: 2023}
	sess.Completed.Add(k)
	sess.InProgress.Add(k)
	err := store.SaveSession(sess)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "partition")
}

func TestValidIDRejectsPathEscapes(t *testing.T) {
	store := testStore(t)
	for _, id := range []string{"", "a/b", `a\b`, ".."} {
		_, err := store.LoadSession(id)
		assert.Error(t, err, "id %q accepted", id)
	}
}

func TestListSessions(t *testing.T) {
	store := testStore(t)
	a := testSession(t, "sess-a")
	require.NoError(t, store.CreateSession(a))
	time.Sleep(5 * time.Millisecond)
	b := testSession(t, "sess-b")
	require.NoError(t, store.CreateSession(b))

	// A session with an unreadable status file still shows up by id.
	brokenDir := store.SessionDir("sess-broken")
	require.NoError(t, os.MkdirAll(brokenDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(brokenDir, statusFileName), []byte("{nope"), 0o644))

	list, err := store.ListSessions()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "sess-b", list[0].ID, "newest activity first")
	assert.Equal(t, "sess-a", list[1].ID)
	assert.Equal(t, "sess-broken", list[2].ID)
	assert.Empty(t, list[2].Status)
}

// --- checkpoints ---

func TestSaveAndLoadCheckpoint(t *testing.T) {
	store := testStore(t)
	sess := testSession(t, "sess-1")
	require.NoError(t, store.CreateSession(sess))

	cp := testCheckpoint(t, "sess-1", time.Time{})
	require.NoError(t, store.SaveCheckpoint(cp))

	loaded, err := store.LoadCheckpoint("sess-1", cp.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ValidationValid, loaded.ValidationStatus)
	assert.Equal(t, cp.Checksum, loaded.Checksum)
	assert.Equal(t, 42, loaded.TotalPapers)
	assert.True(t, loaded.Completed.Has(types.VenueKey{Venue: "ICML", Year: 2023}))
}

func TestSaveCheckpointRejectsTampered(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.CreateSession(testSession(t, "sess-1")))

	cp := testCheckpoint(t, "sess-1", time.Time{})
	cp.TotalPapers++ // payload no longer matches the checksum
	err := store.SaveCheckpoint(cp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "integrity")

	ids, err := store.ListCheckpoints("sess-1")
	require.NoError(t, err)
	assert.Empty(t, ids, "rejected checkpoint must not be persisted")
}

func TestLoadCheckpointFlagsCorrupted(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.CreateSession(testSession(t, "sess-1")))

	cp := testCheckpoint(t, "sess-1", time.Time{})
	require.NoError(t, store.SaveCheckpoint(cp))
	corruptCheckpointFile(t, store, "sess-1", cp.ID)

	loaded, err := store.LoadCheckpoint("sess-1", cp.ID)
	require.NoError(t, err, "corrupted checkpoints are returned, not errored")
	assert.Equal(t, types.ValidationCorrupted, loaded.ValidationStatus)
	assert.Equal(t, 9999, loaded.TotalPapers, "payload is returned for inspection")
}

func TestLoadCheckpointUndecodable(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.CreateSession(testSession(t, "sess-1")))

	path := filepath.Join(store.CheckpointsDir("sess-1"), "garbage.json")
	require.NoError(t, os.WriteFile(path, []byte("not json at all"), 0o644))

	loaded, err := store.LoadCheckpoint("sess-1", "garbage")
	require.NoError(t, err)
	assert.Equal(t, types.ValidationIncomplete, loaded.ValidationStatus)
	assert.Equal(t, "garbage", loaded.ID)
	assert.Equal(t, "sess-1", loaded.SessionID)
}

func TestLoadCheckpointNotFound(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.CreateSession(testSession(t, "sess-1")))

	_, err := store.LoadCheckpoint("sess-1", "missing")
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}

func TestSaveCheckpointCompressesLargePayloads(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.CreateSession(testSession(t, "sess-1")))

	cp := testCheckpoint(t, "sess-1", time.Time{})
	cp.LastOperation = strings.Repeat("collected a very long batch; ", 600)
	sum, err := cp.ComputeChecksum()
	require.NoError(t, err)
	cp.Checksum = sum

	require.NoError(t, store.SaveCheckpoint(cp))

	_, err = os.Stat(filepath.Join(store.CheckpointsDir("sess-1"), cp.ID+".json.gz"))
	require.NoError(t, err, "large checkpoint should be gzip-compressed")
	_, err = os.Stat(filepath.Join(store.CheckpointsDir("sess-1"), cp.ID+".json"))
	assert.True(t, os.IsNotExist(err), "plain file must not also exist")

	loaded, err := store.LoadCheckpoint("sess-1", cp.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ValidationValid, loaded.ValidationStatus)
	assert.Equal(t, cp.LastOperation, loaded.LastOperation)
}

func TestListCheckpointsOrderedByTimestamp(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.CreateSession(testSession(t, "sess-1")))

	base := time.Now().UTC().Add(-time.Hour)
	oldest := testCheckpoint(t, "sess-1", base)
	middle := testCheckpoint(t, "sess-1", base.Add(10*time.Minute))
	newest := testCheckpoint(t, "sess-1", base.Add(20*time.Minute))

	// Save out of order; listing must still follow timestamps.
	for _, cp := range []*types.CheckpointData{middle, newest, oldest} {
		require.NoError(t, store.SaveCheckpoint(cp))
	}

	ids, err := store.ListCheckpoints("sess-1")
	require.NoError(t, err)
	require.Equal(t, []string{oldest.ID, middle.ID, newest.ID}, ids)

	latest, err := store.LoadLatestCheckpoint("sess-1")
	require.NoError(t, err)
	assert.Equal(t, newest.ID, latest.ID)
}

func TestLoadLatestCheckpointEmpty(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.CreateSession(testSession(t, "sess-1")))

	_, err := store.LoadLatestCheckpoint("sess-1")
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}

func TestDeleteCheckpoint(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.CreateSession(testSession(t, "sess-1")))

	cp := testCheckpoint(t, "sess-1", time.Time{})
	require.NoError(t, store.SaveCheckpoint(cp))
	require.NoError(t, store.DeleteCheckpoint("sess-1", cp.ID))

	_, err := store.LoadCheckpoint("sess-1", cp.ID)
	assert.ErrorIs(t, err, ErrCheckpointNotFound)

	err = store.DeleteCheckpoint("sess-1", cp.ID)
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}

// --- atomic writes ---

func TestConcurrentReadsDuringSaves(t *testing.T) {
	store := testStore(t)
	sess := testSession(t, "sess-1")
	require.NoError(t, store.CreateSession(sess))

	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			s := testSession(t, "sess-1")
			s.PaperCounts.Set(types.VenueKey{Venue: "ICML", Year: 2023}, i)
			if err := store.SaveSession(s); err != nil {
				t.Errorf("save: %v", err)
				return
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				loaded, err := store.LoadSession("sess-1")
				if err != nil {
					t.Errorf("load during save: %v", err)
					return
				}
				if loaded.ID != "sess-1" {
					t.Errorf("partial read: id %q", loaded.ID)
					return
				}
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
}

func TestCrashedWriterLeavesPriorVersionReadable(t *testing.T) {
	store := testStore(t)
	sess := testSession(t, "sess-1")
	require.NoError(t, store.CreateSession(sess))

	// A writer killed mid-write leaves only a temp file behind; the
	// canonical file must still hold the previous version.
	leftover := filepath.Join(store.SessionDir("sess-1"), ".census-12345.tmp")
	require.NoError(t, os.WriteFile(leftover, []byte(`{"session_id": "sess-1", "truncated`), 0o644))

	loaded, err := store.LoadSession("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", loaded.ID)
	assert.Equal(t, types.SessionActive, loaded.Status)
}

// --- validation sweeps ---

func TestValidateCheckpoints(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.CreateSession(testSession(t, "sess-1")))

	base := time.Now().UTC().Add(-time.Hour)
	good := testCheckpoint(t, "sess-1", base)
	bad := testCheckpoint(t, "sess-1", base.Add(time.Minute))
	require.NoError(t, store.SaveCheckpoint(good))
	require.NoError(t, store.SaveCheckpoint(bad))
	corruptCheckpointFile(t, store, "sess-1", bad.ID)

	garbagePath := filepath.Join(store.CheckpointsDir("sess-1"), "zz-garbage.json")
	require.NoError(t, os.WriteFile(garbagePath, []byte("||||"), 0o644))

	results, err := store.ValidateCheckpoints("sess-1")
	require.NoError(t, err)
	require.Len(t, results, 3)

	byID := make(map[string]types.ValidationResult)
	for _, r := range results {
		byID[r.CheckpointID] = r
	}

	g := byID[good.ID]
	assert.True(t, g.Passed)
	assert.True(t, g.UsableForRecovery)
	assert.InDelta(t, 1.0, g.IntegrityScore, 0.001)

	b := byID[bad.ID]
	assert.False(t, b.Passed)
	assert.False(t, b.UsableForRecovery, "checksum mismatch must not be usable")
	assert.InDelta(t, 0.5, b.IntegrityScore, 0.001)
	assert.NotEmpty(t, b.Issues)

	z := byID["zz-garbage"]
	assert.False(t, z.UsableForRecovery)
	assert.InDelta(t, 0.0, z.IntegrityScore, 0.001)
}

func TestCheckDataIntegrity(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.CreateSession(testSession(t, "sess-1")))

	good := testCheckpoint(t, "sess-1", time.Time{})
	require.NoError(t, store.SaveCheckpoint(good))
	bad := testCheckpoint(t, "sess-1", time.Now().UTC().Add(time.Minute))
	require.NoError(t, store.SaveCheckpoint(bad))
	corruptCheckpointFile(t, store, "sess-1", bad.ID)

	checks, err := store.CheckDataIntegrity("sess-1")
	require.NoError(t, err)

	byStatus := make(map[types.FileStatus]int)
	for _, c := range checks {
		byStatus[c.Status]++
		if c.Status != types.FileValid {
			assert.NotEmpty(t, c.SuggestedAction, "non-valid files need a suggested action: %s", c.Path)
		}
	}
	assert.Equal(t, 3, byStatus[types.FileValid], "config, status and one checkpoint")
	assert.Equal(t, 1, byStatus[types.FileCorrupted])
}

func TestCheckDataIntegrityMissingSession(t *testing.T) {
	store := testStore(t)
	checks, err := store.CheckDataIntegrity("ghost")
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.Equal(t, types.FileMissing, checks[0].Status)
	assert.NotEmpty(t, checks[0].SuggestedAction)
}

// --- recovery artifacts ---

func TestSaveRecoveryArtifact(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.CreateSession(testSession(t, "sess-1")))

	plan := types.RecoveryPlan{SessionID: "sess-1", Strategy: types.ResumeFromLastCheckpoint}
	require.NoError(t, store.SaveRecoveryArtifact("sess-1", "plan-001", plan))

	data, err := os.ReadFile(filepath.Join(store.RecoveryDir("sess-1"), "plan-001.json"))
	require.NoError(t, err)
	var back types.RecoveryPlan
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, types.ResumeFromLastCheckpoint, back.Strategy)
}

// --- venue artifacts ---

func TestSaveVenueArtifact(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.CreateSession(testSession(t, "sess-1")))

	key := types.VenueKey{Venue: "ICML / W&CP", Year: 2023}
	artifact := map[string]interface{}{"venue": key.Venue, "papers": 42}
	require.NoError(t, store.SaveVenueArtifact("sess-1", key, artifact))

	// The venue name is sanitized before it becomes a file name.
	data, err := os.ReadFile(filepath.Join(store.VenuesDir("sess-1"), "ICML___W_CP_2023.json"))
	require.NoError(t, err)
	var back map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, float64(42), back["papers"])
}
