package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/endstate/pkg/engine"
)

func app(id, ref string, status engine.ActionStatus, reason engine.ActionReason) engine.Action {
	return engine.Action{
		Type:   engine.ActionApp,
		ID:     id,
		Ref:    ref,
		Driver: "fake",
		Status: status,
		Reason: reason,
	}
}

func sampleRun(runID string, ts time.Time, actions ...engine.Action) *RunState {
	return &RunState{
		RunID:     runID,
		Timestamp: ts.UTC(),
		Machine:   "box",
		User:      "dev",
		Command:   "apply",
		Manifest:  ManifestRef{Path: "/m/workstation.jsonc", Hash: "abc123"},
		Summary:   engine.Summarize(actions),
		Actions:   actions,
	}
}

// resetRunIDClock forgets the last issued run ID time. Tests using it must
// not run in parallel.
func resetRunIDClock(t *testing.T) {
	t.Helper()
	runIDMu.Lock()
	lastRunAt = time.Time{}
	runIDMu.Unlock()
}

func TestNewRunID(t *testing.T) {
	resetRunIDClock(t)

	now := time.Date(2026, 1, 2, 3, 4, 5, 250000000, time.FixedZone("X", 3600))
	id := NewRunID(now)

	assert.True(t, ValidRunID(id), id)
	assert.Equal(t, "20260102-020405.250000", id[:22])

	assert.False(t, ValidRunID("20260102-020405"))
	assert.False(t, ValidRunID("20260102-020405-abcdef"))
	assert.False(t, ValidRunID("2026-01-02-abcdef"))
	assert.False(t, ValidRunID("20260102-020405.250000-ABCDEF"))
}

func TestNewRunID_SameSecondSortsChronologically(t *testing.T) {
	resetRunIDClock(t)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 200; i++ {
		earlier := NewRunID(base.Add(time.Duration(i)*time.Second + 100*time.Millisecond))
		later := NewRunID(base.Add(time.Duration(i)*time.Second + 900*time.Millisecond))
		require.Less(t, earlier, later, "trial %d", i)
	}
}

func TestNewRunID_StrictlyIncreasingOnStalledClock(t *testing.T) {
	resetRunIDClock(t)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	prev := NewRunID(now)
	for i := 0; i < 50; i++ {
		next := NewRunID(now)
		require.True(t, ValidRunID(next), next)
		require.Less(t, prev, next)
		prev = next
	}
}

func TestRecorder_SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	rec := NewRecorder(t.TempDir(), zerolog.Nop())
	s := sampleRun("20260301-101500.000000-a1b2c3", time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC),
		app("git", "git", engine.StatusPass, engine.ReasonInstalled),
		app("jq", "jq", engine.StatusFail, engine.ReasonInstallFailed),
		engine.NewVerifyAction("file-exists#0", engine.StatusPass, ""),
		engine.NewRestoreAction("gitconfig"),
	)

	path, err := rec.Save(s)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(rec.Dir(), "20260301-101500.000000-a1b2c3.json"), path)

	loaded, err := rec.LoadRun(s.RunID)
	require.NoError(t, err)
	assert.Equal(t, s, loaded)
	assert.Equal(t, 1, loaded.FailedCount())
}

func TestRecorder_SaveRejectsInvalidRunID(t *testing.T) {
	t.Parallel()

	rec := NewRecorder(t.TempDir(), zerolog.Nop())
	_, err := rec.Save(&RunState{RunID: "../escape"})
	require.Error(t, err)

	_, err = rec.Save(nil)
	require.Error(t, err)
}

func TestRecorder_LoadCorrupt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "20260301-101500.000000-a1b2c3.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	rec := NewRecorder(dir, zerolog.Nop())
	_, err := rec.Load(path)
	require.Error(t, err)
	assert.True(t, IsStateError(err))

	_, err = rec.Load(filepath.Join(dir, "missing.json"))
	assert.True(t, IsStateError(err))
}

func TestRecorder_HistorySkipsCorruptRuns(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec := NewRecorder(dir, zerolog.Nop())

	older := sampleRun("20260301-090000.000000-000001", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	newer := sampleRun("20260302-090000.000000-000002", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	_, err := rec.Save(older)
	require.NoError(t, err)
	_, err = rec.Save(newer)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260303-090000.000000-000003.json"), []byte("garbage"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	runs, err := rec.History(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer.RunID, runs[0].RunID)
	assert.Equal(t, older.RunID, runs[1].RunID)
}

func TestRecorder_HistoryLimitAndLatest(t *testing.T) {
	t.Parallel()

	rec := NewRecorder(t.TempDir(), zerolog.Nop())

	latest, err := rec.Latest()
	require.NoError(t, err)
	assert.Nil(t, latest)

	ids := []string{
		"20260301-090000.000000-00000a",
		"20260301-090001.000000-00000b",
		"20260301-090002.000000-00000c",
	}
	for _, id := range ids {
		_, err := rec.Save(sampleRun(id, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)))
		require.NoError(t, err)
	}

	runs, err := rec.History(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].RunID)
	assert.Equal(t, ids[1], runs[1].RunID)

	all, err := rec.History(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	latest, err = rec.Latest()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, ids[2], latest.RunID)
}

func TestRecorder_HistoryMissingDir(t *testing.T) {
	t.Parallel()

	rec := NewRecorder(filepath.Join(t.TempDir(), "nope"), zerolog.Nop())
	runs, err := rec.History(5)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRecorder_Backup(t *testing.T) {
	t.Parallel()

	stateDir := t.TempDir()
	rec := NewRecorder(stateDir, zerolog.Nop())

	target := filepath.Join(t.TempDir(), "home", ".gitconfig")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target, []byte("[user]\nname = dev\n"), 0o600))

	runID := "20260301-101500.000000-a1b2c3"
	backup, err := rec.Backup(runID, target)
	require.NoError(t, err)
	require.NotEmpty(t, backup)

	assert.True(t, filepath.IsAbs(backup))
	assert.Contains(t, backup, rec.BackupDir(runID))
	assert.Equal(t, ".gitconfig", filepath.Base(backup))

	data, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Equal(t, "[user]\nname = dev\n", string(data))

	none, err := rec.Backup(runID, filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRelativeToVolume(t *testing.T) {
	t.Parallel()

	assert.Equal(t, filepath.Join("home", "dev", ".bashrc"),
		relativeToVolume(string(filepath.Separator)+filepath.Join("home", "dev", ".bashrc")))
}

func TestFromPlan(t *testing.T) {
	t.Parallel()

	plan := &engine.Plan{
		RunID:     "20260301-101500.000000-a1b2c3",
		Timestamp: time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC),
		Manifest:  engine.PlanManifest{Path: "/m/a.jsonc", Name: "a", Hash: "h"},
		Actions: []engine.Action{
			app("git", "git", engine.StatusPass, engine.ReasonInstalled),
			app("paint", "", engine.StatusSkip, engine.ReasonNoPlatformRef),
		},
	}

	s := FromPlan(plan, "plan", true)
	assert.Equal(t, plan.RunID, s.RunID)
	assert.Equal(t, "plan", s.Command)
	assert.True(t, s.DryRun)
	assert.Equal(t, ManifestRef{Path: "/m/a.jsonc", Hash: "h"}, s.Manifest)
	assert.Equal(t, engine.PlanSummary{Install: 1, Skip: 1}, s.Summary)
	assert.NotEmpty(t, s.Machine)
	assert.NotEmpty(t, s.User)

	// The run state owns its action slice.
	s.Actions[0].Status = engine.StatusFail
	assert.Equal(t, engine.StatusPass, plan.Actions[0].Status)
}
