package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/endstate/pkg/manifest"
)

type stubVerifier struct {
	known   map[string]bool
	results map[string]VerifyResult
}

func (v *stubVerifier) Supports(verifyType string) bool {
	return v.known[verifyType]
}

func (v *stubVerifier) Verify(_ context.Context, item manifest.VerifyItem) VerifyResult {
	return v.results[item.Path+item.Command]
}

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func testManifest() *manifest.Manifest {
	return &manifest.Manifest{
		Version: 1,
		Name:    "workstation",
		Apps: []manifest.App{
			{ID: "git", Refs: map[string]string{"linux": "git", "windows": "Git.Git"}},
			{ID: "node", Refs: map[string]string{"linux": "nodejs"}, Version: ">=20.0.0"},
			{ID: "paint", Refs: map[string]string{"windows": "Microsoft.Paint"}},
		},
		Verify: []manifest.VerifyItem{
			{Type: "file-exists", Path: "/etc/gitconfig"},
			{Type: "mystery"},
		},
		Restore: []manifest.RestoreItem{
			{Type: "copy", Source: "gitconfig", Target: "~/.gitconfig"},
		},
	}
}

func TestPlanner_OneInstalledOneMissing(t *testing.T) {
	t.Parallel()

	m := &manifest.Manifest{
		Version: 1,
		Name:    "pair",
		Apps: []manifest.App{
			{ID: "present", Refs: map[string]string{"linux": "curl"}},
			{ID: "absent", Refs: map[string]string{"linux": "jq"}},
		},
	}

	p := NewPlanner(zerolog.Nop(), nil)
	plan, err := p.Plan(context.Background(), m, PlanOptions{
		Platform:  "linux",
		Driver:    "apt",
		Installed: map[string]string{"curl": "8.5.0"},
		RunID:     "20260314-092653.000000-abc123",
		Now:       fixedNow,
	})
	require.NoError(t, err)

	require.Len(t, plan.Actions, 2)
	assert.Equal(t, StatusPass, plan.Actions[0].Status)
	assert.Equal(t, StatusFail, plan.Actions[1].Status)
	assert.Equal(t, ReasonMissing, plan.Actions[1].Reason)
	assert.Equal(t, PlanSummary{Install: 2}, plan.Summary)
	assert.Equal(t, 1, plan.FailedCount())

	for _, a := range plan.Actions {
		assert.Equal(t, ActionApp, a.Type)
		assert.Equal(t, "apt", a.Driver)
		assert.NotEmpty(t, a.Ref)
	}
}

func TestPlanner_OrderingAndSkip(t *testing.T) {
	t.Parallel()

	verifier := &stubVerifier{
		known: map[string]bool{"file-exists": true},
		results: map[string]VerifyResult{
			"/etc/gitconfig": {Pass: true, Message: "exists"},
		},
	}
	p := NewPlanner(zerolog.Nop(), verifier)

	plan, err := p.Plan(context.Background(), testManifest(), PlanOptions{
		ManifestPath:   "/tmp/m.jsonc",
		Platform:       "linux",
		Driver:         "apt",
		Installed:      map[string]string{"git": "2.43.0", "nodejs": "18.19.1"},
		VerifyResults:  map[int]VerifyResult{0: {Pass: true, Message: "exists"}},
		IncludeRestore: true,
		Now:            fixedNow,
	})
	require.NoError(t, err)

	types := make([]ActionType, 0, len(plan.Actions))
	ids := make([]string, 0, len(plan.Actions))
	for _, a := range plan.Actions {
		types = append(types, a.Type)
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []ActionType{ActionApp, ActionApp, ActionApp, ActionVerify, ActionVerify, ActionRestore}, types)
	assert.Equal(t, []string{"git", "node", "paint", "file-exists#0", "mystery#1", "~/.gitconfig"}, ids)

	git, node, paint := plan.Actions[0], plan.Actions[1], plan.Actions[2]
	assert.Equal(t, StatusPass, git.Status)
	assert.Equal(t, StatusFail, node.Status)
	assert.Equal(t, ReasonVersionMismatch, node.Reason)
	assert.Equal(t, StatusSkip, paint.Status)
	assert.Empty(t, paint.Ref)

	assert.Equal(t, StatusPass, plan.Actions[3].Status)
	assert.Equal(t, StatusFail, plan.Actions[4].Status)
	assert.Equal(t, ReasonUnknownType, plan.Actions[4].Reason)
	assert.Contains(t, plan.Actions[4].Message, "mystery")
	assert.Equal(t, StatusPending, plan.Actions[5].Status)

	assert.Equal(t, PlanSummary{Install: 2, Skip: 1, Restore: 1, Verify: 2}, plan.Summary)
	assert.Equal(t, "workstation", plan.Manifest.Name)
	assert.Len(t, plan.Manifest.Hash, 64)
}

func TestPlanner_RestoreDisabled(t *testing.T) {
	t.Parallel()

	plan, err := NewPlanner(zerolog.Nop(), nil).Plan(context.Background(), testManifest(), PlanOptions{
		Platform: "linux",
		Driver:   "apt",
		Now:      fixedNow,
	})
	require.NoError(t, err)

	for _, a := range plan.Actions {
		assert.NotEqual(t, ActionRestore, a.Type)
	}
	assert.Equal(t, 0, plan.Summary.Restore)
}

func TestPlanner_Deterministic(t *testing.T) {
	t.Parallel()

	p := NewPlanner(zerolog.Nop(), nil)
	opts := PlanOptions{
		ManifestPath:   "m.json",
		Platform:       "linux",
		Driver:         "apt",
		Installed:      map[string]string{"git": "2.43.0"},
		IncludeRestore: true,
		RunID:          "20260314-092653.000000-abc123",
		Now:            fixedNow,
	}

	first, err := p.Plan(context.Background(), testManifest(), opts)
	require.NoError(t, err)
	second, err := p.Plan(context.Background(), testManifest(), opts)
	require.NoError(t, err)

	b1, err := json.Marshal(first)
	require.NoError(t, err)
	b2, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(b1), string(b2))
}

func TestPlanner_NilManifest(t *testing.T) {
	t.Parallel()

	_, err := NewPlanner(zerolog.Nop(), nil).Plan(context.Background(), nil, PlanOptions{})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestPlanner_Observe(t *testing.T) {
	t.Parallel()

	driver := newFakeDriver()
	driver.installed = map[string]string{"git": "2.43.0"}
	verifier := &stubVerifier{
		known:   map[string]bool{"file-exists": true},
		results: map[string]VerifyResult{"/etc/gitconfig": {Pass: true}},
	}

	obs, err := NewPlanner(zerolog.Nop(), verifier).Observe(context.Background(), testManifest(), driver)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"git": "2.43.0"}, obs.Installed)
	assert.Equal(t, map[int]VerifyResult{0: {Pass: true}}, obs.VerifyResults)

	driver.listErr = assert.AnError
	_, err = NewPlanner(zerolog.Nop(), verifier).Observe(context.Background(), testManifest(), driver)
	require.Error(t, err)
	assert.True(t, IsDriverError(err))
}

func TestPlanner_Reverify(t *testing.T) {
	t.Parallel()

	verifier := &stubVerifier{
		known:   map[string]bool{"file-exists": true},
		results: map[string]VerifyResult{},
	}
	planner := NewPlanner(zerolog.Nop(), verifier)
	m := testManifest()

	plan, err := planner.Plan(context.Background(), m, PlanOptions{
		Platform:      "linux",
		Driver:        "fake",
		Installed:     map[string]string{},
		VerifyResults: map[int]VerifyResult{0: {Message: "missing"}},
		Now:           fixedNow,
	})
	require.NoError(t, err)
	require.Equal(t, StatusFail, plan.Actions[3].Status)

	verifier.results["/etc/gitconfig"] = VerifyResult{Pass: true, Message: "exists"}
	require.NoError(t, planner.Reverify(context.Background(), plan, m))

	assert.Equal(t, "file-exists#0", plan.Actions[3].ID)
	assert.Equal(t, StatusPass, plan.Actions[3].Status)
	assert.Equal(t, "exists", plan.Actions[3].Message)
	assert.Equal(t, StatusFail, plan.Actions[4].Status, "unknown type still fails")
	assert.Equal(t, ReasonUnknownType, plan.Actions[4].Reason)

	short := testManifest()
	short.Verify = short.Verify[:1]
	assert.Error(t, planner.Reverify(context.Background(), plan, short))
}

func TestSatisfiesConstraint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		constraint string
		installed  string
		want       bool
		wantErr    bool
	}{
		{"", "", true, false},
		{"1.2.3", "1.2.3", true, false},
		{"1.2.3", "1.2.4", false, false},
		{">=1.2.3", "1.2.3", true, false},
		{">=1.2.3", "1.10.0", true, false},
		{">=1.10.0", "1.9.9", false, false},
		{">=2.40.0", "2.43.0.windows.1", true, false},
		{">=1.0.0", "", false, false},
		{">=banana", "1.0.0", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.constraint+"/"+tt.installed, func(t *testing.T) {
			got, err := SatisfiesConstraint(tt.constraint, tt.installed)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
