package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePlan(t *testing.T) *Plan {
	t.Helper()

	pass, err := NewAppAction("git", "Git.Git", "winget", StatusPass, ReasonInstalled)
	require.NoError(t, err)
	fail, err := NewAppAction("node", "OpenJS.NodeJS", "winget", StatusFail, ReasonMissing)
	require.NoError(t, err)
	skip, err := NewAppAction("apt-only", "", "winget", StatusSkip, ReasonNoPlatformRef)
	require.NoError(t, err)

	return &Plan{
		RunID:     "20260314-092653.000000-abc123",
		Timestamp: fixedNow,
		Manifest:  PlanManifest{Path: "C:/m.jsonc", Name: "ws", Hash: strings.Repeat("a", 64)},
		// Deliberately stale; serialization recomputes it.
		Summary: PlanSummary{Install: 99},
		Actions: []Action{pass, fail, skip, NewVerifyAction("v", StatusPass, "ok"), NewRestoreAction("r")},
	}
}

func TestPlan_MarshalStable(t *testing.T) {
	t.Parallel()

	plan := samplePlan(t)
	b1, err := json.Marshal(plan)
	require.NoError(t, err)
	b2, err := json.Marshal(plan)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)

	s := string(b1)
	assert.Contains(t, s, `"manifest":{"path":"C:/m.jsonc","name":"ws","hash":"`)
	assert.Contains(t, s, `"summary":{"install":2,"skip":1,"restore":1,"verify":1}`)
	assert.Less(t, strings.Index(s, `"runId"`), strings.Index(s, `"timestamp"`))
	assert.Less(t, strings.Index(s, `"timestamp"`), strings.Index(s, `"manifest"`))
	assert.Less(t, strings.Index(s, `"manifest"`), strings.Index(s, `"summary"`))
	assert.Less(t, strings.Index(s, `"summary"`), strings.Index(s, `"actions"`))
}

func TestPlan_MarshalEmptyActions(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(Plan{})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"actions":[]`)
}

func TestNewAppAction_RequiredFields(t *testing.T) {
	t.Parallel()

	_, err := NewAppAction("", "ref", "apt", StatusFail, ReasonMissing)
	assert.Error(t, err)

	_, err = NewAppAction("id", "ref", "", StatusFail, ReasonMissing)
	assert.Error(t, err)

	_, err = NewAppAction("id", "", "apt", StatusFail, ReasonMissing)
	assert.Error(t, err)

	_, err = NewAppAction("id", "ref", "apt", ActionStatus("bogus"), ReasonMissing)
	assert.Error(t, err)

	a, err := NewAppAction("id", "ref", "apt", StatusPass, ReasonInstalled)
	require.NoError(t, err)
	assert.Equal(t, ActionApp, a.Type)
}

func TestAction_AppActionsAlwaysCarryRef(t *testing.T) {
	t.Parallel()

	skipped, err := NewAppAction("paint", "", "winget", StatusSkip, ReasonNoPlatformRef)
	require.NoError(t, err)

	b, err := json.Marshal(skipped)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"app","id":"paint","ref":"","driver":"winget","status":"skip","reason":"no-platform-ref"}`, string(b))

	var back Action
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, skipped, back)

	b, err = json.Marshal(NewVerifyAction("file-exists#0", StatusPass, ""))
	require.NoError(t, err)
	assert.NotContains(t, string(b), `"ref"`)
	assert.NotContains(t, string(b), `"driver"`)

	b, err = json.Marshal(Plan{Actions: []Action{skipped}})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"ref":""`)
}

func TestEngineError_Classification(t *testing.T) {
	t.Parallel()

	err := NewDriverError("install", "Git.Git", assert.AnError)
	assert.True(t, IsDriverError(err))
	assert.True(t, IsTransient(err))
	assert.False(t, IsPermanent(err))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "resource=Git.Git, operation=install")
}

func TestEngineError_TimeoutIsDriverError(t *testing.T) {
	t.Parallel()

	err := NewDriverError("install", "jq", fmt.Errorf("winget: %w", context.DeadlineExceeded))
	assert.True(t, IsDriverError(err))
	assert.True(t, IsTransient(err))

	var e *EngineError
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrCodeTimeout, e.Code)

	perm := NewPermanentError("invalid deny pattern", nil).WithCode(ErrCodeValidation).WithResource("[")
	assert.Equal(t, "[permanent] invalid deny pattern (resource=[)", perm.Error())
	assert.False(t, IsDriverError(perm))
}
