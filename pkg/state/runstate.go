package state

import (
	"encoding/json"
	"os"
	"os/user"
	"time"

	"github.com/openfroyo/endstate/pkg/engine"
)

// RunState is a plan plus execution metadata, persisted once per run.
// Field order is part of the artifact format.
type RunState struct {
	RunID     string             `json:"runId"`
	Timestamp time.Time          `json:"timestamp"`
	Machine   string             `json:"machine"`
	User      string             `json:"user"`
	Command   string             `json:"command"`
	DryRun    bool               `json:"dryRun"`
	Manifest  ManifestRef        `json:"manifest"`
	Summary   engine.PlanSummary `json:"summary"`
	Actions   []engine.Action    `json:"actions"`
}

// ManifestRef identifies the manifest a run was computed from.
type ManifestRef struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// FromPlan builds the RunState for plan.
func FromPlan(plan *engine.Plan, command string, dryRun bool) *RunState {
	actions := make([]engine.Action, len(plan.Actions))
	copy(actions, plan.Actions)

	return &RunState{
		RunID:     plan.RunID,
		Timestamp: plan.Timestamp,
		Machine:   hostname(),
		User:      currentUser(),
		Command:   command,
		DryRun:    dryRun,
		Manifest: ManifestRef{
			Path: plan.Manifest.Path,
			Hash: plan.Manifest.Hash,
		},
		Summary: engine.Summarize(actions),
		Actions: actions,
	}
}

// FailedCount returns the number of failed actions.
func (s *RunState) FailedCount() int {
	return engine.FailedCount(s.Actions)
}

// FailedActions returns the failed actions in order.
func (s *RunState) FailedActions() []engine.Action {
	out := make([]engine.Action, 0)
	for _, a := range s.Actions {
		if a.Status == engine.StatusFail {
			out = append(out, a)
		}
	}
	return out
}

// MarshalJSON recomputes the summary and never emits a null action list.
func (s RunState) MarshalJSON() ([]byte, error) {
	type runState RunState
	out := runState(s)
	if out.Actions == nil {
		out.Actions = []engine.Action{}
	}
	out.Summary = engine.Summarize(out.Actions)
	return json.Marshal(out)
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	for _, key := range []string{"USER", "USERNAME"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "unknown"
}
