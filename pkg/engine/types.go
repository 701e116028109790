package engine

import (
	"encoding/json"
	"time"
)

// Action is a single planned unit of work.
type Action struct {
	// Type is the kind of work (app, restore, verify).
	Type ActionType `json:"type"`

	// ID is the manifest identifier of the app, restore item or check.
	ID string `json:"id"`

	// Ref is the platform package reference. Set on evaluated app actions.
	Ref string `json:"ref,omitempty"`

	// Driver names the package-manager driver for app actions.
	Driver string `json:"driver,omitempty"`

	// Status is the current outcome of the action.
	Status ActionStatus `json:"status"`

	// Reason refines the status (installed, missing, version-mismatch, ...).
	Reason ActionReason `json:"reason,omitempty"`

	// Constraint is the manifest version constraint, if any.
	Constraint string `json:"constraint,omitempty"`

	// InstalledVersion is the version observed before the run, if known.
	InstalledVersion string `json:"installedVersion,omitempty"`

	// Message is a human-readable explanation of the status.
	Message string `json:"message,omitempty"`
}

// appActionJSON is Action with ref always written. App actions carry a ref
// key even when skipped for lack of a platform reference.
type appActionJSON struct {
	Type             ActionType   `json:"type"`
	ID               string       `json:"id"`
	Ref              string       `json:"ref"`
	Driver           string       `json:"driver"`
	Status           ActionStatus `json:"status"`
	Reason           ActionReason `json:"reason,omitempty"`
	Constraint       string       `json:"constraint,omitempty"`
	InstalledVersion string       `json:"installedVersion,omitempty"`
	Message          string       `json:"message,omitempty"`
}

// MarshalJSON always writes ref and driver for app actions. Restore and
// verify actions omit them when empty.
func (a Action) MarshalJSON() ([]byte, error) {
	if a.Type == ActionApp {
		return json.Marshal(appActionJSON(a))
	}
	type plain Action
	return json.Marshal(plain(a))
}

// NewAppAction builds an app action. Driver and ID are always required; the
// ref may only be empty for apps skipped for lack of a platform reference.
func NewAppAction(id, ref, driver string, status ActionStatus, reason ActionReason) (Action, error) {
	if id == "" {
		return Action{}, NewPermanentError("app action requires an id", nil).WithCode(ErrCodeValidation)
	}
	if driver == "" {
		return Action{}, NewPermanentError("app action requires a driver", nil).
			WithCode(ErrCodeValidation).WithResource(id)
	}
	if err := status.Validate(); err != nil {
		return Action{}, NewPermanentError("invalid app action status", err).WithResource(id)
	}
	if ref == "" && status != StatusSkip {
		return Action{}, NewPermanentError("app action requires a ref", nil).
			WithCode(ErrCodeValidation).WithResource(id)
	}

	return Action{
		Type:   ActionApp,
		ID:     id,
		Ref:    ref,
		Driver: driver,
		Status: status,
		Reason: reason,
	}, nil
}

// NewVerifyAction builds a verify action.
func NewVerifyAction(id string, status ActionStatus, message string) Action {
	return Action{
		Type:    ActionVerify,
		ID:      id,
		Status:  status,
		Message: message,
	}
}

// NewRestoreAction builds a pending restore action.
func NewRestoreAction(id string) Action {
	return Action{
		Type:   ActionRestore,
		ID:     id,
		Status: StatusPending,
	}
}

// Plan is the ordered, hashed and summarised set of actions for one run.
type Plan struct {
	RunID     string       `json:"runId"`
	Timestamp time.Time    `json:"timestamp"`
	Manifest  PlanManifest `json:"manifest"`
	Summary   PlanSummary  `json:"summary"`
	Actions   []Action     `json:"actions"`
}

// PlanManifest identifies the manifest a plan was computed from. Field order
// is part of the artifact format.
type PlanManifest struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Hash string `json:"hash"`
}

// PlanSummary counts actions by type and status. Field order is part of the
// artifact format.
type PlanSummary struct {
	// Install is the number of app actions that were evaluated (not skipped).
	Install int `json:"install"`

	// Skip is the number of app actions skipped for lack of a platform ref.
	Skip int `json:"skip"`

	// Restore is the number of restore actions.
	Restore int `json:"restore"`

	// Verify is the number of verify actions.
	Verify int `json:"verify"`
}

// Summarize counts actions the way PlanSummary defines them.
func Summarize(actions []Action) PlanSummary {
	var s PlanSummary
	for _, a := range actions {
		switch a.Type {
		case ActionApp:
			if a.Status == StatusSkip {
				s.Skip++
			} else {
				s.Install++
			}
		case ActionRestore:
			s.Restore++
		case ActionVerify:
			s.Verify++
		}
	}
	return s
}

// MarshalJSON recomputes the summary so it always matches the actions being
// serialised.
func (p Plan) MarshalJSON() ([]byte, error) {
	type plan Plan
	out := plan(p)
	out.Summary = Summarize(p.Actions)
	if out.Actions == nil {
		out.Actions = []Action{}
	}
	return json.Marshal(out)
}

// FailedCount returns the number of actions with status fail.
func FailedCount(actions []Action) int {
	n := 0
	for _, a := range actions {
		if a.Status == StatusFail {
			n++
		}
	}
	return n
}

// FailedCount returns the number of failed actions in the plan.
func (p *Plan) FailedCount() int {
	return FailedCount(p.Actions)
}

// AppActions returns the app actions with the given status, in plan order.
func (p *Plan) AppActions(status ActionStatus) []Action {
	out := make([]Action, 0)
	for _, a := range p.Actions {
		if a.Type == ActionApp && a.Status == status {
			out = append(out, a)
		}
	}
	return out
}

// InstallOutput is the raw response of a driver install call.
type InstallOutput struct {
	Output   []string `json:"output"`
	ExitCode int      `json:"exitCode"`
}

// InstallResult is the outcome of one dispatched app action.
type InstallResult struct {
	Success   bool         `json:"success"`
	PackageID string       `json:"packageId"`
	AppID     string       `json:"appId"`
	SlotID    int          `json:"slotId"`
	Reason    ActionReason `json:"reason,omitempty"`
	Message   string       `json:"message"`
	Output    []string     `json:"output"`
	ExitCode  int          `json:"exitCode"`
	StartTime time.Time    `json:"startTime"`
	EndTime   time.Time    `json:"endTime"`
}

// Duration returns how long the install took.
func (r InstallResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// ProgressEvent is an ephemeral lifecycle notification for one app.
type ProgressEvent struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	AppID     string    `json:"appId"`
	Success   *bool     `json:"success,omitempty"`
}

// VerifyResult is the observed outcome of one verify check.
type VerifyResult struct {
	Pass    bool   `json:"pass"`
	Message string `json:"message,omitempty"`
}
