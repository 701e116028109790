package engine

import "fmt"

// ActionType represents the kind of work an action performs.
type ActionType string

const (
	// ActionApp installs software through a driver.
	ActionApp ActionType = "app"

	// ActionRestore restores a configuration file.
	ActionRestore ActionType = "restore"

	// ActionVerify checks a post-condition.
	ActionVerify ActionType = "verify"
)

// Validate checks if the action type is valid.
func (t ActionType) Validate() error {
	switch t {
	case ActionApp, ActionRestore, ActionVerify:
		return nil
	default:
		return fmt.Errorf("invalid action type: %s", t)
	}
}

// ActionStatus represents the outcome of an action.
type ActionStatus string

const (
	// StatusPending indicates the action has not been evaluated yet.
	StatusPending ActionStatus = "pending"

	// StatusPass indicates the desired state holds.
	StatusPass ActionStatus = "pass"

	// StatusFail indicates the desired state does not hold.
	StatusFail ActionStatus = "fail"

	// StatusSkip indicates the action does not apply to this machine.
	StatusSkip ActionStatus = "skip"
)

// IsTerminal returns true if the status is a final outcome.
func (s ActionStatus) IsTerminal() bool {
	return s == StatusPass || s == StatusFail || s == StatusSkip
}

// Validate checks if the action status is valid.
func (s ActionStatus) Validate() error {
	switch s {
	case StatusPending, StatusPass, StatusFail, StatusSkip:
		return nil
	default:
		return fmt.Errorf("invalid action status: %s", s)
	}
}

// ActionReason refines an action status.
type ActionReason string

const (
	ReasonInstalled       ActionReason = "installed"
	ReasonMissing         ActionReason = "missing"
	ReasonVersionMismatch ActionReason = "version-mismatch"
	ReasonNoPlatformRef   ActionReason = "no-platform-ref"
	ReasonUnknownType     ActionReason = "unknown-type"
	ReasonInstallFailed   ActionReason = "install-failed"
	ReasonNotFound        ActionReason = "not-found"
	ReasonDryRun          ActionReason = "dry-run"
	ReasonRestored        ActionReason = "restored"
	ReasonUpToDate        ActionReason = "up-to-date"
	ReasonSourceMissing   ActionReason = "source-missing"
	ReasonRestoreFailed   ActionReason = "restore-failed"
)

// EventType identifies a progress event.
type EventType string

const (
	// EventAppStarted is emitted once when a worker picks up an app.
	EventAppStarted EventType = "AppStarted"

	// EventAppCompleted is emitted once when a worker finishes an app.
	EventAppCompleted EventType = "AppCompleted"
)
