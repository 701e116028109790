package stores

import (
	"context"
	"errors"
	"time"

	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/state"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// RunRecord is the indexed summary of one persisted run
type RunRecord struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Machine      string    `json:"machine"`
	User         string    `json:"user"`
	Command      string    `json:"command"`
	DryRun       bool      `json:"dry_run"`
	ManifestPath string    `json:"manifest_path"`
	ManifestHash string    `json:"manifest_hash"`
	Install      int       `json:"install"`
	Skip         int       `json:"skip"`
	Restore      int       `json:"restore"`
	Verify       int       `json:"verify"`
	Failed       int       `json:"failed"`
	StatePath    string    `json:"state_path"` // run file on disk
	RecordedAt   time.Time `json:"recorded_at"`
}

// Row converts the record into a report row.
func (r *RunRecord) Row() state.RunRow {
	return state.RunRow{
		RunID:     r.ID,
		Timestamp: r.Timestamp,
		Command:   r.Command,
		DryRun:    r.DryRun,
		Install:   r.Install,
		Skip:      r.Skip,
		Restore:   r.Restore,
		Verify:    r.Verify,
		Failed:    r.Failed,
	}
}

// ActionResult is one action of an indexed run
type ActionResult struct {
	ID       int64               `json:"id"`
	RunID    string              `json:"run_id"`
	Position int                 `json:"position"` // index in the run's action list
	Type     engine.ActionType   `json:"type"`
	ActionID string              `json:"action_id"`
	Ref      string              `json:"ref"`
	Driver   string              `json:"driver"`
	Status   engine.ActionStatus `json:"status"`
	Reason   engine.ActionReason `json:"reason"`
	Message  string              `json:"message"`
}

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`           // e.g., "restore.backup", "apply.completed"
	Actor     string    `json:"actor"`            // user identifier
	RunID     *string   `json:"run_id,omitempty"` // run the entry belongs to
	Target    *string   `json:"target,omitempty"` // file or app the entry refers to
	Details   *string   `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Store indexes run history for queries the file store cannot answer
// cheaply.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	RecordRun(ctx context.Context, run *state.RunState, statePath string) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error)
	DeleteRun(ctx context.Context, id string) error

	// Action operations
	ListActionResults(ctx context.Context, runID string) ([]*ActionResult, error)
	FailureCounts(ctx context.Context, limit int) ([]state.FailedItem, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}

var _ Store = (*SQLiteStore)(nil)

// OptionalString returns nil for an empty string.
func OptionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
