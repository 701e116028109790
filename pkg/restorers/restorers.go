// Package restorers applies manifest restore items to configuration files.
//
// Every write backs up the existing target into the run's backup directory
// first and then replaces the target atomically. A failing item never stops
// the remaining items.
package restorers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog"

	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/fsutil"
	"github.com/openfroyo/endstate/pkg/manifest"
)

// Built-in restore types.
const (
	TypeCopy      = "copy"
	TypeAppend    = "append"
	TypeMergeJSON = "merge-json"
	TypeMergeINI  = "merge-ini"
)

// IOError reports a restore that failed while reading or writing a file.
type IOError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *IOError) Unwrap() error {
	return e.Err
}

// IsIOError reports whether err is, or wraps, an IOError.
func IsIOError(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}

// BackupFunc copies target aside before it is overwritten and returns the
// backup path, or "" when target does not exist.
type BackupFunc func(target string) (string, error)

// Result is the outcome of one restore item.
type Result struct {
	ID      string              `json:"id"`
	Type    string              `json:"type"`
	Source  string              `json:"source"`
	Target  string              `json:"target"`
	Backup  string              `json:"backup,omitempty"`
	Status  engine.ActionStatus `json:"status"`
	Reason  engine.ActionReason `json:"reason,omitempty"`
	Message string              `json:"message,omitempty"`
}

// Restorer runs restore items.
type Restorer struct {
	strategies map[string]Strategy
	baseDir    string
	backup     BackupFunc
	logger     zerolog.Logger
}

// New creates a restorer. Sources are resolved against baseDir, normally the
// manifest directory. A nil backup disables backups.
func New(baseDir string, backup BackupFunc, logger zerolog.Logger) *Restorer {
	return &Restorer{
		strategies: map[string]Strategy{
			TypeCopy:      copyStrategy,
			TypeAppend:    appendStrategy,
			TypeMergeJSON: mergeJSONStrategy,
			TypeMergeINI:  mergeINIStrategy,
		},
		baseDir: baseDir,
		backup:  backup,
		logger:  logger.With().Str("component", "restore").Logger(),
	}
}

// Types returns the supported restore types, sorted.
func (r *Restorer) Types() []string {
	types := make([]string, 0, len(r.strategies))
	for t := range r.strategies {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Supports reports whether restoreType is known.
func (r *Restorer) Supports(restoreType string) bool {
	_, ok := r.strategies[restoreType]
	return ok
}

// Restore applies one item. With dryRun the new content is computed but
// nothing is written.
func (r *Restorer) Restore(ctx context.Context, item manifest.RestoreItem, dryRun bool) Result {
	result := Result{
		ID:     item.Key(),
		Type:   item.Type,
		Source: fsutil.ResolvePath(r.baseDir, item.Source),
		Target: fsutil.ResolvePath("", item.Target),
	}

	fail := func(reason engine.ActionReason, err error) Result {
		result.Status = engine.StatusFail
		result.Reason = reason
		result.Message = err.Error()
		r.logger.Warn().Err(err).Str("id", result.ID).Str("target", result.Target).Msg("Restore failed")
		return result
	}

	if err := ctx.Err(); err != nil {
		return fail(engine.ReasonRestoreFailed, err)
	}

	strategy, ok := r.strategies[item.Type]
	if !ok {
		return fail(engine.ReasonUnknownType, fmt.Errorf("unknown restore type %q", item.Type))
	}

	source, err := os.ReadFile(result.Source)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && item.Optional {
			result.Status = engine.StatusSkip
			result.Reason = engine.ReasonSourceMissing
			result.Message = "optional source not found"
			return result
		}
		if errors.Is(err, os.ErrNotExist) {
			return fail(engine.ReasonSourceMissing, &IOError{Op: "read", Path: result.Source, Err: err})
		}
		return fail(engine.ReasonRestoreFailed, &IOError{Op: "read", Path: result.Source, Err: err})
	}

	perm := os.FileMode(0o644)
	var current []byte
	if info, err := os.Stat(result.Target); err == nil {
		if info.IsDir() {
			return fail(engine.ReasonRestoreFailed, &IOError{Op: "write", Path: result.Target, Err: errors.New("target is a directory")})
		}
		perm = info.Mode().Perm()
		current, err = os.ReadFile(result.Target)
		if err != nil {
			return fail(engine.ReasonRestoreFailed, &IOError{Op: "read", Path: result.Target, Err: err})
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fail(engine.ReasonRestoreFailed, &IOError{Op: "stat", Path: result.Target, Err: err})
	}

	next, err := strategy(source, current)
	if err != nil {
		return fail(engine.ReasonRestoreFailed, err)
	}

	if current != nil && bytes.Equal(next, current) {
		result.Status = engine.StatusPass
		result.Reason = engine.ReasonUpToDate
		result.Message = "target already up to date"
		return result
	}

	if dryRun {
		result.Status = engine.StatusPending
		result.Reason = engine.ReasonDryRun
		result.Message = "would update " + result.Target
		return result
	}

	if r.backup != nil && current != nil {
		backupPath, err := r.backup(result.Target)
		if err != nil {
			return fail(engine.ReasonRestoreFailed, &IOError{Op: "backup", Path: result.Target, Err: err})
		}
		result.Backup = backupPath
	}

	if err := fsutil.WriteFileAtomic(result.Target, next, perm); err != nil {
		return fail(engine.ReasonRestoreFailed, &IOError{Op: "write", Path: result.Target, Err: err})
	}

	result.Status = engine.StatusPass
	result.Reason = engine.ReasonRestored
	result.Message = "restored " + result.Target

	r.logger.Info().
		Str("id", result.ID).
		Str("type", item.Type).
		Str("target", result.Target).
		Str("backup", result.Backup).
		Msg("Restored")

	return result
}

// RestoreAll applies items in manifest order.
func (r *Restorer) RestoreAll(ctx context.Context, items []manifest.RestoreItem, dryRun bool) []Result {
	results := make([]Result, 0, len(items))
	for _, item := range items {
		results = append(results, r.Restore(ctx, item, dryRun))
	}
	return results
}

// ApplyResults folds restore results into the plan's restore actions by id.
func ApplyResults(plan *engine.Plan, results []Result) {
	byID := make(map[string]Result, len(results))
	for _, res := range results {
		if _, seen := byID[res.ID]; !seen {
			byID[res.ID] = res
		}
	}

	for i := range plan.Actions {
		a := &plan.Actions[i]
		if a.Type != engine.ActionRestore {
			continue
		}
		res, ok := byID[a.ID]
		if !ok {
			continue
		}
		a.Status = res.Status
		a.Reason = res.Reason
		a.Message = res.Message
	}

	plan.Summary = engine.Summarize(plan.Actions)
}
