// Package state persists run outcomes and compares them.
//
// Each run is written atomically to <dir>/<runId>.json. Run IDs sort
// lexicographically in chronological order, so history is a directory
// listing sorted by name.
package state

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/fsutil"
)

const (
	// runIDLayout is the timestamp part of a run ID, to the microsecond.
	runIDLayout = "20060102-150405.000000"

	// backupsDir holds per-run backups of overwritten files.
	backupsDir = "backups"

	stateExt = ".json"
)

var runIDPattern = regexp.MustCompile(`^\d{8}-\d{6}\.\d{6}-[0-9a-f]{6}$`)

var (
	runIDMu   sync.Mutex
	lastRunAt time.Time
)

// NewRunID returns a sortable run ID for now: YYYYMMDD-HHMMSS.ffffff-<6 hex>,
// UTC. IDs issued by one process strictly increase even when the clock
// does not advance between calls.
func NewRunID(now time.Time) string {
	at := now.UTC().Truncate(time.Microsecond)

	runIDMu.Lock()
	if !at.After(lastRunAt) {
		at = lastRunAt.Add(time.Microsecond)
	}
	lastRunAt = at
	runIDMu.Unlock()

	var b [3]byte
	_, _ = rand.Read(b[:])
	return at.Format(runIDLayout) + "-" + hex.EncodeToString(b[:])
}

// ValidRunID reports whether id has the run ID format.
func ValidRunID(id string) bool {
	return runIDPattern.MatchString(id)
}

// Recorder reads and writes run states under a directory.
type Recorder struct {
	dir    string
	logger zerolog.Logger
}

// NewRecorder creates a recorder rooted at dir. The directory is created on
// the first write.
func NewRecorder(dir string, logger zerolog.Logger) *Recorder {
	return &Recorder{
		dir:    dir,
		logger: logger.With().Str("component", "state").Logger(),
	}
}

// Dir returns the state directory.
func (r *Recorder) Dir() string {
	return r.dir
}

// Path returns the file path for runID.
func (r *Recorder) Path(runID string) string {
	return filepath.Join(r.dir, runID+stateExt)
}

// Save writes s atomically and returns its path.
func (r *Recorder) Save(s *RunState) (string, error) {
	if s == nil {
		return "", fmt.Errorf("run state is nil")
	}
	if !ValidRunID(s.RunID) {
		return "", fmt.Errorf("invalid run id %q", s.RunID)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode run state: %w", err)
	}
	data = append(data, '\n')

	path := r.Path(s.RunID)
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save run state: %w", err)
	}

	r.logger.Debug().Str("run_id", s.RunID).Str("path", path).Msg("Saved run state")
	return path, nil
}

// Load reads the run state at path. Read and decode failures are returned
// as *StateError.
func (r *Recorder) Load(path string) (*RunState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &StateError{Path: path, Err: err}
	}

	var s RunState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, &StateError{Path: path, Err: err}
	}
	if !ValidRunID(s.RunID) {
		return nil, &StateError{Path: path, Err: fmt.Errorf("invalid run id %q", s.RunID)}
	}
	if s.Actions == nil {
		s.Actions = []engine.Action{}
	}

	return &s, nil
}

// LoadRun reads the run state for runID.
func (r *Recorder) LoadRun(runID string) (*RunState, error) {
	return r.Load(r.Path(runID))
}

// runFiles returns run file names, newest first.
func (r *Recorder) runFiles() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, stateExt) {
			continue
		}
		if !ValidRunID(strings.TrimSuffix(name, stateExt)) {
			continue
		}
		names = append(names, name)
	}

	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// History returns up to limit run states, newest first. A limit of zero or
// less returns every run. Unreadable runs are logged and skipped.
func (r *Recorder) History(limit int) ([]RunState, error) {
	names, err := r.runFiles()
	if err != nil {
		return nil, err
	}

	out := make([]RunState, 0, len(names))
	for _, name := range names {
		if limit > 0 && len(out) >= limit {
			break
		}
		s, err := r.Load(filepath.Join(r.dir, name))
		if err != nil {
			r.logger.Warn().Err(err).Str("file", name).Msg("Skipping unreadable run state")
			continue
		}
		out = append(out, *s)
	}

	return out, nil
}

// Latest returns the most recent readable run, or nil when there is none.
func (r *Recorder) Latest() (*RunState, error) {
	runs, err := r.History(1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// BackupDir returns the backup directory of runID.
func (r *Recorder) BackupDir(runID string) string {
	return filepath.Join(r.dir, backupsDir, runID)
}

// Backup copies target into the backup directory of runID, preserving its
// path below the volume root. It returns the backup path, or "" when target
// does not exist.
func (r *Recorder) Backup(runID, target string) (string, error) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", target, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to stat %s: %w", abs, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("cannot back up directory %s", abs)
	}

	dst := filepath.Join(r.BackupDir(runID), relativeToVolume(abs))
	if err := fsutil.CopyFileAtomic(abs, dst); err != nil {
		return "", fmt.Errorf("failed to back up %s: %w", abs, err)
	}

	r.logger.Debug().Str("run_id", runID).Str("target", abs).Str("backup", dst).Msg("Backed up file")
	return dst, nil
}

// relativeToVolume strips the volume name and leading separators so that
// C:\Users\me\.gitconfig becomes Users\me\.gitconfig.
func relativeToVolume(abs string) string {
	rel := strings.TrimPrefix(abs, filepath.VolumeName(abs))
	return strings.TrimLeft(rel, `/\`)
}
