package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"runtime"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/endstate/pkg/config"
	"github.com/openfroyo/endstate/pkg/drivers"
	"github.com/openfroyo/endstate/pkg/manifest"
	"github.com/openfroyo/endstate/pkg/restorers"
	"github.com/openfroyo/endstate/pkg/state"
	"github.com/openfroyo/endstate/pkg/stores"
	"github.com/openfroyo/endstate/pkg/verifiers"
)

// Check is one doctor finding.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

func newDoctorCommand() *cobra.Command {
	var reindex bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that endstate can run on this machine",
		Long: `Check the configuration, the package manager driver, the state dir,
the run index and the manifest.

The run index check also confirms that the latest recorded run is indexed
with all of its actions and that no indexed run points at a missing state
file. --reindex repairs both: the latest run is indexed again and entries
whose state file is gone are removed.

The exit code is the number of failed checks.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				checks := s.doctor(ctx, reindex)

				var err error
				if jsonOutput {
					err = writeJSON(cmd.OutOrStdout(), checks)
				} else {
					err = writeChecks(cmd.OutOrStdout(), checks)
				}
				if err != nil {
					return err
				}

				failed := 0
				for _, c := range checks {
					if !c.OK {
						failed++
					}
				}
				return failedActions(failed)
			})
		},
	}

	cmd.Flags().BoolVar(&reindex, "reindex", false, "repair the run index")

	return cmd
}

func (s *session) doctor(ctx context.Context, reindex bool) []Check {
	checks := []Check{
		{Name: "config", OK: true, Detail: config.ConfigDir()},
		s.checkDriver(),
		s.checkStateDir(),
		s.checkIndex(ctx, reindex),
	}
	if s.cfg.Manifest != "" {
		checks = append(checks, s.checkManifest())
	}

	deny, err := s.cfg.Denylist()
	if err != nil {
		checks = append(checks, Check{Name: "denylist", Detail: err.Error()})
	} else {
		checks = append(checks, Check{Name: "denylist", OK: true, Detail: fmt.Sprintf("%d patterns", deny.Len())})
	}

	checks = append(checks,
		Check{Name: "verify types", OK: true, Detail: strings.Join(verifiers.NewRegistry(s.logger).Types(), ", ")},
		Check{Name: "restore types", OK: true, Detail: strings.Join(restorers.New("", nil, s.logger).Types(), ", ")},
	)
	return checks
}

func (s *session) checkDriver() Check {
	name := s.cfg.Driver
	if name == "" {
		name = drivers.DefaultName(runtime.GOOS)
	}
	c := Check{Name: "driver " + name}

	driver, err := newDriver(name, s.logger)
	if err != nil {
		c.Detail = err.Error()
		return c
	}

	if d, ok := driver.(interface{ Available() bool }); ok && !d.Available() {
		c.Detail = "package manager not found in PATH"
		if detected, err := drivers.Detect(); err == nil {
			c.Detail += fmt.Sprintf(" (try --driver %s)", detected)
		}
		return c
	}

	c.OK = true
	c.Detail = "available"
	return c
}

func (s *session) checkStateDir() Check {
	c := Check{Name: "state dir", Detail: s.cfg.StateDir}

	if err := os.MkdirAll(s.cfg.StateDir, 0o755); err != nil {
		c.Detail = err.Error()
		return c
	}
	f, err := os.CreateTemp(s.cfg.StateDir, ".doctor-*")
	if err != nil {
		c.Detail = fmt.Sprintf("%s is not writable: %v", s.cfg.StateDir, err)
		return c
	}
	_ = f.Close()
	_ = os.Remove(f.Name())

	c.OK = true
	return c
}

func (s *session) checkIndex(ctx context.Context, reindex bool) Check {
	c := Check{Name: "run index", Detail: s.cfg.Index.Path}
	switch {
	case !s.cfg.Index.Enabled:
		c.OK = true
		c.Detail = "disabled"
		return c
	case s.index == nil:
		c.Detail = "failed to open " + s.cfg.Index.Path
		return c
	}

	if err := s.index.HealthCheck(ctx); err != nil {
		c.Detail = err.Error()
		return c
	}

	problems, err := s.indexProblems(ctx, reindex)
	if err != nil {
		c.Detail = err.Error()
		return c
	}
	if len(problems) > 0 {
		c.Detail = strings.Join(problems, "; ") + " (run doctor --reindex)"
		return c
	}

	c.OK = true
	return c
}

// indexProblems compares the index with the state dir. With repair set it
// fixes what it finds and reports nothing for the fixed entries.
func (s *session) indexProblems(ctx context.Context, repair bool) ([]string, error) {
	var problems []string

	latest, err := s.recorder.Latest()
	if err != nil {
		return nil, err
	}
	if latest != nil {
		problem, err := s.latestIndexProblem(ctx, latest)
		if err != nil {
			return nil, err
		}
		if problem != "" {
			if !repair {
				problems = append(problems, problem)
			} else if err := s.index.RecordRun(ctx, latest, s.recorder.Path(latest.RunID)); err != nil {
				return nil, fmt.Errorf("failed to reindex %s: %w", latest.RunID, err)
			} else {
				s.logger.Info().Str("run_id", latest.RunID).Msg("Reindexed latest run")
			}
		}
	}

	records, err := s.index.ListRuns(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	stale := 0
	for _, rec := range records {
		if rec.StatePath == "" {
			continue
		}
		if _, err := os.Stat(rec.StatePath); !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if !repair {
			stale++
			continue
		}
		if err := s.index.DeleteRun(ctx, rec.ID); err != nil {
			return nil, err
		}
		s.logger.Info().Str("run_id", rec.ID).Str("path", rec.StatePath).Msg("Removed stale index entry")
	}
	if stale > 0 {
		problems = append(problems, fmt.Sprintf("%d indexed runs have no state file", stale))
	}

	return problems, nil
}

// latestIndexProblem describes how the index disagrees with run, or returns
// "" when it matches.
func (s *session) latestIndexProblem(ctx context.Context, run *state.RunState) (string, error) {
	rec, err := s.index.GetRun(ctx, run.RunID)
	if errors.Is(err, stores.ErrNotFound) {
		return fmt.Sprintf("latest run %s is not indexed", run.RunID), nil
	}
	if err != nil {
		return "", err
	}

	results, err := s.index.ListActionResults(ctx, rec.ID)
	if err != nil {
		return "", err
	}
	if len(results) != len(run.Actions) {
		return fmt.Sprintf("latest run %s has %d indexed actions, state file has %d",
			run.RunID, len(results), len(run.Actions)), nil
	}
	for i, res := range results {
		a := run.Actions[i]
		if res.ActionID != a.ID || res.Status != a.Status {
			return fmt.Sprintf("latest run %s differs at action %d (%s)", run.RunID, i, a.ID), nil
		}
	}
	return "", nil
}

func (s *session) checkManifest() Check {
	c := Check{Name: "manifest"}
	m, err := manifest.Resolve(s.cfg.Manifest)
	if err != nil {
		c.Detail = err.Error()
		return c
	}
	c.OK = true
	c.Detail = fmt.Sprintf("%s: %d apps (%d for %s), %d verify, %d restore",
		m.Name, len(m.Apps), len(m.AppsForPlatform(manifest.CurrentPlatform())),
		manifest.CurrentPlatform(), len(m.Verify), len(m.Restore))
	return c
}

func writeChecks(w io.Writer, checks []Check) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, c := range checks {
		mark := "ok"
		if !c.OK {
			mark = "FAIL"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", mark, c.Name, c.Detail)
	}
	return tw.Flush()
}
