package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/restorers"
	"github.com/openfroyo/endstate/pkg/state"
)

func newApplyCommand() *cobra.Command {
	var (
		dryRun        bool
		enableRestore bool
		throttle      int
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Converge the machine towards the manifest",
		Long: `Install missing apps, optionally restore configuration and verify the result.

This command:
  - Resolves the manifest and plans against the machine
  - Splits pending installs into parallel-safe and sequential groups
    (GPU drivers, virtualization platforms, game launchers and similar
    packages never install concurrently)
  - Installs through a bounded worker pool (--throttle)
  - Restores configuration files when --enable-restore is set
  - Re-runs the verify checks
  - Records the run under the state dir, even on partial failure

The exit code is the number of failed actions.`,
		Example: `  # Preview without installing
  endstate apply --dry-run

  # Install with up to 8 concurrent installs and restore configuration
  endstate apply --throttle 8 --enable-restore`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				plan, rs, err := s.apply(ctx, dryRun)
				if err != nil {
					return err
				}

				if jsonOutput {
					err = writeJSON(cmd.OutOrStdout(), rs)
				} else {
					err = writePlan(cmd.OutOrStdout(), plan)
				}
				if err != nil {
					return err
				}
				return failedActions(rs.FailedCount())
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan and simulate installs without changing the machine")
	cmd.Flags().BoolVar(&enableRestore, "enable-restore", false, "restore configuration files after installing")
	cmd.Flags().IntVar(&throttle, "throttle", 0, "maximum concurrent installs (default from config)")

	return cmd
}

// apply runs the full convergence pipeline and records the run. It returns
// the final plan and the recorded run state.
func (s *session) apply(ctx context.Context, dryRun bool) (*engine.Plan, *state.RunState, error) {
	r, err := s.plan(ctx, planRequest{restore: s.cfg.Restore.Enabled})
	if err != nil {
		return nil, nil, err
	}
	logger := s.logger.With().Str("run_id", r.id).Logger()

	deny, err := s.cfg.Denylist()
	if err != nil {
		return nil, nil, err
	}
	groups := engine.Partition(engine.Pending(r.plan), deny)

	logger.Info().
		Int("parallel", len(groups.Parallel)).
		Int("sequential", len(groups.Sequential)).
		Int("throttle", engine.EffectiveThrottle(s.cfg.Execution.Throttle, len(groups.Parallel))).
		Bool("dry_run", dryRun).
		Msg("Starting installs")

	bus := s.tel.NewEventBus(r.id)
	executor := engine.NewExecutor(logger,
		engine.WithMetrics(s.tel.Metrics),
		engine.WithInstallTimeout(s.cfg.Execution.InstallTimeout),
	)
	results := executor.Execute(ctx, groups.Parallel, groups.Sequential, engine.ExecuteOptions{
		Throttle: s.cfg.Execution.Throttle,
		DryRun:   dryRun,
		Driver:   r.driver,
		Events:   bus,
	})

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	if err := bus.Close(closeCtx); err != nil {
		logger.Warn().Err(err).Msg("Progress events not fully delivered")
	}
	cancel()

	engine.ApplyResults(r.plan, engine.OrderResults(results, r.plan.Actions), dryRun)

	var restoreResults []restorers.Result
	if s.cfg.Restore.Enabled {
		restoreResults = s.restore(ctx, r, dryRun)
	}

	if !dryRun {
		if err := r.planner.Reverify(ctx, r.plan, r.manifest); err != nil {
			return nil, nil, err
		}
	}

	// Partial failure is a normal outcome; the run is recorded regardless.
	rs, err := s.record(ctx, r.plan, "apply", dryRun)
	if err != nil {
		return nil, nil, err
	}
	s.auditRestores(ctx, rs, restoreResults)

	if !dryRun {
		s.audit(ctx, "apply.completed", rs.User, rs.RunID, rs.Manifest.Path,
			fmt.Sprintf("installs=%d failed=%d", len(results), rs.FailedCount()))
	}

	return r.plan, rs, nil
}
