package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/restorers"
	"github.com/openfroyo/endstate/pkg/state"
)

func newRestoreCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore configuration files from the manifest",
		Long: `Apply the manifest's restore items without installing anything.

Every target that is about to change is first copied into the run's backup
directory under the state dir; the new content is then written atomically.
A failing item does not stop the remaining items.`,
		Example: `  # Show which files would change
  endstate restore --dry-run

  # Restore and print results as JSON
  endstate restore --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				r, err := s.plan(ctx, planRequest{restore: true, restoreOnly: true})
				if err != nil {
					return err
				}

				// Only the restore actions belong to this run.
				actions := make([]engine.Action, 0, len(r.plan.Actions))
				for _, a := range r.plan.Actions {
					if a.Type == engine.ActionRestore {
						actions = append(actions, a)
					}
				}
				r.plan.Actions = actions

				results := s.restore(ctx, r, dryRun)

				rs, err := s.record(ctx, r.plan, "restore", dryRun)
				if err != nil {
					return err
				}
				s.auditRestores(ctx, rs, results)

				if jsonOutput {
					err = writeJSON(cmd.OutOrStdout(), results)
				} else {
					err = writeRestoreResults(cmd.OutOrStdout(), results)
				}
				if err != nil {
					return err
				}
				return failedActions(rs.FailedCount())
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute changes without writing")

	return cmd
}

// restore runs every restore item of r and folds the outcomes into its plan.
func (s *session) restore(ctx context.Context, r *run, dryRun bool) []restorers.Result {
	backup := func(target string) (string, error) {
		return s.recorder.Backup(r.id, target)
	}

	restorer := restorers.New(r.manifestDir(), backup, s.logger)
	results := restorer.RestoreAll(ctx, r.manifest.Restore, dryRun)
	restorers.ApplyResults(r.plan, results)

	for _, res := range results {
		if res.Status == engine.StatusFail {
			s.tel.Metrics.RecordError("restore")
		}
	}
	return results
}

// auditRestores records every file the run changed or failed to change.
func (s *session) auditRestores(ctx context.Context, rs *state.RunState, results []restorers.Result) {
	if rs.DryRun {
		return
	}
	for _, res := range results {
		switch {
		case res.Status == engine.StatusFail:
			s.audit(ctx, "restore.failed", rs.User, rs.RunID, res.Target, res.Message)
		case res.Reason == engine.ReasonRestored:
			details := fmt.Sprintf("type=%s source=%s", res.Type, res.Source)
			if res.Backup != "" {
				details += " backup=" + res.Backup
			}
			s.audit(ctx, "restore.applied", rs.User, rs.RunID, res.Target, details)
		}
	}
}
