package commands

import (
	"context"

	"github.com/spf13/cobra"
)

func newPlanCommand() *cobra.Command {
	var enableRestore bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what apply would change",
		Long: `Compare the manifest against the machine and print the plan.

This command:
  - Resolves the manifest and its includes
  - Lists installed packages through the driver
  - Runs the verify checks
  - Prints one action per app, verify check and (optionally) restore item

Nothing is installed and no run state is written. The exit code is the
number of failed actions, i.e. how far the machine is from the manifest.`,
		Example: `  # Plan against the configured manifest
  endstate plan

  # Plan a specific manifest, including restore items, as JSON
  endstate plan -m ./workstation.jsonc --enable-restore --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				r, err := s.plan(ctx, planRequest{restore: s.cfg.Restore.Enabled})
				if err != nil {
					return err
				}

				if jsonOutput {
					err = writeJSON(cmd.OutOrStdout(), r.plan)
				} else {
					err = writePlan(cmd.OutOrStdout(), r.plan)
				}
				if err != nil {
					return err
				}
				return failedActions(r.plan.FailedCount())
			})
		},
	}

	cmd.Flags().BoolVar(&enableRestore, "enable-restore", false, "include restore items in the plan")

	return cmd
}
