package commands

import (
	"context"

	"github.com/spf13/cobra"
)

func newVerifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the machine against the manifest and record the result",
		Long: `Check installed apps and run the manifest's verify checks.

Unlike plan, verify records the outcome as a run so that diff and report
can track drift over time. Nothing is installed or restored.`,
		Example: `  # Verify and record
  endstate verify

  # Verify a specific manifest, JSON output
  endstate verify -m ./workstation.jsonc --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				r, err := s.plan(ctx, planRequest{})
				if err != nil {
					return err
				}

				rs, err := s.record(ctx, r.plan, "verify", false)
				if err != nil {
					return err
				}

				if jsonOutput {
					err = writeJSON(cmd.OutOrStdout(), rs)
				} else {
					err = writePlan(cmd.OutOrStdout(), r.plan)
				}
				if err != nil {
					return err
				}
				return failedActions(rs.FailedCount())
			})
		},
	}

	return cmd
}
