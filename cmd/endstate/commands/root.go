package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath   string
	manifestPath string
	stateDir     string
	driverName   string
	verbose      bool
	jsonOutput   bool
)

// maxExitCode keeps failure counts clear of the shell's signal range.
const maxExitCode = 125

// FailedActionsError reports a command that completed with failed actions.
type FailedActionsError struct {
	Count int
}

func (e *FailedActionsError) Error() string {
	return fmt.Sprintf("%d action(s) failed", e.Count)
}

// ExitCode maps a command error to the process exit code: the failed action
// count (capped at 125) for FailedActionsError, 1 for any other error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var failed *FailedActionsError
	if errors.As(err, &failed) {
		return min(max(failed.Count, 1), maxExitCode)
	}
	return 1
}

// IsFailedActions reports whether err only signals failed actions.
func IsFailedActions(err error) bool {
	var failed *FailedActionsError
	return errors.As(err, &failed)
}

func failedActions(n int) error {
	if n == 0 {
		return nil
	}
	return &FailedActionsError{Count: n}
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "endstate",
		Short: "endstate - declarative machine convergence",
		Long: `endstate converges a machine towards a declarative manifest.

It resolves a manifest and its includes, compares the apps, verify checks
and restore items against the machine, installs what is missing through
the platform package manager and records every run as a JSON state file.

The exit code of plan, apply, verify and restore is the number of failed
actions (0 = fully converged).`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&manifestPath, "manifest", "m", "", "manifest file path")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "directory for run state files")
	rootCmd.PersistentFlags().StringVar(&driverName, "driver", "", "package manager driver (winget, apt, brew, fake)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newCaptureCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newVerifyCommand())
	rootCmd.AddCommand(newRestoreCommand())
	rootCmd.AddCommand(newDiffCommand())
	rootCmd.AddCommand(newReportCommand())
	rootCmd.AddCommand(newDoctorCommand())

	return rootCmd
}
