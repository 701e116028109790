package commands

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/endstate/pkg/state"
)

func newDiffCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff [runA] [runB]",
		Short: "Compare two recorded runs",
		Long: `Compare the app actions of two recorded runs.

Runs are given as run IDs or state file paths. With no arguments the two
most recent runs are compared (older as A, newer as B); with one argument
that run is compared against the most recent one, or, when it is the most
recent one, against the run before it.

The report lists apps that pass in B but were absent or failing in A,
apps that A declared and B no longer does, and apps whose B action failed
on the version constraint.`,
		Example: `  # Compare the last two runs
  endstate diff

  # Compare two specific runs as JSON
  endstate diff 20260301-090000.000000-abcdef 20260302-090000.000000-123456 --json`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(_ context.Context, s *session) error {
				a, b, err := s.selectRuns(args)
				if err != nil {
					return err
				}

				report := state.Diff(a, b)
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), report)
				}

				var buf bytes.Buffer
				report.WriteText(&buf)
				_, err = cmd.OutOrStdout().Write(buf.Bytes())
				return err
			})
		},
	}

	return cmd
}

// selectRuns picks runs A and B for diff from zero, one or two arguments.
func (s *session) selectRuns(args []string) (*state.RunState, *state.RunState, error) {
	if len(args) == 2 {
		a, err := s.loadRun(args[0])
		if err != nil {
			return nil, nil, err
		}
		b, err := s.loadRun(args[1])
		if err != nil {
			return nil, nil, err
		}
		return a, b, nil
	}

	history, err := s.recorder.History(2)
	if err != nil {
		return nil, nil, err
	}

	if len(args) == 1 {
		if len(history) == 0 {
			return nil, nil, fmt.Errorf("no runs recorded in %s", s.recorder.Dir())
		}
		a, err := s.loadRun(args[0])
		if err != nil {
			return nil, nil, err
		}
		if a.RunID != history[0].RunID {
			return a, &history[0], nil
		}
		// The named run is the latest: compare it with the one before it.
		if len(history) < 2 {
			return nil, nil, fmt.Errorf("run %s is the only recorded run in %s", a.RunID, s.recorder.Dir())
		}
		return &history[1], a, nil
	}

	if len(history) < 2 {
		return nil, nil, fmt.Errorf("need at least two recorded runs in %s, found %d", s.recorder.Dir(), len(history))
	}
	return &history[1], &history[0], nil
}

// loadRun accepts a run ID or a path to a state file.
func (s *session) loadRun(ref string) (*state.RunState, error) {
	if state.ValidRunID(ref) {
		return s.recorder.LoadRun(ref)
	}
	if strings.HasSuffix(ref, ".json") {
		return s.recorder.Load(ref)
	}
	return nil, fmt.Errorf("%q is neither a run ID nor a state file", ref)
}
