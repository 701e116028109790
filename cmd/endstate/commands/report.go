package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/openfroyo/endstate/pkg/state"
	"github.com/openfroyo/endstate/pkg/stores"
)

func newReportCommand() *cobra.Command {
	var (
		limit     int
		format    string
		fromIndex bool
		audit     bool
		action    string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarise recent runs",
		Long: `Summarise the most recent runs and the actions that fail most often.

Runs are read from the state dir, newest first; unreadable state files are
skipped. With --from-index both the runs and the failure frequencies come
from the SQLite run index, and the frequencies cover the whole indexed
history instead of the last --limit runs.

With --audit the audit trail of the run index is listed instead, newest
first, optionally filtered by --action (for example restore.applied).

Formats: text (default), pretty, json, yaml. The audit view supports text
and json.`,
		Example: `  # Last 10 runs
  endstate report

  # Last 50 runs as YAML
  endstate report --limit 50 --format yaml

  # Failure frequencies over the whole history
  endstate report --from-index --format pretty

  # Files replaced by restore
  endstate report --audit --action restore.applied`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				format = "json"
			}
			if _, err := state.GetFormatter(format); err != nil {
				return err
			}
			if action != "" && !audit {
				return fmt.Errorf("--action requires --audit")
			}

			return withSession(cmd, func(ctx context.Context, s *session) error {
				if (fromIndex || audit) && s.index == nil {
					return fmt.Errorf("run index is disabled or unavailable")
				}

				if audit {
					var filter *string
					if action != "" {
						filter = &action
					}
					entries, err := s.index.ListAuditEntries(ctx, filter, limit, 0)
					if err != nil {
						return fmt.Errorf("failed to query audit trail: %w", err)
					}
					if format == "json" {
						return writeJSON(cmd.OutOrStdout(), entries)
					}
					return writeAudit(cmd.OutOrStdout(), entries)
				}

				var report *state.Report
				if fromIndex {
					var err error
					if report, err = indexReport(ctx, s.index, limit); err != nil {
						return err
					}
				} else {
					runs, err := s.recorder.History(limit)
					if err != nil {
						return err
					}
					report = state.BuildReport(runs)
				}

				out, err := state.RenderReport(report, format)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "number of recent runs or audit entries to include (0 = all)")
	cmd.Flags().StringVar(&format, "format", "text", "output format (text, pretty, json, yaml)")
	cmd.Flags().BoolVar(&fromIndex, "from-index", false, "read runs and failure frequencies from the run index")
	cmd.Flags().BoolVar(&audit, "audit", false, "list the audit trail instead of runs")
	cmd.Flags().StringVar(&action, "action", "", "only list audit entries with this action")

	return cmd
}

// indexReport builds a report from the run index. Failure frequencies span
// every indexed run regardless of limit.
func indexReport(ctx context.Context, index stores.Store, limit int) (*state.Report, error) {
	records, err := index.ListRuns(ctx, limit, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to query run index: %w", err)
	}
	items, err := index.FailureCounts(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to query run index: %w", err)
	}

	report := &state.Report{
		Runs:        make([]state.RunRow, 0, len(records)),
		FailedItems: items,
	}
	for _, rec := range records {
		report.AddRow(rec.Row())
	}
	return report, nil
}

func writeAudit(w io.Writer, entries []*stores.AuditEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No audit entries.")
		return err
	}

	deref := func(p *string) string {
		if p == nil {
			return "-"
		}
		return *p
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tACTION\tACTOR\tRUN\tTARGET\tDETAILS")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			humanize.Time(e.Timestamp), e.Action, e.Actor,
			deref(e.RunID), deref(e.Target), deref(e.Details))
	}
	return tw.Flush()
}
