package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/restorers"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writePlan renders plan actions as a table followed by the summary line.
func writePlan(w io.Writer, plan *engine.Plan) error {
	fmt.Fprintf(w, "Run %s  manifest %s (%s)\n\n", plan.RunID, plan.Manifest.Name, shortHash(plan.Manifest.Hash))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tTYPE\tID\tREF\tDETAIL")
	for _, a := range plan.Actions {
		detail := a.Message
		if a.Reason != "" {
			detail = fmt.Sprintf("%s: %s", a.Reason, a.Message)
			if a.Message == "" {
				detail = string(a.Reason)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.Status, a.Type, a.ID, a.Ref, detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := plan.Summary
	_, err := fmt.Fprintf(w, "\ninstall=%d skip=%d restore=%d verify=%d failed=%d\n",
		s.Install, s.Skip, s.Restore, s.Verify, plan.FailedCount())
	return err
}

func writeRestoreResults(w io.Writer, results []restorers.Result) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(w, "No restore items.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tTYPE\tTARGET\tBACKUP\tDETAIL")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Status, r.Type, r.Target, r.Backup, r.Message)
	}
	return tw.Flush()
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
