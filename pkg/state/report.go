package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/endstate/pkg/engine"
)

// Report summarises recent run history.
type Report struct {
	Runs        []RunRow     `json:"runs" yaml:"runs"`
	Totals      Totals       `json:"totals" yaml:"totals"`
	FailedItems []FailedItem `json:"failedItems" yaml:"failed_items"`
}

// RunRow is one run in a report.
type RunRow struct {
	RunID     string    `json:"runId" yaml:"run_id"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Command   string    `json:"command" yaml:"command"`
	DryRun    bool      `json:"dryRun" yaml:"dry_run"`
	Install   int       `json:"install" yaml:"install"`
	Skip      int       `json:"skip" yaml:"skip"`
	Restore   int       `json:"restore" yaml:"restore"`
	Verify    int       `json:"verify" yaml:"verify"`
	Failed    int       `json:"failed" yaml:"failed"`
}

// Totals aggregates over every run in the report.
type Totals struct {
	Runs          int `json:"runs" yaml:"runs"`
	RunsWithFails int `json:"runsWithFailures" yaml:"runs_with_failures"`
	FailedActions int `json:"failedActions" yaml:"failed_actions"`
}

// FailedItem counts how often an action failed.
type FailedItem struct {
	ID          string            `json:"id" yaml:"id"`
	Type        engine.ActionType `json:"type" yaml:"type"`
	Count       int               `json:"count" yaml:"count"`
	LastMessage string            `json:"lastMessage,omitempty" yaml:"last_message,omitempty"`
}

// BuildReport builds a report from runs, which are expected newest first.
func BuildReport(runs []RunState) *Report {
	r := &Report{
		Runs:        make([]RunRow, 0, len(runs)),
		FailedItems: []FailedItem{},
	}

	type key struct {
		t  engine.ActionType
		id string
	}
	counts := map[key]*FailedItem{}

	for _, s := range runs {
		summary := engine.Summarize(s.Actions)
		failed := s.FailedCount()

		r.AddRow(RunRow{
			RunID:     s.RunID,
			Timestamp: s.Timestamp,
			Command:   s.Command,
			DryRun:    s.DryRun,
			Install:   summary.Install,
			Skip:      summary.Skip,
			Restore:   summary.Restore,
			Verify:    summary.Verify,
			Failed:    failed,
		})

		for _, a := range s.FailedActions() {
			k := key{a.Type, a.ID}
			item, ok := counts[k]
			if !ok {
				// Runs are newest first, so the first message seen is the latest.
				item = &FailedItem{ID: a.ID, Type: a.Type, LastMessage: a.Message}
				counts[k] = item
			}
			item.Count++
		}
	}

	for _, item := range counts {
		r.FailedItems = append(r.FailedItems, *item)
	}
	SortFailedItems(r.FailedItems)

	return r
}

// AddRow appends row and updates the totals.
func (r *Report) AddRow(row RunRow) {
	r.Runs = append(r.Runs, row)
	r.Totals.Runs++
	r.Totals.FailedActions += row.Failed
	if row.Failed > 0 {
		r.Totals.RunsWithFails++
	}
}

// SortFailedItems orders items by descending count, then type and id.
func SortFailedItems(items []FailedItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Count != items[j].Count {
			return items[i].Count > items[j].Count
		}
		if items[i].Type != items[j].Type {
			return items[i].Type < items[j].Type
		}
		return items[i].ID < items[j].ID
	})
}

// Formatter renders a report.
type Formatter interface {
	Format(w *bytes.Buffer, r *Report) error
}

// FormatterFactory creates a formatter.
type FormatterFactory func() Formatter

var (
	formattersMu sync.RWMutex
	formatters   = map[string]FormatterFactory{}
)

// RegisterFormatter makes a formatter available by name.
func RegisterFormatter(name string, factory FormatterFactory) {
	formattersMu.Lock()
	defer formattersMu.Unlock()
	formatters[name] = factory
}

// GetFormatter returns the formatter registered under name.
func GetFormatter(name string) (Formatter, error) {
	formattersMu.RLock()
	defer formattersMu.RUnlock()
	factory, ok := formatters[name]
	if !ok {
		return nil, fmt.Errorf("unknown report format %q (available: %s)", name, strings.Join(formatterNames(), ", "))
	}
	return factory(), nil
}

func formatterNames() []string {
	names := make([]string, 0, len(formatters))
	for name := range formatters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RenderReport renders r with the named formatter.
func RenderReport(r *Report, format string) ([]byte, error) {
	f, err := GetFormatter(format)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := f.Format(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// JSONFormatter renders a report as indented JSON.
type JSONFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONFormatter) Format(w *bytes.Buffer, r *Report) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

// YAMLFormatter renders a report as YAML.
type YAMLFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *YAMLFormatter) Format(w *bytes.Buffer, r *Report) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(r); err != nil {
		return err
	}
	return encoder.Close()
}

// TextFormatter renders a report as aligned plain-text tables.
type TextFormatter struct {
	// Now anchors relative times. Defaults to time.Now.
	Now func() time.Time
}

// Format writes the formatted output to the buffer.
func (f *TextFormatter) Format(w *bytes.Buffer, r *Report) error {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}

	if len(r.Runs) == 0 {
		w.WriteString("No runs recorded.\n")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tWHEN\tCOMMAND\tINSTALL\tSKIP\tRESTORE\tVERIFY\tFAILED")
	for _, row := range r.Runs {
		command := row.Command
		if row.DryRun {
			command += " (dry-run)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			row.RunID,
			humanize.RelTime(row.Timestamp, now(), "ago", "from now"),
			command,
			row.Install, row.Skip, row.Restore, row.Verify, row.Failed)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%s runs, %s with failures, %s failed actions\n",
		humanize.Comma(int64(r.Totals.Runs)),
		humanize.Comma(int64(r.Totals.RunsWithFails)),
		humanize.Comma(int64(r.Totals.FailedActions)))

	if len(r.FailedItems) == 0 {
		return nil
	}

	w.WriteString("\nMost frequent failures:\n")
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  TYPE\tID\tCOUNT\tLAST MESSAGE")
	for _, item := range r.FailedItems {
		fmt.Fprintf(tw, "  %s\t%s\t%d\t%s\n", item.Type, item.ID, item.Count, item.LastMessage)
	}
	return tw.Flush()
}

// Styles for the pretty formatter.
var (
	reportHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39"))

	reportOKStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	reportFailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	reportMuted     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	reportBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("245")).
			Padding(0, 1)
)

// PrettyFormatter renders a report with terminal styling.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Report) error {
	lines := []string{reportHeaderStyle.Render("endstate run history")}

	for _, row := range r.Runs {
		status := reportOKStyle.Render("ok")
		if row.Failed > 0 {
			status = reportFailStyle.Render(fmt.Sprintf("%d failed", row.Failed))
		}
		when := reportMuted.Render(humanize.Time(row.Timestamp))
		lines = append(lines, fmt.Sprintf("%s  %-8s %s  %s", row.RunID, row.Command, status, when))
	}
	if len(r.Runs) == 0 {
		lines = append(lines, reportMuted.Render("no runs recorded"))
	}

	w.WriteString(reportBox.Render(strings.Join(lines, "\n")))
	w.WriteString("\n")

	for _, item := range r.FailedItems {
		fmt.Fprintf(w, "%s %s/%s x%d\n", reportFailStyle.Render("✗"), item.Type, item.ID, item.Count)
	}
	return nil
}

func init() {
	RegisterFormatter("json", func() Formatter { return &JSONFormatter{} })
	RegisterFormatter("yaml", func() Formatter { return &YAMLFormatter{} })
	RegisterFormatter("text", func() Formatter { return &TextFormatter{} })
	RegisterFormatter("pretty", func() Formatter { return &PrettyFormatter{} })
}

// WriteText writes a human-readable drift summary.
func (r *DriftReport) WriteText(w *bytes.Buffer) {
	fmt.Fprintf(w, "Drift %s -> %s\n", r.RunA, r.RunB)
	if r.Empty() {
		w.WriteString("  no drift\n")
		return
	}
	section := func(title string, items []DriftItem) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(w, "%s (%d):\n", title, len(items))
		for _, item := range items {
			fmt.Fprintf(w, "  %s", item.ID)
			if item.Ref != "" {
				fmt.Fprintf(w, " [%s]", item.Ref)
			}
			if item.Detail != "" {
				fmt.Fprintf(w, ": %s", item.Detail)
			}
			w.WriteString("\n")
		}
	}
	section("Missing", r.Missing)
	section("Extra", r.Extra)
	section("Version mismatches", r.VersionMismatches)
}
