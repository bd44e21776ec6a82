package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/dersweep/internal/store"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Database string
	Rows     bool
}

// RunSummary is one line of run history.
type RunSummary struct {
	Seq        int64     `json:"seq"`
	ID         string    `json:"id"`
	Procedure  string    `json:"procedure"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// RunDetail is the stored record of one run.
type RunDetail struct {
	RunSummary
	States    []string       `json:"states"`
	Params    map[string]any `json:"params"`
	Error     string         `json:"error,omitempty"`
	Rows      []ReportRow    `json:"rows"`
	Samples   int            `json:"samples"`
	Artifacts []string       `json:"artifacts"`
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "Show recorded runs",
		Long: `Show the runs recorded in a database by "run --db".

Without an argument every run is listed in start order. With a run ID
the run's states, parameters, error and artifacts are shown.

Examples:
  dersweep runs --db ./dersweep.db
  dersweep runs --db ./dersweep.db 0192f0c4-7c1e-7d4a-9a59-5c1f0e6b2a11 --rows
  dersweep runs --db ./dersweep.db --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().BoolVar(&opts.Rows, "rows", false, "include summary rows in text output")

	return cmd
}

func runRuns(opts *RunsOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// store.Open would create a missing database.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	if len(args) == 0 {
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		summaries := make([]RunSummary, len(runs))
		for i, r := range runs {
			summaries[i] = summarize(r)
		}
		if opts.Format == "json" {
			return formatter.Success(summaries)
		}
		writeRunList(cmd.OutOrStdout(), summaries)
		return nil
	}

	detail, err := loadRunDetail(ctx, st, args[0])
	if errors.Is(err, store.ErrRunNotFound) {
		_ = formatter.Error("NOT_FOUND", fmt.Sprintf("no run %s", args[0]), nil)
		return WrapExitError(ExitFailure, "run not found", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}
	if opts.Format == "json" {
		return formatter.Success(detail)
	}
	writeRunDetail(cmd.OutOrStdout(), detail, opts.Rows || opts.Verbose)
	return nil
}

func summarize(r store.Run) RunSummary {
	return RunSummary{
		Seq:        r.Seq,
		ID:         r.ID,
		Procedure:  r.Procedure,
		Status:     r.Status,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

func loadRunDetail(ctx context.Context, st *store.Store, id string) (RunDetail, error) {
	run, err := st.GetRun(ctx, id)
	if err != nil {
		return RunDetail{}, err
	}
	rows, err := st.ReadRows(ctx, id)
	if err != nil {
		return RunDetail{}, err
	}
	samples, err := st.ReadSamples(ctx, id)
	if err != nil {
		return RunDetail{}, err
	}
	artifacts, err := st.ReadArtifacts(ctx, id)
	if err != nil {
		return RunDetail{}, err
	}

	d := RunDetail{
		RunSummary: summarize(run),
		States:     run.States,
		Params:     run.Params,
		Error:      run.Error,
		Rows:       make([]ReportRow, len(rows)),
		Samples:    len(samples),
		Artifacts:  make([]string, len(artifacts)),
	}
	for i, r := range rows {
		d.Rows[i] = ReportRow{Run: r.Run, Setpoint: r.Setpoint, EUTW: r.EUTReported, DAQW: r.DAQTotal}
	}
	for i, a := range artifacts {
		d.Artifacts[i] = a.Name
	}
	return d, nil
}

func writeRunList(w io.Writer, runs []RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return
	}
	for _, r := range runs {
		fmt.Fprintf(w, "%4d  %s  %-12s %-8s %s\n",
			r.Seq, truncateID(r.ID), r.Procedure, r.Status, r.StartedAt.Format(time.RFC3339))
	}
}

func writeRunDetail(w io.Writer, d RunDetail, rows bool) {
	fmt.Fprintf(w, "Run %s (%s)\n", d.ID, d.Procedure)
	fmt.Fprintf(w, "Status: %s\n", d.Status)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== States ===")
	fmt.Fprintf(w, "  %s\n", strings.Join(d.States, " -> "))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Params ===")
	fmt.Fprintf(w, "  %s\n", formatArgs(d.Params))
	fmt.Fprintln(w)

	if d.Error != "" {
		fmt.Fprintln(w, "=== Error ===")
		fmt.Fprintf(w, "  %s\n", d.Error)
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "=== Artifacts ===")
	if len(d.Artifacts) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, a := range d.Artifacts {
		fmt.Fprintf(w, "  %s\n", a)
	}
	fmt.Fprintln(w)

	if rows {
		fmt.Fprintln(w, "=== Rows ===")
		for _, r := range d.Rows {
			fmt.Fprintf(w, "  [%d] %-10g EUT %12s  DAQ %12s\n", r.Run, r.Setpoint, watts(r.EUTW), watts(r.DAQW))
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Rows:      %s\n", printer.Sprintf("%d", len(d.Rows)))
	fmt.Fprintf(w, "  Samples:   %s\n", printer.Sprintf("%d", d.Samples))
	fmt.Fprintf(w, "  Artifacts: %d\n", len(d.Artifacts))
}

// formatArgs formats a map for display.
// Uses sorted keys to ensure deterministic output.
func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(args[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// formatValue formats a single value for display, handling nested structures deterministically.
func formatValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		return formatArgs(val)
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []float64:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = fmt.Sprintf("%g", elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return val
	default:
		return fmt.Sprintf("%v", v)
	}
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
