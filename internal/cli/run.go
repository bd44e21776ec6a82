package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/dersweep/internal/clock"
	"github.com/roach88/dersweep/internal/config"
	"github.com/roach88/dersweep/internal/device/sim"
	"github.com/roach88/dersweep/internal/metrics"
	"github.com/roach88/dersweep/internal/orchestrator"
	"github.com/roach88/dersweep/internal/procedure"
	"github.com/roach88/dersweep/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database    string
	OutputDir   string
	MetricsFile string

	// Sleeper and RunIDs override the real clock and UUIDv7 run IDs (for testing).
	Sleeper clock.Sleeper
	RunIDs  orchestrator.RunIDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}
	return newRunCommand(opts)
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <config>",
		Short: "Run the test procedure a config file describes",
		Long: `Run one test procedure end to end.

The config names the procedure, the bench and the procedure's sweep
settings. Summary rows and per-window DAQ datasets are written to the
output directory. With --db the run is also recorded in a SQLite database.

Exit status is 0 when the run completes, 1 when it ends FAIL and 2 when
the command itself could not start.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "record the run in this SQLite database")
	cmd.Flags().StringVarP(&opts.OutputDir, "output", "o", "", "output directory (overrides output_dir in the config)")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write run metrics in Prometheus text format to this file")

	return cmd
}

// RunReport is the JSON payload of a finished run.
type RunReport struct {
	RunID      string     `json:"run_id"`
	Procedure  string     `json:"procedure"`
	Status     string     `json:"status"`
	States     []string   `json:"states"`
	Rows       int        `json:"rows"`
	Artifacts  []string   `json:"artifacts"`
	Summary    string     `json:"summary,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Error      *CLIError  `json:"error,omitempty"`
	Last       *ReportRow `json:"last_row,omitempty"`
}

// ReportRow is one summary row in a report.
type ReportRow struct {
	Run      int     `json:"run"`
	Setpoint float64 `json:"setpoint"`
	EUTW     float64 `json:"eut_w"`
	DAQW     float64 `json:"daq_w"`
}

func runRun(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	cfg, err := config.Load(path)
	if err != nil {
		_ = formatter.Error("CONFIG", err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	// Flags win over the config file.
	if opts.OutputDir != "" {
		cfg.OutputDir = opts.OutputDir
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.MetricsFile != "" {
		cfg.MetricsFile = opts.MetricsFile
	}
	proc, err := procedure.New(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build procedure", err)
	}
	formatter.VerboseLog("procedure %s, output %s", proc.Name(), cfg.OutputDir)

	orchOpts := orchestrator.Options{
		Driver:    sim.NewDriver(cfg.SimBench()),
		OutputDir: cfg.OutputDir,
		Params:    cfg.Params(),
		Sleeper:   opts.Sleeper,
		Logger:    logger,
		RunIDs:    opts.RunIDs,
	}

	if cfg.Database != "" {
		logger.Info("opening database", "path", cfg.Database)
		st, err := store.Open(cfg.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		orchOpts.Store = st
	}

	var m *metrics.Metrics
	if cfg.MetricsFile != "" {
		m = metrics.New()
		orchOpts.Metrics = m
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, aborting run", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	res := orchestrator.New(orchOpts).Run(ctx, proc)

	if m != nil {
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Error("failed to write metrics file", "path", cfg.MetricsFile, "error", err)
		}
	}

	report := newRunReport(res)
	if opts.Format == "json" {
		if err := formatter.encode(CLIResponse{Status: "ok", Data: report, RunID: res.RunID}); err != nil {
			return err
		}
	} else {
		writeRunText(cmd.OutOrStdout(), report)
	}

	if res.Status != orchestrator.StatusComplete {
		return WrapExitError(ExitFailure, "run failed", res.Err)
	}
	return nil
}

func newRunReport(res *orchestrator.RunResult) RunReport {
	r := RunReport{
		RunID:      res.RunID,
		Procedure:  res.Procedure,
		Status:     string(res.Status),
		States:     make([]string, len(res.States)),
		Rows:       len(res.Rows),
		Artifacts:  make([]string, 0, len(res.Artifacts)),
		Summary:    res.SummaryPath,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	for i, s := range res.States {
		r.States[i] = string(s)
	}
	for _, a := range res.Artifacts {
		r.Artifacts = append(r.Artifacts, a.Name)
	}
	if n := len(res.Rows); n > 0 {
		last := res.Rows[n-1]
		r.Last = &ReportRow{Run: last.Run, Setpoint: last.Setpoint, EUTW: last.EUTReported, DAQW: last.DAQTotal}
	}
	if res.Err != nil {
		r.Error = &CLIError{Code: orchestrator.ErrorCode(res.Err), Message: res.Err.Error()}
	}
	return r
}

func writeRunText(w io.Writer, r RunReport) {
	fmt.Fprintf(w, "Run %s (%s): %s\n", r.RunID, r.Procedure, r.Status)
	fmt.Fprintf(w, "  States:    %v\n", r.States)
	fmt.Fprintf(w, "  Rows:      %s\n", printer.Sprintf("%d", r.Rows))
	if r.Last != nil {
		fmt.Fprintf(w, "  Last row:  run %d, setpoint %g, EUT %s, DAQ %s\n",
			r.Last.Run, r.Last.Setpoint, watts(r.Last.EUTW), watts(r.Last.DAQW))
	}
	for _, a := range r.Artifacts {
		fmt.Fprintf(w, "  Artifact:  %s\n", a)
	}
	if r.Summary != "" {
		fmt.Fprintf(w, "  Summary:   %s\n", r.Summary)
	}
	fmt.Fprintf(w, "  Duration:  %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	if r.Error != nil {
		fmt.Fprintf(w, "Error [%s]: %s\n", r.Error.Code, r.Error.Message)
	}
}
