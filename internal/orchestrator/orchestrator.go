package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/dersweep/internal/clock"
	"github.com/roach88/dersweep/internal/device"
	"github.com/roach88/dersweep/internal/metrics"
	"github.com/roach88/dersweep/internal/recorder"
	"github.com/roach88/dersweep/internal/startup"
	"github.com/roach88/dersweep/internal/store"
	"github.com/roach88/dersweep/internal/sweep"
)

// State is a run state.
type State string

const (
	StateInit          State = "INIT"
	StateDeviceSetup   State = "DEVICE_SETUP"
	StateSynchronizing State = "SYNCHRONIZING"
	StateSweeping      State = "SWEEPING"
	StateFinalizing    State = "FINALIZING"
	StateDone          State = "DONE"
)

// Status is the final outcome of a run.
type Status string

const (
	StatusComplete Status = "COMPLETE"
	StatusFail     Status = "FAIL"
)

// SummaryFile is the name of the summary CSV written to the output directory.
const SummaryFile = "result_summary.csv"

// Requirements lists the devices a procedure needs besides the EUT.
type Requirements struct {
	HIL  bool
	PV   bool
	Grid bool
	DAQ  bool

	// SoftChannels are registered on the DAQ when it is opened.
	SoftChannels []string
}

// Procedure is one test procedure.
type Procedure interface {
	Name() string
	Requirements() Requirements

	// Setup runs after every device is acquired.
	Setup(ctx context.Context, s *Session) error

	// Startup returns the synchronizer configuration, or nil to skip
	// Synchronizing.
	Startup() *startup.Config

	// Sweep runs the procedure's sweeps.
	Sweep(ctx context.Context, s *Session) error
}

// RunStore persists run records. *store.Store implements it.
type RunStore interface {
	recorder.Sink
	CreateRun(ctx context.Context, run store.Run) error
	FinishRun(ctx context.Context, id, status, errMsg string, states []string, finished time.Time) error
}

// RunIDGenerator produces run IDs.
type RunIDGenerator interface {
	Generate() string
}

// UUIDv7Generator produces time-ordered UUIDv7 run IDs.
type UUIDv7Generator struct{}

func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Options configures an Orchestrator. Only Driver is required.
type Options struct {
	Driver    device.Driver
	Store     RunStore
	OutputDir string
	Params    map[string]any
	Sleeper   clock.Sleeper
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	RunIDs    RunIDGenerator
	Now       func() time.Time
}

// Orchestrator drives procedures through the run state machine.
type Orchestrator struct {
	opts Options
}

func New(opts Options) *Orchestrator {
	if opts.Sleeper == nil {
		opts.Sleeper = clock.RealSleeper{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.RunIDs == nil {
		opts.RunIDs = UUIDv7Generator{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{opts: opts}
}

// RunResult is produced exactly once per run.
type RunResult struct {
	RunID     string
	Procedure string
	Status    Status
	States    []State

	Startup   startup.Result
	Rows      []recorder.Row
	Samples   []recorder.Sample
	Artifacts []recorder.Artifact

	SummaryPath string
	StartedAt   time.Time
	FinishedAt  time.Time

	// Err is the failure that ended the run joined with any
	// finalization failures. Nil when Status is COMPLETE.
	Err error
}

func (r *RunResult) enter(s State, logger *slog.Logger) {
	r.States = append(r.States, s)
	logger.Debug("state", "state", s)
}

// Run executes proc and returns its result. It never panics and never
// returns nil.
func (o *Orchestrator) Run(ctx context.Context, proc Procedure) (res *RunResult) {
	runID := o.opts.RunIDs.Generate()
	logger := o.opts.Logger.With("run_id", runID, "procedure", proc.Name())

	res = &RunResult{
		RunID:     runID,
		Procedure: proc.Name(),
		StartedAt: o.opts.Now(),
	}
	sess := &Session{
		RunID:     runID,
		Procedure: proc.Name(),
		Bench:     device.NewBench(logger),
		Sleeper:   o.opts.Sleeper,
		Logger:    logger,
		Metrics:   o.opts.Metrics,
	}

	var runErr error
	defer func() {
		if p := recover(); p != nil {
			logger.Error("procedure panicked", "panic", p, "stack", string(debug.Stack()))
			runErr = &PanicError{Value: p}
		}
		o.finalize(ctx, sess, res, runErr)
	}()

	res.enter(StateInit, logger)
	runErr = o.execute(ctx, proc, sess, res)
	return res
}

func (o *Orchestrator) execute(ctx context.Context, proc Procedure, sess *Session, res *RunResult) error {
	if o.opts.Driver == nil {
		return errors.New("no device driver configured")
	}
	if o.opts.Store != nil {
		err := o.opts.Store.CreateRun(ctx, store.Run{
			ID:        sess.RunID,
			Procedure: sess.Procedure,
			StartedAt: res.StartedAt,
			Params:    o.opts.Params,
		})
		if err != nil {
			return err
		}
	}
	sess.Logger.Info("run started", "driver", o.opts.Driver.Name())

	res.enter(StateDeviceSetup, sess.Logger)
	if err := o.setup(ctx, proc, sess); err != nil {
		return err
	}

	if cfg := proc.Startup(); cfg != nil {
		res.enter(StateSynchronizing, sess.Logger)
		sync := startup.New(*cfg, sess.Sleeper, sess.Logger)
		result, err := sync.Run(ctx, sess.EUT, sess.PV)
		sess.Startup, res.Startup = result, result
		if err != nil {
			var te *startup.TimeoutError
			if errors.As(err, &te) {
				sess.Metrics.StartupPolls(te.Polls)
			}
			return err
		}
		sess.Metrics.StartupPolls(result.Polls)
	}

	res.enter(StateSweeping, sess.Logger)
	return proc.Sweep(ctx, sess)
}

// setup acquires devices in fixed order: EUT, HIL, PV, grid, DAQ.
func (o *Orchestrator) setup(ctx context.Context, proc Procedure, sess *Session) error {
	drv := o.opts.Driver
	req := proc.Requirements()
	b := sess.Bench

	var err error
	if sess.EUT, err = device.Acquire(ctx, b, device.KindEUT, drv.OpenEUT); err != nil {
		return err
	}
	if req.HIL {
		if sess.HIL, err = device.Acquire(ctx, b, device.KindHIL, drv.OpenHIL); err != nil {
			return err
		}
	}
	if req.PV {
		if sess.PV, err = device.Acquire(ctx, b, device.KindPVSim, drv.OpenPVSim); err != nil {
			return err
		}
	}
	if req.Grid {
		if sess.Grid, err = device.Acquire(ctx, b, device.KindGridSim, drv.OpenGridSim); err != nil {
			return err
		}
	}
	if req.DAQ {
		openDAQ := func(ctx context.Context) (device.DAQ, error) {
			return drv.OpenDAQ(ctx, req.SoftChannels)
		}
		if sess.DAQ, err = device.Acquire(ctx, b, device.KindDAQ, openDAQ); err != nil {
			return err
		}
		sess.Logger.Info("DAQ configured", "info", sess.DAQ.Info())
	}

	sess.Recorder = recorder.New(sess.DAQ, recorder.Options{
		RunID:  sess.RunID,
		Dir:    o.opts.OutputDir,
		Sink:   o.opts.Store,
		Logger: sess.Logger,
	})
	sess.Engine = sweep.New(sess.EUT, sess.Recorder, sess.Sleeper, sess.Logger)

	np, err := sess.EUT.Nameplate(ctx)
	if err != nil {
		return device.Comm(device.KindEUT, "read nameplate", err)
	}
	sess.Nameplate = np
	sess.Logger.Info("EUT nameplate", "rated_w", np.RatedPower, "rated_va", np.RatedVA)

	return proc.Setup(ctx, sess)
}

// finalize runs exactly once per run, whatever state the run failed in.
func (o *Orchestrator) finalize(ctx context.Context, sess *Session, res *RunResult, runErr error) {
	res.enter(StateFinalizing, sess.Logger)
	fctx := context.WithoutCancel(ctx)
	errs := []error{runErr}

	if runErr != nil {
		sess.Metrics.Error(ErrorCode(runErr))
		sess.Logger.Error("run failed", "code", ErrorCode(runErr), "error", runErr)
	}

	rec := sess.Recorder
	if rec == nil {
		rec = recorder.New(nil, recorder.Options{RunID: sess.RunID, Logger: sess.Logger})
	}
	if rec.HasDAQ() {
		name := sess.ArtifactName(rec.WindowCount())
		if flushed, err := rec.Flush(fctx, name); err != nil {
			sess.Logger.Error("failed to flush capture window", "file", name, "error", err)
			errs = append(errs, err)
		} else if flushed {
			sess.Logger.Info("flushed partial capture window", "file", name)
		}
	}

	if err := sess.Bench.Release(fctx); err != nil {
		errs = append(errs, fmt.Errorf("release devices: %w", err))
	}

	if o.opts.OutputDir != "" {
		path := filepath.Join(o.opts.OutputDir, SummaryFile)
		if err := rec.WriteSummary(path); err != nil {
			sess.Logger.Error("failed to write summary", "error", err)
			errs = append(errs, err)
		} else {
			res.SummaryPath = path
		}
	}

	res.Rows = rec.Rows()
	res.Samples = rec.Samples()
	res.Artifacts = rec.Artifacts()
	res.Err = errors.Join(errs...)
	res.Status = StatusComplete
	if res.Err != nil {
		res.Status = StatusFail
	}
	res.FinishedAt = o.opts.Now()
	res.enter(StateDone, sess.Logger)

	if o.opts.Store != nil {
		states := make([]string, len(res.States))
		for i, s := range res.States {
			states[i] = string(s)
		}
		errMsg := ""
		if res.Err != nil {
			errMsg = res.Err.Error()
		}
		if err := o.opts.Store.FinishRun(fctx, res.RunID, string(res.Status), errMsg, states, res.FinishedAt); err != nil {
			// The run outcome stands; the record is just incomplete.
			sess.Logger.Error("failed to persist run status", "error", err)
		}
	}

	sess.Metrics.RunFinished(res.Procedure, string(res.Status), res.FinishedAt.Sub(res.StartedAt).Seconds())
	sess.Logger.Info("run finished", "status", res.Status, "rows", len(res.Rows), "artifacts", len(res.Artifacts))
}
