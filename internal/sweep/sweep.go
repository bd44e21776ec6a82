// Package sweep steps a device through an ordered list of setpoints.
//
// For each setpoint the engine pushes the value, waits the dwell time and
// optionally samples: the EUT-reported power is read back and a DAQ
// capture is forced through the recorder. Steps run strictly in order
// and the first failure aborts the sweep; the caller decides what to do
// with an open capture window.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/dersweep/internal/clock"
	"github.com/roach88/dersweep/internal/device"
	"github.com/roach88/dersweep/internal/recorder"
)

// ApplyFunc pushes one setpoint to a device.
type ApplyFunc func(ctx context.Context, sp Setpoint) error

// Sampling describes what to capture after each dwell.
type Sampling struct {
	// Soft returns soft channel values written before the setpoint is
	// applied, such as the commanded target. May be nil.
	Soft func(sp Setpoint) map[string]float64

	// ReadBack reads the EUT-reported active power after the dwell and
	// feeds it into the W_INV soft channel when a DAQ is present.
	ReadBack bool

	// Capture forces a DAQ sample after the dwell.
	Capture bool
}

// Spec is one sweep.
type Spec struct {
	Name      string
	Setpoints []Setpoint
	Dwell     time.Duration
	Apply     ApplyFunc
	Sampling  *Sampling
}

// StepResult is what one step observed.
type StepResult struct {
	Index    int
	Setpoint Setpoint

	EUTPower float64
	HasPower bool

	Sample    recorder.Sample
	HasSample bool
}

// Observer is called after every completed step. Returning an error
// aborts the sweep.
type Observer func(ctx context.Context, step StepResult) error

// StepError identifies the step a sweep failed on.
type StepError struct {
	Sweep    string
	Index    int
	Setpoint Setpoint
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("sweep %s step %d (%s): %v", e.Sweep, e.Index, e.Setpoint, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// AsStepError extracts a StepError from err.
func AsStepError(err error) (*StepError, bool) {
	var se *StepError
	ok := errors.As(err, &se)
	return se, ok
}

// Engine runs sweeps. The recorder is borrowed for the duration of each
// Run; the engine never owns devices.
type Engine struct {
	eut     device.EUT
	rec     *recorder.Recorder
	sleeper clock.Sleeper
	logger  *slog.Logger

	applied []Setpoint
}

// New creates an engine. eut and rec may be nil when the sweeps it runs
// do not sample.
func New(eut device.EUT, rec *recorder.Recorder, sleeper clock.Sleeper, logger *slog.Logger) *Engine {
	if sleeper == nil {
		sleeper = clock.RealSleeper{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{eut: eut, rec: rec, sleeper: sleeper, logger: logger}
}

// Applied returns every setpoint successfully applied, across all sweeps,
// in application order.
func (e *Engine) Applied() []Setpoint {
	return append([]Setpoint(nil), e.applied...)
}

// Run executes spec. It returns the results of the completed steps even
// when a later step fails.
func (e *Engine) Run(ctx context.Context, spec Spec, observe Observer) ([]StepResult, error) {
	if spec.Apply == nil {
		return nil, fmt.Errorf("sweep %s: no apply function", spec.Name)
	}
	if s := spec.Sampling; s != nil {
		if s.ReadBack && e.eut == nil {
			return nil, fmt.Errorf("sweep %s: read-back requires an EUT", spec.Name)
		}
		if s.Capture && (e.rec == nil || !e.rec.HasDAQ()) {
			return nil, fmt.Errorf("sweep %s: %w", spec.Name, recorder.ErrNoDAQ)
		}
	}

	results := make([]StepResult, 0, len(spec.Setpoints))
	for i, sp := range spec.Setpoints {
		res, err := e.step(ctx, spec, i, sp)
		if err != nil {
			return results, &StepError{Sweep: spec.Name, Index: i, Setpoint: sp, Err: err}
		}
		results = append(results, res)
		if observe != nil {
			if err := observe(ctx, res); err != nil {
				return results, &StepError{Sweep: spec.Name, Index: i, Setpoint: sp, Err: err}
			}
		}
	}
	return results, nil
}

func (e *Engine) step(ctx context.Context, spec Spec, i int, sp Setpoint) (StepResult, error) {
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}
	res := StepResult{Index: i, Setpoint: sp}
	s := spec.Sampling

	if s != nil && s.Soft != nil && e.rec != nil && e.rec.HasDAQ() {
		for name, v := range s.Soft(sp) {
			if err := e.rec.SetSoft(name, v); err != nil {
				return res, err
			}
		}
	}

	if err := spec.Apply(ctx, sp); err != nil {
		return res, err
	}
	e.applied = append(e.applied, sp)
	e.logger.Info("setpoint applied", "sweep", spec.Name, "step", i, "setpoint", sp.String())

	if err := e.sleeper.Sleep(ctx, spec.Dwell); err != nil {
		return res, fmt.Errorf("dwell: %w", err)
	}
	if s == nil {
		return res, nil
	}

	if s.ReadBack {
		m, err := e.eut.Measurements(ctx)
		if err != nil {
			return res, device.Comm(device.KindEUT, "read measurements", err)
		}
		res.EUTPower, res.HasPower = m.W, true
		if e.rec != nil && e.rec.HasSoft(recorder.SoftInverter) {
			if err := e.rec.SetSoft(recorder.SoftInverter, m.W); err != nil {
				return res, err
			}
		}
	}

	if s.Capture {
		sample, err := e.rec.Sample(ctx)
		if err != nil {
			return res, err
		}
		res.Sample, res.HasSample = sample, true
		e.logger.Debug("step sampled", "sweep", spec.Name, "step", i,
			"eut_w", res.EUTPower, "daq_w", sample.Total.Value)
	}
	return res, nil
}
