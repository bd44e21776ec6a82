package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/dersweep/internal/clock"
	"github.com/roach88/dersweep/internal/device"
	"github.com/roach88/dersweep/internal/metrics"
	"github.com/roach88/dersweep/internal/recorder"
	"github.com/roach88/dersweep/internal/startup"
	"github.com/roach88/dersweep/internal/sweep"
)

// Session is the run context handed to a procedure. Devices that the
// procedure did not require, or that are optional and absent, are nil.
type Session struct {
	RunID     string
	Procedure string

	Bench *device.Bench
	EUT   device.EUT
	HIL   device.HIL
	PV    device.PVSim
	Grid  device.GridSim
	DAQ   device.DAQ

	Nameplate device.Nameplate
	Startup   startup.Result

	Recorder *recorder.Recorder
	Engine   *sweep.Engine
	Sleeper  clock.Sleeper
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// HasDAQ reports whether steps can be captured.
func (s *Session) HasDAQ() bool {
	return s.DAQ != nil
}

// ArtifactName names the dataset of the nth capture window.
func (s *Session) ArtifactName(n int) string {
	return ArtifactName(s.Procedure, n)
}

// ArtifactName names the dataset of the nth capture window of procedure.
func ArtifactName(procedure string, n int) string {
	return fmt.Sprintf("%s_run_%d.csv", strings.ReplaceAll(procedure, "-", "_"), n)
}

// EnableFunction enables a function on the EUT. It is disabled again in
// Finalizing if the procedure does not disable it first.
func (s *Session) EnableFunction(ctx context.Context, kind device.FunctionKind, params device.FunctionParams) error {
	return s.Bench.EnableFunction(ctx, kind, params)
}

// DisableFunction disables a function on the EUT.
func (s *Session) DisableFunction(ctx context.Context, kind device.FunctionKind) error {
	if err := s.Bench.DisableFunction(ctx, kind); err != nil {
		return err
	}
	s.Logger.Info("function disabled", "function", kind)
	return nil
}

// Sweep runs spec on the session's engine and counts its steps.
func (s *Session) Sweep(ctx context.Context, spec sweep.Spec, observe sweep.Observer) ([]sweep.StepResult, error) {
	s.Logger.Info("sweep started", "sweep", spec.Name, "setpoints", len(spec.Setpoints), "dwell", spec.Dwell)
	return s.Engine.Run(ctx, spec, func(ctx context.Context, step sweep.StepResult) error {
		s.Metrics.SetpointApplied(spec.Name)
		if step.HasSample {
			s.Metrics.SampleCaptured(step.Sample.Total.Source.String(), step.Sample.Total.Value)
		}
		if observe == nil {
			return nil
		}
		return observe(ctx, step)
	})
}

// AddRow records a summary row.
func (s *Session) AddRow(ctx context.Context, row recorder.Row) error {
	if err := s.Recorder.AddRow(ctx, row); err != nil {
		return err
	}
	s.Metrics.RowRecorded()
	return nil
}

// StepRow builds the summary row for a completed step.
func StepRow(run int, step sweep.StepResult) recorder.Row {
	row := recorder.Row{Run: run, Setpoint: step.Setpoint.Value, EUTReported: step.EUTPower}
	if step.HasSample {
		row.DAQTotal = step.Sample.Total.Value
	}
	return row
}

// Capture opens a capture window, runs fn, then stops the window and
// exports it as the nth artifact. Without a DAQ fn runs uncaptured. When
// fn fails the window is left open for Finalizing to flush.
func (s *Session) Capture(ctx context.Context, n int, fn func(ctx context.Context) error) error {
	if !s.HasDAQ() {
		return fn(ctx)
	}
	if err := s.Recorder.StartCapture(ctx); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		return err
	}
	if err := s.Recorder.StopCapture(ctx); err != nil {
		return err
	}
	_, err := s.Recorder.Export(ctx, s.ArtifactName(n))
	return err
}
