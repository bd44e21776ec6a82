package procedure

import (
	"context"

	"github.com/roach88/dersweep/internal/config"
	"github.com/roach88/dersweep/internal/device"
	"github.com/roach88/dersweep/internal/orchestrator"
	"github.com/roach88/dersweep/internal/startup"
	"github.com/roach88/dersweep/internal/sweep"
)

// freqWatt sweeps grid frequency with the frequency-watt function
// enabled, either as a pointwise curve or as start/stop/gradient
// parameters.
type freqWatt struct {
	cfg     config.FreqWattConfig
	daq     bool
	startup *startup.Config
}

func newFreqWatt(cfg *config.Config) *freqWatt {
	return &freqWatt{
		cfg: cfg.FreqWatt,
		daq: cfg.Bench.DAQ,
		startup: startupConfig(cfg, startup.Config{
			Timeout:      timeoutShort,
			Perturb:      ptr(cfg.FreqWatt.NudgeIrradiance),
			ConnectFirst: true,
		}),
	}
}

func (p *freqWatt) Name() string { return config.ProcFreqWatt }

func (p *freqWatt) Requirements() orchestrator.Requirements {
	return withDAQ(p.daq, orchestrator.Requirements{HIL: true, PV: true, Grid: true})
}

func (p *freqWatt) Setup(ctx context.Context, s *orchestrator.Session) error {
	return powerPV(ctx, s, p.cfg.PVIrradiance)
}

func (p *freqWatt) Startup() *startup.Config { return p.startup }

func (p *freqWatt) curve() device.FunctionParams {
	if p.cfg.Mode == config.ModeParameters {
		return device.FunctionParams{Values: map[string]float64{
			device.ParamHzStr:  p.cfg.HzStart,
			device.ParamHzStop: p.cfg.HzStop,
			device.ParamWGra:   p.cfg.Gradient,
			device.ParamHysEna: 0,
		}}
	}
	return device.FunctionParams{
		Values: map[string]float64{device.ParamActCrv: 1},
		Curve:  &device.Curve{ID: 1, X: p.cfg.Curve.X, Y: p.cfg.Curve.Y},
	}
}

func (p *freqWatt) Sweep(ctx context.Context, s *orchestrator.Session) error {
	if err := s.EnableFunction(ctx, device.FuncFreqWatt, p.curve()); err != nil {
		return err
	}
	s.Logger.Info("frequency-watt enabled", "mode", p.cfg.Mode)

	freqs := sweep.Linspace(p.cfg.Sweep.Start, p.cfg.Sweep.Stop, p.cfg.Sweep.Points)
	spec := sweep.Spec{
		Name:      config.ProcFreqWatt,
		Setpoints: sweep.Values(freqs, "%.3f Hz"),
		Dwell:     p.cfg.Dwell,
		Apply: func(ctx context.Context, sp sweep.Setpoint) error {
			return device.Comm(device.KindGridSim, "set frequency", s.Grid.SetFrequency(ctx, sp.Value))
		},
		Sampling: &sweep.Sampling{ReadBack: true, Capture: s.HasDAQ()},
	}
	if err := runSingle(ctx, s, spec); err != nil {
		return err
	}
	return s.DisableFunction(ctx, device.FuncFreqWatt)
}

// powerPV sets the PV simulator irradiance and powers it on.
func powerPV(ctx context.Context, s *orchestrator.Session, irradiance float64) error {
	if err := s.PV.SetIrradiance(ctx, irradiance); err != nil {
		return device.Comm(device.KindPVSim, "set irradiance", err)
	}
	if err := s.PV.PowerOn(ctx); err != nil {
		return device.Comm(device.KindPVSim, "power on", err)
	}
	s.Logger.Info("PV simulator on", "irradiance", irradiance)
	return nil
}

// runSingle runs one sweep in one capture window, recording a row per step.
func runSingle(ctx context.Context, s *orchestrator.Session, spec sweep.Spec) error {
	return s.Capture(ctx, 1, func(ctx context.Context) error {
		_, err := s.Sweep(ctx, spec, func(ctx context.Context, step sweep.StepResult) error {
			return s.AddRow(ctx, orchestrator.StepRow(1, step))
		})
		return err
	})
}
