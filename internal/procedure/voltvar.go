package procedure

import (
	"context"

	"github.com/roach88/dersweep/internal/config"
	"github.com/roach88/dersweep/internal/device"
	"github.com/roach88/dersweep/internal/orchestrator"
	"github.com/roach88/dersweep/internal/startup"
	"github.com/roach88/dersweep/internal/sweep"
)

// voltVar sweeps grid voltage, as a percentage of nominal, with the
// volt-var curve enabled.
type voltVar struct {
	cfg     config.VoltVarConfig
	daq     bool
	startup *startup.Config
}

func newVoltVar(cfg *config.Config) *voltVar {
	return &voltVar{
		cfg: cfg.VoltVar,
		daq: cfg.Bench.DAQ,
		startup: startupConfig(cfg, startup.Config{
			Timeout:      timeoutLong,
			Perturb:      ptr(cfg.VoltVar.PVIrradiance),
			ConnectFirst: true,
		}),
	}
}

func (p *voltVar) Name() string { return config.ProcVoltVar }

func (p *voltVar) Requirements() orchestrator.Requirements {
	return withDAQ(p.daq, orchestrator.Requirements{HIL: true, PV: true, Grid: true})
}

func (p *voltVar) Setup(ctx context.Context, s *orchestrator.Session) error {
	return powerPV(ctx, s, p.cfg.PVIrradiance)
}

func (p *voltVar) Startup() *startup.Config { return p.startup }

func (p *voltVar) Sweep(ctx context.Context, s *orchestrator.Session) error {
	vnom := device.NominalVoltage(s.Grid, p.cfg.VNom)
	s.Logger.Info("nominal voltage", "v_nom", vnom)

	err := s.EnableFunction(ctx, device.FuncVoltVar, device.FunctionParams{
		Values: map[string]float64{device.ParamActCrv: 1},
		Curve:  &device.Curve{ID: 1, X: p.cfg.Curve.X, Y: p.cfg.Curve.Y},
	})
	if err != nil {
		return err
	}
	readback, err := s.EUT.Function(ctx, device.FuncVoltVar)
	if err != nil {
		return device.Comm(device.KindEUT, "read volt-var", err)
	}
	s.Logger.Info("volt-var enabled", "enabled", readback.Enabled, "curve", readback.Curve)

	pcts := sweep.Linspace(p.cfg.Sweep.Start, p.cfg.Sweep.Stop, p.cfg.Sweep.Points)
	spec := sweep.Spec{
		Name:      config.ProcVoltVar,
		Setpoints: sweep.Values(pcts, "%.2f%%"),
		Dwell:     p.cfg.Dwell,
		Apply: func(ctx context.Context, sp sweep.Setpoint) error {
			v := sp.Value / 100 * vnom
			return device.Comm(device.KindGridSim, "set voltage", s.Grid.SetVoltage(ctx, v))
		},
		Sampling: &sweep.Sampling{ReadBack: true, Capture: s.HasDAQ()},
	}
	if err := runSingle(ctx, s, spec); err != nil {
		return err
	}
	return s.DisableFunction(ctx, device.FuncVoltVar)
}
