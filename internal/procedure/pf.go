package procedure

import (
	"context"
	"fmt"

	"github.com/roach88/dersweep/internal/config"
	"github.com/roach88/dersweep/internal/device"
	"github.com/roach88/dersweep/internal/orchestrator"
	"github.com/roach88/dersweep/internal/startup"
	"github.com/roach88/dersweep/internal/sweep"
)

// pf sweeps fixed power factor setpoints from one side of unity to the
// other, once per PV irradiance level.
type pf struct {
	cfg     config.PFConfig
	daq     bool
	startup *startup.Config
}

func newPF(cfg *config.Config) *pf {
	return &pf{
		cfg: cfg.PF,
		daq: cfg.Bench.DAQ,
		startup: startupConfig(cfg, startup.Config{
			Timeout:       timeoutLong,
			Perturb:       ptr(cfg.PF.PVIrradiance),
			PerturbSettle: cfg.PF.Settle,
		}),
	}
}

func (p *pf) Name() string { return config.ProcPF }

func (p *pf) Requirements() orchestrator.Requirements {
	return withDAQ(p.daq, orchestrator.Requirements{HIL: true, PV: true})
}

// Setup logs the EUT identity and current fixed PF settings and turns
// off the functions that would fight a fixed PF.
func (p *pf) Setup(ctx context.Context, s *orchestrator.Session) error {
	if err := powerPV(ctx, s, p.cfg.PVIrradiance); err != nil {
		return err
	}

	info, err := s.EUT.Info(ctx)
	if err != nil {
		return device.Comm(device.KindEUT, "read info", err)
	}
	s.Logger.Info("EUT info", "manufacturer", info.Manufacturer, "model", info.Model,
		"version", info.Version, "serial", info.SerialNumber)

	fixed, err := s.EUT.Function(ctx, device.FuncFixedPF)
	if err != nil {
		return device.Comm(device.KindEUT, "read fixed PF", err)
	}
	s.Logger.Info("fixed PF settings", "enabled", fixed.Enabled, "pf", fixed.Value(device.ParamPF, 1))

	for _, kind := range []device.FunctionKind{device.FuncVoltVar, device.FuncVoltWatt, device.FuncFreqWatt} {
		if err := s.DisableFunction(ctx, kind); err != nil {
			return err
		}
	}
	return nil
}

func (p *pf) Startup() *startup.Config { return p.startup }

func (p *pf) Sweep(ctx context.Context, s *orchestrator.Session) error {
	pfs := sweep.PowerFactorSweep(*p.cfg.PFStart, *p.cfg.PFEnd, p.cfg.Steps)
	spec := sweep.Spec{
		Name:      config.ProcPF,
		Setpoints: sweep.Values(pfs, "PF %.3f"),
		Dwell:     p.cfg.Dwell,
		Apply: func(ctx context.Context, sp sweep.Setpoint) error {
			return s.EnableFunction(ctx, device.FuncFixedPF, device.FunctionParams{
				Values: map[string]float64{
					device.ParamPF:      sp.Value,
					device.ParamWinTms:  0,
					device.ParamRmpTms:  0,
					device.ParamRvrtTms: 0,
				},
			})
		},
		Sampling: &sweep.Sampling{ReadBack: true, Capture: s.HasDAQ()},
	}

	for i, irr := range p.cfg.Irradiance {
		n := i + 1
		if err := s.PV.SetIrradiance(ctx, irr); err != nil {
			return device.Comm(device.KindPVSim, "set irradiance", err)
		}
		s.Logger.Info("irradiance level", "run", n, "irradiance", irr)

		err := s.Capture(ctx, n, func(ctx context.Context) error {
			_, err := s.Sweep(ctx, spec, func(ctx context.Context, step sweep.StepResult) error {
				return s.AddRow(ctx, orchestrator.StepRow(n, step))
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("irradiance %g: %w", irr, err)
		}
		// Each irradiance level starts from a disabled fixed PF.
		if err := s.DisableFunction(ctx, device.FuncFixedPF); err != nil {
			return err
		}
	}
	return nil
}
