package procedure

import (
	"context"
	"fmt"

	"github.com/roach88/dersweep/internal/config"
	"github.com/roach88/dersweep/internal/device"
	"github.com/roach88/dersweep/internal/orchestrator"
	"github.com/roach88/dersweep/internal/recorder"
	"github.com/roach88/dersweep/internal/startup"
	"github.com/roach88/dersweep/internal/sweep"
)

// curtailment repeats a sweep of the active power limit over a set of
// percentages, one capture window per repetition.
type curtailment struct {
	cfg     config.CurtailmentConfig
	startup *startup.Config
}

func newCurtailment(cfg *config.Config) *curtailment {
	return &curtailment{
		cfg:     cfg.Curtailment,
		startup: startupConfig(cfg, startup.Config{Timeout: timeoutShort}),
	}
}

func (p *curtailment) Name() string { return config.ProcCurtailment }

func (p *curtailment) Requirements() orchestrator.Requirements {
	return orchestrator.Requirements{
		HIL:          true,
		DAQ:          true,
		SoftChannels: recorder.DefaultSoftChannels,
	}
}

func (p *curtailment) Setup(ctx context.Context, s *orchestrator.Session) error {
	info, err := s.EUT.Info(ctx)
	if err != nil {
		return device.Comm(device.KindEUT, "read info", err)
	}
	s.Logger.Info("EUT info", "manufacturer", info.Manufacturer, "model", info.Model, "serial", info.SerialNumber)
	return nil
}

func (p *curtailment) Startup() *startup.Config { return p.startup }

func (p *curtailment) Sweep(ctx context.Context, s *orchestrator.Session) error {
	rated := s.Nameplate.RatedPower
	spec := sweep.Spec{
		Name:      config.ProcCurtailment,
		Setpoints: sweep.Values(p.cfg.Percents, "%g%%"),
		Dwell:     p.cfg.Dwell,
		Apply: func(ctx context.Context, sp sweep.Setpoint) error {
			return s.EnableFunction(ctx, device.FuncLimitPower, device.FunctionParams{
				Values: map[string]float64{device.ParamWMaxPct: sp.Value},
			})
		},
		Sampling: &sweep.Sampling{
			Soft: func(sp sweep.Setpoint) map[string]float64 {
				return map[string]float64{recorder.SoftTarget: rated * sp.Value / 100}
			},
			ReadBack: true,
			Capture:  true,
		},
	}

	for n := 1; n <= p.cfg.Repeats; n++ {
		s.Logger.Info("curtailment repetition", "run", n, "of", p.cfg.Repeats)
		err := s.Capture(ctx, n, func(ctx context.Context) error {
			_, err := s.Sweep(ctx, spec, func(ctx context.Context, step sweep.StepResult) error {
				return s.AddRow(ctx, orchestrator.StepRow(n, step))
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("repetition %d: %w", n, err)
		}
		if err := s.DisableFunction(ctx, device.FuncLimitPower); err != nil {
			return err
		}
	}
	return nil
}
