package config

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/roach88/dersweep/internal/device"
	"github.com/roach88/dersweep/internal/device/sim"
)

func (c *Config) applyDefaults() {
	if c.OutputDir == "" {
		c.OutputDir = "./results"
	}
	if c.Bench.Driver == "" {
		c.Bench.Driver = "sim"
	}
	c.Bench.Sim.applyDefaults()

	if c.Curtailment.Repeats == 0 {
		c.Curtailment.Repeats = 10
	}
	if len(c.Curtailment.Percents) == 0 {
		c.Curtailment.Percents = []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	}
	if c.Curtailment.Dwell == 0 {
		c.Curtailment.Dwell = 2 * time.Second
	}

	fw := &c.FreqWatt
	if fw.Mode == "" {
		fw.Mode = ModePointwise
	}
	if fw.PVIrradiance == 0 {
		fw.PVIrradiance = 1000
	}
	if fw.NudgeIrradiance == 0 {
		fw.NudgeIrradiance = 995
	}
	if len(fw.Curve.X) == 0 {
		fw.Curve = Curve{X: []float64{50, 50.2, 51.5, 53}, Y: []float64{100, 100, 0, 0}}
	}
	if fw.HzStart == 0 {
		fw.HzStart = 50.2
	}
	if fw.HzStop == 0 {
		fw.HzStop = 51.5
	}
	if fw.Gradient == 0 {
		fw.Gradient = 140
	}
	fw.Sweep.defaults(49.5, 53, 50)
	if fw.Dwell == 0 {
		fw.Dwell = time.Second
	}

	vv := &c.VoltVar
	if vv.VNom == 0 {
		vv.VNom = 230
	}
	if vv.PVIrradiance == 0 {
		vv.PVIrradiance = 800
	}
	if len(vv.Curve.X) == 0 {
		vv.Curve = Curve{X: []float64{95, 98, 102, 105}, Y: []float64{100, 0, 0, -100}}
	}
	vv.Sweep.defaults(95, 105, 50)
	if vv.Dwell == 0 {
		vv.Dwell = time.Second
	}

	pf := &c.PF
	if pf.PVIrradiance == 0 {
		pf.PVIrradiance = 800
	}
	if pf.Settle == 0 {
		pf.Settle = 3 * time.Second
	}
	if pf.PFStart == nil {
		v := 0.85
		pf.PFStart = &v
	}
	if pf.PFEnd == nil {
		v := -0.85
		pf.PFEnd = &v
	}
	if pf.Steps == 0 {
		pf.Steps = 15
	}
	if len(pf.Irradiance) == 0 {
		pf.Irradiance = []float64{1000, 600, 300}
	}
	if pf.Dwell == 0 {
		pf.Dwell = 500 * time.Millisecond
	}
}

func (s *SweepRange) defaults(start, stop float64, points int) {
	if s.Start == 0 && s.Stop == 0 {
		s.Start, s.Stop = start, stop
	}
	if s.Points == 0 {
		s.Points = points
	}
}

func (s *SimConfig) applyDefaults() {
	if s.RatedPower == 0 {
		s.RatedPower = 5000
	}
	if s.Phases == 0 {
		s.Phases = 3
	}
	if s.Running == nil {
		v := true
		s.Running = &v
	}
	if s.HIL == nil {
		v := true
		s.HIL = &v
	}
	if s.NominalFrequency == 0 {
		s.NominalFrequency = 50
	}
}

func (c *Config) validate() error {
	switch c.Procedure {
	case ProcCurtailment, ProcFreqWatt, ProcVoltVar, ProcPF:
	case "":
		return errors.New("procedure is required")
	default:
		return fmt.Errorf("unknown procedure %q", c.Procedure)
	}
	if c.Bench.Driver != "sim" {
		return fmt.Errorf("bench.driver %q is not supported", c.Bench.Driver)
	}
	if err := c.Bench.Sim.Faults.validate(); err != nil {
		return fmt.Errorf("bench.sim.faults: %w", err)
	}
	if c.Startup.Interval < 0 || c.Startup.Timeout < 0 {
		return errors.New("startup durations must not be negative")
	}

	for i, p := range c.Curtailment.Percents {
		if p < 0 || p > 100 {
			return fmt.Errorf("curtailment.percents[%d]: %g outside 0..100", i, p)
		}
	}
	if err := c.FreqWatt.Curve.validate(); err != nil {
		return fmt.Errorf("freq_watt.curve: %w", err)
	}
	if c.FreqWatt.Mode != ModePointwise && c.FreqWatt.Mode != ModeParameters {
		return fmt.Errorf("freq_watt.mode %q must be %s or %s", c.FreqWatt.Mode, ModePointwise, ModeParameters)
	}
	if c.FreqWatt.HzStop <= c.FreqWatt.HzStart {
		return fmt.Errorf("freq_watt.hz_stop %g must be above hz_start %g", c.FreqWatt.HzStop, c.FreqWatt.HzStart)
	}
	if err := c.VoltVar.Curve.validate(); err != nil {
		return fmt.Errorf("volt_var.curve: %w", err)
	}
	if c.PF.Steps < 1 {
		return errors.New("pf.steps must be at least 1")
	}
	return nil
}

func (c Curve) validate() error {
	if len(c.X) != len(c.Y) {
		return fmt.Errorf("x has %d points, y has %d", len(c.X), len(c.Y))
	}
	if len(c.X) < 2 {
		return errors.New("at least two points required")
	}
	if !sort.Float64sAreSorted(c.X) {
		return errors.New("x must be ascending")
	}
	return nil
}

var kindNames = map[string]device.Kind{
	device.KindEUT.String():     device.KindEUT,
	device.KindGridSim.String(): device.KindGridSim,
	device.KindPVSim.String():   device.KindPVSim,
	device.KindHIL.String():     device.KindHIL,
	device.KindDAQ.String():     device.KindDAQ,
}

func kindSet(names []string) (map[device.Kind]bool, error) {
	if len(names) == 0 {
		return nil, nil
	}
	set := make(map[device.Kind]bool, len(names))
	for _, n := range names {
		k, ok := kindNames[n]
		if !ok {
			return nil, fmt.Errorf("unknown device kind %q", n)
		}
		set[k] = true
	}
	return set, nil
}

func (f FaultsConfig) validate() error {
	for _, names := range [][]string{f.FailOpen, f.FailConfigure, f.FailClose} {
		if _, err := kindSet(names); err != nil {
			return err
		}
	}
	return nil
}

// SimBench converts the sim section into a simulator configuration.
func (c *Config) SimBench() sim.Config {
	s := c.Bench.Sim
	cfg := sim.Config{
		RatedPower:       s.RatedPower,
		Phases:           s.Phases,
		Running:          s.Running != nil && *s.Running,
		IdlePower:        s.IdlePower,
		StartAfterReads:  s.StartAfterReads,
		NominalVoltage:   s.NominalVoltage,
		NominalFrequency: s.NominalFrequency,
		HIL:              s.HIL != nil && *s.HIL,
	}
	// Kind names were checked by validate.
	cfg.Faults.FailOpen, _ = kindSet(s.Faults.FailOpen)
	cfg.Faults.FailConfigure, _ = kindSet(s.Faults.FailConfigure)
	cfg.Faults.FailClose, _ = kindSet(s.Faults.FailClose)
	cfg.Faults.FailEnableAfter = s.Faults.FailEnableAfter
	cfg.Faults.FailGridAfter = s.Faults.FailGridAfter
	cfg.Faults.FailSample = s.Faults.FailSample
	return cfg
}

// Params flattens the procedure's section for the run record.
func (c *Config) Params() map[string]any {
	switch c.Procedure {
	case ProcCurtailment:
		return map[string]any{
			"repeats":  c.Curtailment.Repeats,
			"percents": c.Curtailment.Percents,
			"dwell":    c.Curtailment.Dwell.String(),
		}
	case ProcFreqWatt:
		return map[string]any{
			"mode":   c.FreqWatt.Mode,
			"start":  c.FreqWatt.Sweep.Start,
			"stop":   c.FreqWatt.Sweep.Stop,
			"points": c.FreqWatt.Sweep.Points,
			"dwell":  c.FreqWatt.Dwell.String(),
		}
	case ProcVoltVar:
		return map[string]any{
			"v_nom":  c.VoltVar.VNom,
			"start":  c.VoltVar.Sweep.Start,
			"stop":   c.VoltVar.Sweep.Stop,
			"points": c.VoltVar.Sweep.Points,
			"dwell":  c.VoltVar.Dwell.String(),
		}
	case ProcPF:
		return map[string]any{
			"pf_start":   *c.PF.PFStart,
			"pf_end":     *c.PF.PFEnd,
			"steps":      c.PF.Steps,
			"irradiance": c.PF.Irradiance,
			"dwell":      c.PF.Dwell.String(),
		}
	}
	return map[string]any{}
}
