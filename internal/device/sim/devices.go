package sim

import (
	"context"
	"fmt"
	"math"

	"github.com/roach88/dersweep/internal/device"
)

// FunctionWrite records one SetFunction call.
type FunctionWrite struct {
	Kind   device.FunctionKind
	Params device.FunctionParams
}

// EUT is a simulated inverter.
type EUT struct {
	base

	Connects []bool
	Writes   []FunctionWrite
	enables  int
}

func (e *EUT) Info(ctx context.Context) (device.Info, error) {
	return device.Info{
		Manufacturer: "Simulated",
		Model:        fmt.Sprintf("SIM-%.0fW-%dP", e.plant.cfg.RatedPower, e.plant.cfg.Phases),
		Version:      "1.0",
		SerialNumber: "SIM0001",
	}, nil
}

func (e *EUT) Nameplate(ctx context.Context) (device.Nameplate, error) {
	rated := e.plant.cfg.RatedPower
	return device.Nameplate{RatedPower: rated, RatedVA: rated, RatedVar: rated * 0.44}, nil
}

func (e *EUT) Measurements(ctx context.Context) (device.Measurements, error) {
	p := e.plant
	if !p.running && p.connected && p.cfg.StartAfterReads >= 0 {
		p.readsSinceCon++
		if p.readsSinceCon > p.cfg.StartAfterReads {
			p.running = true
		}
	}
	w := p.activePower()
	q := p.reactivePower(w)
	va := math.Hypot(w, q)
	pf := 1.0
	if va > 0 {
		pf = w / va
		if q < 0 {
			pf = -pf
		}
	}
	return device.Measurements{W: w, VA: va, Var: q, PF: pf, Hz: p.hz, V: p.volts}, nil
}

func (e *EUT) SetConnect(ctx context.Context, connected bool) error {
	e.Connects = append(e.Connects, connected)
	e.plant.connected = connected
	e.plant.readsSinceCon = 0
	return nil
}

func (e *EUT) SetFunction(ctx context.Context, kind device.FunctionKind, params device.FunctionParams) error {
	e.Writes = append(e.Writes, FunctionWrite{Kind: kind, Params: params})
	if params.Enabled {
		e.enables++
		if n := e.plant.cfg.Faults.FailEnableAfter; n > 0 && e.enables >= n {
			return fmt.Errorf("set %s: %w", kind, ErrInjected)
		}
	}

	cur := e.plant.functions[kind]
	cur.Enabled = params.Enabled
	if params.Values != nil {
		if cur.Values == nil {
			cur.Values = make(map[string]float64)
		}
		for k, v := range params.Values {
			cur.Values[k] = v
		}
	}
	if params.Curve != nil {
		c := *params.Curve
		cur.Curve = &c
	}
	e.plant.functions[kind] = cur
	return nil
}

func (e *EUT) Function(ctx context.Context, kind device.FunctionKind) (device.FunctionParams, error) {
	return e.plant.functions[kind], nil
}

// Enabled reports whether kind is currently enabled on the simulated EUT.
func (e *EUT) Enabled(kind device.FunctionKind) bool {
	return e.plant.functions[kind].Enabled
}

// GridSim is a simulated grid simulator.
type GridSim struct {
	base

	Frequencies []float64
	Voltages    []float64
	writes      int
}

func (g *GridSim) write() error {
	g.writes++
	if n := g.plant.cfg.Faults.FailGridAfter; n > 0 && g.writes >= n {
		return fmt.Errorf("gridsim write %d: %w", g.writes, ErrInjected)
	}
	return nil
}

func (g *GridSim) SetFrequency(ctx context.Context, hz float64) error {
	if err := g.write(); err != nil {
		return err
	}
	g.Frequencies = append(g.Frequencies, hz)
	g.plant.hz = hz
	return nil
}

func (g *GridSim) SetVoltage(ctx context.Context, volts float64) error {
	if err := g.write(); err != nil {
		return err
	}
	g.Voltages = append(g.Voltages, volts)
	g.plant.volts = volts
	return nil
}

// nominalGridSim adds the nominal-voltage capability.
type nominalGridSim struct {
	*GridSim
}

func (g *nominalGridSim) NominalVoltage() (float64, bool) {
	return g.plant.cfg.NominalVoltage, true
}

// PVSim is a simulated PV array.
type PVSim struct {
	base

	Irradiances []float64
	On          bool
}

func (p *PVSim) SetIrradiance(ctx context.Context, wPerM2 float64) error {
	p.Irradiances = append(p.Irradiances, wPerM2)
	p.plant.irradiance = wPerM2
	return nil
}

func (p *PVSim) PowerOn(ctx context.Context) error {
	p.On = true
	p.plant.pvOn = true
	return nil
}

// HIL is a simulated hardware-in-the-loop environment.
type HIL struct {
	base
}
