// Package sim is an in-process test bench: a simulated inverter, grid
// simulator, PV simulator, HIL environment and DAQ that share one plant
// model. It lets procedures run end to end without hardware and gives
// tests a way to inject device faults at any phase.
package sim

import (
	"errors"
	"math"
	"sort"

	"github.com/roach88/dersweep/internal/device"
)

// Config describes the simulated plant.
type Config struct {
	// RatedPower is the EUT nameplate power in watts.
	RatedPower float64

	// Phases is 1, 2 or 3. Three-phase output is split 50/25/25 across AC_P_1..3.
	Phases int

	// Running reports whether the inverter is already exporting power when
	// the run starts.
	Running bool

	// IdlePower is the power reported while the inverter is not running.
	IdlePower float64

	// StartAfterReads is the number of measurement reads after a connect
	// command before the inverter starts. Negative means it never starts.
	StartAfterReads int

	// NominalVoltage, when positive, is exposed through the grid simulator's
	// nominal-voltage capability.
	NominalVoltage float64

	// NominalFrequency is the grid frequency before any sweep.
	NominalFrequency float64

	// HIL enables the optional hardware-in-the-loop device.
	HIL bool

	Faults Faults
}

// Faults injects failures into the simulated devices.
type Faults struct {
	FailOpen      map[device.Kind]bool
	FailConfigure map[device.Kind]bool
	FailClose     map[device.Kind]bool

	// FailEnableAfter makes the Nth enabling SetFunction call (1-based) fail.
	FailEnableAfter int

	// FailGridAfter makes the Nth grid simulator write (1-based) fail.
	FailGridAfter int

	// FailSample makes every DAQ Sample call fail.
	FailSample bool
}

// ErrInjected is returned by every injected fault.
var ErrInjected = errors.New("injected fault")

// DefaultConfig is a single 5 kW three-phase inverter already running.
func DefaultConfig() Config {
	return Config{
		RatedPower:       5000,
		Phases:           3,
		Running:          true,
		IdlePower:        0,
		StartAfterReads:  0,
		NominalFrequency: 50,
	}
}

// plant is the physical state shared by all simulated devices.
type plant struct {
	cfg Config

	irradiance float64
	pvPresent  bool
	pvOn       bool
	hz         float64
	volts      float64
	vnom       float64

	running       bool
	connected     bool
	readsSinceCon int

	functions map[device.FunctionKind]device.FunctionParams
}

func newPlant(cfg Config) *plant {
	vnom := cfg.NominalVoltage
	if vnom <= 0 {
		vnom = 230
	}
	hz := cfg.NominalFrequency
	if hz <= 0 {
		hz = 50
	}
	return &plant{
		cfg:        cfg,
		irradiance: 1000,
		hz:         hz,
		volts:      vnom,
		vnom:       vnom,
		running:    cfg.Running,
		functions:  make(map[device.FunctionKind]device.FunctionParams),
	}
}

// activePower computes the EUT's real power output for the current state.
func (p *plant) activePower() float64 {
	if !p.running {
		return p.cfg.IdlePower
	}
	rated := p.cfg.RatedPower
	w := rated
	if p.pvPresent {
		if !p.pvOn {
			return p.cfg.IdlePower
		}
		w = rated * p.irradiance / 1000
	}

	if fn, ok := p.functions[device.FuncLimitPower]; ok && fn.Enabled {
		w = math.Min(w, rated*fn.Value(device.ParamWMaxPct, 100)/100)
	}

	if fn, ok := p.functions[device.FuncFreqWatt]; ok && fn.Enabled {
		switch {
		case fn.Curve != nil:
			w = math.Min(w, rated*interpolate(fn.Curve.X, fn.Curve.Y, p.hz)/100)
		case fn.Values != nil:
			start := fn.Value(device.ParamHzStr, math.Inf(1))
			if p.hz > start {
				pct := 100 - fn.Value(device.ParamWGra, 0)*(p.hz-start)
				w = math.Min(w, rated*math.Max(pct, 0)/100)
			}
		}
	}

	return math.Max(w, 0)
}

// reactivePower computes the EUT's reactive power for real power w.
func (p *plant) reactivePower(w float64) float64 {
	if fn, ok := p.functions[device.FuncFixedPF]; ok && fn.Enabled {
		pf := fn.Value(device.ParamPF, 1)
		if pf == 0 || math.Abs(pf) >= 1 {
			return 0
		}
		q := w * math.Tan(math.Acos(math.Abs(pf)))
		if pf < 0 {
			return -q
		}
		return q
	}
	if fn, ok := p.functions[device.FuncVoltVar]; ok && fn.Enabled && fn.Curve != nil {
		pct := p.volts / p.vnom * 100
		return p.cfg.RatedPower * interpolate(fn.Curve.X, fn.Curve.Y, pct) / 100
	}
	return 0
}

// phaseSplit divides total power across phases.
func (p *plant) phaseSplit(w float64) []float64 {
	switch p.cfg.Phases {
	case 3:
		return []float64{w * 0.5, w * 0.25, w * 0.25}
	case 2:
		return []float64{w * 0.5, w * 0.5}
	default:
		return []float64{w}
	}
}

// interpolate evaluates a piecewise-linear curve, clamping outside its range.
func interpolate(xs, ys []float64, x float64) float64 {
	if len(xs) == 0 || len(xs) != len(ys) {
		return 100
	}
	if x <= xs[0] {
		return ys[0]
	}
	last := len(xs) - 1
	if x >= xs[last] {
		return ys[last]
	}
	i := sort.SearchFloat64s(xs, x)
	x0, x1 := xs[i-1], xs[i]
	y0, y1 := ys[i-1], ys[i]
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}
