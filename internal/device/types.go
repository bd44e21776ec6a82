package device

import "fmt"

// Kind identifies the role a device plays on the test bench.
type Kind uint8

const (
	KindEUT Kind = iota
	KindGridSim
	KindPVSim
	KindHIL
	KindDAQ
)

// String returns the short name used in logs and error messages.
func (k Kind) String() string {
	switch k {
	case KindEUT:
		return "eut"
	case KindGridSim:
		return "gridsim"
	case KindPVSim:
		return "pvsim"
	case KindHIL:
		return "hil"
	case KindDAQ:
		return "daq"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// State is the connection state of a handle.
type State uint8

const (
	StateUnconfigured State = iota
	StateConfigured
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "UNCONFIGURED"
	case StateConfigured:
		return "CONFIGURED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// FunctionKind names a grid-support function on the EUT.
type FunctionKind string

const (
	FuncLimitPower FunctionKind = "limit_max_power"
	FuncFreqWatt   FunctionKind = "freq_watt"
	FuncVoltVar    FunctionKind = "volt_var"
	FuncVoltWatt   FunctionKind = "volt_watt"
	FuncFixedPF    FunctionKind = "fixed_pf"
)

// Function parameter keys, using the SunSpec point names the EUT drivers expect.
const (
	ParamWMaxPct = "WMaxPct"
	ParamPF      = "PF"
	ParamWinTms  = "WinTms"
	ParamRmpTms  = "RmpTms"
	ParamRvrtTms = "RvrtTms"
	ParamActCrv  = "ActCrv"
	ParamHzStr   = "HzStr"
	ParamHzStop  = "HzStop"
	ParamWGra    = "WGra"
	ParamHysEna  = "HysEna"
)

// Curve is a pointwise characteristic (frequency-watt, volt-var).
// X and Y have equal length; X is strictly increasing.
type Curve struct {
	ID int
	X  []float64
	Y  []float64
}

// FunctionParams is the settings block for one grid-support function.
type FunctionParams struct {
	Enabled bool
	Values  map[string]float64
	Curve   *Curve
}

// Value returns the named parameter, or def when it is not set.
func (p FunctionParams) Value(key string, def float64) float64 {
	if v, ok := p.Values[key]; ok {
		return v
	}
	return def
}

// Disabled is the parameter block that turns a function off.
func Disabled() FunctionParams {
	return FunctionParams{Enabled: false}
}

// Nameplate holds the EUT ratings read once per run.
type Nameplate struct {
	RatedPower float64 // WRtg, watts
	RatedVA    float64
	RatedVar   float64
}

// Measurements is a read-back of the EUT's own meters.
type Measurements struct {
	W   float64
	VA  float64
	Var float64
	PF  float64
	Hz  float64
	V   float64
}

// Info is the identification block reported by the EUT.
type Info struct {
	Manufacturer string
	Model        string
	Options      string
	Version      string
	SerialNumber string
}

// Reading maps DAQ channel names to values for a single capture point.
type Reading map[string]float64

// Dataset is the tabular capture produced by a DAQ for one window.
type Dataset struct {
	Columns []string
	Rows    [][]float64
}

// Phase power channel names reported by the DAQ.
const (
	ChanPhase1Power = "AC_P_1"
	ChanPhase2Power = "AC_P_2"
	ChanPhase3Power = "AC_P_3"
)

// PhasePowerChannels lists the per-phase AC power channels in phase order.
var PhasePowerChannels = []string{ChanPhase1Power, ChanPhase2Power, ChanPhase3Power}
