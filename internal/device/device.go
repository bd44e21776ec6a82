package device

import "context"

// Device is the minimum every bench device supports.
type Device interface {
	Close(ctx context.Context) error
}

// Configurer is implemented by devices that need an explicit configure step
// after they are opened. Bench.Acquire calls it when present.
type Configurer interface {
	Configure(ctx context.Context) error
}

// EUT is the equipment under test.
type EUT interface {
	Device
	Configurer
	Info(ctx context.Context) (Info, error)
	Nameplate(ctx context.Context) (Nameplate, error)
	Measurements(ctx context.Context) (Measurements, error)
	SetConnect(ctx context.Context, connected bool) error
	SetFunction(ctx context.Context, kind FunctionKind, params FunctionParams) error
	Function(ctx context.Context, kind FunctionKind) (FunctionParams, error)
}

// GridSim is the AC grid simulator.
type GridSim interface {
	Device
	SetFrequency(ctx context.Context, hz float64) error
	SetVoltage(ctx context.Context, volts float64) error
}

// NominalVoltager is an optional GridSim capability. A transformer between
// the simulator and the EUT means the simulator's nominal can differ from
// the EUT's, so procedures prefer this value when it is available.
type NominalVoltager interface {
	NominalVoltage() (float64, bool)
}

// NominalVoltage returns the grid simulator's nominal voltage when the
// device exposes one, and fallback otherwise.
func NominalVoltage(g GridSim, fallback float64) float64 {
	if nv, ok := g.(NominalVoltager); ok {
		if v, ok := nv.NominalVoltage(); ok && v > 0 {
			return v
		}
	}
	return fallback
}

// PVSim is the photovoltaic array simulator feeding the EUT.
type PVSim interface {
	Device
	SetIrradiance(ctx context.Context, wPerM2 float64) error
	PowerOn(ctx context.Context) error
}

// HIL is an optional hardware-in-the-loop environment.
type HIL interface {
	Device
	Configurer
}

// DAQ is the data-acquisition unit. Soft channels are values fed in by
// the run itself (targets, EUT read-backs) and captured alongside the
// DAQ's own channels.
type DAQ interface {
	Device
	Configurer
	Info() string
	SoftChannels() []string
	SetSoft(name string, value float64) error
	StartCapture(ctx context.Context, enable bool) error
	Sample(ctx context.Context) error
	LastSample(ctx context.Context) (Reading, error)
	ExportDataset(ctx context.Context) (Dataset, error)
}

// Driver opens the devices of one bench. OpenHIL returns (nil, nil) when
// no HIL environment is configured.
type Driver interface {
	Name() string
	OpenEUT(ctx context.Context) (EUT, error)
	OpenHIL(ctx context.Context) (HIL, error)
	OpenPVSim(ctx context.Context) (PVSim, error)
	OpenGridSim(ctx context.Context) (GridSim, error)
	OpenDAQ(ctx context.Context, softChannels []string) (DAQ, error)
}
