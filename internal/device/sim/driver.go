package sim

import (
	"context"
	"fmt"

	"github.com/roach88/dersweep/internal/device"
)

// Driver opens simulated devices that all share one plant.
// It keeps references to what it opened so tests can inspect the bench
// after a run.
type Driver struct {
	plant *plant

	EUT  *EUT
	Grid *GridSim
	PV   *PVSim
	HIL  *HIL
	DAQ  *DAQ
}

// NewDriver creates a simulated bench driver.
func NewDriver(cfg Config) *Driver {
	return &Driver{plant: newPlant(cfg)}
}

func (d *Driver) Name() string { return "sim" }

func (d *Driver) fail(kind device.Kind) error {
	if d.plant.cfg.Faults.FailOpen[kind] {
		return fmt.Errorf("open %s: %w", kind, ErrInjected)
	}
	return nil
}

func (d *Driver) OpenEUT(ctx context.Context) (device.EUT, error) {
	if err := d.fail(device.KindEUT); err != nil {
		return nil, err
	}
	d.EUT = &EUT{base: base{plant: d.plant, kind: device.KindEUT}}
	return d.EUT, nil
}

func (d *Driver) OpenHIL(ctx context.Context) (device.HIL, error) {
	if !d.plant.cfg.HIL {
		return nil, nil
	}
	if err := d.fail(device.KindHIL); err != nil {
		return nil, err
	}
	d.HIL = &HIL{base: base{plant: d.plant, kind: device.KindHIL}}
	return d.HIL, nil
}

func (d *Driver) OpenPVSim(ctx context.Context) (device.PVSim, error) {
	if err := d.fail(device.KindPVSim); err != nil {
		return nil, err
	}
	d.plant.pvPresent = true
	d.PV = &PVSim{base: base{plant: d.plant, kind: device.KindPVSim}}
	return d.PV, nil
}

func (d *Driver) OpenGridSim(ctx context.Context) (device.GridSim, error) {
	if err := d.fail(device.KindGridSim); err != nil {
		return nil, err
	}
	g := &GridSim{base: base{plant: d.plant, kind: device.KindGridSim}}
	d.Grid = g
	if d.plant.cfg.NominalVoltage > 0 {
		return &nominalGridSim{GridSim: g}, nil
	}
	return g, nil
}

func (d *Driver) OpenDAQ(ctx context.Context, softChannels []string) (device.DAQ, error) {
	if err := d.fail(device.KindDAQ); err != nil {
		return nil, err
	}
	d.DAQ = newDAQ(d.plant, softChannels)
	return d.DAQ, nil
}

// base carries the configure/close bookkeeping shared by all devices.
type base struct {
	plant      *plant
	kind       device.Kind
	Configured bool
	Closes     int
}

func (b *base) Configure(ctx context.Context) error {
	if b.plant.cfg.Faults.FailConfigure[b.kind] {
		return fmt.Errorf("configure %s: %w", b.kind, ErrInjected)
	}
	b.Configured = true
	return nil
}

func (b *base) Close(ctx context.Context) error {
	b.Closes++
	if b.plant.cfg.Faults.FailClose[b.kind] {
		return fmt.Errorf("close %s: %w", b.kind, ErrInjected)
	}
	return nil
}

// Closed reports whether Close has been called at least once.
func (b *base) Closed() bool {
	return b.Closes > 0
}
