package sim

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/dersweep/internal/device"
)

// DAQ is a simulated data-acquisition unit sampling the shared plant.
type DAQ struct {
	base

	soft      []string
	softVals  map[string]float64
	channels  []string
	capturing bool
	buffer    []device.Reading
	last      device.Reading
	Samples   int
}

func newDAQ(p *plant, soft []string) *DAQ {
	channels := []string{"TIME"}
	channels = append(channels, device.PhasePowerChannels[:max(1, min(p.cfg.Phases, 3))]...)
	channels = append(channels, "AC_Q_1", "AC_FREQ_1", "AC_VRMS_1")

	d := &DAQ{
		base:     base{plant: p, kind: device.KindDAQ},
		soft:     append([]string(nil), soft...),
		softVals: make(map[string]float64),
		channels: channels,
	}
	return d
}

func (d *DAQ) Info() string {
	return fmt.Sprintf("simulated DAQ (%d channels, %d soft)", len(d.channels)-1, len(d.soft))
}

func (d *DAQ) SoftChannels() []string {
	return append([]string(nil), d.soft...)
}

func (d *DAQ) SetSoft(name string, value float64) error {
	for _, s := range d.soft {
		if s == name {
			d.softVals[name] = value
			return nil
		}
	}
	return fmt.Errorf("unknown soft channel %q", name)
}

func (d *DAQ) StartCapture(ctx context.Context, enable bool) error {
	if enable {
		d.buffer = nil
	}
	d.capturing = enable
	return nil
}

func (d *DAQ) Sample(ctx context.Context) error {
	if d.plant.cfg.Faults.FailSample {
		return fmt.Errorf("sample: %w", ErrInjected)
	}
	p := d.plant
	w := p.activePower()

	r := device.Reading{"TIME": float64(len(d.buffer))}
	for i, v := range p.phaseSplit(w) {
		r[device.PhasePowerChannels[i]] = v
	}
	r["AC_Q_1"] = p.reactivePower(w)
	r["AC_FREQ_1"] = p.hz
	r["AC_VRMS_1"] = p.volts
	for _, s := range d.soft {
		r[s] = d.softVals[s]
	}

	d.last = r
	d.Samples++
	if d.capturing {
		d.buffer = append(d.buffer, r)
	}
	return nil
}

func (d *DAQ) LastSample(ctx context.Context) (device.Reading, error) {
	if d.last == nil {
		return nil, errors.New("no sample captured")
	}
	out := make(device.Reading, len(d.last))
	for k, v := range d.last {
		out[k] = v
	}
	return out, nil
}

func (d *DAQ) ExportDataset(ctx context.Context) (device.Dataset, error) {
	cols := append(append([]string(nil), d.channels...), d.soft...)
	ds := device.Dataset{Columns: cols, Rows: make([][]float64, 0, len(d.buffer))}
	for _, r := range d.buffer {
		row := make([]float64, len(cols))
		for i, c := range cols {
			row[i] = r[c]
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}
