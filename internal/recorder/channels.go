package recorder

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/roach88/dersweep/internal/device"
)

// Soft channel names fed into the DAQ dataset by the run itself.
const (
	SoftTarget   = "W_TARG"  // commanded power target
	SoftTotal    = "W_TOTAL" // derived sum of phase powers
	SoftInverter = "W_INV"   // EUT-reported power
)

// DefaultSoftChannels is the soft channel set used by the power sweeps.
var DefaultSoftChannels = []string{SoftTarget, SoftTotal, SoftInverter}

// AggregateSource records how a derived total was computed.
type AggregateSource uint8

const (
	AllPhases AggregateSource = iota
	PartialPhases
	SinglePhase
)

func (s AggregateSource) String() string {
	switch s {
	case AllPhases:
		return "all_phases"
	case PartialPhases:
		return "partial_phases"
	case SinglePhase:
		return "single_phase"
	default:
		return "unknown"
	}
}

// Aggregate is a derived total and the channels that produced it.
type Aggregate struct {
	Value   float64
	Source  AggregateSource
	Used    []string
	Missing []string
}

// ChannelError is returned when none of the channels a derived value
// needs are present.
type ChannelError struct {
	Channels []string
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("CHANNEL_UNAVAILABLE: none of %s present in sample", strings.Join(e.Channels, ", "))
}

// IsChannelError reports whether err is a ChannelError.
func IsChannelError(err error) bool {
	var ce *ChannelError
	return errors.As(err, &ce)
}

// DeriveTotal sums the named channels present in values. With no
// channels given it uses the per-phase AC power channels.
func DeriveTotal(values map[string]float64, channels ...string) (Aggregate, error) {
	if len(channels) == 0 {
		channels = device.PhasePowerChannels
	}

	var agg Aggregate
	for _, ch := range channels {
		v, ok := values[ch]
		if !ok {
			agg.Missing = append(agg.Missing, ch)
			continue
		}
		agg.Value += v
		agg.Used = append(agg.Used, ch)
	}

	switch {
	case len(agg.Used) == 0:
		return Aggregate{}, &ChannelError{Channels: channels}
	case len(agg.Missing) == 0:
		agg.Source = AllPhases
	case len(agg.Used) == 1:
		agg.Source = SinglePhase
	default:
		agg.Source = PartialPhases
	}
	return agg, nil
}

// deriveDatasetTotals recomputes the W_TOTAL column of every row from
// the phase columns of that row. Soft channel values are latched by the
// DAQ at capture time, before the total for that capture is known.
func deriveDatasetTotals(ds device.Dataset) device.Dataset {
	col := map[string]int{}
	for i, c := range ds.Columns {
		col[c] = i
	}
	totalIdx, ok := col[SoftTotal]
	if !ok {
		return ds
	}

	values := make(map[string]float64, len(device.PhasePowerChannels))
	for _, row := range ds.Rows {
		clear(values)
		for _, ch := range device.PhasePowerChannels {
			if i, ok := col[ch]; ok && i < len(row) {
				values[ch] = row[i]
			}
		}
		agg, err := DeriveTotal(values)
		if err != nil || totalIdx >= len(row) {
			continue
		}
		row[totalIdx] = agg.Value
	}
	return ds
}

// samplesDataset lays out forced samples as a dataset with sorted channel
// columns. A channel missing from a sample is written as NaN.
func samplesDataset(samples []Sample) device.Dataset {
	seen := map[string]bool{}
	var cols []string
	for _, s := range samples {
		for k := range s.Values {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	slices.Sort(cols)

	rows := make([][]float64, 0, len(samples))
	for _, s := range samples {
		row := make([]float64, len(cols))
		for i, c := range cols {
			v, ok := s.Values[c]
			if !ok {
				v = math.NaN()
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	return device.Dataset{Columns: cols, Rows: rows}
}
