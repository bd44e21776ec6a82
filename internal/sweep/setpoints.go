package sweep

import (
	"fmt"
	"strconv"
)

// Setpoint is one value pushed to a device during a sweep.
type Setpoint struct {
	Value float64
	Label string
}

func (s Setpoint) String() string {
	if s.Label != "" {
		return s.Label
	}
	return strconv.FormatFloat(s.Value, 'g', -1, 64)
}

// Linspace returns n evenly spaced values over [start, stop], both ends
// included. The last value is exactly stop.
func Linspace(start, stop float64, n int) []float64 {
	switch {
	case n <= 0:
		return []float64{}
	case n == 1:
		return []float64{start}
	}
	step := (stop - start) / float64(n-1)
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = stop
	return out
}

// PowerFactorSweep walks from start to unity on one side, then from
// unity on the other side to end. Unity appears once on each side: as 1
// at the end of the first leg and as -1 skipped at the start of the
// second.
func PowerFactorSweep(start, end float64, steps int) []float64 {
	out := Linspace(start, 1, steps)
	second := Linspace(-1, end, steps)
	if len(second) > 1 {
		out = append(out, second[1:]...)
	}
	return out
}

// Percent scales rated by each percentage.
func Percent(rated float64, pcts []float64) []float64 {
	out := make([]float64, len(pcts))
	for i, p := range pcts {
		out[i] = rated * p / 100
	}
	return out
}

// Values converts raw values into setpoints, labelled with format when
// it is non-empty.
func Values(values []float64, format string) []Setpoint {
	out := make([]Setpoint, len(values))
	for i, v := range values {
		out[i] = Setpoint{Value: v}
		if format != "" {
			out[i].Label = fmt.Sprintf(format, v)
		}
	}
	return out
}
