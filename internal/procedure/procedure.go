// Package procedure holds the grid-support test procedures.
//
// Each procedure is a thin configuration of the shared machinery: which
// devices it needs, how the inverter is brought up, and which setpoints
// the sweep engine pushes to which device.
package procedure

import (
	"fmt"
	"sort"
	"time"

	"github.com/roach88/dersweep/internal/config"
	"github.com/roach88/dersweep/internal/orchestrator"
	"github.com/roach88/dersweep/internal/recorder"
	"github.com/roach88/dersweep/internal/startup"
)

type entry struct {
	summary string
	build   func(cfg *config.Config) orchestrator.Procedure
}

var registry = map[string]entry{
	config.ProcCurtailment: {
		summary: "Power curtailment: step the active power limit and compare EUT and DAQ power",
		build:   func(cfg *config.Config) orchestrator.Procedure { return newCurtailment(cfg) },
	},
	config.ProcFreqWatt: {
		summary: "Frequency-watt: sweep grid frequency against a frequency-watt curve",
		build:   func(cfg *config.Config) orchestrator.Procedure { return newFreqWatt(cfg) },
	},
	config.ProcVoltVar: {
		summary: "Volt-var: sweep grid voltage against a volt-var curve",
		build:   func(cfg *config.Config) orchestrator.Procedure { return newVoltVar(cfg) },
	},
	config.ProcPF: {
		summary: "Fixed power factor: sweep PF setpoints at several irradiance levels",
		build:   func(cfg *config.Config) orchestrator.Procedure { return newPF(cfg) },
	},
}

// New builds the procedure cfg names.
func New(cfg *config.Config) (orchestrator.Procedure, error) {
	e, ok := registry[cfg.Procedure]
	if !ok {
		return nil, fmt.Errorf("unknown procedure %q", cfg.Procedure)
	}
	return e.build(cfg), nil
}

// Names returns the registered procedure names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Describe returns a one-line summary of a procedure.
func Describe(name string) string {
	return registry[name].summary
}

// startupConfig applies the config's startup overrides to a procedure's
// defaults.
func startupConfig(cfg *config.Config, def startup.Config) *startup.Config {
	if cfg.Startup.Fraction > 0 {
		def.Fraction = cfg.Startup.Fraction
	}
	if cfg.Startup.Timeout > 0 {
		def.Timeout = cfg.Startup.Timeout
	}
	if cfg.Startup.Interval > 0 {
		def.Interval = cfg.Startup.Interval
	}
	return &def
}

// withDAQ adds an optional DAQ to a procedure that does not need one.
func withDAQ(daq bool, req orchestrator.Requirements) orchestrator.Requirements {
	if daq && !req.DAQ {
		req.DAQ = true
		req.SoftChannels = []string{recorder.SoftTotal, recorder.SoftInverter}
	}
	return req
}

func ptr[T any](v T) *T { return &v }

const (
	timeoutShort = 20 * time.Second
	timeoutLong  = 120 * time.Second
)
