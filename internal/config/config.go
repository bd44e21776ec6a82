// Package config loads run configuration from YAML.
//
// A document is checked against an embedded CUE schema, decoded with
// unknown fields rejected, filled with the defaults of the original test
// scripts and then validated.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Procedure names.
const (
	ProcCurtailment = "curtailment"
	ProcFreqWatt    = "freq-watt"
	ProcVoltVar     = "volt-var"
	ProcPF          = "pf"
)

// Frequency-watt curve modes.
const (
	ModePointwise  = "pointwise"
	ModeParameters = "parameters"
)

// Config is one run configuration.
type Config struct {
	Procedure   string `yaml:"procedure"`
	OutputDir   string `yaml:"output_dir"`
	Database    string `yaml:"database"`
	MetricsFile string `yaml:"metrics_file"`

	Bench       BenchConfig       `yaml:"bench"`
	Startup     StartupConfig     `yaml:"startup"`
	Curtailment CurtailmentConfig `yaml:"curtailment"`
	FreqWatt    FreqWattConfig    `yaml:"freq_watt"`
	VoltVar     VoltVarConfig     `yaml:"volt_var"`
	PF          PFConfig          `yaml:"pf"`
}

type BenchConfig struct {
	Driver string    `yaml:"driver"`
	Sim    SimConfig `yaml:"sim"`

	// DAQ opens a DAQ for procedures that do not need one. Curtailment
	// always opens it.
	DAQ bool `yaml:"daq"`
}

type SimConfig struct {
	RatedPower       float64 `yaml:"rated_power"`
	Phases           int     `yaml:"phases"`
	Running          *bool   `yaml:"running"`
	IdlePower        float64 `yaml:"idle_power"`
	StartAfterReads  int     `yaml:"start_after_reads"`
	NominalVoltage   float64 `yaml:"nominal_voltage"`
	NominalFrequency float64 `yaml:"nominal_frequency"`
	HIL              *bool   `yaml:"hil"`

	Faults FaultsConfig `yaml:"faults"`
}

type FaultsConfig struct {
	FailOpen        []string `yaml:"fail_open"`
	FailConfigure   []string `yaml:"fail_configure"`
	FailClose       []string `yaml:"fail_close"`
	FailEnableAfter int      `yaml:"fail_enable_after"`
	FailGridAfter   int      `yaml:"fail_grid_after"`
	FailSample      bool     `yaml:"fail_sample"`
}

// StartupConfig overrides the procedure's startup timing. Zero values
// keep the procedure default.
type StartupConfig struct {
	Fraction float64       `yaml:"fraction"`
	Timeout  time.Duration `yaml:"timeout"`
	Interval time.Duration `yaml:"interval"`
}

type CurtailmentConfig struct {
	Repeats  int           `yaml:"repeats"`
	Percents []float64     `yaml:"percents"`
	Dwell    time.Duration `yaml:"dwell"`
}

type SweepRange struct {
	Start  float64 `yaml:"start"`
	Stop   float64 `yaml:"stop"`
	Points int     `yaml:"points"`
}

type Curve struct {
	X []float64 `yaml:"x"`
	Y []float64 `yaml:"y"`
}

type FreqWattConfig struct {
	Mode            string        `yaml:"mode"`
	PVIrradiance    float64       `yaml:"pv_irradiance"`
	NudgeIrradiance float64       `yaml:"nudge_irradiance"`
	Curve           Curve         `yaml:"curve"`
	HzStart         float64       `yaml:"hz_start"`
	HzStop          float64       `yaml:"hz_stop"`
	Gradient        float64       `yaml:"gradient"`
	Sweep           SweepRange    `yaml:"sweep"`
	Dwell           time.Duration `yaml:"dwell"`
}

type VoltVarConfig struct {
	VNom         float64       `yaml:"v_nom"`
	PVIrradiance float64       `yaml:"pv_irradiance"`
	Curve        Curve         `yaml:"curve"`
	Sweep        SweepRange    `yaml:"sweep"`
	Dwell        time.Duration `yaml:"dwell"`
}

type PFConfig struct {
	PVIrradiance float64       `yaml:"pv_irradiance"`
	Settle       time.Duration `yaml:"settle"`
	PFStart      *float64      `yaml:"pf_start"`
	PFEnd        *float64      `yaml:"pf_end"`
	Steps        int           `yaml:"steps"`
	Irradiance   []float64     `yaml:"irradiance"`
	Dwell        time.Duration `yaml:"dwell"`
}

// Load reads, schema-checks, decodes, defaults and validates path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse does what Load does on an in-memory document.
func Parse(data []byte) (*Config, error) {
	if err := checkSchema(data); err != nil {
		return nil, err
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// SchemaError reports a document that does not satisfy the CUE schema.
type SchemaError struct {
	Details string
}

func (e *SchemaError) Error() string {
	return "config schema: " + e.Details
}

// IsSchemaError reports whether err is a SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

func checkSchema(data []byte) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	if raw == nil {
		return &SchemaError{Details: "empty document"}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return &SchemaError{Details: cueerrors.Details(err, nil)}
	}
	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return &SchemaError{Details: cueerrors.Details(err, nil)}
	}
	return nil
}

// Default returns the defaulted configuration for procedure without
// reading a file.
func Default(procedure string) (*Config, error) {
	cfg := &Config{Procedure: procedure}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
