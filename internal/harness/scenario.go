package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines one acceptance scenario: a run config and what the
// run must produce.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario checks.
	Description string `yaml:"description"`

	// RunID is the fixed run ID. Defaults to "test-run-default".
	RunID string `yaml:"run_id,omitempty"`

	// Config is the run config, kept as a YAML node so it can be checked
	// exactly like a config file.
	Config yaml.Node `yaml:"config"`

	// Assertions validate the run result and the stored record.
	Assertions []Assertion `yaml:"assertions"`
}

// Assertion checks one property of a finished run.
type Assertion struct {
	Type string `yaml:"type"`

	// Status is the expected run status (status).
	Status string `yaml:"status,omitempty"`

	// States is the expected state sequence (states).
	States []string `yaml:"states,omitempty"`

	// Code is the expected error code (error_code).
	Code string `yaml:"code,omitempty"`

	// Count is the expected number of rows (row_count).
	Count *int `yaml:"count,omitempty"`

	// Index is the 1-based row to check (row).
	Index int `yaml:"index,omitempty"`

	// Names are the expected artifact names (artifacts).
	Names []string `yaml:"names,omitempty"`

	// Expect holds expected field values (row, final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertStatus     = "status"
	AssertStates     = "states"
	AssertErrorCode  = "error_code"
	AssertRowCount   = "row_count"
	AssertRow        = "row"
	AssertArtifacts  = "artifacts"
	AssertFinalState = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// ConfigYAML returns the scenario's config block as a YAML document.
func (s *Scenario) ConfigYAML() ([]byte, error) {
	return yaml.Marshal(&s.Config)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Config.Kind != yaml.MappingNode {
		return fmt.Errorf("config is required and must be a mapping")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertStatus:
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for status", index)
		}
	case AssertStates:
		if len(a.States) == 0 {
			return fmt.Errorf("assertions[%d]: states list is required for states", index)
		}
	case AssertErrorCode:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for error_code", index)
		}
	case AssertRowCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for row_count", index)
		}
	case AssertRow:
		if a.Index < 1 {
			return fmt.Errorf("assertions[%d]: index must be at least 1 for row", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for row", index)
		}
	case AssertArtifacts:
		// An empty list asserts that nothing was exported.
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
