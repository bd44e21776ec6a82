package harness

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/dersweep/internal/orchestrator"
	"github.com/roach88/dersweep/internal/recorder"
)

// Snapshot renders the parts of a run that must not drift: status, error
// code, state sequence, artifact names and the summary CSV.
func Snapshot(name string, run *orchestrator.RunResult) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "scenario: %s\n", name)
	fmt.Fprintf(&buf, "status: %s\n", run.Status)
	if run.Err != nil {
		fmt.Fprintf(&buf, "error: %s\n", orchestrator.ErrorCode(run.Err))
	}
	fmt.Fprintf(&buf, "states: %s\n", strings.Join(stateNames(run.States), " "))

	names := make([]string, 0, len(run.Artifacts))
	for _, a := range run.Artifacts {
		names = append(names, a.Name)
	}
	if len(names) == 0 {
		names = append(names, "(none)")
	}
	fmt.Fprintf(&buf, "artifacts: %s\n", strings.Join(names, " "))

	if err := recorder.WriteRowsCSV(&buf, run.Rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario, t.TempDir())
	if err != nil {
		return nil, err
	}

	snapshot, err := Snapshot(scenario.Name, result.Run)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, snapshot)

	return result, nil
}
