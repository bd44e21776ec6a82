package harness

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, doc string) *Scenario {
	t.Helper()
	scenario, err := ParseScenario([]byte(doc))
	require.NoError(t, err)
	return scenario
}

func TestRun_Scenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.Equal(t, name, scenario.Name, "scenario name must match its file name")

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "assertion failures:\n%s", strings.Join(result.Errors, "\n"))
		})
	}
}

func TestRun_ReportsFailedAssertions(t *testing.T) {
	scenario := mustParse(t, `
name: wrong_expectations
description: Expectations that do not hold
config:
  procedure: curtailment
  curtailment:
    repeats: 1
    percents: [100]
assertions:
  - type: status
    status: FAIL
  - type: row_count
    count: 1
  - type: artifacts
    names: [other.csv]
`)

	result, err := Run(context.Background(), scenario, "")
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "assertions[0]")
	assert.Contains(t, result.Errors[1], "assertions[2]")
	assert.Equal(t, "test-run-default", result.Run.RunID)
	assert.Equal(t, "test-run-default", result.Record.ID)
}

func TestRun_WritesOutputFiles(t *testing.T) {
	dir := t.TempDir()
	scenario := mustParse(t, `
name: output_files
description: Artifacts and the summary land in the output directory
run_id: run-out
config:
  procedure: curtailment
  curtailment:
    repeats: 2
    percents: [100]
assertions:
  - type: artifacts
    names: [curtailment_run_1.csv, curtailment_run_2.csv]
`)

	result, err := Run(context.Background(), scenario, dir)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)

	for _, name := range []string{"curtailment_run_1.csv", "curtailment_run_2.csv", "result_summary.csv"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	scenario := mustParse(t, `
name: bad_config
description: Config the schema rejects
config:
  procedure: anti-islanding
assertions:
  - type: status
    status: FAIL
`)

	_, err := Run(context.Background(), scenario, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenario bad_config")
}
