package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordRun runs the curtailment config into a fresh database.
func recordRun(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	cmd, _, _ := testRunCommand("text", "--output", t.TempDir(), "--db", dbPath, writeConfig(t, curtailmentConfig))
	require.NoError(t, cmd.Execute())
	return dbPath
}

func executeRuns(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRunsCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRunsList(t *testing.T) {
	dbPath := recordRun(t)

	out, err := executeRuns(t, "text", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "curtailment")
	assert.Contains(t, out, "COMPLETE")
}

func TestRunsDetail(t *testing.T) {
	dbPath := recordRun(t)

	out, err := executeRuns(t, "text", "--db", dbPath, "--rows", "run-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Run run-1 (curtailment)")
	assert.Contains(t, out, "INIT -> DEVICE_SETUP -> SYNCHRONIZING -> SWEEPING -> FINALIZING -> DONE")
	assert.Contains(t, out, "repeats=1")
	assert.Contains(t, out, "curtailment_run_1.csv")
	assert.Contains(t, out, "EUT    2,500.0 W")
	assert.Contains(t, out, "Samples:   2")
}

func TestRunsDetailJSON(t *testing.T) {
	dbPath := recordRun(t)

	out, err := executeRuns(t, "json", "--db", dbPath, "run-1")
	require.NoError(t, err)

	var resp struct {
		Data RunDetail `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "COMPLETE", resp.Data.Status)
	assert.Equal(t, []ReportRow{
		{Run: 1, Setpoint: 50, EUTW: 2500, DAQW: 2500},
		{Run: 1, Setpoint: 100, EUTW: 5000, DAQW: 5000},
	}, resp.Data.Rows)
	assert.Equal(t, []string{"curtailment_run_1.csv"}, resp.Data.Artifacts)
}

func TestRunsUnknownRun(t *testing.T) {
	dbPath := recordRun(t)

	out, err := executeRuns(t, "text", "--db", dbPath, "nope")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [NOT_FOUND]")
}

func TestRunsMissingDatabase(t *testing.T) {
	_, err := executeRuns(t, "text", "--db", filepath.Join(t.TempDir(), "missing.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunsRequiresDB(t *testing.T) {
	_, err := executeRuns(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestFormatArgs(t *testing.T) {
	got := formatArgs(map[string]any{
		"b": []any{1.0, "x"},
		"a": map[string]any{"z": 2, "y": "v"},
	})
	assert.Equal(t, "{a={y=v, z=2}, b=[1, x]}", got)
	assert.Equal(t, "{}", formatArgs(nil))
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "run-1", truncateID("run-1"))
	assert.Equal(t, "0192f0c4...5c1f0e6b", truncateID("0192f0c4-7c1e-7d4a-9a59-5c1f0e6b"))
}
