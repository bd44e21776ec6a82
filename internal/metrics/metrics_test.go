package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	m := New()

	m.SetpointApplied("curtailment")
	m.SetpointApplied("curtailment")
	if got := testutil.ToFloat64(m.setpoints.WithLabelValues("curtailment")); got != 2 {
		t.Fatalf("expected 2 setpoints, got %f", got)
	}

	m.SampleCaptured("single_phase", 4200)
	if got := testutil.ToFloat64(m.samples.WithLabelValues("single_phase")); got != 1 {
		t.Fatalf("expected 1 single-phase sample, got %f", got)
	}
	if got := testutil.ToFloat64(m.daqTotal); got != 4200 {
		t.Fatalf("expected daq total 4200, got %f", got)
	}

	m.RowRecorded()
	if got := testutil.ToFloat64(m.rows); got != 1 {
		t.Fatalf("expected 1 row, got %f", got)
	}

	m.StartupPolls(7)
	if got := testutil.ToFloat64(m.startupPolls); got != 7 {
		t.Fatalf("expected 7 polls, got %f", got)
	}

	m.Error("STARTUP_TIMEOUT")
	if got := testutil.ToFloat64(m.deviceErrors.WithLabelValues("STARTUP_TIMEOUT")); got != 1 {
		t.Fatalf("expected 1 error, got %f", got)
	}

	m.RunFinished("pf", "FAIL", 12)
	if samples := testutil.CollectAndCount(m.runDuration); samples != 1 {
		t.Fatalf("expected run duration histogram to record 1 sample, got %d", samples)
	}
	if got := testutil.ToFloat64(m.runStatus.WithLabelValues("pf", "FAIL")); got != 1 {
		t.Fatalf("expected FAIL status gauge 1, got %f", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.SetpointApplied("x")
	m.SampleCaptured("all_phases", 1)
	m.RowRecorded()
	m.StartupPolls(1)
	m.Error("X")
	m.RunFinished("x", "COMPLETE", 1)
	if m.Registry() != nil {
		t.Fatal("expected nil registry")
	}
	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "m.prom")); err != nil {
		t.Fatalf("nil WriteTextfile: %v", err)
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.SetpointApplied("volt-var")

	path := filepath.Join(t.TempDir(), "dersweep.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(data), `dersweep_setpoints_applied_total{sweep="volt-var"} 1`) {
		t.Fatalf("textfile missing setpoint counter:\n%s", data)
	}
}
