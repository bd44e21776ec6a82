package procedure_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dersweep/internal/config"
	"github.com/roach88/dersweep/internal/device"
	"github.com/roach88/dersweep/internal/device/sim"
	"github.com/roach88/dersweep/internal/orchestrator"
	"github.com/roach88/dersweep/internal/procedure"
	"github.com/roach88/dersweep/internal/recorder"
	"github.com/roach88/dersweep/internal/sweep"
	"github.com/roach88/dersweep/internal/testutil"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

type run struct {
	res     *orchestrator.RunResult
	drv     *sim.Driver
	sleeper *testutil.FakeSleeper
}

func runProcedure(t *testing.T, cfg *config.Config) run {
	t.Helper()
	proc, err := procedure.New(cfg)
	require.NoError(t, err)

	r := run{drv: sim.NewDriver(cfg.SimBench()), sleeper: &testutil.FakeSleeper{}}
	orch := orchestrator.New(orchestrator.Options{
		Driver:    r.drv,
		OutputDir: t.TempDir(),
		Sleeper:   r.sleeper,
		Logger:    testutil.DiscardLogger(),
		RunIDs:    testutil.NewFixedRunIDGenerator("run-1"),
	})
	r.res = orch.Run(context.Background(), proc)
	return r
}

func defaults(t *testing.T, name string) *config.Config {
	t.Helper()
	cfg, err := config.Default(name)
	require.NoError(t, err)
	return cfg
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"curtailment", "freq-watt", "pf", "volt-var"}, procedure.Names())
	for _, n := range procedure.Names() {
		assert.NotEmpty(t, procedure.Describe(n), n)
	}
}

func TestNew(t *testing.T) {
	for _, n := range procedure.Names() {
		proc, err := procedure.New(defaults(t, n))
		require.NoError(t, err)
		assert.Equal(t, n, proc.Name())
		assert.NotNil(t, proc.Startup(), n)
	}

	_, err := procedure.New(&config.Config{Procedure: "anti-islanding"})
	assert.ErrorContains(t, err, `unknown procedure "anti-islanding"`)
}

func TestRequirements(t *testing.T) {
	tests := []struct {
		name string
		daq  bool
		want orchestrator.Requirements
	}{
		{
			name: config.ProcCurtailment,
			want: orchestrator.Requirements{HIL: true, DAQ: true, SoftChannels: recorder.DefaultSoftChannels},
		},
		{
			name: config.ProcFreqWatt,
			want: orchestrator.Requirements{HIL: true, PV: true, Grid: true},
		},
		{
			name: config.ProcVoltVar,
			daq:  true,
			want: orchestrator.Requirements{
				HIL: true, PV: true, Grid: true, DAQ: true,
				SoftChannels: []string{recorder.SoftTotal, recorder.SoftInverter},
			},
		},
		{
			name: config.ProcPF,
			want: orchestrator.Requirements{HIL: true, PV: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults(t, tt.name)
			cfg.Bench.DAQ = tt.daq
			proc, err := procedure.New(cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, proc.Requirements())
		})
	}
}

func TestStartupOverrides(t *testing.T) {
	cfg := defaults(t, config.ProcPF)
	cfg.Startup.Timeout = 5 * time.Second
	cfg.Startup.Fraction = 0.2

	proc, err := procedure.New(cfg)
	require.NoError(t, err)
	sc := proc.Startup()
	assert.Equal(t, 5*time.Second, sc.Timeout)
	assert.Equal(t, 0.2, sc.Fraction)
	assert.Equal(t, 3*time.Second, sc.PerturbSettle)
	require.NotNil(t, sc.Perturb)
	assert.Equal(t, 800.0, *sc.Perturb)
	assert.False(t, sc.ConnectFirst)
}

func TestCurtailment_DisablesBetweenRepetitions(t *testing.T) {
	cfg := defaults(t, config.ProcCurtailment)
	cfg.Curtailment.Repeats = 2
	cfg.Curtailment.Percents = []float64{50, 100}

	r := runProcedure(t, cfg)
	require.NoError(t, r.res.Err)
	require.Len(t, r.res.Rows, 4)

	var enabled []bool
	for _, w := range r.drv.EUT.Writes {
		assert.Equal(t, device.FuncLimitPower, w.Kind)
		enabled = append(enabled, w.Params.Enabled)
	}
	assert.Equal(t, []bool{true, true, false, true, true, false}, enabled)
	assert.False(t, r.drv.EUT.Enabled(device.FuncLimitPower))
}

func TestCurtailment(t *testing.T) {
	cfg := defaults(t, config.ProcCurtailment)
	cfg.Curtailment.Repeats = 1
	cfg.Curtailment.Percents = []float64{25, 50, 100}

	r := runProcedure(t, cfg)
	require.NoError(t, r.res.Err)

	want := []recorder.Row{
		{Run: 1, Setpoint: 25, EUTReported: 1250, DAQTotal: 1250},
		{Run: 1, Setpoint: 50, EUTReported: 2500, DAQTotal: 2500},
		{Run: 1, Setpoint: 100, EUTReported: 5000, DAQTotal: 5000},
	}
	if diff := cmp.Diff(want, r.res.Rows, approx); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}

	writes := r.drv.EUT.Writes
	require.Len(t, writes, 4)
	for i, pct := range []float64{25, 50, 100} {
		assert.Equal(t, device.FuncLimitPower, writes[i].Kind)
		assert.True(t, writes[i].Params.Enabled)
		assert.Equal(t, pct, writes[i].Params.Values[device.ParamWMaxPct])
	}
	assert.False(t, writes[3].Params.Enabled)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, r.sleeper.Durations)

	for _, s := range r.res.Samples {
		assert.Equal(t, s.Values[recorder.SoftTotal], s.Total.Value)
		assert.Equal(t, recorder.AllPhases, s.Total.Source)
	}
}

func TestFreqWatt_Pointwise(t *testing.T) {
	cfg := defaults(t, config.ProcFreqWatt)
	r := runProcedure(t, cfg)
	require.NoError(t, r.res.Err)

	want := sweep.Linspace(49.5, 53, 50)
	if diff := cmp.Diff(want, r.drv.Grid.Frequencies, approx); diff != "" {
		t.Errorf("frequencies mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, r.res.Rows, 50)
	assert.Equal(t, 5000.0, r.res.Rows[0].EUTReported)
	assert.Equal(t, 0.0, r.res.Rows[49].EUTReported)
	assert.Empty(t, r.res.Artifacts)

	first := r.drv.EUT.Writes[0]
	assert.Equal(t, device.FuncFreqWatt, first.Kind)
	require.NotNil(t, first.Params.Curve)
	assert.Equal(t, []float64{50, 50.2, 51.5, 53}, first.Params.Curve.X)
	assert.Equal(t, 1.0, first.Params.Values[device.ParamActCrv])
	assert.False(t, r.drv.EUT.Enabled(device.FuncFreqWatt))

	assert.True(t, r.drv.PV.On)
	assert.Equal(t, []float64{1000}, r.drv.PV.Irradiances)
}

func TestFreqWatt_Parameters(t *testing.T) {
	cfg := defaults(t, config.ProcFreqWatt)
	cfg.FreqWatt.Mode = config.ModeParameters
	cfg.FreqWatt.Sweep = config.SweepRange{Start: 50, Stop: 51, Points: 3}

	r := runProcedure(t, cfg)
	require.NoError(t, r.res.Err)

	first := r.drv.EUT.Writes[0]
	assert.Nil(t, first.Params.Curve)
	assert.Equal(t, map[string]float64{
		device.ParamHzStr:  50.2,
		device.ParamHzStop: 51.5,
		device.ParamWGra:   140,
		device.ParamHysEna: 0,
	}, first.Params.Values)

	// 140 %/Hz above 50.2 Hz: 50.5 Hz is 0.3 Hz in, leaving 58%.
	got := []float64{r.res.Rows[0].EUTReported, r.res.Rows[1].EUTReported, r.res.Rows[2].EUTReported}
	if diff := cmp.Diff([]float64{5000, 2900, 0}, got, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("power mismatch (-want +got):\n%s", diff)
	}
}

func TestFreqWatt_WithDAQ(t *testing.T) {
	cfg := defaults(t, config.ProcFreqWatt)
	cfg.Bench.DAQ = true
	cfg.FreqWatt.Sweep.Points = 4

	r := runProcedure(t, cfg)
	require.NoError(t, r.res.Err)

	require.Len(t, r.res.Artifacts, 1)
	assert.Equal(t, "freq_watt_run_1.csv", r.res.Artifacts[0].Name)
	assert.Equal(t, 4, r.res.Artifacts[0].Rows)
	assert.Contains(t, r.res.Artifacts[0].Columns, recorder.SoftInverter)
	for _, row := range r.res.Rows {
		assert.InDelta(t, row.EUTReported, row.DAQTotal, 1e-9)
	}
	for _, s := range r.res.Samples {
		assert.InDelta(t, s.Total.Value, s.Values[recorder.SoftInverter], 1e-9)
	}
}

func TestVoltVar_NominalVoltage(t *testing.T) {
	tests := []struct {
		name string
		grid float64
		want float64
	}{
		{name: "configured fallback", grid: 0, want: 230},
		{name: "grid simulator nominal", grid: 240, want: 240},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults(t, config.ProcVoltVar)
			cfg.Bench.Sim.NominalVoltage = tt.grid
			cfg.VoltVar.Sweep = config.SweepRange{Start: 95, Stop: 105, Points: 3}

			r := runProcedure(t, cfg)
			require.NoError(t, r.res.Err)

			want := []float64{0.95 * tt.want, tt.want, 1.05 * tt.want}
			if diff := cmp.Diff(want, r.drv.Grid.Voltages, approx); diff != "" {
				t.Errorf("voltages mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, []float64{95, 100, 105}, []float64{
				r.res.Rows[0].Setpoint, r.res.Rows[1].Setpoint, r.res.Rows[2].Setpoint,
			})
			assert.False(t, r.drv.EUT.Enabled(device.FuncVoltVar))
		})
	}
}

func TestVoltVar_StartsInverter(t *testing.T) {
	cfg := defaults(t, config.ProcVoltVar)
	running := false
	cfg.Bench.Sim.Running = &running
	cfg.Bench.Sim.StartAfterReads = 2
	cfg.VoltVar.Sweep.Points = 2

	r := runProcedure(t, cfg)
	require.NoError(t, r.res.Err)

	assert.Equal(t, 3, r.res.Startup.Polls)
	assert.True(t, r.res.Startup.Kicked)
	assert.Equal(t, []bool{true}, r.drv.EUT.Connects)
	assert.Equal(t, []float64{800, 800}, r.drv.PV.Irradiances)
	assert.Equal(t, []time.Duration{
		time.Second, time.Second, time.Second,
		time.Second, time.Second,
	}, r.sleeper.Durations)
}

func TestPF(t *testing.T) {
	cfg := defaults(t, config.ProcPF)
	cfg.PF.Steps = 3
	cfg.PF.Irradiance = []float64{1000, 500}

	r := runProcedure(t, cfg)
	require.NoError(t, r.res.Err)

	writes := r.drv.EUT.Writes
	require.Len(t, writes, 3+2*(5+1))
	for i, kind := range []device.FunctionKind{device.FuncVoltVar, device.FuncVoltWatt, device.FuncFreqWatt} {
		assert.Equal(t, kind, writes[i].Kind)
		assert.False(t, writes[i].Params.Enabled)
	}

	var pfs []float64
	for _, w := range writes[3:8] {
		assert.Equal(t, device.FuncFixedPF, w.Kind)
		assert.Equal(t, 0.0, w.Params.Values[device.ParamRvrtTms])
		pfs = append(pfs, w.Params.Values[device.ParamPF])
	}
	if diff := cmp.Diff([]float64{0.85, 0.925, 1, -0.925, -0.85}, pfs, approx); diff != "" {
		t.Errorf("pf setpoints mismatch (-want +got):\n%s", diff)
	}
	for _, i := range []int{8, 14} {
		assert.Equal(t, device.FuncFixedPF, writes[i].Kind)
		assert.False(t, writes[i].Params.Enabled, "write %d", i)
	}
	assert.True(t, writes[9].Params.Enabled)
	assert.False(t, r.drv.EUT.Enabled(device.FuncFixedPF))

	assert.Equal(t, []float64{800, 1000, 500}, r.drv.PV.Irradiances)
	require.Len(t, r.res.Rows, 10)
	assert.Equal(t, 1, r.res.Rows[0].Run)
	assert.Equal(t, 2, r.res.Rows[9].Run)
	assert.InDelta(t, 5000, r.res.Rows[0].EUTReported, 1e-9)
	assert.InDelta(t, 2500, r.res.Rows[9].EUTReported, 1e-9)
	assert.Equal(t, 10, r.sleeper.Calls())
}

func TestPF_CaptureWindowPerIrradiance(t *testing.T) {
	cfg := defaults(t, config.ProcPF)
	cfg.Bench.DAQ = true
	cfg.PF.Steps = 2
	cfg.PF.Irradiance = []float64{1000, 600, 300}

	r := runProcedure(t, cfg)
	require.NoError(t, r.res.Err)

	var names []string
	for _, a := range r.res.Artifacts {
		names = append(names, a.Name)
		assert.Equal(t, 3, a.Rows)
	}
	assert.Equal(t, []string{"pf_run_1.csv", "pf_run_2.csv", "pf_run_3.csv"}, names)
}
