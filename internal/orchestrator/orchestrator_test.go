package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dersweep/internal/config"
	"github.com/roach88/dersweep/internal/device"
	"github.com/roach88/dersweep/internal/device/sim"
	"github.com/roach88/dersweep/internal/metrics"
	"github.com/roach88/dersweep/internal/orchestrator"
	"github.com/roach88/dersweep/internal/procedure"
	"github.com/roach88/dersweep/internal/recorder"
	"github.com/roach88/dersweep/internal/startup"
	"github.com/roach88/dersweep/internal/store"
	"github.com/roach88/dersweep/internal/testutil"
)

var (
	fullRun = []orchestrator.State{
		orchestrator.StateInit,
		orchestrator.StateDeviceSetup,
		orchestrator.StateSynchronizing,
		orchestrator.StateSweeping,
		orchestrator.StateFinalizing,
		orchestrator.StateDone,
	}
	setupFailed = []orchestrator.State{
		orchestrator.StateInit,
		orchestrator.StateDeviceSetup,
		orchestrator.StateFinalizing,
		orchestrator.StateDone,
	}
)

type harness struct {
	drv     *sim.Driver
	sleeper *testutil.FakeSleeper
	dir     string
	orch    *orchestrator.Orchestrator
}

func newHarness(t *testing.T, cfg sim.Config, opts ...func(*orchestrator.Options)) *harness {
	t.Helper()
	h := &harness{
		drv:     sim.NewDriver(cfg),
		sleeper: &testutil.FakeSleeper{},
		dir:     t.TempDir(),
	}
	o := orchestrator.Options{
		Driver:    h.drv,
		OutputDir: h.dir,
		Sleeper:   h.sleeper,
		Logger:    testutil.DiscardLogger(),
		RunIDs:    testutil.NewFixedRunIDGenerator("run-1"),
	}
	for _, fn := range opts {
		fn(&o)
	}
	h.orch = orchestrator.New(o)
	return h
}

func curtailment(t *testing.T, repeats int) orchestrator.Procedure {
	t.Helper()
	cfg, err := config.Default(config.ProcCurtailment)
	require.NoError(t, err)
	cfg.Curtailment.Repeats = repeats
	proc, err := procedure.New(cfg)
	require.NoError(t, err)
	return proc
}

func mustProcedure(t *testing.T, name string) orchestrator.Procedure {
	t.Helper()
	cfg, err := config.Default(name)
	require.NoError(t, err)
	proc, err := procedure.New(cfg)
	require.NoError(t, err)
	return proc
}

// assertReleased checks every device the driver opened was closed once.
func assertReleased(t *testing.T, drv *sim.Driver) {
	t.Helper()
	if drv.EUT != nil {
		assert.Equal(t, 1, drv.EUT.Closes, "eut closes")
	}
	if drv.HIL != nil {
		assert.Equal(t, 1, drv.HIL.Closes, "hil closes")
	}
	if drv.PV != nil {
		assert.Equal(t, 1, drv.PV.Closes, "pv closes")
	}
	if drv.Grid != nil {
		assert.Equal(t, 1, drv.Grid.Closes, "grid closes")
	}
	if drv.DAQ != nil {
		assert.Equal(t, 1, drv.DAQ.Closes, "daq closes")
	}
}

func TestRun_CurtailmentComplete(t *testing.T) {
	h := newHarness(t, sim.DefaultConfig())

	res := h.orch.Run(context.Background(), curtailment(t, 2))
	require.NoError(t, res.Err)

	assert.Equal(t, orchestrator.StatusComplete, res.Status)
	assert.Equal(t, fullRun, res.States)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, 0, res.Startup.Polls)

	require.Len(t, res.Rows, 20)
	assert.Equal(t, recorder.Row{Run: 1, Setpoint: 10, EUTReported: 500, DAQTotal: 500}, res.Rows[0])
	assert.Equal(t, recorder.Row{Run: 2, Setpoint: 100, EUTReported: 5000, DAQTotal: 5000}, res.Rows[19])

	// W_TARG follows the percent sweep in order.
	var targets []float64
	for _, s := range res.Samples[:10] {
		targets = append(targets, s.Values[recorder.SoftTarget])
	}
	assert.Equal(t, []float64{500, 1000, 1500, 2000, 2500, 3000, 3500, 4000, 4500, 5000}, targets)

	require.Len(t, res.Artifacts, 2)
	assert.Equal(t, "curtailment_run_1.csv", res.Artifacts[0].Name)
	assert.Equal(t, "curtailment_run_2.csv", res.Artifacts[1].Name)
	for _, a := range res.Artifacts {
		assert.Equal(t, 10, a.Rows)
		assert.FileExists(t, a.Path)
	}
	assert.Equal(t, filepath.Join(h.dir, orchestrator.SummaryFile), res.SummaryPath)
	assert.FileExists(t, res.SummaryPath)

	assert.Equal(t, 40*time.Second, h.sleeper.Total())
	assert.False(t, h.drv.EUT.Enabled(device.FuncLimitPower))
	assertReleased(t, h.drv)
}

func TestRun_FailureAtEveryPhase(t *testing.T) {
	tests := []struct {
		name      string
		procedure string
		sim       func(*sim.Config)
		states    []orchestrator.State
		check     func(t *testing.T, res *orchestrator.RunResult, h *harness)
	}{
		{
			name:      "open failure",
			procedure: config.ProcVoltVar,
			sim: func(c *sim.Config) {
				c.Faults.FailOpen = map[device.Kind]bool{device.KindGridSim: true}
			},
			states: setupFailed,
			check: func(t *testing.T, res *orchestrator.RunResult, h *harness) {
				assert.True(t, device.IsInitError(res.Err))
				assert.Nil(t, h.drv.Grid)
				assert.NotNil(t, h.drv.PV)
			},
		},
		{
			name:      "configure failure",
			procedure: config.ProcCurtailment,
			sim: func(c *sim.Config) {
				c.Faults.FailConfigure = map[device.Kind]bool{device.KindDAQ: true}
			},
			states: setupFailed,
			check: func(t *testing.T, res *orchestrator.RunResult, h *harness) {
				assert.True(t, device.IsInitError(res.Err))
				require.NotNil(t, h.drv.DAQ)
				assert.Empty(t, res.Rows)
			},
		},
		{
			name:      "startup timeout",
			procedure: config.ProcCurtailment,
			sim: func(c *sim.Config) {
				c.Running = false
				c.StartAfterReads = -1
			},
			states: []orchestrator.State{
				orchestrator.StateInit,
				orchestrator.StateDeviceSetup,
				orchestrator.StateSynchronizing,
				orchestrator.StateFinalizing,
				orchestrator.StateDone,
			},
			check: func(t *testing.T, res *orchestrator.RunResult, h *harness) {
				assert.True(t, startup.IsTimeoutError(res.Err))
				assert.Equal(t, 20, h.sleeper.Calls())
				assert.Equal(t, "STARTUP_TIMEOUT", orchestrator.ErrorCode(res.Err))
			},
		},
		{
			name:      "startup timeout with close failure",
			procedure: config.ProcFreqWatt,
			sim: func(c *sim.Config) {
				c.Running = false
				c.StartAfterReads = -1
				c.Faults.FailClose = map[device.Kind]bool{device.KindGridSim: true}
			},
			states: []orchestrator.State{
				orchestrator.StateInit,
				orchestrator.StateDeviceSetup,
				orchestrator.StateSynchronizing,
				orchestrator.StateFinalizing,
				orchestrator.StateDone,
			},
			check: func(t *testing.T, res *orchestrator.RunResult, h *harness) {
				assert.True(t, startup.IsTimeoutError(res.Err))
				assert.True(t, device.IsCommError(res.Err))
				assert.Contains(t, res.Err.Error(), "release devices")
				assert.Equal(t, "STARTUP_TIMEOUT", orchestrator.ErrorCode(res.Err))
			},
		},
		{
			name:      "sweep failure",
			procedure: config.ProcCurtailment,
			sim: func(c *sim.Config) {
				c.Faults.FailEnableAfter = 3
			},
			states: fullRun,
			check: func(t *testing.T, res *orchestrator.RunResult, h *harness) {
				assert.True(t, device.IsCommError(res.Err))
				assert.True(t, errors.Is(res.Err, sim.ErrInjected))
				assert.Len(t, res.Rows, 2)
				require.Len(t, res.Artifacts, 1)
				assert.Equal(t, "curtailment_run_1.csv", res.Artifacts[0].Name)
				assert.Equal(t, 2, res.Artifacts[0].Rows)
				assert.False(t, h.drv.EUT.Enabled(device.FuncLimitPower))
			},
		},
		{
			name:      "sample failure",
			procedure: config.ProcCurtailment,
			sim: func(c *sim.Config) {
				c.Faults.FailSample = true
			},
			states: fullRun,
			check: func(t *testing.T, res *orchestrator.RunResult, h *harness) {
				assert.Equal(t, "DEVICE_COMM", orchestrator.ErrorCode(res.Err))
				assert.Empty(t, res.Rows)
				require.Len(t, res.Artifacts, 1)
				assert.Equal(t, 0, res.Artifacts[0].Rows)
			},
		},
		{
			name:      "grid failure mid sweep",
			procedure: config.ProcFreqWatt,
			sim: func(c *sim.Config) {
				c.Faults.FailGridAfter = 5
			},
			states: fullRun,
			check: func(t *testing.T, res *orchestrator.RunResult, h *harness) {
				assert.Len(t, res.Rows, 4)
				assert.Len(t, h.drv.Grid.Frequencies, 4)
				assert.False(t, h.drv.EUT.Enabled(device.FuncFreqWatt))
			},
		},
		{
			name:      "close failure",
			procedure: config.ProcCurtailment,
			sim: func(c *sim.Config) {
				c.Faults.FailClose = map[device.Kind]bool{device.KindEUT: true}
			},
			states: fullRun,
			check: func(t *testing.T, res *orchestrator.RunResult, h *harness) {
				assert.True(t, device.IsCommError(res.Err))
				assert.Contains(t, res.Err.Error(), "release devices")
				assert.Len(t, res.Rows, 100)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := sim.DefaultConfig()
			tt.sim(&cfg)
			h := newHarness(t, cfg)

			res := h.orch.Run(context.Background(), mustProcedure(t, tt.procedure))

			require.Error(t, res.Err)
			assert.Equal(t, orchestrator.StatusFail, res.Status)
			assert.Equal(t, tt.states, res.States)
			assert.FileExists(t, res.SummaryPath)
			assertReleased(t, h.drv)
			tt.check(t, res, h)
		})
	}
}

func TestRun_CancelledMidDwell(t *testing.T) {
	h := newHarness(t, sim.DefaultConfig())
	h.sleeper.FailAt = 3

	res := h.orch.Run(context.Background(), curtailment(t, 1))

	assert.Equal(t, orchestrator.StatusFail, res.Status)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Len(t, res.Rows, 2)
	assertReleased(t, h.drv)
}

func TestRun_CancelledContextStillReleases(t *testing.T) {
	h := newHarness(t, sim.DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.orch.Run(ctx, curtailment(t, 1))

	assert.Equal(t, orchestrator.StatusFail, res.Status)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assertReleased(t, h.drv)
}

type panicProcedure struct {
	in string
}

func (p *panicProcedure) Name() string { return "panicky" }

func (p *panicProcedure) Requirements() orchestrator.Requirements {
	return orchestrator.Requirements{HIL: true}
}

func (p *panicProcedure) Setup(ctx context.Context, s *orchestrator.Session) error {
	if p.in == "setup" {
		panic("setup exploded")
	}
	return nil
}

func (p *panicProcedure) Startup() *startup.Config { return nil }

func (p *panicProcedure) Sweep(ctx context.Context, s *orchestrator.Session) error {
	if err := s.EnableFunction(ctx, device.FuncVoltWatt, device.FunctionParams{}); err != nil {
		return err
	}
	var m map[string]int
	m["boom"]++
	return nil
}

func TestRun_PanicBecomesFail(t *testing.T) {
	for _, in := range []string{"setup", "sweep"} {
		t.Run(in, func(t *testing.T) {
			h := newHarness(t, sim.DefaultConfig())

			res := h.orch.Run(context.Background(), &panicProcedure{in: in})

			require.NotNil(t, res)
			assert.Equal(t, orchestrator.StatusFail, res.Status)
			assert.True(t, orchestrator.IsPanicError(res.Err))
			assert.Equal(t, orchestrator.StateDone, res.States[len(res.States)-1])
			assert.Equal(t, orchestrator.StateFinalizing, res.States[len(res.States)-2])
			assertReleased(t, h.drv)
			assert.False(t, h.drv.EUT.Enabled(device.FuncVoltWatt))
		})
	}
}

func TestRun_SkipsSynchronizingWithoutStartup(t *testing.T) {
	h := newHarness(t, sim.DefaultConfig())

	res := h.orch.Run(context.Background(), &panicProcedure{in: "sweep"})

	assert.NotContains(t, res.States, orchestrator.StateSynchronizing)
	assert.Contains(t, res.States, orchestrator.StateSweeping)
}

func TestRun_NoDriver(t *testing.T) {
	orch := orchestrator.New(orchestrator.Options{})

	res := orch.Run(context.Background(), curtailment(t, 1))

	assert.Equal(t, orchestrator.StatusFail, res.Status)
	assert.Equal(t, []orchestrator.State{
		orchestrator.StateInit, orchestrator.StateFinalizing, orchestrator.StateDone,
	}, res.States)
	assert.NotEmpty(t, res.RunID)
}

func TestRun_PersistsToStore(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := newHarness(t, sim.DefaultConfig(), func(o *orchestrator.Options) {
		o.Store = st
		o.Params = map[string]any{"repeats": 1}
	})
	res := h.orch.Run(context.Background(), curtailment(t, 1))
	require.NoError(t, res.Err)

	ctx := context.Background()
	run, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusComplete, run.Status)
	assert.Equal(t, config.ProcCurtailment, run.Procedure)
	assert.Equal(t, []string{"INIT", "DEVICE_SETUP", "SYNCHRONIZING", "SWEEPING", "FINALIZING", "DONE"}, run.States)

	rows, err := st.ReadRows(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, res.Rows, rows)

	samples, err := st.ReadSamples(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, samples, 10)

	artifacts, err := st.ReadArtifacts(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "curtailment_run_1.csv", artifacts[0].Name)
}

func TestRun_FailurePersistsStatus(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := sim.DefaultConfig()
	cfg.Faults.FailEnableAfter = 1
	h := newHarness(t, cfg, func(o *orchestrator.Options) { o.Store = st })
	res := h.orch.Run(context.Background(), curtailment(t, 1))
	require.Error(t, res.Err)

	run, err := st.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFail, run.Status)
	assert.Contains(t, run.Error, "DEVICE_COMM")
}

func TestRun_Metrics(t *testing.T) {
	m := metrics.New()
	h := newHarness(t, sim.DefaultConfig(), func(o *orchestrator.Options) { o.Metrics = m })

	res := h.orch.Run(context.Background(), curtailment(t, 1))
	require.NoError(t, res.Err)

	path := filepath.Join(t.TempDir(), "run.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `dersweep_setpoints_applied_total{sweep="curtailment"} 10`)
	assert.Contains(t, string(data), `dersweep_summary_rows_total 10`)
	assert.Contains(t, string(data), `dersweep_run_status{procedure="curtailment",status="COMPLETE"} 1`)
}

func TestArtifactName(t *testing.T) {
	assert.Equal(t, "freq_watt_run_3.csv", orchestrator.ArtifactName("freq-watt", 3))
}

func TestErrorCode(t *testing.T) {
	closeErr := fmt.Errorf("release devices: %w",
		device.CommError(device.KindGridSim, "close", sim.ErrInjected))

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"device init", device.InitError(device.KindEUT, "open", sim.ErrInjected), "DEVICE_INIT"},
		{"timeout", &startup.TimeoutError{Polls: 20}, "STARTUP_TIMEOUT"},
		{"channel", &recorder.ChannelError{}, "CHANNEL_UNAVAILABLE"},
		{"panic", &orchestrator.PanicError{Value: "boom"}, "PANIC"},
		{"recorder", fmt.Errorf("export: %w", recorder.ErrNoWindow), "RECORDER"},
		{"other", errors.New("boom"), "RUN_ERROR"},
		{"timeout joined with release failure", errors.Join(&startup.TimeoutError{}, closeErr), "STARTUP_TIMEOUT"},
		{"panic joined with release failure", errors.Join(&orchestrator.PanicError{Value: 1}, closeErr), "PANIC"},
		{"release failure alone", errors.Join(closeErr), "DEVICE_COMM"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, orchestrator.ErrorCode(tt.err))
		})
	}
}
