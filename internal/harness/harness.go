package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/dersweep/internal/config"
	"github.com/roach88/dersweep/internal/device/sim"
	"github.com/roach88/dersweep/internal/orchestrator"
	"github.com/roach88/dersweep/internal/procedure"
	"github.com/roach88/dersweep/internal/store"
	"github.com/roach88/dersweep/internal/testutil"
)

// epoch is the wall-clock start of every scenario run.
var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation. Files
// are written under outputDir; an empty outputDir writes none.
//
// Execution flow:
// 1. Parse the config block like a config file
// 2. Build the procedure and a simulated bench from it
// 3. Run the procedure through the orchestrator
// 4. Read back the stored run record
// 5. Evaluate assertions
func Run(ctx context.Context, scenario *Scenario, outputDir string) (*Result, error) {
	data, err := scenario.ConfigYAML()
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	proc, err := procedure.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	orch := orchestrator.New(orchestrator.Options{
		Driver:    sim.NewDriver(cfg.SimBench()),
		Store:     st,
		OutputDir: outputDir,
		Params:    cfg.Params(),
		Sleeper:   &testutil.FakeSleeper{},
		Logger:    testutil.DiscardLogger(),
		RunIDs:    testutil.NewFixedRunIDGenerator(scenario.RunID),
		Now:       testutil.NewStepClock(epoch, time.Second).Now,
	})

	result := NewResult()
	result.Run = orch.Run(ctx, proc)

	record, err := st.GetRun(ctx, result.Run.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to read run record: %w", err)
	}
	result.Record = record

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}
