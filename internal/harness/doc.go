// Package harness runs acceptance scenarios against the simulated bench.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: curtailment_two_steps
//	description: "What this scenario checks"
//	run_id: scenario-run-1
//	config:
//	  procedure: curtailment
//	  curtailment:
//	    repeats: 1
//	    percents: [50, 100]
//	assertions:
//	  - type: status
//	    status: COMPLETE
//	  - type: row
//	    index: 2
//	    expect: { setpoint: 100, eut_w: 5000 }
//	  - type: final_state
//	    expect: { status: COMPLETE, procedure: curtailment }
//
// The config block is an ordinary run config and goes through the same
// schema check, defaults and validation as a config file.
//
// # Assertion Types
//
//   - status: the run's final status
//   - states: the exact state sequence
//   - error_code: the classified error code of a failed run
//   - row_count: the number of summary rows
//   - row: field values of one summary row (1-based index, subset match)
//   - artifacts: the exported dataset names, in order
//   - final_state: fields of the run record persisted in the store
//
// # Deterministic Testing
//
// Every scenario runs with a fixed run ID, a sleeper that never waits, a
// stepping wall clock and a fresh in-memory SQLite database, so the same
// scenario always produces the same snapshot for golden comparison.
package harness
