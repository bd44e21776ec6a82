// Package store provides SQLite-backed durable storage for test runs.
//
// Each run records:
//   - Runs: procedure, final status, state history and parameters
//   - Summary rows: one per setpoint step
//   - Samples: forced DAQ captures with their derived totals
//   - Artifacts: one exported dataset per capture window
//
// # Ordering
//
// All reads are ordered by logical sequence, never by wall-clock time:
// runs by creation seq, samples by their recorder seq, rows by position.
// Ties break on id COLLATE BINARY so results are identical across reads.
//
// # Idempotency
//
// Writes use ON CONFLICT DO NOTHING keyed on (run_id, position). Writing
// the same sample twice is a no-op.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Rows must belong to a created run
//
// Store implements recorder.Sink.
package store
