package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/dersweep/internal/recorder"
)

// CreateRun inserts a run in RUNNING state. Its seq is assigned from the
// number of runs already stored. Uses ON CONFLICT(id) DO NOTHING for
// idempotency.
func (s *Store) CreateRun(ctx context.Context, run Run) error {
	params := run.Params
	if params == nil {
		params = map[string]any{}
	}
	paramsJSON, err := marshalJSON(params)
	if err != nil {
		return fmt.Errorf("create run: marshal params: %w", err)
	}

	status := run.Status
	if status == "" {
		status = StatusRunning
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, procedure, status, seq, started_at, params)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM runs), ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.Procedure,
		status,
		formatTime(run.StartedAt),
		paramsJSON,
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishRun records the terminal status of a run.
func (s *Store) FinishRun(ctx context.Context, id, status, errMsg string, states []string, finished time.Time) error {
	if states == nil {
		states = []string{}
	}
	statesJSON, err := marshalJSON(states)
	if err != nil {
		return fmt.Errorf("finish run: marshal states: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, states = ?, finished_at = ?
		WHERE id = ?
	`, status, errMsg, statesJSON, formatTime(finished), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrRunNotFound)
	}
	return nil
}

// WriteSample inserts a sample. Duplicate (run, seq) pairs are ignored.
func (s *Store) WriteSample(ctx context.Context, runID string, sample recorder.Sample) error {
	valsJSON, err := marshalJSON(sample.Values)
	if err != nil {
		return fmt.Errorf("write sample: marshal values: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO samples (run_id, seq, capture_window, vals, total, total_source)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		runID,
		sample.Seq,
		sample.Window,
		valsJSON,
		sample.Total.Value,
		sample.Total.Source.String(),
	)
	if err != nil {
		return fmt.Errorf("write sample: %w", err)
	}
	return nil
}

// WriteRow inserts a summary row at 1-based position index.
func (s *Store) WriteRow(ctx context.Context, runID string, index int, row recorder.Row) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summary_rows (run_id, idx, repetition, setpoint, eut_w, daq_w)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		runID,
		index,
		row.Run,
		row.Setpoint,
		row.EUTReported,
		row.DAQTotal,
	)
	if err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	return nil
}

// WriteArtifact records an exported capture window.
func (s *Store) WriteArtifact(ctx context.Context, runID string, a recorder.Artifact) error {
	columns := a.Columns
	if columns == nil {
		columns = []string{}
	}
	colsJSON, err := marshalJSON(columns)
	if err != nil {
		return fmt.Errorf("write artifact: marshal columns: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO artifacts (run_id, capture_window, name, path, columns, row_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		runID,
		a.Window,
		a.Name,
		a.Path,
		colsJSON,
		a.Rows,
	)
	if err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

var _ recorder.Sink = (*Store)(nil)
