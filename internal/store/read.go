package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/dersweep/internal/recorder"
)

const runColumns = `id, procedure, status, seq, started_at, finished_at, error, states, params`

// ListRuns returns every run in creation order.
//
// Returns an empty slice (not nil) if no runs exist.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	// Return empty slice instead of nil
	if runs == nil {
		runs = []Run{}
	}
	return runs, nil
}

// GetRun returns one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("get run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		run                 Run
		started, finished   string
		statesJSON, prmJSON string
	)
	err := sc.Scan(&run.ID, &run.Procedure, &run.Status, &run.Seq,
		&started, &finished, &run.Error, &statesJSON, &prmJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	if run.StartedAt, err = parseTime(started); err != nil {
		return Run{}, fmt.Errorf("scan run %s: started_at: %w", run.ID, err)
	}
	if run.FinishedAt, err = parseTime(finished); err != nil {
		return Run{}, fmt.Errorf("scan run %s: finished_at: %w", run.ID, err)
	}
	if run.States, err = unmarshalStates(statesJSON); err != nil {
		return Run{}, fmt.Errorf("scan run %s: %w", run.ID, err)
	}
	if run.Params, err = unmarshalParams(prmJSON); err != nil {
		return Run{}, fmt.Errorf("scan run %s: %w", run.ID, err)
	}
	return run, nil
}

// ReadRows returns a run's summary rows in step order.
func (s *Store) ReadRows(ctx context.Context, runID string) ([]recorder.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT repetition, setpoint, eut_w, daq_w
		FROM summary_rows
		WHERE run_id = ?
		ORDER BY idx ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query summary rows: %w", err)
	}
	defer rows.Close()

	out := []recorder.Row{}
	for rows.Next() {
		var r recorder.Row
		if err := rows.Scan(&r.Run, &r.Setpoint, &r.EUTReported, &r.DAQTotal); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary rows: %w", err)
	}
	return out, nil
}

// ReadSamples returns a run's samples in capture order.
func (s *Store) ReadSamples(ctx context.Context, runID string) ([]recorder.Sample, error) {
	return s.readSamples(ctx, `
		SELECT seq, capture_window, vals, total, total_source
		FROM samples
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
}

// ReadWindowSamples returns the samples of one capture window.
func (s *Store) ReadWindowSamples(ctx context.Context, runID string, window int) ([]recorder.Sample, error) {
	return s.readSamples(ctx, `
		SELECT seq, capture_window, vals, total, total_source
		FROM samples
		WHERE run_id = ? AND capture_window = ?
		ORDER BY seq ASC
	`, runID, window)
}

func (s *Store) readSamples(ctx context.Context, query string, args ...any) ([]recorder.Sample, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	out := []recorder.Sample{}
	for rows.Next() {
		var (
			sm       recorder.Sample
			valsJSON string
			source   string
		)
		if err := rows.Scan(&sm.Seq, &sm.Window, &valsJSON, &sm.Total.Value, &source); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		if err := json.Unmarshal([]byte(valsJSON), &sm.Values); err != nil {
			return nil, fmt.Errorf("scan sample %d: unmarshal values: %w", sm.Seq, err)
		}
		sm.Total.Source = parseSource(source)
		out = append(out, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}
	return out, nil
}

func parseSource(s string) recorder.AggregateSource {
	for _, src := range []recorder.AggregateSource{recorder.AllPhases, recorder.PartialPhases, recorder.SinglePhase} {
		if src.String() == s {
			return src
		}
	}
	return recorder.AllPhases
}

// ReadArtifacts returns a run's artifacts in window order.
func (s *Store) ReadArtifacts(ctx context.Context, runID string) ([]recorder.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT capture_window, name, path, columns, row_count
		FROM artifacts
		WHERE run_id = ?
		ORDER BY capture_window ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	out := []recorder.Artifact{}
	for rows.Next() {
		var (
			a        recorder.Artifact
			colsJSON string
		)
		if err := rows.Scan(&a.Window, &a.Name, &a.Path, &colsJSON, &a.Rows); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		if err := json.Unmarshal([]byte(colsJSON), &a.Columns); err != nil {
			return nil, fmt.Errorf("scan artifact %s: unmarshal columns: %w", a.Name, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return out, nil
}
