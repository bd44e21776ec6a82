package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Run statuses as stored.
const (
	StatusRunning  = "RUNNING"
	StatusComplete = "COMPLETE"
	StatusFail     = "FAIL"
)

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// Run is one stored test run.
type Run struct {
	ID         string
	Procedure  string
	Status     string
	Seq        int64
	StartedAt  time.Time
	FinishedAt time.Time
	Error      string
	States     []string
	Params     map[string]any
}

// marshalJSON encodes v for a TEXT column. Map keys are sorted by
// encoding/json so the stored text is deterministic.
func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalStates(data string) ([]string, error) {
	states := []string{}
	if data == "" {
		return states, nil
	}
	if err := json.Unmarshal([]byte(data), &states); err != nil {
		return nil, fmt.Errorf("unmarshal states: %w", err)
	}
	return states, nil
}

func unmarshalParams(data string) (map[string]any, error) {
	params := map[string]any{}
	if data == "" {
		return params, nil
	}
	if err := json.Unmarshal([]byte(data), &params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	return params, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
