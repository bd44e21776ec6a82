package harness

import (
	"github.com/roach88/dersweep/internal/orchestrator"
	"github.com/roach88/dersweep/internal/store"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Errors contains assertion failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Run is the orchestrator's result for the scenario's run.
	Run *orchestrator.RunResult `json:"-"`

	// Record is the run as persisted in the scenario's store.
	Record store.Run `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{Pass: true, Errors: []string{}}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
