package harness

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/dersweep/internal/orchestrator"
	"github.com/roach88/dersweep/internal/recorder"
)

// tolerance for comparing row values.
const tolerance = 1e-6

// AssertionError is returned when an assertion fails.
// It includes the run's state sequence to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	States   []string // State sequence for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.States) > 0 {
		fmt.Fprintf(&buf, "  States: %s\n", strings.Join(e.States, " -> "))
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages, in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	run := result.Run
	states := stateNames(run.States)

	fail := func(expected, actual string) error {
		return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, States: states}
	}

	switch a.Type {
	case AssertStatus:
		if string(run.Status) != a.Status {
			return fail(a.Status, fmt.Sprintf("%s (%v)", run.Status, run.Err))
		}
	case AssertStates:
		if !reflect.DeepEqual(states, a.States) {
			return fail(strings.Join(a.States, " -> "), strings.Join(states, " -> "))
		}
	case AssertErrorCode:
		if code := orchestrator.ErrorCode(run.Err); code != a.Code {
			return fail(a.Code, fmt.Sprintf("%q (%v)", code, run.Err))
		}
	case AssertRowCount:
		if len(run.Rows) != *a.Count {
			return fail(fmt.Sprintf("%d rows", *a.Count), fmt.Sprintf("%d rows", len(run.Rows)))
		}
	case AssertRow:
		if a.Index > len(run.Rows) {
			return fail(fmt.Sprintf("row %d", a.Index), fmt.Sprintf("only %d rows", len(run.Rows)))
		}
		return matchFields(rowFields(run.Rows[a.Index-1]), a.Expect, nil, fail)
	case AssertArtifacts:
		names := make([]string, 0, len(run.Artifacts))
		for _, art := range run.Artifacts {
			names = append(names, art.Name)
		}
		want := a.Names
		if want == nil {
			want = []string{}
		}
		if !reflect.DeepEqual(names, want) {
			return fail(fmt.Sprintf("%v", want), fmt.Sprintf("%v", names))
		}
	case AssertFinalState:
		rec := result.Record
		return matchFields(map[string]any{
			"id":        rec.ID,
			"procedure": rec.Procedure,
			"status":    rec.Status,
			"seq":       rec.Seq,
			"error":     rec.Error,
			"states":    strings.Join(rec.States, " "),
		}, a.Expect, map[string]bool{"error": true}, fail)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// matchFields checks expected against actual with subset semantics.
// Numbers compare within tolerance; everything else by its printed form.
// Keys in substr match when the actual text contains the expected text,
// except that an empty expectation requires an empty value.
func matchFields(actual, expected map[string]any, substr map[string]bool, fail func(expected, actual string) error) error {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		got, ok := actual[key]
		if !ok {
			return fail(fmt.Sprintf("field %q to exist", key), fmt.Sprintf("fields are %v", fieldNames(actual)))
		}
		ok = valuesEqual(expected[key], got)
		if substr[key] {
			want, have := fmt.Sprint(expected[key]), fmt.Sprint(got)
			ok = strings.Contains(have, want) && (want != "" || have == "")
		}
		if !ok {
			return fail(fmt.Sprintf("%s = %v", key, expected[key]), fmt.Sprintf("%s = %v", key, got))
		}
	}
	return nil
}

func valuesEqual(expected, actual any) bool {
	e, eok := toFloat(expected)
	a, aok := toFloat(actual)
	if eok && aok {
		return math.Abs(e-a) <= tolerance
	}
	return fmt.Sprint(expected) == fmt.Sprint(actual)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func rowFields(r recorder.Row) map[string]any {
	return map[string]any{
		"run":      r.Run,
		"setpoint": r.Setpoint,
		"eut_w":    r.EUTReported,
		"daq_w":    r.DAQTotal,
	}
}

func fieldNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func stateNames(states []orchestrator.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
