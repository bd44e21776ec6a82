// Package recorder accumulates measurements captured during sweeps.
//
// It keeps two records of a run:
//
//   - a summary row log with one row per setpoint step, exported as
//     result_summary.csv
//   - capture windows bracketed by StartCapture/StopCapture, each turned
//     into one tabular artifact by Export
//
// # Capture windows
//
// Windows never overlap. Export is allowed exactly once per window and
// only after the window has been stopped; a new window needs a new
// StartCapture. The rules are enforced with ErrNoWindow, ErrWindowOpen
// and ErrAlreadyExported rather than left to convention.
//
// # Derived channels
//
// Every sample carries W_TOTAL, the sum of the per-phase power channels
// present in that same sample. A single-phase DAQ reports only AC_P_1 and
// W_TOTAL falls back to it. DeriveTotal reports which path was taken so
// the fallback is explicit at the call site.
package recorder
