// Package orchestrator runs one test procedure end to end.
//
// A run moves through a fixed sequence of states:
//
//	Init → DeviceSetup → Synchronizing → Sweeping → Finalizing → Done
//
// Synchronizing is skipped for procedures without a startup phase. A
// failure in any state jumps straight to Finalizing, which always runs
// exactly once: the open capture window is flushed, enabled functions
// are disabled, every device handle is released and the summary is
// written. Finalizing uses a context detached from cancellation so an
// interrupted run still leaves the bench in a safe state.
//
// Procedures see the run through a Session: the acquired devices, the
// recorder, the sweep engine and the logger. Nothing is global.
package orchestrator
