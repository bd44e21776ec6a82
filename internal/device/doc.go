// Package device defines the collaborator contracts a test run drives
// (equipment under test, grid simulator, PV simulator, hardware-in-the-loop
// environment, data-acquisition unit) and the handle lifecycle that owns
// them for the duration of one run.
//
// # Lifecycle
//
// Every device is acquired through a Bench. A handle moves through
//
//	Unconfigured -> Configured -> Closed
//
// and Bench.Release closes every handle it ever acquired, in reverse
// acquisition order, regardless of how far setup got. Release is
// idempotent: calling it twice, or on a nil Bench, is a no-op.
//
// # Grid-support functions
//
// Functions enabled on the EUT mid-run (power limit, frequency-watt,
// volt-var, fixed power factor) are registered with the Bench before they
// are enabled. Release disables each of them before closing any handle so
// a failed run never leaves the EUT in its test configuration.
//
// Drivers for real hardware live outside this module. The sim subpackage
// provides an in-process bench used by the CLI and by tests.
package device
