// Package exitcodes defines the exit codes of a regtest batch run.
package exitcodes

// Only cmd/regtest turns these into a process exit; every other layer
// returns them as values.
const (
	OK         = 0 // All selected tests passed
	TestFailed = 1 // At least one test failed, none errored
	TestError  = 2 // At least one test reported an error
	BadArgs    = 3 // Invalid command line or configuration
	Fault      = 4 // Harness or result store fault
	Exception  = 5 // Unexpected internal error
)
