package cli

import (
	"errors"
	"fmt"

	"regtest/internal/exitcodes"
)

// ExitError carries the process exit code of a failed command. A nil Err
// means the outcome was already reported and nothing else is printed.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// Exit wraps err with an exit code.
func Exit(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

// BadArgs marks err as a command line or configuration error.
func BadArgs(err error) error {
	return Exit(exitcodes.BadArgs, err)
}

// ExitCode maps an error returned by a command to the process exit code.
// Errors without an explicit code are harness faults.
func ExitCode(err error) int {
	if err == nil {
		return exitcodes.OK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return exitcodes.Fault
}

// Silent reports whether err needs no message.
func Silent(err error) bool {
	var ee *ExitError
	return errors.As(err, &ee) && ee.Err == nil
}
