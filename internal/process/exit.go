package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"regtest/internal/domain"
)

// ExitStatus is how a child process ended.
type ExitStatus struct {
	Code     int
	Signal   string
	Signaled bool
}

func (e ExitStatus) String() string {
	if e.Signaled {
		return fmt.Sprintf("signal %s", e.Signal)
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

// MapExit converts an exit status to a test status: pass maps to PASSED,
// fail to FAILED, anything else (signals included) to ERROR with the code.
func MapExit(es ExitStatus, pass, fail int) domain.Status {
	switch {
	case es.Signaled:
		return domain.ErrorWithCode(fmt.Sprintf("Unexpected exit from test [signal: %s]", es.Signal), es.Code)
	case es.Code == pass:
		return domain.PassedStatus("Execution successful")
	case es.Code == fail:
		return domain.FailedStatus(fmt.Sprintf("Execution failed: exit code %d", es.Code))
	default:
		return domain.ErrorWithCode(fmt.Sprintf("Unexpected exit from test [exit code: %d]", es.Code), es.Code)
	}
}

// exitStatus extracts the exit status after Wait. A non-exit Wait error is
// returned as is.
func exitStatus(ps *os.ProcessState, waitErr error) (ExitStatus, error) {
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return ExitStatus{}, waitErr
	}
	if ps == nil {
		return ExitStatus{}, fmt.Errorf("no process state")
	}
	return platformExitStatus(ps), nil
}
