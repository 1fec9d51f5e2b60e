//go:build windows

package process

import (
	"os"
	"os/exec"
)

// Windows has no process groups reachable through os/exec; the child is
// killed directly.
func setProcessGroup(cmd *exec.Cmd) {}

func terminate(p *os.Process) error { return p.Kill() }

func forceKill(p *os.Process) error { return p.Kill() }

func platformExitStatus(ps *os.ProcessState) ExitStatus {
	return ExitStatus{Code: ps.ExitCode()}
}
