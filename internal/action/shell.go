package action

import (
	"context"
	"fmt"
	"os"

	"regtest/internal/domain"
)

// Shell is the interpreter used for shell actions.
var Shell = "sh"

type shellAction struct {
	base
}

func (a *shellAction) Name() string { return "shell" }
func (a *shellAction) Mode() Mode   { return Isolated }

func (a *shellAction) Init(spec domain.ActionSpec) error {
	if err := a.parse(spec); err != nil {
		return err
	}
	return a.requireArgs("script")
}

func (a *shellAction) SourceFiles() []string { return a.spec.Args[:1] }

func (a *shellAction) Run(ctx context.Context, rt *Runtime) domain.Status {
	script := rt.Resolve(a.spec.Args[0])
	if _, err := os.Stat(script); err != nil {
		return domain.ErrorStatus(fmt.Sprintf("Can't find shell script: %s", a.spec.Args[0]))
	}
	cmd := rt.Command(Shell, append([]string{script}, a.spec.Args[1:]...)...)
	cmd.PassCode, cmd.FailCode = a.passCode, a.failCode
	rt.Log.SetCommandLine(cmd.String())
	return rt.Processes.Run(ctx, cmd, rt.Stdout, rt.Stderr)
}
