package action

import (
	"context"
	"fmt"

	"regtest/internal/domain"
)

// mainAction runs a test body: a registered entry point in the harness
// process, or an executable in a child process with /othervm.
type mainAction struct {
	base
}

func (a *mainAction) Name() string { return "main" }

func (a *mainAction) Init(spec domain.ActionSpec) error {
	if err := a.parse(spec); err != nil {
		return err
	}
	return a.requireArgs("entry point")
}

func (a *mainAction) Mode() Mode {
	if a.othervm {
		return Isolated
	}
	return Cooperative
}

func (a *mainAction) Run(ctx context.Context, rt *Runtime) domain.Status {
	target, args := a.spec.Args[0], a.spec.Args[1:]
	if a.othervm {
		cmd := rt.Command(rt.Resolve(target), args...)
		cmd.PassCode, cmd.FailCode = a.passCode, a.failCode
		rt.Log.SetCommandLine(cmd.String())
		return rt.Processes.Run(ctx, cmd, rt.Stdout, rt.Stderr)
	}

	ep, ok := rt.EntryPoints.Lookup(target)
	if !ok {
		return domain.ErrorStatus(fmt.Sprintf("Entry point not registered: %s", target))
	}
	rt.Log.SetCommandLine(a.spec.String())
	if err := ep(ctx, args, rt.Env, rt.Stdout, rt.Stderr); err != nil {
		return domain.FailedStatus(fmt.Sprintf("Execution failed: %v", err))
	}
	return domain.PassedStatus("Execution successful")
}
