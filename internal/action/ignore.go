package action

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"regtest/internal/domain"
)

type ignoreAction struct {
	base
}

func (a *ignoreAction) Name() string { return "ignore" }

func (a *ignoreAction) Init(spec domain.ActionSpec) error {
	return a.parse(spec)
}

func (a *ignoreAction) Run(_ context.Context, rt *Runtime) domain.Status {
	if rt.IgnoreMode == IgnoreRun {
		return domain.PassedStatus("@ignore suppressed by command line option")
	}
	if len(a.spec.Args) > 0 {
		return domain.ErrorStatus("Test ignored: " + strings.Join(a.spec.Args, " "))
	}
	return domain.ErrorStatus("Test ignored")
}

// cleanAction removes build products so a later build starts from scratch.
// A test never halts on a failed clean.
type cleanAction struct {
	base
}

func (a *cleanAction) Name() string            { return "clean" }
func (a *cleanAction) ContinueOnFailure() bool { return true }

func (a *cleanAction) Init(spec domain.ActionSpec) error {
	if err := a.parse(spec); err != nil {
		return err
	}
	return a.requireArgs("files")
}

func (a *cleanAction) Run(_ context.Context, rt *Runtime) domain.Status {
	dir := rt.BuildDir
	if dir == "" {
		dir = rt.Scratch
	}
	var failed []string
	for _, pattern := range a.spec.Args {
		if !filepath.IsLocal(filepath.FromSlash(pattern)) {
			rt.Log.Printf("refusing to clean %s: outside %s", pattern, dir)
			failed = append(failed, pattern)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(dir, filepath.FromSlash(pattern)))
		if err != nil {
			failed = append(failed, pattern)
			continue
		}
		for _, m := range matches {
			if err := os.RemoveAll(m); err != nil {
				rt.Log.Printf("cannot remove %s: %v", m, err)
				failed = append(failed, pattern)
				continue
			}
			rt.Log.Printf("removed %s", m)
		}
		stamp := stampPath(rt, pattern)
		if err := os.Remove(stamp); err != nil && !os.IsNotExist(err) {
			rt.Log.Printf("cannot remove stamp %s: %v", stamp, err)
		}
	}
	if len(failed) > 0 {
		return domain.FailedStatus(fmt.Sprintf("Clean failed: %s", strings.Join(failed, " ")))
	}
	return domain.PassedStatus("Clean successful")
}
