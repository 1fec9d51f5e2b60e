package action

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"regtest/internal/domain"
)

const stampDir = ".stamps"

func lookupCompiler(rt *Runtime, name string) (Compiler, string, error) {
	if name == "" {
		name = rt.DefaultCompiler
	}
	if name == "" {
		return nil, "", fmt.Errorf("no compiler configured")
	}
	comp, ok := rt.Compilers.Lookup(name)
	if !ok {
		return nil, name, fmt.Errorf("compiler not registered: %s", name)
	}
	return comp, name, nil
}

func sourceArgs(args []string) []string {
	var files []string
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			files = append(files, a)
		}
	}
	return files
}

// compileAction hands its arguments to a compiler strategy.
type compileAction struct {
	base
}

func (a *compileAction) Name() string { return "compile" }

func (a *compileAction) Init(spec domain.ActionSpec) error {
	if err := a.parse(spec, "compiler"); err != nil {
		return err
	}
	return a.requireArgs("source files")
}

func (a *compileAction) SourceFiles() []string { return sourceArgs(a.spec.Args) }

func (a *compileAction) Mode() Mode { return Isolated }

func (a *compileAction) Run(ctx context.Context, rt *Runtime) domain.Status {
	comp, name, err := lookupCompiler(rt, a.extra["compiler"])
	if err != nil {
		return domain.ErrorStatus(err.Error())
	}
	rt.Log.Printf("compiler: %s", name)
	return comp.Compile(ctx, rt, a.spec.Args)
}

// buildAction compiles only the named sources that changed since their last
// successful build, tracked by stamp files in the build directory.
type buildAction struct {
	base
}

func (a *buildAction) Name() string { return "build" }

func (a *buildAction) Init(spec domain.ActionSpec) error {
	if err := a.parse(spec, "compiler"); err != nil {
		return err
	}
	return a.requireArgs("source files")
}

func (a *buildAction) SourceFiles() []string { return a.spec.Args }

func (a *buildAction) Mode() Mode { return Isolated }

func (a *buildAction) Run(ctx context.Context, rt *Runtime) domain.Status {
	var stale []string
	for _, name := range a.spec.Args {
		src := filepath.Join(rt.TestDir, filepath.FromSlash(name))
		info, err := os.Stat(src)
		if err != nil {
			return domain.ErrorStatus(fmt.Sprintf("Can't find source file: %s", name))
		}
		if isStale(info.ModTime(), stampPath(rt, name)) {
			stale = append(stale, name)
		}
	}
	if len(stale) == 0 {
		rt.Log.Printf("All files up to date")
		return domain.PassedStatus("All files up to date")
	}

	comp, name, err := lookupCompiler(rt, a.extra["compiler"])
	if err != nil {
		return domain.ErrorStatus(err.Error())
	}
	rt.Log.Printf("compiler: %s", name)
	rt.Log.Printf("stale files: %s", strings.Join(stale, " "))
	st := comp.Compile(ctx, rt, stale)
	if !st.IsPassed() {
		return st
	}
	for _, s := range stale {
		if err := touch(stampPath(rt, s)); err != nil {
			rt.Log.Printf("cannot record build stamp for %s: %v", s, err)
		}
	}
	return domain.PassedStatus(fmt.Sprintf("Build successful: %d file(s) compiled", len(stale)))
}

func stampPath(rt *Runtime, name string) string {
	dir := rt.BuildDir
	if dir == "" {
		dir = rt.Scratch
	}
	return filepath.Join(dir, stampDir, filepath.FromSlash(name)+".stamp")
}

func isStale(srcTime time.Time, stamp string) bool {
	info, err := os.Stat(stamp)
	if err != nil {
		return true
	}
	return srcTime.After(info.ModTime())
}

func touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, nil, 0644)
}
