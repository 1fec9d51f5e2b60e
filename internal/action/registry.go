package action

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"regtest/internal/domain"
)

// EntryPoint is a cooperative test body. env is the complete KEY=VALUE
// environment the test's child processes get, worker variables included; it
// is not the harness process environment. A returned error fails the test; a
// panic is reported as an error by the runner.
type EntryPoint func(ctx context.Context, args, env []string, stdout, stderr io.Writer) error

// Getenv returns the value of key in a KEY=VALUE environment. Later entries
// win, as they do for child processes.
func Getenv(env []string, key string) string {
	for i := len(env) - 1; i >= 0; i-- {
		if k, v, ok := strings.Cut(env[i], "="); ok && k == key {
			return v
		}
	}
	return ""
}

// EntryPoints maps names used by the main action to cooperative test bodies.
type EntryPoints struct {
	mu sync.RWMutex
	m  map[string]EntryPoint
}

func NewEntryPoints() *EntryPoints {
	return &EntryPoints{m: make(map[string]EntryPoint)}
}

// Register adds or replaces an entry point.
func (e *EntryPoints) Register(name string, ep EntryPoint) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.m[name] = ep
}

func (e *EntryPoints) Lookup(name string) (EntryPoint, bool) {
	if e == nil {
		return nil, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	ep, ok := e.m[name]
	return ep, ok
}

func (e *EntryPoints) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.m))
	for n := range e.m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Compiler turns test sources into runnable artifacts in rt.BuildDir.
type Compiler interface {
	Compile(ctx context.Context, rt *Runtime, args []string) domain.Status
}

// CompilerFunc adapts a function to Compiler.
type CompilerFunc func(ctx context.Context, rt *Runtime, args []string) domain.Status

func (f CompilerFunc) Compile(ctx context.Context, rt *Runtime, args []string) domain.Status {
	return f(ctx, rt, args)
}

// Compilers is the registry of compiler strategies, keyed by lower-case name.
type Compilers struct {
	mu sync.RWMutex
	m  map[string]Compiler
}

func NewCompilers() *Compilers {
	return &Compilers{m: make(map[string]Compiler)}
}

func (c *Compilers) Register(name string, comp Compiler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[strings.ToLower(name)] = comp
}

func (c *Compilers) Lookup(name string) (Compiler, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	comp, ok := c.m[strings.ToLower(name)]
	return comp, ok
}

// ExecCompiler runs an external compiler as a child process:
// Path Args... <resolved sources...>, in the build directory.
type ExecCompiler struct {
	Path string
	Args []string
}

func (e ExecCompiler) Compile(ctx context.Context, rt *Runtime, args []string) domain.Status {
	cmdArgs := append([]string(nil), e.Args...)
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			cmdArgs = append(cmdArgs, a)
			continue
		}
		cmdArgs = append(cmdArgs, rt.Resolve(a))
	}
	cmd := rt.Command(e.Path, cmdArgs...)
	if rt.BuildDir != "" {
		cmd.Dir = rt.BuildDir
	}
	rt.Log.SetCommandLine(cmd.String())
	st := rt.Processes.Run(ctx, cmd, rt.Stdout, rt.Stderr)
	switch {
	case st.IsPassed():
		return domain.PassedStatus("Compilation successful")
	case st.IsFailed():
		return domain.FailedStatus("Compilation failed")
	default:
		return st
	}
}
