// Package action implements the closed set of steps a test can declare.
//
// Every kind implements Action. The ActionRunner in package execution owns
// timeouts, panic recovery and output capture; an Action only does its work
// and reports a Status.
package action

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"regtest/internal/domain"
	"regtest/internal/process"
)

// Mode selects where an action executes.
type Mode int

const (
	// Cooperative actions run inside the harness process.
	Cooperative Mode = iota
	// Isolated actions run in a child process.
	Isolated
)

func (m Mode) String() string {
	if m == Isolated {
		return "isolated"
	}
	return "cooperative"
}

// Action is one executable step of a test.
type Action interface {
	Name() string
	Init(spec domain.ActionSpec) error
	Spec() domain.ActionSpec
	Run(ctx context.Context, rt *Runtime) domain.Status
	SourceFiles() []string
	Mode() Mode
	// Timeout is the declared timeout; zero means the harness default.
	Timeout() time.Duration
	ExpectFailure() bool
	ContinueOnFailure() bool
}

// ParseError reports an action that cannot be constructed from its spec.
type ParseError struct {
	Action string
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("bad action %q: %s", e.Action, e.Msg)
}

// ProcessRunner runs child processes on behalf of isolated actions.
type ProcessRunner interface {
	Run(ctx context.Context, cmd process.Command, stdout, stderr io.Writer) domain.Status
}

// IgnoreMode decides what the ignore action does.
type IgnoreMode string

const (
	IgnoreError IgnoreMode = "error"
	IgnoreRun   IgnoreMode = "run"
	IgnoreQuiet IgnoreMode = "quiet"
)

// ParseIgnoreMode parses error, run or quiet.
func ParseIgnoreMode(s string) (IgnoreMode, error) {
	switch m := IgnoreMode(strings.ToLower(strings.TrimSpace(s))); m {
	case IgnoreError, IgnoreRun, IgnoreQuiet:
		return m, nil
	case "":
		return IgnoreError, nil
	default:
		return "", fmt.Errorf("unknown ignore mode %q (want error, run or quiet)", s)
	}
}

// Runtime is everything an action may touch while it runs. Output goes to
// Stdout and Stderr only; actions never write to the process-wide streams.
type Runtime struct {
	TestID   string
	TestDir  string
	Scratch  string
	BuildDir string
	WorkerID int
	Stdout   io.Writer
	Stderr   io.Writer
	// Env is the complete KEY=VALUE environment for child processes.
	Env []string

	Processes       ProcessRunner
	EntryPoints     *EntryPoints
	Compilers       *Compilers
	DefaultCompiler string
	IgnoreMode      IgnoreMode
	Log             *Log
}

// Command builds a child process command that runs in the scratch
// directory with the test environment.
func (rt *Runtime) Command(path string, args ...string) process.Command {
	cmd := process.NewCommand(path, args...)
	cmd.Env = rt.Env
	cmd.Dir = rt.Scratch
	return cmd
}

// Resolve locates a file named by an action argument: absolute paths are
// kept, relative ones are looked up in the build directory and then the
// test directory.
func (rt *Runtime) Resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	for _, dir := range []string{rt.BuildDir, rt.TestDir} {
		if dir == "" {
			continue
		}
		p := filepath.Join(dir, filepath.FromSlash(name))
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if rt.TestDir != "" {
		return filepath.Join(rt.TestDir, filepath.FromSlash(name))
	}
	return name
}

// Log collects the harness messages and command line of one action run. It
// is safe for concurrent use and tolerates a nil receiver.
type Log struct {
	mu          sync.Mutex
	messages    []string
	commandLine string
}

func (l *Log) Printf(format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf(format, args...))
}

// SetCommandLine records the command line and logs it.
func (l *Log) SetCommandLine(line string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commandLine = line
	l.messages = append(l.messages, "command: "+line)
}

func (l *Log) Messages() []string {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.messages...)
}

func (l *Log) CommandLine() string {
	if l == nil {
		return ""
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commandLine
}

var kinds = map[string]func() Action{
	"build":   func() Action { return &buildAction{} },
	"compile": func() Action { return &compileAction{} },
	"main":    func() Action { return &mainAction{} },
	"shell":   func() Action { return &shellAction{} },
	"ignore":  func() Action { return &ignoreAction{} },
	"clean":   func() Action { return &cleanAction{} },
}

// Kinds returns the names of all action kinds, sorted.
func Kinds() []string {
	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates and initialises the action declared by spec.
func New(spec domain.ActionSpec) (Action, error) {
	ctor, ok := kinds[strings.ToLower(spec.Name)]
	if !ok {
		return nil, &ParseError{Action: spec.Name, Msg: "unknown action kind"}
	}
	a := ctor()
	if err := a.Init(spec); err != nil {
		return nil, err
	}
	return a, nil
}

// base holds the options every action kind understands.
type base struct {
	spec       domain.ActionSpec
	timeout    time.Duration
	expectFail bool
	cont       bool
	othervm    bool
	passCode   int
	failCode   int
	extra      map[string]string
}

// parse reads the common options plus the kind specific ones in allowed.
func (b *base) parse(spec domain.ActionSpec, allowed ...string) error {
	b.spec = spec
	b.passCode = process.DefaultPassCode
	b.failCode = process.DefaultFailCode
	b.extra = make(map[string]string)

	for _, opt := range spec.Options {
		key, value, _ := strings.Cut(opt, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		switch key {
		case "fail":
			b.expectFail = true
		case "continue":
			b.cont = true
		case "othervm":
			b.othervm = true
		case "timeout":
			secs, err := strconv.Atoi(value)
			if err != nil || secs < 0 {
				return &ParseError{Action: spec.Name, Msg: fmt.Sprintf("bad timeout value %q", value)}
			}
			b.timeout = time.Duration(secs) * time.Second
		case "pass", "failcode":
			code, err := strconv.Atoi(value)
			if err != nil {
				return &ParseError{Action: spec.Name, Msg: fmt.Sprintf("bad %s value %q", key, value)}
			}
			if key == "pass" {
				b.passCode = code
			} else {
				b.failCode = code
			}
		default:
			if !contains(allowed, key) {
				return &ParseError{Action: spec.Name, Msg: fmt.Sprintf("bad option %q", opt)}
			}
			b.extra[key] = value
		}
	}
	return nil
}

func (b *base) Spec() domain.ActionSpec { return b.spec }
func (b *base) Timeout() time.Duration  { return b.timeout }
func (b *base) ExpectFailure() bool     { return b.expectFail }
func (b *base) ContinueOnFailure() bool { return b.cont }
func (b *base) SourceFiles() []string   { return nil }
func (b *base) Mode() Mode              { return Cooperative }

func (b *base) requireArgs(what string) error {
	if len(b.spec.Args) == 0 {
		return &ParseError{Action: b.spec.Name, Msg: "no " + what + " provided"}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
