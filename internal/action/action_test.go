package action

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regtest/internal/domain"
	"regtest/internal/process"
)

type fakeProcesses struct {
	cmds   []process.Command
	status domain.Status
}

func (f *fakeProcesses) Run(_ context.Context, cmd process.Command, stdout, _ io.Writer) domain.Status {
	f.cmds = append(f.cmds, cmd)
	io.WriteString(stdout, "ran "+cmd.Path+"\n")
	return f.status
}

func newRuntime(t *testing.T) (*Runtime, *fakeProcesses) {
	t.Helper()
	procs := &fakeProcesses{status: domain.PassedStatus("Execution successful")}
	return &Runtime{
		TestID:      "pkg/Test",
		TestDir:     t.TempDir(),
		Scratch:     t.TempDir(),
		BuildDir:    t.TempDir(),
		Stdout:      &bytes.Buffer{},
		Stderr:      &bytes.Buffer{},
		Processes:   procs,
		EntryPoints: NewEntryPoints(),
		Compilers:   NewCompilers(),
		IgnoreMode:  IgnoreError,
		Log:         &Log{},
	}, procs
}

func mustNew(t *testing.T, spec domain.ActionSpec) Action {
	t.Helper()
	a, err := New(spec)
	require.NoError(t, err)
	return a
}

func TestNew_ParseErrors(t *testing.T) {
	tests := []struct {
		name string
		spec domain.ActionSpec
	}{
		{name: "unknown kind", spec: domain.ActionSpec{Name: "applet", Args: []string{"x"}}},
		{name: "main without entry", spec: domain.ActionSpec{Name: "main"}},
		{name: "bad timeout", spec: domain.ActionSpec{Name: "main", Options: []string{"timeout=soon"}, Args: []string{"x"}}},
		{name: "negative timeout", spec: domain.ActionSpec{Name: "main", Options: []string{"timeout=-1"}, Args: []string{"x"}}},
		{name: "bad pass code", spec: domain.ActionSpec{Name: "shell", Options: []string{"pass=zero"}, Args: []string{"x.sh"}}},
		{name: "unknown option", spec: domain.ActionSpec{Name: "main", Options: []string{"policy=x"}, Args: []string{"x"}}},
		{name: "compiler not allowed on main", spec: domain.ActionSpec{Name: "main", Options: []string{"compiler=go"}, Args: []string{"x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.spec)
			var pe *ParseError
			assert.True(t, errors.As(err, &pe), "got %v", err)
		})
	}
}

func TestNew_CommonOptions(t *testing.T) {
	a := mustNew(t, domain.ActionSpec{
		Name:    "MAIN",
		Options: []string{"fail", "timeout=30", "continue", "othervm", "pass=2", "failcode=3"},
		Args:    []string{"bin/tool", "-v"},
	})
	assert.Equal(t, "main", a.Name())
	assert.True(t, a.ExpectFailure())
	assert.True(t, a.ContinueOnFailure())
	assert.Equal(t, 30*time.Second, a.Timeout())
	assert.Equal(t, Isolated, a.Mode())

	plain := mustNew(t, domain.ActionSpec{Name: "main", Args: []string{"Hello"}})
	assert.Equal(t, Cooperative, plain.Mode())
	assert.Zero(t, plain.Timeout())
	assert.False(t, plain.ExpectFailure())
}

func TestKinds(t *testing.T) {
	assert.Equal(t, []string{"build", "clean", "compile", "ignore", "main", "shell"}, Kinds())
}

func TestMain_Cooperative(t *testing.T) {
	rt, _ := newRuntime(t)
	rt.EntryPoints.Register("Hello", func(_ context.Context, args, _ []string, stdout, _ io.Writer) error {
		_, err := io.WriteString(stdout, "hello "+args[0])
		return err
	})
	rt.EntryPoints.Register("Broken", func(context.Context, []string, []string, io.Writer, io.Writer) error {
		return errors.New("assertion failed")
	})

	st := mustNew(t, domain.ActionSpec{Name: "main", Args: []string{"Hello", "world"}}).Run(context.Background(), rt)
	assert.True(t, st.IsPassed(), st.Reason)
	assert.Equal(t, "hello world", rt.Stdout.(*bytes.Buffer).String())
	assert.Equal(t, "main Hello world", rt.Log.CommandLine())

	st = mustNew(t, domain.ActionSpec{Name: "main", Args: []string{"Broken"}}).Run(context.Background(), rt)
	assert.True(t, st.IsFailed())
	assert.Contains(t, st.Reason, "assertion failed")

	st = mustNew(t, domain.ActionSpec{Name: "main", Args: []string{"Missing"}}).Run(context.Background(), rt)
	assert.True(t, st.IsError())
}

func TestMain_OtherVM(t *testing.T) {
	rt, procs := newRuntime(t)
	require.NoError(t, os.WriteFile(filepath.Join(rt.TestDir, "run.bin"), nil, 0755))

	a := mustNew(t, domain.ActionSpec{Name: "main", Options: []string{"othervm", "pass=95", "failcode=97"}, Args: []string{"run.bin", "a b"}})
	st := a.Run(context.Background(), rt)
	assert.True(t, st.IsPassed())
	require.Len(t, procs.cmds, 1)
	cmd := procs.cmds[0]
	assert.Equal(t, filepath.Join(rt.TestDir, "run.bin"), cmd.Path)
	assert.Equal(t, []string{"a b"}, cmd.Args)
	assert.Equal(t, 95, cmd.PassCode)
	assert.Equal(t, 97, cmd.FailCode)
	assert.Equal(t, rt.Scratch, cmd.Dir)
	assert.Contains(t, rt.Log.Messages()[0], "command: ")
}

func TestShell(t *testing.T) {
	rt, procs := newRuntime(t)
	st := mustNew(t, domain.ActionSpec{Name: "shell", Args: []string{"missing.sh"}}).Run(context.Background(), rt)
	assert.True(t, st.IsError())
	assert.Empty(t, procs.cmds)

	require.NoError(t, os.WriteFile(filepath.Join(rt.TestDir, "check.sh"), []byte("exit 0\n"), 0644))
	a := mustNew(t, domain.ActionSpec{Name: "shell", Args: []string{"check.sh", "arg"}})
	assert.Equal(t, Isolated, a.Mode())
	assert.Equal(t, []string{"check.sh"}, a.SourceFiles())
	st = a.Run(context.Background(), rt)
	assert.True(t, st.IsPassed())
	require.Len(t, procs.cmds, 1)
	assert.Equal(t, Shell, procs.cmds[0].Path)
	assert.Equal(t, []string{filepath.Join(rt.TestDir, "check.sh"), "arg"}, procs.cmds[0].Args)
}

func TestIgnore(t *testing.T) {
	rt, _ := newRuntime(t)
	a := mustNew(t, domain.ActionSpec{Name: "ignore", Args: []string{"bug", "1234"}})

	st := a.Run(context.Background(), rt)
	assert.True(t, st.IsError())
	assert.Equal(t, "Test ignored: bug 1234", st.Reason)

	rt.IgnoreMode = IgnoreRun
	st = a.Run(context.Background(), rt)
	assert.True(t, st.IsPassed())
	assert.Equal(t, "@ignore suppressed by command line option", st.Reason)
}

func TestParseIgnoreMode(t *testing.T) {
	for in, want := range map[string]IgnoreMode{"": IgnoreError, "error": IgnoreError, "RUN": IgnoreRun, " quiet ": IgnoreQuiet} {
		got, err := ParseIgnoreMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseIgnoreMode("skip")
	assert.Error(t, err)
}

func TestCompile(t *testing.T) {
	rt, _ := newRuntime(t)
	a := mustNew(t, domain.ActionSpec{Name: "compile", Args: []string{"-O", "a.c"}})
	assert.Equal(t, []string{"a.c"}, a.SourceFiles())

	st := a.Run(context.Background(), rt)
	assert.True(t, st.IsError())
	assert.Contains(t, st.Reason, "no compiler configured")

	var got []string
	rt.Compilers.Register("cc", CompilerFunc(func(_ context.Context, _ *Runtime, args []string) domain.Status {
		got = args
		return domain.PassedStatus("Compilation successful")
	}))
	rt.DefaultCompiler = "cc"
	st = a.Run(context.Background(), rt)
	assert.True(t, st.IsPassed())
	assert.Equal(t, []string{"-O", "a.c"}, got)

	named := mustNew(t, domain.ActionSpec{Name: "compile", Options: []string{"compiler=gcc"}, Args: []string{"a.c"}})
	st = named.Run(context.Background(), rt)
	assert.True(t, st.IsError())
	assert.Contains(t, st.Reason, "gcc")
}

func TestExecCompiler(t *testing.T) {
	rt, procs := newRuntime(t)
	require.NoError(t, os.WriteFile(filepath.Join(rt.TestDir, "a.c"), nil, 0644))
	comp := ExecCompiler{Path: "cc", Args: []string{"-c"}}

	st := comp.Compile(context.Background(), rt, []string{"-Wall", "a.c"})
	assert.True(t, st.IsPassed())
	require.Len(t, procs.cmds, 1)
	assert.Equal(t, []string{"-c", "-Wall", filepath.Join(rt.TestDir, "a.c")}, procs.cmds[0].Args)
	assert.Equal(t, rt.BuildDir, procs.cmds[0].Dir)

	procs.status = domain.FailedStatus("exit code 1")
	st = comp.Compile(context.Background(), rt, []string{"a.c"})
	assert.True(t, st.IsFailed())
	assert.Equal(t, "Compilation failed", st.Reason)
}

func TestBuild_OnlyStaleFiles(t *testing.T) {
	rt, _ := newRuntime(t)
	src := filepath.Join(rt.TestDir, "Foo.src")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(src, past, past))

	calls := 0
	rt.Compilers.Register("fake", CompilerFunc(func(context.Context, *Runtime, []string) domain.Status {
		calls++
		return domain.PassedStatus("Compilation successful")
	}))
	rt.DefaultCompiler = "fake"
	a := mustNew(t, domain.ActionSpec{Name: "build", Args: []string{"Foo.src"}})

	st := a.Run(context.Background(), rt)
	require.True(t, st.IsPassed(), st.Reason)
	assert.Equal(t, 1, calls)

	st = a.Run(context.Background(), rt)
	assert.True(t, st.IsPassed())
	assert.Equal(t, "All files up to date", st.Reason)
	assert.Equal(t, 1, calls)

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(src, future, future))
	st = a.Run(context.Background(), rt)
	assert.True(t, st.IsPassed())
	assert.Equal(t, 2, calls)

	missing := mustNew(t, domain.ActionSpec{Name: "build", Args: []string{"Nope.src"}})
	assert.True(t, missing.Run(context.Background(), rt).IsError())
}

func TestClean(t *testing.T) {
	rt, _ := newRuntime(t)
	require.NoError(t, os.WriteFile(filepath.Join(rt.BuildDir, "Foo.o"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(rt.BuildDir, "Bar.o"), nil, 0644))

	a := mustNew(t, domain.ActionSpec{Name: "clean", Args: []string{"*.o"}})
	assert.True(t, a.ContinueOnFailure())
	st := a.Run(context.Background(), rt)
	assert.True(t, st.IsPassed())
	assert.NoFileExists(t, filepath.Join(rt.BuildDir, "Foo.o"))
	assert.NoFileExists(t, filepath.Join(rt.BuildDir, "Bar.o"))
}

func TestClean_RejectsPathsOutsideBuildDir(t *testing.T) {
	rt, _ := newRuntime(t)
	outside := filepath.Join(filepath.Dir(rt.BuildDir), "keep.o")
	require.NoError(t, os.WriteFile(outside, nil, 0644))
	t.Cleanup(func() { os.Remove(outside) })
	require.NoError(t, os.WriteFile(filepath.Join(rt.BuildDir, "Foo.o"), nil, 0644))

	a := mustNew(t, domain.ActionSpec{Name: "clean", Args: []string{"../keep.o", "../..", "/tmp", "Foo.o"}})
	st := a.Run(context.Background(), rt)
	assert.True(t, st.IsFailed())
	assert.Equal(t, "Clean failed: ../keep.o ../.. /tmp", st.Reason)
	assert.FileExists(t, outside)
	assert.DirExists(t, filepath.Dir(rt.BuildDir))
	assert.NoFileExists(t, filepath.Join(rt.BuildDir, "Foo.o"))
}

func TestLog_NilSafe(t *testing.T) {
	var l *Log
	l.Printf("ignored %d", 1)
	l.SetCommandLine("x")
	assert.Empty(t, l.Messages())
	assert.Empty(t, l.CommandLine())
}
