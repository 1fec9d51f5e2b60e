package execution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"regtest/internal/action"
	"regtest/internal/domain"
	"regtest/internal/process"
	"regtest/internal/storage"
)

type fixture struct {
	store   *storage.WorkDir
	entries *action.EntryPoints
	procs   *process.Controller
	actions *ActionRunner
	runner  *TestRunner
	testDir string
}

func newFixture(t *testing.T, settings ExecutorSettings, opts RunnerOptions) *fixture {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "work"), storage.Options{BackupCount: 2})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	entries := action.NewEntryPoints()
	entries.Register("Pass", func(_ context.Context, _, _ []string, stdout, _ io.Writer) error {
		fmt.Fprintln(stdout, "ok")
		return nil
	})
	entries.Register("Fail", func(context.Context, []string, []string, io.Writer, io.Writer) error {
		return errors.New("expected output differs")
	})
	entries.Register("Panic", func(context.Context, []string, []string, io.Writer, io.Writer) error {
		panic("boom")
	})

	procs := process.NewController(time.Second, zap.NewNop())
	actions := NewActionRunner(settings, zap.NewNop())
	opts.Processes = procs
	opts.EntryPoints = entries
	if opts.Compilers == nil {
		opts.Compilers = action.NewCompilers()
	}
	if opts.BaseEnv == nil {
		opts.BaseEnv = os.Environ()
	}
	return &fixture{
		store:   store,
		entries: entries,
		procs:   procs,
		actions: actions,
		runner:  NewTestRunner(store, actions, opts, zap.NewNop()),
		testDir: t.TempDir(),
	}
}

func (f *fixture) test(id string, specs ...domain.ActionSpec) domain.TestDescription {
	return domain.TestDescription{ID: id, Dir: f.testDir, Actions: specs}
}

func (f *fixture) script(t *testing.T, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.testDir, name), []byte(body), 0755))
}

func mainSpec(args ...string) domain.ActionSpec {
	return domain.ActionSpec{Name: "main", Args: args}
}

func shellSpec(args ...string) domain.ActionSpec {
	return domain.ActionSpec{Name: "shell", Args: args}
}

func withOptions(spec domain.ActionSpec, opts ...string) domain.ActionSpec {
	spec.Options = append(spec.Options, opts...)
	return spec
}

// recorder is a thread-safe observer.
type recorder struct {
	BaseObserver

	mu       sync.Mutex
	started  []string
	finished []*domain.TestResult
	errs     []error
	stopping int
	runs     int
	onStart  func(n int)
}

func (r *recorder) StartingRun(string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
}

func (r *recorder) StartingTest(td domain.TestDescription, _ int) {
	r.mu.Lock()
	r.started = append(r.started, td.ID)
	n := len(r.started)
	hook := r.onStart
	r.mu.Unlock()
	if hook != nil {
		hook(n)
	}
}

func (r *recorder) FinishedTest(res *domain.TestResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, res)
}

func (r *recorder) StoppingRun() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopping++
}

func (r *recorder) Error(_ string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) startedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.started)
}

func (r *recorder) stoppingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopping
}
