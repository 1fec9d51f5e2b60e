package execution

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"

	"go.uber.org/zap"

	"regtest/internal/action"
	"regtest/internal/domain"
	"regtest/internal/storage"
)

// Environment variables set for every child process of a test.
const (
	EnvWorker   = "REGTEST_WORKER"
	EnvScratch  = "REGTEST_SCRATCH"
	EnvBuildDir = "REGTEST_BUILD"
	EnvTestID   = "REGTEST_TEST_ID"
	EnvTestDir  = "REGTEST_TEST_DIR"
	EnvDatabase = "REGTEST_DATABASE"
)

// RunnerOptions configures a TestRunner.
type RunnerOptions struct {
	Processes       action.ProcessRunner
	EntryPoints     *action.EntryPoints
	Compilers       *action.Compilers
	DefaultCompiler string
	IgnoreMode      action.IgnoreMode
	Retain          RetainPolicy
	// BaseEnv is the environment handed to child processes; nil means the
	// harness environment.
	BaseEnv []string
	// WorkerEnv adds per-worker variables such as the worker's database.
	WorkerEnv func(workerID int) map[string]string
	RunID     string
	Version   string
}

// TestRunner runs the actions of one test in order and records the result.
type TestRunner struct {
	store   storage.Store
	actions *ActionRunner
	opts    RunnerOptions
	log     *zap.Logger
}

func NewTestRunner(store storage.Store, actions *ActionRunner, opts RunnerOptions, log *zap.Logger) *TestRunner {
	if opts.Retain == nil {
		opts.Retain, _ = ParseRetain(DefaultRetain)
	}
	if opts.IgnoreMode == "" {
		opts.IgnoreMode = action.IgnoreError
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TestRunner{
		store:   store,
		actions: actions,
		opts:    opts,
		log:     log.With(zap.String("component", "runner")),
	}
}

// Run executes td on behalf of a worker. The result is sealed and stored
// exactly once on every path, including panics; a store failure is returned
// together with the sealed result. A test whose context is already done
// never starts and is recorded NOT_RUN.
func (r *TestRunner) Run(ctx context.Context, td domain.TestDescription, workerID int) (res *domain.TestResult, err error) {
	if ctx.Err() != nil {
		res = domain.NotRunResult(td, "Test not run: "+context.Cause(ctx).Error())
		res.WorkerID = workerID
		return res, r.store.Put(res)
	}

	res = domain.NewTestResult(td, r.snapshot(workerID))
	res.WorkerID = workerID
	status := domain.ErrorStatus("Test did not complete")
	var release func(keep bool)

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("Test runner panicked", zap.String("test", td.ID), zap.Any("panic", p))
			status = domain.ErrorStatus(fmt.Sprintf("Internal harness error: %v", p))
		}
		if release != nil {
			release(r.opts.Retain.Keep(status))
		}
		if sealErr := res.Seal(status); sealErr != nil {
			r.log.Error("Result already sealed", zap.String("test", td.ID))
		}
		if putErr := r.store.Put(res); putErr != nil {
			r.log.Error("Cannot store result", zap.String("test", td.ID), zap.Error(putErr))
			err = fmt.Errorf("store result %s: %w", td.ID, putErr)
		}
	}()

	acts := make([]action.Action, 0, len(td.Actions))
	for _, spec := range td.Actions {
		a, perr := action.New(spec)
		if perr != nil {
			status = domain.ErrorStatus("Parse Exception: " + perr.Error())
			return res, nil
		}
		acts = append(acts, a)
	}
	if len(acts) == 0 {
		status = domain.ErrorStatus("Parse Exception: no actions declared")
		return res, nil
	}

	scratch, rel, serr := r.store.Scratch(td.ID)
	if serr != nil {
		status = domain.ErrorStatus(fmt.Sprintf("Cannot prepare scratch directory: %v", serr))
		return res, nil
	}
	release = rel
	buildDir, berr := r.store.BuildDir(td.ID)
	if berr != nil {
		status = domain.ErrorStatus(fmt.Sprintf("Cannot prepare build directory: %v", berr))
		return res, nil
	}

	rt := action.Runtime{
		TestID:          td.ID,
		TestDir:         td.Dir,
		Scratch:         scratch,
		BuildDir:        buildDir,
		WorkerID:        workerID,
		Env:             r.childEnv(td, workerID, scratch, buildDir),
		Processes:       r.opts.Processes,
		EntryPoints:     r.opts.EntryPoints,
		Compilers:       r.opts.Compilers,
		DefaultCompiler: r.opts.DefaultCompiler,
		IgnoreMode:      r.opts.IgnoreMode,
	}

	status = r.runActions(ctx, acts, res, rt)
	return res, nil
}

// runActions applies the halting rules: ERROR halts, FAILED halts unless the
// action continues on failure; otherwise the worst status wins.
func (r *TestRunner) runActions(ctx context.Context, acts []action.Action, res *domain.TestResult, rt action.Runtime) domain.Status {
	var overall domain.Status
	for i, a := range acts {
		if ctx.Err() != nil {
			return domain.ErrorStatus("Test cancelled: " + context.Cause(ctx).Error())
		}
		reason := "user specified action: " + a.Spec().String()
		st := r.actions.Run(ctx, a, reason, res, rt)
		r.log.Debug("Action finished",
			zap.String("test", rt.TestID),
			zap.String("action", a.Name()),
			zap.Stringer("status", st))

		switch {
		case st.IsError():
			return st
		case st.IsFailed() && !a.ContinueOnFailure():
			return st
		}
		if i == 0 {
			overall = st
			continue
		}
		overall = domain.Worst(overall, st)
	}
	return overall
}

// snapshot is the environment recorded with the result.
func (r *TestRunner) snapshot(workerID int) map[string]string {
	env := map[string]string{
		"os":     runtime.GOOS,
		"arch":   runtime.GOARCH,
		"worker": strconv.Itoa(workerID),
	}
	if host, err := os.Hostname(); err == nil {
		env["host"] = host
	}
	if r.opts.RunID != "" {
		env["run_id"] = r.opts.RunID
	}
	if r.opts.Version != "" {
		env["harness_version"] = r.opts.Version
	}
	return env
}

func (r *TestRunner) childEnv(td domain.TestDescription, workerID int, scratch, buildDir string) []string {
	base := r.opts.BaseEnv
	if base == nil {
		base = os.Environ()
	}
	env := append([]string(nil), base...)
	env = append(env,
		EnvWorker+"="+strconv.Itoa(workerID),
		EnvScratch+"="+scratch,
		EnvBuildDir+"="+buildDir,
		EnvTestID+"="+td.ID,
		EnvTestDir+"="+td.Dir,
	)
	if r.opts.WorkerEnv != nil {
		for k, v := range r.opts.WorkerEnv(workerID) {
			env = append(env, k+"="+v)
		}
	}
	return env
}
