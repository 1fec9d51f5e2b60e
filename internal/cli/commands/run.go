package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"regtest/internal/action"
	"regtest/internal/cli"
	"regtest/internal/config"
	"regtest/internal/discovery"
	"regtest/internal/domain"
	"regtest/internal/execution"
	"regtest/internal/exitcodes"
	"regtest/internal/metrics"
	"regtest/internal/process"
	"regtest/internal/provision"
	"regtest/internal/storage"
	"regtest/internal/ui"
)

var errInterrupted = errors.New("interrupted")

// RunCommand handles the run command
type RunCommand struct {
	app *App
}

// Execute runs the command
func (rc *RunCommand) Execute(cmd *cobra.Command, args []string) error {
	s, err := rc.app.load()
	if err != nil {
		return err
	}
	defer s.close()
	cfg := s.cfg

	sel, err := selection(cfg)
	if err != nil {
		return cli.BadArgs(err)
	}

	store, err := s.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	tests, err := s.discover()
	if err != nil {
		return err
	}
	filter := discovery.NewFilter()
	tests = filter.FilterByIDs(tests, args)
	tests = filter.FilterByName(tests, cfg.Flags.Filter)
	if cfg.Flags.OnlyFailed {
		if tests, err = onlyFailed(store, tests); err != nil {
			return err
		}
	}
	if len(tests) == 0 {
		color.New(color.FgYellow).Fprintln(s.err, "No tests to execute")
		return nil
	}

	ctx, cancel := context.WithCancelCause(cmd.Context())
	defer cancel(nil)

	procs := process.NewController(cfg.KillGrace, s.log)
	defer procs.KillAll()

	// Provision databases if flag is set
	if cfg.Flags.Provision {
		p := provision.New(cfg, provision.NewDatabaseManager(cfg, s.log), procs, s.err, s.log)
		if _, err := p.Run(ctx, cfg.Concurrency); err != nil {
			return fmt.Errorf("provisioning failed: %w", err)
		}
		fmt.Fprintln(s.err)
	}

	runID := uuid.NewString()
	h, problems, collector, err := rc.harness(s, store, procs, sel, runID)
	if err != nil {
		return cli.BadArgs(err)
	}

	done := make(chan struct{})
	defer close(done)
	go handleSignals(s, h, cancel, done)

	start := time.Now()
	ok, err := h.Batch(ctx, tests, cfg.Concurrency)
	if err != nil {
		return err
	}
	stats := h.Stats()

	failures := problems.sorted()
	ui.NewFormatter(s.out).PrintSummary(stats, time.Since(start), failures)

	if collector != nil {
		if err := collector.Write(cfg.MetricsFile); err != nil {
			s.log.Warn("Cannot write metrics", zap.String("file", cfg.MetricsFile), zap.Error(err))
		}
	}

	if cfg.Flags.OpenResults && len(failures) > 0 && ui.Interactive(os.Stdout) {
		if err := ui.NewResultViewer(runID).View(failures); err != nil {
			s.log.Warn("Results viewer failed", zap.Error(err))
		}
	}

	if faults := h.Faults(); faults > 0 {
		return cli.Exit(exitcodes.Fault, fmt.Errorf("%d harness fault(s) during the run", faults))
	}
	if !ok {
		return cli.Exit(stats.ExitCode(), nil)
	}
	return nil
}

func (rc *RunCommand) harness(s *session, store storage.Store, procs *process.Controller, sel discovery.Selection, runID string) (*execution.Harness, *problemList, *metrics.Collector, error) {
	cfg := s.cfg
	retain, err := execution.ParseRetain(cfg.Retain)
	if err != nil {
		return nil, nil, nil, err
	}
	ignore, err := action.ParseIgnoreMode(cfg.Ignore)
	if err != nil {
		return nil, nil, nil, err
	}
	policy, err := execution.ParseStopPolicy(cfg.StopPolicy)
	if err != nil {
		return nil, nil, nil, err
	}

	actions := execution.NewActionRunner(execution.ExecutorSettings{
		DefaultTimeout: cfg.DefaultTimeout,
		TimeoutFactor:  cfg.TimeoutFactor,
		KillGrace:      cfg.KillGrace,
		MaxOutputBytes: cfg.MaxOutputBytes,
	}, s.log)
	opts := execution.RunnerOptions{
		Processes:       procs,
		EntryPoints:     rc.app.EntryPoints,
		Compilers:       compilers(cfg),
		DefaultCompiler: cfg.DefaultCompiler,
		IgnoreMode:      ignore,
		Retain:          retain,
		RunID:           runID,
		Version:         rc.app.Version,
	}
	if cfg.Database.Enabled {
		opts.WorkerEnv = provision.WorkerEnv(cfg)
	}
	runner := execution.NewTestRunner(store, actions, opts, s.log)

	problems := &problemList{}
	observers := []execution.Observer{problems}
	if ui.Interactive(os.Stderr) {
		observers = append(observers, ui.NewProgressBar(s.err))
	}
	var collector *metrics.Collector
	if cfg.MetricsFile != "" {
		collector = metrics.NewCollector()
		observers = append(observers, collector)
	}

	h := execution.New(runner, store,
		execution.WithFilter(sel.HarnessFilter()),
		execution.WithStopPolicy(policy),
		execution.WithLogger(s.log),
		execution.WithObservers(observers...),
		execution.WithRunID(runID),
		execution.WithConfigName(cfg.ConfigName),
	)
	if cfg.Flags.FailFast {
		h.AddObserver(execution.StopOnFailure(h))
	}
	return h, problems, collector, nil
}

// handleSignals stops the batch on the first interrupt and cancels running
// tests on the second.
func handleSignals(s *session, h *execution.Harness, cancel context.CancelCauseFunc, done <-chan struct{}) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	interrupts := 0
	for {
		select {
		case <-done:
			return
		case sig := <-sigs:
			interrupts++
			if interrupts == 1 {
				s.log.Warn("Stopping run, interrupt again to cancel running tests", zap.String("signal", sig.String()))
				h.Stop()
				continue
			}
			s.log.Warn("Cancelling running tests", zap.String("signal", sig.String()))
			cancel(errInterrupted)
		}
	}
}

// selection builds the keyword, exclude list and ignore rules of a run.
func selection(cfg *config.Config) (discovery.Selection, error) {
	kw, err := discovery.ParseKeywordExpr(cfg.Flags.Keywords)
	if err != nil {
		return discovery.Selection{}, err
	}
	exclude, err := discovery.ReadExcludeList(cfg.GetExcludeList())
	if err != nil {
		return discovery.Selection{}, err
	}
	ignore, err := action.ParseIgnoreMode(cfg.Ignore)
	if err != nil {
		return discovery.Selection{}, err
	}
	return discovery.Selection{
		Keywords:    kw,
		Exclude:     exclude,
		IgnoreQuiet: ignore == action.IgnoreQuiet,
	}, nil
}

func compilers(cfg *config.Config) *action.Compilers {
	c := action.NewCompilers()
	for name, cc := range cfg.Compilers {
		c.Register(name, action.ExecCompiler{Path: cc.Path, Args: cc.Args})
	}
	return c
}

// onlyFailed keeps the tests whose stored result failed or erred.
func onlyFailed(store storage.Store, tests []domain.TestDescription) ([]domain.TestDescription, error) {
	failed := map[string]bool{}
	for res, err := range store.Iterate(notPassed) {
		if err != nil {
			return nil, fmt.Errorf("failed to read stored results: %w", err)
		}
		failed[res.ID] = true
	}
	return slices.DeleteFunc(tests, func(td domain.TestDescription) bool {
		return !failed[td.ID]
	}), nil
}

func notPassed(res *domain.TestResult) bool {
	return res.Status.IsFailed() || res.Status.IsError()
}

// problemList collects the results of a batch that failed or erred.
type problemList struct {
	execution.BaseObserver

	mu      sync.Mutex
	results []*domain.TestResult
}

func (p *problemList) FinishedTest(res *domain.TestResult) {
	if !notPassed(res) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, res)
}

func (p *problemList) sorted() []*domain.TestResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := slices.Clone(p.results)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
