package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"regtest/internal/action"
	"regtest/internal/config"
	"regtest/internal/domain"
	"regtest/internal/execution"
	"regtest/internal/process"
)

// Provisioner prepares one database per worker and runs the configured setup
// command (e.g. schema migrations) against each, in parallel.
type Provisioner struct {
	cfg   *config.Config
	dbs   Databases
	procs action.ProcessRunner
	out   io.Writer
	log   *zap.Logger
}

// WorkerResult is the outcome of the setup command for one worker.
type WorkerResult struct {
	WorkerID int
	Database string
	Status   domain.Status
	Output   string
}

// New creates a Provisioner. dbs may be nil when databases are managed
// elsewhere; out receives the progress bar and summary.
func New(cfg *config.Config, dbs Databases, procs action.ProcessRunner, out io.Writer, log *zap.Logger) *Provisioner {
	if out == nil {
		out = os.Stderr
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Provisioner{cfg: cfg, dbs: dbs, procs: procs, out: out, log: log.With(zap.String("component", "provision"))}
}

// WorkerEnv returns the per-worker variables handed to every test process.
func WorkerEnv(cfg *config.Config) func(workerID int) map[string]string {
	return func(workerID int) map[string]string {
		name := cfg.GetDatabaseName(workerID)
		return map[string]string{
			execution.EnvDatabase: name,
			"DB_DATABASE":         name,
		}
	}
}

// Run provisions workers 1..workerCount.
func (p *Provisioner) Run(ctx context.Context, workerCount int) ([]WorkerResult, error) {
	color.New(color.FgCyan).Fprintln(p.out, "\n╔════════════════════════════════════════════════════════════╗")
	color.New(color.FgCyan).Fprintln(p.out, "║                 Provisioning Test Databases                ║")
	color.New(color.FgCyan).Fprintln(p.out, "╚════════════════════════════════════════════════════════════╝")

	workers := make([]int, 0, workerCount)
	if p.dbs != nil {
		available, err := p.dbs.Ensure(ctx, workerCount)
		if err != nil {
			return nil, fmt.Errorf("failed to check databases: %w", err)
		}
		workers = available
	} else {
		for i := 1; i <= workerCount; i++ {
			workers = append(workers, i)
		}
	}
	if len(workers) == 0 {
		return nil, errors.New("no test databases available")
	}
	if p.cfg.Database.SetupCommand == "" {
		color.New(color.FgGreen).Fprintf(p.out, "✓ %d worker database(s) ready, no setup command configured\n", len(workers))
		return nil, nil
	}
	args, err := process.SplitArgs(p.cfg.Database.SetupCommand)
	if err != nil || len(args) == 0 {
		return nil, fmt.Errorf("bad setup command %q: %v", p.cfg.Database.SetupCommand, err)
	}

	bar := progressbar.NewOptions(len(workers),
		progressbar.OptionSetDescription(color.CyanString("Provisioning: ")+color.GreenString("[completed: 0/%d]", len(workers))),
		progressbar.OptionSetWidth(50),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(p.out, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		results   []WorkerResult
		completed int
	)
	start := time.Now()
	for _, id := range workers {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			res := p.runSetup(ctx, workerID, args)

			mu.Lock()
			defer mu.Unlock()
			results = append(results, res)
			completed++
			_ = bar.Set(completed)
			bar.Describe(color.CyanString("Provisioning: ") + color.GreenString("[completed: %d/%d]", completed, len(workers)))
		}(id)
	}
	wg.Wait()
	_ = bar.Finish()
	sort.Slice(results, func(i, j int) bool { return results[i].WorkerID < results[j].WorkerID })

	var failed []WorkerResult
	for _, r := range results {
		if !r.Status.IsPassed() {
			failed = append(failed, r)
		}
	}
	if len(failed) > 0 {
		color.New(color.FgRed).Fprintf(p.out, "✗ Setup failed for %d worker(s)\n", len(failed))
		for _, r := range failed {
			color.New(color.FgRed).Fprintf(p.out, "  Worker %d (DB: %s): %s\n", r.WorkerID, r.Database, r.Status)
		}
		return results, fmt.Errorf("setup failed for %d worker(s)", len(failed))
	}
	color.New(color.FgGreen).Fprintf(p.out, "✓ Setup completed successfully for all %d workers\n", len(workers))
	fmt.Fprintf(p.out, "Duration: %s\n", time.Since(start).Round(time.Millisecond))
	return results, nil
}

func (p *Provisioner) runSetup(ctx context.Context, workerID int, args []string) WorkerResult {
	dir, err := filepath.Abs(p.cfg.ProjectPath)
	if err != nil {
		dir = p.cfg.ProjectPath
	}
	env := os.Environ()
	for k, v := range WorkerEnv(p.cfg)(workerID) {
		env = append(env, k+"="+v)
	}
	cmd := process.NewCommand(args[0], args[1:]...)
	cmd.Env = env
	cmd.Dir = dir

	var out lockedBuffer
	st := p.procs.Run(ctx, cmd, &out, &out)
	p.log.Debug("Setup command finished",
		zap.Int("worker", workerID),
		zap.String("command", cmd.String()),
		zap.Stringer("status", st))
	return WorkerResult{
		WorkerID: workerID,
		Database: p.cfg.GetDatabaseName(workerID),
		Status:   st,
		Output:   out.String(),
	}
}

// lockedBuffer collects both output streams of the setup command.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
