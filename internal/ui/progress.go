package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"regtest/internal/domain"
	"regtest/internal/execution"
)

// Interactive reports whether f is a terminal; the progress bar and the
// results viewer are only used on one.
func Interactive(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// ProgressBar shows batch progress on stderr. It is an execution.Observer;
// workers call it concurrently.
type ProgressBar struct {
	execution.BaseObserver

	out io.Writer

	mu    sync.Mutex
	bar   *progressbar.ProgressBar
	stats domain.Stats
}

var _ execution.Observer = (*ProgressBar)(nil)

// NewProgressBar creates a progress observer writing to out; nil means
// stderr.
func NewProgressBar(out io.Writer) *ProgressBar {
	if out == nil {
		out = os.Stderr
	}
	return &ProgressBar{out: out}
}

func (p *ProgressBar) StartingRun(_ string, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = domain.Stats{}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription(p.describe()),
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        color.CyanString("█"),
			SaucerHead:    color.CyanString("█"),
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(p.out, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// FinishedTest updates the bar with pass and failure counts
func (p *ProgressBar) FinishedTest(res *domain.TestResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		return
	}
	p.stats.Add(res.Status)
	_ = p.bar.Set(p.stats.Total())
	p.bar.Describe(p.describe())
}

func (p *ProgressBar) StoppingRun() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		p.bar.Describe(color.YellowString("Stopping: ") + p.describe())
	}
}

// FinishedRun completes the progress bar
func (p *ProgressBar) FinishedRun(domain.Stats, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Counts returns the outcomes seen in the current batch.
func (p *ProgressBar) Counts() domain.Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *ProgressBar) describe() string {
	return color.CyanString("Running tests: ") +
		color.GreenString("[passed: %d", p.stats.Passed) +
		" | " +
		color.RedString("failed: %d", p.stats.Failed) +
		" | " +
		color.MagentaString("error: %d]", p.stats.Error)
}
