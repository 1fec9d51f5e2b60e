package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"regtest/internal/domain"
	"regtest/internal/storage"
	"regtest/internal/ui"
)

// ResultsCommand shows the stored results that did not pass.
type ResultsCommand struct {
	app *App
}

// Execute runs the command
func (rc *ResultsCommand) Execute(cmd *cobra.Command, args []string) error {
	s, err := rc.app.load()
	if err != nil {
		return err
	}
	defer s.close()

	store, err := s.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	info, err := store.ReadLastRun()
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to read last run info: %w", err)
	}

	var problems []*domain.TestResult
	for res, err := range store.Iterate(notPassed) {
		if err != nil {
			return fmt.Errorf("failed to read stored results: %w", err)
		}
		problems = append(problems, res)
	}
	if len(problems) == 0 {
		color.New(color.FgGreen).Fprintln(s.out, "No failed tests in the work directory")
		return nil
	}

	runID := ""
	if info != nil {
		runID = info.RunID
	}
	if ui.Interactive(os.Stdout) {
		return ui.NewResultViewer(runID).View(problems)
	}

	var (
		stats   domain.Stats
		elapsed time.Duration
	)
	if info != nil {
		stats = info.Stats
		elapsed = info.Finish.Sub(info.Start)
	} else {
		for _, res := range problems {
			stats.Add(res.Status)
		}
	}
	ui.NewFormatter(s.out).PrintSummary(stats, elapsed, problems)
	return nil
}
