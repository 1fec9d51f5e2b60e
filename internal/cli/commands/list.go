package commands

import (
	"slices"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"regtest/internal/cli"
	"regtest/internal/discovery"
	"regtest/internal/domain"
	"regtest/internal/ui"
)

// ListCommand handles the list command
type ListCommand struct {
	app *App
}

// Execute runs the command
func (lc *ListCommand) Execute(cmd *cobra.Command, args []string) error {
	s, err := lc.app.load()
	if err != nil {
		return err
	}
	defer s.close()

	kw, err := discovery.ParseKeywordExpr(s.cfg.Flags.Keywords)
	if err != nil {
		return cli.BadArgs(err)
	}

	tests, err := s.discover()
	if err != nil {
		return err
	}

	// Filter tests
	tests = discovery.NewFilter().FilterByName(tests, s.cfg.Flags.Filter)
	if kw != nil {
		tests = slices.DeleteFunc(tests, func(td domain.TestDescription) bool { return !kw.Match(td) })
	}

	if len(tests) == 0 {
		color.New(color.FgYellow).Fprintln(s.err, "No tests found")
		return nil
	}

	ui.NewFormatter(s.out).PrintTests(tests, lc.app.Flags.ListActions)
	return nil
}
