package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"regtest/internal/cli"
	"regtest/internal/discovery"
	"regtest/internal/storage"
	"regtest/internal/ui"
)

// ShowCommand prints stored results with all of their sections.
type ShowCommand struct {
	app *App
}

// Execute runs the command
func (sc *ShowCommand) Execute(cmd *cobra.Command, args []string) error {
	s, err := sc.app.load()
	if err != nil {
		return err
	}
	defer s.close()

	store, err := s.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	f := ui.NewFormatter(s.out)
	for i, id := range args {
		res, err := store.Get(strings.TrimSuffix(id, discovery.DescriptionSuffix))
		if errors.Is(err, storage.ErrNotFound) {
			return cli.BadArgs(fmt.Errorf("no stored result for %s", id))
		}
		if err != nil {
			return err
		}
		if i > 0 {
			fmt.Fprintln(s.out)
		}
		f.PrintResult(res)
	}
	return nil
}
