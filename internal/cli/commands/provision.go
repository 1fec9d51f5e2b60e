package commands

import (
	"github.com/spf13/cobra"

	"regtest/internal/process"
	"regtest/internal/provision"
)

// ProvisionCommand creates and sets up the worker databases.
type ProvisionCommand struct {
	app *App
}

// Execute runs the command
func (pc *ProvisionCommand) Execute(cmd *cobra.Command, args []string) error {
	s, err := pc.app.load()
	if err != nil {
		return err
	}
	defer s.close()

	procs := process.NewController(s.cfg.KillGrace, s.log)
	defer procs.KillAll()

	p := provision.New(s.cfg, provision.NewDatabaseManager(s.cfg, s.log), procs, s.out, s.log)
	_, err = p.Run(cmd.Context(), s.cfg.Concurrency)
	return err
}
