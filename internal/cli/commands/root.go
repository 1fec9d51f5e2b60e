package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"regtest/internal/cli"
	"regtest/internal/exitcodes"
)

// NewRootCommand builds the regtest command tree.
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "regtest",
		Short: "Parallel regression test harness",
		Long: `Runs regression tests described by .test.yaml files on a pool of workers,
records one result per test in a work directory and reports what did not pass.`,
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return cli.BadArgs(err)
	})
	if app.Out != nil {
		rootCmd.SetOut(app.Out)
	}
	if app.Err != nil {
		rootCmd.SetErr(app.Err)
	}

	NewCommands(app).Register(rootCmd)
	for _, c := range rootCmd.Commands() {
		if c.RunE != nil {
			c.RunE = faultOnError(c.RunE)
		}
	}
	return rootCmd
}

// faultOnError gives errors returned by a command without an exit code the
// Fault code. Errors cobra raises itself keep no code and are usage errors.
func faultOnError(run func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := run(cmd, args)
		var ee *cli.ExitError
		if err != nil && !errors.As(err, &ee) {
			return cli.Exit(exitcodes.Fault, err)
		}
		return err
	}
}
