package main

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/fatih/color"

	"regtest/internal/action"
	"regtest/internal/cli"
	"regtest/internal/cli/commands"
	"regtest/internal/exitcodes"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "regtest: unexpected exception: %v\n%s", r, debug.Stack())
			code = exitcodes.Exception
		}
	}()

	entryPoints := action.NewEntryPoints()
	action.RegisterBuiltins(entryPoints)

	rootCmd := commands.NewRootCommand(&commands.App{
		Flags:       &cli.Flags{},
		EntryPoints: entryPoints,
		Version:     version,
		Out:         os.Stdout,
		Err:         os.Stderr,
	})
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()
	var ee *cli.ExitError
	if err != nil && !errors.As(err, &ee) {
		err = cli.BadArgs(err)
	}
	if err != nil && !cli.Silent(err) {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return cli.ExitCode(err)
}
