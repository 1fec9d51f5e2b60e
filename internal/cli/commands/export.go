package commands

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"regtest/internal/cli"
	"regtest/internal/domain"
	"regtest/internal/export"
)

// ExportCommand uploads stored results to an S3-compatible bucket.
type ExportCommand struct {
	app *App
}

// Execute runs the command
func (ec *ExportCommand) Execute(cmd *cobra.Command, args []string) error {
	s, err := ec.app.load()
	if err != nil {
		return err
	}
	defer s.close()

	cfg := s.cfg.Export
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return cli.BadArgs(errors.New("export needs an endpoint and a bucket (export.endpoint, export.bucket or REGTEST_S3_*)"))
	}
	client, err := export.NewClient(cfg)
	if err != nil {
		return cli.BadArgs(err)
	}

	store, err := s.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	var keep func(*domain.TestResult) bool
	if !ec.app.Flags.ExportAll {
		keep = notPassed
	}
	sum, err := export.NewExporter(client, cfg.Bucket, cfg.Prefix, s.log).Export(cmd.Context(), store, keep)
	if err != nil && sum.RunID == "" {
		return err
	}
	fmt.Fprintf(s.out, "Run %s: ", sum.RunID)
	color.New(color.FgGreen).Fprintf(s.out, "uploaded %d", sum.Uploaded)
	fmt.Fprintf(s.out, ", skipped %d", sum.Skipped)
	if sum.Failed > 0 {
		color.New(color.FgRed).Fprintf(s.out, ", failed %d", sum.Failed)
	}
	fmt.Fprintln(s.out)
	if err != nil {
		return fmt.Errorf("export incomplete: %w", err)
	}
	return nil
}
