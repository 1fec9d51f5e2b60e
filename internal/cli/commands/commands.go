package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"regtest/internal/action"
	"regtest/internal/cli"
	"regtest/internal/config"
	"regtest/internal/discovery"
	"regtest/internal/domain"
	"regtest/internal/logging"
	"regtest/internal/storage"
)

// App carries what every command needs. Configuration is loaded when a
// command starts, after its flags are parsed.
type App struct {
	Flags       *cli.Flags
	EntryPoints *action.EntryPoints
	Version     string
	Out         io.Writer
	Err         io.Writer
}

// session is the loaded configuration and logger of one command.
type session struct {
	cfg *config.Config
	log *zap.Logger
	out io.Writer
	err io.Writer
}

func (a *App) load() (*session, error) {
	cfg, err := config.Load(a.Flags.ToConfigFlags())
	if err != nil {
		return nil, cli.BadArgs(err)
	}
	log, err := logging.NewLogger(cfg)
	if err != nil {
		return nil, cli.BadArgs(err)
	}
	out, errOut := a.Out, a.Err
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &session{cfg: cfg, log: log, out: out, err: errOut}, nil
}

func (s *session) close() {
	_ = s.log.Sync()
}

func (s *session) openStore() (*storage.WorkDir, error) {
	return storage.Open(s.cfg.GetWorkDir(), storage.Options{
		BackupCount:  s.cfg.BackupCount,
		BackupIgnore: s.cfg.BackupIgnore,
		Logger:       s.log,
	})
}

// discover scans the test root and parses every description. Broken
// descriptions are reported and left out.
func (s *session) discover() ([]domain.TestDescription, error) {
	root := s.cfg.GetTestRoot()
	files, err := discovery.NewScanner(s.cfg.PathsToIgnore).Scan(root)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	tests, errs := discovery.NewParser().Load(root, files)
	for _, err := range errs {
		s.log.Warn("Skipping test description", zap.Error(err))
		color.New(color.FgYellow).Fprintf(s.err, "Warning: %v\n", err)
	}
	s.log.Debug("Discovered tests", zap.String("root", root), zap.Int("count", len(tests)))
	return tests, nil
}

// Commands holds all CLI commands
type Commands struct {
	app       *App
	Run       *RunCommand
	List      *ListCommand
	Results   *ResultsCommand
	Show      *ShowCommand
	Export    *ExportCommand
	Provision *ProvisionCommand
}

// NewCommands creates all commands
func NewCommands(app *App) *Commands {
	if app.EntryPoints == nil {
		app.EntryPoints = action.NewEntryPoints()
	}
	return &Commands{
		app:       app,
		Run:       &RunCommand{app: app},
		List:      &ListCommand{app: app},
		Results:   &ResultsCommand{app: app},
		Show:      &ShowCommand{app: app},
		Export:    &ExportCommand{app: app},
		Provision: &ProvisionCommand{app: app},
	}
}

// Register registers all commands with cobra
func (c *Commands) Register(rootCmd *cobra.Command) {
	flags := c.app.Flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.ConfigFile, "config", "", "Path to the YAML config file (default: regtest.yaml in the project)")
	pf.StringVar(&flags.ProjectPath, "project", "", "Project directory that relative paths are resolved against")
	pf.StringVarP(&flags.WorkDir, "work-dir", "w", "", "Directory holding results, scratch and build products")
	pf.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn or error")

	// Run command
	runCmd := &cobra.Command{
		Use:   "run [test-id...]",
		Short: "Run regression tests in parallel",
		Long:  "Discover test descriptions and execute them using parallel workers",
		RunE:  c.Run.Execute,
	}
	rf := runCmd.Flags()
	rf.IntVarP(&flags.Concurrency, "concurrency", "j", 0, "Number of tests to run at once")
	rf.StringVarP(&flags.TestRoot, "test-root", "t", "", "Directory where test discovery starts")
	rf.StringVarP(&flags.Filter, "filter", "f", "", "Filter tests by name pattern (supports wildcards, e.g. '*Writer' or 'net/*')")
	rf.StringVarP(&flags.Keywords, "keywords", "k", "", "Keyword expression tests must match, e.g. 'shell & !slow'")
	rf.StringVar(&flags.ExcludeList, "exclude-list", "", "File listing tests that must not run")
	rf.Float64Var(&flags.TimeoutFactor, "timeout-factor", 0, "Multiplier applied to every action timeout")
	rf.StringVar(&flags.Retain, "retain", "", "Statuses whose scratch directories are kept, e.g. 'fail,error' or 'all'")
	rf.StringVar(&flags.Ignore, "ignore", "", "How @ignore actions behave: error, run or quiet")
	rf.StringVar(&flags.StopPolicy, "stop-policy", "", "What Stop does with running tests: finish or cancel")
	rf.StringVar(&flags.MetricsFile, "metrics-file", "", "Write Prometheus metrics for the run to this file")
	rf.BoolVar(&flags.FailFast, "fail-fast", false, "Stop on first test failure")
	rf.BoolVar(&flags.OnlyFailed, "failed", false, "Run only tests whose stored result failed or erred")
	rf.BoolVar(&flags.OpenResults, "open-results", false, "Open the results viewer when the run finishes with problems")
	rf.BoolVarP(&flags.Provision, "provision", "p", false, "Provision worker databases before executing tests")
	rootCmd.AddCommand(runCmd)

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered tests",
		Long:  "Scan and list all test descriptions without executing them",
		RunE:  c.List.Execute,
	}
	listCmd.Flags().StringVarP(&flags.Filter, "filter", "f", "", "Filter tests by name pattern (supports wildcards, e.g. '*Writer' or 'net/*')")
	listCmd.Flags().StringVarP(&flags.TestRoot, "test-root", "t", "", "Directory where test discovery starts")
	listCmd.Flags().StringVarP(&flags.Keywords, "keywords", "k", "", "Keyword expression tests must match")
	listCmd.Flags().BoolVarP(&flags.ListActions, "actions", "a", false, "Show the actions of every test")
	rootCmd.AddCommand(listCmd)

	// Results command
	resultsCmd := &cobra.Command{
		Use:     "results",
		Aliases: []string{"faills"},
		Short:   "View stored results interactively",
		Long:    "Display the tests that did not pass in the last run in an interactive viewer",
		RunE:    c.Results.Execute,
	}
	rootCmd.AddCommand(resultsCmd)

	// Show command
	showCmd := &cobra.Command{
		Use:   "show test-id...",
		Short: "Print stored results",
		Args:  cobra.MinimumNArgs(1),
		RunE:  c.Show.Execute,
	}
	rootCmd.AddCommand(showCmd)

	// Export command
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Upload stored results to an S3-compatible bucket",
		RunE:  c.Export.Execute,
	}
	exportCmd.Flags().BoolVar(&flags.ExportAll, "all", false, "Export every result, not only those that did not pass")
	rootCmd.AddCommand(exportCmd)

	// Provision command
	provisionCmd := &cobra.Command{
		Use:     "provision",
		Aliases: []string{"migrate"},
		Short:   "Create and set up the databases used by workers",
		Long:    "Create missing worker databases and run the setup command for each of them in parallel",
		RunE:    c.Provision.Execute,
	}
	provisionCmd.Flags().IntVarP(&flags.Concurrency, "concurrency", "j", 0, "Number of workers to provision")
	rootCmd.AddCommand(provisionCmd)
}
