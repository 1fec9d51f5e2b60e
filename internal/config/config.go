package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"regtest/internal/action"
	"regtest/internal/execution"
)

// Config holds all configuration for the application
type Config struct {
	// Project settings
	ProjectPath string `yaml:"project"`
	TestRoot    string `yaml:"test_root"`
	WorkDir     string `yaml:"work_dir"`

	// Execution settings
	Concurrency    int           `yaml:"concurrency"`
	TimeoutFactor  float64       `yaml:"timeout_factor"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	KillGrace      time.Duration `yaml:"kill_grace"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
	Retain         string        `yaml:"retain"`
	Ignore         string        `yaml:"ignore"`
	StopPolicy     string        `yaml:"stop_policy"`

	// Result storage
	BackupCount  int      `yaml:"backup_count"`
	BackupIgnore []string `yaml:"backup_ignore"`

	// Paths to ignore when scanning
	PathsToIgnore []string `yaml:"paths_to_ignore"`
	ExcludeList   string   `yaml:"exclude_list"`

	Compilers       map[string]CompilerConfig `yaml:"compilers"`
	DefaultCompiler string                    `yaml:"default_compiler"`

	Database DatabaseConfig `yaml:"database"`
	Export   ExportConfig   `yaml:"export"`

	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsFile string `yaml:"metrics_file"`

	// ConfigName is the file the configuration was read from, if any.
	ConfigName string `yaml:"-"`

	// Command flags
	Flags Flags `yaml:"-"`
}

// CompilerConfig declares an external compiler for compile and build actions.
type CompilerConfig struct {
	Path string   `yaml:"path"`
	Args []string `yaml:"args"`
}

// DatabaseConfig describes the MySQL server holding per-worker databases.
type DatabaseConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Host         string `yaml:"host"`
	Port         string `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Prefix       string `yaml:"prefix"`
	SetupCommand string `yaml:"setup_command"`
}

// ExportConfig describes the S3-compatible bucket results are exported to.
type ExportConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// Flags holds command-line flags
type Flags struct {
	ConfigFile    string
	ProjectPath   string
	TestRoot      string
	WorkDir       string
	Concurrency   int
	Filter        string
	Keywords      string
	ExcludeList   string
	TimeoutFactor float64
	Retain        string
	Ignore        string
	StopPolicy    string
	LogLevel      string
	MetricsFile   string
	FailFast      bool
	OnlyFailed    bool
	OpenResults   bool
	Provision     bool
}

// New creates a new Config with defaults
func New() *Config {
	cfg := &Config{
		ProjectPath:    DefaultProjectPath,
		TestRoot:       DefaultTestRoot,
		WorkDir:        DefaultWorkDir,
		Concurrency:    DefaultConcurrency,
		TimeoutFactor:  DefaultTimeoutFactor,
		DefaultTimeout: DefaultActionTimeout,
		KillGrace:      DefaultKillGrace,
		MaxOutputBytes: DefaultMaxOutputBytes,
		Retain:         DefaultRetain,
		Ignore:         DefaultIgnore,
		StopPolicy:     DefaultStopPolicy,
		BackupCount:    DefaultBackupCount,
		LogLevel:       DefaultLogLevel,
		LogFormat:      DefaultLogFormat,
		Database: DatabaseConfig{
			Host:   "127.0.0.1",
			Port:   "3306",
			User:   "root",
			Prefix: DefaultDatabasePrefix,
		},
	}
	// Copy default paths to ignore
	cfg.PathsToIgnore = make([]string, len(DefaultPathsToIgnore))
	copy(cfg.PathsToIgnore, DefaultPathsToIgnore)
	return cfg
}

// GetTestRoot returns the test root, using the flag if provided. Relative
// paths are resolved against the project path.
func (c *Config) GetTestRoot() string {
	root := c.TestRoot
	if c.Flags.TestRoot != "" {
		root = c.Flags.TestRoot
	}
	return c.resolve(root)
}

// GetWorkDir returns the absolute work directory so every command reads and
// writes the same results regardless of cwd.
func (c *Config) GetWorkDir() string {
	return c.resolve(c.WorkDir)
}

// GetExcludeList returns the exclude list path, or "" when none is set.
func (c *Config) GetExcludeList() string {
	if c.ExcludeList == "" {
		return ""
	}
	return c.resolve(c.ExcludeList)
}

// GetDatabaseName returns the database name for a worker
func (c *Config) GetDatabaseName(workerID int) string {
	prefix := c.Database.Prefix
	if prefix == "" {
		prefix = DefaultDatabasePrefix
	}
	return fmt.Sprintf("%s_%d", prefix, workerID)
}

func (c *Config) resolve(p string) string {
	if !filepath.IsAbs(p) {
		p = filepath.Join(c.ProjectPath, p)
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// Validate reports every configuration error at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.TimeoutFactor <= 0 {
		errs = append(errs, fmt.Errorf("timeout factor must be positive, got %g", c.TimeoutFactor))
	}
	if c.DefaultTimeout <= 0 {
		errs = append(errs, fmt.Errorf("default timeout must be positive, got %s", c.DefaultTimeout))
	}
	if c.KillGrace <= 0 {
		errs = append(errs, fmt.Errorf("kill grace must be positive, got %s", c.KillGrace))
	}
	if c.BackupCount < 0 {
		errs = append(errs, fmt.Errorf("backup count must not be negative, got %d", c.BackupCount))
	}
	if _, err := execution.ParseRetain(c.Retain); err != nil {
		errs = append(errs, err)
	}
	if _, err := action.ParseIgnoreMode(c.Ignore); err != nil {
		errs = append(errs, err)
	}
	if _, err := execution.ParseStopPolicy(c.StopPolicy); err != nil {
		errs = append(errs, err)
	}
	if c.DefaultCompiler != "" {
		if _, ok := c.Compilers[c.DefaultCompiler]; !ok {
			errs = append(errs, fmt.Errorf("default compiler %q is not configured", c.DefaultCompiler))
		}
	}
	for name, cc := range c.Compilers {
		if cc.Path == "" {
			errs = append(errs, fmt.Errorf("compiler %q has no path", name))
		}
	}
	return errors.Join(errs...)
}
