package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every harness environment variable.
const EnvPrefix = "REGTEST_"

// Load creates a config and applies, in order: the YAML config file, the
// project's .env file, the environment and the flags. The result is
// validated.
func Load(flags Flags) (*Config, error) {
	cfg := New()
	cfg.Flags = flags
	if flags.ProjectPath != "" {
		cfg.ProjectPath = flags.ProjectPath
	}

	if err := cfg.loadFile(flags.ConfigFile); err != nil {
		return nil, err
	}

	// .env file might not exist, that's okay - use environment variables
	envPath := filepath.Join(cfg.ProjectPath, ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyFlags(flags)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFile reads the YAML config. An explicit path must exist; the default
// file in the project is optional.
func (c *Config) loadFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = filepath.Join(c.ProjectPath, DefaultConfigFile)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	project := c.ProjectPath
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	// a project key in the file is relative to the file itself
	if c.ProjectPath != project && !filepath.IsAbs(c.ProjectPath) {
		c.ProjectPath = filepath.Join(filepath.Dir(path), c.ProjectPath)
	}
	c.ConfigName = path
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str(EnvPrefix+"TEST_ROOT", &c.TestRoot)
	str(EnvPrefix+"WORK_DIR", &c.WorkDir)
	num(EnvPrefix+"CONCURRENCY", &c.Concurrency)
	if v, ok := lookup(EnvPrefix + "TIMEOUT_FACTOR"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sTIMEOUT_FACTOR: %w", EnvPrefix, err))
		} else {
			c.TimeoutFactor = f
		}
	}
	dur(EnvPrefix+"DEFAULT_TIMEOUT", &c.DefaultTimeout)
	dur(EnvPrefix+"KILL_GRACE", &c.KillGrace)
	str(EnvPrefix+"RETAIN", &c.Retain)
	str(EnvPrefix+"IGNORE", &c.Ignore)
	str(EnvPrefix+"STOP_POLICY", &c.StopPolicy)
	num(EnvPrefix+"BACKUP_COUNT", &c.BackupCount)
	if v, ok := lookup(EnvPrefix + "BACKUP_IGNORE"); ok && v != "" {
		c.BackupIgnore = splitList(v)
	}
	str(EnvPrefix+"EXCLUDE_LIST", &c.ExcludeList)
	str(EnvPrefix+"LOG_LEVEL", &c.LogLevel)
	str(EnvPrefix+"LOG_FORMAT", &c.LogFormat)
	str(EnvPrefix+"METRICS_FILE", &c.MetricsFile)

	// database settings keep the names projects already use in their .env
	str("DB_HOST", &c.Database.Host)
	str("DB_PORT", &c.Database.Port)
	str("DB_USERNAME", &c.Database.User)
	str("DB_PASSWORD", &c.Database.Password)
	str("DB_DATABASE_PREFIX", &c.Database.Prefix)

	str(EnvPrefix+"S3_ENDPOINT", &c.Export.Endpoint)
	str(EnvPrefix+"S3_BUCKET", &c.Export.Bucket)
	str(EnvPrefix+"S3_PREFIX", &c.Export.Prefix)
	str(EnvPrefix+"S3_ACCESS_KEY", &c.Export.AccessKey)
	str(EnvPrefix+"S3_SECRET_KEY", &c.Export.SecretKey)

	return errors.Join(errs...)
}

func (c *Config) applyFlags(f Flags) {
	if f.WorkDir != "" {
		c.WorkDir = f.WorkDir
	}
	if f.Concurrency > 0 {
		c.Concurrency = f.Concurrency
	}
	if f.TimeoutFactor > 0 {
		c.TimeoutFactor = f.TimeoutFactor
	}
	if f.Retain != "" {
		c.Retain = f.Retain
	}
	if f.Ignore != "" {
		c.Ignore = f.Ignore
	}
	if f.StopPolicy != "" {
		c.StopPolicy = f.StopPolicy
	}
	if f.ExcludeList != "" {
		c.ExcludeList = f.ExcludeList
	}
	if f.LogLevel != "" {
		c.LogLevel = f.LogLevel
	}
	if f.MetricsFile != "" {
		c.MetricsFile = f.MetricsFile
	}
	if f.Provision {
		c.Database.Enabled = true
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
