package config

import "time"

const (
	// DefaultProjectPath is the default project path
	DefaultProjectPath = "."
	// DefaultTestRoot is the default test root, relative to the project
	DefaultTestRoot = "."
	// DefaultWorkDir is the default work directory, relative to the project
	DefaultWorkDir = "regtest-work"
	// DefaultConfigFile is looked up in the project when no --config is given
	DefaultConfigFile = "regtest.yaml"
	// DefaultConcurrency is the default number of workers
	DefaultConcurrency = 4
	// DefaultDatabasePrefix names per-worker databases <prefix>_<worker>
	DefaultDatabasePrefix = "testing"
)

const (
	DefaultTimeoutFactor  = 1.0
	DefaultActionTimeout  = 120 * time.Second
	DefaultKillGrace      = 10 * time.Second
	DefaultMaxOutputBytes = 1024 * 1024
	DefaultBackupCount    = 5
	DefaultRetain         = "fail,error"
	DefaultIgnore         = "error"
	DefaultStopPolicy     = "finish"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "console"
)

// DefaultPathsToIgnore are the directories skipped when scanning for test
// descriptions.
var DefaultPathsToIgnore = []string{
	"vendor",
	"node_modules",
	"testdata",
	DefaultWorkDir,
}
