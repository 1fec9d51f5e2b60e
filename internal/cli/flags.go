package cli

import "regtest/internal/config"

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
	ListActions   bool
	ExportAll     bool
}

// ToConfigFlags converts CLI flags to config flags
func (f *Flags) ToConfigFlags() config.Flags {
	return config.Flags{
		ConfigFile:    f.ConfigFile,
		ProjectPath:   f.ProjectPath,
		TestRoot:      f.TestRoot,
		WorkDir:       f.WorkDir,
		Concurrency:   f.Concurrency,
		Filter:        f.Filter,
		Keywords:      f.Keywords,
		ExcludeList:   f.ExcludeList,
		TimeoutFactor: f.TimeoutFactor,
		Retain:        f.Retain,
		Ignore:        f.Ignore,
		StopPolicy:    f.StopPolicy,
		LogLevel:      f.LogLevel,
		MetricsFile:   f.MetricsFile,
		FailFast:      f.FailFast,
		OnlyFailed:    f.OnlyFailed,
		OpenResults:   f.OpenResults,
		Provision:     f.Provision,
	}
}
