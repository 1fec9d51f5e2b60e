package domain

import (
	"fmt"
	"strings"
	"time"

	"regtest/internal/exitcodes"
)

// Stats counts terminal statuses of a batch.
type Stats struct {
	Passed int `json:"passed" yaml:"passed"`
	Failed int `json:"failed" yaml:"failed"`
	Error  int `json:"error" yaml:"error"`
	NotRun int `json:"not_run" yaml:"not_run"`
}

// Add counts one terminal status.
func (s *Stats) Add(status Status) {
	switch status.Kind {
	case Passed:
		s.Passed++
	case Failed:
		s.Failed++
	case Error:
		s.Error++
	default:
		s.NotRun++
	}
}

func (s Stats) Total() int { return s.Passed + s.Failed + s.Error + s.NotRun }

// ExitCode maps the counts to the batch exit code; errors outrank failures.
func (s Stats) ExitCode() int {
	switch {
	case s.Error > 0:
		return exitcodes.TestError
	case s.Failed > 0:
		return exitcodes.TestFailed
	default:
		return exitcodes.OK
	}
}

// Summary renders the one-line result summary, e.g.
// "Test results: passed: 8; failed: 1; error: 1".
func (s Stats) Summary() string {
	if s.Total() == 0 {
		return "Test results: no tests selected"
	}
	var parts []string
	if s.Passed > 0 {
		parts = append(parts, fmt.Sprintf("passed: %d", s.Passed))
	}
	if s.Failed > 0 {
		parts = append(parts, fmt.Sprintf("failed: %d", s.Failed))
	}
	if s.Error > 0 {
		parts = append(parts, fmt.Sprintf("error: %d", s.Error))
	}
	if s.NotRun > 0 {
		parts = append(parts, fmt.Sprintf("not run: %d", s.NotRun))
	}
	return "Test results: " + strings.Join(parts, "; ")
}

// LastRunInfo describes the most recent batch executed in a work directory.
type LastRunInfo struct {
	RunID      string    `yaml:"run_id"`
	ConfigName string    `yaml:"config_name,omitempty"`
	Start      time.Time `yaml:"start"`
	Finish     time.Time `yaml:"finish"`
	Stats      Stats     `yaml:"stats"`
}
