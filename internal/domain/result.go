package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrSealed is returned when a sealed result or section is modified.
var ErrSealed = errors.New("result is sealed")

// Section is the log and outcome of one action within a TestResult.
type Section struct {
	Action      string        `json:"action"`
	Options     []string      `json:"options,omitempty"`
	Args        []string      `json:"args,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	CommandLine string        `json:"command_line,omitempty"`
	Messages    []string      `json:"messages,omitempty"` // Harness log lines for the action
	Stdout      string        `json:"stdout,omitempty"`
	Stderr      string        `json:"stderr,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
	Status      Status        `json:"status"`

	sealed bool
}

// NewSection starts the section for an action.
func NewSection(spec ActionSpec, reason string) *Section {
	return &Section{
		Action:  spec.Name,
		Options: append([]string(nil), spec.Options...),
		Args:    append([]string(nil), spec.Args...),
		Reason:  reason,
	}
}

// Seal sets the final status of the section. It can only happen once.
func (s *Section) Seal(status Status) error {
	if s.sealed {
		return ErrSealed
	}
	s.Status = status
	s.sealed = true
	return nil
}

func (s *Section) Sealed() bool { return s.sealed }

func (s *Section) UnmarshalJSON(data []byte) error {
	type plain Section
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = Section(p)
	s.sealed = true
	return nil
}

// TestResult records one execution of a test. It is owned by the TestRunner
// executing the test until it is sealed; after that it never changes.
type TestResult struct {
	ID       string            `json:"id"`
	Title    string            `json:"title,omitempty"`
	Keywords []string          `json:"keywords,omitempty"`
	WorkerID int               `json:"worker_id,omitempty"`
	Sections []*Section        `json:"sections"`
	Status   Status            `json:"status"`
	Start    time.Time         `json:"start"`
	End      time.Time         `json:"end"`
	Env      map[string]string `json:"env,omitempty"`

	sealed bool
}

// NewTestResult creates the open result for a test that is about to run.
func NewTestResult(td TestDescription, env map[string]string) *TestResult {
	return &TestResult{
		ID:       td.ID,
		Title:    td.Title,
		Keywords: append([]string(nil), td.Keywords...),
		Sections: []*Section{},
		Start:    time.Now().UTC().Round(0),
		Env:      env,
	}
}

// AddSection appends the section of a completed action.
func (r *TestResult) AddSection(s *Section) error {
	if r.sealed {
		return ErrSealed
	}
	r.Sections = append(r.Sections, s)
	return nil
}

// Seal sets the overall status and end time. It can only happen once.
func (r *TestResult) Seal(status Status) error {
	if r.sealed {
		return ErrSealed
	}
	r.Status = status
	r.End = time.Now().UTC().Round(0)
	if r.Start.IsZero() {
		r.Start = r.End
	}
	r.sealed = true
	return nil
}

func (r *TestResult) Sealed() bool { return r.sealed }

// Elapsed is the wall-clock time between start and end of the test.
func (r *TestResult) Elapsed() time.Duration {
	if r.End.IsZero() {
		return 0
	}
	return r.End.Sub(r.Start)
}

func (r *TestResult) UnmarshalJSON(data []byte) error {
	type plain TestResult
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = TestResult(p)
	r.sealed = true
	return nil
}

// NotRunResult builds the sealed result of a test that never started.
func NotRunResult(td TestDescription, reason string) *TestResult {
	r := NewTestResult(td, nil)
	_ = r.Seal(NotRunStatus(reason))
	return r
}
