package domain

import (
	"fmt"
	"strings"
)

// Kind is the outcome class of a test or action. The numeric order is the
// severity order used for aggregation: NotRun < Passed < Failed < Error.
type Kind int

const (
	NotRun Kind = iota
	Passed
	Failed
	Error
)

var kindNames = [...]string{
	NotRun: "NOT_RUN",
	Passed: "PASSED",
	Failed: "FAILED",
	Error:  "ERROR",
}

func (k Kind) String() string {
	if k < NotRun || k > Error {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// MarshalText encodes the kind by name so stored results stay readable.
func (k Kind) MarshalText() ([]byte, error) {
	if k < NotRun || k > Error {
		return nil, fmt.Errorf("invalid status kind %d", int(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText accepts the names produced by MarshalText, case-insensitively.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind parses a kind name such as "FAILED" or "not_run".
func ParseKind(s string) (Kind, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.ReplaceAll(name, " ", "_")
	for i, n := range kindNames {
		if n == name {
			return Kind(i), nil
		}
	}
	return NotRun, fmt.Errorf("unknown status kind %q", s)
}

// Status is the outcome of a test or of one of its actions.
type Status struct {
	Kind   Kind   `json:"kind"`
	Reason string `json:"reason,omitempty"`
	// Code is the exit or signal code of an external process, when known.
	Code *int `json:"code,omitempty"`
}

func PassedStatus(reason string) Status { return Status{Kind: Passed, Reason: reason} }
func FailedStatus(reason string) Status { return Status{Kind: Failed, Reason: reason} }
func ErrorStatus(reason string) Status  { return Status{Kind: Error, Reason: reason} }
func NotRunStatus(reason string) Status { return Status{Kind: NotRun, Reason: reason} }

// ErrorWithCode builds an ERROR status that records the process code.
func ErrorWithCode(reason string, code int) Status {
	c := code
	return Status{Kind: Error, Reason: reason, Code: &c}
}

func (s Status) IsPassed() bool { return s.Kind == Passed }
func (s Status) IsFailed() bool { return s.Kind == Failed }
func (s Status) IsError() bool  { return s.Kind == Error }
func (s Status) IsNotRun() bool { return s.Kind == NotRun }

func (s Status) String() string {
	if s.Reason == "" {
		return s.Kind.String()
	}
	return s.Kind.String() + ": " + s.Reason
}

// Worst returns the more severe of a and b. On equal severity a wins, so the
// first reason seen is the one that is kept.
func Worst(a, b Status) Status {
	if b.Kind > a.Kind {
		return b
	}
	return a
}
