package domain

import (
	"strings"
)

// TestDescription is the identity of a test as loaded from the test suite.
// It is created once at load time and shared read-only by all workers.
type TestDescription struct {
	ID       string       `json:"id" yaml:"id"`             // Slash-separated path relative to the test root
	Dir      string       `json:"dir,omitempty" yaml:"-"`   // Directory holding the description file
	File     string       `json:"file,omitempty" yaml:"-"`  // Description file path
	Title    string       `json:"title,omitempty" yaml:"title,omitempty"`
	Keywords []string     `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Actions  []ActionSpec `json:"actions" yaml:"actions"`
}

// ActionSpec is one declared step of a test with its raw options and arguments.
type ActionSpec struct {
	Name    string   `json:"name" yaml:"name"`
	Options []string `json:"options,omitempty" yaml:"options,omitempty"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
}

// HasKeyword reports whether the test declares the keyword.
func (td TestDescription) HasKeyword(keyword string) bool {
	for _, k := range td.Keywords {
		if strings.EqualFold(k, keyword) {
			return true
		}
	}
	return false
}

// HasAction reports whether any declared action has the given name.
func (td TestDescription) HasAction(name string) bool {
	for _, a := range td.Actions {
		if strings.EqualFold(a.Name, name) {
			return true
		}
	}
	return false
}

// Option returns the value of a key=value option and whether it was present.
// A bare option such as "fail" is present with an empty value.
func (a ActionSpec) Option(key string) (string, bool) {
	for _, opt := range a.Options {
		k, v, _ := strings.Cut(opt, "=")
		if strings.EqualFold(strings.TrimSpace(k), key) {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// String renders the action in the one-line form "name/opt1/opt2 arg1 arg2".
func (a ActionSpec) String() string {
	var b strings.Builder
	b.WriteString(a.Name)
	for _, opt := range a.Options {
		b.WriteString("/")
		b.WriteString(opt)
	}
	for _, arg := range a.Args {
		b.WriteString(" ")
		b.WriteString(arg)
	}
	return b.String()
}
