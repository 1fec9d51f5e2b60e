package discovery

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"regtest/internal/domain"
	"regtest/internal/process"
)

// descriptionFile is the on-disk form of a test description:
//
//	title: Concurrent map writes do not lose entries
//	keywords: [concurrency, slow]
//	actions:
//	  - build Writer.c
//	  - main/othervm/timeout=60 writer --threads 8
//	  - shell/fail check.sh "expected output"
type descriptionFile struct {
	Title    string   `yaml:"title"`
	Keywords []string `yaml:"keywords"`
	Actions  []string `yaml:"actions"`
}

// Parser reads test description files
type Parser struct{}

// NewParser creates a new Parser
func NewParser() *Parser {
	return &Parser{}
}

// Parse reads the description at path; root is the test root the ID is
// relative to.
func (p *Parser) Parse(root, path string) (domain.TestDescription, error) {
	id, err := TestID(root, path)
	if err != nil {
		return domain.TestDescription{}, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return domain.TestDescription{}, fmt.Errorf("error reading file %s: %w", path, err)
	}

	var file descriptionFile
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return domain.TestDescription{}, fmt.Errorf("%s: %w", id, err)
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return domain.TestDescription{}, err
	}
	td := domain.TestDescription{
		ID:    id,
		Dir:   dir,
		File:  path,
		Title: strings.TrimSpace(file.Title),
	}
	for i, line := range file.Actions {
		spec, err := ParseActionLine(line)
		if err != nil {
			return domain.TestDescription{}, fmt.Errorf("%s: action %d: %w", id, i+1, err)
		}
		td.Actions = append(td.Actions, spec)
	}
	td.Keywords = keywords(file.Keywords, td.Actions)
	return td, nil
}

// Load parses every file. Files that fail to parse are reported in errs and
// left out of the descriptions.
func (p *Parser) Load(root string, files []string) (tests []domain.TestDescription, errs []error) {
	for _, f := range files {
		td, err := p.Parse(root, f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		tests = append(tests, td)
	}
	return tests, errs
}

// ParseActionLine parses "name/opt/opt=value arg arg". Arguments follow
// shell quoting rules.
func ParseActionLine(line string) (domain.ActionSpec, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return domain.ActionSpec{}, errors.New("empty action")
	}
	head, rest := line, ""
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		head, rest = line[:i], line[i+1:]
	}
	parts := strings.Split(head, "/")
	if parts[0] == "" {
		return domain.ActionSpec{}, fmt.Errorf("missing action name in %q", line)
	}
	spec := domain.ActionSpec{Name: parts[0]}
	for _, opt := range parts[1:] {
		if opt == "" {
			return domain.ActionSpec{}, fmt.Errorf("empty option in %q", head)
		}
		spec.Options = append(spec.Options, opt)
	}
	args, err := process.SplitArgs(rest)
	if err != nil {
		return domain.ActionSpec{}, fmt.Errorf("bad arguments for %s: %w", spec.Name, err)
	}
	spec.Args = args
	return spec, nil
}

// keywords returns the declared keywords plus the implicit ones derived from
// the actions.
func keywords(declared []string, actions []domain.ActionSpec) []string {
	var out []string
	add := func(k string) {
		k = strings.TrimSpace(k)
		if k != "" && !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	for _, k := range declared {
		add(k)
	}
	for _, a := range actions {
		switch a.Name {
		case "shell", "ignore":
			add(a.Name)
		}
		if _, ok := a.Option("othervm"); ok {
			add("othervm")
		}
	}
	return out
}
