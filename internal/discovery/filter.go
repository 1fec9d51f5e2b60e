package discovery

import (
	"path"
	"strings"

	"regtest/internal/domain"
	"regtest/internal/execution"
)

// Filter filters tests by name pattern
type Filter struct{}

// NewFilter creates a new Filter
func NewFilter() *Filter {
	return &Filter{}
}

// FilterByName filters tests by name pattern using wildcard matching.
// Supports patterns like "*Writer" or "*concurrent*"; the pattern is tried
// against the full ID and its last element.
func (f *Filter) FilterByName(tests []domain.TestDescription, pattern string) []domain.TestDescription {
	if pattern == "" {
		return tests
	}

	var filtered []domain.TestDescription
	for _, td := range tests {
		if MatchName(td.ID, pattern) {
			filtered = append(filtered, td)
		}
	}
	return filtered
}

// MatchName reports whether a test ID matches a name pattern.
func MatchName(id, pattern string) bool {
	for _, name := range []string{id, path.Base(id)} {
		// Try to match using path.Match (supports * and ? wildcards)
		if matched, err := path.Match(pattern, name); err == nil && matched {
			return true
		}
	}
	testName := path.Base(id)

	// If pattern contains wildcards but path.Match didn't match,
	// try a more flexible substring match for patterns like "*Payment*"
	if strings.Contains(pattern, "*") {
		hasNonEmptyPart := false
		for _, part := range strings.Split(pattern, "*") {
			if part == "" {
				continue
			}
			hasNonEmptyPart = true
			if !strings.Contains(id, part) {
				return false
			}
		}
		return hasNonEmptyPart
	}

	// If no wildcards, do a simple contains check
	if !strings.Contains(pattern, "?") {
		return strings.Contains(testName, pattern) || strings.HasPrefix(id, strings.TrimSuffix(pattern, "/")+"/")
	}
	return false
}

// FilterByIDs keeps the tests whose ID is in ids, or lies under an ID used
// as a directory prefix.
func (f *Filter) FilterByIDs(tests []domain.TestDescription, ids []string) []domain.TestDescription {
	if len(ids) == 0 {
		return tests
	}
	var filtered []domain.TestDescription
	for _, td := range tests {
		for _, id := range ids {
			id = strings.TrimSuffix(strings.TrimSuffix(id, DescriptionSuffix), "/")
			if td.ID == id || strings.HasPrefix(td.ID, id+"/") {
				filtered = append(filtered, td)
				break
			}
		}
	}
	return filtered
}

// Selection describes the tests a batch accepts. Rejected tests become
// NOT_RUN results with the reason returned by the harness filter.
type Selection struct {
	Keywords    KeywordExpr
	Exclude     ExcludeList
	IgnoreQuiet bool
}

// HarnessFilter turns the selection into a filter for execution.WithFilter.
func (s Selection) HarnessFilter() execution.Filter {
	return func(td domain.TestDescription) (bool, string) {
		if reason, excluded := s.Exclude.Excluded(td.ID); excluded {
			return false, reason
		}
		if s.Keywords != nil && !s.Keywords.Match(td) {
			return false, "Test not run: keywords do not match"
		}
		if s.IgnoreQuiet && td.HasAction("ignore") {
			return false, "Test not run: @ignore"
		}
		return true, ""
	}
}
