package execution

import (
	"fmt"
	"strings"

	"regtest/internal/domain"
)

// RetainPolicy selects the final statuses whose scratch directory is kept.
type RetainPolicy map[domain.Kind]bool

// DefaultRetain keeps the scratch directory of failed and erroneous tests.
const DefaultRetain = "fail,error"

// ParseRetain parses a comma separated list of pass, fail, error, all and
// none.
func ParseRetain(s string) (RetainPolicy, error) {
	p := RetainPolicy{}
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "":
		case "pass":
			p[domain.Passed] = true
		case "fail":
			p[domain.Failed] = true
		case "error":
			p[domain.Error] = true
		case "all":
			p[domain.Passed], p[domain.Failed], p[domain.Error], p[domain.NotRun] = true, true, true, true
		case "none":
			clear(p)
		default:
			return nil, fmt.Errorf("unknown retain value %q (want pass, fail, error, all or none)", part)
		}
	}
	return p, nil
}

// Keep reports whether the scratch directory of a test ending in st is kept.
func (p RetainPolicy) Keep(st domain.Status) bool {
	return p[st.Kind]
}

func (p RetainPolicy) String() string {
	var parts []string
	for _, k := range []domain.Kind{domain.Passed, domain.Failed, domain.Error, domain.NotRun} {
		if p[k] {
			parts = append(parts, k.String())
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}
