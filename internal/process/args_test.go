package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteArgs_RoundTrip(t *testing.T) {
	cases := [][]string{
		{},
		{"plain"},
		{""},
		{"", "", ""},
		{"a b", "c"},
		{"it's", `"quoted"`},
		{"$HOME", "`cmd`", "semi;colon"},
		{"tab\there", "new\nline"},
		{"back\\slash", "trailing\\"},
		{"\xff\xfe binary", "\x00nul"},
		{"-Dkey=value", "path/to/File.java", "x@y:z,1%2+3"},
		{"'", "''", "'''"},
	}
	for _, args := range cases {
		line := QuoteArgs(args)
		got, err := SplitArgs(line)
		require.NoError(t, err, "line %q", line)
		if len(args) == 0 {
			assert.Empty(t, got)
			continue
		}
		assert.Equal(t, args, got, "line %q", line)
	}
}

func TestQuoteArgs_LeavesSafeArgsBare(t *testing.T) {
	assert.Equal(t, "sh -c echo", QuoteArgs([]string{"sh", "-c", "echo"}))
	assert.Equal(t, "echo 'hello world' ''", QuoteArgs([]string{"echo", "hello world", ""}))
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{line: "  a   b  ", want: []string{"a", "b"}},
		{line: `"a \"b\" c"`, want: []string{`a "b" c`}},
		{line: `a\ b`, want: []string{"a b"}},
		{line: `x'y'"z"`, want: []string{"xyz"}},
		{line: `"C:\path"`, want: []string{`C:\path`}},
	}
	for _, tt := range tests {
		got, err := SplitArgs(tt.line)
		require.NoError(t, err, tt.line)
		assert.Equal(t, tt.want, got, tt.line)
	}

	for _, bad := range []string{"'open", `"open`, `trailing\`} {
		_, err := SplitArgs(bad)
		assert.Error(t, err, bad)
	}
}
