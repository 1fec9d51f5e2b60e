package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regtest/internal/exitcodes"
)

func TestWorst(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Status
		expected Kind
	}{
		{"error beats failed", FailedStatus("f"), ErrorStatus("e"), Error},
		{"failed beats passed", PassedStatus("p"), FailedStatus("f"), Failed},
		{"passed beats not run", NotRunStatus("n"), PassedStatus("p"), Passed},
		{"error stays over passed", ErrorStatus("e"), PassedStatus("p"), Error},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Worst(tt.a, tt.b).Kind)
		})
	}

	t.Run("first reason wins on ties", func(t *testing.T) {
		got := Worst(FailedStatus("first"), FailedStatus("second"))
		assert.Equal(t, "first", got.Reason)
	})
}

func TestKindJSON(t *testing.T) {
	data, err := json.Marshal(ErrorWithCode("exit code 3", 3))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"ERROR","reason":"exit code 3","code":3}`, string(data))

	var s Status
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"not_run"}`), &s))
	assert.Equal(t, NotRun, s.Kind)

	assert.Error(t, json.Unmarshal([]byte(`{"kind":"BROKEN"}`), &s))
}

func TestTestResult_SealOnce(t *testing.T) {
	r := NewTestResult(TestDescription{ID: "a/b"}, nil)
	require.NoError(t, r.AddSection(&Section{Action: "main"}))
	require.NoError(t, r.Seal(PassedStatus("ok")))

	assert.ErrorIs(t, r.Seal(FailedStatus("again")), ErrSealed)
	assert.ErrorIs(t, r.AddSection(&Section{Action: "shell"}), ErrSealed)
	assert.Equal(t, Passed, r.Status.Kind)
	assert.Len(t, r.Sections, 1)
	assert.False(t, r.End.Before(r.Start))
}

func TestTestResult_DecodedIsSealed(t *testing.T) {
	r := NewTestResult(TestDescription{ID: "x"}, map[string]string{"GOOS": "linux"})
	s := NewSection(ActionSpec{Name: "main", Args: []string{"A"}}, "user specified")
	require.NoError(t, s.Seal(PassedStatus("Execution successful")))
	require.NoError(t, r.AddSection(s))
	require.NoError(t, r.Seal(PassedStatus("")))

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded TestResult
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.Sealed())
	assert.True(t, decoded.Sections[0].Sealed())
	assert.ErrorIs(t, decoded.AddSection(&Section{}), ErrSealed)
}

func TestStats(t *testing.T) {
	var s Stats
	for i := 0; i < 8; i++ {
		s.Add(PassedStatus(""))
	}
	s.Add(FailedStatus(""))
	s.Add(ErrorStatus(""))

	assert.Equal(t, 10, s.Total())
	assert.Equal(t, exitcodes.TestError, s.ExitCode())
	assert.Equal(t, "Test results: passed: 8; failed: 1; error: 1", s.Summary())

	assert.Equal(t, exitcodes.TestFailed, Stats{Passed: 1, Failed: 1}.ExitCode())
	assert.Equal(t, exitcodes.OK, Stats{Passed: 2, NotRun: 1}.ExitCode())
	assert.Equal(t, "Test results: no tests selected", Stats{}.Summary())
}

func TestActionSpec_Option(t *testing.T) {
	a := ActionSpec{Name: "main", Options: []string{"othervm", "timeout=30"}, Args: []string{"Hello", "x"}}

	v, ok := a.Option("timeout")
	assert.True(t, ok)
	assert.Equal(t, "30", v)

	_, ok = a.Option("othervm")
	assert.True(t, ok)

	_, ok = a.Option("fail")
	assert.False(t, ok)

	assert.Equal(t, "main/othervm/timeout=30 Hello x", a.String())
}
