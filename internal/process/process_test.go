//go:build !windows

package process

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"regtest/internal/domain"
)

func shell(script string) Command {
	return NewCommand("/bin/sh", "-c", script)
}

func TestRun_ExitMapping(t *testing.T) {
	c := NewController(2*time.Second, zaptest.NewLogger(t))

	tests := []struct {
		name   string
		script string
		pass   int
		fail   int
		want   domain.Kind
		code   int
	}{
		{name: "zero passes", script: "exit 0", pass: 0, fail: 1, want: domain.Passed},
		{name: "one fails", script: "exit 1", pass: 0, fail: 1, want: domain.Failed},
		{name: "other errors", script: "exit 3", pass: 0, fail: 1, want: domain.Error, code: 3},
		{name: "custom pass code", script: "exit 95", pass: 95, fail: 97, want: domain.Passed},
		{name: "custom fail code", script: "exit 97", pass: 95, fail: 97, want: domain.Failed},
		{name: "zero is error with custom codes", script: "exit 0", pass: 95, fail: 97, want: domain.Error},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := shell(tt.script)
			cmd.PassCode, cmd.FailCode = tt.pass, tt.fail
			st := c.Run(context.Background(), cmd, nil, nil)
			assert.Equal(t, tt.want, st.Kind, st.Reason)
			if tt.code != 0 {
				require.NotNil(t, st.Code)
				assert.Equal(t, tt.code, *st.Code)
				assert.Contains(t, st.Reason, "exit code: 3")
			}
		})
	}
}

func TestSpawn_CapturesStreams(t *testing.T) {
	c := NewController(time.Second, nil)
	var out, errOut bytes.Buffer
	h, err := c.Spawn(shell("echo hello; echo oops >&2"), &out, &errOut)
	require.NoError(t, err)

	es, err := c.WaitWithTimeout(h, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, es.Code)
	assert.Equal(t, "hello\n", out.String())
	assert.Equal(t, "oops\n", errOut.String())
	assert.Equal(t, 0, c.Running())
}

func TestSpawn_LargeOutputDoesNotDeadlock(t *testing.T) {
	c := NewController(time.Second, nil)
	var out bytes.Buffer
	h, err := c.Spawn(shell("head -c 1048576 /dev/zero"), &out, nil)
	require.NoError(t, err)

	_, err = c.WaitWithTimeout(h, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1048576, out.Len())
}

func TestWaitWithTimeout_ThenKill(t *testing.T) {
	c := NewController(2*time.Second, zaptest.NewLogger(t))
	h, err := c.Spawn(shell("exec sleep 30"), nil, nil)
	require.NoError(t, err)

	_, err = c.WaitWithTimeout(h, 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimedOut)

	start := time.Now()
	require.NoError(t, c.Kill(h))
	assert.Less(t, time.Since(start), c.Grace())

	select {
	case <-h.Done():
	default:
		t.Fatal("process not reaped after Kill")
	}
	es, err := h.Result()
	require.NoError(t, err)
	assert.True(t, es.Signaled)
	assert.Equal(t, "terminated", es.Signal)
}

func TestKill_EscalatesWhenTermIgnored(t *testing.T) {
	c := NewController(time.Second, zaptest.NewLogger(t))
	out := &lockedBuffer{}
	h, err := c.Spawn(shell(`trap "" TERM; echo ready; while :; do sleep 0.05; done`), out, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "ready") },
		5*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Kill(h))
	es, err := h.Result()
	require.NoError(t, err)
	assert.True(t, es.Signaled)
	assert.Equal(t, "killed", es.Signal)
}

func TestRun_CancelKillsProcessGroup(t *testing.T) {
	c := NewController(2*time.Second, zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	// the backgrounded sleep keeps the pipes open until the group dies
	start := time.Now()
	st := c.Run(ctx, shell("sleep 30 & wait"), nil, nil)
	assert.True(t, st.IsError())
	assert.Contains(t, st.Reason, "Process killed")
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 0, c.Running())
}

func TestRun_StartFailure(t *testing.T) {
	c := NewController(time.Second, nil)
	st := c.Run(context.Background(), NewCommand("/nonexistent/binary"), nil, nil)
	assert.True(t, st.IsError())
	assert.Contains(t, st.Reason, "Failed to start process")
}

func TestMapExit(t *testing.T) {
	st := MapExit(ExitStatus{Code: 137, Signal: "killed", Signaled: true}, 0, 1)
	assert.True(t, st.IsError())
	require.NotNil(t, st.Code)
	assert.Equal(t, 137, *st.Code)
	assert.Contains(t, st.Reason, "signal: killed")

	assert.True(t, MapExit(ExitStatus{Code: 0}, 0, 1).IsPassed())
	assert.True(t, MapExit(ExitStatus{Code: 1}, 0, 1).IsFailed())
}

// lockedBuffer can be read while the drain goroutine is still writing.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRun_ExitedChildWithBackgroundDescendant(t *testing.T) {
	c := NewController(2*time.Second, zaptest.NewLogger(t))
	var out bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	start := time.Now()
	st := c.Run(ctx, shell("sleep 5 & echo done; exit 0"), &out, nil)

	assert.Equal(t, domain.Passed, st.Kind, st.Reason)
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Equal(t, "done\n", out.String())
	assert.Zero(t, c.Running())

	var fails bytes.Buffer
	st = c.Run(ctx, shell("sleep 5 & echo broken >&2; exit 1"), nil, &fails)
	assert.Equal(t, domain.Failed, st.Kind, st.Reason)
	assert.Equal(t, "broken\n", fails.String())
}
