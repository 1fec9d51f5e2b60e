package execution

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"regtest/internal/action"
	"regtest/internal/domain"
)

const (
	DefaultActionTimeout = 120 * time.Second
	DefaultKillGrace     = 10 * time.Second
)

var errActionTimeout = errors.New("action timed out")

// ExecutorSettings controls timeouts and output capture of actions.
// DefaultTimeout applies to actions that declare no timeout and
// TimeoutFactor scales every action timeout.
type ExecutorSettings struct {
	DefaultTimeout time.Duration
	TimeoutFactor  float64
	KillGrace      time.Duration
	MaxOutputBytes int
}

// ActionRunner executes one action of a test with a timeout, recovers its
// panics and records its section in the test result.
type ActionRunner struct {
	settings ExecutorSettings
	log      *zap.Logger
}

func NewActionRunner(settings ExecutorSettings, log *zap.Logger) *ActionRunner {
	if settings.DefaultTimeout <= 0 {
		settings.DefaultTimeout = DefaultActionTimeout
	}
	if settings.TimeoutFactor <= 0 {
		settings.TimeoutFactor = 1
	}
	if settings.KillGrace <= 0 {
		settings.KillGrace = DefaultKillGrace
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ActionRunner{settings: settings, log: log.With(zap.String("component", "executor"))}
}

// TimeoutFor returns the effective timeout of an action.
func (r *ActionRunner) TimeoutFor(a action.Action) time.Duration {
	base := a.Timeout()
	if base <= 0 {
		base = r.settings.DefaultTimeout
	}
	return time.Duration(float64(base) * r.settings.TimeoutFactor)
}

// Run executes a and appends its section to res. The timeout is always
// active: when it fires, or ctx is cancelled, the action gets the kill grace
// period to stop and is abandoned after that. Output is captured in buffers
// private to this call.
func (r *ActionRunner) Run(ctx context.Context, a action.Action, reason string, res *domain.TestResult, rt action.Runtime) domain.Status {
	section := domain.NewSection(a.Spec(), reason)
	stdout := newCaptureBuffer(r.settings.MaxOutputBytes)
	stderr := newCaptureBuffer(r.settings.MaxOutputBytes)
	alog := &action.Log{}
	rt.Stdout, rt.Stderr, rt.Log = stdout, stderr, alog

	timeout := r.TimeoutFor(a)
	actx, cancel := context.WithTimeoutCause(ctx, timeout, errActionTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan domain.Status, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.log.Error("Action panicked",
					zap.String("test", rt.TestID),
					zap.String("action", a.Name()),
					zap.Any("panic", p))
				fmt.Fprintf(stderr, "panic: %v\n\n%s", p, debug.Stack())
				done <- domain.ErrorStatus(fmt.Sprintf("Unexpected exception: %v", p))
			}
		}()
		done <- a.Run(actx, &rt)
	}()

	var st domain.Status
	select {
	case st = <-done:
		if actx.Err() != nil && !st.IsPassed() {
			st = r.interrupted(actx, timeout)
		}
	case <-actx.Done():
		wait := r.settings.KillGrace
		if a.Mode() == action.Isolated {
			// the process controller spends up to one grace period killing
			wait += r.settings.KillGrace
		}
		timer := time.NewTimer(wait)
		select {
		case <-done:
			st = r.interrupted(actx, timeout)
		case <-timer.C:
			stdout.Detach()
			stderr.Detach()
			r.log.Warn("Action did not stop, abandoning it",
				zap.String("test", rt.TestID),
				zap.String("action", a.Name()),
				zap.Duration("grace", wait))
			st = r.interrupted(actx, timeout)
			st.Reason += " (action abandoned)"
		}
		timer.Stop()
	}
	elapsed := time.Since(start)

	if a.ExpectFailure() {
		st = invertExpected(st)
	}

	section.CommandLine = alog.CommandLine()
	section.Messages = append(alog.Messages(),
		"reason: "+reason,
		fmt.Sprintf("elapsed time (seconds): %.3f", elapsed.Seconds()))
	section.Stdout = stdout.String()
	section.Stderr = stderr.String()
	section.Elapsed = elapsed
	_ = section.Seal(st)
	if err := res.AddSection(section); err != nil {
		r.log.Error("Cannot record section", zap.String("test", rt.TestID), zap.Error(err))
	}
	return st
}

func (r *ActionRunner) interrupted(actx context.Context, timeout time.Duration) domain.Status {
	if errors.Is(context.Cause(actx), errActionTimeout) {
		return domain.ErrorStatus(fmt.Sprintf("Action timed out after %s", timeout))
	}
	return domain.ErrorStatus("Action cancelled")
}

// invertExpected applies an expected failure: PASSED and FAILED swap, ERROR
// stays.
func invertExpected(st domain.Status) domain.Status {
	switch st.Kind {
	case domain.Passed:
		return domain.FailedStatus("Execution passed unexpectedly: " + st.Reason)
	case domain.Failed:
		return domain.PassedStatus("Execution failed as expected: " + st.Reason)
	default:
		return st
	}
}
