//go:build !windows

package execution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"regtest/internal/domain"
	"regtest/internal/exitcodes"
	"regtest/internal/storage"
)

type batchResult struct {
	ok  bool
	err error
}

func runAsync(h *Harness, tests []domain.TestDescription, concurrency int) <-chan batchResult {
	done := make(chan batchResult, 1)
	go func() {
		ok, err := h.Batch(context.Background(), tests, concurrency)
		done <- batchResult{ok: ok, err: err}
	}()
	return done
}

func await(t *testing.T, done <-chan batchResult) batchResult {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(20 * time.Second):
		t.Fatal("batch did not finish")
		return batchResult{}
	}
}

func TestBatch_MixedOutcomes(t *testing.T) {
	f := newFixture(t, ExecutorSettings{DefaultTimeout: 30 * time.Second}, RunnerOptions{})
	f.script(t, "fail.sh", "echo failing\nexit 1\n")

	var tests []domain.TestDescription
	for i := 0; i < 10; i++ {
		spec := mainSpec("Pass")
		switch i {
		case 3:
			spec = shellSpec("fail.sh")
		case 7:
			spec = mainSpec("Panic")
		}
		tests = append(tests, f.test(fmt.Sprintf("mix/T%d", i), spec))
	}

	rec := &recorder{}
	h := New(f.runner, f.store, WithObservers(rec), WithLogger(zap.NewNop()))
	ok, err := h.Batch(context.Background(), tests, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	stats := h.Stats()
	assert.Equal(t, domain.Stats{Passed: 8, Failed: 1, Error: 1}, stats)
	assert.Equal(t, exitcodes.TestError, stats.ExitCode())
	assert.LessOrEqual(t, h.PeakRunning(), 3)
	assert.Len(t, rec.finished, 10)
	assert.Equal(t, 1, rec.runs)

	failed, err := f.store.Get("mix/T3")
	require.NoError(t, err)
	assert.True(t, failed.Status.IsFailed())
	require.Len(t, failed.Sections, 1)
	assert.Equal(t, "failing\n", failed.Sections[0].Stdout)

	erred, err := f.store.Get("mix/T7")
	require.NoError(t, err)
	assert.True(t, erred.Status.IsError())
	assert.Contains(t, erred.Status.Reason, "boom")

	count := 0
	for r, err := range f.store.Iterate(nil) {
		require.NoError(t, err)
		assert.True(t, r.Sealed())
		count++
	}
	assert.Equal(t, 10, count)

	last, err := f.store.ReadLastRun()
	require.NoError(t, err)
	assert.Equal(t, h.RunID(), last.RunID)
	assert.Equal(t, stats, last.Stats)
}

func TestBatch_AllPass(t *testing.T) {
	f := newFixture(t, ExecutorSettings{}, RunnerOptions{})
	tests := []domain.TestDescription{f.test("ok/A", mainSpec("Pass")), f.test("ok/B", mainSpec("Pass"))}

	h := New(f.runner, f.store)
	ok, err := h.Batch(context.Background(), tests, 8)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, exitcodes.OK, h.Stats().ExitCode())
}

func TestBatch_PeakConcurrency(t *testing.T) {
	f := newFixture(t, ExecutorSettings{}, RunnerOptions{})
	var current, peak atomic.Int32
	f.entries.Register("Busy", func(context.Context, []string, []string, io.Writer, io.Writer) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		return nil
	})

	var tests []domain.TestDescription
	for i := 0; i < 20; i++ {
		tests = append(tests, f.test(fmt.Sprintf("busy/T%02d", i), mainSpec("Busy")))
	}
	for _, concurrency := range []int{1, 4} {
		peak.Store(0)
		h := New(f.runner, f.store)
		ok, err := h.Batch(context.Background(), tests, concurrency)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.LessOrEqual(t, int(peak.Load()), concurrency)
		assert.LessOrEqual(t, h.PeakRunning(), concurrency)
		assert.Equal(t, 20, h.Stats().Passed)
	}
}

func TestBatch_StopMidRun(t *testing.T) {
	f := newFixture(t, ExecutorSettings{}, RunnerOptions{})
	release := make([]chan struct{}, 10)
	for i := range release {
		release[i] = make(chan struct{})
	}
	f.entries.Register("Block", func(_ context.Context, args, _ []string, _, _ io.Writer) error {
		i, _ := strconv.Atoi(args[0])
		<-release[i]
		return nil
	})

	var tests []domain.TestDescription
	for i := 0; i < 10; i++ {
		tests = append(tests, f.test(fmt.Sprintf("stop/T%d", i), mainSpec("Block", strconv.Itoa(i))))
	}

	rec := &recorder{}
	h := New(f.runner, f.store, WithObservers(rec))
	rec.onStart = func(n int) {
		if n == 4 {
			h.Stop()
		}
	}
	done := runAsync(h, tests, 3)

	require.Eventually(t, func() bool { return rec.startedCount() == 3 }, 5*time.Second, 5*time.Millisecond)
	close(release[0])
	require.Eventually(t, func() bool { return rec.stoppingCount() == 1 }, 5*time.Second, 5*time.Millisecond)
	for i := 1; i < len(release); i++ {
		close(release[i])
	}

	r := await(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, 4, rec.startedCount())
	assert.Equal(t, domain.Stats{Passed: 4, NotRun: 6}, h.Stats())

	for i := 4; i < 10; i++ {
		res, err := f.store.Get(fmt.Sprintf("stop/T%d", i))
		require.NoError(t, err)
		assert.True(t, res.Status.IsNotRun())
		assert.Contains(t, res.Status.Reason, "harness stopped")
	}
}

func TestBatch_StopCancelsRunning(t *testing.T) {
	f := newFixture(t, ExecutorSettings{KillGrace: time.Second}, RunnerOptions{})
	entered := make(chan struct{}, 3)
	f.entries.Register("Wait", func(ctx context.Context, _, _ []string, _, _ io.Writer) error {
		entered <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	})
	tests := []domain.TestDescription{
		f.test("cancel/A", mainSpec("Wait")),
		f.test("cancel/B", mainSpec("Wait")),
		f.test("cancel/C", mainSpec("Wait")),
	}

	h := New(f.runner, f.store, WithStopPolicy(StopCancel))
	done := runAsync(h, tests, 2)
	for i := 0; i < 2; i++ {
		select {
		case <-entered:
		case <-time.After(5 * time.Second):
			t.Fatal("tests did not start")
		}
	}
	h.Stop()

	r := await(t, done)
	require.NoError(t, r.err)
	assert.False(t, r.ok)
	assert.Equal(t, domain.Stats{Error: 2, NotRun: 1}, h.Stats())

	a, err := f.store.Get("cancel/A")
	require.NoError(t, err)
	assert.Equal(t, "Action cancelled", a.Status.Reason)
}

func TestBatch_PauseResume(t *testing.T) {
	f := newFixture(t, ExecutorSettings{}, RunnerOptions{})
	tests := []domain.TestDescription{f.test("pause/A", mainSpec("Pass"))}

	rec := &recorder{}
	h := New(f.runner, f.store, WithObservers(rec))
	h.Pause()
	assert.True(t, h.Paused())
	done := runAsync(h, tests, 1)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, rec.startedCount())

	h.Resume()
	r := await(t, done)
	require.NoError(t, r.err)
	assert.True(t, r.ok)
	assert.Equal(t, 1, rec.startedCount())
}

func TestBatch_ConfigurationErrors(t *testing.T) {
	f := newFixture(t, ExecutorSettings{}, RunnerOptions{})
	tests := []domain.TestDescription{f.test("cfg/A", mainSpec("Pass"))}

	rec := &recorder{}
	h := New(f.runner, f.store, WithObservers(rec))
	_, err := h.Batch(context.Background(), tests, 0)
	assert.ErrorIs(t, err, ErrBadConcurrency)
	assert.Zero(t, rec.runs)
	_, err = f.store.Get("cfg/A")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = New(f.runner, nil).Batch(context.Background(), tests, 1)
	assert.ErrorIs(t, err, ErrNoStore)

	_, err = New(nil, f.store).Batch(context.Background(), tests, 1)
	assert.ErrorIs(t, err, ErrNoRunner)
}

func TestBatch_FilterRecordsRejected(t *testing.T) {
	f := newFixture(t, ExecutorSettings{}, RunnerOptions{})
	tests := []domain.TestDescription{
		f.test("flt/Keep", mainSpec("Pass")),
		f.test("flt/Drop", mainSpec("Pass")),
	}
	filter := func(td domain.TestDescription) (bool, string) {
		if td.ID == "flt/Drop" {
			return false, "Test not run: excluded"
		}
		return true, ""
	}

	h := New(f.runner, f.store, WithFilter(filter), WithRecordRejected(true))
	ok, err := h.Batch(context.Background(), tests, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.Stats{Passed: 1, NotRun: 1}, h.Stats())

	dropped, err := f.store.Get("flt/Drop")
	require.NoError(t, err)
	assert.True(t, dropped.Status.IsNotRun())
	assert.Equal(t, "Test not run: excluded", dropped.Status.Reason)
	assert.Empty(t, dropped.Sections)
}

func TestBatch_ClosedStoreIsFatal(t *testing.T) {
	f := newFixture(t, ExecutorSettings{}, RunnerOptions{})
	tests := []domain.TestDescription{f.test("closed/A", mainSpec("Pass")), f.test("closed/B", mainSpec("Pass"))}
	require.NoError(t, f.store.Close())

	rec := &recorder{}
	h := New(f.runner, f.store, WithObservers(rec))
	ok, err := h.Batch(context.Background(), tests, 1)
	assert.False(t, ok)
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.NotEmpty(t, rec.errs)
	assert.Equal(t, 2, h.Stats().Total())
}

func TestBatch_StopOnFailure(t *testing.T) {
	f := newFixture(t, ExecutorSettings{}, RunnerOptions{})
	tests := []domain.TestDescription{
		f.test("ff/A", mainSpec("Fail")),
		f.test("ff/B", mainSpec("Pass")),
		f.test("ff/C", mainSpec("Pass")),
	}
	h := New(f.runner, f.store)
	h.AddObserver(StopOnFailure(h))
	ok, err := h.Batch(context.Background(), tests, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, domain.Stats{Failed: 1, NotRun: 2}, h.Stats())
}

type panickyObserver struct{ BaseObserver }

func (panickyObserver) FinishedTest(*domain.TestResult) { panic("observer bug") }

func TestBatch_ObserverPanicIsReported(t *testing.T) {
	f := newFixture(t, ExecutorSettings{}, RunnerOptions{})
	rec := &recorder{}
	h := New(f.runner, f.store, WithObservers(panickyObserver{}, rec))
	ok, err := h.Batch(context.Background(), []domain.TestDescription{f.test("obs/A", mainSpec("Pass"))}, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, rec.errs, 1)
	assert.Contains(t, rec.errs[0].Error(), "observer bug")
	assert.Len(t, rec.finished, 1)
}

type nilRunner struct{}

func (nilRunner) Run(context.Context, domain.TestDescription, int) (*domain.TestResult, error) {
	return nil, errors.New("runner lost the result")
}

func TestBatch_RunnerWithoutResult(t *testing.T) {
	f := newFixture(t, ExecutorSettings{}, RunnerOptions{})
	h := New(nilRunner{}, f.store)
	ok, err := h.Batch(context.Background(), []domain.TestDescription{f.test("nil/A", mainSpec("Pass"))}, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, domain.Stats{Error: 1}, h.Stats())
	assert.Equal(t, 1, h.Faults())

	res, err := f.store.Get("nil/A")
	require.NoError(t, err)
	assert.True(t, res.Status.IsError())
}

func TestParseStopPolicy(t *testing.T) {
	p, err := ParseStopPolicy("")
	require.NoError(t, err)
	assert.Equal(t, StopFinish, p)
	p, err = ParseStopPolicy("Cancel")
	require.NoError(t, err)
	assert.Equal(t, StopCancel, p)
	_, err = ParseStopPolicy("abort")
	assert.Error(t, err)
}
