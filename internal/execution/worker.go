package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"regtest/internal/domain"
)

// Batch runs tests on at most concurrency workers and returns once every
// test has a terminal status. Rejected and unstarted tests end as NOT_RUN.
// It reports true when no test failed or erred and no fault occurred. Only
// configuration errors and a closed store are returned as errors.
func (h *Harness) Batch(ctx context.Context, tests []domain.TestDescription, concurrency int) (bool, error) {
	if concurrency < 1 {
		return false, fmt.Errorf("%w: got %d", ErrBadConcurrency, concurrency)
	}
	if h.store == nil {
		return false, ErrNoStore
	}
	if h.runner == nil {
		return false, ErrNoRunner
	}
	if !h.active.CompareAndSwap(false, true) {
		return false, ErrBatchRunning
	}
	defer h.active.Store(false)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	h.mu.Lock()
	h.stats = domain.Stats{}
	h.running, h.peak, h.faults, h.fatal = 0, 0, 0, nil
	h.mu.Unlock()

	start := time.Now().UTC()
	h.log.Info("Starting run",
		zap.String("run_id", h.runID),
		zap.Int("tests", len(tests)),
		zap.Int("concurrency", concurrency))
	h.notify(func(o Observer) { o.StartingRun(h.runID, len(tests)) })

	accepted := h.applyFilter(tests)
	b := &batchState{
		queue:  newWorkQueue(accepted),
		cancel: cancel,
		stop:   make(chan struct{}),
	}
	h.mu.Lock()
	h.batch = b
	h.mu.Unlock()

	h.runWorkers(runCtx, b, concurrency)

	reason := "Test not run: harness stopped"
	if ctx.Err() != nil {
		reason = "Test not run: " + context.Cause(ctx).Error()
	}
	for _, td := range b.queue.Drain() {
		h.finishNotRun(td, reason, true)
	}

	h.mu.Lock()
	h.batch = nil
	stats, faults, fatal := h.stats, h.faults, h.fatal
	h.mu.Unlock()

	finish := time.Now().UTC()
	info := domain.LastRunInfo{
		RunID:      h.runID,
		ConfigName: h.configName,
		Start:      start,
		Finish:     finish,
		Stats:      stats,
	}
	if err := h.store.WriteLastRun(info); err != nil {
		h.log.Warn("Cannot record last run", zap.Error(err))
	}

	elapsed := finish.Sub(start)
	h.log.Info("Finished run",
		zap.String("run_id", h.runID),
		zap.String("summary", stats.Summary()),
		zap.Duration("elapsed", elapsed))
	h.notify(func(o Observer) { o.FinishedRun(stats, elapsed) })

	if fatal != nil {
		return false, fatal
	}
	return stats.Failed == 0 && stats.Error == 0 && faults == 0, nil
}

// applyFilter returns the accepted tests and records the rejected ones.
func (h *Harness) applyFilter(tests []domain.TestDescription) []domain.TestDescription {
	if h.filter == nil {
		return tests
	}
	accepted := make([]domain.TestDescription, 0, len(tests))
	for _, td := range tests {
		ok, reason := h.filter(td)
		if ok {
			accepted = append(accepted, td)
			continue
		}
		if reason == "" {
			reason = "Test not run: filtered out"
		}
		h.finishNotRun(td, reason, h.recordRejected)
	}
	return accepted
}

func (h *Harness) finishNotRun(td domain.TestDescription, reason string, persist bool) {
	res := domain.NotRunResult(td, reason)
	if persist {
		if err := h.store.Put(res); err != nil {
			h.fault(td.ID, fmt.Errorf("store result %s: %w", td.ID, err))
		}
	}
	h.mu.Lock()
	h.stats.Add(res.Status)
	h.mu.Unlock()
	h.notify(func(o Observer) { o.FinishedTest(res) })
}

// runWorkers starts the pool; each worker pulls tests until the queue is
// empty or closed.
func (h *Harness) runWorkers(ctx context.Context, b *batchState, concurrency int) {
	workers := min(concurrency, b.queue.Len())
	var wg sync.WaitGroup
	for i := 1; i <= workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for {
				h.gate.Wait(ctx, b.stop)
				if ctx.Err() != nil {
					return
				}
				td, ok := b.queue.Pop()
				if !ok {
					return
				}
				h.runOne(ctx, td, workerID)
			}
		}(i)
	}
	wg.Wait()
}

func (h *Harness) runOne(ctx context.Context, td domain.TestDescription, workerID int) {
	h.mu.Lock()
	h.running++
	if h.running > h.peak {
		h.peak = h.running
	}
	h.mu.Unlock()

	h.notify(func(o Observer) { o.StartingTest(td, workerID) })
	res, err := h.safeRun(ctx, td, workerID)

	h.mu.Lock()
	h.running--
	h.stats.Add(res.Status)
	h.mu.Unlock()

	if err != nil {
		h.fault(td.ID, err)
	}
	h.notify(func(o Observer) { o.FinishedTest(res) })
}

// safeRun keeps a misbehaving runner from taking the worker down.
func (h *Harness) safeRun(ctx context.Context, td domain.TestDescription, workerID int) (res *domain.TestResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("test runner panic: %v", p)
			res = nil
		}
		if res == nil {
			res = domain.NewTestResult(td, nil)
			res.WorkerID = workerID
			_ = res.Seal(domain.ErrorStatus("Internal harness error: no result"))
			if putErr := h.store.Put(res); putErr != nil && err == nil {
				err = fmt.Errorf("store result %s: %w", td.ID, putErr)
			}
		}
	}()
	return h.runner.Run(ctx, td, workerID)
}
