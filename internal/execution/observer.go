package execution

import (
	"time"

	"regtest/internal/domain"
)

// Observer receives harness lifecycle events. Events of one test arrive in
// order; events of different tests may interleave, so implementations must
// be safe for concurrent use.
type Observer interface {
	StartingRun(runID string, total int)
	StartingTest(td domain.TestDescription, workerID int)
	FinishedTest(res *domain.TestResult)
	StoppingRun()
	FinishedRun(stats domain.Stats, elapsed time.Duration)
	Error(testID string, err error)
}

// BaseObserver implements Observer with no-ops, for embedding.
type BaseObserver struct{}

func (BaseObserver) StartingRun(string, int)                  {}
func (BaseObserver) StartingTest(domain.TestDescription, int) {}
func (BaseObserver) FinishedTest(*domain.TestResult)          {}
func (BaseObserver) StoppingRun()                             {}
func (BaseObserver) FinishedRun(domain.Stats, time.Duration)  {}
func (BaseObserver) Error(string, error)                      {}

var _ Observer = BaseObserver{}

// stopOnFailure stops the harness after the first FAILED or ERROR test.
type stopOnFailure struct {
	BaseObserver
	h *Harness
}

// StopOnFailure returns an observer that stops h on the first test that
// did not pass.
func StopOnFailure(h *Harness) Observer {
	return &stopOnFailure{h: h}
}

func (o *stopOnFailure) FinishedTest(res *domain.TestResult) {
	if res.Status.IsFailed() || res.Status.IsError() {
		o.h.Stop()
	}
}
