package execution

import (
	"context"
	"sync"

	"regtest/internal/domain"
)

// workQueue hands out tests in input order to whichever worker asks first.
// Once closed it hands out nothing and the unstarted tests can be drained.
type workQueue struct {
	mu     sync.Mutex
	tests  []domain.TestDescription
	next   int
	closed bool
}

func newWorkQueue(tests []domain.TestDescription) *workQueue {
	return &workQueue{tests: tests}
}

// Pop returns the next test, or false when the queue is empty or closed.
func (q *workQueue) Pop() (domain.TestDescription, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.next >= len(q.tests) {
		return domain.TestDescription{}, false
	}
	td := q.tests[q.next]
	q.next++
	return td, true
}

// Close stops the queue.
func (q *workQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// Drain closes the queue and returns the tests that were never handed out.
func (q *workQueue) Drain() []domain.TestDescription {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	rest := q.tests[q.next:]
	q.next = len(q.tests)
	return rest
}

func (q *workQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tests) - q.next
}

// gate blocks workers between tests while the harness is paused.
type gate struct {
	mu sync.Mutex
	ch chan struct{} // nil while open
}

func (g *gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ch == nil {
		g.ch = make(chan struct{})
	}
}

func (g *gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ch != nil {
		close(g.ch)
		g.ch = nil
	}
}

func (g *gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ch != nil
}

// Wait returns once the gate is open, stop is closed or ctx is done.
func (g *gate) Wait(ctx context.Context, stop <-chan struct{}) {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case <-ch:
	case <-stop:
	case <-ctx.Done():
	}
}
