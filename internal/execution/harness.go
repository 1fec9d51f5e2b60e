package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"regtest/internal/domain"
	"regtest/internal/storage"
)

var (
	// ErrBadConcurrency is returned by Batch for a concurrency below one.
	ErrBadConcurrency = errors.New("concurrency must be at least 1")
	// ErrNoStore is returned by Batch when the harness has no result store.
	ErrNoStore = errors.New("no result store configured")
	// ErrNoRunner is returned by Batch when the harness has no test runner.
	ErrNoRunner = errors.New("no test runner configured")
	// ErrBatchRunning is returned by Batch while another batch is active.
	ErrBatchRunning = errors.New("a batch is already running")
	// ErrStopped is the cancellation cause of tests cancelled by Stop.
	ErrStopped = errors.New("harness stopped")
)

// StopPolicy decides what Stop does with tests that are already running.
type StopPolicy string

const (
	// StopFinish lets running tests complete.
	StopFinish StopPolicy = "finish"
	// StopCancel cancels running tests; they end as ERROR.
	StopCancel StopPolicy = "cancel"
)

func ParseStopPolicy(s string) (StopPolicy, error) {
	switch p := StopPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case StopFinish, StopCancel:
		return p, nil
	case "":
		return StopFinish, nil
	default:
		return "", fmt.Errorf("unknown stop policy %q (want finish or cancel)", s)
	}
}

// Runner runs one test and returns its sealed, stored result.
type Runner interface {
	Run(ctx context.Context, td domain.TestDescription, workerID int) (*domain.TestResult, error)
}

// Filter decides whether a test is run; reason explains a rejection.
type Filter func(td domain.TestDescription) (ok bool, reason string)

// Option configures a Harness.
type Option func(*Harness)

func WithFilter(f Filter) Option { return func(h *Harness) { h.filter = f } }

// WithRecordRejected stores a NOT_RUN result for every filtered-out test.
func WithRecordRejected(record bool) Option { return func(h *Harness) { h.recordRejected = record } }

func WithStopPolicy(p StopPolicy) Option { return func(h *Harness) { h.stopPolicy = p } }

func WithLogger(l *zap.Logger) Option { return func(h *Harness) { h.log = l } }

func WithObservers(obs ...Observer) Option {
	return func(h *Harness) { h.observers = append(h.observers, obs...) }
}

func WithRunID(id string) Option { return func(h *Harness) { h.runID = id } }

func WithConfigName(name string) Option { return func(h *Harness) { h.configName = name } }

// Harness runs batches of tests on a bounded pool of workers.
type Harness struct {
	runner         Runner
	store          storage.Store
	filter         Filter
	recordRejected bool
	stopPolicy     StopPolicy
	runID          string
	configName     string
	log            *zap.Logger

	obsMu     sync.RWMutex
	observers []Observer

	gate   gate
	active atomic.Bool

	mu      sync.Mutex
	batch   *batchState
	stats   domain.Stats
	running int
	peak    int
	faults  int
	fatal   error
}

type batchState struct {
	queue    *workQueue
	cancel   context.CancelCauseFunc
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a harness. The runner and store are checked by Batch.
func New(runner Runner, store storage.Store, opts ...Option) *Harness {
	h := &Harness{
		runner:     runner,
		store:      store,
		stopPolicy: StopFinish,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	h.log = h.log.With(zap.String("component", "harness"))
	if h.runID == "" {
		h.runID = uuid.NewString()
	}
	return h
}

// RunID identifies the batches of this harness in results and logs.
func (h *Harness) RunID() string { return h.runID }

// AddObserver registers an observer for subsequent events.
func (h *Harness) AddObserver(o Observer) {
	h.obsMu.Lock()
	defer h.obsMu.Unlock()
	h.observers = append(h.observers, o)
}

// Stop prevents further tests from starting. Running tests finish or are
// cancelled according to the stop policy. Stop is a no-op outside a batch.
func (h *Harness) Stop() {
	h.stop(h.stopPolicy == StopCancel)
}

func (h *Harness) stop(cancelRunning bool) {
	h.mu.Lock()
	b := h.batch
	h.mu.Unlock()
	if b == nil {
		return
	}
	b.stopOnce.Do(func() {
		h.log.Info("Stopping run", zap.Bool("cancel_running", cancelRunning))
		b.queue.Close()
		close(b.stop)
		h.notify(func(o Observer) { o.StoppingRun() })
	})
	if cancelRunning {
		b.cancel(ErrStopped)
	}
}

// Pause keeps workers from starting new tests until Resume.
func (h *Harness) Pause() { h.gate.Pause() }

func (h *Harness) Resume() { h.gate.Resume() }

func (h *Harness) Paused() bool { return h.gate.Paused() }

// Stats returns the counts of the current or last batch.
func (h *Harness) Stats() domain.Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// PeakRunning is the highest number of tests that ran at the same time in
// the current or last batch.
func (h *Harness) PeakRunning() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peak
}

// Running is the number of tests running right now.
func (h *Harness) Running() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Faults is the number of errors reported to observers in the current or
// last batch.
func (h *Harness) Faults() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.faults
}

// fault reports an error that did not become a test status. A closed store
// is fatal: the batch stops and Batch returns the error.
func (h *Harness) fault(testID string, err error) {
	fatal := errors.Is(err, storage.ErrClosed)
	h.mu.Lock()
	h.faults++
	if fatal && h.fatal == nil {
		h.fatal = err
	}
	h.mu.Unlock()

	h.log.Error("Harness fault", zap.String("test", testID), zap.Error(err))
	h.notify(func(o Observer) { o.Error(testID, err) })
	if fatal {
		h.stop(true)
	}
}

func (h *Harness) observerList() []Observer {
	h.obsMu.RLock()
	defer h.obsMu.RUnlock()
	return append([]Observer(nil), h.observers...)
}

// notify calls fn on every observer. A panicking observer is logged and
// reported to the others through Error.
func (h *Harness) notify(fn func(Observer)) {
	list := h.observerList()
	for i, o := range list {
		if p := callObserver(o, fn); p != nil {
			err := fmt.Errorf("observer panic: %v", p)
			h.log.Error("Observer panicked", zap.Error(err))
			for j, other := range list {
				if j == i {
					continue
				}
				if p := callObserver(other, func(o Observer) { o.Error("", err) }); p != nil {
					h.log.Error("Observer panicked while reporting an error", zap.Any("panic", p))
				}
			}
		}
	}
}

func callObserver(o Observer, fn func(Observer)) (panicked any) {
	defer func() {
		panicked = recover()
	}()
	fn(o)
	return nil
}
