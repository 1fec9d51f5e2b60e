package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"regtest/internal/domain"
)

const (
	DefaultPassCode = 0
	DefaultFailCode = 1
	// DefaultGrace bounds how long Kill waits for a child to disappear.
	DefaultGrace = 10 * time.Second
	// DefaultDrainDelay bounds how long output is read after the child exits.
	DefaultDrainDelay = time.Second
)

var (
	// ErrTimedOut is returned by WaitWithTimeout when the child outlives the timeout.
	ErrTimedOut = errors.New("process timed out")
	// ErrKillTimeout is returned by Kill when the child is still alive after the grace period.
	ErrKillTimeout = errors.New("process did not exit within kill grace period")
)

// Command describes one child process. Env holds KEY=VALUE pairs; a nil Env
// inherits the harness environment.
type Command struct {
	Path     string
	Args     []string
	Env      []string
	Dir      string
	PassCode int
	FailCode int
}

// NewCommand returns a command with the default pass and fail exit codes.
func NewCommand(path string, args ...string) Command {
	return Command{Path: path, Args: args, PassCode: DefaultPassCode, FailCode: DefaultFailCode}
}

// String renders the command line in a form SplitArgs can decode.
func (c Command) String() string {
	return QuoteArgs(append([]string{c.Path}, c.Args...))
}

// Handle is a running child process.
type Handle struct {
	cmd    *exec.Cmd
	pipes  []io.ReadCloser
	done   chan struct{}
	status ExitStatus
	err    error

	killMu    sync.Mutex
	closePipe sync.Once
}

// Pid returns the operating system process id of the child.
func (h *Handle) Pid() int { return h.cmd.Process.Pid }

// Done is closed once the child is reaped and its output is drained or
// abandoned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the exit status; it is only meaningful after Done is closed.
func (h *Handle) Result() (ExitStatus, error) { return h.status, h.err }

func (h *Handle) closePipes() {
	h.closePipe.Do(func() {
		for _, p := range h.pipes {
			_ = p.Close()
		}
	})
}

// Controller spawns, waits for and terminates child processes.
type Controller struct {
	grace      time.Duration
	drainDelay time.Duration
	log        *zap.Logger

	mu      sync.Mutex
	running map[*Handle]struct{}
}

// NewController creates a controller whose Kill waits at most grace.
func NewController(grace time.Duration, log *zap.Logger) *Controller {
	if grace <= 0 {
		grace = DefaultGrace
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		grace:      grace,
		drainDelay: min(DefaultDrainDelay, grace),
		log:        log.With(zap.String("component", "process")),
		running:    make(map[*Handle]struct{}),
	}
}

// Grace returns the kill grace period.
func (c *Controller) Grace() time.Duration { return c.grace }

// Running returns the number of children that have not been reaped yet.
func (c *Controller) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.running)
}

// Spawn starts the command in its own process group. Stdout and stderr are
// copied into the sinks by dedicated goroutines. The child is reaped as soon
// as it exits; descendants that keep its output open get drainDelay to
// finish before the pipes are closed under them.
func (c *Controller) Spawn(command Command, stdout, stderr io.Writer) (*Handle, error) {
	if command.Path == "" {
		return nil, fmt.Errorf("spawn: empty command path")
	}
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	cmd := exec.Command(command.Path, command.Args...)
	cmd.Dir = command.Dir
	cmd.Env = command.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	setProcessGroup(cmd)

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdout, cmd.Stderr = outW, errW
	startErr := cmd.Start()
	// the child holds its own copies of the write ends
	outW.Close()
	errW.Close()
	if startErr != nil {
		outR.Close()
		errR.Close()
		return nil, fmt.Errorf("start %s: %w", command.Path, startErr)
	}

	h := &Handle{
		cmd:   cmd,
		pipes: []io.ReadCloser{outR, errR},
		done:  make(chan struct{}),
	}
	c.mu.Lock()
	c.running[h] = struct{}{}
	c.mu.Unlock()

	pid := cmd.Process.Pid
	c.log.Debug("Spawned process", zap.Int("pid", pid), zap.String("command", command.String()))

	var g errgroup.Group
	g.Go(func() error { return drain(stdout, outR) })
	g.Go(func() error { return drain(stderr, errR) })
	drained := make(chan error, 1)
	go func() { drained <- g.Wait() }()

	go func() {
		waitErr := cmd.Wait()
		h.status, h.err = exitStatus(cmd.ProcessState, waitErr)

		timer := time.NewTimer(c.drainDelay)
		var drainErr error
		select {
		case drainErr = <-drained:
		case <-timer.C:
			c.log.Debug("Descendants still hold the output open, closing it", zap.Int("pid", pid))
			h.closePipes()
			drainErr = <-drained
		}
		timer.Stop()
		h.closePipes()
		if drainErr != nil {
			c.log.Debug("Output drain ended early", zap.Int("pid", pid), zap.Error(drainErr))
		}

		c.mu.Lock()
		delete(c.running, h)
		c.mu.Unlock()
		close(h.done)
	}()
	return h, nil
}

// WaitWithTimeout waits for the child to exit. It returns ErrTimedOut when
// d elapses first; the child keeps running in that case.
func (c *Controller) WaitWithTimeout(h *Handle, d time.Duration) (ExitStatus, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-h.done:
		return h.Result()
	case <-timer.C:
		return ExitStatus{}, ErrTimedOut
	}
}

// Kill terminates the child's process group: a graceful signal first, a
// forced one after half the grace period. It returns once the child is
// reaped, or ErrKillTimeout when the grace period elapses.
func (c *Controller) Kill(h *Handle) error {
	h.killMu.Lock()
	defer h.killMu.Unlock()

	select {
	case <-h.done:
		return nil
	default:
	}

	pid := h.cmd.Process.Pid
	half := c.grace / 2
	if err := terminate(h.cmd.Process); err != nil {
		c.log.Debug("Graceful termination failed", zap.Int("pid", pid), zap.Error(err))
	}
	timer := time.NewTimer(half)
	defer timer.Stop()
	select {
	case <-h.done:
		return nil
	case <-timer.C:
	}

	c.log.Warn("Process ignored termination, killing", zap.Int("pid", pid))
	if err := forceKill(h.cmd.Process); err != nil {
		c.log.Debug("Forced kill failed", zap.Int("pid", pid), zap.Error(err))
	}
	// grandchildren may hold the pipes open
	h.closePipes()

	timer.Reset(c.grace - half)
	select {
	case <-h.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("pid %d: %w", pid, ErrKillTimeout)
	}
}

// KillAll kills every child that is still running.
func (c *Controller) KillAll() {
	c.mu.Lock()
	handles := make([]*Handle, 0, len(c.running))
	for h := range c.running {
		handles = append(handles, h)
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			if err := c.Kill(h); err != nil {
				c.log.Error("Failed to kill process", zap.Error(err))
			}
		}(h)
	}
	wg.Wait()
}

// Run spawns the command and waits until it exits or ctx is done. On
// cancellation the child is killed and the result is ERROR.
func (c *Controller) Run(ctx context.Context, command Command, stdout, stderr io.Writer) domain.Status {
	h, err := c.Spawn(command, stdout, stderr)
	if err != nil {
		return domain.ErrorStatus(fmt.Sprintf("Failed to start process: %v", err))
	}

	select {
	case <-h.done:
	case <-ctx.Done():
		if err := c.Kill(h); err != nil {
			c.log.Error("Failed to kill process", zap.Int("pid", h.Pid()), zap.Error(err))
			return domain.ErrorStatus(fmt.Sprintf("Process could not be killed: %v", err))
		}
		return domain.ErrorStatus(fmt.Sprintf("Process killed: %v", context.Cause(ctx)))
	}

	es, err := h.Result()
	if err != nil {
		return domain.ErrorStatus(fmt.Sprintf("Failed to wait for process: %v", err))
	}
	return MapExit(es, command.PassCode, command.FailCode)
}

func drain(dst io.Writer, src io.Reader) error {
	_, err := io.Copy(dst, src)
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}
