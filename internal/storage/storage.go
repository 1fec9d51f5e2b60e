package storage

import (
	"errors"
	"fmt"
	"iter"

	"regtest/internal/domain"
)

// Store persists one result per test and lets report generators iterate them.
type Store interface {
	// Put atomically publishes a sealed result, replacing any previous one.
	Put(r *domain.TestResult) error
	// Get returns the stored result for a test, or ErrNotFound.
	Get(id string) (*domain.TestResult, error)
	// Iterate lazily yields stored results accepted by filter (nil accepts all).
	Iterate(filter func(*domain.TestResult) bool) iter.Seq2[*domain.TestResult, error]
	// Scratch returns the scratch directory of one test and its release func.
	Scratch(id string) (dir string, release func(keep bool), err error)
	// BuildDir returns the persistent build directory of one test.
	BuildDir(id string) (string, error)
	WriteLastRun(info domain.LastRunInfo) error
	ReadLastRun() (*domain.LastRunInfo, error)
	Close() error
}

var (
	// ErrNotFound is returned by Get for tests without a stored result.
	ErrNotFound = errors.New("result not found")
	// ErrClosed is returned by operations on a closed work directory.
	ErrClosed = errors.New("work directory is closed")
	// ErrNotSealed is returned by Put for results that are still open.
	ErrNotSealed = errors.New("result is not sealed")
)

// NotAWorkDirError reports an existing directory that is not a work directory.
type NotAWorkDirError struct {
	Path string
}

func (e *NotAWorkDirError) Error() string {
	return fmt.Sprintf("%s is not a work directory", e.Path)
}

// LockedError reports a work directory owned by another process.
type LockedError struct {
	Path string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("work directory %s is locked by another process", e.Path)
}
