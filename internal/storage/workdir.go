package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"regtest/internal/domain"
)

const (
	// SystemDir holds the lock file and run metadata.
	SystemDir = "jtData"
	// ResultsDir holds one result file per test.
	ResultsDir = "results"
	// ScratchDir holds the per-test scratch partitions.
	ScratchDir = "scratch"
	// BuildsDir holds build products that survive across runs.
	BuildsDir = "build"
	// ResultExt is the extension of result files.
	ResultExt = ".jtr"

	lockFile    = ".lock"
	lastRunFile = "lastRun.yaml"
)

// Options controls backup behavior of a work directory.
type Options struct {
	// BackupCount is the number of numbered backups kept per result file.
	BackupCount int
	// BackupIgnore lists file extensions that are never backed up.
	BackupIgnore []string
	Logger       *zap.Logger
}

// WorkDir is the on-disk root of a result store and its scratch area.
// One process owns a WorkDir at a time.
type WorkDir struct {
	root   string
	opts   Options
	lock   *flock.Flock
	log    *zap.Logger
	closed atomic.Bool

	// per-test write locks; distinct tests never contend
	locks sync.Map
}

var _ Store = (*WorkDir)(nil)

// Open opens the work directory at root, creating it when it does not exist.
// It fails with NotAWorkDirError for a non-empty foreign directory and with
// LockedError when another owner holds the lock.
func Open(root string, opts Options) (*WorkDir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve work directory: %w", err)
	}

	info, err := os.Stat(abs)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(abs, 0755); err != nil {
			return nil, fmt.Errorf("create work directory: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat work directory: %w", err)
	case !info.IsDir():
		return nil, &NotAWorkDirError{Path: abs}
	default:
		if _, err := os.Stat(filepath.Join(abs, SystemDir)); os.IsNotExist(err) {
			entries, err := os.ReadDir(abs)
			if err != nil {
				return nil, fmt.Errorf("read work directory: %w", err)
			}
			if len(entries) > 0 {
				return nil, &NotAWorkDirError{Path: abs}
			}
		}
	}

	for _, dir := range []string{SystemDir, ResultsDir, ScratchDir, BuildsDir} {
		if err := os.MkdirAll(filepath.Join(abs, dir), 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	lock := flock.New(filepath.Join(abs, SystemDir, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock work directory: %w", err)
	}
	if !locked {
		return nil, &LockedError{Path: abs}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkDir{
		root: abs,
		opts: opts,
		lock: lock,
		log:  logger.With(zap.String("component", "workdir")),
	}, nil
}

// Root returns the absolute path of the work directory.
func (w *WorkDir) Root() string { return w.root }

// Close releases the work directory lock. Further writes fail with ErrClosed.
func (w *WorkDir) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	return w.lock.Unlock()
}

// Scratch prepares an empty scratch directory for one test. The release
// function removes it unless keep is set.
func (w *WorkDir) Scratch(id string) (string, func(keep bool), error) {
	if w.closed.Load() {
		return "", nil, ErrClosed
	}
	rel, err := relPath(id)
	if err != nil {
		return "", nil, err
	}
	dir := filepath.Join(w.root, ScratchDir, rel)
	if err := os.RemoveAll(dir); err != nil {
		return "", nil, fmt.Errorf("clear scratch for %s: %w", id, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", nil, fmt.Errorf("create scratch for %s: %w", id, err)
	}
	release := func(keep bool) {
		if keep {
			return
		}
		if err := os.RemoveAll(dir); err != nil {
			w.log.Warn("Failed to remove scratch directory", zap.String("dir", dir), zap.Error(err))
		}
	}
	return dir, release, nil
}

// BuildDir returns the build directory of one test, creating it if needed.
// Unlike scratch it is never cleared by the harness.
func (w *WorkDir) BuildDir(id string) (string, error) {
	if w.closed.Load() {
		return "", ErrClosed
	}
	rel, err := relPath(id)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(w.root, BuildsDir, rel)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create build dir for %s: %w", id, err)
	}
	return dir, nil
}

// WriteLastRun records the most recent batch in the system area.
func (w *WorkDir) WriteLastRun(info domain.LastRunInfo) error {
	if w.closed.Load() {
		return ErrClosed
	}
	data, err := yaml.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal last run info: %w", err)
	}
	return writeAtomic(filepath.Join(w.root, SystemDir, lastRunFile), data)
}

// ReadLastRun reads the most recent batch info, or ErrNotFound.
func (w *WorkDir) ReadLastRun() (*domain.LastRunInfo, error) {
	data, err := os.ReadFile(filepath.Join(w.root, SystemDir, lastRunFile))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read last run info: %w", err)
	}
	var info domain.LastRunInfo
	if err := yaml.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse last run info: %w", err)
	}
	return &info, nil
}

// relPath maps a test ID to a relative file system path, rejecting IDs that
// would escape the work directory.
func relPath(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("empty test id")
	}
	clean := filepath.Clean(filepath.FromSlash(id))
	if filepath.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid test id %q", id)
	}
	return clean, nil
}
