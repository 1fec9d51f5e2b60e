package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"regtest/internal/domain"
)

var errStopWalk = errors.New("stop walk")

// Put writes a sealed result to a temporary file and renames it over the
// current one, so readers see either the old or the new result. The old
// file is kept as a numbered backup unless its extension is ignored.
func (w *WorkDir) Put(r *domain.TestResult) error {
	if r == nil {
		return fmt.Errorf("put: nil result")
	}
	if !r.Sealed() {
		return fmt.Errorf("put %s: %w", r.ID, ErrNotSealed)
	}
	if w.closed.Load() {
		return ErrClosed
	}
	path, err := w.resultPath(r.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result %s: %w", r.ID, err)
	}

	mu := w.lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create result dir: %w", err)
	}
	if err := w.backup(path); err != nil {
		return fmt.Errorf("backup result %s: %w", r.ID, err)
	}
	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("write result %s: %w", r.ID, err)
	}
	return nil
}

// Get reads the stored result of a test.
func (w *WorkDir) Get(id string) (*domain.TestResult, error) {
	path, err := w.resultPath(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read result %s: %w", id, err)
	}
	var r domain.TestResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse result %s: %w", id, err)
	}
	return &r, nil
}

// Iterate walks the results area and yields each decodable result accepted
// by filter. A file that cannot be decoded yields an error and iteration
// continues with the next file.
func (w *WorkDir) Iterate(filter func(*domain.TestResult) bool) iter.Seq2[*domain.TestResult, error] {
	return func(yield func(*domain.TestResult, error) bool) {
		root := filepath.Join(w.root, ResultsDir)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				if !yield(nil, err) {
					return errStopWalk
				}
				return nil
			}
			if d.IsDir() || !isResultFile(d.Name()) {
				return nil
			}
			data, err := os.ReadFile(path)
			if os.IsNotExist(err) {
				return nil
			}
			var r domain.TestResult
			if err == nil {
				err = json.Unmarshal(data, &r)
			}
			if err != nil {
				if !yield(nil, fmt.Errorf("read %s: %w", path, err)) {
					return errStopWalk
				}
				return nil
			}
			if filter != nil && !filter(&r) {
				return nil
			}
			if !yield(&r, nil) {
				return errStopWalk
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopWalk) {
			yield(nil, err)
		}
	}
}

func (w *WorkDir) resultPath(id string) (string, error) {
	rel, err := relPath(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(w.root, ResultsDir, rel+ResultExt), nil
}

// lockFor returns the write lock of a result file. It is keyed by the
// cleaned path, so IDs that name the same file share one lock.
func (w *WorkDir) lockFor(path string) *sync.Mutex {
	mu, _ := w.locks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// backup links the current file to name~N~ and prunes the oldest backups
// beyond the configured count.
func (w *WorkDir) backup(path string) error {
	if w.opts.BackupCount <= 0 || w.ignored(path) {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	dir, base := filepath.Split(path)
	existing, err := backupNumbers(dir, base)
	if err != nil {
		return err
	}
	next := 1
	if len(existing) > 0 {
		next = existing[len(existing)-1] + 1
	}
	target := backupName(path, next)
	if err := os.Link(path, target); err != nil {
		if err := copyFile(path, target); err != nil {
			return err
		}
	}
	existing = append(existing, next)

	for len(existing) > w.opts.BackupCount {
		old := backupName(path, existing[0])
		if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
			w.log.Warn("Failed to prune backup", zap.String("file", old), zap.Error(err))
		}
		existing = existing[1:]
	}
	return nil
}

func (w *WorkDir) ignored(path string) bool {
	ext := filepath.Ext(path)
	for _, e := range w.opts.BackupIgnore {
		if strings.EqualFold(e, ext) || strings.EqualFold("."+strings.TrimPrefix(e, "."), ext) {
			return true
		}
	}
	return false
}

func backupName(path string, n int) string {
	return path + "~" + strconv.Itoa(n) + "~"
}

// backupNumbers returns the backup numbers of base in dir, ascending.
func backupNumbers(dir, base string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	prefix := base + "~"
	var nums []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, "~") || len(name) <= len(prefix)+1 {
			continue
		}
		n, err := strconv.Atoi(name[len(prefix) : len(name)-1])
		if err != nil || n <= 0 {
			continue
		}
		nums = append(nums, n)
	}
	slices.Sort(nums)
	return nums, nil
}

func isResultFile(name string) bool {
	return strings.HasSuffix(name, ResultExt) && !strings.HasPrefix(name, ".")
}

// writeAtomic writes data to a hidden temporary file next to path, syncs it
// and renames it into place.
func writeAtomic(path string, data []byte) error {
	dir, base := filepath.Split(path)
	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
