package securestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
)

const (
	// fileLockTimeout bounds how long a store operation waits for the
	// cross-process lock.
	fileLockTimeout = 2 * time.Second

	// fileLockRetry is the polling interval while waiting for the lock.
	fileLockRetry = 10 * time.Millisecond
)

// FileStore keeps all values in one JSON object on disk. Every
// operation holds an exclusive flock so several processes can share
// the file. A flock is reentrant within its owner, so mu provides the
// in-process exclusion.
type FileStore struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

// NewFileStore creates a store backed by the JSON file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the JSON file location.
func (s *FileStore) Path() string {
	return s.path
}

// Get returns the value for key.
func (s *FileStore) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)

	err := s.withLock(ctx, func() error {
		all, err := s.readAll()
		if err != nil {
			return err
		}

		value, found = all[key]

		return nil
	})

	return value, found, err
}

// Set persists value under key.
func (s *FileStore) Set(ctx context.Context, key, value string) error {
	return s.withLock(ctx, func() error {
		all, err := s.readAll()
		if err != nil {
			return err
		}

		all[key] = value

		return s.writeAll(all)
	})
}

// RemoveAll deletes the file.
func (s *FileStore) RemoveAll(ctx context.Context) error {
	return s.withLock(ctx, func() error {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}

		return nil
	})
}

// Close is a no-op; locks are released after each operation.
func (s *FileStore) Close() error { return nil }

// Watch reports changes to the file made by anyone, including this
// process. The directory is watched rather than the file because
// writes replace the file by rename.
func (s *FileStore) Watch(ctx context.Context, onChange func()) error {
	if err := os.MkdirAll(filepath.Dir(s.path), stateDirPerm); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watching store directory: %w", err)
	}

	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}

			if filepath.Clean(event.Name) != target {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				onChange()
			}

		case _, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}
			// Overflow and similar errors are non-fatal. The next
			// event still invalidates.
		}
	}
}

func (s *FileStore) withLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), stateDirPerm); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, fileLockTimeout)
	defer cancel()

	locked, err := s.lock.TryLockContext(lockCtx, fileLockRetry)
	if err != nil {
		return fmt.Errorf("locking %s: %w", s.path, err)
	}

	if !locked {
		return fmt.Errorf("locking %s: timed out", s.path)
	}
	defer func() { _ = s.lock.Unlock() }()

	return fn()
}

func (s *FileStore) readAll() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]string), nil
		}

		return nil, err
	}

	all := make(map[string]string)
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", s.path, err)
	}

	return all, nil
}

// writeAll replaces the file atomically via a temp file and rename.
func (s *FileStore) writeAll(all map[string]string) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*.tmp")
	if err != nil {
		return err
	}

	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return err
	}

	if err := tmp.Chmod(stateFilePerm); err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return nil
}
