package watermark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// StateVersion is the current state file schema version
	StateVersion = 1

	// StateFilename is the default state filename
	StateFilename = "watermark.json"

	// LockFilename is the name of the owner lock file
	LockFilename = "sync.lock"
)

// ErrLocked indicates another process owns the state directory.
var ErrLocked = errors.New("watermark state is owned by another process")

// state is the on-disk representation of the watermark.
type state struct {
	Version   int       `json:"version"`
	Watermark time.Time `json:"watermark"`
	SavedAt   time.Time `json:"saved_at"`
}

// File persists the watermark as a JSON document written atomically.
// The owning process holds an exclusive lock on the state directory so that
// two synchronizers never advance the same watermark.
type File struct {
	path  string
	lock  *FileLock
	mu    sync.RWMutex
	value time.Time
}

// OpenFile loads or initializes the state file in dir and takes the owner lock.
func OpenFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	lock := NewFileLock(filepath.Join(dir, LockFilename))
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return nil, ErrLocked
	}

	path := filepath.Join(dir, StateFilename)
	value, err := readState(path)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	return &File{path: path, lock: lock, value: value}, nil
}

func readState(path string) (time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to read state: %w", err)
	}

	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		return time.Time{}, fmt.Errorf("failed to parse state: %w", err)
	}
	if s.Version > StateVersion {
		return time.Time{}, fmt.Errorf("unsupported state version %d", s.Version)
	}
	return s.Watermark.UTC(), nil
}

// Load returns the current watermark.
func (f *File) Load(_ context.Context) (time.Time, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.value, nil
}

// Save writes the watermark to disk atomically.
// Uses write-to-temp + rename; the in-memory value changes only after the rename.
func (f *File) Save(_ context.Context, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if t.Before(f.value) {
		return fmt.Errorf("%w: %s < %s", ErrRegression, t, f.value)
	}

	data, err := json.MarshalIndent(state{
		Version:   StateVersion,
		Watermark: t.UTC(),
		SavedAt:   time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tempPath := f.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write state temp file: %w", err)
	}

	if err := os.Rename(tempPath, f.path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename state file: %w", err)
	}

	f.value = t.UTC()
	return nil
}

// Path returns the path of the state file.
func (f *File) Path() string {
	return f.path
}

// Close releases the owner lock.
func (f *File) Close() error {
	return f.lock.Unlock()
}
