package watermark

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// closeStore is a helper to close a store in tests and fail on error
func closeStore(t *testing.T, s Store) {
	t.Helper()
	if err := s.Close(); err != nil {
		t.Errorf("Failed to close store: %v", err)
	}
}

func at(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func TestStores_Contract(t *testing.T) {
	backends := []string{BackendMemory, BackendFile, BackendBolt}

	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			store, err := Open(backend, t.TempDir())
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			defer closeStore(t, store)

			initial, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if !initial.IsZero() {
				t.Errorf("Initial watermark = %v, want zero", initial)
			}

			if err := store.Save(ctx, at(150)); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			got, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if !got.Equal(at(150)) {
				t.Errorf("Watermark = %v, want %v", got, at(150))
			}

			// Same value is accepted
			if err := store.Save(ctx, at(150)); err != nil {
				t.Errorf("Saving the same watermark failed: %v", err)
			}

			err = store.Save(ctx, at(100))
			if !errors.Is(err, ErrRegression) {
				t.Errorf("Expected ErrRegression, got %v", err)
			}
			got, _ = store.Load(ctx)
			if !got.Equal(at(150)) {
				t.Errorf("Watermark after regression = %v, want %v", got, at(150))
			}
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	if _, err := Open("redis", t.TempDir()); err == nil {
		t.Error("Expected error for unknown backend")
	}
}

func TestOpen_EmptyBackendIsMemory(t *testing.T) {
	store, err := Open("", "")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, ok := store.(*Memory); !ok {
		t.Errorf("Expected *Memory, got %T", store)
	}
}

func TestFile_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := OpenFile(dir)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	if err := first.Save(ctx, at(250)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	closeStore(t, first)

	second, err := OpenFile(dir)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer closeStore(t, second)

	got, err := second.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !got.Equal(at(250)) {
		t.Errorf("Watermark = %v, want %v", got, at(250))
	}

	// No temp file left behind
	if _, err := os.Stat(second.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temp file should not exist after save")
	}
}

func TestFile_SecondOwnerRejected(t *testing.T) {
	dir := t.TempDir()

	owner, err := OpenFile(dir)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	defer closeStore(t, owner)

	_, err = OpenFile(dir)
	if !errors.Is(err, ErrLocked) {
		t.Errorf("Expected ErrLocked, got %v", err)
	}
}

func TestFile_CorruptState(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, StateFilename), []byte("{not json"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := OpenFile(dir); err == nil {
		t.Fatal("Expected error for corrupt state")
	}

	// The lock must have been released on failure
	lock := NewFileLock(filepath.Join(dir, LockFilename))
	acquired, err := lock.TryLock()
	if err != nil || !acquired {
		t.Errorf("Expected lock to be free after failed open (acquired=%v, err=%v)", acquired, err)
	}
	_ = lock.Unlock()
}

func TestFile_FutureVersionRejected(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`{"version": 99, "watermark": "2026-01-01T00:00:00Z"}`)
	if err := os.WriteFile(filepath.Join(dir, StateFilename), content, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := OpenFile(dir); err == nil {
		t.Error("Expected error for unsupported version")
	}
}

func TestBolt_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := OpenBolt(dir)
	if err != nil {
		t.Fatalf("OpenBolt failed: %v", err)
	}
	want := time.Date(2026, 10, 15, 8, 30, 0, 123456789, time.UTC)
	if err := first.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	closeStore(t, first)

	second, err := OpenBolt(dir)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer closeStore(t, second)

	got, err := second.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("Watermark = %v, want %v", got, want)
	}
}

func TestBolt_SecondOwnerRejected(t *testing.T) {
	dir := t.TempDir()

	owner, err := OpenBolt(dir)
	if err != nil {
		t.Fatalf("OpenBolt failed: %v", err)
	}
	defer closeStore(t, owner)

	_, err = OpenBolt(dir)
	if !errors.Is(err, ErrLocked) {
		t.Errorf("Expected ErrLocked, got %v", err)
	}
}
