package watermark

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// unlockLock is a test helper that unlocks and logs any error
func unlockLock(t *testing.T, lock *FileLock) {
	t.Helper()
	if err := lock.Unlock(); err != nil {
		t.Logf("Warning: Unlock failed: %v", err)
	}
}

func TestFileLock_TryLock_Success(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "nested", "sync.lock")

	lock := NewFileLock(lockPath)
	defer unlockLock(t, lock)

	acquired, err := lock.TryLock()
	if err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}
	if !acquired {
		t.Error("Expected to acquire lock")
	}
	if !lock.Held() {
		t.Error("Expected Held to return true")
	}
	if lock.Path() != lockPath {
		t.Errorf("Path = %q, want %q", lock.Path(), lockPath)
	}
}

func TestFileLock_TryLock_Reentrant(t *testing.T) {
	lock := NewFileLock(filepath.Join(t.TempDir(), "sync.lock"))
	defer unlockLock(t, lock)

	for i := 0; i < 2; i++ {
		acquired, err := lock.TryLock()
		if err != nil || !acquired {
			t.Fatalf("TryLock #%d: acquired=%v err=%v", i+1, acquired, err)
		}
	}
}

func TestFileLock_TryLock_AlreadyHeld(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "sync.lock")

	lock1 := NewFileLock(lockPath)
	acquired, err := lock1.TryLock()
	if err != nil || !acquired {
		t.Fatalf("First TryLock: acquired=%v err=%v", acquired, err)
	}
	defer unlockLock(t, lock1)

	lock2 := NewFileLock(lockPath)
	acquired, err = lock2.TryLock()
	if err != nil {
		t.Fatalf("Second TryLock returned error: %v", err)
	}
	if acquired {
		t.Error("Expected second lock acquisition to fail")
		unlockLock(t, lock2)
	}
	if lock2.Held() {
		t.Error("Expected second lock's Held to return false")
	}
}

func TestFileLock_ReleaseAllowsReacquire(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "sync.lock")

	lock1 := NewFileLock(lockPath)
	if acquired, err := lock1.TryLock(); err != nil || !acquired {
		t.Fatalf("TryLock: acquired=%v err=%v", acquired, err)
	}
	if err := lock1.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if lock1.Held() {
		t.Error("Expected Held to be false after Unlock")
	}

	lock2 := NewFileLock(lockPath)
	defer unlockLock(t, lock2)
	if acquired, err := lock2.TryLock(); err != nil || !acquired {
		t.Errorf("Expected reacquire to succeed: acquired=%v err=%v", acquired, err)
	}
}

func TestFileLock_UnlockWithoutLock(t *testing.T) {
	lock := NewFileLock(filepath.Join(t.TempDir(), "sync.lock"))
	if err := lock.Unlock(); err != nil {
		t.Errorf("Unlock of unheld lock should be a no-op, got %v", err)
	}
}

func TestFileLock_WritesPID(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "sync.lock")
	lock := NewFileLock(lockPath)
	defer unlockLock(t, lock)

	if acquired, err := lock.TryLock(); err != nil || !acquired {
		t.Fatalf("TryLock: acquired=%v err=%v", acquired, err)
	}

	data, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		t.Errorf("Lock file content = %q, want pid %d", data, os.Getpid())
	}
}
