// Package watermark stores the timestamp of the last successful sync cycle.
package watermark

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRegression is returned when saving a watermark older than the stored one.
var ErrRegression = errors.New("watermark cannot move backwards")

// Store holds the sync watermark. The zero time means nothing was synced yet.
type Store interface {
	Load(ctx context.Context) (time.Time, error)
	Save(ctx context.Context, t time.Time) error
	Close() error
}

// Memory is a process-local Store. Its value is lost on restart, which
// results in a full resync from the epoch.
type Memory struct {
	mu    sync.RWMutex
	value time.Time
}

// NewMemory creates an in-memory store starting at the epoch.
func NewMemory() *Memory {
	return &Memory{}
}

// Load returns the current watermark.
func (m *Memory) Load(_ context.Context) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.value, nil
}

// Save replaces the watermark.
func (m *Memory) Save(_ context.Context, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.Before(m.value) {
		return fmt.Errorf("%w: %s < %s", ErrRegression, t, m.value)
	}
	m.value = t.UTC()
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
