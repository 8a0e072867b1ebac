package watermark

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// BoltFilename is the default bbolt database filename
	BoltFilename = "watermark.db"

	boltOpenTimeout = time.Second
)

var (
	bucketSync   = []byte("sync")
	keyWatermark = []byte("watermark")
)

// Bolt persists the watermark as a single key in a bbolt database.
// bbolt holds an exclusive file lock while open, so a second process fails to open it.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens or creates the database in dir.
func OpenBolt(dir string) (*Bolt, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dir, BoltFilename), 0600, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("failed to open watermark db: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSync)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &Bolt{db: db}, nil
}

// Load returns the stored watermark or the zero time.
func (b *Bolt) Load(_ context.Context) (time.Time, error) {
	var t time.Time
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSync).Get(keyWatermark)
		if raw == nil {
			return nil
		}
		return t.UnmarshalBinary(raw)
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load watermark: %w", err)
	}
	return t.UTC(), nil
}

// Save stores the watermark in a single transaction.
func (b *Bolt) Save(_ context.Context, t time.Time) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSync)

		if raw := bucket.Get(keyWatermark); raw != nil {
			var current time.Time
			if err := current.UnmarshalBinary(raw); err != nil {
				return fmt.Errorf("failed to decode watermark: %w", err)
			}
			if t.Before(current) {
				return fmt.Errorf("%w: %s < %s", ErrRegression, t, current)
			}
		}

		raw, err := t.UTC().MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to encode watermark: %w", err)
		}
		return bucket.Put(keyWatermark, raw)
	})
}

// Close closes the database.
func (b *Bolt) Close() error {
	return b.db.Close()
}
