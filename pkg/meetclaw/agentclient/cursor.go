package agentclient

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var cursorBucket = []byte("signal_cursor")

// CursorStore persists the last handled signal timestamp per call so a
// restarted watcher does not spawn for a signal it already acted on.
type CursorStore struct {
	db *bolt.DB
}

// OpenCursorStore opens (or creates) the bolt file at path.
func OpenCursorStore(path string) (*CursorStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening cursor store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cursorBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating cursor bucket: %w", err)
	}
	return &CursorStore{db: db}, nil
}

// Get returns the stored timestamp for callID, or 0.
func (s *CursorStore) Get(callID string) (int64, error) {
	var ts int64
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(cursorBucket).Get([]byte(callID))
		if len(v) == 8 {
			ts = int64(binary.BigEndian.Uint64(v))
		}
		return nil
	})
	return ts, err
}

// Put stores ts for callID unless a newer value is already stored.
func (s *CursorStore) Put(callID string, ts int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(cursorBucket)
		if v := b.Get([]byte(callID)); len(v) == 8 && int64(binary.BigEndian.Uint64(v)) >= ts {
			return nil
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(ts))
		return b.Put([]byte(callID), buf)
	})
}

// Close closes the bolt file.
func (s *CursorStore) Close() error {
	return s.db.Close()
}
