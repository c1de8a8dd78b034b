// Package bbolt provides the BoltDB-backed telemetry journal.
package bbolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/bykotofff/dnd-game-sub001/internal/storage"
)

const telemetryBucket = "telemetry"

// Store is a BoltDB-backed telemetry journal.
type Store struct {
	db *bbolt.DB
}

// Open opens the journal at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendTelemetryEvent persists one journal entry under the next sequence
// number.
func (s *Store) AppendTelemetryEvent(ctx context.Context, evt storage.TelemetryEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(evt.Kind) == "" {
		return fmt.Errorf("telemetry event kind is required")
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal telemetry event: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(telemetryBucket))
		if bucket == nil {
			return fmt.Errorf("telemetry bucket is missing")
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("next telemetry sequence: %w", err)
		}
		return bucket.Put(telemetryKey(seq), payload)
	})
}

// ListTelemetryEvents returns up to limit journal entries, oldest first.
// A non-positive limit returns everything.
func (s *Store) ListTelemetryEvents(ctx context.Context, limit int) ([]storage.TelemetryEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	var events []storage.TelemetryEvent
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(telemetryBucket))
		if bucket == nil {
			return fmt.Errorf("telemetry bucket is missing")
		}
		return bucket.ForEach(func(_, payload []byte) error {
			if limit > 0 && len(events) >= limit {
				return nil
			}
			var evt storage.TelemetryEvent
			if err := json.Unmarshal(payload, &evt); err != nil {
				return fmt.Errorf("unmarshal telemetry event: %w", err)
			}
			events = append(events, evt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(telemetryBucket))
		if err != nil {
			return fmt.Errorf("create telemetry bucket: %w", err)
		}
		return nil
	})
}

func telemetryKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
