// Package bbolt provides a BoltDB-backed sequence audit store.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/wagermint/arbiter/internal/storage"
)

const sequenceBucket = "sequence"

// Store provides a BoltDB-backed sequence store.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store at the provided path.
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

// Put persists a retired sequence record.
func (s *Store) Put(ctx context.Context, record storage.SequenceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ChallengeID) == "" {
		return fmt.Errorf("challenge id is required")
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal sequence record: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sequenceBucket))
		if bucket == nil {
			return fmt.Errorf("sequence bucket is missing")
		}
		return bucket.Put([]byte(record.ChallengeID), payload)
	})
}

// Get fetches a sequence record by challenge ID.
func (s *Store) Get(ctx context.Context, challengeID string) (storage.SequenceRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.SequenceRecord{}, err
	}
	if s == nil || s.db == nil {
		return storage.SequenceRecord{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(challengeID) == "" {
		return storage.SequenceRecord{}, fmt.Errorf("challenge id is required")
	}

	var record storage.SequenceRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sequenceBucket))
		if bucket == nil {
			return fmt.Errorf("sequence bucket is missing")
		}
		payload := bucket.Get([]byte(challengeID))
		if payload == nil {
			return storage.ErrNotFound
		}
		if err := json.Unmarshal(payload, &record); err != nil {
			return fmt.Errorf("unmarshal sequence record: %w", err)
		}
		return nil
	})
	if err != nil {
		return storage.SequenceRecord{}, err
	}

	return record, nil
}

// PruneBefore removes records completed before the cutoff.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	pruned := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sequenceBucket))
		if bucket == nil {
			return fmt.Errorf("sequence bucket is missing")
		}

		var stale [][]byte
		cursor := bucket.Cursor()
		for key, payload := cursor.First(); key != nil; key, payload = cursor.Next() {
			var record storage.SequenceRecord
			if err := json.Unmarshal(payload, &record); err != nil {
				return fmt.Errorf("unmarshal sequence record %q: %w", key, err)
			}
			if record.CompletedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), key...))
			}
		}
		for _, key := range stale {
			if err := bucket.Delete(key); err != nil {
				return fmt.Errorf("delete sequence record %q: %w", key, err)
			}
			pruned++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return pruned, nil
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(sequenceBucket))
		if err != nil {
			return fmt.Errorf("create sequence bucket: %w", err)
		}
		return nil
	})
}
