package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketTransfers = []byte("transfers")
	bucketDownloads = []byte("downloads")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketTransfers, bucketDownloads} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) SaveTransfer(t *Transfer) error {
	if t.ID == "" {
		return fmt.Errorf("transfer without id")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putTransfer(tx.Bucket(bucketTransfers), t)
	})
}

func putTransfer(b *bolt.Bucket, t *Transfer) error {
	if b == nil {
		return fmt.Errorf("bucket %q not found", bucketTransfers)
	}
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return b.Put([]byte(t.ID), data)
}

func getTransfer(b *bolt.Bucket, id string) (*Transfer, error) {
	if b == nil {
		return nil, fmt.Errorf("bucket %q not found", bucketTransfers)
	}
	data := b.Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("transfer %s: %w", id, ErrNotFound)
	}
	var t Transfer
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("transfer %s: %w", id, err)
	}
	return &t, nil
}

func (s *BoltStore) GetTransfer(id string) (*Transfer, error) {
	var t *Transfer
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		t, err = getTransfer(tx.Bucket(bucketTransfers), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *BoltStore) UpdateTransfer(id string, fn func(t *Transfer) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransfers)
		t, err := getTransfer(b, id)
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
		t.ID = id
		return putTransfer(b, t)
	})
}

func (s *BoltStore) ListTransfers(limit int) ([]*Transfer, error) {
	var transfers []*Transfer
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransfers)
		if b == nil {
			return nil
		}
		transfers = make([]*Transfer, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var t Transfer
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			transfers = append(transfers, &t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(transfers, func(i, j int) bool {
		return transfers[i].StartedAt.After(transfers[j].StartedAt)
	})
	if limit > 0 && len(transfers) > limit {
		transfers = transfers[:limit]
	}
	return transfers, nil
}

func (s *BoltStore) DeleteTransfer(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketTransfers).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket(bucketDownloads).Delete([]byte(id))
	})
}

func (s *BoltStore) SaveDownload(id string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDownloads)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDownloads)
		}
		return b.Put([]byte(id), data)
	})
}

func (s *BoltStore) GetDownload(id string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDownloads)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDownloads)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("download %s: %w", id, ErrNotFound)
		}
		// Values are only valid inside the transaction.
		out = append([]byte(nil), data...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
