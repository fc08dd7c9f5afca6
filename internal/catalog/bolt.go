package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var datasetsBucket = []byte("datasets")

// BoltStore persists harvested dataset metadata in a BoltDB file.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) the catalog database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(datasetsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: create bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Put stores or replaces a dataset record.
func (s *BoltStore) Put(d *Dataset) error {
	encoded, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("catalog: encode %s: %w", d.InstanceID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(datasetsBucket).Put([]byte(d.InstanceID), encoded)
	})
}

// Delete removes a dataset record. Deleting a missing record is not an
// error.
func (s *BoltStore) Delete(datasetID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(datasetsBucket).Delete([]byte(datasetID))
	})
}

// List returns the instance ids of every stored dataset in key order.
func (s *BoltStore) List() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(datasetsBucket).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

func (s *BoltStore) GetDataset(_ context.Context, datasetID string) (*Dataset, error) {
	var d Dataset
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(datasetsBucket).Get([]byte(datasetID))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &d)
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *BoltStore) GetFile(ctx context.Context, datasetID, fileID string) (*File, error) {
	d, err := s.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	f, ok := d.File(fileID)
	if !ok {
		return nil, ErrNotFound
	}
	return f, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
