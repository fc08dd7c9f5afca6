package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	logging "github.com/ipfs/go-log/v2"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/ligustah/gridfetch/internal/download"
)

var log = logging.Logger("state")

// DefaultKey is the object key snapshots are stored under.
const DefaultKey = "gridfetch-state.json"

// ErrCorrupt means the stored snapshot could not be decoded.
var ErrCorrupt = errors.New("state: corrupt snapshot")

// Store reads and writes registry snapshots in a bucket.
type Store struct {
	bucket *blob.Bucket
	key    string
	owned  bool
}

// Open opens the bucket at url and returns a store writing to DefaultKey.
// The store owns the bucket and closes it in Close.
func Open(ctx context.Context, url string) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("state: open bucket: %w", err)
	}
	return &Store{bucket: bucket, key: DefaultKey, owned: true}, nil
}

// New returns a store writing to key in an already opened bucket. An empty
// key selects DefaultKey. Close leaves the bucket open.
func New(bucket *blob.Bucket, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{bucket: bucket, key: key}
}

func (s *Store) Key() string { return s.key }

// Save replaces the stored snapshot.
func (s *Store) Save(ctx context.Context, snap download.RegistrySnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal snapshot: %w", err)
	}
	if err := s.bucket.WriteAll(ctx, s.key, data, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("state: write snapshot: %w", err)
	}
	log.Debugw("snapshot saved", "key", s.key, "datasets", len(snap.Datasets))
	return nil
}

// Load returns the stored snapshot. The boolean is false when nothing has
// been saved yet, in which case the snapshot is empty.
func (s *Store) Load(ctx context.Context) (download.RegistrySnapshot, bool, error) {
	var snap download.RegistrySnapshot
	data, err := s.bucket.ReadAll(ctx, s.key)
	if err != nil {
		if isNotExist(err) {
			return snap, false, nil
		}
		return snap, false, fmt.Errorf("state: read snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, false, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return snap, true, nil
}

// Delete removes the stored snapshot. Deleting a missing snapshot is not an
// error.
func (s *Store) Delete(ctx context.Context) error {
	if err := s.bucket.Delete(ctx, s.key); err != nil && !isNotExist(err) {
		return fmt.Errorf("state: delete snapshot: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.bucket.Close()
}

func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
