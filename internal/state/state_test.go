package state

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	"github.com/ligustah/gridfetch/internal/download"
)

func testSnapshot(ids ...string) download.RegistrySnapshot {
	snap := download.RegistrySnapshot{Version: download.SnapshotVersion, SavedAt: time.Now().UTC().Truncate(time.Second)}
	for _, id := range ids {
		snap.Datasets = append(snap.Datasets, download.DatasetSnapshot{
			InstanceID:  id,
			Status:      download.StatusPaused,
			CurrentSize: 40,
			TotalSize:   100,
			Path:        "/data/" + id,
			Files: []download.FileSnapshot{{
				InstanceID:  id + ".nc",
				Status:      download.StatusPaused,
				CurrentSize: 40,
				TotalSize:   100,
			}},
		})
	}
	return snap
}

func TestStoreSaveLoad(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, "mem://")
	require.NoError(t, err)
	defer store.Close()

	_, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	want := testSnapshot("cmip5.a", "cmip5.b")
	require.NoError(t, store.Save(ctx, want))

	got, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.Version, got.Version)
	assert.True(t, want.SavedAt.Equal(got.SavedAt))
	assert.Equal(t, want.Datasets, got.Datasets)

	require.NoError(t, store.Save(ctx, testSnapshot("cmip5.c")))
	got, _, err = store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got.Datasets, 1)
	assert.Equal(t, "cmip5.c", got.Datasets[0].InstanceID)
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	require.NoError(t, err)
	defer bucket.Close()

	store := New(bucket, "")
	assert.Equal(t, DefaultKey, store.Key())
	require.NoError(t, store.Delete(ctx))

	require.NoError(t, store.Save(ctx, testSnapshot("a")))
	exists, err := bucket.Exists(ctx, DefaultKey)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete(ctx))
	_, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// The bucket is not owned by the store.
	require.NoError(t, store.Close())
	_, err = bucket.Exists(ctx, DefaultKey)
	assert.NoError(t, err)
}

func TestStoreCorrupt(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	require.NoError(t, err)
	defer bucket.Close()

	require.NoError(t, bucket.WriteAll(ctx, "state.json", []byte("{not json"), nil))
	_, _, err = New(bucket, "state.json").Load(ctx)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestOpenBadURL(t *testing.T) {
	_, err := Open(context.Background(), "nosuchscheme://bucket")
	assert.Error(t, err)
}

func TestAutosaver(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, "mem://")
	require.NoError(t, err)
	defer store.Close()

	var calls atomic.Int32
	snapshot := func() download.RegistrySnapshot {
		calls.Add(1)
		return testSnapshot("a")
	}

	a := NewAutosaver(store, snapshot, 10*time.Millisecond)
	a.Start(ctx)
	a.Start(ctx)
	require.Eventually(t, func() bool { return a.Saves() >= 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, a.Stop())
	saved := a.Saves()
	assert.GreaterOrEqual(t, saved, 3)
	assert.Equal(t, int32(saved), calls.Load())
	require.NoError(t, a.Stop())

	got, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", got.Datasets[0].InstanceID)
}

func TestAutosaverSavesOnContextEnd(t *testing.T) {
	store, err := Open(context.Background(), "mem://")
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	a := NewAutosaver(store, func() download.RegistrySnapshot { return testSnapshot("a") }, time.Hour)
	a.Start(ctx)
	cancel()

	require.Eventually(t, func() bool { return a.Saves() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, a.Stop())
	_, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAutosaverDefaultInterval(t *testing.T) {
	a := NewAutosaver(nil, nil, 0)
	assert.Equal(t, DefaultInterval, a.interval)
	assert.NoError(t, a.Stop())
}
