package catalog

import (
	"context"
	"sync"
)

// Cache memoizes dataset lookups from a slower Catalog. Workers resolving
// the same dataset concurrently share one lookup: a single lock guards both
// the map and the fetch, so the source sees each dataset at most once until
// it is invalidated.
type Cache struct {
	src Catalog

	mu       sync.Mutex
	datasets map[string]*Dataset
}

// NewCache wraps src.
func NewCache(src Catalog) *Cache {
	return &Cache{
		src:      src,
		datasets: make(map[string]*Dataset),
	}
}

func (c *Cache) GetDataset(ctx context.Context, datasetID string) (*Dataset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d, ok := c.datasets[datasetID]; ok {
		return d, nil
	}
	d, err := c.src.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	c.datasets[datasetID] = d
	return d, nil
}

func (c *Cache) GetFile(ctx context.Context, datasetID, fileID string) (*File, error) {
	d, err := c.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	f, ok := d.File(fileID)
	if !ok {
		return nil, ErrNotFound
	}
	return f, nil
}

// Invalidate drops the cached copy of a dataset.
func (c *Cache) Invalidate(datasetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.datasets, datasetID)
}
