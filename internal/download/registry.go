package download

import (
	"context"
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/ligustah/gridfetch/internal/observer"
)

var log = logging.Logger("download")

// Registry owns every dataset queued for download.
type Registry struct {
	svc *Services

	mu        sync.RWMutex
	datasets  map[string]*Dataset
	order     []string
	observers []observer.Observer[*Dataset]
}

// NewRegistry creates an empty registry. Catalog and Scheduler are
// required; other services fall back to anonymous HTTP on the local disk.
func NewRegistry(svc Services) *Registry {
	return &Registry{
		svc:      svc.withDefaults(),
		datasets: make(map[string]*Dataset),
	}
}

// Observe registers o on every current and future dataset.
func (r *Registry) Observe(o observer.Observer[*Dataset]) {
	r.mu.Lock()
	r.observers = append(r.observers, o)
	ds := r.listLocked()
	r.mu.Unlock()

	for _, d := range ds {
		d.Subscribe(o)
	}
}

// Enqueue resolves datasetID in the catalog and registers it in CREATED
// state. Enqueueing a registered dataset returns the existing one.
func (r *Registry) Enqueue(ctx context.Context, datasetID string) (*Dataset, error) {
	if d, ok := r.Get(datasetID); ok {
		return d, nil
	}

	rec, err := r.svc.Catalog.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("%w: dataset %s: %w", ErrIO, datasetID, err)
	}
	return r.add(newDataset(r.svc, rec)), nil
}

func (r *Registry) add(d *Dataset) *Dataset {
	r.mu.Lock()
	if existing, ok := r.datasets[d.id]; ok {
		r.mu.Unlock()
		return existing
	}
	r.datasets[d.id] = d
	r.order = append(r.order, d.id)
	obs := append([]observer.Observer[*Dataset](nil), r.observers...)
	r.mu.Unlock()

	for _, o := range obs {
		d.Subscribe(o)
	}
	log.Infow("dataset registered", "dataset", d.id, "files", len(d.files), "path", d.Path())
	return d
}

func (r *Registry) Get(datasetID string) (*Dataset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.datasets[datasetID]
	return d, ok
}

// List returns the registered datasets in registration order.
func (r *Registry) List() []*Dataset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []*Dataset {
	out := make([]*Dataset, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.datasets[id])
	}
	return out
}

// Remove pauses and unregisters a dataset, optionally deleting its
// directory.
func (r *Registry) Remove(datasetID string, deleteFiles bool) error {
	r.mu.Lock()
	d, ok := r.datasets[datasetID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, datasetID)
	}
	delete(r.datasets, datasetID)
	for i, id := range r.order {
		if id == datasetID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	d.PauseAll()
	if deleteFiles {
		if err := r.svc.Fs.RemoveAll(d.Path()); err != nil {
			return fmt.Errorf("%w: remove %s: %w", ErrIO, d.Path(), err)
		}
	}
	log.Infow("dataset removed", "dataset", datasetID, "deleted_files", deleteFiles)
	return nil
}
