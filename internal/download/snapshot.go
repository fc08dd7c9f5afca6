package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ligustah/gridfetch/internal/catalog"
)

// SnapshotVersion is written into every RegistrySnapshot.
const SnapshotVersion = 1

// RegistrySnapshot is the persisted form of a registry.
type RegistrySnapshot struct {
	Version  int               `json:"version"`
	SavedAt  time.Time         `json:"saved_at"`
	Datasets []DatasetSnapshot `json:"datasets"`
}

type DatasetSnapshot struct {
	InstanceID  string         `json:"instance_id"`
	Status      Status         `json:"status"`
	CurrentSize int64          `json:"current_size"`
	TotalSize   int64          `json:"total_size"`
	Priority    int            `json:"priority,omitempty"`
	Path        string         `json:"path"`
	StartedAt   time.Time      `json:"started_at,omitzero"`
	FinishedAt  time.Time      `json:"finished_at,omitzero"`
	Files       []FileSnapshot `json:"files"`
}

type FileSnapshot struct {
	InstanceID    string    `json:"instance_id"`
	Status        Status    `json:"status"`
	CurrentSize   int64     `json:"current_size"`
	TotalSize     int64     `json:"total_size"`
	Priority      int       `json:"priority,omitempty"`
	PinnedReplica string    `json:"pinned_replica,omitempty"`
	DataNode      string    `json:"data_node,omitempty"`
	StartedAt     time.Time `json:"started_at,omitzero"`
	FinishedAt    time.Time `json:"finished_at,omitzero"`
	Error         string    `json:"error,omitempty"`
}

// Snapshot captures the state of every registered dataset.
func (r *Registry) Snapshot() RegistrySnapshot {
	snap := RegistrySnapshot{Version: SnapshotVersion, SavedAt: time.Now().UTC()}
	for _, d := range r.List() {
		snap.Datasets = append(snap.Datasets, d.Snapshot())
	}
	return snap
}

// Snapshot captures the dataset and its files. Files are read one at a time,
// so a snapshot taken during transfers may be slightly behind the dataset
// counters; Restore tolerates that.
func (d *Dataset) Snapshot() DatasetSnapshot {
	d.mu.Lock()
	ds := DatasetSnapshot{
		InstanceID:  d.id,
		Status:      d.status,
		CurrentSize: d.currentSize,
		TotalSize:   d.totalSize,
		Priority:    d.priority,
		Path:        d.path,
		StartedAt:   d.started,
		FinishedAt:  d.finished,
	}
	d.mu.Unlock()

	for _, f := range d.files {
		ds.Files = append(ds.Files, f.snapshot())
	}
	return ds
}

func (f *File) snapshot() FileSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	fs := FileSnapshot{
		InstanceID:    f.id,
		Status:        f.status,
		CurrentSize:   f.currentSize,
		TotalSize:     f.totalSize,
		Priority:      f.priority,
		PinnedReplica: f.pinned,
		StartedAt:     f.started,
		FinishedAt:    f.finished,
	}
	if f.hasReplica {
		fs.DataNode = f.replica.DataNode
	}
	if f.err != nil {
		fs.Error = f.err.Error()
	}
	return fs
}

// Restore registers the datasets of snap. Nothing is transferring after a
// restart, so DOWNLOADING and READY files come back PAUSED, as do
// DOWNLOADING datasets. Files whose local copy vanished are reset to
// CREATED, which reopens a FINISHED dataset as PAUSED.
//
// Datasets that are already registered are left untouched.
func (r *Registry) Restore(ctx context.Context, snap RegistrySnapshot) error {
	if snap.Version > SnapshotVersion {
		return fmt.Errorf("%w: snapshot version %d is newer than %d", ErrInvalidArgument, snap.Version, SnapshotVersion)
	}

	var errs []error
	for _, ds := range snap.Datasets {
		if _, ok := r.Get(ds.InstanceID); ok {
			log.Warnw("dataset already registered, not restoring", "dataset", ds.InstanceID)
			continue
		}
		d, err := r.restoreDataset(ctx, ds)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.add(d)
	}
	return errors.Join(errs...)
}

func (r *Registry) restoreDataset(ctx context.Context, ds DatasetSnapshot) (*Dataset, error) {
	if ds.InstanceID == "" {
		return nil, fmt.Errorf("%w: dataset without instance id", ErrInvalidArgument)
	}
	status, ok := ParseStatus(string(ds.Status))
	if !ok {
		return nil, fmt.Errorf("%w: dataset %s has unknown status %q", ErrInvalidArgument, ds.InstanceID, ds.Status)
	}
	if status == StatusDownloading {
		status = StatusPaused
	}

	d := &Dataset{
		id:          ds.InstanceID,
		svc:         r.svc,
		byID:        make(map[string]*File, len(ds.Files)),
		status:      status,
		currentSize: ds.CurrentSize,
		totalSize:   ds.TotalSize,
		priority:    ds.Priority,
		path:        ds.Path,
		started:     ds.StartedAt,
		finished:    ds.FinishedAt,
	}
	if rec, err := r.svc.Catalog.GetDataset(ctx, ds.InstanceID); err == nil {
		d.path = derivePath(r.svc.Root, rec)
	} else if d.path == "" {
		return nil, fmt.Errorf("%w: dataset %s has no path and is not in the catalog: %w", ErrIO, ds.InstanceID, err)
	}

	for _, fsnap := range ds.Files {
		f, err := restoreFile(d, fsnap)
		if err != nil {
			return nil, err
		}
		d.files = append(d.files, f)
		d.byID[f.id] = f
	}

	for _, f := range d.files {
		if err := d.reconcile(f); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func restoreFile(d *Dataset, fs FileSnapshot) (*File, error) {
	status, ok := ParseStatus(string(fs.Status))
	if !ok {
		return nil, fmt.Errorf("%w: file %s has unknown status %q", ErrInvalidArgument, fs.InstanceID, fs.Status)
	}
	if status == StatusDownloading || status == StatusReady {
		status = StatusPaused
	}

	f := &File{
		id:          fs.InstanceID,
		dataset:     d,
		svc:         d.svc,
		status:      status,
		currentSize: fs.CurrentSize,
		totalSize:   fs.TotalSize,
		priority:    fs.Priority,
		pinned:      fs.PinnedReplica,
		started:     fs.StartedAt,
		finished:    fs.FinishedAt,
	}
	if fs.DataNode != "" {
		f.replica = catalog.Replica{DataNode: fs.DataNode}
		f.hasReplica = true
	}
	if fs.Error != "" {
		f.err = errors.New(fs.Error)
	}
	return f, nil
}

// reconcile checks a restored file against the local disk. A missing file
// loses its progress; a file shorter than recorded resumes from its real
// length.
func (d *Dataset) reconcile(f *File) error {
	if f.status == StatusCreated || f.status == StatusSkipped {
		return nil
	}

	info, err := d.svc.Fs.Stat(f.Path())
	switch {
	case err == nil:
		if size := info.Size(); size < f.currentSize && f.status != StatusFinished {
			log.Infow("local file shorter than recorded", "file", f.id, "recorded", f.currentSize, "actual", size)
			d.currentSize -= f.currentSize - size
			f.currentSize = size
		}
		return nil
	case os.IsNotExist(err):
	default:
		return fmt.Errorf("%w: stat %s: %w", ErrIO, f.id, err)
	}

	log.Infow("local file missing, resetting", "file", f.id, "status", f.status)
	d.currentSize -= f.currentSize
	f.currentSize = 0
	f.status = StatusCreated
	f.err = nil
	f.finished = time.Time{}
	if d.status == StatusFinished {
		d.status = StatusPaused
		d.finished = time.Time{}
	}
	return nil
}
