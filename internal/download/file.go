package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ligustah/gridfetch/internal/catalog"
	"github.com/ligustah/gridfetch/internal/checksum"
	"github.com/ligustah/gridfetch/internal/observer"
)

// File is the transfer of one catalog file into its dataset's directory.
//
// A File is created by its Dataset and never changes owner. All state is
// guarded by an internal mutex; observers are notified outside of it.
type File struct {
	id      string
	dataset *Dataset
	svc     *Services
	events  observer.Bus[*File]

	mu           sync.Mutex
	status       Status
	currentSize  int64
	totalSize    int64
	priority     int
	replica      catalog.Replica
	hasReplica   bool
	pinned       string
	checksum     string
	checksumKind checksum.Kind
	started      time.Time
	finished     time.Time
	err          error
}

func newFile(d *Dataset, rec catalog.File) *File {
	return &File{
		id:        rec.InstanceID,
		dataset:   d,
		svc:       d.svc,
		status:    StatusCreated,
		totalSize: rec.Size,
	}
}

// ID returns the catalog instance id of the file.
func (f *File) ID() string { return f.id }

// Dataset returns the owning dataset.
func (f *File) Dataset() *Dataset { return f.dataset }

func (f *File) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *File) CurrentSize() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentSize
}

// TotalSize returns the expected length, or 0 while unknown.
func (f *File) TotalSize() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalSize
}

func (f *File) Priority() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.priority
}

// SetPriority changes the scheduling priority used for future submissions.
func (f *File) SetPriority(p int) {
	f.mu.Lock()
	f.priority = p
	f.mu.Unlock()
}

// Replica returns the replica chosen by the last Prepare.
func (f *File) Replica() (catalog.Replica, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.replica, f.hasReplica
}

// PinnedReplica returns the data node pinned with PinReplica, if any.
func (f *File) PinnedReplica() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pinned
}

// Err returns the failure that moved the file to its current state, if any.
func (f *File) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *File) StartedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *File) FinishedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finished
}

// Path returns the local file path inside the dataset directory.
func (f *File) Path() string {
	return filepath.Join(f.dataset.Path(), pathElement(f.id))
}

// Subscribe registers o for this file's events.
func (f *File) Subscribe(o observer.Observer[*File]) uuid.UUID {
	return f.events.Subscribe(o)
}

func (f *File) Unsubscribe(id uuid.UUID) bool {
	return f.events.Unsubscribe(id)
}

// Prepare resolves the file in the catalog, records its checksum and picks a
// replica. It is allowed from CREATED, PAUSED and UNAUTHORIZED and leaves the
// file READY.
//
// When resuming, a local file that has disappeared resets the progress
// counter to zero and debits the dataset accordingly.
func (f *File) Prepare(ctx context.Context) error {
	f.mu.Lock()
	from := f.status
	pinned := f.pinned
	f.mu.Unlock()

	if !from.startable() {
		return fmt.Errorf("%w: prepare %s from %s", ErrIllegalState, f.id, from)
	}

	rec, err := f.svc.Catalog.GetFile(ctx, f.dataset.id, f.id)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %w", ErrIO, f.id, err)
	}
	replica, err := f.chooseReplica(rec, pinned)
	if err != nil {
		return err
	}

	var kind checksum.Kind
	sum := rec.Checksum
	if sum != "" {
		typ := rec.ChecksumType
		if typ == "" {
			typ = string(checksum.SHA256)
		}
		if kind, err = checksum.ParseKind(typ); err != nil {
			log.Warnw("ignoring checksum of unknown kind", "file", f.id, "kind", rec.ChecksumType)
			sum = ""
		}
	}

	lost := false
	if from == StatusPaused || from == StatusUnauthorized {
		if _, err := f.svc.Fs.Stat(f.Path()); err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("%w: stat %s: %w", ErrIO, f.id, err)
			}
			lost = true
		}
	}

	f.mu.Lock()
	if f.status != from {
		now := f.status
		f.mu.Unlock()
		return fmt.Errorf("%w: %s moved to %s while preparing", ErrIllegalState, f.id, now)
	}
	var debit int64
	if lost {
		debit = f.currentSize
		f.currentSize = 0
	}
	f.replica = replica
	f.hasReplica = true
	f.checksum = sum
	f.checksumKind = kind
	f.err = nil
	f.status = StatusReady
	f.mu.Unlock()

	if debit != 0 {
		log.Infow("local file disappeared, restarting from zero", "file", f.id, "lost", debit)
		f.dataset.adjust(-debit, 0)
	}
	log.Debugw("file prepared", "file", f.id, "data_node", replica.DataNode)
	return nil
}

// chooseReplica returns the pinned replica, or a uniformly random one among
// those offering HTTP.
func (f *File) chooseReplica(rec *catalog.File, pinned string) (catalog.Replica, error) {
	if pinned != "" {
		r, ok := rec.Replica(pinned)
		if !ok {
			return catalog.Replica{}, fmt.Errorf("%w: %s is not hosted on %s", ErrNoReplica, f.id, pinned)
		}
		if _, ok := r.URL(catalog.ServiceHTTP); !ok {
			return catalog.Replica{}, fmt.Errorf("%w: %s offers no HTTP access to %s", ErrNoReplica, pinned, f.id)
		}
		return r, nil
	}

	var usable []catalog.Replica
	for _, r := range rec.Replicas {
		if _, ok := r.URL(catalog.ServiceHTTP); ok {
			usable = append(usable, r)
		}
	}
	if len(usable) == 0 {
		return catalog.Replica{}, fmt.Errorf("%w: %s", ErrNoReplica, f.id)
	}
	return usable[f.svc.pick(len(usable))], nil
}

// Pause stops the transfer at the next chunk boundary. It is valid from any
// state and never fails.
func (f *File) Pause() {
	f.mu.Lock()
	f.status = StatusPaused
	f.mu.Unlock()
	log.Debugw("file paused", "file", f.id)
}

// Reset returns the file to CREATED, deletes its local copy and removes its
// progress from the dataset. A skipped file's length is added back to the
// dataset total.
func (f *File) Reset() error {
	f.mu.Lock()
	prev := f.status
	cur, tot := f.currentSize, f.totalSize
	f.status = StatusCreated
	f.currentSize = 0
	f.err = nil
	f.started = time.Time{}
	f.finished = time.Time{}
	f.mu.Unlock()

	if prev == StatusSkipped {
		f.dataset.adjust(0, tot)
	} else if cur != 0 {
		f.dataset.adjust(-cur, 0)
	}
	f.dataset.reopen()

	if err := f.svc.Fs.Remove(f.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove %s: %w", ErrIO, f.id, err)
	}
	log.Debugw("file reset", "file", f.id, "from", prev)
	return nil
}

// PinReplica makes future Prepare calls use the replica on dataNode. An empty
// dataNode restores random selection.
func (f *File) PinReplica(dataNode string) {
	f.mu.Lock()
	f.pinned = dataNode
	f.mu.Unlock()
}

// Retry resets the file and submits it again.
func (f *File) Retry(ctx context.Context) error {
	if err := f.Reset(); err != nil {
		return err
	}
	return f.dataset.StartOne(ctx, f)
}

// finish moves a DOWNLOADING file to FINISHED and lets the dataset check for
// completion.
func (f *File) finish() {
	f.mu.Lock()
	if f.status != StatusDownloading {
		f.mu.Unlock()
		return
	}
	f.status = StatusFinished
	f.finished = time.Now()
	size := f.currentSize
	f.mu.Unlock()

	log.Infow("file finished", "file", f.id, "bytes", size)
	f.events.Completed(f)
	f.dataset.checkCompletion()
}

// fail records err and moves a DOWNLOADING file to the state err maps to.
// Files that were paused or skipped meanwhile keep their state.
func (f *File) fail(err error) {
	var next Status
	switch {
	case errors.Is(err, ErrUnauthorized):
		next = StatusUnauthorized
	case errors.Is(err, ErrChecksumMismatch):
		next = StatusChecksumFailed
	default:
		next = StatusFailed
	}

	f.mu.Lock()
	if f.status != StatusDownloading {
		f.mu.Unlock()
		log.Debugw("discarding failure of interrupted transfer", "file", f.id, "error", err)
		return
	}
	f.status = next
	f.err = err
	f.finished = time.Now()
	f.mu.Unlock()

	log.Warnw("transfer failed", "file", f.id, "status", next, "error", err)
	if next == StatusUnauthorized {
		f.events.Unauthorized(f)
		f.dataset.events.Unauthorized(f.dataset)
		return
	}
	f.events.Error(f)
	f.dataset.events.Error(f.dataset)
}
