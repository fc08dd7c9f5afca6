package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ligustah/gridfetch/internal/catalog"
	"github.com/ligustah/gridfetch/internal/observer"
	"github.com/ligustah/gridfetch/internal/scheduler"
)

// Dataset aggregates the transfers of every file of one catalog dataset.
//
// The dataset's current size is the sum of the current sizes of its
// non-skipped files, and its total size the sum of their expected lengths.
// A dataset is FINISHED exactly when every non-skipped file is FINISHED.
type Dataset struct {
	id     string
	svc    *Services
	files  []*File
	byID   map[string]*File
	events observer.Bus[*Dataset]

	mu          sync.Mutex
	status      Status
	currentSize int64
	totalSize   int64
	priority    int
	path        string
	started     time.Time
	finished    time.Time
}

func newDataset(svc *Services, rec *catalog.Dataset) *Dataset {
	d := &Dataset{
		id:     rec.InstanceID,
		svc:    svc,
		byID:   make(map[string]*File, len(rec.Files)),
		status: StatusCreated,
		path:   derivePath(svc.Root, rec),
	}
	for _, fr := range rec.Files {
		f := newFile(d, fr)
		d.files = append(d.files, f)
		d.byID[f.id] = f
		d.totalSize += fr.Size
	}
	return d
}

func (d *Dataset) ID() string { return d.id }

func (d *Dataset) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Dataset) CurrentSize() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentSize
}

func (d *Dataset) TotalSize() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalSize
}

// Sizes returns the current and total size read together.
func (d *Dataset) Sizes() (current, total int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentSize, d.totalSize
}

func (d *Dataset) Priority() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.priority
}

// SetPriority sets the priority of the dataset and all of its files.
func (d *Dataset) SetPriority(p int) {
	d.mu.Lock()
	d.priority = p
	d.mu.Unlock()
	for _, f := range d.files {
		f.SetPriority(p)
	}
}

// Path returns the directory files are stored in.
func (d *Dataset) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.path
}

// SetPath moves future transfers to dir. Existing files are not moved.
func (d *Dataset) SetPath(dir string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == StatusDownloading || d.status == StatusFinished {
		return fmt.Errorf("%w: cannot change path of %s dataset %s", ErrIllegalState, d.status, d.id)
	}
	d.path = dir
	return nil
}

// RecomputePath derives the directory from the catalog metadata again.
func (d *Dataset) RecomputePath(ctx context.Context) error {
	rec, err := d.svc.Catalog.GetDataset(ctx, d.id)
	if err != nil {
		return fmt.Errorf("%w: dataset %s: %w", ErrIO, d.id, err)
	}
	return d.SetPath(derivePath(d.svc.Root, rec))
}

func (d *Dataset) StartedAt() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

func (d *Dataset) FinishedAt() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.finished
}

// Files returns the files in catalog order.
func (d *Dataset) Files() []*File {
	out := make([]*File, len(d.files))
	copy(out, d.files)
	return out
}

// File returns the file with the given instance id.
func (d *Dataset) File(id string) (*File, bool) {
	f, ok := d.byID[id]
	return f, ok
}

// Subscribe registers o for this dataset's events.
func (d *Dataset) Subscribe(o observer.Observer[*Dataset]) uuid.UUID {
	return d.events.Subscribe(o)
}

func (d *Dataset) Unsubscribe(id uuid.UUID) bool {
	return d.events.Unsubscribe(id)
}

// StartAll prepares and submits every file that is CREATED, PAUSED or
// UNAUTHORIZED. Files that fail to prepare are reported in the joined error
// and do not stop the others.
func (d *Dataset) StartAll(ctx context.Context) error {
	if _, err := d.svc.Catalog.GetDataset(ctx, d.id); err != nil {
		return fmt.Errorf("%w: dataset %s: %w", ErrIO, d.id, err)
	}
	if d.Status() == StatusFinished {
		return nil
	}

	d.markDownloading()
	var errs []error
	for _, f := range d.files {
		if err := d.submit(ctx, f); err != nil {
			errs = append(errs, err)
		}
	}
	d.checkCompletion()
	return errors.Join(errs...)
}

// StartOne starts a single file of the dataset.
func (d *Dataset) StartOne(ctx context.Context, f *File) error {
	if err := d.owns(f); err != nil {
		return err
	}
	d.markDownloading()
	return d.submit(ctx, f)
}

// PauseAll pauses the dataset and every file that is queued or
// transferring.
func (d *Dataset) PauseAll() {
	d.mu.Lock()
	d.status = StatusPaused
	d.mu.Unlock()

	for _, f := range d.files {
		switch f.Status() {
		case StatusReady, StatusDownloading:
			f.Pause()
		}
	}
	log.Infow("dataset paused", "dataset", d.id)
}

// Select restricts the download to the files named in ids.
//
// On a dataset that was never started, files outside ids are skipped and the
// rest are submitted. On a started or finished dataset, Select only adds:
// skipped files in ids are promoted back and submitted, nothing is skipped.
// Selecting the same ids twice has no further effect.
func (d *Dataset) Select(ctx context.Context, ids []string) error {
	if ids == nil {
		return ErrNilArgument
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := d.byID[id]; !ok {
			return fmt.Errorf("%w: file %s is not part of dataset %s", ErrInvalidArgument, id, d.id)
		}
		want[id] = true
	}

	var submit []*File
	switch st := d.Status(); st {
	case StatusCreated:
		for _, f := range d.files {
			if want[f.id] {
				d.unskip(f)
				submit = append(submit, f)
			} else {
				d.exclude(f)
			}
		}
	case StatusDownloading, StatusPaused:
		for _, f := range d.files {
			if want[f.id] {
				d.unskip(f)
				submit = append(submit, f)
			}
		}
	case StatusFinished:
		for _, f := range d.files {
			if want[f.id] && d.unskip(f) {
				submit = append(submit, f)
			}
		}
	default:
		return fmt.Errorf("%w: select on %s dataset %s", ErrIllegalState, st, d.id)
	}

	if len(submit) > 0 {
		d.markDownloading()
	}
	var errs []error
	for _, f := range submit {
		if err := d.submit(ctx, f); err != nil {
			errs = append(errs, err)
		}
	}
	d.checkCompletion()
	return errors.Join(errs...)
}

// Skip excludes f from the dataset. Its bytes leave both dataset counters
// and its partial local copy is deleted. A finished or checksum-failed file
// stays on disk.
func (d *Dataset) Skip(f *File) error {
	if err := d.owns(f); err != nil {
		return err
	}
	if !d.exclude(f) {
		return fmt.Errorf("%w: %s is already skipped", ErrIllegalState, f.id)
	}
	d.checkCompletion()
	return nil
}

// IncrementProgress adds n transferred bytes to the dataset.
func (d *Dataset) IncrementProgress(n int64) {
	d.mu.Lock()
	d.currentSize += n
	d.mu.Unlock()
	d.events.Progress(d)
}

// SetCurrentSize overrides the aggregate current size.
func (d *Dataset) SetCurrentSize(n int64) {
	d.mu.Lock()
	d.currentSize = n
	d.mu.Unlock()
}

// SetTotalSize overrides the aggregate total size.
func (d *Dataset) SetTotalSize(n int64) {
	d.mu.Lock()
	d.totalSize = n
	d.mu.Unlock()
}

func (d *Dataset) adjust(current, total int64) {
	if current == 0 && total == 0 {
		return
	}
	d.mu.Lock()
	d.currentSize += current
	d.totalSize += total
	d.mu.Unlock()
}

func (d *Dataset) owns(f *File) error {
	if f == nil || f.dataset != d {
		return fmt.Errorf("%w: file does not belong to dataset %s", ErrInvalidArgument, d.id)
	}
	return nil
}

func (d *Dataset) markDownloading() {
	d.mu.Lock()
	d.status = StatusDownloading
	d.started = time.Now()
	d.finished = time.Time{}
	d.mu.Unlock()
}

// reopen moves a finished dataset back to PAUSED after one of its files was
// reset.
func (d *Dataset) reopen() {
	d.mu.Lock()
	if d.status == StatusFinished {
		d.status = StatusPaused
		d.finished = time.Time{}
	}
	d.mu.Unlock()
}

// submit prepares f if needed and hands it to the scheduler. Files that are
// transferring or terminal are left alone.
func (d *Dataset) submit(ctx context.Context, f *File) error {
	switch f.Status() {
	case StatusCreated, StatusPaused, StatusUnauthorized:
		if err := f.Prepare(ctx); err != nil {
			return err
		}
	case StatusReady:
	default:
		return nil
	}

	err := d.svc.Scheduler.Submit(fileJob{f: f})
	if errors.Is(err, scheduler.ErrDuplicate) {
		return nil
	}
	return err
}

// unskip promotes a skipped file back to CREATED and adds its length to the
// dataset total.
func (d *Dataset) unskip(f *File) bool {
	f.mu.Lock()
	if f.status != StatusSkipped {
		f.mu.Unlock()
		return false
	}
	f.status = StatusCreated
	f.currentSize = 0
	f.err = nil
	tot := f.totalSize
	f.mu.Unlock()

	d.adjust(0, tot)
	return true
}

// exclude marks f SKIPPED and removes its bytes from the dataset. It
// reports false when f was already skipped.
func (d *Dataset) exclude(f *File) bool {
	f.mu.Lock()
	if f.status == StatusSkipped {
		f.mu.Unlock()
		return false
	}
	prev := f.status
	cur, tot := f.currentSize, f.totalSize
	f.status = StatusSkipped
	keep := prev == StatusFinished || prev == StatusChecksumFailed
	if !keep {
		f.currentSize = 0
	}
	f.mu.Unlock()

	d.adjust(-cur, -tot)
	if !keep {
		if err := d.svc.Fs.Remove(f.Path()); err != nil && !os.IsNotExist(err) {
			log.Warnw("removing skipped file", "file", f.id, "error", err)
		}
	}
	log.Debugw("file skipped", "file", f.id, "from", prev)
	return true
}

// checkCompletion finishes the dataset once every non-skipped file is
// FINISHED.
func (d *Dataset) checkCompletion() {
	for _, f := range d.files {
		switch f.Status() {
		case StatusFinished, StatusSkipped:
		default:
			return
		}
	}

	d.mu.Lock()
	if d.status == StatusFinished {
		d.mu.Unlock()
		return
	}
	d.status = StatusFinished
	d.finished = time.Now()
	d.mu.Unlock()

	log.Infow("dataset finished", "dataset", d.id)
	d.events.Completed(d)
}

// fileJob runs a file transfer on the scheduler.
type fileJob struct {
	f *File
}

func (j fileJob) Key() string   { return j.f.dataset.id + "/" + j.f.id }
func (j fileJob) Priority() int { return j.f.Priority() }

func (j fileJob) Run(ctx context.Context) {
	// A rerun whose attempt was already handled by the previous run.
	if j.f.Status() != StatusReady {
		return
	}
	if err := j.f.Execute(ctx); err != nil {
		log.Debugw("transfer ended with error", "file", j.f.id, "error", err)
	}
}
