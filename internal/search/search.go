package search

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/ligustah/gridfetch/internal/catalog"
	"github.com/ligustah/gridfetch/internal/download"
	"github.com/ligustah/gridfetch/internal/observer"
	"github.com/ligustah/gridfetch/internal/scheduler"
)

var log = logging.Logger("search")

var (
	// ErrIllegalState means the operation is not allowed in the search's
	// current state.
	ErrIllegalState = errors.New("search: illegal state")

	// ErrInvalidArgument means a dataset is not part of the search.
	ErrInvalidArgument = errors.New("search: invalid argument")

	// ErrNilArgument means a required collection argument was nil.
	ErrNilArgument = fmt.Errorf("%w: nil collection", ErrInvalidArgument)
)

// Status is the lifecycle state of a harvesting campaign.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusHarvesting Status = "HARVESTING"
	StatusPaused     Status = "PAUSED"
	StatusFinished   Status = "FINISHED"
	StatusFailed     Status = "FAILED"
)

// Harvester discovers the file and replica catalog of one dataset.
type Harvester interface {
	Harvest(ctx context.Context, datasetID string) error
}

// Submitter queues harvesting jobs. *scheduler.Scheduler satisfies it.
type Submitter interface {
	Submit(job scheduler.Job) error
}

// Search tracks the harvesting of every dataset a query returned, and the
// files the operator selected from each.
type Search struct {
	id     uuid.UUID
	query  string
	events observer.Bus[*Search]

	mu        sync.Mutex
	status    Status
	order     []string
	harvested map[string]bool
	completed int
	aborted   map[string]error
	selected  map[string][]string
	started   time.Time
	finished  time.Time
	sub       Submitter
	harvester Harvester
}

// New creates a search over datasetIDs. Duplicate ids count once.
func New(query string, datasetIDs []string) *Search {
	s := &Search{
		id:        uuid.New(),
		query:     query,
		status:    StatusCreated,
		harvested: make(map[string]bool, len(datasetIDs)),
		aborted:   make(map[string]error),
		selected:  make(map[string][]string),
	}
	for _, id := range datasetIDs {
		if _, ok := s.harvested[id]; ok {
			continue
		}
		s.harvested[id] = false
		s.order = append(s.order, id)
	}
	return s
}

func (s *Search) ID() uuid.UUID { return s.id }
func (s *Search) Query() string { return s.query }

func (s *Search) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// DatasetIDs returns the datasets of the search in query order.
func (s *Search) DatasetIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order)
}

// Progress returns the number of harvested, aborted and total datasets.
func (s *Search) Progress() (completed, aborted, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed, len(s.aborted), len(s.order)
}

// Harvested reports whether datasetID has been harvested.
func (s *Search) Harvested(datasetID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.harvested[datasetID]
}

// AbortReason returns why harvesting datasetID was aborted.
func (s *Search) AbortReason(datasetID string) (error, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err, ok := s.aborted[datasetID]
	return err, ok
}

func (s *Search) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *Search) FinishedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

func (s *Search) Subscribe(o observer.Observer[*Search]) uuid.UUID {
	return s.events.Subscribe(o)
}

func (s *Search) Unsubscribe(id uuid.UUID) bool {
	return s.events.Unsubscribe(id)
}

// MarkHarvested records that datasetID was harvested. Marking the same
// dataset twice has no further effect. Once every dataset is harvested the
// search finishes.
func (s *Search) MarkHarvested(datasetID string) error {
	s.mu.Lock()
	done, ok := s.harvested[datasetID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: dataset %s is not part of search %s", ErrInvalidArgument, datasetID, s.id)
	}
	if done {
		s.mu.Unlock()
		return nil
	}
	s.harvested[datasetID] = true
	delete(s.aborted, datasetID)
	s.completed++
	finished := s.settleLocked()
	s.mu.Unlock()

	log.Debugw("dataset harvested", "search", s.id, "dataset", datasetID)
	s.events.Progress(s)
	if finished {
		log.Infow("search finished", "search", s.id)
		s.events.Completed(s)
	}
	return nil
}

// MarkAborted records that harvesting datasetID failed with cause. The
// search fails once every dataset is either harvested or aborted and at
// least one was aborted.
func (s *Search) MarkAborted(datasetID string, cause error) error {
	s.mu.Lock()
	done, ok := s.harvested[datasetID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: dataset %s is not part of search %s", ErrInvalidArgument, datasetID, s.id)
	}
	if done {
		s.mu.Unlock()
		return fmt.Errorf("%w: dataset %s is already harvested", ErrIllegalState, datasetID)
	}
	if cause == nil {
		cause = errors.New("aborted")
	}
	s.aborted[datasetID] = cause
	s.settleLocked()
	s.mu.Unlock()

	log.Warnw("harvest aborted", "search", s.id, "dataset", datasetID, "error", cause)
	s.events.Error(s)
	return nil
}

// settleLocked moves the search to its final state when nothing is left
// pending and reports whether it just finished successfully.
func (s *Search) settleLocked() bool {
	if s.status == StatusFinished {
		return false
	}
	total := len(s.order)
	switch {
	case s.completed == total:
		s.status = StatusFinished
		s.finished = time.Now()
		return true
	case s.completed+len(s.aborted) == total:
		s.status = StatusFailed
		s.finished = time.Now()
	}
	return false
}

// SelectFiles restricts the files later downloaded from datasetID. Without
// a selection, Apply downloads every file.
func (s *Search) SelectFiles(datasetID string, fileIDs []string) error {
	if fileIDs == nil {
		return ErrNilArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.harvested[datasetID]; !ok {
		return fmt.Errorf("%w: dataset %s is not part of search %s", ErrInvalidArgument, datasetID, s.id)
	}
	ids := slices.Clone(fileIDs)
	slices.Sort(ids)
	s.selected[datasetID] = slices.Compact(ids)
	return nil
}

// SelectedFiles returns the selection for datasetID, if one was made.
func (s *Search) SelectedFiles(datasetID string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, ok := s.selected[datasetID]
	return slices.Clone(ids), ok
}

// Run submits one harvesting job per pending dataset to sub. Aborted
// datasets are retried. A search without datasets finishes immediately.
func (s *Search) Run(ctx context.Context, sub Submitter, h Harvester) error {
	s.mu.Lock()
	switch s.status {
	case StatusFinished, StatusHarvesting:
		st := s.status
		s.mu.Unlock()
		return fmt.Errorf("%w: run %s search", ErrIllegalState, st)
	}
	s.sub, s.harvester = sub, h
	s.status = StatusHarvesting
	s.started = time.Now()
	s.finished = time.Time{}
	clear(s.aborted)
	finished := s.settleLocked()
	pending := s.pendingLocked()
	s.mu.Unlock()

	if finished {
		s.events.Completed(s)
		return nil
	}
	return s.submit(pending)
}

// Pause stops submitting harvesting jobs. Queued jobs return without
// harvesting; jobs already running complete.
func (s *Search) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusHarvesting {
		return fmt.Errorf("%w: pause %s search", ErrIllegalState, s.status)
	}
	s.status = StatusPaused
	return nil
}

// Resume continues a paused search with the submitter and harvester of the
// last Run.
func (s *Search) Resume() error {
	s.mu.Lock()
	if s.status != StatusPaused || s.sub == nil {
		st := s.status
		s.mu.Unlock()
		return fmt.Errorf("%w: resume %s search", ErrIllegalState, st)
	}
	s.status = StatusHarvesting
	pending := s.pendingLocked()
	s.mu.Unlock()
	return s.submit(pending)
}

func (s *Search) pendingLocked() []string {
	var out []string
	for _, id := range s.order {
		if _, aborted := s.aborted[id]; !s.harvested[id] && !aborted {
			out = append(out, id)
		}
	}
	return out
}

func (s *Search) submit(ids []string) error {
	var errs []error
	for _, id := range ids {
		err := s.sub.Submit(harvestJob{s: s, datasetID: id})
		if err != nil && !errors.Is(err, scheduler.ErrDuplicate) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Apply enqueues every harvested dataset in reg and starts it, restricted
// to the selected files where a selection was made.
func (s *Search) Apply(ctx context.Context, reg *download.Registry) ([]*download.Dataset, error) {
	var out []*download.Dataset
	var errs []error
	for _, id := range s.DatasetIDs() {
		if !s.Harvested(id) {
			continue
		}
		d, err := reg.Enqueue(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, d)

		if ids, ok := s.SelectedFiles(id); ok {
			err = d.Select(ctx, ids)
		} else {
			err = d.StartAll(ctx)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("start %s: %w", id, err))
		}
	}
	return out, errors.Join(errs...)
}

type harvestJob struct {
	s         *Search
	datasetID string
}

func (j harvestJob) Key() string { return "search/" + j.s.id.String() + "/" + j.datasetID }

func (j harvestJob) Run(ctx context.Context) {
	j.s.mu.Lock()
	st, h := j.s.status, j.s.harvester
	done := j.s.harvested[j.datasetID]
	j.s.mu.Unlock()
	if st != StatusHarvesting || done {
		return
	}

	err := h.Harvest(ctx, j.datasetID)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		j.s.MarkAborted(j.datasetID, err)
		return
	}
	j.s.MarkHarvested(j.datasetID)
}

// CatalogHarvester harvests a dataset by resolving it in a catalog, which
// warms any cache in front of it.
type CatalogHarvester struct {
	Catalog catalog.Catalog
}

func (h CatalogHarvester) Harvest(ctx context.Context, datasetID string) error {
	d, err := h.Catalog.GetDataset(ctx, datasetID)
	if err != nil {
		return fmt.Errorf("harvest %s: %w", datasetID, err)
	}
	if len(d.Files) == 0 {
		return fmt.Errorf("harvest %s: dataset has no files", datasetID)
	}
	return nil
}
