package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("scheduler")

// ErrClosed is returned by Submit after Shutdown.
var ErrClosed = errors.New("scheduler: closed")

// ErrDuplicate is returned by Submit when a job with the same key is already
// queued.
var ErrDuplicate = errors.New("scheduler: job already queued")

// Job is a unit of work. Run must contain its own failures: the scheduler
// recovers panics but otherwise ignores the outcome.
type Job interface {
	// Key identifies the job. At most one job per key is queued or running
	// at any time. Submitting a key while its job runs schedules one more
	// run after the current one returns.
	Key() string
	Run(ctx context.Context)
}

// Prioritized jobs are dequeued highest priority first when the scheduler
// is created with PriorityOrder.
type Prioritized interface {
	Priority() int
}

// Options configures the scheduler.
type Options struct {
	// Workers is the number of jobs run concurrently.
	// Default: 5
	Workers int

	// PriorityOrder dequeues Prioritized jobs highest priority first,
	// keeping submission order among equal priorities. When false the queue
	// is strictly first-in first-out.
	PriorityOrder bool
}

// Scheduler is a bounded worker pool with an unbounded queue. Submit never
// blocks.
type Scheduler struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	cond    *sync.Cond
	queue   jobQueue
	seq     uint64
	active  map[string]bool // keys queued or running
	rerun   map[string]Job  // resubmitted while running
	running map[string]bool
	closed  bool
}

// New starts a scheduler with opts.Workers workers.
func New(opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = 5
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		active:  make(map[string]bool),
		rerun:   make(map[string]Job),
		running: make(map[string]bool),
	}
	s.cond = sync.NewCond(&s.mu)
	s.queue.priority = opts.PriorityOrder

	for i := 0; i < opts.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Submit queues job. It returns ErrDuplicate if a job with the same key is
// already queued, and ErrClosed after Shutdown. A job whose key is running
// is queued again once the running job returns, so state changes made while
// it winds down are never lost.
func (s *Scheduler) Submit(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	key := job.Key()
	if s.running[key] {
		if _, ok := s.rerun[key]; ok {
			return ErrDuplicate
		}
		s.rerun[key] = job
		return nil
	}
	if s.active[key] {
		return ErrDuplicate
	}
	s.active[key] = true
	s.pushLocked(job)
	return nil
}

func (s *Scheduler) pushLocked(job Job) {
	prio := 0
	if p, ok := job.(Prioritized); ok {
		prio = p.Priority()
	}
	heap.Push(&s.queue, &item{job: job, priority: prio, seq: s.seq})
	s.seq++
	s.cond.Signal()
}

// Queued returns the number of jobs waiting for a worker.
func (s *Scheduler) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Running returns the number of jobs currently executing.
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Shutdown stops accepting jobs, drops queued jobs, cancels the context
// passed to running jobs and waits for them to return or for ctx to end.
// It returns the number of queued jobs that were dropped.
func (s *Scheduler) Shutdown(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, nil
	}
	s.closed = true
	dropped := s.queue.Len() + len(s.rerun)
	s.queue.items = nil
	clear(s.rerun)
	s.cond.Broadcast()
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return dropped, nil
	case <-ctx.Done():
		return dropped, ctx.Err()
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		for s.queue.Len() == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		it := heap.Pop(&s.queue).(*item)
		key := it.job.Key()
		s.running[key] = true
		s.mu.Unlock()

		s.run(it.job)

		s.mu.Lock()
		delete(s.running, key)
		if next, ok := s.rerun[key]; ok && !s.closed {
			delete(s.rerun, key)
			s.pushLocked(next)
		} else {
			delete(s.active, key)
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("job panicked", "job", job.Key(), "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()

	log.Debugw("job started", "job", job.Key())
	job.Run(s.ctx)
	log.Debugw("job finished", "job", job.Key())
}

type item struct {
	job      Job
	priority int
	seq      uint64
}

// jobQueue is a heap ordered by submission sequence, or by priority then
// sequence.
type jobQueue struct {
	items    []*item
	priority bool
}

func (q jobQueue) Len() int { return len(q.items) }

func (q jobQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if q.priority && a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.seq < b.seq
}

func (q jobQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *jobQueue) Push(x any) { q.items = append(q.items, x.(*item)) }

func (q *jobQueue) Pop() any {
	old := q.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return it
}
