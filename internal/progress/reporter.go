package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ligustah/gridfetch/internal/download"
)

const prefix = "[gridfetch]"

// Lister lists the datasets to report on. *download.Registry satisfies it.
type Lister interface {
	List() []*download.Dataset
}

// Options configures the progress reporter.
type Options struct {
	// Output is where to write progress output.
	// Default: os.Stdout
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration
}

// Stats is a point-in-time aggregate over all datasets.
type Stats struct {
	Current  int64
	Total    int64
	Datasets int
	Active   int
	Finished int
	Failed   int
	Pending  int
}

// Collect aggregates the byte counters and file states of datasets.
func Collect(datasets []*download.Dataset) Stats {
	var s Stats
	for _, d := range datasets {
		s.Datasets++
		cur, tot := d.Sizes()
		s.Current += cur
		s.Total += tot
		for _, f := range d.Files() {
			switch f.Status() {
			case download.StatusDownloading:
				s.Active++
			case download.StatusFinished:
				s.Finished++
			case download.StatusFailed, download.StatusUnauthorized, download.StatusChecksumFailed:
				s.Failed++
			case download.StatusSkipped:
			default:
				s.Pending++
			}
		}
	}
	return s
}

// Reporter outputs human-readable progress information. It implements
// observer.Observer[*download.Dataset] so it can be attached to a registry.
type Reporter struct {
	src  Lister
	opts Options

	mu        sync.Mutex
	startTime time.Time
	lastTime  time.Time
	lastBytes int64
	stopCh    chan struct{}
	done      chan struct{}
}

// NewReporter creates a new progress reporter over the datasets of src.
func NewReporter(src Lister, opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}
	return &Reporter{src: src, opts: opts}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopCh != nil {
		return
	}
	r.startTime = time.Now()
	r.lastTime = r.startTime
	r.lastBytes = Collect(r.src.List()).Current
	r.stopCh = make(chan struct{})
	r.done = make(chan struct{})
	go r.updateLoop(r.stopCh, r.done)
}

// Stop stops the reporter and prints a summary.
func (r *Reporter) Stop() {
	r.mu.Lock()
	stopCh, done := r.stopCh, r.done
	r.stopCh, r.done = nil, nil
	r.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-done
}

func (r *Reporter) updateLoop(stopCh, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			r.printSummary()
			return
		case <-ticker.C:
			r.printProgress(time.Now())
		}
	}
}

func (r *Reporter) printProgress(now time.Time) {
	s := Collect(r.src.List())

	r.mu.Lock()
	elapsed := now.Sub(r.lastTime).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	// Counters drop when files are reset or skipped.
	speed := max(float64(s.Current-r.lastBytes)/elapsed, 0)
	r.lastTime = now
	r.lastBytes = s.Current
	r.mu.Unlock()

	var percent float64
	eta := "unknown"
	if s.Total > 0 {
		percent = float64(s.Current) / float64(s.Total) * 100
		if speed > 0 {
			remaining := float64(s.Total - s.Current)
			eta = formatDuration(time.Duration(remaining / speed * float64(time.Second)))
		}
	}

	r.printf("%s Progress: %.1f%% | %s / %s | Speed: %s/s | ETA: %s\n",
		prefix, percent, formatBytes(s.Current), formatBytes(s.Total), formatBytes(int64(speed)), eta)
	r.printf("%s Files: %d active | %d finished | %d failed | %d pending\n",
		prefix, s.Active, s.Finished, s.Failed, s.Pending)
}

func (r *Reporter) printSummary() {
	s := Collect(r.src.List())
	r.mu.Lock()
	duration := time.Since(r.startTime)
	r.mu.Unlock()

	r.printf("%s Done: %s / %s in %s | %d finished | %d failed\n",
		prefix, formatBytes(s.Current), formatBytes(s.Total), formatDuration(duration), s.Finished, s.Failed)
}

func (r *Reporter) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.opts.Output, format, args...)
}

func (r *Reporter) OnProgress(*download.Dataset) {}

func (r *Reporter) OnCompleted(d *download.Dataset) {
	took := "unknown time"
	if started := d.StartedAt(); !started.IsZero() {
		took = formatDuration(d.FinishedAt().Sub(started))
	}
	r.printf("%s Finished %s: %s in %s\n", prefix, d.ID(), formatBytes(d.TotalSize()), took)
}

func (r *Reporter) OnError(d *download.Dataset) {
	r.printf("%s Failed %s: %s\n", prefix, d.ID(), failedFiles(d, download.StatusFailed, download.StatusChecksumFailed))
}

func (r *Reporter) OnUnauthorized(d *download.Dataset) {
	r.printf("%s Unauthorized %s: %s (log in and retry)\n", prefix, d.ID(), failedFiles(d, download.StatusUnauthorized))
}

func failedFiles(d *download.Dataset, states ...download.Status) string {
	var out string
	for _, f := range d.Files() {
		st := f.Status()
		for _, want := range states {
			if st != want {
				continue
			}
			if out != "" {
				out += ", "
			}
			out += f.ID() + " " + string(st)
		}
	}
	if out == "" {
		return "no failed files"
	}
	return out
}
