package state

import (
	"context"
	"sync"
	"time"

	"github.com/ligustah/gridfetch/internal/download"
)

// DefaultInterval is used when an Autosaver is created with a zero interval.
const DefaultInterval = 30 * time.Second

// Autosaver periodically saves the snapshot returned by a snapshot function.
type Autosaver struct {
	store    *Store
	snapshot func() download.RegistrySnapshot
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
	saves   int
}

func NewAutosaver(store *Store, snapshot func() download.RegistrySnapshot, interval time.Duration) *Autosaver {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Autosaver{store: store, snapshot: snapshot, interval: interval}
}

// Start begins saving in the background. It saves until Stop is called or
// ctx is done, and always writes a final snapshot on the way out.
func (a *Autosaver) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done != nil {
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})
	go a.loop(ctx, a.done)
}

func (a *Autosaver) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.Save(ctx)
		case <-ctx.Done():
			// The parent context is gone; the final save gets its own.
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			a.Save(final)
			cancel()
			return
		}
	}
}

// Save writes one snapshot now.
func (a *Autosaver) Save(ctx context.Context) error {
	err := a.store.Save(ctx, a.snapshot())
	a.mu.Lock()
	a.lastErr = err
	if err == nil {
		a.saves++
	}
	a.mu.Unlock()
	if err != nil {
		log.Warnw("autosave failed", "error", err)
	}
	return err
}

// Stop ends the background loop and waits for the final save.
func (a *Autosaver) Stop() error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.mu.Unlock()
	if done == nil {
		return nil
	}
	cancel()
	<-done

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancel, a.done = nil, nil
	return a.lastErr
}

// Saves returns the number of successful saves.
func (a *Autosaver) Saves() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saves
}
