package observer

import (
	"sync"

	"github.com/google/uuid"
)

// Observer receives lifecycle notifications for a subject of type T.
type Observer[T any] interface {
	OnProgress(subject T)
	OnCompleted(subject T)
	OnError(subject T)
	OnUnauthorized(subject T)
}

// Funcs adapts plain functions to the Observer interface. Nil fields are
// ignored.
type Funcs[T any] struct {
	Progress     func(T)
	Completed    func(T)
	Error        func(T)
	Unauthorized func(T)
}

func (f Funcs[T]) OnProgress(s T) {
	if f.Progress != nil {
		f.Progress(s)
	}
}

func (f Funcs[T]) OnCompleted(s T) {
	if f.Completed != nil {
		f.Completed(s)
	}
}

func (f Funcs[T]) OnError(s T) {
	if f.Error != nil {
		f.Error(s)
	}
}

func (f Funcs[T]) OnUnauthorized(s T) {
	if f.Unauthorized != nil {
		f.Unauthorized(s)
	}
}

type subscription[T any] struct {
	id  uuid.UUID
	obs Observer[T]
}

// Bus is a registration list of observers that is safe to notify from many
// goroutines at once. The zero value is ready to use.
//
// Subscribing copies the list, so a notification in progress always sees a
// consistent set of observers, and observers are called without any lock
// held. An observer may therefore subscribe further observers from inside a
// callback.
type Bus[T any] struct {
	mu   sync.Mutex
	subs []subscription[T]
}

// Subscribe registers o and returns an id that can be passed to Unsubscribe.
func (b *Bus[T]) Subscribe(o Observer[T]) uuid.UUID {
	id := uuid.New()

	b.mu.Lock()
	defer b.mu.Unlock()

	next := make([]subscription[T], len(b.subs), len(b.subs)+1)
	copy(next, b.subs)
	b.subs = append(next, subscription[T]{id: id, obs: o})
	return id
}

// Unsubscribe removes the observer registered under id. It reports whether
// an observer was removed.
func (b *Bus[T]) Unsubscribe(id uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			next := make([]subscription[T], 0, len(b.subs)-1)
			next = append(next, b.subs[:i]...)
			b.subs = append(next, b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered observers.
func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus[T]) snapshot() []subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs
}

// Progress notifies every observer of progress on s.
func (b *Bus[T]) Progress(s T) {
	for _, sub := range b.snapshot() {
		sub.obs.OnProgress(s)
	}
}

// Completed notifies every observer that s completed.
func (b *Bus[T]) Completed(s T) {
	for _, sub := range b.snapshot() {
		sub.obs.OnCompleted(s)
	}
}

// Error notifies every observer that s failed.
func (b *Bus[T]) Error(s T) {
	for _, sub := range b.snapshot() {
		sub.obs.OnError(s)
	}
}

// Unauthorized notifies every observer that s was refused authorization.
func (b *Bus[T]) Unauthorized(s T) {
	for _, sub := range b.snapshot() {
		sub.obs.OnUnauthorized(s)
	}
}
