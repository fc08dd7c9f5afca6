package observer

import "sync"

// EventType identifies which notification an Event carries.
type EventType string

const (
	EventProgress     EventType = "Progress"
	EventCompleted    EventType = "Completed"
	EventError        EventType = "Error"
	EventUnauthorized EventType = "Unauthorized"
)

// Event is a single notification delivered through a Channel.
type Event[T any] struct {
	Type    EventType
	Subject T
}

// Channel is an Observer that forwards notifications onto a buffered
// channel, letting a consumer on another goroutine (a UI loop, a CLI
// waiting for completion) drain them at its own pace.
//
// Progress events are dropped when the buffer is full. Terminal events
// (completed, error, unauthorized) block until there is room or the
// Channel is closed.
type Channel[T any] struct {
	ch     chan Event[T]
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

// NewChannel returns a Channel with the given buffer size.
func NewChannel[T any](size int) *Channel[T] {
	if size <= 0 {
		size = 64
	}
	return &Channel[T]{
		ch:   make(chan Event[T], size),
		done: make(chan struct{}),
	}
}

// Events returns the receive side of the channel. It is closed by Close.
func (c *Channel[T]) Events() <-chan Event[T] {
	return c.ch
}

// Close stops delivery and closes the events channel. Safe to call more
// than once.
func (c *Channel[T]) Close() {
	c.once.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.closed = true
		close(c.ch)
		c.mu.Unlock()
	})
}

func (c *Channel[T]) OnProgress(s T) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- Event[T]{Type: EventProgress, Subject: s}:
	default:
	}
}

func (c *Channel[T]) OnCompleted(s T)    { c.send(EventCompleted, s) }
func (c *Channel[T]) OnError(s T)        { c.send(EventError, s) }
func (c *Channel[T]) OnUnauthorized(s T) { c.send(EventUnauthorized, s) }

func (c *Channel[T]) send(t EventType, s T) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- Event[T]{Type: t, Subject: s}:
	case <-c.done:
	}
}
