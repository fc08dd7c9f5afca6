package observer

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counting struct {
	progress, completed, errors, unauthorized atomic.Int32
}

func (c *counting) OnProgress(string)     { c.progress.Add(1) }
func (c *counting) OnCompleted(string)    { c.completed.Add(1) }
func (c *counting) OnError(string)        { c.errors.Add(1) }
func (c *counting) OnUnauthorized(string) { c.unauthorized.Add(1) }

func TestBusNotifiesAllObservers(t *testing.T) {
	var bus Bus[string]
	a, b := &counting{}, &counting{}
	bus.Subscribe(a)
	bus.Subscribe(b)

	bus.Progress("x")
	bus.Progress("x")
	bus.Completed("x")
	bus.Error("x")
	bus.Unauthorized("x")

	for _, c := range []*counting{a, b} {
		assert.EqualValues(t, 2, c.progress.Load())
		assert.EqualValues(t, 1, c.completed.Load())
		assert.EqualValues(t, 1, c.errors.Load())
		assert.EqualValues(t, 1, c.unauthorized.Load())
	}
}

func TestBusUnsubscribe(t *testing.T) {
	var bus Bus[string]
	a := &counting{}
	id := bus.Subscribe(a)
	require.Equal(t, 1, bus.Len())

	require.True(t, bus.Unsubscribe(id))
	require.False(t, bus.Unsubscribe(id))

	bus.Completed("x")
	assert.Zero(t, a.completed.Load())
}

func TestBusConcurrentSubscribeAndNotify(t *testing.T) {
	var bus Bus[string]
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			bus.Subscribe(&counting{})
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Progress("x")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, bus.Len())
}

func TestBusSubscribeFromCallback(t *testing.T) {
	var bus Bus[string]
	inner := &counting{}
	bus.Subscribe(Funcs[string]{
		Completed: func(string) { bus.Subscribe(inner) },
	})

	bus.Completed("x")
	bus.Completed("x")

	assert.EqualValues(t, 1, inner.completed.Load())
}

func TestFuncsIgnoresNilFields(t *testing.T) {
	var got string
	f := Funcs[string]{Error: func(s string) { got = s }}

	f.OnProgress("p")
	f.OnCompleted("c")
	f.OnUnauthorized("u")
	f.OnError("e")

	assert.Equal(t, "e", got)
}

func TestChannelDeliversTerminalEvents(t *testing.T) {
	c := NewChannel[string](1)
	var bus Bus[string]
	bus.Subscribe(c)

	// Progress is dropped once the buffer is full.
	bus.Progress("a")
	bus.Progress("b")

	go bus.Completed("done")

	ev := <-c.Events()
	assert.Equal(t, EventProgress, ev.Type)
	assert.Equal(t, "a", ev.Subject)

	ev = <-c.Events()
	assert.Equal(t, EventCompleted, ev.Type)
	assert.Equal(t, "done", ev.Subject)

	c.Close()
	c.Close()
	bus.Error("ignored")

	_, ok := <-c.Events()
	assert.False(t, ok)
}
