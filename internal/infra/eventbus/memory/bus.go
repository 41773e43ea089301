// Package memory provides the engine's default EventBus: a synchronous,
// in-process listener registry backed by a mutex-guarded handler slice,
// copied under a read lock before invocation so a slow listener never
// holds up registration, with registration order preserved as
// invocation order.
package memory

import (
	"sync"

	"github.com/norcore/collector-core/internal/domain/crawl"
)

// Bus is a synchronous, ordered, in-process crawl.EventBus.
type Bus struct {
	mu        sync.RWMutex
	listeners []crawl.EventListener
	onPanic   func(crawl.Event, any)
}

var _ crawl.EventBus = (*Bus)(nil)

// New returns an empty Bus. onListenerPanic, if non-nil, is invoked
// when a listener panics so a single broken listener can never abort a
// crawl.
func New(onListenerPanic func(crawl.Event, any)) *Bus {
	return &Bus{onPanic: onListenerPanic}
}

// Subscribe implements crawl.EventBus.
func (b *Bus) Subscribe(l crawl.EventListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Publish implements crawl.EventBus. Listeners are invoked in
// registration order; each is isolated behind a recover so a panicking
// listener is reported (if onPanic is set) and does not propagate.
func (b *Bus) Publish(ev crawl.Event) {
	b.mu.RLock()
	listeners := make([]crawl.EventListener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	for _, l := range listeners {
		b.dispatch(l, ev)
	}
}

func (b *Bus) dispatch(l crawl.EventListener, ev crawl.Event) {
	defer func() {
		if r := recover(); r != nil && b.onPanic != nil {
			b.onPanic(ev, r)
		}
	}()
	l.Handle(ev)
}
