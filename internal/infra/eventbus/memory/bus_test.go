package memory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/norcore/collector-core/internal/domain/crawl"
)

func TestBus_PublishInvokesListenersInRegistrationOrder(t *testing.T) {
	b := New(nil)
	var order []int
	b.Subscribe(crawl.EventListenerFunc(func(crawl.Event) { order = append(order, 1) }))
	b.Subscribe(crawl.EventListenerFunc(func(crawl.Event) { order = append(order, 2) }))

	b.Publish(crawl.Event{Type: crawl.EventDocumentImported})

	require.Equal(t, []int{1, 2}, order)
}

func TestBus_PanickingListenerDoesNotAbortPublish(t *testing.T) {
	b := New(func(crawl.Event, any) {})
	var secondCalled bool
	b.Subscribe(crawl.EventListenerFunc(func(crawl.Event) { panic("boom") }))
	b.Subscribe(crawl.EventListenerFunc(func(crawl.Event) { secondCalled = true }))

	require.NotPanics(t, func() {
		b.Publish(crawl.Event{Type: crawl.EventRejectedError})
	})
	require.True(t, secondCalled)
}
