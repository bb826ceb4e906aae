package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToMatchingSubscribersOnly(t *testing.T) {
	h := NewHub(nil)

	var blockSeen, globalSeen int
	h.Subscribe(func(Event) { blockSeen++ }, TypeBlock)
	h.Subscribe(func(Event) { globalSeen++ })

	h.Publish(Event{Type: TypeBlock, Data: BlockData{Address: "1.2.3.4"}})
	h.Publish(Event{Type: TypeUnblock, Data: BlockData{Address: "1.2.3.4"}})

	require.Equal(t, 1, blockSeen)
	require.Equal(t, 2, globalSeen)
}

func TestPublishIsolatesPanickingHandler(t *testing.T) {
	var failures int
	h := NewHub(func(handlerID string, evt Event, recovered any) {
		failures++
	})

	var secondRan bool
	h.Subscribe(func(Event) { panic("boom") })
	h.Subscribe(func(Event) { secondRan = true })

	h.Publish(Event{Type: TypeBlock})

	require.Equal(t, 1, failures)
	require.True(t, secondRan)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub(nil)
	var count int
	id := h.Subscribe(func(Event) { count++ })

	h.Publish(Event{Type: TypeBlock})
	h.Unsubscribe(id)
	h.Publish(Event{Type: TypeBlock})

	require.Equal(t, 1, count)
}
