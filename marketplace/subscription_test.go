package marketplace_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/venod/supplyvault/marketplace"
)

func catalogEvent(key string) marketplace.ChangeEvent {
	return marketplace.ChangeEvent{
		ID:    "ev-" + key,
		Topic: marketplace.TopicCatalog,
		Type:  marketplace.EventCatalogUpserted,
		Key:   key,
		At:    time.Now().UTC(),
	}
}

func TestHub_DeliversToTopicSubscribers(t *testing.T) {
	hub := marketplace.NewHub()
	catalogSub := hub.Subscribe(marketplace.TopicCatalog)
	defer catalogSub.Cancel()
	requestSub := hub.Subscribe(marketplace.TopicRequests)
	defer requestSub.Cancel()

	hub.Publish(catalogEvent("item-1"))

	select {
	case ev := <-catalogSub.C:
		assert.Equal(t, "item-1", ev.Key)
	case <-time.After(time.Second):
		t.Fatal("catalog subscriber did not receive the event")
	}

	select {
	case ev := <-requestSub.C:
		t.Fatalf("request subscriber received a catalog event: %+v", ev)
	default:
	}
}

func TestSubscription_CancelIsIdempotent(t *testing.T) {
	hub := marketplace.NewHub()
	sub := hub.Subscribe(marketplace.TopicCatalog)

	sub.Cancel()
	sub.Cancel() // must not panic or double-close

	// A cancelled subscription's channel is closed and drained.
	_, ok := <-sub.C
	assert.False(t, ok)

	// Publishing after cancellation must not panic either.
	hub.Publish(catalogEvent("after-cancel"))
}

func TestHub_SlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	// A consumer that stops draining loses events rather than stalling
	// everyone else. The durable record is the store, not the hub.
	hub := marketplace.NewHub()
	slow := hub.Subscribe(marketplace.TopicCatalog)
	defer slow.Cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			hub.Publish(catalogEvent("flood"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on an undrained subscriber")
	}
}

func TestHub_NilSafePublish(t *testing.T) {
	// Services constructed without a hub still publish safely.
	var hub *marketplace.Hub
	require.NotPanics(t, func() { hub.Publish(catalogEvent("x")) })
}

func TestHub_MultipleSubscribersAllReceive(t *testing.T) {
	hub := marketplace.NewHub()
	a := hub.Subscribe(marketplace.TopicSettlements)
	defer a.Cancel()
	b := hub.Subscribe(marketplace.TopicSettlements)
	defer b.Cancel()

	hub.Publish(marketplace.ChangeEvent{
		ID:    "ev-1",
		Topic: marketplace.TopicSettlements,
		Type:  marketplace.EventObligationSettled,
		Key:   "ob-1",
	})

	for _, sub := range []*marketplace.Subscription{a, b} {
		select {
		case ev := <-sub.C:
			assert.Equal(t, "ob-1", ev.Key)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed the event")
		}
	}
}
