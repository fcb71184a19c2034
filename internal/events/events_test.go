package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishBeforeFirstSubscriberIsSilentlyDropped(t *testing.T) {
	b := New()
	defer b.Close()

	b.Publish(TopicStatus, "ignored")

	sub := b.Subscribe()
	defer sub.Unsubscribe()

	select {
	case evt := <-sub.Events:
		t.Fatalf("received event published before any subscriber existed: %+v", evt)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe()
	defer sub.Unsubscribe()

	b.Publish(TopicScenes, map[string]string{"name": "Wash"})

	select {
	case evt := <-sub.Events:
		assert.Equal(t, TopicScenes, evt.Topic)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New()
	defer b.Close()

	first := b.Subscribe()
	second := b.Subscribe()
	defer first.Unsubscribe()
	defer second.Unsubscribe()

	b.Publish(TopicSettings, 42)

	for _, sub := range []*Subscriber{first, second} {
		select {
		case evt := <-sub.Events:
			assert.Equal(t, TopicSettings, evt.Topic)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestOverflowDropsOldestEvent(t *testing.T) {
	b := New()
	b.bufferSize = 2
	defer b.Close()

	sub := b.Subscribe()
	defer sub.Unsubscribe()

	b.Publish(TopicStatus, 1)
	b.Publish(TopicStatus, 2)
	b.Publish(TopicStatus, 3)

	first := <-sub.Events
	second := <-sub.Events

	assert.Equal(t, 2, first.Payload)
	assert.Equal(t, 3, second.Payload)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe()
	sub.Unsubscribe()

	_, open := <-sub.Events
	require.False(t, open, "Events channel still open after Unsubscribe")
	assert.Equal(t, 0, b.SubscriberCount())
}
