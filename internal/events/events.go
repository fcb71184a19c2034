// Package events is the cross-thread event broadcaster: producers push
// named events carrying a structured payload, subscribers drain a
// bounded per-subscriber queue with drop-oldest overflow and a
// keep-alive heartbeat while idle. Grounded on the teacher's
// topic/subscriber/registry shape, generalized from GraphQL
// subscription delivery to best-effort push fan-out.
package events

import (
	"sync"
	"time"
)

// Topic names one of the four event streams described in the
// controller's state model.
type Topic string

const (
	TopicStatus      Topic = "status"
	TopicScenes      Topic = "scenes"
	TopicSettings    Topic = "settings"
	TopicFixturePlan Topic = "fixture-plan"

	// topicHeartbeat is an internal keep-alive pulse, never published by
	// callers, sent to an idle subscriber every HeartbeatInterval.
	topicHeartbeat Topic = "heartbeat"
)

// HeartbeatInterval is the period of the heartbeat tick. A subscriber
// that received no event during one full tick period gets a heartbeat
// at the next tick, so an idle subscriber goes at most about two
// intervals without an event and long-lived connections can detect a
// dead peer.
const HeartbeatInterval = 15 * time.Second

// DefaultBufferSize is the per-subscriber queue depth before the
// broadcaster starts dropping the oldest queued event to admit a new
// one.
const DefaultBufferSize = 32

// Event is one message delivered to a subscriber.
type Event struct {
	Topic   Topic
	Payload any
}

// Subscriber is a live registration returned by Broadcaster.Subscribe.
// Callers range over Events until it closes, then call nothing further
// (Unsubscribe is idempotent but unnecessary after the channel closes).
type Subscriber struct {
	id     uint64
	Events <-chan Event

	broadcaster *Broadcaster
}

// Unsubscribe removes this subscriber's queue and closes its channel.
// Safe to call more than once.
func (s *Subscriber) Unsubscribe() {
	s.broadcaster.unsubscribe(s.id)
}

// Broadcaster fans events out to subscribers. The zero value is not
// usable; construct with New.
type Broadcaster struct {
	mu            sync.Mutex
	subscribers   map[uint64]*subscriberState
	nextID        uint64
	everSubscribed bool

	bufferSize int
	stop       chan struct{}
	stopOnce   sync.Once
}

type subscriberState struct {
	queue chan Event
	idle  bool
}

// New constructs an empty Broadcaster and starts its heartbeat loop.
func New() *Broadcaster {
	b := &Broadcaster{
		subscribers: make(map[uint64]*subscriberState),
		bufferSize:  DefaultBufferSize,
		stop:        make(chan struct{}),
	}
	go b.heartbeatLoop()
	return b
}

// Close stops the heartbeat loop and closes every subscriber's channel.
// The Broadcaster must not be used after Close.
func (b *Broadcaster) Close() {
	b.stopOnce.Do(func() { close(b.stop) })

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, state := range b.subscribers {
		close(state.queue)
		delete(b.subscribers, id)
	}
}

// Subscribe registers a new subscriber and marks the broadcaster as
// having a live reference to the event loop: from this point on,
// Publish calls are no longer silently dropped.
func (b *Broadcaster) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.everSubscribed = true
	b.nextID++
	id := b.nextID

	state := &subscriberState{queue: make(chan Event, b.bufferSize)}
	b.subscribers[id] = state

	return &Subscriber{
		id:          id,
		Events:      state.queue,
		broadcaster: b,
	}
}

func (b *Broadcaster) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	close(state.queue)
}

// Publish fans out an event to every current subscriber. Before the
// first subscriber has ever arrived, Publish is a silent no-op: there
// is no event loop reference to deliver into yet. Delivery is
// non-blocking; a full subscriber queue drops its oldest queued event
// to admit the new one rather than blocking the publisher or dropping
// the new event outright.
func (b *Broadcaster) Publish(topic Topic, payload any) {
	b.publish(Event{Topic: topic, Payload: payload})
}

func (b *Broadcaster) publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.everSubscribed {
		return
	}
	for _, state := range b.subscribers {
		state.idle = false
		deliver(state.queue, evt)
	}
}

// deliver pushes evt onto queue, dropping the oldest queued event first
// if queue is full.
func deliver(queue chan Event, evt Event) {
	select {
	case queue <- evt:
		return
	default:
	}
	select {
	case <-queue:
	default:
	}
	select {
	case queue <- evt:
	default:
	}
}

func (b *Broadcaster) heartbeatLoop() {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.tickHeartbeat()
		}
	}
}

func (b *Broadcaster) tickHeartbeat() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, state := range b.subscribers {
		if state.idle {
			deliver(state.queue, Event{Topic: topicHeartbeat})
			continue
		}
		state.idle = true
	}
}

// SubscriberCount reports how many subscribers currently hold a queue,
// for tests and diagnostics.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
