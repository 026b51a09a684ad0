package server

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/notemate/internal/session"
)

const (
	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "notemate-backend"
	defaultStreamBuffer    = 64
)

var _ session.Publisher = (*RealtimeDispatcher)(nil)

// RealtimeDispatcher fans session events out to every open stream. Slow subscribers drop events.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan session.Event
	once   sync.Once
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[int64]*realtimeSubscriber),
		bufferSize:  defaultStreamBuffer,
	}
}

// Subscribe registers a stream that lives until ctx is done or cleanup is called.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context) (<-chan session.Event, func()) {
	subscriber := &realtimeSubscriber{
		stream: make(chan session.Event, d.bufferSize),
	}
	d.registerSubscriber(subscriber)
	cleanup := func() {
		d.unregisterSubscriber(subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish implements session.Publisher.
func (d *RealtimeDispatcher) Publish(event session.Event) {
	if event.Type == "" {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, subscriber := range d.subscribers {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of open streams.
func (d *RealtimeDispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}

func (d *RealtimeDispatcher) registerSubscriber(subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	subscriber.id = d.nextID
	d.subscribers[subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(subscriberID int64) {
	d.mu.Lock()
	subscriber := d.subscribers[subscriberID]
	delete(d.subscribers, subscriberID)
	d.mu.Unlock()
	if subscriber != nil {
		subscriber.once.Do(func() {
			close(subscriber.stream)
		})
	}
}
