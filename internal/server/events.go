package server

import (
	"context"
	"sync"
	"time"
)

const (
	CartEventSnapshotCaptured = "snapshot-captured"
	CartEventCartChanged      = "cart-changed"
	CartEventOrderPlaced      = "order-placed"
	cartEventHeartbeat        = "heartbeat"
	cartEventSource           = "basketline-backend"

	// allPlatforms subscribes a stream to every platform.
	allPlatforms = ""
)

// CartEvent describes a change observed on one platform cart.
type CartEvent struct {
	Platform   string
	CartType   string
	EventType  string
	SnapshotID string
	HasChanges bool
	Timestamp  time.Time
}

// CartEventDispatcher fans cart events out to SSE subscribers. Streams
// subscribe per platform; an empty platform receives everything. Slow
// consumers drop events instead of blocking the publisher.
type CartEventDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*cartSubscriber
	nextID      int64
	bufferSize  int
}

type cartSubscriber struct {
	id     int64
	stream chan CartEvent
}

func NewCartEventDispatcher() *CartEventDispatcher {
	return &CartEventDispatcher{
		subscribers: make(map[string]map[int64]*cartSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream for events on one platform, or for all
// platforms when platform is empty. The stream is detached when ctx is
// cancelled or the returned cleanup runs.
func (d *CartEventDispatcher) Subscribe(ctx context.Context, platform string) (<-chan CartEvent, func()) {
	subscriber := &cartSubscriber{
		id:     d.nextSequence(),
		stream: make(chan CartEvent, d.bufferSize),
	}
	d.registerSubscriber(platform, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(platform, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the event to subscribers of its platform and to
// subscribers of all platforms. Delivery is best effort.
func (d *CartEventDispatcher) Publish(event CartEvent) {
	if event.Platform == "" || event.EventType == "" {
		return
	}
	d.mu.RLock()
	copies := make([]*cartSubscriber, 0, len(d.subscribers[event.Platform])+len(d.subscribers[allPlatforms]))
	for _, subscriber := range d.subscribers[event.Platform] {
		copies = append(copies, subscriber)
	}
	for _, subscriber := range d.subscribers[allPlatforms] {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

func (d *CartEventDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *CartEventDispatcher) registerSubscriber(platform string, subscriber *cartSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[platform]; !ok {
		d.subscribers[platform] = make(map[int64]*cartSubscriber)
	}
	d.subscribers[platform][subscriber.id] = subscriber
}

func (d *CartEventDispatcher) unregisterSubscriber(platform string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[platform]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, platform)
		}
	}
	d.mu.Unlock()
}
