// Package events provides the in-process event bus connecting quota
// decisions, alerting and key lifecycle operations to their subscribers
// (webhook dispatch, the audit log). Publishing never blocks: each
// subscriber has its own buffered channel, and an event that does not fit
// is dropped for that subscriber only.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/akmhq/akm-api/internal/models"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 64

// Bus fans events out to subscribers. All methods are safe for concurrent
// use.
type Bus struct {
	mu         sync.RWMutex
	subs       map[int]*subscription
	nextID     int
	bufferSize int
	closed     bool
	logger     *slog.Logger
}

type subscription struct {
	// types is the subscribed event-type set; empty means all types.
	types map[string]struct{}
	ch    chan models.Event
}

// NewBus creates a bus with the given per-subscriber buffer size.
// A non-positive size falls back to DefaultBufferSize.
func NewBus(bufferSize int, logger *slog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:       make(map[int]*subscription),
		bufferSize: bufferSize,
		logger:     logger.With("component", "eventbus"),
	}
}

// Subscribe registers interest in the given event types (none means all)
// and returns the receive channel plus an unsubscribe function. The channel
// is closed on unsubscribe or bus shutdown.
func (b *Bus) Subscribe(types ...string) (<-chan models.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		types: make(map[string]struct{}, len(types)),
		ch:    make(chan models.Event, b.bufferSize),
	}
	for _, t := range types {
		sub.types[t] = struct{}{}
	}

	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = sub

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
		})
	}
	return sub.ch, unsubscribe
}

// SubscribeFunc drains a subscription in a dedicated goroutine, calling the
// handler for each event. The goroutine exits when the returned unsubscribe
// function is called or the bus is closed.
func (b *Bus) SubscribeFunc(handler func(models.Event), types ...string) func() {
	ch, unsubscribe := b.Subscribe(types...)
	go func() {
		for ev := range ch {
			handler(ev)
		}
	}()
	return unsubscribe
}

// Publish stamps the event with an id and timestamp when missing and fans
// it out. A subscriber whose buffer is full misses this event; nobody else
// is affected.
func (b *Bus) Publish(ev models.Event) {
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if !sub.wants(ev.Type) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("subscriber buffer full, dropping event",
				"event_id", ev.ID,
				"event_type", ev.Type)
		}
	}
}

// Close shuts the bus down. Subsequent publishes are discarded and all
// subscriber channels are closed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

func (s *subscription) wants(eventType string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[eventType]
	return ok
}
