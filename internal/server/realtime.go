package server

import (
	"context"
	"sync"
	"time"

	"github.com/portfolio-blog/backend/internal/counters"
)

const (
	RealtimeEventViewCount     = string(counters.EventViewRecorded)
	RealtimeEventReactionCount = string(counters.EventReactionRecorded)
	realtimeEventHeartbeat     = "heartbeat"
	realtimeSourceBackend      = "portfolio-api"
)

// CounterUpdate is pushed to every stream watching the post it belongs to.
type CounterUpdate struct {
	Slug      string
	EventType string
	Reaction  string
	ViewCount int64
	Reactions counters.ReactionCounts
	Timestamp time.Time
}

type viewCountPayload struct {
	Slug      string `json:"slug"`
	ViewCount int64  `json:"view_count"`
	Timestamp int64  `json:"timestamp"`
	Source    string `json:"source"`
}

type reactionCountPayload struct {
	Slug     string `json:"slug"`
	Reaction string `json:"reaction"`
	counters.ReactionCounts
	Timestamp int64  `json:"timestamp"`
	Source    string `json:"source"`
}

func (update CounterUpdate) payload() interface{} {
	if update.EventType == RealtimeEventViewCount {
		return viewCountPayload{
			Slug:      update.Slug,
			ViewCount: update.ViewCount,
			Timestamp: update.Timestamp.Unix(),
			Source:    realtimeSourceBackend,
		}
	}
	return reactionCountPayload{
		Slug:           update.Slug,
		Reaction:       update.Reaction,
		ReactionCounts: update.Reactions,
		Timestamp:      update.Timestamp.Unix(),
		Source:         realtimeSourceBackend,
	}
}

// RealtimeDispatcher fans counter updates out to the open streams of each post.
// Slow subscribers drop updates instead of blocking the increment path.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan CounterUpdate
}

var _ counters.Notifier = (*RealtimeDispatcher)(nil)

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

func (d *RealtimeDispatcher) Subscribe(ctx context.Context, slug string) (<-chan CounterUpdate, func()) {
	if slug == "" {
		ch := make(chan CounterUpdate)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan CounterUpdate, d.bufferSize),
	}
	d.registerSubscriber(slug, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(slug, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *RealtimeDispatcher) Publish(update CounterUpdate) {
	if update.Slug == "" || update.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[update.Slug]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- update:
		default:
		}
	}
}

// Notify publishes a committed counter change to the post's streams.
func (d *RealtimeDispatcher) Notify(_ context.Context, event counters.Event) error {
	d.Publish(CounterUpdate{
		Slug:      event.Slug.String(),
		EventType: string(event.Type),
		Reaction:  event.Reaction.String(),
		ViewCount: event.Views,
		Reactions: event.Reactions,
		Timestamp: event.OccurredAt,
	})
	return nil
}

func (d *RealtimeDispatcher) subscriberCount(slug string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[slug])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(slug string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[slug]; !ok {
		d.subscribers[slug] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[slug][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(slug string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[slug]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, slug)
		}
	}
	d.mu.Unlock()
}
