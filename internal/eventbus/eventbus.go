// Package eventbus fans out share, block, and connection lifecycle
// events to any number of registered sinks without letting a slow
// sink block the share-validation hot path.
package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/radiant-proxy/rxdproxy/internal/shares"
)

// shareEvent is a local alias so the adapter signature below stays
// readable without repeating the full import path.
type shareEvent = shares.Event

// Kind identifies what an Event records.
type Kind string

const (
	KindShare      Kind = "share"
	KindBlock      Kind = "block"
	KindConnect    Kind = "connect"
	KindDisconnect Kind = "disconnect"
)

// Event is an immutable record of something that happened to a
// worker or to the pool as a whole.
type Event struct {
	ID                string    `json:"id"`
	Kind              Kind      `json:"kind"`
	Worker            string    `json:"worker"`
	ShareDifficulty   float64   `json:"share_difficulty,omitempty"`
	SentDifficulty    float64   `json:"sent_difficulty,omitempty"`
	NetworkDifficulty float64   `json:"network_difficulty,omitempty"`
	Accepted          bool      `json:"accepted,omitempty"`
	IsBlock           bool      `json:"is_block,omitempty"`
	BlockHashHex      string    `json:"block_hash,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// DefaultQueueSize is how many buffered events a subscriber can lag
// behind the publisher before it is dropped.
const DefaultQueueSize = 256

// Bus is a registry of bounded per-subscriber channels.
type Bus struct {
	queueSize int

	mu          sync.Mutex
	subscribers map[string]chan Event
}

// NewBus builds a Bus whose subscriber channels hold queueSize events
// before the subscriber is dropped.
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		queueSize:   queueSize,
		subscribers: make(map[string]chan Event),
	}
}

// Subscribe registers a new sink and returns its receive channel and
// id. Call Unsubscribe(id) to stop receiving and release the channel.
func (b *Bus) Subscribe() (id string, events <-chan Event) {
	ch := make(chan Event, b.queueSize)
	subID := uuid.NewString()

	b.mu.Lock()
	b.subscribers[subID] = ch
	b.mu.Unlock()

	return subID, ch
}

// Unsubscribe removes and closes a subscriber's channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Publish offers evt to every subscriber. A subscriber whose queue is
// full is dropped rather than allowed to block the publisher.
func (b *Bus) Publish(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.Lock()
	var dead []string
	for id, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		if ch, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(ch)
		}
	}
	b.mu.Unlock()
}

// SubscriberCount reports how many sinks are currently registered.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// ShareSink adapts a Bus to the internal/shares.EventSink interface,
// so the share validator never needs to import this package.
type ShareSink struct {
	bus *Bus
}

// NewShareSink wraps bus for use as a shares.EventSink.
func NewShareSink(bus *Bus) *ShareSink {
	return &ShareSink{bus: bus}
}

// EmitShare satisfies internal/shares.EventSink.
func (s *ShareSink) EmitShare(evt shareEvent) {
	s.bus.Publish(Event{
		Kind:              KindShare,
		Worker:            evt.Worker,
		ShareDifficulty:   evt.ShareDiff,
		SentDifficulty:    evt.SentDifficulty,
		NetworkDifficulty: evt.NetworkDifficulty,
		Accepted:          evt.Accepted,
		IsBlock:           evt.Block,
		BlockHashHex:      evt.BlockHashHex,
	})
	if evt.Block {
		s.bus.Publish(Event{
			Kind:         KindBlock,
			Worker:       evt.Worker,
			Accepted:     evt.BlockAccepted,
			BlockHashHex: evt.BlockHashHex,
		})
	}
}

// EmitConnect publishes a connection lifecycle event.
func (b *Bus) EmitConnect(worker string) {
	b.Publish(Event{Kind: KindConnect, Worker: worker})
}

// EmitDisconnect publishes a disconnection lifecycle event.
func (b *Bus) EmitDisconnect(worker string) {
	b.Publish(Event{Kind: KindDisconnect, Worker: worker})
}
