package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiant-proxy/rxdproxy/internal/shares"
)

func TestSubscribePublishDelivers(t *testing.T) {
	bus := NewBus(8)
	id, events := bus.Subscribe()
	defer bus.Unsubscribe(id)

	bus.Publish(Event{Kind: KindConnect, Worker: "alice"})

	select {
	case evt := <-events:
		assert.Equal(t, KindConnect, evt.Kind)
		assert.Equal(t, "alice", evt.Worker)
		assert.NotEmpty(t, evt.ID)
		assert.False(t, evt.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(8)
	id, events := bus.Subscribe()
	bus.Unsubscribe(id)

	_, ok := <-events
	assert.False(t, ok, "channel should be closed after Unsubscribe")
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	bus := NewBus(8)
	_, a := bus.Subscribe()
	_, b := bus.Subscribe()

	bus.Publish(Event{Kind: KindDisconnect, Worker: "bob"})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case evt := <-ch:
			assert.Equal(t, KindDisconnect, evt.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out event")
		}
	}
}

func TestSlowSubscriberIsDroppedWhenQueueFull(t *testing.T) {
	bus := NewBus(1)
	id, events := bus.Subscribe()

	bus.Publish(Event{Kind: KindShare, Worker: "carol"})
	bus.Publish(Event{Kind: KindShare, Worker: "carol"})

	require.Equal(t, 0, bus.SubscriberCount(), "full subscriber should be dropped, not just skipped once")

	<-events // drain the one buffered event
	_, ok := <-events
	assert.False(t, ok, "channel should have been closed on drop")

	bus.Unsubscribe(id) // no-op, already removed
}

func TestSubscriberCountReflectsRegistrations(t *testing.T) {
	bus := NewBus(8)
	assert.Equal(t, 0, bus.SubscriberCount())

	id1, _ := bus.Subscribe()
	id2, _ := bus.Subscribe()
	assert.Equal(t, 2, bus.SubscriberCount())

	bus.Unsubscribe(id1)
	assert.Equal(t, 1, bus.SubscriberCount())

	bus.Unsubscribe(id2)
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestShareSinkPublishesShareAndBlockEvents(t *testing.T) {
	bus := NewBus(8)
	sink := NewShareSink(bus)
	_, events := bus.Subscribe()

	sink.EmitShare(shares.Event{
		Worker:            "dave",
		Accepted:          true,
		Block:             true,
		ShareDiff:         1234.5,
		SentDifficulty:    1000,
		NetworkDifficulty: 5000,
		BlockHashHex:      "deadbeef",
	})

	first := <-events
	assert.Equal(t, KindShare, first.Kind)
	assert.Equal(t, "dave", first.Worker)
	assert.True(t, first.Accepted)
	assert.True(t, first.IsBlock)
	assert.Equal(t, 1234.5, first.ShareDifficulty)
	assert.Equal(t, 1000.0, first.SentDifficulty)
	assert.Equal(t, 5000.0, first.NetworkDifficulty)

	second := <-events
	assert.Equal(t, KindBlock, second.Kind)
	assert.Equal(t, "dave", second.Worker)
	assert.Equal(t, "deadbeef", second.BlockHashHex)
}

func TestShareSinkSkipsBlockEventForNonBlockShare(t *testing.T) {
	bus := NewBus(8)
	sink := NewShareSink(bus)
	_, events := bus.Subscribe()

	sink.EmitShare(shares.Event{Worker: "erin", Accepted: true})

	evt := <-events
	assert.Equal(t, KindShare, evt.Kind)

	select {
	case extra := <-events:
		t.Fatalf("expected no second event for a non-block share, got %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmitConnectAndDisconnect(t *testing.T) {
	bus := NewBus(8)
	_, events := bus.Subscribe()

	bus.EmitConnect("frank")
	bus.EmitDisconnect("frank")

	connect := <-events
	assert.Equal(t, KindConnect, connect.Kind)
	assert.Equal(t, "frank", connect.Worker)

	disconnect := <-events
	assert.Equal(t, KindDisconnect, disconnect.Kind)
	assert.Equal(t, "frank", disconnect.Worker)
}

func TestNewBusDefaultsQueueSize(t *testing.T) {
	bus := NewBus(0)
	assert.Equal(t, DefaultQueueSize, bus.queueSize)
}
