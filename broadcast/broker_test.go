package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confabhq/confab/core"
)

func TestBrokerDeliversToTopicSubscribers(t *testing.T) {
	b := New()

	ch1, cancel1 := b.Subscribe(core.ChatTopic("chat-1"))
	defer cancel1()
	ch2, cancel2 := b.Subscribe(core.ChatTopic("chat-1"))
	defer cancel2()
	other, cancelOther := b.Subscribe(core.ChatTopic("chat-2"))
	defer cancelOther()

	b.Publish(core.ChatTopic("chat-1"), core.BroadcastEvent{Kind: core.BroadcastMessageDelta, ChatID: "chat-1"})

	ev1 := <-ch1
	assert.Equal(t, core.BroadcastMessageDelta, ev1.Kind)
	ev2 := <-ch2
	assert.Equal(t, "chat-1", ev2.ChatID)

	select {
	case ev := <-other:
		t.Fatalf("subscriber on another topic received %v", ev)
	default:
	}
}

func TestBrokerDropsWhenSubscriberFull(t *testing.T) {
	b := New(func(o *BrokerOptions) { o.BufferSize = 2 })

	ch, cancel := b.Subscribe("topic")
	defer cancel()

	for i := 0; i < 5; i++ {
		b.Publish("topic", core.BroadcastEvent{Kind: core.BroadcastMessageDelta})
	}

	// Only the buffered two arrive; the rest were dropped without blocking.
	assert.Len(t, ch, 2)
}

func TestBrokerCancelClosesChannel(t *testing.T) {
	b := New()

	ch, cancel := b.Subscribe("topic")
	require.Equal(t, 1, b.Subscribers("topic"))

	cancel()
	cancel() // idempotent

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.Subscribers("topic"))

	// Publishing to a topic with no subscribers is a no-op.
	b.Publish("topic", core.BroadcastEvent{Kind: core.BroadcastMessageFinal})
}

func TestBrokerIndependentSubscriptions(t *testing.T) {
	b := New()

	ch1, cancel1 := b.Subscribe("topic")
	ch2, cancel2 := b.Subscribe("topic")
	defer cancel2()

	cancel1()
	b.Publish("topic", core.BroadcastEvent{Kind: core.BroadcastToolStatus})

	_, open := <-ch1
	assert.False(t, open, "canceled subscriber sees a closed channel")

	ev := <-ch2
	assert.Equal(t, core.BroadcastToolStatus, ev.Kind, "remaining subscriber still receives")
}
