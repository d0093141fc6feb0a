package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch1 := b.Subscribe("one", 4)
	ch2 := b.Subscribe("two", 4)
	require.Equal(t, 2, b.SubscriberCount())

	b.Publish([]byte("frame"))

	assert.Equal(t, []byte("frame"), <-ch1)
	assert.Equal(t, []byte("frame"), <-ch2)
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch := b.Subscribe("slow", 1)
	b.Publish([]byte("first"))
	b.Publish([]byte("second")) // buffer full, dropped
	b.Publish([]byte("third"))  // still full, dropped

	assert.Equal(t, []byte("first"), <-ch)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra frame %q", extra)
	default:
	}
}

func TestLateSubscriberGetsParameterSets(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	b.CacheParameterSets([]byte{0x67, 0x68})

	ch := b.Subscribe("late", 4)
	assert.Equal(t, []byte{0x67, 0x68}, <-ch)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch := b.Subscribe("x", 1)
	b.Unsubscribe("x")

	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, b.SubscriberCount())
}

func TestClosedBroadcasterReturnsClosedChannel(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe("x", 1)
	b.Close()

	_, open := <-ch
	assert.False(t, open)

	late := b.Subscribe("late", 1)
	_, open = <-late
	assert.False(t, open)

	// Publishing after close is a no-op.
	b.Publish([]byte("ignored"))
}
