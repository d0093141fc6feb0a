// Package pipeline distributes rendered frame data to observers such as the
// monitor server's live tap. Delivery is strictly non-blocking: a slow
// observer loses frames instead of stalling the receive loop.
package pipeline

import (
	"sync"

	"github.com/vidrx/vidrx/internal/util"
)

// Broadcaster is a pub/sub fan-out for frame bitstream data. It caches the
// codec parameter sets (SPS/PPS) so late subscribers can initialize their
// decoder before the next keyframe arrives.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan<- []byte
	paramSets   []byte
	closed      bool
}

// NewBroadcaster creates a new broadcaster instance.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]chan<- []byte),
	}
}

// CacheParameterSets stores the codec parameter sets sent immediately to new
// subscribers.
func (b *Broadcaster) CacheParameterSets(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.paramSets = make([]byte, len(data))
	copy(b.paramSets, data)

	util.GetLogger().Debug("Parameter sets cached", "size", len(data))
}

// ParameterSets returns the cached parameter sets, or nil if none were seen.
func (b *Broadcaster) ParameterSets() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.paramSets
}

// Subscribe adds a subscriber and returns the channel it will receive frame
// data on. Cached parameter sets are delivered first if available.
func (b *Broadcaster) Subscribe(subscriberID string, bufferSize int) <-chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan []byte)
		close(ch)
		return ch
	}

	ch := make(chan []byte, bufferSize)
	b.subscribers[subscriberID] = ch

	if len(b.paramSets) > 0 {
		select {
		case ch <- b.paramSets:
		default:
		}
	}

	util.GetLogger().Debug("Frame subscriber added", "subscriber", subscriberID)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[subscriberID]; ok {
		delete(b.subscribers, subscriberID)
		close(ch)
	}
}

// Publish fans frame data out to every subscriber without blocking. A
// subscriber whose buffer is full misses the frame.
func (b *Broadcaster) Publish(data []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for id, ch := range b.subscribers {
		select {
		case ch <- data:
		default:
			util.GetLogger().Debug("Subscriber buffer full, frame dropped", "subscriber", id)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close shuts the broadcaster down and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
