// Package feedback builds the acknowledgment sent back to the sender for
// every fragment that survives wire decoding. Feedback measures transport
// loss and latency, so it is emitted regardless of what reassembly later
// does with the fragment.
package feedback

import (
	"k8s.io/utils/clock"

	"github.com/vidrx/vidrx/internal/protocol"
)

// Builder stamps acknowledgments with receipt times from an injected clock.
type Builder struct {
	clock clock.PassiveClock
}

// NewBuilder creates a builder using the real wall clock.
func NewBuilder() *Builder {
	return NewBuilderWithClock(clock.RealClock{})
}

// NewBuilderWithClock creates a builder with an explicit clock, used by tests
// to make receipt timestamps deterministic.
func NewBuilderWithClock(c clock.PassiveClock) *Builder {
	return &Builder{clock: c}
}

// Ack builds the acknowledgment for one received fragment, echoing its
// identifying and timing fields and stamping the receipt time.
func (b *Builder) Ack(frag *protocol.Fragment) *protocol.Ack {
	return &protocol.Ack{
		FrameID:         frag.FrameID,
		FragIndex:       frag.FragIndex,
		SendTimestampUs: frag.SendTimestampUs,
		RecvTimestampUs: uint64(b.clock.Now().UnixMicro()),
	}
}
