// Package reassembly reconstructs encoded video frames from the fragments
// that arrive over the datagram transport. Fragments may be lost, duplicated
// or reordered; there is no retransmission. Frames are delivered strictly in
// increasing frame-id order, and completing a frame gives up on every older
// frame still in flight, because a live pipeline has no use for a stale frame
// once a newer one is ready.
package reassembly

import (
	"errors"
	"fmt"

	"github.com/vidrx/vidrx/internal/protocol"
)

// DefaultWindowSize bounds how many distinct frame ids may be tracked as
// partial at once. A window wider than one tolerates short reordering bursts
// across frame boundaries without weakening the in-order delivery guarantee.
const DefaultWindowSize = 8

// Protocol violations: well-formed fragments that contradict state already
// established for their frame. The fragment is dropped, the session continues.
var (
	ErrFragCountMismatch = errors.New("fragment count contradicts earlier fragments of the same frame")
	ErrFrameTypeMismatch = errors.New("frame type contradicts earlier fragments of the same frame")
)

// Frame is a fully reassembled frame ready for the decode pipeline. Data
// holds the fragment payloads concatenated in fragment-index order.
type Frame struct {
	FrameID   uint32
	FrameType uint8
	FragCount uint16
	Data      []byte
}

// IsKey reports whether the frame was encoded as a keyframe.
func (f *Frame) IsKey() bool {
	return f.FrameType == protocol.FrameTypeKey
}

// Stats is a snapshot of the assembler's counters.
type Stats struct {
	FragmentsReceived  uint64
	FragmentsDuplicate uint64
	FragmentsStale     uint64
	FragmentsMismatch  uint64
	FramesCompleted    uint64
	FramesAbandoned    uint64
	FramesEvicted      uint64
	BytesAssembled     uint64
}

// partialFrame accumulates the fragments of exactly one frame id.
type partialFrame struct {
	frameID   uint32
	frameType uint8
	fragCount uint16
	received  uint16
	payloads  [][]byte
	seen      []bool
	byteSize  int
}

func (p *partialFrame) complete() bool {
	return p.received == p.fragCount
}

// Assembler owns the per-session reassembly state. It is not safe for
// concurrent use: the receive loop is its single caller.
type Assembler struct {
	windowSize int
	started    bool
	expected   uint32 // next frame id eligible for delivery
	partials   map[uint32]*partialFrame
	stats      Stats
}

// NewAssembler creates an assembler tracking at most windowSize partial
// frames. A non-positive windowSize selects DefaultWindowSize.
func NewAssembler(windowSize int) *Assembler {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Assembler{
		windowSize: windowSize,
		partials:   make(map[uint32]*partialFrame),
	}
}

// Ingest adds one decoded fragment to the reassembly state. Duplicate
// fragments are ignored, fragments of already delivered or abandoned frames
// are dropped, and fragments contradicting earlier fragments of the same
// frame are rejected with a protocol violation error. Ingest never emits
// frames; call DrainReady afterwards to collect everything now complete.
func (a *Assembler) Ingest(frag *protocol.Fragment) error {
	a.stats.FragmentsReceived++

	// The first fragment observed anchors the delivery sequence.
	if !a.started {
		a.started = true
		a.expected = frag.FrameID
	}

	if frag.FrameID < a.expected {
		a.stats.FragmentsStale++
		return nil
	}

	pf, ok := a.partials[frag.FrameID]
	if !ok {
		if len(a.partials) >= a.windowSize && !a.evictFor(frag.FrameID) {
			// Window full of newer frames: drop the fragment.
			a.stats.FragmentsStale++
			return nil
		}
		pf = &partialFrame{
			frameID:   frag.FrameID,
			frameType: frag.FrameType,
			fragCount: frag.FragCount,
			payloads:  make([][]byte, frag.FragCount),
			seen:      make([]bool, frag.FragCount),
		}
		a.partials[frag.FrameID] = pf
	}

	if frag.FragCount != pf.fragCount {
		a.stats.FragmentsMismatch++
		return fmt.Errorf("frame %d: got count %d, expected %d: %w",
			frag.FrameID, frag.FragCount, pf.fragCount, ErrFragCountMismatch)
	}
	if frag.FrameType != pf.frameType {
		a.stats.FragmentsMismatch++
		return fmt.Errorf("frame %d: got type %d, expected %d: %w",
			frag.FrameID, frag.FrameType, pf.frameType, ErrFrameTypeMismatch)
	}

	if pf.seen[frag.FragIndex] {
		a.stats.FragmentsDuplicate++
		return nil
	}

	pf.seen[frag.FragIndex] = true
	pf.payloads[frag.FragIndex] = frag.Payload
	pf.received++
	pf.byteSize += len(frag.Payload)

	return nil
}

// DrainReady returns every frame that is complete right now, lowest frame id
// first. Delivering a frame abandons all older partial frames and moves the
// window past it, which can in turn expose an already buffered later frame as
// the next deliverable one, so callers drain until the slice comes back empty
// in a single call.
func (a *Assembler) DrainReady() []*Frame {
	var out []*Frame

	for {
		pf := a.lowestComplete()
		if pf == nil {
			return out
		}

		data := make([]byte, 0, pf.byteSize)
		for _, payload := range pf.payloads {
			data = append(data, payload...)
		}

		out = append(out, &Frame{
			FrameID:   pf.frameID,
			FrameType: pf.frameType,
			FragCount: pf.fragCount,
			Data:      data,
		})

		a.stats.FramesCompleted++
		a.stats.BytesAssembled += uint64(len(data))

		// Everything at or below the delivered frame is done: the frame
		// itself is handed off, older partials are abandoned.
		for id := range a.partials {
			if id <= pf.frameID {
				if id != pf.frameID {
					a.stats.FramesAbandoned++
				}
				delete(a.partials, id)
			}
		}
		a.expected = pf.frameID + 1
	}
}

// Expected returns the next frame id eligible for delivery.
func (a *Assembler) Expected() uint32 {
	return a.expected
}

// InFlight returns the number of partial frames currently tracked.
func (a *Assembler) InFlight() int {
	return len(a.partials)
}

// Stats returns a snapshot of the assembler's counters.
func (a *Assembler) Stats() Stats {
	return a.stats
}

// evictFor makes room for a new partial frame by abandoning the oldest
// tracked one, but only if the newcomer is newer than it. Live delivery
// prefers progress on recent frames over completing old ones.
func (a *Assembler) evictFor(frameID uint32) bool {
	oldest := a.oldestPartial()
	if oldest == nil || frameID <= oldest.frameID {
		return false
	}

	delete(a.partials, oldest.frameID)
	a.stats.FramesAbandoned++
	a.stats.FramesEvicted++
	return true
}

func (a *Assembler) oldestPartial() *partialFrame {
	var oldest *partialFrame
	for _, pf := range a.partials {
		if oldest == nil || pf.frameID < oldest.frameID {
			oldest = pf
		}
	}
	return oldest
}

func (a *Assembler) lowestComplete() *partialFrame {
	var lowest *partialFrame
	for _, pf := range a.partials {
		if pf.complete() && (lowest == nil || pf.frameID < lowest.frameID) {
			lowest = pf
		}
	}
	return lowest
}
