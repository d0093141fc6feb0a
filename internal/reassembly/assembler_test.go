package reassembly

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidrx/vidrx/internal/protocol"
)

func frag(frameID uint32, index, count uint16, payload ...byte) *protocol.Fragment {
	return &protocol.Fragment{
		FrameID:   frameID,
		FrameType: protocol.FrameTypeDelta,
		FragIndex: index,
		FragCount: count,
		Payload:   payload,
	}
}

func TestSingleFragmentFrame(t *testing.T) {
	a := NewAssembler(0)

	require.NoError(t, a.Ingest(frag(0, 0, 1, 0xab)))

	frames := a.DrainReady()
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(0), frames[0].FrameID)
	assert.Equal(t, []byte{0xab}, frames[0].Data)
	assert.Equal(t, uint32(1), a.Expected())
	assert.Empty(t, a.DrainReady())
}

func TestOutOfOrderFragmentsAssembleInIndexOrder(t *testing.T) {
	a := NewAssembler(0)

	// Arrival order 1, 0, 2; payload must come out in index order.
	require.NoError(t, a.Ingest(frag(0, 1, 3, 'b')))
	assert.Empty(t, a.DrainReady())
	require.NoError(t, a.Ingest(frag(0, 0, 3, 'a')))
	assert.Empty(t, a.DrainReady())
	require.NoError(t, a.Ingest(frag(0, 2, 3, 'c')))

	frames := a.DrainReady()
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("abc"), frames[0].Data)
	assert.Equal(t, uint16(3), frames[0].FragCount)
}

func TestDuplicateFragmentsAreIdempotent(t *testing.T) {
	a := NewAssembler(0)

	require.NoError(t, a.Ingest(frag(0, 0, 2, 'x')))
	require.NoError(t, a.Ingest(frag(0, 0, 2, 'x')))
	require.NoError(t, a.Ingest(frag(0, 0, 2, 'x')))
	assert.Empty(t, a.DrainReady(), "duplicates must not count toward completion")

	require.NoError(t, a.Ingest(frag(0, 1, 2, 'y')))
	frames := a.DrainReady()
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("xy"), frames[0].Data)
	assert.Equal(t, uint64(2), a.Stats().FragmentsDuplicate)
}

func TestStaleFragmentsIgnoredAfterDelivery(t *testing.T) {
	a := NewAssembler(0)

	require.NoError(t, a.Ingest(frag(5, 0, 1, 1)))
	require.Len(t, a.DrainReady(), 1)

	// Frame 4 arrived too late: already behind the delivery window.
	require.NoError(t, a.Ingest(frag(4, 0, 1, 2)))
	assert.Empty(t, a.DrainReady())
	assert.Equal(t, uint32(6), a.Expected())
	assert.Zero(t, a.InFlight())
	assert.Equal(t, uint64(1), a.Stats().FragmentsStale)
}

func TestNewerCompletionAbandonsOlderPartial(t *testing.T) {
	a := NewAssembler(0)

	// Frame 0 stays incomplete (1 of 2 fragments); frame 1 completes.
	require.NoError(t, a.Ingest(frag(0, 0, 2, 'p')))
	require.NoError(t, a.Ingest(frag(1, 0, 1, 'q')))

	frames := a.DrainReady()
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(1), frames[0].FrameID)
	assert.Equal(t, uint32(2), a.Expected())
	assert.Equal(t, uint64(1), a.Stats().FramesAbandoned)

	// Frame 0's missing fragment arriving now is stale.
	require.NoError(t, a.Ingest(frag(0, 1, 2, 'p')))
	assert.Empty(t, a.DrainReady())
	assert.Zero(t, a.InFlight())
}

func TestDrainDeliversBufferedNextFrame(t *testing.T) {
	a := NewAssembler(0)

	// Frame 1 is fully buffered while frame 0 is still missing a fragment.
	require.NoError(t, a.Ingest(frag(0, 0, 2, 'a')))
	require.NoError(t, a.Ingest(frag(1, 0, 1, 'b')))
	// No drain between ingests: both frames resolve in one call, but frame 0
	// can never be delivered once frame 1 completed first.
	frames := a.DrainReady()
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(1), frames[0].FrameID)
}

func TestDrainEmitsMultipleFramesLowestFirst(t *testing.T) {
	a := NewAssembler(0)

	require.NoError(t, a.Ingest(frag(0, 0, 1, 'a')))
	require.NoError(t, a.Ingest(frag(1, 0, 1, 'b')))
	require.NoError(t, a.Ingest(frag(2, 0, 1, 'c')))

	frames := a.DrainReady()
	require.Len(t, frames, 3)
	for i, f := range frames {
		assert.Equal(t, uint32(i), f.FrameID)
	}
}

func TestMonotonicDelivery(t *testing.T) {
	a := NewAssembler(0)

	var delivered []uint32
	ingest := func(f *protocol.Fragment) {
		_ = a.Ingest(f)
		for _, frame := range a.DrainReady() {
			delivered = append(delivered, frame.FrameID)
		}
	}

	// Interleaved, reordered, duplicated traffic across several frames.
	ingest(frag(0, 1, 2, 'b'))
	ingest(frag(2, 0, 1, 'e'))
	ingest(frag(0, 0, 2, 'a'))
	ingest(frag(1, 0, 1, 'c'))
	ingest(frag(1, 0, 1, 'c'))
	ingest(frag(3, 0, 2, 'f'))
	ingest(frag(3, 1, 2, 'g'))

	for i := 1; i < len(delivered); i++ {
		assert.Greater(t, delivered[i], delivered[i-1],
			"frame ids must be strictly increasing, got %v", delivered)
	}
}

func TestFragCountMismatchDropped(t *testing.T) {
	a := NewAssembler(0)

	require.NoError(t, a.Ingest(frag(0, 0, 3, 'a')))
	err := a.Ingest(frag(0, 1, 4, 'b'))
	assert.ErrorIs(t, err, ErrFragCountMismatch)

	// The contradicting fragment left no trace.
	require.NoError(t, a.Ingest(frag(0, 1, 3, 'b')))
	require.NoError(t, a.Ingest(frag(0, 2, 3, 'c')))
	frames := a.DrainReady()
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("abc"), frames[0].Data)
}

func TestFrameTypeMismatchDropped(t *testing.T) {
	a := NewAssembler(0)

	first := frag(0, 0, 2, 'a')
	first.FrameType = protocol.FrameTypeKey
	require.NoError(t, a.Ingest(first))

	second := frag(0, 1, 2, 'b')
	second.FrameType = protocol.FrameTypeDelta
	assert.ErrorIs(t, a.Ingest(second), ErrFrameTypeMismatch)
	assert.Empty(t, a.DrainReady())
}

func TestFirstFragmentAnchorsExpectedFrame(t *testing.T) {
	a := NewAssembler(0)

	// Session joins mid-stream at frame 100.
	require.NoError(t, a.Ingest(frag(100, 0, 1, 'x')))
	frames := a.DrainReady()
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(100), frames[0].FrameID)
	assert.Equal(t, uint32(101), a.Expected())
}

func TestWindowFullEvictsOldestForNewerFrame(t *testing.T) {
	a := NewAssembler(2)

	require.NoError(t, a.Ingest(frag(0, 0, 2, 'a')))
	require.NoError(t, a.Ingest(frag(1, 0, 2, 'b')))
	// Window full; frame 2 evicts frame 0.
	require.NoError(t, a.Ingest(frag(2, 0, 2, 'c')))

	assert.Equal(t, 2, a.InFlight())
	assert.Equal(t, uint64(1), a.Stats().FramesEvicted)

	require.NoError(t, a.Ingest(frag(1, 1, 2, 'b')))
	frames := a.DrainReady()
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(1), frames[0].FrameID)
}

func TestWindowFullDropsOlderNewcomer(t *testing.T) {
	a := NewAssembler(2)

	require.NoError(t, a.Ingest(frag(5, 0, 2, 'a')))
	require.NoError(t, a.Ingest(frag(6, 0, 2, 'b')))
	// Frame 4 is older than everything tracked: dropped, no eviction.
	require.NoError(t, a.Ingest(frag(4, 0, 1, 'z')))

	assert.Empty(t, a.DrainReady())
	assert.Equal(t, 2, a.InFlight())
	assert.Zero(t, a.Stats().FramesEvicted)
}

func TestStatsCounters(t *testing.T) {
	a := NewAssembler(0)

	require.NoError(t, a.Ingest(frag(0, 0, 2, 'a')))
	require.NoError(t, a.Ingest(frag(0, 0, 2, 'a'))) // duplicate
	require.NoError(t, a.Ingest(frag(0, 1, 2, 'b')))
	require.Len(t, a.DrainReady(), 1)
	require.NoError(t, a.Ingest(frag(0, 1, 2, 'b'))) // stale now

	s := a.Stats()
	assert.Equal(t, uint64(4), s.FragmentsReceived)
	assert.Equal(t, uint64(1), s.FragmentsDuplicate)
	assert.Equal(t, uint64(1), s.FragmentsStale)
	assert.Equal(t, uint64(1), s.FramesCompleted)
	assert.Equal(t, uint64(2), s.BytesAssembled)
}
