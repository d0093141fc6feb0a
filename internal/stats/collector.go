package stats

import (
	"sync"
	"time"

	"github.com/vidrx/vidrx/internal/decode"
	"github.com/vidrx/vidrx/internal/reassembly"
)

// Snapshot is a point-in-time view of the session's counters, published by
// the receive loop and read by the monitor server.
type Snapshot struct {
	RunID              string                `json:"run_id"`
	StartedAt          time.Time             `json:"started_at"`
	PeerAddr           string                `json:"peer_addr,omitempty"`
	DatagramsReceived  uint64                `json:"datagrams_received"`
	ParseErrors        uint64                `json:"parse_errors"`
	ProtocolViolations uint64                `json:"protocol_violations"`
	AcksSent           uint64                `json:"acks_sent"`
	Reassembly         reassembly.Stats     `json:"reassembly"`
	Pipeline           decode.PipelineStats `json:"pipeline"`
}

// Collector holds the latest snapshot behind a lock so the single-threaded
// receive loop can publish without the monitor's reads racing it.
type Collector struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewCollector creates a collector seeded with the session identity.
func NewCollector(runID string, startedAt time.Time) *Collector {
	return &Collector{
		snap: Snapshot{RunID: runID, StartedAt: startedAt},
	}
}

// SetPeer records the sender's address once the handshake completes.
func (c *Collector) SetPeer(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.PeerAddr = addr
}

// Update replaces the counter portion of the snapshot, keeping identity
// fields intact.
func (c *Collector) Update(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap.RunID = c.snap.RunID
	snap.StartedAt = c.snap.StartedAt
	snap.PeerAddr = c.snap.PeerAddr
	c.snap = snap
}

// Snapshot returns the latest published snapshot.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}
