// Package receiver owns the session lifecycle: bind, wait for the sender's
// config handshake, then run the steady-state receive loop that turns
// datagrams into acknowledged fragments and completed frames.
package receiver

import (
	"context"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/vidrx/vidrx/internal/decode"
	"github.com/vidrx/vidrx/internal/feedback"
	"github.com/vidrx/vidrx/internal/protocol"
	"github.com/vidrx/vidrx/internal/reassembly"
	"github.com/vidrx/vidrx/internal/stats"
	"github.com/vidrx/vidrx/internal/util"
)

// Transport is the datagram surface the session drives. *transport.UDPSocket
// implements it; tests substitute an in-memory fake.
type Transport interface {
	RecvFrom() ([]byte, *net.UDPAddr, error)
	Connect(peer *net.UDPAddr) error
	Recv() ([]byte, error)
	Send(data []byte) error
}

// Options configures a session.
type Options struct {
	// RunID identifies the session in logs and monitor output; empty
	// generates a fresh one.
	RunID string
	// WindowSize bounds concurrently tracked partial frames; zero selects
	// the reassembly default.
	WindowSize int
	// PerfLog receives one record per completed frame when non-nil.
	PerfLog *stats.PerfLogger
	// Collector receives counter snapshots for the monitor when non-nil.
	Collector *stats.Collector
	// Clock overrides the wall clock in tests.
	Clock clock.PassiveClock
}

// Session runs one receiver session against a single sender.
type Session struct {
	runID     string
	transport Transport
	assembler *reassembly.Assembler
	ackor     *feedback.Builder
	pipeline  *decode.Pipeline
	perfLog   *stats.PerfLogger
	collector *stats.Collector

	config *protocol.Config

	datagramsReceived  uint64
	parseErrors        uint64
	protocolViolations uint64
	acksSent           uint64
}

// NewSession creates a session around a bound transport and decode pipeline.
func NewSession(t Transport, pipeline *decode.Pipeline, opts Options) *Session {
	ackor := feedback.NewBuilder()
	if opts.Clock != nil {
		ackor = feedback.NewBuilderWithClock(opts.Clock)
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	return &Session{
		runID:     runID,
		transport: t,
		assembler: reassembly.NewAssembler(opts.WindowSize),
		ackor:     ackor,
		pipeline:  pipeline,
		perfLog:   opts.PerfLog,
		collector: opts.Collector,
	}
}

// RunID identifies this session in logs and monitor output.
func (s *Session) RunID() string {
	return s.runID
}

// Config returns the session configuration, or nil before the handshake.
func (s *Session) Config() *protocol.Config {
	return s.config
}

// AwaitConfig blocks until a valid config message arrives from any peer,
// then locks the transport onto that peer for the rest of the session.
// Invalid and non-config messages are ignored.
func (s *Session) AwaitConfig(ctx context.Context) (*protocol.Config, error) {
	logger := util.GetLogger()
	logger.Info("Waiting for sender...", "run_id", s.runID)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, peer, err := s.transport.RecvFrom()
		if err != nil {
			if ctx.Err() != nil || isClosedConn(err) {
				return nil, context.Canceled
			}
			return nil, errors.Wrap(err, "transport failed during handshake")
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			logger.Debug("Ignoring invalid handshake datagram", "error", err)
			continue
		}

		config, ok := msg.(*protocol.Config)
		if !ok {
			continue
		}

		if err := s.transport.Connect(peer); err != nil {
			return nil, errors.Wrap(err, "failed to connect to sender")
		}

		s.config = config
		if s.collector != nil {
			s.collector.SetPeer(peer.String())
		}

		logger.Info("Received config",
			"peer", peer.String(),
			"width", config.Width,
			"height", config.Height,
			"fps", config.FrameRate,
			"bitrate", config.TargetBitrate)

		return config, nil
	}
}

// Run executes the steady-state loop: receive, decode, ack, ingest, drain,
// consume. It returns nil on context cancellation and an error on a fatal
// transport failure. Malformed datagrams and protocol violations are dropped
// and counted, never fatal.
func (s *Session) Run(ctx context.Context) error {
	logger := util.GetLogger()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		data, err := s.transport.Recv()
		if err != nil {
			if ctx.Err() != nil || isClosedConn(err) {
				return nil
			}
			return errors.Wrap(err, "transport receive failed")
		}
		s.datagramsReceived++

		msg, err := protocol.Decode(data)
		if err != nil {
			s.parseErrors++
			logger.Debug("Dropped malformed datagram", "error", err)
			s.publishStats()
			continue
		}

		switch m := msg.(type) {
		case *protocol.Fragment:
			if err := s.handleFragment(m); err != nil {
				return err
			}
		case *protocol.Config:
			// Duplicate handshake from the connected sender; already applied.
			logger.Debug("Ignoring duplicate config message")
		case *protocol.Ack:
			// The receiver emits acks, it does not consume them.
			logger.Debug("Ignoring unexpected ack message")
		}

		s.publishStats()
	}
}

// handleFragment acknowledges one decoded fragment and advances reassembly.
// The ack goes out before ingestion and regardless of its outcome: feedback
// measures transport loss, not reassembly success.
func (s *Session) handleFragment(frag *protocol.Fragment) error {
	logger := util.GetLogger()

	ack := s.ackor.Ack(frag)
	if err := s.transport.Send(ack.Serialize()); err != nil {
		return errors.Wrap(err, "failed to send ack")
	}
	s.acksSent++

	logger.Debug("Acked datagram", "frame_id", frag.FrameID, "frag_id", frag.FragIndex)

	if err := s.assembler.Ingest(frag); err != nil {
		s.protocolViolations++
		logger.Debug("Dropped inconsistent fragment", "error", err)
		return nil
	}

	for _, frame := range s.assembler.DrainReady() {
		if err := s.pipeline.Consume(frame); err != nil {
			logger.Warn("Pipeline failed, frame skipped",
				"frame_id", frame.FrameID, "error", err)
		}
		if s.perfLog != nil {
			if err := s.perfLog.Record(frame); err != nil {
				logger.Warn("Failed to write performance record", "error", err)
			}
		}
	}

	return nil
}

func (s *Session) publishStats() {
	if s.collector == nil {
		return
	}
	s.collector.Update(stats.Snapshot{
		DatagramsReceived:  s.datagramsReceived,
		ParseErrors:        s.parseErrors,
		ProtocolViolations: s.protocolViolations,
		AcksSent:           s.acksSent,
		Reassembly:         s.assembler.Stats(),
		Pipeline:           s.pipeline.Stats(),
	})
}

// isClosedConn reports whether the error is the read-after-close the session
// sees when the socket is torn down during shutdown.
func isClosedConn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "use of closed network connection")
}
