// Package transport wraps the UDP socket behind the narrow surface the
// receive loop needs: bind, recv, send, and locking onto a single peer once
// the handshake identifies the sender.
package transport

import (
	"net"

	"github.com/pkg/errors"
)

// Maximum datagram the socket will accept. UDP datagrams cannot exceed 64KB.
const maxDatagramSize = 65535

// UDPSocket is a bound UDP socket serving exactly one session peer.
type UDPSocket struct {
	conn    *net.UDPConn
	peer    *net.UDPAddr
	readBuf []byte
}

// Bind opens a UDP socket listening on the given port on all interfaces.
func Bind(port int) (*UDPSocket, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to bind UDP port %d", port)
	}

	return &UDPSocket{
		conn:    conn,
		readBuf: make([]byte, maxDatagramSize),
	}, nil
}

// LocalAddr returns the socket's bound address.
func (s *UDPSocket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// RecvFrom blocks for one datagram from any peer. The returned slice is only
// valid until the next receive call.
func (s *UDPSocket) RecvFrom() ([]byte, *net.UDPAddr, error) {
	n, addr, err := s.conn.ReadFromUDP(s.readBuf)
	if err != nil {
		return nil, nil, errors.Wrap(err, "udp recvfrom failed")
	}
	return s.readBuf[:n], addr, nil
}

// Connect fixes the session's peer. Datagrams from other sources are
// discarded by Recv from this point on.
func (s *UDPSocket) Connect(peer *net.UDPAddr) error {
	if peer == nil {
		return errors.New("nil peer address")
	}
	s.peer = peer
	return nil
}

// Recv blocks for one datagram from the connected peer, silently discarding
// traffic from anyone else. The returned slice is only valid until the next
// receive call.
func (s *UDPSocket) Recv() ([]byte, error) {
	for {
		n, addr, err := s.conn.ReadFromUDP(s.readBuf)
		if err != nil {
			return nil, errors.Wrap(err, "udp recv failed")
		}
		if s.peer != nil && !udpAddrEqual(addr, s.peer) {
			continue
		}
		return s.readBuf[:n], nil
	}
}

// Send transmits one datagram to the connected peer.
func (s *UDPSocket) Send(data []byte) error {
	if s.peer == nil {
		return errors.New("socket not connected to a peer")
	}
	if _, err := s.conn.WriteToUDP(data, s.peer); err != nil {
		return errors.Wrap(err, "udp send failed")
	}
	return nil
}

// Close releases the socket. A blocked Recv returns with an error.
func (s *UDPSocket) Close() error {
	return s.conn.Close()
}

func udpAddrEqual(a, b *net.UDPAddr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP)
}
