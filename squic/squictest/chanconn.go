package squictest

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrClosed is returned from a closed [ChanConn].
var ErrClosed = errors.New("connection closed")

// ChanConn is an in-memory [squic.Conn] backed by channels,
// for tests that do not need real QUIC.
//
// Create a connected pair with [NewChanPair].
type ChanConn struct {
	in  <-chan []byte
	out chan<- []byte

	closeOnce sync.Once
	closed    chan struct{}
	peer      *ChanConn
}

// NewChanPair returns two connected ChanConn values.
// Each direction buffers up to 64 datagrams;
// further datagrams are dropped, as a real datagram queue would.
func NewChanPair() (a, b *ChanConn) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)

	a = &ChanConn{in: ba, out: ab, closed: make(chan struct{})}
	b = &ChanConn{in: ab, out: ba, closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (c *ChanConn) SendDatagram(d []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	select {
	case c.out <- slices.Clone(d):
	default:
		// Dropped.
	}
	return nil
}

func (c *ChanConn) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case <-c.closed:
		return nil, ErrClosed
	case d := <-c.in:
		return d, nil
	}
}

// Close closes both ends of the pair.
func (c *ChanConn) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
	c.peer.closeOnce.Do(func() { close(c.peer.closed) })
}
