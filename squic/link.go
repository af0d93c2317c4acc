// Package squic carries sardine PDUs over QUIC datagrams.
//
// Each datagram holds exactly one lower transport PDU.
// Datagrams are unreliable, so a [Link] fits under
// [github.com/gordian-engine/sardine.Dispatcher],
// which recovers lost segments itself.
package squic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordian-engine/sardine/sdeliver"
	"github.com/quic-go/quic-go"
)

// Conn is the subset of a QUIC connection used by a [Link].
// quic-go connections satisfy it.
type Conn interface {
	SendDatagram([]byte) error
	ReceiveDatagram(context.Context) ([]byte, error)
}

// UnknownPeerError is returned from [*Link.Send]
// when no connection is registered for the destination.
type UnknownPeerError struct {
	Addr uint16
}

func (e UnknownPeerError) Error() string {
	return fmt.Sprintf("no connection for address 0x%04x", e.Addr)
}

// PeerExistsError is returned from [*Link.AddPeer]
// when the address already has a connection.
type PeerExistsError struct {
	Addr uint16
}

func (e PeerExistsError) Error() string {
	return fmt.Sprintf("address 0x%04x already has a connection", e.Addr)
}

// PDUHandler is called for every datagram received from a peer.
type PDUHandler func(ctx context.Context, src uint16, pdu []byte) error

// LinkConfig is the configuration passed to [NewLink].
type LinkConfig struct {
	// Called from each peer's receive goroutine; required.
	OnPDU PDUHandler
}

// Link maps mesh addresses to QUIC connections.
// It implements [sdeliver.Sender].
type Link struct {
	log *slog.Logger

	onPDU PDUHandler

	mu    sync.RWMutex
	peers map[uint16]*linkPeer

	wg sync.WaitGroup
}

type linkPeer struct {
	Conn   Conn
	Cancel context.CancelFunc
}

var _ sdeliver.Sender = (*Link)(nil)

// NewLink returns a Link with no peers.
func NewLink(log *slog.Logger, cfg LinkConfig) *Link {
	if cfg.OnPDU == nil {
		panic(errors.New("BUG: LinkConfig.OnPDU must not be nil"))
	}

	return &Link{
		log:   log,
		onPDU: cfg.OnPDU,
		peers: make(map[uint16]*linkPeer),
	}
}

// AddPeer registers conn as the connection to addr
// and starts receiving datagrams from it until ctx is canceled,
// the peer is removed, or the connection fails.
func (l *Link) AddPeer(ctx context.Context, addr uint16, conn Conn) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.peers[addr]; ok {
		return PeerExistsError{Addr: addr}
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &linkPeer{Conn: conn, Cancel: cancel}
	l.peers[addr] = p

	l.wg.Add(1)
	go l.receive(ctx, addr, p)

	return nil
}

// RemovePeer stops receiving from addr's connection and forgets it.
// It reports whether addr was registered.
// The connection itself is left open.
func (l *Link) RemovePeer(addr uint16) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.peers[addr]
	if !ok {
		return false
	}
	p.Cancel()
	delete(l.peers, addr)
	return true
}

// Send writes pdu as a single datagram to dst.
func (l *Link) Send(dst uint16, pdu []byte) error {
	l.mu.RLock()
	p, ok := l.peers[dst]
	l.mu.RUnlock()

	if !ok {
		return UnknownPeerError{Addr: dst}
	}

	if err := p.Conn.SendDatagram(pdu); err != nil {
		return fmt.Errorf("failed to send datagram to 0x%04x: %w", dst, err)
	}
	return nil
}

// SendPDU calls [*Link.Send], logging and dropping any error.
// Loss is recovered by the layer above.
func (l *Link) SendPDU(dst uint16, pdu []byte) {
	if err := l.Send(dst, pdu); err != nil {
		var tooLarge *quic.DatagramTooLargeError
		if errors.As(err, &tooLarge) {
			l.log.Warn("PDU exceeds datagram size", "dst", dst, "size", len(pdu), "max", tooLarge.MaxDatagramPayloadSize)
			return
		}
		l.log.Debug("Dropping PDU", "dst", dst, "err", err)
	}
}

// Wait blocks until every receive goroutine has returned.
func (l *Link) Wait() {
	l.wg.Wait()
}

func (l *Link) receive(ctx context.Context, addr uint16, self *linkPeer) {
	defer l.wg.Done()

	log := l.log.With("peer", addr)

	for {
		b, err := self.Conn.ReceiveDatagram(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Info("Stopped receiving datagrams", "err", err)
			}

			// Forget a failed connection, unless it was already replaced.
			l.mu.Lock()
			if l.peers[addr] == self {
				delete(l.peers, addr)
			}
			self.Cancel()
			l.mu.Unlock()
			return
		}

		if err := l.onPDU(ctx, addr, b); err != nil {
			log.Debug("Handler rejected datagram", "err", err)
		}
	}
}
