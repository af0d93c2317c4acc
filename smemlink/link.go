// Package smemlink is an in-memory, optionally lossy link between mesh addresses.
//
// It is used by the sardine simulator and by tests
// that need several dispatchers to talk to each other
// without a real network.
package smemlink

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/gordian-engine/sardine/sdeliver"
)

// DefaultQueueSize is the per-endpoint queue length
// used when [NetworkConfig.QueueSize] is zero.
const DefaultQueueSize = 256

// Handler receives PDUs delivered to an attached address.
// Handlers are called from a single goroutine per address.
type Handler func(ctx context.Context, src uint16, pdu []byte) error

// NetworkConfig is the configuration passed to [NewNetwork].
type NetworkConfig struct {
	// Probability in [0, 1) that any single PDU is dropped.
	Loss float64

	// Seed for the loss decisions.
	Seed uint64

	// Zero means [DefaultQueueSize].
	QueueSize int

	// Optional, consulted before the random loss decision.
	// If it returns true the PDU is dropped.
	Drop func(src, dst uint16, pdu []byte) bool
}

// Network routes PDUs between attached addresses.
type Network struct {
	log *slog.Logger

	queueSize int
	drop      func(src, dst uint16, pdu []byte) bool

	mu    sync.Mutex
	rng   *rand.Rand
	loss  float64
	peers map[uint16]chan frame

	stats Stats

	wg sync.WaitGroup
}

// Stats counts PDUs passing through a [Network].
type Stats struct {
	Sent, Dropped, Overflowed, Unroutable int
}

type frame struct {
	Src uint16
	PDU []byte
}

// NewNetwork returns an empty Network.
func NewNetwork(log *slog.Logger, cfg NetworkConfig) *Network {
	if cfg.Loss < 0 || cfg.Loss >= 1 {
		panic(fmt.Errorf("BUG: loss probability must be in [0, 1), got %v", cfg.Loss))
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	return &Network{
		log: log,

		queueSize: cfg.QueueSize,
		drop:      cfg.Drop,

		rng:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x5a5a5a5a)),
		loss:  cfg.Loss,
		peers: make(map[uint16]chan frame),
	}
}

// Attach registers addr on the network
// and starts a goroutine delivering its inbound PDUs to h
// until ctx is canceled.
// The returned Sender transmits from addr.
//
// Attach panics if addr is already attached.
func (n *Network) Attach(ctx context.Context, addr uint16, h Handler) sdeliver.Sender {
	ch := make(chan frame, n.queueSize)

	n.mu.Lock()
	if _, ok := n.peers[addr]; ok {
		n.mu.Unlock()
		panic(fmt.Errorf("BUG: address 0x%04x attached twice", addr))
	}
	n.peers[addr] = ch
	n.mu.Unlock()

	log := n.log.With("addr", addr)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case f := <-ch:
				if err := h(ctx, f.Src, f.PDU); err != nil {
					log.Debug("Handler rejected PDU", "src", f.Src, "err", err)
				}
			}
		}
	}()

	return sdeliver.SenderFunc(func(dst uint16, pdu []byte) {
		n.send(addr, dst, pdu)
	})
}

func (n *Network) send(src, dst uint16, pdu []byte) {
	if n.drop != nil && n.drop(src, dst, pdu) {
		n.mu.Lock()
		n.stats.Dropped++
		n.mu.Unlock()
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	ch, ok := n.peers[dst]
	if !ok {
		n.stats.Unroutable++
		n.log.Debug("Dropping PDU to unknown address", "src", src, "dst", dst)
		return
	}

	if n.loss > 0 && n.rng.Float64() < n.loss {
		n.stats.Dropped++
		return
	}

	select {
	case ch <- frame{Src: src, PDU: slices.Clone(pdu)}:
		n.stats.Sent++
	default:
		n.stats.Overflowed++
		n.log.Warn("Dropping PDU due to full queue", "src", src, "dst", dst)
	}
}

// Stats returns a snapshot of n's counters.
func (n *Network) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// Wait blocks until every goroutine started by [*Network.Attach] has returned.
func (n *Network) Wait() {
	n.wg.Wait()
}
