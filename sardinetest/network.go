// Package sardinetest contains helpers for tests
// that run several [sardine.Dispatcher] values against each other.
package sardinetest

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gordian-engine/sardine"
	"github.com/gordian-engine/sardine/internal/stest"
	"github.com/gordian-engine/sardine/scategory"
	"github.com/gordian-engine/sardine/sdeliver"
	"github.com/gordian-engine/sardine/sdeliver/sdelivertest"
	"github.com/gordian-engine/sardine/slower"
	"github.com/gordian-engine/sardine/smemlink"
	"github.com/gordian-engine/sardine/spubsub"
	"github.com/stretchr/testify/require"
)

// Network contains a collection of Node values
// connected through an in-memory link and sharing a mock clock.
type Network struct {
	Link *smemlink.Network

	Clock *clock.Mock

	Nodes []Node
}

// Node contains the details for a dispatcher in this test network.
type Node struct {
	Addr uint16

	D *sardine.Dispatcher

	Status  *sdelivertest.RecordingStatus
	Handler *sdelivertest.RecordingHandler

	// Head of D's event stream, captured at construction.
	Events *spubsub.Stream[sardine.Event]
}

// NetworkConfig is the configuration passed to [NewNetwork].
type NetworkConfig struct {
	// One node is created per address.
	Addrs []uint16

	// Forwarded to [smemlink.NetworkConfig].
	Loss float64
	Seed uint64
	Drop func(src, dst uint16, pdu []byte) bool

	// Forwarded to [sardine.DispatcherConfig].
	IncompleteTimeout  time.Duration
	RetransmitInterval time.Duration
	AckDelay           time.Duration
}

// NewNetwork returns a Network with one dispatcher per configured address.
//
// t.Cleanup is used to wait for every dispatcher
// and link goroutine to stop after ctx is canceled;
// the caller must cancel ctx before the test returns.
func NewNetwork(t *testing.T, ctx context.Context, cfg NetworkConfig) *Network {
	t.Helper()

	log := stest.NewLogger(t)

	n := &Network{
		Link: smemlink.NewNetwork(log.With("sys", "link"), smemlink.NetworkConfig{
			Loss: cfg.Loss,
			Seed: cfg.Seed,
			Drop: cfg.Drop,
		}),
		Clock: clock.NewMock(),
		Nodes: make([]Node, len(cfg.Addrs)),
	}

	for i, addr := range cfg.Addrs {
		node := Node{
			Addr:    addr,
			Status:  new(sdelivertest.RecordingStatus),
			Handler: new(sdelivertest.RecordingHandler),
		}

		// The dispatcher needs the sender, and the link needs the dispatcher,
		// so route through a variable set just below.
		var d *sardine.Dispatcher
		sender := n.Link.Attach(ctx, addr, func(ctx context.Context, src uint16, pdu []byte) error {
			return d.HandlePDU(ctx, src, pdu)
		})

		d = sardine.NewDispatcher(ctx, log.With("node", i), sardine.DispatcherConfig{
			LocalAddress: addr,
			Sender:       sender,
			Status:       node.Status,
			NewHandler: func(uint16, uint16) sdeliver.TransactionHandler {
				return node.Handler
			},
			IncompleteTimeout:  cfg.IncompleteTimeout,
			RetransmitInterval: cfg.RetransmitInterval,
			AckDelay:           cfg.AckDelay,
			Clock:              n.Clock,
		})
		node.D = d
		node.Events = d.Events()

		n.Nodes[i] = node
	}

	t.Cleanup(func() {
		for _, node := range n.Nodes {
			node.D.Wait()
		}
		n.Link.Wait()
	})

	return n
}

// NewMessage segments payload into a message from node i to node j.
func (n *Network) NewMessage(t *testing.T, i, j int, seqZero uint16, payload []byte) *sdeliver.Message {
	t.Helper()

	src, dst := n.Nodes[i].Addr, n.Nodes[j].Addr
	return NewMessage(t, src, dst, seqZero, payload)
}

// NewMessage segments payload into a message from src to dst
// tagged with [scategory.GenericOnOffSet].
func NewMessage(t testing.TB, src, dst, seqZero uint16, payload []byte) *sdeliver.Message {
	t.Helper()

	pdus, err := slower.Segment(slower.MessageHeader{
		Src:     src,
		Dst:     dst,
		SeqZero: seqZero,
	}, payload)
	require.NoError(t, err)

	return &sdeliver.Message{
		Src:      src,
		Dst:      dst,
		SeqZero:  seqZero,
		Category: scategory.GenericOnOffSet,
		PDUs:     pdus,
	}
}

// AwaitEvent returns the next event on s and the following stream node,
// failing the test if no event is published within [stest.ScheduleTimeout].
func AwaitEvent(t testing.TB, s *spubsub.Stream[sardine.Event]) (sardine.Event, *spubsub.Stream[sardine.Event]) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), stest.ScheduleTimeout)
	defer cancel()

	e, next, err := s.Await(ctx)
	require.NoError(t, err, "no event published within %s", stest.ScheduleTimeout)
	return e, next
}

// AwaitEventKind skips events until one of kind k is published.
func AwaitEventKind(
	t testing.TB, s *spubsub.Stream[sardine.Event], k sardine.EventKind,
) (sardine.Event, *spubsub.Stream[sardine.Event]) {
	t.Helper()

	for {
		var e sardine.Event
		e, s = AwaitEvent(t, s)
		if e.Kind == k {
			return e, s
		}
	}
}

// NoEvent fails the test if an event is already published on s.
func NoEvent(t testing.TB, s *spubsub.Stream[sardine.Event]) {
	t.Helper()

	select {
	case <-s.Ready:
		t.Fatalf("unexpected event published: %+v", s.Val)
	default:
		// Okay.
	}
}
