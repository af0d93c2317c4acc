package sardine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gordian-engine/sardine"
	"github.com/gordian-engine/sardine/internal/stest"
	"github.com/gordian-engine/sardine/sardinetest"
	"github.com/gordian-engine/sardine/sdeliver/sdelivertest"
	"github.com/gordian-engine/sardine/slower"
	"github.com/stretchr/testify/require"
)

// dropFirst returns a drop hook that discards the first transmission
// of each listed segment index sent from src.
func dropFirst(src uint16, segs ...uint8) func(uint16, uint16, []byte) bool {
	var mu sync.Mutex
	pending := make(map[uint8]bool, len(segs))
	for _, s := range segs {
		pending[s] = true
	}

	return func(from, _ uint16, pdu []byte) bool {
		if from != src {
			return false
		}
		p, err := slower.Parse(pdu)
		if err != nil || p.Kind != slower.KindSegmentedAccess {
			return false
		}

		mu.Lock()
		defer mu.Unlock()
		if pending[p.SegO] {
			delete(pending, p.SegO)
			return true
		}
		return false
	}
}

func TestNetwork_lossRecovered(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := sardinetest.NewNetwork(t, ctx, sardinetest.NetworkConfig{
		Addrs: []uint16{0x0001, 0x0002},
		Drop:  dropFirst(0x0001, 3, 7),
	})

	payload := stest.RandomDataForTest(t, 100)
	msg := n.NewMessage(t, 0, 1, 0x77, payload)
	require.Equal(t, 9, msg.PDUs.Len())
	require.NoError(t, n.Nodes[0].D.Send(ctx, msg))

	e, _ := sardinetest.AwaitEventKind(t, n.Nodes[1].Events, sardine.EventReceived)
	require.Equal(t, uint16(0x0001), e.Peer)
	require.Equal(t, payload, e.Payload)

	e, _ = sardinetest.AwaitEventKind(t, n.Nodes[0].Events, sardine.EventDelivered)
	require.Equal(t, uint16(0x0002), e.Peer)
	require.Equal(t, uint16(0x77), e.SeqZero)

	require.Empty(t, n.Nodes[0].Status.Failures())
	require.NotEmpty(t, n.Nodes[1].Status.BlockAcks())
}

func TestNetwork_delayedAcks(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := sardinetest.NewNetwork(t, ctx, sardinetest.NetworkConfig{
		Addrs:              []uint16{0x0001, 0x0002},
		Drop:               dropFirst(0x0001, 0, 4),
		AckDelay:           100 * time.Millisecond,
		RetransmitInterval: time.Second,
	})

	payload := stest.RandomDataForTest(t, 60)
	require.NoError(t, n.Nodes[0].D.Send(ctx, n.NewMessage(t, 0, 1, 3, payload)))

	// Only the delayed acknowledgement can report the two lost segments.
	delivered := n.Nodes[0].Events
	require.Eventually(t, func() bool {
		n.Clock.Add(20 * time.Millisecond)
		select {
		case <-delivered.Ready:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	e, _ := sardinetest.AwaitEventKind(t, n.Nodes[0].Events, sardine.EventDelivered)
	require.Equal(t, uint16(0x0002), e.Peer)

	e, _ = sardinetest.AwaitEventKind(t, n.Nodes[1].Events, sardine.EventReceived)
	require.Equal(t, payload, e.Payload)
}

func TestNetwork_totalLossFails(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := sardinetest.NewNetwork(t, ctx, sardinetest.NetworkConfig{
		Addrs: []uint16{0x0001, 0x0002},
		Drop: func(src, _ uint16, _ []byte) bool {
			return src == 0x0001
		},
		IncompleteTimeout: time.Second,
	})

	require.NoError(t, n.Nodes[0].D.Send(ctx, n.NewMessage(t, 0, 1, 0, stest.RandomDataForTest(t, 50))))

	n.Clock.Add(time.Second)

	e, _ := sardinetest.AwaitEvent(t, n.Nodes[0].Events)
	require.Equal(t, sardine.EventFailed, e.Kind)
	require.Equal(t, []sdelivertest.Failure{{Dst: 0x0002, DueToTimeout: true}}, n.Nodes[0].Status.Failures())
	require.Equal(t, []bool{true}, n.Nodes[0].Handler.Calls())

	sardinetest.NoEvent(t, n.Nodes[1].Events)
}
