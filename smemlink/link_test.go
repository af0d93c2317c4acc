package smemlink_test

import (
	"context"
	"testing"

	"github.com/gordian-engine/sardine/internal/stest"
	"github.com/gordian-engine/sardine/smemlink"
	"github.com/stretchr/testify/require"
)

type received struct {
	Src uint16
	PDU []byte
}

func collect(ch chan<- received) smemlink.Handler {
	return func(_ context.Context, src uint16, pdu []byte) error {
		ch <- received{Src: src, PDU: pdu}
		return nil
	}
}

func TestNetwork_deliver(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	n := smemlink.NewNetwork(stest.NewLogger(t), smemlink.NetworkConfig{})
	t.Cleanup(func() {
		cancel()
		n.Wait()
	})

	aIn := make(chan received, 4)
	bIn := make(chan received, 4)
	a := n.Attach(ctx, 1, collect(aIn))
	b := n.Attach(ctx, 2, collect(bIn))

	buf := []byte("hello")
	a.SendPDU(2, buf)

	// The network must not alias the sender's buffer.
	buf[0] = 'j'

	got := stest.ReceiveSoon(t, bIn)
	require.Equal(t, received{Src: 1, PDU: []byte("hello")}, got)

	b.SendPDU(1, []byte("back"))
	got = stest.ReceiveSoon(t, aIn)
	require.Equal(t, uint16(2), got.Src)

	a.SendPDU(99, []byte("nowhere"))
	stest.NotSending(t, aIn)
	stest.NotSending(t, bIn)

	require.Equal(t, smemlink.Stats{Sent: 2, Unroutable: 1}, n.Stats())
}

func TestNetwork_dropHook(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	n := smemlink.NewNetwork(stest.NewLogger(t), smemlink.NetworkConfig{
		Drop: func(src, dst uint16, pdu []byte) bool {
			return pdu[0] == 'x'
		},
	})
	t.Cleanup(func() {
		cancel()
		n.Wait()
	})

	bIn := make(chan received, 4)
	a := n.Attach(ctx, 1, collect(make(chan received, 1)))
	_ = n.Attach(ctx, 2, collect(bIn))

	a.SendPDU(2, []byte("x-dropped"))
	a.SendPDU(2, []byte("kept"))

	got := stest.ReceiveSoon(t, bIn)
	require.Equal(t, []byte("kept"), got.PDU)
	require.Equal(t, 1, n.Stats().Dropped)
}

func TestNetwork_lossIsSeeded(t *testing.T) {
	t.Parallel()

	dropped := func() int {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		n := smemlink.NewNetwork(stest.NewLogger(t), smemlink.NetworkConfig{
			Loss:      0.5,
			Seed:      42,
			QueueSize: 1000,
		})
		a := n.Attach(ctx, 1, func(context.Context, uint16, []byte) error { return nil })
		_ = n.Attach(ctx, 2, func(context.Context, uint16, []byte) error { return nil })

		for range 1000 {
			a.SendPDU(2, []byte{0})
		}

		cancel()
		n.Wait()
		return n.Stats().Dropped
	}

	first := dropped()
	require.Equal(t, first, dropped())
	require.Greater(t, first, 300)
	require.Less(t, first, 700)
}

func TestNewNetwork_badLoss(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() {
		smemlink.NewNetwork(stest.NewLogger(t), smemlink.NetworkConfig{Loss: 1})
	})
}
