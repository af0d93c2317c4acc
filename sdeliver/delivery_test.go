package sdeliver_test

import (
	"errors"
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/gordian-engine/sardine/internal/stest"
	"github.com/gordian-engine/sardine/scategory"
	"github.com/gordian-engine/sardine/sdeliver"
	"github.com/gordian-engine/sardine/sdeliver/sdelivertest"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	Sender  *sdelivertest.RecordingSender
	Status  *sdelivertest.RecordingStatus
	Handler *sdelivertest.RecordingHandler

	D *sdeliver.Delivery
}

func newFixture(t *testing.T, nPDUs int) *fixture {
	t.Helper()

	fx := &fixture{
		Sender:  new(sdelivertest.RecordingSender),
		Status:  new(sdelivertest.RecordingStatus),
		Handler: new(sdelivertest.RecordingHandler),
	}

	msg := sdelivertest.NewMessage(t, 0x0100, 0x20, nPDUs)
	fx.D = sdeliver.New(stest.NewLogger(t), msg, sdeliver.DeliveryConfig{
		Transport: sdelivertest.Transport{},
		Sender:    fx.Sender,
		Status:    fx.Status,
		Handler:   fx.Handler,
	})

	return fx
}

func TestDelivery_InitiateSend_ascending(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, 5, 32} {
		fx := newFixture(t, n)
		require.Equal(t, sdeliver.StateIdle, fx.D.State())

		require.NoError(t, fx.D.InitiateSend())
		require.Equal(t, sdeliver.StateSending, fx.D.State())

		sends := fx.Sender.Sends()
		require.Len(t, sends, n)
		for i, s := range sends {
			require.Equal(t, uint16(0x0100), s.Dst)
			require.Equal(t, sdelivertest.PDUFor(i), s.PDU)
		}
	}
}

func TestDelivery_InitiateSend_twice(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, 3)
	require.NoError(t, fx.D.InitiateSend())

	err := fx.D.InitiateSend()
	require.ErrorIs(t, err, sdeliver.ErrAlreadyStarted)

	// No extra sends from the rejected call.
	require.Len(t, fx.Sender.Sends(), 3)
}

func TestDelivery_Retransmit_unsegmented(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, 1)
	require.False(t, fx.D.Segmented())
	require.NoError(t, fx.D.InitiateSend())

	fx.D.Retransmit([]int{0})
	fx.D.Retransmit([]int{0, 1, 2})

	require.Len(t, fx.Sender.Sends(), 1)
}

func TestDelivery_Retransmit_inRange(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, 4)
	require.True(t, fx.D.Segmented())
	require.NoError(t, fx.D.InitiateSend())

	fx.D.Retransmit([]int{2})

	sends := fx.Sender.Sends()
	require.Len(t, sends, 5)
	require.Equal(t, sdelivertest.RetransmittedPDU(sdelivertest.PDUFor(2)), sends[4].PDU)
	require.Equal(t, sdeliver.StateAwaitingAck, fx.D.State())
}

func TestDelivery_Retransmit_outOfRange(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, 4)
	require.NoError(t, fx.D.InitiateSend())

	fx.D.Retransmit([]int{4})
	fx.D.Retransmit([]int{-1})
	require.Len(t, fx.Sender.Sends(), 4)

	// Mixed report keeps the given order and drops only the bad index.
	fx.D.Retransmit([]int{3, 9, 0})
	sends := fx.Sender.Sends()
	require.Len(t, sends, 6)
	require.Equal(t, sdelivertest.RetransmittedPDU(sdelivertest.PDUFor(3)), sends[4].PDU)
	require.Equal(t, sdelivertest.RetransmittedPDU(sdelivertest.PDUFor(0)), sends[5].PDU)
}

// failingTransport fails to regenerate one segment index.
type failingTransport struct {
	sdelivertest.Transport
	FailSegO int
}

func (f failingTransport) RetransmitPDU(m *sdeliver.Message, segO int) ([]byte, error) {
	if segO == f.FailSegO {
		return nil, errors.New("regeneration failed")
	}
	return f.Transport.RetransmitPDU(m, segO)
}

func TestDelivery_Retransmit_transportError(t *testing.T) {
	t.Parallel()

	sender := new(sdelivertest.RecordingSender)
	d := sdeliver.New(stest.NewLogger(t), sdelivertest.NewMessage(t, 0x0100, 0x20, 3), sdeliver.DeliveryConfig{
		Transport: failingTransport{FailSegO: 1},
		Sender:    sender,
		Status:    new(sdelivertest.RecordingStatus),
	})
	require.NoError(t, d.InitiateSend())

	d.Retransmit([]int{0, 1, 2})

	sends := sender.Sends()
	require.Len(t, sends, 3+2)
	require.Equal(t, sdelivertest.RetransmittedPDU(sdelivertest.PDUFor(0)), sends[3].PDU)
	require.Equal(t, sdelivertest.RetransmittedPDU(sdelivertest.PDUFor(2)), sends[4].PDU)
	require.Equal(t, sdeliver.StateAwaitingAck, d.State())
}

func TestDelivery_Retransmit_emptyOrWrongState(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, 3)

	// Idle: nothing happens.
	fx.D.Retransmit([]int{1})
	require.Empty(t, fx.Sender.Sends())
	require.Equal(t, sdeliver.StateIdle, fx.D.State())

	require.NoError(t, fx.D.InitiateSend())

	fx.D.Retransmit(nil)
	require.Len(t, fx.Sender.Sends(), 3)
	require.Equal(t, sdeliver.StateSending, fx.D.State())

	// Failed: nothing happens.
	fx.D.IncompleteTimerExpired()
	fx.D.Retransmit([]int{1})
	require.Len(t, fx.Sender.Sends(), 3)
}

func TestDelivery_Retransmit_repeated(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, 3)
	require.NoError(t, fx.D.InitiateSend())

	fx.D.Retransmit([]int{1})
	fx.D.Retransmit([]int{1})
	fx.D.Retransmit([]int{1, 2})

	require.Len(t, fx.Sender.Sends(), 3+1+1+2)
	require.Equal(t, sdeliver.StateAwaitingAck, fx.D.State())
}

func TestDelivery_IncompleteTimerExpired_once(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, 2)
	require.NoError(t, fx.D.InitiateSend())

	fx.D.IncompleteTimerExpired()
	fx.D.IncompleteTimerExpired()

	require.Equal(t, []sdelivertest.Failure{{Dst: 0x0100, DueToTimeout: true}}, fx.Status.Failures())
	require.Equal(t, []bool{true}, fx.Handler.Calls())
	require.Equal(t, sdeliver.StateFailed, fx.D.State())
	require.True(t, fx.D.State().Terminal())
}

func TestDelivery_IncompleteTimerExpired_nilHandler(t *testing.T) {
	t.Parallel()

	sender := new(sdelivertest.RecordingSender)
	status := new(sdelivertest.RecordingStatus)
	d := sdeliver.New(stest.NewLogger(t), sdelivertest.NewMessage(t, 7, 0, 2), sdeliver.DeliveryConfig{
		Transport: sdelivertest.Transport{},
		Sender:    sender,
		Status:    status,
	})
	require.NoError(t, d.InitiateSend())

	d.IncompleteTimerExpired()
	require.Len(t, status.Failures(), 1)
}

func TestDelivery_IncompleteTimerExpired_afterComplete(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, 2)
	require.NoError(t, fx.D.InitiateSend())
	fx.D.Complete()
	require.Equal(t, sdeliver.StateCompleted, fx.D.State())

	fx.D.IncompleteTimerExpired()
	require.Empty(t, fx.Status.Failures())
	require.Equal(t, sdeliver.StateCompleted, fx.D.State())
}

func TestDelivery_HandleControl(t *testing.T) {
	t.Parallel()

	received := bitset.MustNew(4)
	received.Set(0)
	received.Set(2)
	req := sdeliver.BlockAckRequest{
		Src:      0x0200,
		Dst:      0x0001,
		SeqZero:  0x0123,
		SegN:     3,
		Received: received,
	}

	// Valid in every state, and never changes the state.
	fx := newFixture(t, 3)
	require.NoError(t, fx.D.HandleControl(req))
	require.Equal(t, sdeliver.StateIdle, fx.D.State())

	require.NoError(t, fx.D.InitiateSend())
	require.NoError(t, fx.D.HandleControl(req))
	require.Equal(t, sdeliver.StateSending, fx.D.State())

	fx.D.IncompleteTimerExpired()
	require.NoError(t, fx.D.HandleControl(req))
	require.Equal(t, sdeliver.StateFailed, fx.D.State())

	sends := fx.Sender.Sends()
	require.Len(t, sends, 3+3)
	ackPDU := []byte{'A', 0x01, 0x23}
	for _, s := range []sdelivertest.Send{sends[0], sends[4], sends[5]} {
		require.Equal(t, uint16(0x0200), s.Dst)
		require.Equal(t, ackPDU, s.PDU)
	}

	require.Equal(t, []uint16{0x0200, 0x0200, 0x0200}, fx.Status.BlockAcks())
}

func TestDelivery_HandleControl_transportError(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	sender := new(sdelivertest.RecordingSender)
	status := new(sdelivertest.RecordingStatus)
	d := sdeliver.New(stest.NewLogger(t), sdelivertest.NewMessage(t, 7, 0, 2), sdeliver.DeliveryConfig{
		Transport: sdelivertest.Transport{BlockAckErr: errBoom},
		Sender:    sender,
		Status:    status,
	})

	err := d.HandleControl(sdeliver.BlockAckRequest{Src: 9, Received: bitset.MustNew(1)})
	require.ErrorIs(t, err, errBoom)
	require.Empty(t, sender.Sends())
	require.Empty(t, status.BlockAcks())
}

func TestDelivery_queries(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, 3)
	fx.D.Message().Category = scategory.GenericLevelSet

	require.Equal(t, 3, fx.D.PDUs().Len())
	require.Same(t, fx.D.Message().PDUs, fx.D.PDUs())
	require.Equal(t, scategory.GenericLevelSet, fx.D.Category())
}

func TestDelivery_endToEnd_lossRecovered(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, 3)
	require.NoError(t, fx.D.InitiateSend())

	// The peer reported segment 1 missing.
	fx.D.Retransmit([]int{1})

	sends := fx.Sender.Sends()
	require.Equal(t, []sdelivertest.Send{
		{Dst: 0x0100, PDU: sdelivertest.PDUFor(0)},
		{Dst: 0x0100, PDU: sdelivertest.PDUFor(1)},
		{Dst: 0x0100, PDU: sdelivertest.PDUFor(2)},
		{Dst: 0x0100, PDU: sdelivertest.RetransmittedPDU(sdelivertest.PDUFor(1))},
	}, sends)

	fx.D.Complete()
	require.Equal(t, sdeliver.StateCompleted, fx.D.State())
	require.Empty(t, fx.Status.Failures())
	require.Empty(t, fx.Handler.Calls())
}

func TestDelivery_endToEnd_timeout(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, 2)
	require.NoError(t, fx.D.InitiateSend())
	require.Len(t, fx.Sender.Sends(), 2)

	fx.D.IncompleteTimerExpired()
	require.Equal(t, []sdelivertest.Failure{{Dst: 0x0100, DueToTimeout: true}}, fx.Status.Failures())

	fx.D.IncompleteTimerExpired()
	require.Len(t, fx.Status.Failures(), 1)
}

func TestNew_panicsOnMissingCollaborators(t *testing.T) {
	t.Parallel()

	msg := sdelivertest.NewMessage(t, 1, 0, 1)
	require.Panics(t, func() {
		sdeliver.New(stest.NewLogger(t), msg, sdeliver.DeliveryConfig{})
	})
	require.Panics(t, func() {
		sdeliver.New(stest.NewLogger(t), nil, sdeliver.DeliveryConfig{
			Transport: sdelivertest.Transport{},
			Sender:    new(sdelivertest.RecordingSender),
			Status:    new(sdelivertest.RecordingStatus),
		})
	})
}

func TestState_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "AwaitingAck", sdeliver.StateAwaitingAck.String())
	require.Equal(t, "State(99)", sdeliver.State(99).String())
	require.False(t, sdeliver.StateSending.Terminal())
}
