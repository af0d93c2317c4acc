package sdeliver

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/gordian-engine/sardine/scategory"
	"github.com/gordian-engine/sardine/spdu"
)

// Message is an outbound message admitted to the transport layer.
// It is owned by exactly one [Delivery] for the Delivery's lifetime.
type Message struct {
	// Opaque source and destination addresses.
	Src, Dst uint16

	// The lower 13 bits of the sequence number of the first segment.
	// Together with Dst, it identifies the in-flight transaction.
	SeqZero uint16

	// Opaque tag; the delivery logic does not depend on it.
	Category scategory.Category

	PDUs *spdu.Set
}

// Segmented reports whether m spans more than one PDU.
func (m *Message) Segmented() bool {
	return m.PDUs.Len() > 1
}

// BlockAckRequest describes the segments a peer has sent us
// for one of its segmented messages.
// It is the input to [Transport.BlockAck].
type BlockAckRequest struct {
	// Src is the peer that sent the segments;
	// the acknowledgement is addressed back to it.
	Src uint16

	// Dst is the address the segments were sent to.
	Dst uint16

	SeqZero uint16

	// Index of the last segment of the peer's message.
	SegN uint8

	// Received has bit i set when segment i has arrived.
	Received *bitset.BitSet

	// Set when acknowledging on behalf of a friendship.
	OnBehalfOf bool
}

// Ack is an acknowledgement PDU and where it must be sent.
type Ack struct {
	Dst uint16
	PDU []byte
}

// Transport regenerates PDUs on behalf of a [Delivery].
// A single Transport is shared by every active Delivery,
// so implementations must not keep per-message state.
type Transport interface {
	// RetransmitPDU rebuilds the PDU for segment segO of m.
	// The result may differ from the originally sent PDU,
	// for instance if header fields are recomputed.
	// It returns an error only when segO is out of range for m.
	RetransmitPDU(m *Message, segO int) ([]byte, error)

	// BlockAck builds the single acknowledgement PDU for req.
	// The output depends only on req.
	BlockAck(req BlockAckRequest) (Ack, error)
}

// Sender pushes PDUs onto the link.
//
// SendPDU is called synchronously from the event loop
// and must return promptly.
// Sends are fire-and-forget; there is no way to report failure.
type Sender interface {
	SendPDU(dst uint16, pdu []byte)
}

// StatusReporter observes transaction outcomes.
// Like [Sender], its methods must return promptly.
type StatusReporter interface {
	// TransactionFailed is called once when a transaction to dst fails.
	TransactionFailed(dst uint16, dueToTimeout bool)

	// BlockAckSent is called after an acknowledgement PDU
	// has been handed to the Sender.
	BlockAckSent(dst uint16)
}

// TransactionHandler is notified when the incomplete timer expires
// for a transaction, before the failure is reported to the [StatusReporter].
// Each [Delivery] has its own handler, if any,
// so the handler knows which transaction it belongs to.
type TransactionHandler interface {
	IncompleteTimerExpired(timedOut bool)
}

// SenderFunc adapts a function into a [Sender].
type SenderFunc func(dst uint16, pdu []byte)

func (f SenderFunc) SendPDU(dst uint16, pdu []byte) {
	f(dst, pdu)
}
