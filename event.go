package sardine

import (
	"fmt"

	"github.com/gordian-engine/sardine/scategory"
)

// EventKind classifies an [Event].
type EventKind uint8

const (
	// EventDelivered means the peer acknowledged every segment.
	EventDelivered EventKind = iota + 1

	// EventSent means an unsegmented message was handed to the link.
	// Unsegmented messages are never acknowledged by the lower transport.
	EventSent

	// EventFailed means the incomplete timer expired.
	EventFailed

	// EventBlockAckSent means a block acknowledgement was sent to Peer.
	EventBlockAckSent

	// EventReceived means an inbound message was fully reassembled.
	EventReceived
)

func (k EventKind) String() string {
	switch k {
	case EventDelivered:
		return "Delivered"
	case EventSent:
		return "Sent"
	case EventFailed:
		return "Failed"
	case EventBlockAckSent:
		return "BlockAckSent"
	case EventReceived:
		return "Received"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event is a value published on the [*Dispatcher.Events] stream.
type Event struct {
	Kind EventKind

	// Destination of an outbound message,
	// source of an inbound message,
	// or destination of a block acknowledgement.
	Peer uint16

	// For EventBlockAckSent, the SeqZero of the acknowledged inbound message.
	SeqZero uint16

	// Only set for outbound transactions.
	Category scategory.Category

	// Only set for EventReceived.
	Payload []byte
}
