package slower

import (
	"fmt"

	"github.com/gordian-engine/sardine/sdeliver"
)

// TransportConfig is the configuration passed to [NewTransport].
type TransportConfig struct {
	// TTL for outgoing segment acknowledgements.
	// Zero means [DefaultTTL].
	AckTTL uint8
}

// Transport implements [sdeliver.Transport] for PDUs built by [Segment].
// It holds no per-message state and is safe for concurrent use.
type Transport struct {
	ackTTL uint8
}

var _ sdeliver.Transport = Transport{}

// NewTransport returns a Transport with the given configuration.
func NewTransport(cfg TransportConfig) Transport {
	if cfg.AckTTL == 0 {
		cfg.AckTTL = DefaultTTL
	}
	return Transport{ackTTL: cfg.AckTTL}
}

// RetransmitPDU re-encodes segment segO of m from the stored PDU,
// recomputing SegN from the size of m's PDU set.
// The returned slice is newly allocated.
func (t Transport) RetransmitPDU(m *sdeliver.Message, segO int) ([]byte, error) {
	n := m.PDUs.Len()
	orig, ok := m.PDUs.Get(segO)
	if !ok || n > MaxSegments {
		return nil, sdeliver.SegmentOutOfRangeError{SegO: segO, N: n}
	}

	p, err := Parse(orig)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored segment %d: %w", segO, err)
	}
	if p.Kind != KindSegmentedAccess {
		return nil, fmt.Errorf("stored PDU %d is %s, not a segment", segO, p.Kind)
	}

	f := segmentFields{
		Header:  p.Header,
		AKF:     p.AKF,
		AID:     p.AID,
		SZMIC:   p.SZMIC,
		SeqZero: p.SeqZero,
	}
	return encodeSegment(f, uint8(segO), uint8(n-1), p.Payload), nil
}

// BlockAck encodes a segment acknowledgement addressed to req.Src,
// marking every received segment up to req.SegN.
func (t Transport) BlockAck(req sdeliver.BlockAckRequest) (sdeliver.Ack, error) {
	if req.Received == nil {
		return sdeliver.Ack{}, fmt.Errorf("block ack request for seq_zero=%d has no received set", req.SeqZero)
	}

	ba := BlockAckFromBitset(req.Received)
	if req.SegN < MaxSegments-1 {
		ba &= (1 << (uint(req.SegN) + 1)) - 1
	}

	pdu := EncodeSegmentAck(
		Header{TTL: t.ackTTL, Src: req.Dst, Dst: req.Src},
		SegmentAck{
			OnBehalfOf: req.OnBehalfOf,
			SeqZero:    req.SeqZero & SeqZeroMask,
			BlockAck:   ba,
		},
	)
	return sdeliver.Ack{Dst: req.Src, PDU: pdu}, nil
}
