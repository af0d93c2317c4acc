package slower

import (
	"fmt"

	"github.com/gordian-engine/sardine/spdu"
)

// MessageHeader holds the fields that [Segment] copies into every PDU.
type MessageHeader struct {
	Src, Dst uint16

	// Zero means [DefaultTTL].
	TTL uint8

	AKF bool
	AID uint8

	// SZMIC selects the 64-bit TransMIC; only meaningful when segmented.
	SZMIC bool

	// Only the low 13 bits are used.
	SeqZero uint16

	// Segment even when the payload fits in a single unsegmented PDU.
	ForceSegmented bool
}

// Segment splits an access payload into a PDU set.
//
// A payload of at most [MaxUnsegmentedPayload] bytes
// becomes a single unsegmented PDU, unless ForceSegmented is set.
// Otherwise the payload is split into [MaxSegmentPayload]-byte segments,
// the last of which may be shorter.
func Segment(hdr MessageHeader, payload []byte) (*spdu.Set, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("cannot segment empty payload")
	}

	h := Header{TTL: hdr.TTL, Src: hdr.Src, Dst: hdr.Dst}
	if h.TTL == 0 {
		h.TTL = DefaultTTL
	}

	if len(payload) <= MaxUnsegmentedPayload && !hdr.ForceSegmented {
		return spdu.New([][]byte{encodeUnsegmented(h, hdr.AKF, hdr.AID, payload)})
	}

	n := (len(payload) + MaxSegmentPayload - 1) / MaxSegmentPayload
	if n > MaxSegments {
		return nil, PayloadTooLargeError{Size: len(payload)}
	}

	f := segmentFields{
		Header:  h,
		AKF:     hdr.AKF,
		AID:     hdr.AID,
		SZMIC:   hdr.SZMIC,
		SeqZero: hdr.SeqZero & SeqZeroMask,
	}
	segN := uint8(n - 1)

	pdus := make([][]byte, n)
	for i := range pdus {
		start := i * MaxSegmentPayload
		end := min(start+MaxSegmentPayload, len(payload))
		pdus[i] = encodeSegment(f, uint8(i), segN, payload[start:end])
	}

	return spdu.New(pdus)
}
