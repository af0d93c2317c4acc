package slower

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/gordian-engine/sardine/sdeliver"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultReassemblyCapacity is the number of concurrent inbound messages
// a [Reassembler] tracks when no capacity is configured.
const DefaultReassemblyCapacity = 64

type reassemblyKey struct {
	Src     uint16
	SeqZero uint16
}

type reassembly struct {
	Dst  uint16
	SegN uint8

	Received *bitset.BitSet
	Segments [][]byte

	// Set once the payload has been returned,
	// so duplicate segments are acknowledged but not delivered twice.
	Delivered bool
}

// Reassembler tracks inbound segmented messages
// until every segment has arrived.
//
// Completed messages stay tracked
// so that late duplicate segments can still be acknowledged.
// The least recently touched message is evicted
// when the capacity is exceeded.
//
// Reassembler is not safe for concurrent use.
type Reassembler struct {
	pending *lru.Cache[reassemblyKey, *reassembly]
}

// NewReassembler returns a Reassembler tracking up to capacity messages.
// A non-positive capacity means [DefaultReassemblyCapacity].
func NewReassembler(capacity int) *Reassembler {
	if capacity <= 0 {
		capacity = DefaultReassemblyCapacity
	}

	c, err := lru.New[reassemblyKey, *reassembly](capacity)
	if err != nil {
		panic(fmt.Errorf("BUG: failed to create reassembly cache: %w", err))
	}

	return &Reassembler{pending: c}
}

// AddResult is the outcome of [*Reassembler.Add].
type AddResult struct {
	// The acknowledgement to send back to the segment's source,
	// reflecting every segment received so far.
	AckRequest sdeliver.BlockAckRequest

	// The full access payload, set only on the call
	// that received the final missing segment.
	Payload []byte
}

// Add records the segmented access PDU p.
func (r *Reassembler) Add(p PDU) (AddResult, error) {
	if p.Kind != KindSegmentedAccess {
		return AddResult{}, fmt.Errorf("cannot reassemble %s PDU", p.Kind)
	}

	key := reassemblyKey{Src: p.Src, SeqZero: p.SeqZero}
	ra, ok := r.pending.Get(key)
	if !ok {
		ra = &reassembly{
			Dst:      p.Dst,
			SegN:     p.SegN,
			Received: bitset.MustNew(uint(p.SegN) + 1),
			Segments: make([][]byte, int(p.SegN)+1),
		}
		r.pending.Add(key, ra)
	} else if ra.SegN != p.SegN {
		return AddResult{}, MalformedSegmentError{
			Src: p.Src, SeqZero: p.SeqZero,
			Reason: fmt.Sprintf("SegN changed from %d to %d", ra.SegN, p.SegN),
		}
	}

	if p.SegO < p.SegN && len(p.Payload) != MaxSegmentPayload {
		return AddResult{}, MalformedSegmentError{
			Src: p.Src, SeqZero: p.SeqZero,
			Reason: fmt.Sprintf("segment %d has %d bytes, want %d", p.SegO, len(p.Payload), MaxSegmentPayload),
		}
	}

	if !ra.Received.Test(uint(p.SegO)) {
		// Payload aliases the caller's buffer.
		ra.Segments[p.SegO] = append([]byte(nil), p.Payload...)
		ra.Received.Set(uint(p.SegO))
	}

	res := AddResult{
		AckRequest: sdeliver.BlockAckRequest{
			Src:      p.Src,
			Dst:      ra.Dst,
			SeqZero:  p.SeqZero,
			SegN:     ra.SegN,
			Received: ra.Received.Clone(),
		},
	}

	if !ra.Delivered && ra.Received.All() {
		ra.Delivered = true

		sz := 0
		for _, s := range ra.Segments {
			sz += len(s)
		}
		payload := make([]byte, 0, sz)
		for _, s := range ra.Segments {
			payload = append(payload, s...)
		}
		res.Payload = payload

		// The acknowledgement only needs the bitset from here on.
		clear(ra.Segments)
	}

	return res, nil
}

// AckRequest returns the acknowledgement request reflecting
// every segment received so far from src for seqZero.
// It reports false if that message is not tracked.
func (r *Reassembler) AckRequest(src, seqZero uint16) (sdeliver.BlockAckRequest, bool) {
	ra, ok := r.pending.Peek(reassemblyKey{Src: src, SeqZero: seqZero})
	if !ok {
		return sdeliver.BlockAckRequest{}, false
	}

	return sdeliver.BlockAckRequest{
		Src:      src,
		Dst:      ra.Dst,
		SeqZero:  seqZero,
		SegN:     ra.SegN,
		Received: ra.Received.Clone(),
	}, true
}

// Complete reports whether every segment from src for seqZero has arrived.
func (r *Reassembler) Complete(src, seqZero uint16) bool {
	ra, ok := r.pending.Peek(reassemblyKey{Src: src, SeqZero: seqZero})
	return ok && ra.Received.All()
}

// Len returns the number of tracked messages, complete or not.
func (r *Reassembler) Len() int {
	return r.pending.Len()
}
