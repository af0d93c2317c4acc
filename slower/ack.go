package slower

import "github.com/bits-and-blooms/bitset"

// SegmentAck is the body of a segment acknowledgement.
// Bit i of BlockAck is set when segment i was received.
type SegmentAck struct {
	OnBehalfOf bool
	SeqZero    uint16
	BlockAck   uint32
}

// Acked reports whether segment segO is marked received.
func (a SegmentAck) Acked(segO int) bool {
	if segO < 0 || segO >= MaxSegments {
		return false
	}
	return a.BlockAck&(1<<uint(segO)) != 0
}

// Complete reports whether all of the first n segments are marked received.
func (a SegmentAck) Complete(n int) bool {
	for i := range n {
		if !a.Acked(i) {
			return false
		}
	}
	return n > 0
}

// Lost returns the indices below n not marked received, in ascending order.
// The result is the loss report for a message with n segments.
func (a SegmentAck) Lost(n int) []int {
	var lost []int
	for i := range min(n, MaxSegments) {
		if !a.Acked(i) {
			lost = append(lost, i)
		}
	}
	return lost
}

// BlockAckFromBitset returns the BlockAck value with bit i set
// for every set bit i < [MaxSegments] in bs.
func BlockAckFromBitset(bs *bitset.BitSet) uint32 {
	var v uint32
	for i, ok := bs.NextSet(0); ok && i < MaxSegments; i, ok = bs.NextSet(i + 1) {
		v |= 1 << i
	}
	return v
}
