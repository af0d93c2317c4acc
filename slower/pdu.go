// Package slower is the lower transport codec for sardine.
//
// It splits access payloads into segment PDUs,
// parses inbound PDUs,
// encodes segment acknowledgements,
// and tracks inbound segments until a message is reassembled.
// [Transport] implements [sdeliver.Transport] on top of this codec.
//
// Every PDU starts with a 5-byte header:
//
//	byte 0     CTL (1 bit) | TTL (7 bits)
//	bytes 1-2  source address, big endian
//	bytes 3-4  destination address, big endian
//
// followed by one of three lower transport layouts:
//
//	segmented access    1|AKF|AID(6), SZMIC(1)|SeqZero(13)|SegO(5)|SegN(5), segment (<= 12 bytes)
//	unsegmented access  0|AKF|AID(6), payload (<= 15 bytes)
//	segment ack         0|opcode 0x00, OBO(1)|SeqZero(13)|RFU(2), BlockAck (uint32)
//
// PDUs are not encrypted; that belongs to a different layer.
package slower

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the size of the header preceding every lower transport PDU.
	HeaderSize = 5

	// MaxSegmentPayload is the number of access payload bytes per segment.
	MaxSegmentPayload = 12

	// MaxUnsegmentedPayload is the largest access payload
	// that fits in a single unsegmented PDU.
	MaxUnsegmentedPayload = 15

	// MaxSegments is the largest number of segments in one message,
	// bounded by the 5-bit SegN field and the 32-bit BlockAck.
	MaxSegments = 32

	// SeqZeroMask selects the 13 bits of SeqZero.
	SeqZeroMask = 0x1FFF

	// DefaultTTL is the TTL used when a config leaves it unset.
	DefaultTTL = 7

	segmentAckOpcode = 0x00

	segmentedHeaderSize = 4
	segmentAckSize      = 7
)

// Kind classifies a parsed [PDU].
type Kind uint8

const (
	KindUnsegmentedAccess Kind = iota + 1
	KindSegmentedAccess
	KindSegmentAck
	KindControl
)

func (k Kind) String() string {
	switch k {
	case KindUnsegmentedAccess:
		return "unsegmented-access"
	case KindSegmentedAccess:
		return "segmented-access"
	case KindSegmentAck:
		return "segment-ack"
	case KindControl:
		return "control"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ErrShortPDU is returned from [Parse] when the PDU is truncated.
var ErrShortPDU = errors.New("PDU too short")

// ErrSegmentedControl is returned from [Parse] for segmented control PDUs,
// which sardine never sends.
var ErrSegmentedControl = errors.New("segmented control PDUs are not supported")

// PayloadTooLargeError is returned from [Segment]
// when the payload needs more than [MaxSegments] segments.
type PayloadTooLargeError struct {
	Size int
}

func (e PayloadTooLargeError) Error() string {
	return fmt.Sprintf(
		"payload of %d bytes exceeds maximum of %d",
		e.Size, MaxSegments*MaxSegmentPayload,
	)
}

// MalformedSegmentError is returned when a segment's fields
// are inconsistent with itself or with earlier segments of the same message.
type MalformedSegmentError struct {
	Src     uint16
	SeqZero uint16
	Reason  string
}

func (e MalformedSegmentError) Error() string {
	return fmt.Sprintf(
		"malformed segment from 0x%04x (seq_zero=%d): %s",
		e.Src, e.SeqZero, e.Reason,
	)
}

// Header is the network-facing header common to every PDU.
type Header struct {
	CTL bool
	TTL uint8

	Src, Dst uint16
}

// PDU is a parsed lower transport PDU.
// Which fields are meaningful depends on Kind.
type PDU struct {
	Kind Kind

	Header

	// Access fields, for segmented and unsegmented access PDUs.
	AKF bool
	AID uint8

	// Segmentation fields, for segmented access PDUs.
	SZMIC   bool
	SeqZero uint16
	SegO    uint8
	SegN    uint8

	// Access payload, segment bytes, or control parameters.
	// Aliases the slice given to [Parse].
	Payload []byte

	// Only for KindSegmentAck.
	Ack SegmentAck

	// Only for KindControl.
	Opcode uint8
}

// Parse decodes a single PDU.
// The returned PDU's Payload aliases b.
func Parse(b []byte) (PDU, error) {
	if len(b) < HeaderSize+1 {
		return PDU{}, fmt.Errorf("failed to parse header: %w", ErrShortPDU)
	}

	p := PDU{
		Header: Header{
			CTL: b[0]&0x80 != 0,
			TTL: b[0] & 0x7F,
			Src: binary.BigEndian.Uint16(b[1:3]),
			Dst: binary.BigEndian.Uint16(b[3:5]),
		},
	}

	lt := b[HeaderSize:]
	seg := lt[0]&0x80 != 0

	switch {
	case p.CTL && seg:
		return PDU{}, ErrSegmentedControl

	case p.CTL:
		opcode := lt[0] & 0x7F
		if opcode != segmentAckOpcode {
			p.Kind = KindControl
			p.Opcode = opcode
			p.Payload = lt[1:]
			return p, nil
		}

		if len(lt) < segmentAckSize {
			return PDU{}, fmt.Errorf("failed to parse segment ack: %w", ErrShortPDU)
		}
		p.Kind = KindSegmentAck
		v := binary.BigEndian.Uint16(lt[1:3])
		p.Ack = SegmentAck{
			OnBehalfOf: v&0x8000 != 0,
			SeqZero:    (v >> 2) & SeqZeroMask,
			BlockAck:   binary.BigEndian.Uint32(lt[3:7]),
		}
		return p, nil

	case seg:
		if len(lt) < segmentedHeaderSize+1 {
			return PDU{}, fmt.Errorf("failed to parse segment header: %w", ErrShortPDU)
		}
		p.Kind = KindSegmentedAccess
		p.AKF = lt[0]&0x40 != 0
		p.AID = lt[0] & 0x3F

		v := uint32(lt[1])<<16 | uint32(lt[2])<<8 | uint32(lt[3])
		p.SZMIC = v&(1<<23) != 0
		p.SeqZero = uint16(v>>10) & SeqZeroMask
		p.SegO = uint8(v>>5) & 0x1F
		p.SegN = uint8(v) & 0x1F
		p.Payload = lt[segmentedHeaderSize:]

		if p.SegO > p.SegN {
			return PDU{}, MalformedSegmentError{
				Src: p.Src, SeqZero: p.SeqZero,
				Reason: fmt.Sprintf("SegO %d greater than SegN %d", p.SegO, p.SegN),
			}
		}
		return p, nil

	default:
		if len(lt) < 2 {
			return PDU{}, fmt.Errorf("failed to parse access payload: %w", ErrShortPDU)
		}
		p.Kind = KindUnsegmentedAccess
		p.AKF = lt[0]&0x40 != 0
		p.AID = lt[0] & 0x3F
		p.Payload = lt[1:]
		return p, nil
	}
}

func putHeader(b []byte, h Header) {
	b[0] = h.TTL & 0x7F
	if h.CTL {
		b[0] |= 0x80
	}
	binary.BigEndian.PutUint16(b[1:3], h.Src)
	binary.BigEndian.PutUint16(b[3:5], h.Dst)
}

// segmentFields are the fields shared by every segment of one message.
type segmentFields struct {
	Header

	AKF     bool
	AID     uint8
	SZMIC   bool
	SeqZero uint16
}

func encodeSegment(f segmentFields, segO, segN uint8, seg []byte) []byte {
	out := make([]byte, HeaderSize+segmentedHeaderSize+len(seg))

	h := f.Header
	h.CTL = false
	putHeader(out, h)

	lt := out[HeaderSize:]
	lt[0] = 0x80 | (f.AID & 0x3F)
	if f.AKF {
		lt[0] |= 0x40
	}

	v := uint32(f.SeqZero&SeqZeroMask)<<10 | uint32(segO&0x1F)<<5 | uint32(segN&0x1F)
	if f.SZMIC {
		v |= 1 << 23
	}
	lt[1] = byte(v >> 16)
	lt[2] = byte(v >> 8)
	lt[3] = byte(v)

	copy(lt[segmentedHeaderSize:], seg)
	return out
}

func encodeUnsegmented(h Header, akf bool, aid uint8, payload []byte) []byte {
	out := make([]byte, HeaderSize+1+len(payload))

	h.CTL = false
	putHeader(out, h)

	out[HeaderSize] = aid & 0x3F
	if akf {
		out[HeaderSize] |= 0x40
	}
	copy(out[HeaderSize+1:], payload)
	return out
}

// EncodeSegmentAck returns the PDU carrying ack,
// with the given header's addresses and TTL.
// The header's CTL bit is always set.
func EncodeSegmentAck(h Header, ack SegmentAck) []byte {
	out := make([]byte, HeaderSize+segmentAckSize)

	h.CTL = true
	putHeader(out, h)

	lt := out[HeaderSize:]
	lt[0] = segmentAckOpcode

	v := (ack.SeqZero & SeqZeroMask) << 2
	if ack.OnBehalfOf {
		v |= 0x8000
	}
	binary.BigEndian.PutUint16(lt[1:3], v)
	binary.BigEndian.PutUint32(lt[3:7], ack.BlockAck)

	return out
}
