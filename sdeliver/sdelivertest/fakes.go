// Package sdelivertest contains recording and fake implementations
// of the [sdeliver] collaborator interfaces, for use in tests.
package sdelivertest

import (
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/gordian-engine/sardine/sdeliver"
	"github.com/gordian-engine/sardine/spdu"
	"github.com/stretchr/testify/require"
)

// Send is a single recorded call to [sdeliver.Sender.SendPDU].
type Send struct {
	Dst uint16
	PDU []byte
}

// RecordingSender is an [sdeliver.Sender] that records every call.
// It is safe for concurrent use,
// so tests may inspect it while a dispatcher goroutine writes to it.
type RecordingSender struct {
	mu    sync.Mutex
	sends []Send
}

func (s *RecordingSender) SendPDU(dst uint16, pdu []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, Send{Dst: dst, PDU: slices.Clone(pdu)})
}

// Sends returns a copy of every recorded send, in call order.
func (s *RecordingSender) Sends() []Send {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sends)
}

// Failure is a single recorded call to
// [sdeliver.StatusReporter.TransactionFailed].
type Failure struct {
	Dst          uint16
	DueToTimeout bool
}

// RecordingStatus is an [sdeliver.StatusReporter] that records every call.
// It is safe for concurrent use.
type RecordingStatus struct {
	mu       sync.Mutex
	failures []Failure
	acks     []uint16
}

func (s *RecordingStatus) TransactionFailed(dst uint16, dueToTimeout bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, Failure{Dst: dst, DueToTimeout: dueToTimeout})
}

func (s *RecordingStatus) BlockAckSent(dst uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks = append(s.acks, dst)
}

func (s *RecordingStatus) Failures() []Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.failures)
}

func (s *RecordingStatus) BlockAcks() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.acks)
}

// RecordingHandler is an [sdeliver.TransactionHandler]
// that records the argument of every call.
type RecordingHandler struct {
	mu    sync.Mutex
	calls []bool
}

func (h *RecordingHandler) IncompleteTimerExpired(timedOut bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, timedOut)
}

func (h *RecordingHandler) Calls() []bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.calls)
}

// Transport is a deterministic [sdeliver.Transport].
//
// Retransmitted PDUs are the original PDU prefixed with 'R',
// so tests can tell them apart from initial sends.
// Block acknowledgements go to the request's Src
// and contain 'A' followed by the big endian SeqZero.
type Transport struct {
	// If set, BlockAck returns this error.
	BlockAckErr error
}

func (Transport) RetransmitPDU(m *sdeliver.Message, segO int) ([]byte, error) {
	orig, ok := m.PDUs.Get(segO)
	if !ok {
		return nil, sdeliver.SegmentOutOfRangeError{SegO: segO, N: m.PDUs.Len()}
	}
	return RetransmittedPDU(orig), nil
}

func (t Transport) BlockAck(req sdeliver.BlockAckRequest) (sdeliver.Ack, error) {
	if t.BlockAckErr != nil {
		return sdeliver.Ack{}, t.BlockAckErr
	}
	return sdeliver.Ack{
		Dst: req.Src,
		PDU: []byte{'A', byte(req.SeqZero >> 8), byte(req.SeqZero)},
	}, nil
}

// RetransmittedPDU returns the PDU that [Transport] regenerates from orig.
func RetransmittedPDU(orig []byte) []byte {
	return append([]byte{'R'}, orig...)
}

// PDUFor returns the PDU that [NewMessage] places at index i.
func PDUFor(i int) []byte {
	return []byte(fmt.Sprintf("seg-%d", i))
}

// NewMessage returns a message to dst with n PDUs built by [PDUFor].
func NewMessage(t testing.TB, dst uint16, seqZero uint16, n int) *sdeliver.Message {
	t.Helper()

	pdus := make([][]byte, n)
	for i := range pdus {
		pdus[i] = PDUFor(i)
	}
	s, err := spdu.New(pdus)
	require.NoError(t, err)

	return &sdeliver.Message{
		Src:     0x0001,
		Dst:     dst,
		SeqZero: seqZero,
		PDUs:    s,
	}
}
