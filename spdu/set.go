// Package spdu contains [Set], the ordered collection of PDUs
// that make up one outbound message.
//
// Segmentation happens before a Set is built;
// once built, a Set is never modified.
// Retransmissions regenerate PDUs through the transport
// rather than mutating the set.
package spdu

import (
	"errors"
	"fmt"
	"iter"
)

// ErrNoPDUs is returned from [New] when given zero PDUs.
var ErrNoPDUs = errors.New("PDU set must contain at least one PDU")

// EmptyPDUError is returned from [New]
// when one of the given PDUs has no bytes.
type EmptyPDUError struct {
	Index int
}

func (e EmptyPDUError) Error() string {
	return fmt.Sprintf("PDU at index %d is empty", e.Index)
}

// Set is an ordered mapping of segment index to PDU bytes.
// Indices are always contiguous, from 0 to Len()-1.
//
// The zero value is not usable; create a Set with [New].
type Set struct {
	pdus [][]byte
}

// New returns a Set containing the given PDUs,
// where pdus[i] is the PDU for segment index i.
//
// The Set retains pdus and its elements,
// so the caller must not modify them after calling New.
func New(pdus [][]byte) (*Set, error) {
	if len(pdus) == 0 {
		return nil, ErrNoPDUs
	}

	for i, p := range pdus {
		if len(p) == 0 {
			return nil, EmptyPDUError{Index: i}
		}
	}

	return &Set{pdus: pdus}, nil
}

// Len returns the number of PDUs in s.
func (s *Set) Len() int {
	return len(s.pdus)
}

// Get returns the PDU at segment index i.
// The boolean result is false if i is out of range.
//
// The returned slice must not be modified.
func (s *Set) Get(i int) ([]byte, bool) {
	if i < 0 || i >= len(s.pdus) {
		return nil, false
	}
	return s.pdus[i], true
}

// Indices returns an iterator over every segment index in s,
// in ascending order.
// The iterator may be used any number of times.
func (s *Set) Indices() iter.Seq[int] {
	return func(yield func(int) bool) {
		for i := range s.pdus {
			if !yield(i) {
				return
			}
		}
	}
}

// All returns an iterator over every index and PDU in s,
// in ascending index order.
func (s *Set) All() iter.Seq2[int, []byte] {
	return func(yield func(int, []byte) bool) {
		for i, p := range s.pdus {
			if !yield(i, p) {
				return
			}
		}
	}
}
