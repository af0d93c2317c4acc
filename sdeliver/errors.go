package sdeliver

import (
	"errors"
	"fmt"
)

// ErrAlreadyStarted is returned from [*Delivery.InitiateSend]
// when the delivery has already left the idle state.
var ErrAlreadyStarted = errors.New("delivery already started")

// SegmentOutOfRangeError is returned by [Transport] implementations
// asked to regenerate a segment the message does not have.
type SegmentOutOfRangeError struct {
	SegO, N int
}

func (e SegmentOutOfRangeError) Error() string {
	return fmt.Sprintf("segment %d out of range for message with %d segments", e.SegO, e.N)
}
