package sardine

import (
	"errors"
	"fmt"
)

// AlreadyActiveError is returned from [*Dispatcher.Send]
// if a message with the same destination and SeqZero is still in flight.
type AlreadyActiveError struct {
	Dst     uint16
	SeqZero uint16
}

func (e AlreadyActiveError) Error() string {
	return fmt.Sprintf(
		"transaction to 0x%04x with seq_zero=%d is already active",
		e.Dst, e.SeqZero,
	)
}

// ErrDispatcherStopped is returned from [*Dispatcher] methods
// called after the dispatcher's context was canceled.
var ErrDispatcherStopped = errors.New("dispatcher stopped")
