package stest

import (
	"testing"
	"time"
)

// ScheduleTimeout is how long the channel helpers wait
// for another goroutine to make progress.
const ScheduleTimeout = 200 * time.Millisecond

// ReceiveSoon returns the value received from ch,
// failing the test if nothing arrives within [ScheduleTimeout].
func ReceiveSoon[T any](t testing.TB, ch <-chan T) T {
	t.Helper()

	timer := time.NewTimer(ScheduleTimeout)
	defer timer.Stop()

	select {
	case v := <-ch:
		return v
	case <-timer.C:
		t.Fatalf("no value received within %s", ScheduleTimeout)
	}

	panic("unreachable")
}

// NotSending fails the test if a value is immediately
// available on ch, or if ch is closed.
func NotSending[T any](t testing.TB, ch <-chan T) {
	t.Helper()

	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("channel was closed")
		}
		t.Fatalf("unexpected value received: %v", v)
	default:
		// Okay.
	}
}

// SendSoon sends v on ch,
// failing the test if the send does not complete within [ScheduleTimeout].
func SendSoon[T any](t testing.TB, ch chan<- T, v T) {
	t.Helper()

	timer := time.NewTimer(ScheduleTimeout)
	defer timer.Stop()

	select {
	case ch <- v:
		// Okay.
	case <-timer.C:
		t.Fatalf("could not send value within %s", ScheduleTimeout)
	}
}
