// Package spubsub contains [Stream],
// a single-writer, many-reader event list.
package spubsub

import "context"

// Stream is a linked list of event-driven values.
// The list has a single writer and many readers.
// Readers each consume the list at their own pace.
//
// A reader holding an old node keeps every later node reachable,
// so readers that stop consuming must drop their reference.
type Stream[T any] struct {
	Ready chan struct{}
	Next  *Stream[T]
	Val   T
}

// NewStream returns an initialized pubsub stream.
func NewStream[T any]() *Stream[T] {
	return &Stream[T]{
		Ready: make(chan struct{}),
	}
}

// Publish assigns s's value and initializes s.Next.
// Then s.Ready is closed, notifying any observers that
// s.Val can now be safely read.
//
// If Publish is called twice for the same s, Publish panics.
func (s *Stream[T]) Publish(t T) {
	s.Val = t
	s.Next = NewStream[T]()
	close(s.Ready)
}

// Await blocks until s has a value or ctx is done.
// On success it returns s's value and the next node to wait on.
func (s *Stream[T]) Await(ctx context.Context) (T, *Stream[T], error) {
	select {
	case <-ctx.Done():
		var zero T
		return zero, s, context.Cause(ctx)
	case <-s.Ready:
		return s.Val, s.Next, nil
	}
}
