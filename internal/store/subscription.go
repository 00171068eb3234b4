package store

import (
	"sync"
)

// Subscription is a cancellable stream of values pushed by a single producer.
//
// The consumer ranges over C and calls Close when done; Close synchronously
// detaches the underlying remote listener, so no further values are delivered
// to a closed subscription. After C is closed, Err reports the terminal error,
// if any.
//
// The producer side calls Push for each value and exactly one of Finish or
// Fail when the stream ends. Push blocks until the consumer receives the value
// or the subscription is closed.
type Subscription[T any] struct {
	// C delivers values until the stream ends or the subscription is closed.
	C <-chan T

	ch     chan T
	done   chan struct{}
	detach func()

	closeOnce  sync.Once
	finishOnce sync.Once

	mu  sync.Mutex
	err error
}

// NewSubscription creates a subscription whose Close invokes detach. The
// detach function must synchronously remove the underlying remote listener.
func NewSubscription[T any](detach func()) *Subscription[T] {
	ch := make(chan T, 1)
	return &Subscription[T]{
		C:      ch,
		ch:     ch,
		done:   make(chan struct{}),
		detach: detach,
	}
}

// Push delivers a value to the consumer. It reports false once the
// subscription has been closed; the producer should stop and call Finish.
func (s *Subscription[T]) Push(v T) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- v:
		return true
	case <-s.done:
		return false
	}
}

// Finish ends the stream without an error. Producer side only.
func (s *Subscription[T]) Finish() {
	s.finishOnce.Do(func() {
		close(s.ch)
	})
}

// Fail ends the stream with a terminal error. Producer side only.
func (s *Subscription[T]) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.Finish()
}

// Close detaches the underlying listener and releases the subscription. Safe
// to call more than once and concurrently with Push.
func (s *Subscription[T]) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.detach != nil {
			s.detach()
		}
	})
}

// Err returns the terminal error after C has been closed, or nil.
func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the consumer has closed the subscription.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}
