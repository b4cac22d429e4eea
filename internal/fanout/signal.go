package fanout

import (
	"context"
)

// signal wakes the single goroutine reading on behalf of one subscriber. The
// wake channel holds at most one pending token; the number of undelivered
// entries is derived from the subscriber's cursor, so a token only means "look
// again". done is closed exactly once, when the subscriber is removed.
type signal struct {
	wake chan struct{}
	done chan struct{}
}

func newSignal() *signal {
	return &signal{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (s *signal) raise() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// release must be called with the coordination lock held, which makes the
// close happen at most once.
func (s *signal) release() {
	close(s.done)
}

// wait blocks until the signal is raised, released, or ctx is done. The caller
// re-validates the subscriber afterwards in every case but the last.
func (s *signal) wait(ctx context.Context) error {
	select {
	case <-s.wake:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type subscriber struct {
	// seq of the last entry delivered, -1 before the first
	cursor int64
	signal *signal
}
