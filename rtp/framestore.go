package rtp

import (
	"context"
	"sync"
	"time"
)

// frameStore is the FIFO between the receive loop and PullFrame callers.
//
// One mutex guards the queue. Blocked pullers wait on ready, which is
// closed and replaced on every push or failure so each state change wakes
// them all; they then race for the head under the mutex.
type frameStore struct {
	mu     sync.Mutex
	frames []*Frame
	ready  chan struct{}
	err    error
}

func newFrameStore() *frameStore {
	return &frameStore{ready: make(chan struct{})}
}

// push appends f and wakes waiters.
func (s *frameStore) push(f *Frame) {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.broadcastLocked()
	s.mu.Unlock()
}

// fail makes every current and future pull return err. A later call
// replaces the error.
func (s *frameStore) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.broadcastLocked()
	s.mu.Unlock()
}

// drain drops every queued frame and returns how many there were.
func (s *frameStore) drain() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.frames)
	for i := range s.frames {
		s.frames[i] = nil
	}
	s.frames = s.frames[:0]
	return n
}

func (s *frameStore) broadcastLocked() {
	close(s.ready)
	s.ready = make(chan struct{})
}

// tryPop removes the oldest frame. When nothing can be returned it hands
// back the channel to wait on.
func (s *frameStore) tryPop() (*Frame, <-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, nil, s.err
	}
	if len(s.frames) == 0 {
		return nil, s.ready, nil
	}

	f := s.frames[0]
	s.frames[0] = nil
	s.frames = s.frames[1:]
	if len(s.frames) == 0 {
		// release the backing array once the queue empties
		s.frames = nil
	}
	return f, nil, nil
}

// pop blocks until a frame is available, ctx is done or the store fails.
// A nil timeout channel waits forever.
func (s *frameStore) pop(ctx context.Context, timeout <-chan time.Time) (*Frame, error) {
	for {
		f, wait, err := s.tryPop()
		if err != nil {
			return nil, err
		}
		if f != nil {
			return f, nil
		}

		select {
		case <-wait:
		case <-timeout:
			return nil, ErrNoFrame
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of queued frames.
func (s *frameStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}
