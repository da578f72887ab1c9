package orchestrator

import (
	"context"
	"sync"
)

// Semaphore gates specialist spawns: a counting semaphore with FIFO waiters,
// dynamic capacity, and live telemetry. Reducing capacity never preempts
// holders; it only blocks future acquisitions until the active count falls
// under the new ceiling.
type Semaphore struct {
	mu       sync.Mutex
	capacity int
	active   int
	waiters  []chan struct{}
}

// NewSemaphore creates a semaphore with the given capacity (minimum 1).
func NewSemaphore(capacity int) *Semaphore {
	if capacity < 1 {
		capacity = 1
	}
	return &Semaphore{capacity: capacity}
}

// Acquire blocks until a slot is free or ctx is done. FIFO among waiters:
// a new arrival never jumps an existing queue even when a slot is free.
func (s *Semaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.active < s.capacity && len(s.waiters) == 0 {
		s.active++
		s.mu.Unlock()
		return nil
	}

	w := make(chan struct{})
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case <-w:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		select {
		case <-w:
			// Granted between cancellation and lock: pass the slot on.
			s.releaseLocked()
			s.mu.Unlock()
			return ctx.Err()
		default:
		}
		for i, x := range s.waiters {
			if x == w {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		return ctx.Err()
	}
}

// Release frees a slot. Must be called exactly once per successful Acquire,
// on every exit path.
func (s *Semaphore) Release() {
	s.mu.Lock()
	s.releaseLocked()
	s.mu.Unlock()
}

func (s *Semaphore) releaseLocked() {
	if s.active > 0 {
		s.active--
	}
	s.grantLocked()
}

// grantLocked hands free slots to queued waiters in arrival order.
func (s *Semaphore) grantLocked() {
	for s.active < s.capacity && len(s.waiters) > 0 {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		s.active++
		close(w)
	}
}

// SetCapacity adjusts the ceiling to max(1, n). Raising it wakes queued
// waiters; lowering it never interrupts in-flight holders.
func (s *Semaphore) SetCapacity(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	s.capacity = n
	s.grantLocked()
	s.mu.Unlock()
}

// Active returns the current holder count.
func (s *Semaphore) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Available returns the free slot count (never negative, even right after a
// capacity reduction).
func (s *Semaphore) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active >= s.capacity {
		return 0
	}
	return s.capacity - s.active
}

// Capacity returns the current ceiling.
func (s *Semaphore) Capacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity
}
