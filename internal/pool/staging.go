package pool

import (
	"errors"
	"fmt"
	"sync"
)

// Staging pool errors.
var (
	// ErrPoolExhausted is returned when more items are requested than the
	// pool was provisioned with.
	ErrPoolExhausted = errors.New("pool: exhausted")

	// ErrPoolOverflow is returned when more items are released than acquired.
	ErrPoolOverflow = errors.New("pool: released more items than capacity")
)

// Staging is a fixed-capacity free list. All items are supplied at
// construction; Acquire never allocates.
//
// Staging is safe for concurrent use.
type Staging[T any] struct {
	mu   sync.Mutex
	free []T
	cap  int
}

// NewStaging creates a pool owning items.
func NewStaging[T any](items []T) *Staging[T] {
	free := make([]T, len(items))
	copy(free, items)
	return &Staging[T]{free: free, cap: len(items)}
}

// Acquire takes one item. It returns ErrPoolExhausted when none is free.
func (s *Staging[T]) Acquire() (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	n := len(s.free)
	if n == 0 {
		return zero, fmt.Errorf("%w: all %d items outstanding", ErrPoolExhausted, s.cap)
	}
	item := s.free[n-1]
	s.free[n-1] = zero
	s.free = s.free[:n-1]
	return item, nil
}

// AcquireN takes n items, or none if fewer than n are free.
func (s *Staging[T]) AcquireN(n int) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	avail := len(s.free)
	if n > avail {
		return nil, fmt.Errorf("%w: need %d, %d of %d free", ErrPoolExhausted, n, avail, s.cap)
	}
	out := make([]T, n)
	copy(out, s.free[avail-n:])
	clear(s.free[avail-n:])
	s.free = s.free[:avail-n]
	return out, nil
}

// Release returns item to the pool.
func (s *Staging[T]) Release(item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.free) >= s.cap {
		return fmt.Errorf("%w (capacity %d)", ErrPoolOverflow, s.cap)
	}
	s.free = append(s.free, item)
	return nil
}

// Outstanding returns the number of items currently acquired.
func (s *Staging[T]) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cap - len(s.free)
}

// Capacity returns the number of items the pool was created with.
func (s *Staging[T]) Capacity() int { return s.cap }
