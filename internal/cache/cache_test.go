// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package cache

import (
	"errors"
	"sync"
	"testing"
)

// constLoad returns a loader of v that counts its calls.
func constLoad(v int, calls *int) func() (int, error) {
	return func() (int, error) {
		*calls++
		return v, nil
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		capacity int
		want     int
	}{
		{100, 100},
		{1, 1},
		{0, 1},
		{-5, 1},
	}
	for _, tt := range tests {
		if got := New[uint32, int](tt.capacity).Capacity(); got != tt.want {
			t.Errorf("New(%d).Capacity() = %d, want %d", tt.capacity, got, tt.want)
		}
	}
}

func TestCache_GetOrLoad(t *testing.T) {
	c := New[uint32, int](4)
	loads := 0
	for range 3 {
		v, err := c.GetOrLoad(9, constLoad(7, &loads))
		if err != nil || v != 7 {
			t.Fatalf("GetOrLoad() = %d, %v; want 7, nil", v, err)
		}
	}
	if loads != 1 {
		t.Errorf("load called %d times, want 1", loads)
	}

	errBoom := errors.New("boom")
	if _, err := c.GetOrLoad(10, func() (int, error) { return 0, errBoom }); !errors.Is(err, errBoom) {
		t.Errorf("GetOrLoad() err = %v, want boom", err)
	}
	if v, _ := c.GetOrLoad(10, constLoad(3, &loads)); v != 3 || loads != 2 {
		t.Errorf("GetOrLoad() after a failed load = %d with %d loads, want 3 with 2", v, loads)
	}

	s := c.Stats()
	if s.Hits != 2 || s.Misses != 3 || s.Len != 2 {
		t.Errorf("Stats() = %+v, want 2 hits, 3 misses and 2 entries", s)
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New[uint32, int](3)
	loads := 0
	for _, k := range []uint32{1, 2, 3, 1, 4} { // 1 is touched again, so 2 is the oldest
		c.GetOrLoad(k, constLoad(int(k), &loads))
	}
	if loads != 4 {
		t.Fatalf("loads = %d, want 4", loads)
	}

	for _, k := range []uint32{1, 3, 4} {
		c.GetOrLoad(k, constLoad(int(k), &loads))
	}
	if loads != 4 {
		t.Errorf("a recently used entry was evicted: loads = %d, want 4", loads)
	}
	c.GetOrLoad(2, constLoad(2, &loads))
	if loads != 5 {
		t.Errorf("least recently used entry 2 was kept: loads = %d, want 5", loads)
	}
	if s := c.Stats(); s.Evictions != 2 || s.Len != 3 {
		t.Errorf("Stats() = %+v, want 2 evictions and 3 entries", s)
	}
}

func TestStats_HitRate(t *testing.T) {
	tests := []struct {
		s    Stats
		want float64
	}{
		{Stats{}, 0},
		{Stats{Hits: 3, Misses: 1}, 0.75},
		{Stats{Misses: 4}, 0},
	}
	for _, tt := range tests {
		if got := tt.s.HitRate(); got != tt.want {
			t.Errorf("%+v.HitRate() = %v, want %v", tt.s, got, tt.want)
		}
	}
}

func TestCache_Concurrent(t *testing.T) {
	c := New[int, int](64)
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := range 100 {
				k := (n*100 + j) % 200
				c.GetOrLoad(k, func() (int, error) { return k, nil })
			}
		}(i)
	}
	wg.Wait()

	if c.Len() != 64 {
		t.Errorf("Len() = %d, want 64", c.Len())
	}
}

func BenchmarkCache_GetOrLoad(b *testing.B) {
	c := New[uint32, int](128)
	for i := range uint32(100) {
		c.GetOrLoad(i, func() (int, error) { return int(i), nil })
	}
	load := func() (int, error) { return 0, nil }
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.GetOrLoad(50, load)
	}
}
