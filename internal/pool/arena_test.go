package pool

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

type arenaKey struct {
	name string
	size int
}

func TestArena_GetOrCreate(t *testing.T) {
	var destroyed []int
	a := NewArena[arenaKey](func(v int) { destroyed = append(destroyed, v) })

	calls := 0
	create := func() (int, error) { calls++; return calls * 10, nil }

	k := arenaKey{"atlas", 4}
	v1, err := a.GetOrCreate(k, create)
	if err != nil || v1 != 10 {
		t.Fatalf("GetOrCreate() = %d, %v; want 10, nil", v1, err)
	}
	v2, _ := a.GetOrCreate(k, create)
	if v2 != 10 || calls != 1 {
		t.Errorf("second GetOrCreate() = %d (calls %d), want cached 10", v2, calls)
	}

	st := a.Stats()
	if st.Entries != 1 || st.Hits != 1 || st.Misses != 1 {
		t.Errorf("Stats() = %+v, want 1 entry, 1 hit, 1 miss", st)
	}

	a.Close()
	if len(destroyed) != 1 || destroyed[0] != 10 {
		t.Errorf("Close() destroyed %v, want [10]", destroyed)
	}
	a.Close()
	if len(destroyed) != 1 {
		t.Errorf("second Close() destroyed again: %v", destroyed)
	}
}

func TestArena_CreateError(t *testing.T) {
	a := NewArena[string, int](nil)
	boom := errors.New("boom")
	if _, err := a.GetOrCreate("k", func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("GetOrCreate() err = %v, want boom", err)
	}
	if _, ok := a.Get("k"); ok {
		t.Error("failed create stored a value")
	}
}

func TestArena_Replace(t *testing.T) {
	var destroyed []int
	a := NewArena[string](func(v int) { destroyed = append(destroyed, v) })

	a.Replace("k", 1)
	if len(destroyed) != 0 {
		t.Fatalf("Replace on empty key destroyed %v", destroyed)
	}
	a.Replace("k", 2)
	if len(destroyed) != 1 || destroyed[0] != 1 {
		t.Errorf("Replace destroyed %v, want [1]", destroyed)
	}
	if v, _ := a.Get("k"); v != 2 {
		t.Errorf("Get() = %d, want 2", v)
	}
}

func TestArena_ConcurrentCreateOnce(t *testing.T) {
	a := NewArena[int, int](nil)
	var calls atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = a.GetOrCreate(7, func() (int, error) {
				calls.Add(1)
				return 7, nil
			})
		}()
	}
	wg.Wait()
	if calls.Load() != 1 {
		t.Errorf("create called %d times, want 1", calls.Load())
	}
}
