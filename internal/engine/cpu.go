package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/gogpu/tilematch"
	"github.com/gogpu/tilematch/internal/decode"
	"github.com/gogpu/tilematch/internal/pool"
	"github.com/gogpu/tilematch/internal/score"
)

// CPUScorer is the reference backend. It runs the matching kernel on the
// host, one goroutine per query and batch, into buffers taken from a
// staging pool sized exactly like the GPU backend's.
type CPUScorer struct {
	layout score.Layout
	params score.KernelParams
	window int

	mu      sync.Mutex
	kernels []*score.Kernel
	buffers *pool.Staging[[]byte]
}

// NewCPUScorer creates a CPU backend.
func NewCPUScorer(opts BackendOptions) (*CPUScorer, error) {
	if err := opts.Layout.Validate(); err != nil {
		return nil, err
	}
	return &CPUScorer{
		layout: opts.Layout,
		params: opts.Kernel,
		window: max(1, opts.Window),
	}, nil
}

// Layout implements Scorer.
func (c *CPUScorer) Layout() score.Layout { return c.layout }

// SetQueries implements Scorer. The buffer pool is resized when the number
// of queries changes; that requires every previous readback to be released.
func (c *CPUScorer) SetQueries(qs []Query) error {
	if len(qs) == 0 {
		return ErrNoQueries
	}
	kernels := make([]*score.Kernel, len(qs))
	for i, q := range qs {
		kernels[i] = score.NewKernel(c.layout, c.params, q.Mips())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buffers == nil || len(c.kernels) != len(qs) {
		if c.buffers != nil && c.buffers.Outstanding() > 0 {
			return fmt.Errorf("engine: cpu: %d readbacks outstanding while resizing", c.buffers.Outstanding())
		}
		n := (c.window + 1) * len(qs)
		bufs := make([][]byte, n)
		for i := range bufs {
			bufs[i] = make([]byte, c.layout.BufferSize())
		}
		c.buffers = pool.NewStaging(bufs)
	}
	c.kernels = kernels
	return nil
}

// ScoreBatch implements Scorer.
func (c *CPUScorer) ScoreBatch(_ context.Context, b decode.Batch) ([]Readback, error) {
	c.mu.Lock()
	kernels, buffers := c.kernels, c.buffers
	c.mu.Unlock()
	if len(kernels) == 0 {
		return nil, ErrNoQueries
	}

	bufs, err := buffers.AcquireN(len(kernels))
	if err != nil {
		return nil, err
	}

	atlas := &score.Atlas{Tiles: b.Planes, Widths: make([]uint32, len(b.Tiles))}
	for i, t := range b.Tiles {
		atlas.Widths[i] = t.Width
	}

	rbs := make([]Readback, len(kernels))
	for i, k := range kernels {
		rb := &cpuReadback{buf: bufs[i], pool: buffers, done: make(chan struct{})}
		go func() {
			k.Run(atlas, rb.buf)
			close(rb.done)
		}()
		rbs[i] = rb
	}
	return rbs, nil
}

// Close implements Scorer.
func (c *CPUScorer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kernels = nil
	return nil
}

type cpuReadback struct {
	buf  []byte
	pool *pool.Staging[[]byte]
	done chan struct{}
	once sync.Once
}

func (r *cpuReadback) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-r.done:
		return r.buf, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *cpuReadback) Release() {
	r.once.Do(func() {
		// The kernel may still be writing if Wait was abandoned.
		<-r.done
		if err := r.pool.Release(r.buf); err != nil {
			tilematch.Logger().Error("engine: cpu: release readback", "err", err)
		}
	})
}
