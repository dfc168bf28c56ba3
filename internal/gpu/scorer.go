//go:build !nogpu

package gpu

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu"

	"github.com/gogpu/tilematch/internal/decode"
	"github.com/gogpu/tilematch/internal/engine"
	"github.com/gogpu/tilematch/internal/score"
)

const (
	// matchKernel is the embedded kernel run for every query.
	matchKernel = "match"

	// matchInputs counts the mask, atlas and params bindings.
	matchInputs = 3

	// workgroupSize is the kernel's @workgroup_size in x and y.
	workgroupSize = 8

	// uniformSize is the byte size of the kernel's Params struct.
	uniformSize = 128

	// mipLevels is the depth of the atlas and mask mip chains.
	mipLevels = 3
)

// negInfBits is the float32 bit pattern of -Inf. The kernel reads it from
// the uniform because WGSL has no infinity literal.
var negInfBits = math.Float32bits(float32(math.Inf(-1)))

type query struct {
	mask  *Image
	out   *Image
	group *wgpu.BindGroup
}

// Scorer implements engine.Scorer on a WebGPU device.
type Scorer struct {
	device    *Device
	layout    score.Layout
	params    score.KernelParams
	window    int
	key       PipelineKey
	group     *wgpu.BindGroupLayout
	resources *ResourcePool
	pipelines *PipelineCache
	atlas     *Image
	uniform   *wgpu.Buffer
	poller    *poller

	mu      sync.Mutex
	queries []query
	closed  bool
}

var _ engine.Scorer = (*Scorer)(nil)

// NewScorer opens a device and compiles the match kernel. Kernel compile
// failures are returned, not deferred to the first batch.
func NewScorer(opts engine.BackendOptions) (*Scorer, error) {
	l := opts.Layout
	if err := l.Validate(); err != nil {
		return nil, err
	}
	dev, err := OpenDevice(Options{Provider: opts.Provider})
	if err != nil {
		return nil, err
	}

	s := &Scorer{
		device:    dev,
		layout:    l,
		params:    opts.Kernel,
		window:    max(1, opts.Window),
		key:       PipelineKey{Kernel: matchKernel, Format: l.Format, Inputs: matchInputs},
		resources: NewResourcePool(dev.Device),
		pipelines: NewPipelineCache(dev.Device, opts.KernelDir),
	}
	if err := s.init(); err != nil {
		_ = s.Close()
		return nil, err
	}
	slogger().Debug("gpu: scorer ready",
		"result", fmt.Sprintf("%dx%d", l.ResultW(), l.ResultH()),
		"format", l.Format, "buffer_bytes", l.BufferSize())
	return s, nil
}

func (s *Scorer) init() error {
	p, err := s.pipelines.Get(s.key)
	if err != nil {
		return err
	}
	s.group = p.BindGroupLayout

	side := uint32(s.layout.AtlasSize())
	if s.atlas, err = s.resources.AcquireImage("atlas", gputypes.TextureFormatRGBA8Unorm, side, side, mipLevels); err != nil {
		return err
	}
	s.uniform, err = s.device.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "match-params",
		Size:  uniformSize,
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("gpu: create uniform: %w", err)
	}
	s.poller = startPoller(s.device.Device)
	return nil
}

// Layout implements engine.Scorer.
func (s *Scorer) Layout() score.Layout { return s.layout }

// SetQueries implements engine.Scorer. It uploads the three mask mips of
// every query and rebuilds the per-query bind groups.
func (s *Scorer) SetQueries(qs []engine.Query) error {
	if len(qs) == 0 {
		return engine.ErrNoQueries
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(qs) != len(s.queries) {
		n := (s.window + 1) * len(qs)
		if err := s.resources.ProvisionStaging(n, uint64(s.layout.BufferSize())); err != nil {
			return err
		}
	}
	for _, q := range s.queries {
		q.group.Release()
	}
	s.queries = make([]query, 0, len(qs))

	l := s.layout
	for i, q := range qs {
		mask, err := s.resources.AcquireImage(fmt.Sprintf("mask-%d", i),
			gputypes.TextureFormatRGBA8Unorm, uint32(l.MaskW), uint32(l.MaskH), mipLevels)
		if err != nil {
			return err
		}
		mips := q.Mips()
		for level, p := range []score.Plane{mips.Full, mips.Half, mips.Context} {
			if err := s.writePlane(mask.Texture, uint32(level), 0, 0, p); err != nil {
				return fmt.Errorf("gpu: upload mask %d mip %d: %w", i, level, err)
			}
		}

		out, err := s.resources.AcquireImage(fmt.Sprintf("result-%d", i),
			outputFormat(l.Format), uint32(l.ResultW()), uint32(l.ResultH()), 1)
		if err != nil {
			return err
		}
		group, err := s.device.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  fmt.Sprintf("match-%d", i),
			Layout: s.group,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, TextureView: mask.View},
				{Binding: 1, TextureView: s.atlas.View},
				{Binding: 2, Buffer: s.uniform, Size: uniformSize},
				{Binding: 3, TextureView: out.View},
			},
		})
		if err != nil {
			return fmt.Errorf("gpu: bind group %d: %w", i, err)
		}
		s.queries = append(s.queries, query{mask: mask, out: out, group: group})
	}
	return nil
}

// ScoreBatch implements engine.Scorer.
func (s *Scorer) ScoreBatch(ctx context.Context, b decode.Batch) ([]engine.Readback, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	queries := s.queries
	s.mu.Unlock()
	if len(queries) == 0 {
		return nil, engine.ErrNoQueries
	}

	s.pipelines.Refresh()
	p, err := s.pipelines.Get(s.key)
	if err != nil {
		return nil, err
	}

	l := s.layout
	widths := make([]uint32, len(b.Tiles))
	for i, t := range b.Tiles {
		widths[i] = t.Width
		if err := s.writeCell(i, b.Planes[i]); err != nil {
			return nil, fmt.Errorf("gpu: upload tile %s: %w", t.Pos, err)
		}
	}
	if err := s.device.Queue.WriteBuffer(s.uniform, 0, PackParams(l, s.params, widths)); err != nil {
		return nil, fmt.Errorf("gpu: write params: %w", err)
	}

	size := uint64(l.BufferSize())
	bufs := make([]*wgpu.Buffer, 0, len(queries))
	fail := func(err error) ([]engine.Readback, error) {
		for _, buf := range bufs {
			_ = s.resources.ReleaseBuffer(buf)
		}
		return nil, err
	}
	for range queries {
		buf, err := s.resources.AcquireStagingBuffer(size)
		if err != nil {
			return fail(err)
		}
		bufs = append(bufs, buf)
	}

	enc, err := s.device.Device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: "match"})
	if err != nil {
		return fail(fmt.Errorf("%w: command encoder: %w", ErrDeviceLost, err))
	}
	gx := uint32((l.ResultW() + workgroupSize - 1) / workgroupSize)
	gy := uint32((l.ResultH() + workgroupSize - 1) / workgroupSize)
	for i, q := range queries {
		pass, err := enc.BeginComputePass(&wgpu.ComputePassDescriptor{Label: "match"})
		if err != nil {
			return fail(fmt.Errorf("gpu: begin pass: %w", err))
		}
		pass.SetPipeline(p.Compute)
		pass.SetBindGroup(0, q.group, nil)
		pass.Dispatch(gx, gy, 1)
		if err := pass.End(); err != nil {
			return fail(fmt.Errorf("gpu: end pass: %w", err))
		}
		enc.CopyTextureToBuffer(q.out.Texture, bufs[i], []wgpu.BufferTextureCopy{{
			BufferLayout: wgpu.ImageDataLayout{
				BytesPerRow:  uint32(l.RowBytes()),
				RowsPerImage: uint32(l.ResultH()),
			},
			TextureBase: wgpu.ImageCopyTexture{Texture: q.out.Texture, Aspect: gputypes.TextureAspectAll},
			Size:        wgpu.Extent3D{Width: uint32(l.ResultW()), Height: uint32(l.ResultH()), DepthOrArrayLayers: 1},
		}})
	}
	cb, err := enc.Finish()
	if err != nil {
		return fail(fmt.Errorf("gpu: finish: %w", err))
	}
	if _, err := s.device.Queue.Submit(cb); err != nil {
		return fail(fmt.Errorf("%w: submit: %w", ErrDeviceLost, err))
	}

	rbs := make([]engine.Readback, len(bufs))
	for i, buf := range bufs {
		rb := &readback{scorer: s, buf: buf, size: size}
		rb.pending, rb.err = buf.MapAsync(wgpu.MapModeRead, 0, size)
		rbs[i] = rb
	}
	s.poller.kick()
	return rbs, nil
}

// writeCell uploads the three planes of the tile in atlas cell i.
func (s *Scorer) writeCell(i int, planes score.TilePlanes) error {
	g, t := s.layout.Grid, s.layout.TileSize
	x0, y0 := uint32(i%g*t), uint32(i/g*t)
	for level, p := range []score.Plane{planes.Full, planes.Half, planes.Quarter} {
		if err := s.writePlane(s.atlas.Texture, uint32(level), x0>>level, y0>>level, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scorer) writePlane(tex *wgpu.Texture, level, x, y uint32, p score.Plane) error {
	if p.W == 0 || p.H == 0 {
		return nil
	}
	return s.device.Queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  tex,
			MipLevel: level,
			Origin:   wgpu.Origin3D{X: x, Y: y},
			Aspect:   gputypes.TextureAspectAll,
		},
		p.Pix,
		&wgpu.ImageDataLayout{BytesPerRow: uint32(p.Stride()), RowsPerImage: uint32(p.H)},
		&wgpu.Extent3D{Width: uint32(p.W), Height: uint32(p.H), DepthOrArrayLayers: 1},
	)
}

// Close implements engine.Scorer. Every readback must have been released.
func (s *Scorer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	queries := s.queries
	s.queries = nil
	s.mu.Unlock()

	if s.poller != nil {
		s.poller.stop()
	}
	err := s.device.Device.WaitIdle()
	for _, q := range queries {
		q.group.Release()
	}
	if s.uniform != nil {
		s.uniform.Release()
	}
	st := s.pipelines.Stats()
	slogger().Debug("gpu: scorer closed", "pipelines", st.Entries, "pipeline_hits", st.Hits, "pipeline_misses", st.Misses)
	s.resources.Close()
	s.pipelines.Close()
	if cerr := s.device.Close(); err == nil {
		err = cerr
	}
	return err
}

// PackParams encodes the kernel's Params uniform for a batch of tiles with
// the given valid widths. Cells past len(widths) are zero.
func PackParams(l score.Layout, p score.KernelParams, widths []uint32) []byte {
	b := make([]byte, uniformSize)
	le := binary.LittleEndian
	for i := 0; i < 16 && i < len(widths); i++ {
		le.PutUint32(b[i*4:], widths[i])
	}
	u32 := func(off int, vs ...uint32) {
		for i, v := range vs {
			le.PutUint32(b[off+i*4:], v)
		}
	}
	u32(64, uint32(l.CellW()), uint32(l.CellH()), uint32(l.Grid), uint32(l.Step))
	u32(80, uint32(l.MaskW), uint32(l.MaskH), uint32(l.TileSize), uint32(min(len(widths), l.Cells())))
	u32(96,
		math.Float32bits(p.ZoomStep),
		math.Float32bits(p.ZoomPenalty),
		math.Float32bits(p.BlurWeight),
		math.Float32bits(p.ContextWeight))
	u32(112, uint32(p.ZoomSteps), negInfBits, 0, 0)
	return b
}

type readback struct {
	scorer  *Scorer
	buf     *wgpu.Buffer
	size    uint64
	pending *wgpu.MapPending
	err     error

	mapped *wgpu.MappedRange
	once   sync.Once
}

func (r *readback) Wait(ctx context.Context) ([]byte, error) {
	if r.err != nil {
		return nil, fmt.Errorf("gpu: map: %w", r.err)
	}
	if err := r.pending.Wait(ctx); err != nil {
		return nil, fmt.Errorf("gpu: map: %w", err)
	}
	mr, err := r.buf.MappedRange(0, r.size)
	if err != nil {
		return nil, fmt.Errorf("gpu: mapped range: %w", err)
	}
	r.mapped = mr
	return mr.Bytes(), nil
}

func (r *readback) Release() {
	r.once.Do(func() {
		if r.mapped != nil {
			r.mapped.Release()
		}
		if r.pending != nil {
			if err := r.buf.Unmap(); err != nil {
				slogger().Debug("gpu: unmap", "err", err)
			}
			r.pending.Release()
		}
		if err := r.scorer.resources.ReleaseBuffer(r.buf); err != nil {
			slogger().Error("gpu: release staging buffer", "err", err)
		}
	})
}

// poller drives map completion. Maps begun after a submit resolve only when
// the device is polled, so every batch kicks one PollWait round.
type poller struct {
	device *wgpu.Device
	kicks  chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

func startPoller(device *wgpu.Device) *poller {
	p := &poller{device: device, kicks: make(chan struct{}, 1), done: make(chan struct{})}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *poller) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case <-p.kicks:
			for p.device.Poll(wgpu.PollWait) {
			}
		}
	}
}

func (p *poller) kick() {
	select {
	case p.kicks <- struct{}{}:
	default:
	}
}

func (p *poller) stop() {
	close(p.done)
	p.wg.Wait()
}
