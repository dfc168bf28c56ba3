package score

import (
	"math"
)

// KernelParams are the tunables of the matching kernel. Both backends read
// the same values.
type KernelParams struct {
	ZoomSteps     int     // number of zoom factors tried per offset
	ZoomStep      float32 // zoom increment between factors, starting at 1
	BlurWeight    float32 // weight of the half-resolution contrast
	ContextWeight float32 // weight of the similarity to the context image
	ZoomPenalty   float32 // score penalty per unit of zoom above 1
}

// DefaultKernelParams returns the production kernel parameters.
func DefaultKernelParams() KernelParams {
	return KernelParams{
		ZoomSteps:     8,
		ZoomStep:      0.0625,
		BlurWeight:    0.5,
		ContextWeight: 0.25,
		ZoomPenalty:   0.2,
	}
}

// Zoom returns the k-th zoom factor.
func (p KernelParams) Zoom(k int) float32 { return 1 + float32(k)*p.ZoomStep }

// Atlas is the host-side form of one batch: the planes of up to Grid² tiles
// and their valid widths, in upload order.
type Atlas struct {
	Tiles  []TilePlanes
	Widths []uint32
}

// unit is a plane converted to normalized float32 channels.
type unit struct {
	w, h int
	px   []float32 // rgb triples
}

func toUnit(p Plane) unit {
	u := unit{w: p.W, h: p.H, px: make([]float32, p.W*p.H*3)}
	for i := 0; i < p.W*p.H; i++ {
		u.px[i*3] = float32(p.Pix[i*4]) / 255
		u.px[i*3+1] = float32(p.Pix[i*4+1]) / 255
		u.px[i*3+2] = float32(p.Pix[i*4+2]) / 255
	}
	return u
}

// Kernel is the CPU implementation of the matching kernel for one query.
// It is immutable after creation and safe for concurrent use.
type Kernel struct {
	layout Layout
	params KernelParams
	m0     unit
	m1     unit
	m2     unit
}

// NewKernel prepares the kernel for one query.
func NewKernel(l Layout, p KernelParams, m MaskMips) *Kernel {
	return &Kernel{
		layout: l,
		params: p,
		m0:     toUnit(m.Full),
		m1:     toUnit(m.Half),
		m2:     toUnit(m.Context),
	}
}

// sampler addresses one tile mip level the way the kernel does: offsets are
// scaled down by the level, and reads are clamped to the valid width and the
// level height.
type sampler struct {
	p     Plane
	level uint
	maxX  int
	maxY  int
}

func newSampler(p Plane, level uint, width uint32, tileSize int) sampler {
	d := 1 << level
	w := (int(width) + d - 1) / d
	return sampler{
		p:     p,
		level: level,
		maxX:  max(0, min(w, p.W)-1),
		maxY:  max(0, min(tileSize/d, p.H)-1),
	}
}

// at returns the normalized rgb of the sample for mask pixel (j, k).
func (s sampler) at(ox, oy, j, k int, zoom float32) (r, g, b float32) {
	scale := float32(int(1) << s.level)
	sx := min((ox+int(scale*float32(j)*zoom))>>s.level, s.maxX)
	sy := min((oy+int(scale*float32(k)*zoom))>>s.level, s.maxY)
	i := (sy*s.p.W + sx) * 4
	if i < 0 || i+2 >= len(s.p.Pix) {
		return 0, 0, 0
	}
	return float32(s.p.Pix[i]) / 255, float32(s.p.Pix[i+1]) / 255, float32(s.p.Pix[i+2]) / 255
}

// contrast measures how much brighter the tile is under the mask's
// foreground than under its background.
func contrast(m unit, s sampler, ox, oy int, zoom float32) float32 {
	var hit, fg, miss, bg float32
	for k := 0; k < m.h; k++ {
		for j := 0; j < m.w; j++ {
			i := (k*m.w + j) * 3
			mr, mg := m.px[i], m.px[i+1]
			pr, pg, _ := s.at(ox, oy, j, k, zoom)
			hit += mr*pr + mg*pg
			fg += mr + mg
			miss += (1-mr)*pr + (1-mg)*pg
			bg += 2 - mr - mg
		}
	}
	var c float32
	if fg > 0 {
		c += hit / fg
	}
	if bg > 0 {
		c -= miss / bg
	}
	return c
}

// similarity is 1 minus the mean absolute rgb difference.
func similarity(m unit, s sampler, ox, oy int, zoom float32) float32 {
	if m.w == 0 || m.h == 0 {
		return 0
	}
	var diff float32
	for k := 0; k < m.h; k++ {
		for j := 0; j < m.w; j++ {
			i := (k*m.w + j) * 3
			pr, pg, pb := s.at(ox, oy, j, k, zoom)
			diff += abs32(m.px[i]-pr) + abs32(m.px[i+1]-pg) + abs32(m.px[i+2]-pb)
		}
	}
	return 1 - diff/float32(m.w*m.h*3)
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// Evaluate returns the best (score, zoom) of result texel (rx, ry).
func (k *Kernel) Evaluate(a *Atlas, rx, ry int) (score, zoom float32) {
	l := k.layout
	cw, ch := l.CellW(), l.CellH()
	i := rx/cw + (ry/ch)*l.Grid
	if i >= len(a.Tiles) || i >= len(a.Widths) || a.Widths[i] == 0 {
		return float32(math.Inf(-1)), 1
	}
	ox, oy := (rx%cw)*l.Step, (ry%ch)*l.Step
	t := &a.Tiles[i]
	s0 := newSampler(t.Full, 0, a.Widths[i], l.TileSize)
	s1 := newSampler(t.Half, 1, a.Widths[i], l.TileSize)
	s2 := newSampler(t.Quarter, 2, a.Widths[i], l.TileSize)

	score, zoom = float32(math.Inf(-1)), 1
	for step := 0; step < k.params.ZoomSteps; step++ {
		z := k.params.Zoom(step)
		full := contrast(k.m0, s0, ox, oy, z)
		blur := contrast(k.m1, s1, ox, oy, z)
		ctx := similarity(k.m2, s2, ox, oy, z)
		s := full + k.params.BlurWeight*blur + k.params.ContextWeight*ctx - k.params.ZoomPenalty*(z-1)
		if s > score {
			score, zoom = s, z
		}
	}
	return score, zoom
}

// Run scores every texel of the layout into out, which must hold
// BufferSize bytes.
func (k *Kernel) Run(a *Atlas, out []byte) {
	k.RunRows(a, out, 0, k.layout.ResultH())
}

// RunRows scores rows [y0, y1) into out.
func (k *Kernel) RunRows(a *Atlas, out []byte, y0, y1 int) {
	rw := k.layout.ResultW()
	for ry := y0; ry < y1; ry++ {
		for rx := 0; rx < rw; rx++ {
			s, z := k.Evaluate(a, rx, ry)
			k.layout.Encode(out, rx, ry, s, z)
		}
	}
}
