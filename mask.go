package tilematch

import (
	"image"
	"math"
)

// Mask is the query pattern of one output frame. R and G carry the two
// intensity channels the kernel matches on. B is a "must be empty" weight
// used only when computing the residual.
type Mask struct {
	ID    uint32
	Image *image.RGBA
}

// NewMask creates a zeroed mask of the given size.
func NewMask(id uint32, w, h int) *Mask {
	return &Mask{ID: id, Image: image.NewRGBA(image.Rect(0, 0, w, h))}
}

// Width returns the mask width in pixels.
func (m *Mask) Width() int { return m.Image.Rect.Dx() }

// Height returns the mask height in pixels.
func (m *Mask) Height() int { return m.Image.Rect.Dy() }

// Clone returns a deep copy of m.
func (m *Mask) Clone() *Mask {
	img := image.NewRGBA(m.Image.Rect)
	copy(img.Pix, m.Image.Pix)
	return &Mask{ID: m.ID, Image: img}
}

// Dot returns the cosine similarity of the R and G channels of m and other.
// Sums are accumulated in uint64 so the result does not depend on summation
// order. Masks of different sizes are compared over their common area.
// Dot returns 0 when either mask is empty.
func (m *Mask) Dot(other *Mask) float64 {
	w := min(m.Width(), other.Width())
	h := min(m.Height(), other.Height())

	var dot, na, nb uint64
	for y := 0; y < h; y++ {
		ra := m.Image.Pix[y*m.Image.Stride:]
		rb := other.Image.Pix[y*other.Image.Stride:]
		for x := 0; x < w; x++ {
			i := x * 4
			ar, ag := uint64(ra[i]), uint64(ra[i+1])
			br, bg := uint64(rb[i]), uint64(rb[i+1])
			dot += ar*br + ag*bg
			na += ar*ar + ag*ag
			nb += br*br + bg*bg
		}
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float64(dot) / (math.Sqrt(float64(na)) * math.Sqrt(float64(nb)))
}

// Reweight scales R and G of every pixel by base + err*gain, where err is the
// error map value at that pixel. Results saturate at 255.
func (m *Mask) Reweight(errMap *ErrorMap, base, gain float32) {
	w := min(m.Width(), errMap.Width())
	h := min(m.Height(), errMap.Height())
	for y := 0; y < h; y++ {
		row := m.Image.Pix[y*m.Image.Stride:]
		for x := 0; x < w; x++ {
			f := base + errMap.At(x, y)*gain
			i := x * 4
			row[i] = scaleByte(row[i], f)
			row[i+1] = scaleByte(row[i+1], f)
		}
	}
}

func scaleByte(v uint8, f float32) uint8 {
	s := float32(v) * f
	switch {
	case s >= 255:
		return 255
	case s <= 0:
		return 0
	}
	return uint8(s)
}
