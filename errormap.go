package tilematch

import (
	"image"
	"image/color"
	"math"
)

// InitialError is the value every error map cell starts at.
const InitialError = 0.5

// ErrorMap accumulates, per mask pixel, how badly previous frames matched.
// It decays every frame so old misses fade out.
type ErrorMap struct {
	w, h int
	v    []float32
}

// NewErrorMap creates a w×h map filled with InitialError.
func NewErrorMap(w, h int) *ErrorMap {
	e := &ErrorMap{w: w, h: h, v: make([]float32, w*h)}
	for i := range e.v {
		e.v[i] = InitialError
	}
	return e
}

// Width returns the map width.
func (e *ErrorMap) Width() int { return e.w }

// Height returns the map height.
func (e *ErrorMap) Height() int { return e.h }

// At returns the value at (x, y). Out-of-range coordinates read as 0.
func (e *ErrorMap) At(x, y int) float32 {
	if x < 0 || y < 0 || x >= e.w || y >= e.h {
		return 0
	}
	return e.v[y*e.w+x]
}

// Add adds v to the cell at (x, y). Out-of-range coordinates are ignored.
func (e *ErrorMap) Add(x, y int, v float32) {
	if x < 0 || y < 0 || x >= e.w || y >= e.h {
		return
	}
	e.v[y*e.w+x] += v
}

// Decay multiplies every cell by f.
func (e *ErrorMap) Decay(f float32) {
	for i := range e.v {
		e.v[i] *= f
	}
}

// Clone returns a deep copy.
func (e *ErrorMap) Clone() *ErrorMap {
	return &ErrorMap{w: e.w, h: e.h, v: append([]float32(nil), e.v...)}
}

// Gray renders the map as a grey image, 1.0 and above mapping to white.
func (e *ErrorMap) Gray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, e.w, e.h))
	for y := 0; y < e.h; y++ {
		for x := 0; x < e.w; x++ {
			v := e.v[y*e.w+x]
			img.SetGray(x, y, color.Gray{Y: uint8(min(max(v, 0), 1) * 255)})
		}
	}
	return img
}

// Residual compares mask against the gradient tile grad at the position and
// zoom of r and reports, through add, the per-pixel error. Mask pixels that
// are bright where the tile is dark contribute through R and G; tile content
// under the mask's B weight contributes as a squared penalty.
func Residual(mask, grad *image.RGBA, r PosResult, add func(x, y int, e float32)) {
	if r.IsSentinel() {
		return
	}
	gw, gh := grad.Rect.Dx(), grad.Rect.Dy()
	if gw == 0 || gh == 0 {
		return
	}
	mw, mh := mask.Rect.Dx(), mask.Rect.Dy()
	zoom := float64(r.Zoom)
	for yy := 0; yy < mh; yy++ {
		ty := min(int(r.Y)+int(float64(yy)*zoom), gh-1)
		for xx := 0; xx < mw; xx++ {
			tx := min(int(r.X)+int(float64(xx)*zoom), gw-1)

			mi := mask.PixOffset(mask.Rect.Min.X+xx, mask.Rect.Min.Y+yy)
			pi := grad.PixOffset(grad.Rect.Min.X+tx, grad.Rect.Min.Y+ty)
			mr := float64(mask.Pix[mi]) / 255
			mg := float64(mask.Pix[mi+1]) / 255
			mb := float64(mask.Pix[mi+2]) / 255
			pr := float64(grad.Pix[pi]) / 255
			pg := float64(grad.Pix[pi+1]) / 255

			d0 := max(0, mr-pr)
			d1 := max(0, mg-pg)
			d2 := 0.5 * mb * (pr*pr + pg*pg)
			add(xx, yy, float32(math.Sqrt(d0*d0+d1*d1+d2)))
		}
	}
}
