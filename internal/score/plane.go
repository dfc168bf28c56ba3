package score

import (
	"image"

	"golang.org/x/image/draw"
)

// Plane is a tightly packed RGBA8 pixel buffer, the host-side form of one
// texture mip level.
type Plane struct {
	W, H int
	Pix  []byte
}

// NewPlane allocates a zeroed w×h plane.
func NewPlane(w, h int) Plane {
	return Plane{W: w, H: h, Pix: make([]byte, w*h*4)}
}

// PlaneFromRGBA returns img as a plane. The pixels are shared when img is
// already tightly packed and anchored at the origin.
func PlaneFromRGBA(img *image.RGBA) Plane {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if img.Rect.Min == (image.Point{}) && img.Stride == w*4 {
		return Plane{W: w, H: h, Pix: img.Pix[:w*h*4]}
	}
	p := NewPlane(w, h)
	for y := 0; y < h; y++ {
		src := img.Pix[img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y):]
		copy(p.Pix[y*w*4:(y+1)*w*4], src[:w*4])
	}
	return p
}

// RGBA wraps the plane as an image without copying.
func (p Plane) RGBA() *image.RGBA {
	return &image.RGBA{Pix: p.Pix, Stride: p.W * 4, Rect: image.Rect(0, 0, p.W, p.H)}
}

// Stride returns the row length in bytes.
func (p Plane) Stride() int { return p.W * 4 }

// Half returns the next mip level: a 2×2 box filter with edge pixels
// repeated for odd sizes. The result is ceil(W/2)×ceil(H/2).
func (p Plane) Half() Plane {
	dw, dh := (p.W+1)/2, (p.H+1)/2
	dst := NewPlane(dw, dh)
	if p.W == 0 || p.H == 0 {
		return dst
	}
	for dy := 0; dy < dh; dy++ {
		sy0 := dy * 2
		sy1 := min(sy0+1, p.H-1)
		for dx := 0; dx < dw; dx++ {
			sx0 := dx * 2
			sx1 := min(sx0+1, p.W-1)
			i0 := (sy0*p.W + sx0) * 4
			i1 := (sy0*p.W + sx1) * 4
			i2 := (sy1*p.W + sx0) * 4
			i3 := (sy1*p.W + sx1) * 4
			o := (dy*dw + dx) * 4
			for c := 0; c < 4; c++ {
				sum := uint16(p.Pix[i0+c]) + uint16(p.Pix[i1+c]) + uint16(p.Pix[i2+c]) + uint16(p.Pix[i3+c])
				dst.Pix[o+c] = uint8(sum / 4)
			}
		}
	}
	return dst
}

// Resample scales src to exactly w×h with bilinear filtering. src is
// returned as is when it already has that size and is an *image.RGBA.
func Resample(src image.Image, w, h int) *image.RGBA {
	if rgba, ok := src.(*image.RGBA); ok && rgba.Rect.Dx() == w && rgba.Rect.Dy() == h {
		return rgba
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Rect, src, src.Bounds(), draw.Src, nil)
	return dst
}

// TilePlanes are the three atlas mip levels of one decoded tile.
type TilePlanes struct {
	Full    Plane // Width × TileSize
	Half    Plane // ceil(Width/2) × TileSize/2
	Quarter Plane // ceil(Width/4) × TileSize/4, colour
}

// MaskMips are the three mask mip levels uploaded for one query.
type MaskMips struct {
	Full    Plane // mask
	Half    Plane // box-filtered mask
	Context Plane // quarter-resolution context image
}

// NewMaskMips builds the query mips from a mask and its context image. The
// context is resampled to a quarter of the mask size if needed.
func NewMaskMips(mask, context *image.RGBA) MaskMips {
	full := PlaneFromRGBA(mask)
	cw, ch := max(1, full.W/4), max(1, full.H/4)
	var ctx Plane
	if context == nil {
		ctx = NewPlane(cw, ch)
	} else {
		ctx = PlaneFromRGBA(Resample(context, cw, ch))
	}
	return MaskMips{Full: full, Half: full.Half(), Context: ctx}
}
