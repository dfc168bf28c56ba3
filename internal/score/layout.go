package score

import (
	"errors"
	"fmt"

	"github.com/gogpu/tilematch"
)

// ErrInvalidLayout is returned by Layout.Validate.
var ErrInvalidLayout = errors.New("score: invalid layout")

// copyRowAlignment is the byte alignment of rows in a texture-to-buffer copy.
const copyRowAlignment = 256

// Format selects the texel encoding of a scoring pass output.
type Format uint8

const (
	// FormatPacked stores pack2x16float(score, zoom) in one r32uint texel.
	FormatPacked Format = iota

	// FormatF32 stores (score, zoom) as two float32 in one rg32float texel.
	// It doubles readback bandwidth and is meant for debugging precision.
	FormatF32
)

// String returns the WGSL storage format name.
func (f Format) String() string {
	switch f {
	case FormatPacked:
		return "r32uint"
	case FormatF32:
		return "rg32float"
	default:
		return fmt.Sprintf("Format(%d)", uint8(f))
	}
}

// TexelBytes returns the size of one output texel.
func (f Format) TexelBytes() int {
	if f == FormatF32 {
		return 8
	}
	return 4
}

// Layout describes the geometry of one scoring pass output.
type Layout struct {
	TileSize int // tile height and maximum width
	Grid     int // atlas cells per side
	MaskW    int
	MaskH    int
	Step     int // scan stride in pixels
	Format   Format
}

// NewLayout returns the layout for a mask size and stride on full-size tiles.
func NewLayout(maskW, maskH, step int, format Format) Layout {
	return Layout{
		TileSize: tilematch.TileSize,
		Grid:     tilematch.AtlasGrid,
		MaskW:    maskW,
		MaskH:    maskH,
		Step:     step,
		Format:   format,
	}
}

// Validate reports whether the layout can be scanned.
func (l Layout) Validate() error {
	switch {
	case l.Step <= 0:
		return fmt.Errorf("%w: step %d", ErrInvalidLayout, l.Step)
	case l.Grid <= 0:
		return fmt.Errorf("%w: grid %d", ErrInvalidLayout, l.Grid)
	case l.MaskW < 4 || l.MaskH < 4 || l.MaskW%4 != 0 || l.MaskH%4 != 0:
		return fmt.Errorf("%w: mask %dx%d must be a positive multiple of 4", ErrInvalidLayout, l.MaskW, l.MaskH)
	case l.MaskW >= l.TileSize || l.MaskH >= l.TileSize:
		return fmt.Errorf("%w: mask %dx%d does not fit tile %d", ErrInvalidLayout, l.MaskW, l.MaskH, l.TileSize)
	case l.Format != FormatPacked && l.Format != FormatF32:
		return fmt.Errorf("%w: %v", ErrInvalidLayout, l.Format)
	}
	return nil
}

// Cells returns the number of tile slots of the atlas.
func (l Layout) Cells() int { return l.Grid * l.Grid }

// CellW returns the number of scan columns per tile.
func (l Layout) CellW() int { return (l.TileSize - l.MaskW) / l.Step }

// CellH returns the number of scan rows per tile.
func (l Layout) CellH() int { return (l.TileSize - l.MaskH) / l.Step }

// ResultW returns the width of the output in texels.
func (l Layout) ResultW() int { return l.Grid * l.CellW() }

// ResultH returns the height of the output in texels.
func (l Layout) ResultH() int { return l.Grid * l.CellH() }

// RowTexels returns the padded row length of a readback buffer in texels.
// Rows are aligned to 64 texels, the 256-byte copy alignment over 4 bytes.
func (l Layout) RowTexels() int {
	const a = copyRowAlignment / 4
	return (l.ResultW() + a - 1) / a * a
}

// RowBytes returns the padded row length of a readback buffer in bytes.
func (l Layout) RowBytes() int { return l.RowTexels() * l.Format.TexelBytes() }

// BufferSize returns the size of a readback buffer in bytes.
func (l Layout) BufferSize() int { return l.RowBytes() * l.ResultH() }

// AtlasSize returns the side of the atlas texture at mip level 0.
func (l Layout) AtlasSize() int { return l.Grid * l.TileSize }
