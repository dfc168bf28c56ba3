// Package export renders preview images of chosen matches.
//
// A preview is the matched region taken from the colour pyramid two levels
// deeper than the match, so it shows four times the detail of the gradient
// tile the kernel scored. The debug preview puts the crop next to the mask,
// the gradient region and the error map.
package export

import (
	"cmp"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"slices"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/gogpu/tilematch"
)

const (
	// LevelsUp is how many pyramid levels deeper previews are taken from.
	LevelsUp = 2

	// Upscale is the preview size relative to the mask.
	Upscale = 1 << LevelsUp

	// FramesDir and DebugDir are created under the output directory.
	FramesDir = "frames"
	DebugDir  = "frames_debug"
)

// Source provides the tiles a preview is assembled from.
type Source interface {
	// Colour returns the colour tile at pos.
	Colour(pos tilematch.TilePos) (*image.RGBA, error)

	// Gradient returns the gradient tile at pos at its deformed width.
	Gradient(pos tilematch.TilePos) (*image.RGBA, error)
}

// Exporter writes preview PNGs under an output directory. It is safe for
// concurrent use.
type Exporter struct {
	src Source
	out string

	// SaveError also writes frames/<frame>_avg_error.png.
	SaveError bool
}

// New creates the output directories under out.
func New(src Source, out string) (*Exporter, error) {
	for _, dir := range []string{FramesDir, DebugDir} {
		if err := os.MkdirAll(filepath.Join(out, dir), 0o755); err != nil {
			return nil, fmt.Errorf("export: %w", err)
		}
	}
	return &Exporter{src: src, out: out}, nil
}

// FramePath returns the preview path of frame.
func (e *Exporter) FramePath(frame uint32) string {
	return filepath.Join(e.out, FramesDir, fmt.Sprintf("%d.png", frame))
}

// DebugPath returns the debug preview path of frame.
func (e *Exporter) DebugPath(frame uint32) string {
	return filepath.Join(e.out, DebugDir, fmt.Sprintf("%d.png", frame))
}

// Export writes the preview and the debug preview of frame. mask is the
// weighted mask the frame was searched with.
func (e *Exporter) Export(frame uint32, res tilematch.PosResult, mask *tilematch.Mask, errMap *tilematch.ErrorMap) error {
	var crop, debug *image.RGBA
	if res.IsSentinel() {
		crop = image.NewRGBA(image.Rect(0, 0, 1, 1))
		debug = crop
	} else {
		var err error
		if crop, err = Crop(e.src, res, mask.Width(), mask.Height()); err != nil {
			return fmt.Errorf("export: frame %d: %w", frame, err)
		}
		grad, err := e.src.Gradient(res.Tile)
		if err != nil {
			return fmt.Errorf("export: frame %d: %w", frame, err)
		}
		debug = Debug(crop, mask, grad, errMap, res)
	}

	if err := writePNG(e.FramePath(frame), crop); err != nil {
		return err
	}
	if err := writePNG(e.DebugPath(frame), debug); err != nil {
		return err
	}
	if e.SaveError {
		path := filepath.Join(e.out, FramesDir, fmt.Sprintf("%d_avg_error.png", frame))
		if err := writePNG(path, errMap.Gray()); err != nil {
			return err
		}
	}
	tilematch.Logger().Debug("export: frame written", "frame", frame, "path", e.FramePath(frame))
	return nil
}

// upPos maps preview pixel (xx, yy) to a tile LevelsUp levels deeper and a
// pixel inside it. dw is the deformed width of res's tile.
func upPos(res tilematch.PosResult, dw, xx, yy int) (tilematch.TilePos, int, int) {
	upX := int(res.X)*Upscale + int(float32(xx)*res.Zoom)
	upY := int(res.Y)*Upscale + int(float32(yy)*res.Zoom)
	pos := tilematch.TilePos{
		X: res.Tile.X*Upscale + uint32(upX/dw),
		Y: res.Tile.Y*Upscale + uint32(upY/tilematch.TileSize),
		Z: res.Tile.Z + LevelsUp,
	}
	return pos, upX % dw, upY % tilematch.TileSize
}

// TilesNeeded returns, in sorted order, the deeper tiles a w×h mask preview
// of res touches.
func TilesNeeded(res tilematch.PosResult, w, h int) []tilematch.TilePos {
	if res.IsSentinel() {
		return nil
	}
	dw := deformWidth(res.Tile)
	seen := make(map[tilematch.TilePos]struct{})
	for yy := 0; yy < h*Upscale; yy++ {
		for xx := 0; xx < w*Upscale; xx++ {
			pos, _, _ := upPos(res, dw, xx, yy)
			seen[pos] = struct{}{}
		}
	}
	out := make([]tilematch.TilePos, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b tilematch.TilePos) int {
		if c := cmp.Compare(a.Y, b.Y); c != 0 {
			return c
		}
		return cmp.Compare(a.X, b.X)
	})
	return out
}

// Crop assembles the Upscale× preview of res for a w×h mask. Every deeper
// tile is resampled to the deformed width of res's tile so the stitched
// region lines up with the scored one.
func Crop(src Source, res tilematch.PosResult, w, h int) (*image.RGBA, error) {
	dw := deformWidth(res.Tile)
	tiles := make(map[tilematch.TilePos]*image.RGBA)
	for _, pos := range TilesNeeded(res, w, h) {
		img, err := src.Colour(pos)
		if err != nil {
			return nil, err
		}
		scaled := image.NewRGBA(image.Rect(0, 0, dw, tilematch.TileSize))
		draw.CatmullRom.Scale(scaled, scaled.Rect, img, img.Bounds(), draw.Src, nil)
		tiles[pos] = scaled
	}

	out := image.NewRGBA(image.Rect(0, 0, w*Upscale, h*Upscale))
	for yy := 0; yy < h*Upscale; yy++ {
		for xx := 0; xx < w*Upscale; xx++ {
			pos, px, py := upPos(res, dw, xx, yy)
			c := tiles[pos].RGBAAt(px, py)
			c.A = 255
			out.SetRGBA(xx, yy, c)
		}
	}
	return out, nil
}

// Debug lays out four panels of the crop's size side by side: the crop,
// the mask, the gradient region the kernel scored and the error map.
func Debug(crop *image.RGBA, mask *tilematch.Mask, grad *image.RGBA, errMap *tilematch.ErrorMap, res tilematch.PosResult) *image.RGBA {
	pw, ph := crop.Rect.Dx(), crop.Rect.Dy()
	out := image.NewRGBA(image.Rect(0, 0, 4*pw, ph))
	draw.Draw(out, image.Rect(0, 0, pw, ph), crop, crop.Rect.Min, draw.Src)

	gw, gh := grad.Rect.Dx(), grad.Rect.Dy()
	for yy := 0; yy < ph; yy++ {
		gy := min(int(res.Y)+int(float32(yy)*res.Zoom)/Upscale, gh-1)
		for xx := 0; xx < pw; xx++ {
			m := mask.Image.RGBAAt(xx/Upscale, yy/Upscale)
			out.SetRGBA(pw+xx, yy, color.RGBA{m.R, m.G, m.B, 255})

			gx := min(int(res.X)+int(float32(xx)*res.Zoom)/Upscale, gw-1)
			g := grad.RGBAAt(grad.Rect.Min.X+gx, grad.Rect.Min.Y+gy)
			g.A = 255
			out.SetRGBA(2*pw+xx, yy, g)

			v := uint8(min(max(errMap.At(xx/Upscale, yy/Upscale), 0), 1) * 255)
			out.SetRGBA(3*pw+xx, yy, color.RGBA{v, v, v, 255})
		}
	}

	for i, name := range []string{"crop", "mask", "gradient", "error"} {
		label(out, i*pw+3, name)
	}
	return out
}

// label draws s at the top left of a panel starting at x.
func label(dst *image.RGBA, x int, s string) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.RGBA{255, 255, 0, 255}),
		Face: face,
		Dot:  fixed.P(x, face.Ascent+2),
	}
	d.DrawString(s)
}

func deformWidth(pos tilematch.TilePos) int {
	return max(1, int(tilematch.DeformWidth(tilematch.TileSize, pos.Y, pos.Z)))
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("export: encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}
