package corpus

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gogpu/tilematch"
)

func writePNG(t *testing.T, path string, w, h int, c color.RGBA) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

// newRoot builds a data root with gradient and quarter tiles at positions.
func newRoot(t *testing.T, positions ...tilematch.TilePos) string {
	t.Helper()
	root := t.TempDir()
	for _, p := range positions {
		writePNG(t, p.Path(filepath.Join(root, GradDir), "png"), 8, 8, color.RGBA{R: 255, A: 255})
		writePNG(t, p.Path(filepath.Join(root, QuarterDir), "png"), 2, 2, color.RGBA{B: 255, A: 255})
	}
	return root
}

func TestScan_LexicalOrder(t *testing.T) {
	root := newRoot(t,
		tilematch.TilePos{X: 2, Y: 1, Z: 8},
		tilematch.TilePos{X: 10, Y: 1, Z: 8},
		tilematch.TilePos{X: 0, Y: 0, Z: 8},
		tilematch.TilePos{X: 0, Y: 0, Z: 9},
	)
	os.WriteFile(filepath.Join(root, GradDir, "8", "0", "notes.txt"), []byte("x"), 0o644)

	c := New(root, "mask")
	entries, err := c.Scan([]uint32{9, 8})
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	want := []tilematch.TilePos{
		{X: 0, Y: 0, Z: 9},
		{X: 0, Y: 0, Z: 8},
		{X: 10, Y: 1, Z: 8},
		{X: 2, Y: 1, Z: 8},
	}
	if len(entries) != len(want) {
		t.Fatalf("Scan() found %d tiles, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if e.Pos != want[i] {
			t.Errorf("entries[%d] = %v, want %v", i, e.Pos, want[i])
		}
	}

	again, _ := c.Scan([]uint32{9, 8})
	for i := range again {
		if again[i] != entries[i] {
			t.Fatalf("Scan() not deterministic at %d", i)
		}
	}
}

func TestScan_MissingLevelSkipped(t *testing.T) {
	root := newRoot(t, tilematch.TilePos{X: 1, Y: 1, Z: 8})
	entries, err := New(root, "m").Scan([]uint32{7, 8})
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Scan() = %d entries, want 1", len(entries))
	}
}

func TestLoad(t *testing.T) {
	pos := tilematch.TilePos{X: 1, Y: 64, Z: 8}
	root := newRoot(t, pos, tilematch.TilePos{X: 2, Y: 64, Z: 8})
	c := New(root, "m")
	c.Workers = 2

	tiles, err := c.Load(context.Background(), []uint32{8})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(tiles) != 2 {
		t.Fatalf("Load() = %d tiles, want 2", len(tiles))
	}
	tile := tiles[0]
	if tile.Pos != pos {
		t.Errorf("tiles[0].Pos = %v, want %v", tile.Pos, pos)
	}
	if tile.Width != tilematch.TileSize {
		t.Errorf("equator tile Width = %d, want %d", tile.Width, tilematch.TileSize)
	}
	if len(tile.Full) == 0 || len(tile.Quarter) == 0 {
		t.Error("Load() left tile bytes empty")
	}
}

func TestLoad_MissingQuarterIsFatal(t *testing.T) {
	pos := tilematch.TilePos{X: 3, Y: 4, Z: 8}
	root := newRoot(t, pos)
	os.Remove(pos.Path(filepath.Join(root, QuarterDir), "png"))

	_, err := New(root, "m").Load(context.Background(), []uint32{8})
	if !errors.Is(err, ErrCorpus) {
		t.Fatalf("Load() err = %v, want ErrCorpus", err)
	}
	if !strings.Contains(err.Error(), QuarterDir) {
		t.Errorf("Load() err = %q, want the missing path", err)
	}
}

func TestMask(t *testing.T) {
	root := t.TempDir()
	c := New(root, "bad_apple")
	writePNG(t, c.MaskPath(42), 16, 8, color.RGBA{R: 9, G: 8, B: 7, A: 255})

	m, err := c.Mask(42)
	if err != nil {
		t.Fatalf("Mask() error: %v", err)
	}
	if m.ID != 42 || m.Width() != 16 || m.Height() != 8 {
		t.Errorf("Mask() = id %d %dx%d, want id 42 16x8", m.ID, m.Width(), m.Height())
	}
	if got := m.Image.RGBAAt(3, 3); got.R != 9 || got.G != 8 || got.B != 7 {
		t.Errorf("Mask() pixel = %v", got)
	}
	if !strings.HasSuffix(c.MaskPath(42), filepath.Join(MaskDir, "bad_apple_42.png")) {
		t.Errorf("MaskPath() = %q", c.MaskPath(42))
	}

	if _, err := c.Mask(43); !errors.Is(err, ErrCorpus) {
		t.Errorf("Mask(missing) err = %v, want ErrCorpus", err)
	}
}

func TestGradient_ResampledToDeformedWidth(t *testing.T) {
	pos := tilematch.TilePos{X: 1, Y: 10, Z: 8}
	root := newRoot(t, pos)
	g, err := New(root, "m").Gradient(pos)
	if err != nil {
		t.Fatalf("Gradient() error: %v", err)
	}
	want := int(tilematch.DeformWidth(tilematch.TileSize, pos.Y, pos.Z))
	if g.Rect.Dx() != want || g.Rect.Dy() != tilematch.TileSize {
		t.Errorf("Gradient() = %v, want %dx%d", g.Rect.Size(), want, tilematch.TileSize)
	}
}

func TestQuarterCrop(t *testing.T) {
	small := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			small.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), A: 0})
		}
	}
	r := tilematch.PosResult{X: 8, Y: 4, Zoom: 1}
	out := QuarterCrop(small, r, 4, 2)

	if out.Rect.Dx() != 4 || out.Rect.Dy() != 2 {
		t.Fatalf("size = %v, want 4x2", out.Rect.Size())
	}
	// (8+xx)/4 and (4+yy)/4
	if got := out.RGBAAt(0, 0); got.R != 2 || got.G != 1 || got.A != 255 {
		t.Errorf("(0,0) = %v, want R=2 G=1 opaque", got)
	}
	if got := out.RGBAAt(3, 1); got.R != 2 || got.G != 1 {
		t.Errorf("(3,1) = %v, want R=2 G=1", got)
	}

	far := QuarterCrop(small, tilematch.PosResult{X: 40, Y: 40, Zoom: 1}, 2, 2)
	if got := far.RGBAAt(1, 1); got.R != 7 || got.G != 7 {
		t.Errorf("clamped = %v, want R=7 G=7", got)
	}
}

func TestContext_Sentinel(t *testing.T) {
	if _, err := New(t.TempDir(), "m").Context(tilematch.SentinelResult(), 4, 4); !errors.Is(err, ErrCorpus) {
		t.Errorf("Context(sentinel) err = %v, want ErrCorpus", err)
	}
}

func TestSanityCheck(t *testing.T) {
	root := newRoot(t, tilematch.TilePos{X: 1, Y: 1, Z: 8})
	warns := New(root, "m").SanityCheck([]uint32{8})
	// tiles/8 and masks are missing
	if len(warns) != 2 {
		t.Errorf("SanityCheck() = %v, want 2 warnings", warns)
	}
}

func TestFillNoData(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 100, 50, 20, 255
	}
	img.SetRGBA(1, 1, color.RGBA{A: 255})
	img.SetRGBA(2, 1, color.RGBA{A: 255})
	img.SetRGBA(0, 3, color.RGBA{R: 5, G: 5, B: 5, A: 255})

	if !FillNoData(img) {
		t.Fatal("FillNoData() = false, want true")
	}
	for _, p := range []image.Point{{1, 1}, {2, 1}, {0, 3}} {
		if got := img.RGBAAt(p.X, p.Y); got.R != 100 || got.G != 50 || got.B != 20 {
			t.Errorf("pixel %v = %v, want filled", p, got)
		}
	}
}

func TestFillNoData_AllBlack(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 3))
	if FillNoData(img) {
		t.Error("FillNoData(black) = true, want false")
	}
	for _, v := range img.Pix {
		if v != 0 {
			t.Fatal("FillNoData() modified an unfillable image")
		}
	}
}
