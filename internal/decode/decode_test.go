package decode

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/gogpu/tilematch"
)

const testTileSize = 16

func pngBytes(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func testTiles(t *testing.T, n int) []tilematch.Tile {
	t.Helper()
	full := pngBytes(t, testTileSize, testTileSize, color.RGBA{R: 200, G: 100, A: 255})
	quarter := pngBytes(t, testTileSize/4, testTileSize/4, color.RGBA{B: 255, A: 255})
	tiles := make([]tilematch.Tile, n)
	for i := range tiles {
		tiles[i] = tilematch.Tile{
			Pos:     tilematch.TilePos{X: uint32(i), Y: 1, Z: 4},
			Width:   testTileSize - uint32(i%3),
			Full:    full,
			Quarter: quarter,
		}
	}
	return tiles
}

func TestTile_Planes(t *testing.T) {
	tile := testTiles(t, 2)[1] // width 15
	p, err := Tile(tile, testTileSize)
	if err != nil {
		t.Fatalf("Tile() = %v", err)
	}
	if p.Full.W != 15 || p.Full.H != testTileSize {
		t.Errorf("Full = %dx%d, want 15x%d", p.Full.W, p.Full.H, testTileSize)
	}
	if p.Half.W != 8 || p.Half.H != testTileSize/2 {
		t.Errorf("Half = %dx%d, want 8x%d", p.Half.W, p.Half.H, testTileSize/2)
	}
	if p.Quarter.W != 4 || p.Quarter.H != testTileSize/4 {
		t.Errorf("Quarter = %dx%d, want 4x%d", p.Quarter.W, p.Quarter.H, testTileSize/4)
	}
	if p.Full.Pix[0] != 200 || p.Full.Pix[1] != 100 {
		t.Errorf("Full pixel = %v, want R=200 G=100", p.Full.Pix[:4])
	}
}

func TestTile_JPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, testTileSize, testTileSize))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	tile := testTiles(t, 1)[0]
	tile.Full = buf.Bytes()
	if _, err := Tile(tile, testTileSize); err != nil {
		t.Errorf("Tile() with JPEG gradient = %v", err)
	}
}

func TestTile_Corrupt(t *testing.T) {
	tile := testTiles(t, 1)[0]
	tile.Full = []byte("not an image")
	_, err := Tile(tile, testTileSize)
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("Tile() = %v, want ErrDecode", err)
	}
	if !strings.Contains(err.Error(), tile.Pos.String()) {
		t.Errorf("error %q does not name tile %v", err, tile.Pos)
	}
}

func TestStage_OrderAndChunks(t *testing.T) {
	s := NewStage(Config{ChunkSize: 4, QueueDepth: 2, Workers: 3, TileSize: testTileSize})
	defer s.Close()

	tiles := testTiles(t, 10)
	batches, wait := s.Start(context.Background(), tiles)

	var sizes []int
	next := uint32(0)
	for b := range batches {
		if b.Seq != len(sizes) {
			t.Errorf("batch Seq = %d, want %d", b.Seq, len(sizes))
		}
		sizes = append(sizes, len(b.Tiles))
		if len(b.Planes) != len(b.Tiles) {
			t.Errorf("batch %d: %d planes for %d tiles", b.Seq, len(b.Planes), len(b.Tiles))
		}
		for i, ref := range b.Refs() {
			if ref.Pos.X != next {
				t.Errorf("batch %d slot %d = %v, want X=%d", b.Seq, i, ref.Pos, next)
			}
			if int(ref.Width) != b.Planes[i].Full.W {
				t.Errorf("batch %d slot %d width %d, plane %d", b.Seq, i, ref.Width, b.Planes[i].Full.W)
			}
			next++
		}
	}
	if err := wait(); err != nil {
		t.Fatalf("wait() = %v", err)
	}
	if want := []int{4, 4, 2}; len(sizes) != 3 || sizes[0] != want[0] || sizes[1] != want[1] || sizes[2] != want[2] {
		t.Errorf("batch sizes = %v, want %v", sizes, want)
	}
}

func TestStage_DecodeFailureIsFatal(t *testing.T) {
	s := NewStage(Config{ChunkSize: 4, QueueDepth: 4, Workers: 2, TileSize: testTileSize})
	defer s.Close()

	tiles := testTiles(t, 12)
	tiles[6].Full = []byte{0x89, 'P', 'N', 'G'}
	batches, wait := s.Start(context.Background(), tiles)

	n := 0
	for range batches {
		n++
	}
	err := wait()
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("wait() = %v, want ErrDecode", err)
	}
	if n != 1 {
		t.Errorf("published %d batches before the failure, want 1", n)
	}
}

func TestStage_Backpressure(t *testing.T) {
	const depth = 2
	s := NewStage(Config{ChunkSize: 1, QueueDepth: depth, Workers: 2, TileSize: testTileSize})
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	batches, wait := s.Start(ctx, testTiles(t, 20))

	// Without a consumer the producer fills the channel and blocks.
	deadline := time.Now().Add(2 * time.Second)
	for len(batches) < depth && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if got := len(batches); got != depth {
		t.Errorf("queued batches = %d, want %d", got, depth)
	}

	cancel()
	for range batches {
	}
	if err := wait(); !errors.Is(err, context.Canceled) {
		t.Errorf("wait() after cancel = %v, want context.Canceled", err)
	}
}
