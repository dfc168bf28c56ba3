package tilematch

import (
	"image"
	"image/color"
	"math"
	"testing"
)

func TestErrorMap_Initial(t *testing.T) {
	e := NewErrorMap(3, 2)
	if e.Width() != 3 || e.Height() != 2 {
		t.Fatalf("size = %dx%d, want 3x2", e.Width(), e.Height())
	}
	if got := e.At(2, 1); got != InitialError {
		t.Errorf("At(2,1) = %v, want %v", got, InitialError)
	}
	if got := e.At(3, 0); got != 0 {
		t.Errorf("out of range At = %v, want 0", got)
	}
}

func TestErrorMap_DecayAdd(t *testing.T) {
	e := NewErrorMap(2, 2)
	e.Decay(0.5)
	e.Add(1, 1, 1)
	e.Add(-1, 0, 9)

	if got := e.At(0, 0); got != 0.25 {
		t.Errorf("At(0,0) = %v, want 0.25", got)
	}
	if got := e.At(1, 1); got != 1.25 {
		t.Errorf("At(1,1) = %v, want 1.25", got)
	}

	c := e.Clone()
	e.Decay(0)
	if c.At(1, 1) != 1.25 {
		t.Error("Clone() aliases the original")
	}
}

func TestErrorMap_Gray(t *testing.T) {
	e := NewErrorMap(2, 1)
	e.Add(1, 0, 5)
	g := e.Gray()
	if got := g.GrayAt(0, 0).Y; got != 127 {
		t.Errorf("Gray(0,0) = %d, want 127", got)
	}
	if got := g.GrayAt(1, 0).Y; got != 255 {
		t.Errorf("Gray(1,0) = %d, want 255", got)
	}
}

func TestResidual(t *testing.T) {
	mask := image.NewRGBA(image.Rect(0, 0, 2, 1))
	mask.SetRGBA(0, 0, color.RGBA{R: 255, G: 255, A: 255}) // unmatched foreground
	mask.SetRGBA(1, 0, color.RGBA{B: 255, A: 255})         // must be empty

	grad := image.NewRGBA(image.Rect(0, 0, 8, 8))
	grad.SetRGBA(6, 3, color.RGBA{R: 255, G: 255, A: 255})

	got := map[[2]int]float32{}
	r := PosResult{Tile: TilePos{Z: 8}, X: 5, Y: 3, Zoom: 1, Score: 1}
	Residual(mask, grad, r, func(x, y int, e float32) { got[[2]int{x, y}] += e })

	if want := float32(math.Sqrt2); math.Abs(float64(got[[2]int{0, 0}]-want)) > 1e-6 {
		t.Errorf("residual(0,0) = %v, want %v", got[[2]int{0, 0}], want)
	}
	if want := float32(1); math.Abs(float64(got[[2]int{1, 0}]-want)) > 1e-6 {
		t.Errorf("residual(1,0) = %v, want %v", got[[2]int{1, 0}], want)
	}
}

func TestResidual_ClampsToTile(t *testing.T) {
	mask := image.NewRGBA(image.Rect(0, 0, 4, 4))
	grad := image.NewRGBA(image.Rect(0, 0, 4, 4))
	calls := 0
	r := PosResult{Tile: TilePos{Z: 8}, X: 3, Y: 3, Zoom: 1.5, Score: 0}
	Residual(mask, grad, r, func(int, int, float32) { calls++ })
	if calls != 16 {
		t.Errorf("add called %d times, want 16", calls)
	}
}

func TestResidual_SentinelIsNoop(t *testing.T) {
	mask := image.NewRGBA(image.Rect(0, 0, 2, 2))
	grad := image.NewRGBA(image.Rect(0, 0, 2, 2))
	Residual(mask, grad, SentinelResult(), func(int, int, float32) {
		t.Fatal("add called for sentinel result")
	})
}
