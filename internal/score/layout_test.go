package score

import (
	"errors"
	"testing"
)

func TestLayout_Geometry(t *testing.T) {
	tests := []struct {
		name                   string
		l                      Layout
		cellW, cellH           int
		resultW, resultH, rowT int
		bufSize                int
	}{
		{
			name:  "production packed",
			l:     NewLayout(128, 64, 2, FormatPacked),
			cellW: 192, cellH: 224,
			resultW: 768, resultH: 896, rowT: 768,
			bufSize: 768 * 4 * 896,
		},
		{
			name:  "unaligned f32",
			l:     Layout{TileSize: 256, Grid: 4, MaskW: 32, MaskH: 32, Step: 4, Format: FormatF32},
			cellW: 56, cellH: 56,
			resultW: 224, resultH: 224, rowT: 256,
			bufSize: 256 * 8 * 224,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := tt.l
			if err := l.Validate(); err != nil {
				t.Fatalf("Validate() = %v", err)
			}
			if l.CellW() != tt.cellW || l.CellH() != tt.cellH {
				t.Errorf("cell = %dx%d, want %dx%d", l.CellW(), l.CellH(), tt.cellW, tt.cellH)
			}
			if l.ResultW() != tt.resultW || l.ResultH() != tt.resultH {
				t.Errorf("result = %dx%d, want %dx%d", l.ResultW(), l.ResultH(), tt.resultW, tt.resultH)
			}
			if l.RowTexels() != tt.rowT {
				t.Errorf("RowTexels() = %d, want %d", l.RowTexels(), tt.rowT)
			}
			if l.RowBytes()%copyRowAlignment != 0 {
				t.Errorf("RowBytes() = %d, not a multiple of %d", l.RowBytes(), copyRowAlignment)
			}
			if l.BufferSize() != tt.bufSize {
				t.Errorf("BufferSize() = %d, want %d", l.BufferSize(), tt.bufSize)
			}
		})
	}
}

func TestLayout_Validate(t *testing.T) {
	bad := []Layout{
		{TileSize: 512, Grid: 4, MaskW: 32, MaskH: 32, Step: 0},
		{TileSize: 512, Grid: 0, MaskW: 32, MaskH: 32, Step: 1},
		{TileSize: 512, Grid: 4, MaskW: 512, MaskH: 32, Step: 1},
		{TileSize: 512, Grid: 4, MaskW: 2, MaskH: 32, Step: 1},
		{TileSize: 512, Grid: 4, MaskW: 30, MaskH: 32, Step: 1},
		{TileSize: 512, Grid: 4, MaskW: 32, MaskH: 32, Step: 1, Format: 9},
	}
	for i, l := range bad {
		if err := l.Validate(); !errors.Is(err, ErrInvalidLayout) {
			t.Errorf("case %d: Validate() = %v, want ErrInvalidLayout", i, err)
		}
	}
}

func TestFormat_String(t *testing.T) {
	if FormatPacked.String() != "r32uint" || FormatF32.String() != "rg32float" {
		t.Errorf("String() = %q, %q", FormatPacked, FormatF32)
	}
}
