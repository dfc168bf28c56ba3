package tilematch

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestExtractTilePos(t *testing.T) {
	tests := []struct {
		path    string
		want    TilePos
		wantErr bool
	}{
		{"data/tiles_grad/8/97/130.png", TilePos{X: 130, Y: 97, Z: 8}, false},
		{"/abs/9/1/2.webp", TilePos{X: 2, Y: 1, Z: 9}, false},
		{"7/0/0.jpg", TilePos{X: 0, Y: 0, Z: 7}, false},
		{"0/0", TilePos{}, true},
		{"a/b/c.png", TilePos{}, true},
		{"8/-1/3.png", TilePos{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := ExtractTilePos(tt.path)
			if tt.wantErr {
				if !errors.Is(err, ErrBadTilePath) {
					t.Errorf("ExtractTilePos(%q) err = %v, want ErrBadTilePath", tt.path, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractTilePos(%q) unexpected error: %v", tt.path, err)
			}
			if got != tt.want {
				t.Errorf("ExtractTilePos(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestTilePos_PathRoundTrip(t *testing.T) {
	p := TilePos{X: 12, Y: 34, Z: 8}
	path := p.Path(filepath.Join("root", "tiles"), "png")
	if want := filepath.Join("root", "tiles", "8", "34", "12.png"); path != want {
		t.Errorf("Path() = %q, want %q", path, want)
	}
	got, err := ExtractTilePos(path)
	if err != nil || got != p {
		t.Errorf("ExtractTilePos(Path()) = %v, %v; want %v", got, err, p)
	}
	if s := p.String(); s != "12/34/8" {
		t.Errorf("String() = %q, want 12/34/8", s)
	}
}

func TestDeformWidth_Equator(t *testing.T) {
	for z := uint32(2); z <= 12; z++ {
		y := uint32(1) << (z - 2)
		if got := DeformWidth(TileSize, y, z); got != TileSize {
			t.Errorf("DeformWidth(%d, %d, %d) = %d, want %d", TileSize, y, z, got, TileSize)
		}
	}
	if got := DeformWidth(TileSize, 0, 0); got != TileSize {
		t.Errorf("DeformWidth at z=0 = %d, want %d", got, TileSize)
	}
}

func TestDeformWidth_Monotonic(t *testing.T) {
	const z = 8
	equator := uint32(1) << (z - 2)
	prev := DeformWidth(TileSize, equator, z)
	for d := uint32(1); d <= equator; d++ {
		north := DeformWidth(TileSize, equator-d, z)
		south := DeformWidth(TileSize, equator+d, z)
		if north > prev || south > prev {
			t.Fatalf("width increased moving away from the equator at distance %d: %d,%d > %d", d, north, south, prev)
		}
		if north > south+1 || south > north+1 {
			t.Errorf("asymmetric width at distance %d: north %d, south %d", d, north, south)
		}
		prev = max(north, south)
	}
}

func TestNewTile(t *testing.T) {
	tile := NewTile(TilePos{X: 1, Y: 0, Z: 3}, []byte{1}, []byte{2})
	if tile.Width >= TileSize {
		t.Errorf("polar tile Width = %d, want < %d", tile.Width, TileSize)
	}
	if tile.Width == 0 {
		t.Error("polar tile Width = 0, want at least 1")
	}
}
