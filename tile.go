package tilematch

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
)

// Corpus geometry.
const (
	// TileSize is the height of every tile in pixels and the width of an
	// undeformed (equator) tile.
	TileSize = 512

	// AtlasGrid is the number of tile cells along each side of a batch atlas.
	AtlasGrid = 4

	// BatchSize is the number of tiles scored together in one atlas.
	BatchSize = AtlasGrid * AtlasGrid
)

// ErrBadTilePath is returned when a path does not end in {z}/{y}/{x}.ext.
var ErrBadTilePath = errors.New("tilematch: malformed tile path")

// TilePos addresses one tile of the quad-tree pyramid. Z is the pyramid
// level; X and Y are bounded by 2^Z.
type TilePos struct {
	X, Y, Z uint32
}

// String returns the position as "x/y/z".
func (p TilePos) String() string {
	return fmt.Sprintf("%d/%d/%d", p.X, p.Y, p.Z)
}

// Path returns root/{z}/{y}/{x}.ext.
func (p TilePos) Path(root, ext string) string {
	return filepath.Join(root,
		strconv.FormatUint(uint64(p.Z), 10),
		strconv.FormatUint(uint64(p.Y), 10),
		strconv.FormatUint(uint64(p.X), 10)+"."+ext)
}

// ExtractTilePos parses the last three components of a {z}/{y}/{x}.ext path.
// Both '/' and the OS separator are accepted.
func ExtractTilePos(path string) (TilePos, error) {
	parts := strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == filepath.Separator
	})
	if len(parts) < 3 {
		return TilePos{}, fmt.Errorf("%w: %q", ErrBadTilePath, path)
	}
	name := parts[len(parts)-1]
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	x, errX := strconv.ParseUint(name, 10, 32)
	y, errY := strconv.ParseUint(parts[len(parts)-2], 10, 32)
	z, errZ := strconv.ParseUint(parts[len(parts)-3], 10, 32)
	if err := errors.Join(errX, errY, errZ); err != nil {
		return TilePos{}, fmt.Errorf("%w: %q: %w", ErrBadTilePath, path, err)
	}
	return TilePos{X: uint32(x), Y: uint32(y), Z: uint32(z)}, nil
}

// Deformation returns how much a tile row at (y, z) is horizontally
// compressed by the projection, in [0, 1]. It is 1 at the equator.
func Deformation(y, z uint32) float64 {
	if z == 0 {
		return 1
	}
	rows := float64(uint64(1) << (z - 1))
	latitude := math.Pi/2 - (float64(y)/rows)*math.Pi
	return math.Abs(math.Cos(latitude))
}

// DeformWidth returns the valid pixel width of a tile of the given width at
// row y of level z.
func DeformWidth(width, y, z uint32) uint32 {
	w := math.Ceil(float64(width) * Deformation(y, z))
	if w > float64(width) {
		return width
	}
	return uint32(w)
}

// Tile is one entry of the corpus: its position, its deformed width and the
// compressed bytes of its gradient tile and quarter-resolution colour tile.
// Tiles are immutable and shared read-only across workers.
type Tile struct {
	Pos     TilePos
	Width   uint32
	Full    []byte
	Quarter []byte
}

// NewTile builds a tile and computes its deformed width.
func NewTile(pos TilePos, full, quarter []byte) Tile {
	return Tile{
		Pos:     pos,
		Width:   DeformWidth(TileSize, pos.Y, pos.Z),
		Full:    full,
		Quarter: quarter,
	}
}
