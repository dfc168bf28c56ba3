package sequencer

import "github.com/gogpu/tilematch"

// Ring is a FIFO of the most recently chosen tiles. Tiles in the ring may
// not be chosen again.
type Ring struct {
	tiles []tilematch.TilePos
	size  int
}

// NewRing creates a ring holding at most size tiles.
func NewRing(size int) *Ring {
	return &Ring{tiles: make([]tilematch.TilePos, 0, max(size, 0)), size: max(size, 0)}
}

// Push appends p, dropping the oldest tile when the ring is full.
func (r *Ring) Push(p tilematch.TilePos) {
	if r.size == 0 {
		return
	}
	if len(r.tiles) == r.size {
		copy(r.tiles, r.tiles[1:])
		r.tiles = r.tiles[:len(r.tiles)-1]
	}
	r.tiles = append(r.tiles, p)
}

// Tiles returns the ring contents, oldest first. The slice aliases the ring.
func (r *Ring) Tiles() []tilematch.TilePos { return r.tiles }

// Len returns the number of tiles held.
func (r *Ring) Len() int { return len(r.tiles) }

// Set returns the ring contents as a new set.
func (r *Ring) Set() map[tilematch.TilePos]struct{} {
	set := make(map[tilematch.TilePos]struct{}, len(r.tiles))
	for _, p := range r.tiles {
		set[p] = struct{}{}
	}
	return set
}
