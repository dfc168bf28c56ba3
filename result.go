package tilematch

import (
	"math"
)

// sentinelTile is the out-of-range tile id carried by empty results.
var sentinelTile = TilePos{X: math.MaxUint32, Y: math.MaxUint32, Z: math.MaxUint32}

// PosResult is one candidate match: a tile, the pixel offset of the mask
// inside it, the zoom factor the kernel picked and the resulting score.
type PosResult struct {
	Tile  TilePos
	X, Y  uint32
	Zoom  float32
	Score float32
}

// SentinelResult returns the empty result. Its score is -Inf so every real
// match sorts above it.
func SentinelResult() PosResult {
	return PosResult{
		Tile:  sentinelTile,
		Zoom:  1,
		Score: float32(math.Inf(-1)),
	}
}

// IsSentinel reports whether r is the empty result.
func (r PosResult) IsSentinel() bool {
	return r.Tile == sentinelTile
}

// PosResults is a fixed-capacity shortlist of results sorted by descending
// score. It always holds exactly K entries, padded with sentinels.
//
// PosResults is not safe for concurrent use; the engine serializes access
// per query.
type PosResults struct {
	top []PosResult
}

// NewPosResults creates a shortlist of capacity k (at least 1).
func NewPosResults(k int) PosResults {
	if k < 1 {
		k = 1
	}
	r := PosResults{top: make([]PosResult, k)}
	r.Clear()
	return r
}

// Clear resets every entry to the sentinel.
func (r *PosResults) Clear() {
	for i := range r.top {
		r.top[i] = SentinelResult()
	}
}

// Len returns the capacity K.
func (r *PosResults) Len() int { return len(r.top) }

// Results returns the entries, best first. The slice aliases internal
// storage.
func (r *PosResults) Results() []PosResult { return r.top }

// Best returns the highest scoring entry.
func (r *PosResults) Best() PosResult { return r.top[0] }

// Insert adds p if it scores at least as well as the current worst entry.
// It runs in O(K).
func (r *PosResults) Insert(p PosResult) {
	i := len(r.top) - 1
	if p.Score < r.top[i].Score {
		return
	}
	r.top[i] = p
	for i > 0 && r.top[i].Score > r.top[i-1].Score {
		r.top[i], r.top[i-1] = r.top[i-1], r.top[i]
		i--
	}
}

// Clone returns an independent copy.
func (r *PosResults) Clone() PosResults {
	return PosResults{top: append([]PosResult(nil), r.top...)}
}

// AlgoResult is the outcome of one frame's search for one query: its
// shortlist and the best score seen for every tile that was scored.
type AlgoResult struct {
	Best          PosResults
	TileMaxScores map[TilePos]float32
}

// NewAlgoResult creates an empty result with a shortlist of capacity k.
func NewAlgoResult(k int) AlgoResult {
	return AlgoResult{
		Best:          NewPosResults(k),
		TileMaxScores: make(map[TilePos]float32),
	}
}

// Observe merges one candidate into the shortlist and the tile score map.
func (a *AlgoResult) Observe(p PosResult) {
	a.Best.Insert(p)
	if prev, ok := a.TileMaxScores[p.Tile]; !ok || p.Score > prev {
		a.TileMaxScores[p.Tile] = p.Score
	}
}

// Clear resets the result for a new frame.
func (a *AlgoResult) Clear() {
	a.Best.Clear()
	clear(a.TileMaxScores)
}

// Clone returns a deep copy.
func (a *AlgoResult) Clone() AlgoResult {
	scores := make(map[TilePos]float32, len(a.TileMaxScores))
	for k, v := range a.TileMaxScores {
		scores[k] = v
	}
	return AlgoResult{Best: a.Best.Clone(), TileMaxScores: scores}
}
