// Package score defines the scoring contract shared by every backend: the
// result layout of one scoring pass, the packed score/zoom texel encoding,
// the host-side pixel planes of masks and tiles, and a CPU implementation of
// the matching kernel.
//
// A scoring pass runs over a 4x4 atlas of tiles. For every tile cell it scans
// mask placements on a fixed stride; each result texel holds the best score
// over a small set of zoom factors and the zoom that produced it. [Decode]
// turns one pass output back into the best [tilematch.PosResult] of the batch.
package score
