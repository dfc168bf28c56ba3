// Package tilematch searches a pyramid of map tiles for the regions that best
// match a sequence of query masks, one per output video frame.
//
// # Overview
//
// Each frame is a brute-force search over millions of scan positions. Tiles
// are decoded in batches of 16, packed into a 4x4 atlas on the GPU and scored
// against the frame's mask by a compute kernel. Score outputs are read back
// asynchronously and merged into a per-mask top-K list. A frame sequencer
// strings frames together into a camera path: it forbids recently chosen
// tiles, prunes tiles that scored badly for similar earlier masks, and
// reweights each mask toward the regions earlier frames failed to match.
//
// This package holds the shared data model:
//
//   - [TilePos] and [Tile]: addressing and raw bytes of the tile corpus
//   - [Mask]: a query pattern with cosine similarity and error reweighting
//   - [PosResult], [PosResults], [AlgoResult]: ranked search results
//   - [ErrorMap] and [Residual]: the feedback loop between frames
//
// The search engine lives in internal/engine, the GPU backend in
// internal/gpu and the frame state machine in internal/sequencer. The
// tilematch command wires them to a data directory.
//
// # Logging
//
// tilematch is silent by default. Call [SetLogger] to route diagnostics to a
// [log/slog] logger.
package tilematch
