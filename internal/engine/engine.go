// Package engine runs one frame's search: it streams decoded tile batches
// to a scoring backend, bounds the number of batches in flight, and merges
// every pass output into per-query top-K lists as readbacks complete.
package engine

import (
	"context"
	"errors"
	"image"

	"github.com/gogpu/tilematch"
	"github.com/gogpu/tilematch/internal/decode"
	"github.com/gogpu/tilematch/internal/score"
)

// Engine errors.
var (
	// ErrNoQueries is returned when a search is started without queries.
	ErrNoQueries = errors.New("engine: no queries")

	// ErrQueryMismatch is returned when a backend returns a different number
	// of readbacks than there are queries.
	ErrQueryMismatch = errors.New("engine: readback count does not match queries")

	// ErrUnknownBackend is returned when a backend name is not registered.
	ErrUnknownBackend = errors.New("engine: unknown backend")
)

// Query is one mask to search for, with the context image that biases the
// match toward continuity with the previous frame.
type Query struct {
	Mask    *tilematch.Mask
	Context *image.RGBA
}

// Mips returns the three query planes uploaded to a backend.
func (q Query) Mips() score.MaskMips {
	return score.NewMaskMips(q.Mask.Image, q.Context)
}

// Scorer is a scoring backend. ScoreBatch is called from a single goroutine;
// the returned readbacks are waited on and released concurrently.
type Scorer interface {
	// Layout returns the output layout of every pass.
	Layout() score.Layout

	// SetQueries uploads the mask mips and context images for the next
	// batches.
	SetQueries(qs []Query) error

	// ScoreBatch scores b against every query and returns one readback per
	// query, in query order.
	ScoreBatch(ctx context.Context, b decode.Batch) ([]Readback, error)

	// Close releases every resource of the backend.
	Close() error
}

// Readback is a pending pass output.
type Readback interface {
	// Wait blocks until the output is host-visible. The bytes are valid
	// until Release.
	Wait(ctx context.Context) ([]byte, error)

	// Release returns the staging buffer to its pool. It must be called
	// exactly once, whether or not Wait succeeded.
	Release()
}
