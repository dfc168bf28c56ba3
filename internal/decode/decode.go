// Package decode turns compressed tile bytes into atlas-ready pixel planes.
//
// A [Stage] runs ahead of the dispatcher on its own goroutine, decoding tiles
// in atlas-sized chunks on a worker pool and publishing each chunk, in input
// order, to a bounded channel. The channel capacity is the only buffering:
// when the consumer falls behind, the producer blocks.
package decode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder

	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/gogpu/tilematch"
	"github.com/gogpu/tilematch/internal/parallel"
	"github.com/gogpu/tilematch/internal/score"
)

// ErrDecode is returned when a tile cannot be decoded.
var ErrDecode = errors.New("decode: cannot decode tile")

// Config configures a Stage.
type Config struct {
	// ChunkSize is the number of tiles per batch, one atlas worth.
	ChunkSize int

	// QueueDepth is the capacity of the batch channel.
	QueueDepth int

	// Workers is the number of decode goroutines. 0 means GOMAXPROCS.
	Workers int

	// TileSize is the tile height and maximum width in pixels.
	TileSize int
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:  tilematch.BatchSize,
		QueueDepth: 10,
		TileSize:   tilematch.TileSize,
	}
}

// Batch is one decoded chunk of tiles. Planes[i] belongs to Tiles[i].
type Batch struct {
	Seq    int
	Tiles  []tilematch.Tile
	Planes []score.TilePlanes
}

// Refs returns the cell-to-tile table of the batch in upload order.
func (b Batch) Refs() []score.TileRef {
	refs := make([]score.TileRef, len(b.Tiles))
	for i, t := range b.Tiles {
		refs[i] = score.TileRef{Pos: t.Pos, Width: t.Width}
	}
	return refs
}

// Stage is a reusable decode pipeline. Start may be called once per frame;
// the worker pool is shared across calls.
type Stage struct {
	cfg  Config
	pool *parallel.WorkerPool
}

// NewStage creates a stage and starts its worker pool.
func NewStage(cfg Config) *Stage {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = def.QueueDepth
	}
	if cfg.TileSize <= 0 {
		cfg.TileSize = def.TileSize
	}
	return &Stage{cfg: cfg, pool: parallel.NewWorkerPool(cfg.Workers)}
}

// Close stops the worker pool.
func (s *Stage) Close() { s.pool.Close() }

// Start decodes tiles in the background. Batches arrive on the returned
// channel in input order; the channel is closed when all tiles are
// published, on the first decode failure, or when ctx is cancelled. The
// returned wait func blocks until the producer has exited and reports why
// it stopped early, if it did.
//
// The caller must drain the channel or cancel ctx.
func (s *Stage) Start(ctx context.Context, tiles []tilematch.Tile) (<-chan Batch, func() error) {
	out := make(chan Batch, s.cfg.QueueDepth)
	done := make(chan struct{})
	var err error

	tilematch.Logger().Debug("decode: stage started", "tiles", len(tiles), "workers", s.pool.Workers())
	go func() {
		defer close(done)
		defer close(out)
		err = s.produce(ctx, tiles, out)
	}()

	return out, func() error {
		<-done
		return err
	}
}

func (s *Stage) produce(ctx context.Context, tiles []tilematch.Tile, out chan<- Batch) error {
	log := tilematch.Logger()
	for seq, start := 0, 0; start < len(tiles); seq, start = seq+1, start+s.cfg.ChunkSize {
		chunk := tiles[start:min(start+s.cfg.ChunkSize, len(tiles))]
		planes := make([]score.TilePlanes, len(chunk))

		err := s.pool.Map(ctx, len(chunk), func(i int) error {
			p, err := Tile(chunk[i], s.cfg.TileSize)
			planes[i] = p
			return err
		})
		if err != nil {
			return err
		}

		select {
		case out <- Batch{Seq: seq, Tiles: chunk, Planes: planes}:
			log.Debug("decode: batch published", "seq", seq, "tiles", len(chunk), "queued", len(out))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Tile decodes one tile into its three atlas planes. The gradient image is
// resampled to exactly Width×tileSize and the colour image to a quarter of
// that.
func Tile(t tilematch.Tile, tileSize int) (score.TilePlanes, error) {
	w := int(t.Width)
	if w <= 0 || w > tileSize {
		return score.TilePlanes{}, fmt.Errorf("%w %v: width %d out of range", ErrDecode, t.Pos, w)
	}

	full, err := decodeImage(t.Full)
	if err != nil {
		return score.TilePlanes{}, fmt.Errorf("%w %v (gradient): %w", ErrDecode, t.Pos, err)
	}
	quarter, err := decodeImage(t.Quarter)
	if err != nil {
		return score.TilePlanes{}, fmt.Errorf("%w %v (quarter): %w", ErrDecode, t.Pos, err)
	}

	fp := score.PlaneFromRGBA(score.Resample(full, w, tileSize))
	qp := score.PlaneFromRGBA(score.Resample(quarter, (w+3)/4, tileSize/4))
	return score.TilePlanes{Full: fp, Half: fp.Half(), Quarter: qp}, nil
}

func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if img.Bounds().Empty() {
		return nil, errors.New("empty image")
	}
	return img, nil
}
