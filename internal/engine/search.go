package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/gogpu/tilematch"
	"github.com/gogpu/tilematch/internal/decode"
	"github.com/gogpu/tilematch/internal/score"
)

// Config configures a Search.
type Config struct {
	// Window is the maximum number of batches whose readbacks are still
	// outstanding. DispatchBatch blocks while the window is full.
	Window int

	// TopK is the capacity of every per-query result list.
	TopK int

	// Decode configures the decode stage feeding Run.
	Decode decode.Config
}

// DefaultConfig returns the production configuration for n queries.
func DefaultConfig(n int) Config {
	return Config{
		Window: 20,
		TopK:   n + 10,
		Decode: decode.DefaultConfig(),
	}
}

// Stats describes one Run.
type Stats struct {
	Batches    int
	Tiles      int
	Dispatches int
	Elapsed    time.Duration
}

// Search drives one scoring backend. A Search is reused across frames but
// runs one frame at a time.
type Search struct {
	scorer Scorer
	cfg    Config
	stage  *decode.Stage
	window *semaphore.Weighted

	mu      []sync.Mutex
	results []tilematch.AlgoResult

	harvests   sync.WaitGroup
	dispatches atomic.Int64

	onDrain func()
}

// NewSearch creates a search over scorer. The caller keeps ownership of
// scorer.
func NewSearch(scorer Scorer, cfg Config) *Search {
	if cfg.Window <= 0 {
		cfg.Window = 1
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 1
	}
	return &Search{
		scorer: scorer,
		cfg:    cfg,
		stage:  decode.NewStage(cfg.Decode),
		window: semaphore.NewWeighted(int64(cfg.Window)),
	}
}

// OnDrain registers fn to be called by Run once every batch of a frame has
// been dispatched, before it waits for the outstanding readbacks.
func (s *Search) OnDrain(fn func()) { s.onDrain = fn }

// Close stops the decode workers.
func (s *Search) Close() { s.stage.Close() }

// Begin resets the per-query results and uploads queries to the backend.
func (s *Search) Begin(queries []Query) error {
	if len(queries) == 0 {
		return ErrNoQueries
	}
	if len(s.results) != len(queries) {
		s.mu = make([]sync.Mutex, len(queries))
		s.results = make([]tilematch.AlgoResult, len(queries))
		for i := range s.results {
			s.results[i] = tilematch.NewAlgoResult(s.cfg.TopK)
		}
	} else {
		for i := range s.results {
			s.results[i].Clear()
		}
	}
	s.dispatches.Store(0)
	if err := s.scorer.SetQueries(queries); err != nil {
		return fmt.Errorf("engine: upload queries: %w", err)
	}
	return nil
}

// DispatchBatch scores b against every query. It blocks while Window
// batches are outstanding. Results are merged asynchronously; call Finish to
// wait for them.
func (s *Search) DispatchBatch(ctx context.Context, b decode.Batch) error {
	if len(s.results) == 0 {
		return ErrNoQueries
	}
	if err := s.window.Acquire(ctx, 1); err != nil {
		return err
	}

	rbs, err := s.scorer.ScoreBatch(ctx, b)
	if err != nil {
		s.window.Release(1)
		return fmt.Errorf("engine: batch %d: %w", b.Seq, err)
	}
	if len(rbs) != len(s.results) {
		for _, rb := range rbs {
			rb.Release()
		}
		s.window.Release(1)
		return fmt.Errorf("%w: batch %d: %d readbacks for %d queries", ErrQueryMismatch, b.Seq, len(rbs), len(s.results))
	}
	s.dispatches.Add(int64(len(rbs)))

	pending := new(atomic.Int32)
	pending.Store(int32(len(rbs)))
	refs := b.Refs()
	hctx := context.WithoutCancel(ctx)

	s.harvests.Add(len(rbs))
	for i, rb := range rbs {
		go s.harvest(hctx, i, rb, refs, b.Seq, pending)
	}
	return nil
}

// harvest merges one readback into query i's results. The last harvest of a
// batch frees its window slot.
func (s *Search) harvest(ctx context.Context, i int, rb Readback, refs []score.TileRef, batch int, pending *atomic.Int32) {
	defer s.harvests.Done()

	data, err := rb.Wait(ctx)
	if err != nil {
		tilematch.Logger().Warn("engine: readback failed, dropping batch contribution",
			"batch", batch, "query", i, "err", err)
	} else {
		best := score.Decode(s.scorer.Layout(), data, refs)
		if !best.IsSentinel() {
			s.mu[i].Lock()
			s.results[i].Observe(best)
			s.mu[i].Unlock()
		}
	}
	rb.Release()

	if pending.Add(-1) == 0 {
		s.window.Release(1)
	}
}

// Finish waits until every dispatched batch has been harvested and returns a
// copy of the per-query results.
func (s *Search) Finish(ctx context.Context) ([]tilematch.AlgoResult, error) {
	n := int64(s.cfg.Window)
	if err := s.window.Acquire(ctx, n); err != nil {
		return nil, err
	}
	s.window.Release(n)
	s.harvests.Wait()

	out := make([]tilematch.AlgoResult, len(s.results))
	for i := range s.results {
		s.mu[i].Lock()
		out[i] = s.results[i].Clone()
		s.mu[i].Unlock()
	}
	return out, nil
}

// Run searches tiles for queries, skipping forbidden tiles. It returns one
// result per query.
func (s *Search) Run(ctx context.Context, queries []Query, tiles []tilematch.Tile, forbidden map[tilematch.TilePos]struct{}) ([]tilematch.AlgoResult, Stats, error) {
	start := time.Now()
	if err := s.Begin(queries); err != nil {
		return nil, Stats{}, err
	}

	scan := tiles
	if len(forbidden) > 0 {
		scan = make([]tilematch.Tile, 0, len(tiles))
		for _, t := range tiles {
			if _, ok := forbidden[t.Pos]; !ok {
				scan = append(scan, t)
			}
		}
	}

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	batches, wait := s.stage.Start(dctx, scan)

	stats := Stats{Tiles: len(scan)}
	var dispatchErr error
	for b := range batches {
		if dispatchErr != nil {
			continue
		}
		if err := s.DispatchBatch(dctx, b); err != nil {
			dispatchErr = err
			cancel()
			continue
		}
		stats.Batches++
	}
	decodeErr := wait()
	if s.onDrain != nil {
		s.onDrain()
	}

	// Harvests of dispatched batches still hold buffers; drain them even on
	// failure so the backend's pool is whole for the next frame.
	results, finishErr := s.Finish(context.WithoutCancel(ctx))
	stats.Dispatches = int(s.dispatches.Load())
	stats.Elapsed = time.Since(start)

	switch {
	case dispatchErr != nil:
		return nil, stats, dispatchErr
	case decodeErr != nil:
		return nil, stats, decodeErr
	case finishErr != nil:
		return nil, stats, finishErr
	}
	tilematch.Logger().Debug("engine: frame searched",
		"tiles", stats.Tiles, "batches", stats.Batches, "dispatches", stats.Dispatches, "elapsed", stats.Elapsed)
	return results, stats, nil
}
