// Package sequencer drives the search frame by frame.
//
// Frames are not independent. Every frame reweights its mask by an error
// map that remembers where earlier matches were poor, may not reuse a tile
// chosen in the last few frames, and starts its search with the colours of
// the previous match as context. Tiles that scored badly for a similar
// earlier mask are pruned before dispatch.
//
// The result log is the checkpoint: a frame already in the log is replayed
// from its logged result without searching.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"github.com/gogpu/tilematch"
	"github.com/gogpu/tilematch/internal/cache"
	"github.com/gogpu/tilematch/internal/config"
	"github.com/gogpu/tilematch/internal/engine"
	"github.com/gogpu/tilematch/internal/resultlog"
)

// Sequencer errors.
var (
	// ErrResume is returned when the result log cannot be replayed.
	ErrResume = errors.New("sequencer: inconsistent resume")

	// ErrMaskSize is returned when a mask differs in size from the first.
	ErrMaskSize = errors.New("sequencer: mask size changed")
)

// seaBlue is the context colour before the first match.
var seaBlue = color.RGBA{R: 1, G: 1, B: 32, A: 255}

// Corpus provides masks and the tile images the heuristics need.
type Corpus interface {
	Mask(frame uint32) (*tilematch.Mask, error)
	Gradient(pos tilematch.TilePos) (*image.RGBA, error)
	Context(r tilematch.PosResult, w, h int) (*image.RGBA, error)
}

// Searcher runs one frame's search. *engine.Search implements it.
type Searcher interface {
	Run(ctx context.Context, queries []engine.Query, tiles []tilematch.Tile, forbidden map[tilematch.TilePos]struct{}) ([]tilematch.AlgoResult, engine.Stats, error)
}

// Appender persists frame results. *resultlog.Log implements it.
type Appender interface {
	Append(frame uint32, r tilematch.PosResult, elapsed time.Duration) error
}

// Exporter writes previews. *export.Exporter implements it.
type Exporter interface {
	Export(frame uint32, res tilematch.PosResult, mask *tilematch.Mask, errMap *tilematch.ErrorMap) error
}

// Options configures a Sequencer.
type Options struct {
	Config config.Sequencer
	Corpus Corpus
	Search Searcher
	Tiles  []tilematch.Tile
	Log    Appender

	// Done are the records already in the log.
	Done []resultlog.Record

	// Exporter is used when Config.Preview is set.
	Exporter Exporter

	// Progress receives the per-frame lines. nil discards them.
	Progress io.Writer

	// Language localizes numbers in the progress output.
	Language language.Tag
}

// Stats counts the work of a Run.
type Stats struct {
	Frames     int // frames searched
	Resumed    int // frames replayed from the log
	Dispatches int
	Excluded   int // tiles pruned, summed over frames

	// MaskCache is a snapshot of the clean mask cache taken when Run returns.
	MaskCache cache.Stats
}

// history is one searched frame kept for pruning later frames.
type history struct {
	frame  uint32
	result tilematch.AlgoResult
	chosen tilematch.PosResult
}

// Sequencer processes frames in order. It is not safe for concurrent use.
type Sequencer struct {
	cfg      config.Sequencer
	corpus   Corpus
	search   Searcher
	tiles    []tilematch.Tile
	log      Appender
	done     map[uint32]resultlog.Record
	exporter Exporter
	progress *progress

	state      State
	ring       *Ring
	errMap     *tilematch.ErrorMap
	contextImg *image.RGBA
	maskW      int
	maskH      int
	prev       *tilematch.PosResult
	past       []history
	masks      *cache.Cache[uint32, *tilematch.Mask]

	previews errgroup.Group
	stats    Stats
}

// New creates a sequencer. Duplicate frames in opts.Done are rejected.
func New(opts Options) (*Sequencer, error) {
	done := make(map[uint32]resultlog.Record, len(opts.Done))
	for _, r := range opts.Done {
		if _, dup := done[r.Frame]; dup {
			return nil, fmt.Errorf("%w: frame %d logged twice", ErrResume, r.Frame)
		}
		done[r.Frame] = r
	}
	s := &Sequencer{
		cfg:      opts.Config,
		corpus:   opts.Corpus,
		search:   opts.Search,
		tiles:    opts.Tiles,
		log:      opts.Log,
		done:     done,
		progress: newProgress(opts.Progress, opts.Language),
		ring:     NewRing(opts.Config.RingSize),
		masks:    cache.New[uint32, *tilematch.Mask](max(opts.Config.MaskCache, opts.Config.HistorySize+1)),
	}
	if opts.Config.Preview && opts.Exporter != nil {
		s.exporter = opts.Exporter
		s.previews.SetLimit(max(1, opts.Config.PreviewWorkers))
	}
	if d, ok := opts.Search.(interface{ OnDrain(func()) }); ok {
		d.OnDrain(func() { s.setState(StateDraining) })
	}
	s.progress.resumed(opts.Done)
	return s, nil
}

// State returns the current phase.
func (s *Sequencer) State() State { return s.state }

// Stats returns the counters of the frames processed so far.
func (s *Sequencer) Stats() Stats { return s.stats }

// Ring returns the forbidden ring.
func (s *Sequencer) Ring() *Ring { return s.ring }

// ErrorMap returns the error map, or nil before the first frame.
func (s *Sequencer) ErrorMap() *tilematch.ErrorMap { return s.errMap }

func (s *Sequencer) setState(st State) {
	s.state = st
	tilematch.Logger().Debug("sequencer: state", "state", st)
}

// Run processes frames in order. Cancellation is checked between frames.
// Pending previews are awaited before Run returns.
func (s *Sequencer) Run(ctx context.Context, frames []uint32) error {
	err := s.run(ctx, frames)
	s.previews.Wait()
	s.setState(StateIdle)
	s.stats.MaskCache = s.masks.Stats()
	tilematch.Logger().Debug("sequencer: mask cache",
		"entries", s.stats.MaskCache.Len,
		"hit_rate", s.stats.MaskCache.HitRate(),
		"evictions", s.stats.MaskCache.Evictions)
	if err == nil {
		s.progress.summary(s.stats)
	}
	return err
}

func (s *Sequencer) run(ctx context.Context, frames []uint32) error {
	for i, f := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rec, ok := s.done[f]; ok {
			if err := s.replay(rec); err != nil {
				return err
			}
			continue
		}
		if err := s.frame(ctx, f, len(frames)-i-1); err != nil {
			return err
		}
	}
	return nil
}

// cleanMask returns the unweighted mask of frame and sets up the per-run
// images on first use.
func (s *Sequencer) cleanMask(frame uint32) (*tilematch.Mask, error) {
	m, err := s.masks.GetOrLoad(frame, func() (*tilematch.Mask, error) {
		return s.corpus.Mask(frame)
	})
	if err != nil {
		return nil, fmt.Errorf("sequencer: frame %d: %w", frame, err)
	}
	if s.errMap == nil {
		s.maskW, s.maskH = m.Width(), m.Height()
		s.errMap = tilematch.NewErrorMap(s.maskW, s.maskH)
		s.contextImg = image.NewRGBA(image.Rect(0, 0, max(1, s.maskW/4), max(1, s.maskH/4)))
		for i := 0; i < len(s.contextImg.Pix); i += 4 {
			s.contextImg.Pix[i], s.contextImg.Pix[i+1], s.contextImg.Pix[i+2], s.contextImg.Pix[i+3] = seaBlue.R, seaBlue.G, seaBlue.B, seaBlue.A
		}
	} else if m.Width() != s.maskW || m.Height() != s.maskH {
		return nil, fmt.Errorf("%w: frame %d is %dx%d, want %dx%d", ErrMaskSize, frame, m.Width(), m.Height(), s.maskW, s.maskH)
	}
	return m, nil
}

// addResidual accumulates the error of mask matched at r into the error map.
func (s *Sequencer) addResidual(mask *tilematch.Mask, r tilematch.PosResult) error {
	if r.IsSentinel() {
		return nil
	}
	grad, err := s.corpus.Gradient(r.Tile)
	if err != nil {
		return err
	}
	tilematch.Residual(mask.Image, grad, r, s.errMap.Add)
	return nil
}

// advance moves the context image to the match r.
func (s *Sequencer) advance(r tilematch.PosResult) error {
	if r.IsSentinel() {
		return nil
	}
	s.ring.Push(r.Tile)
	ctxImg, err := s.corpus.Context(r, s.maskW/4, s.maskH/4)
	if err != nil {
		return err
	}
	s.contextImg = ctxImg
	return nil
}

// replay applies a logged frame to the run state without searching.
func (s *Sequencer) replay(rec resultlog.Record) error {
	mask, err := s.cleanMask(rec.Frame)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrResume, err)
	}
	if err := s.advance(rec.Result); err != nil {
		return fmt.Errorf("%w: frame %d: %w", ErrResume, rec.Frame, err)
	}
	s.errMap.Decay(s.cfg.ErrorDecay)
	if err := s.addResidual(mask, rec.Result); err != nil {
		return fmt.Errorf("%w: frame %d: %w", ErrResume, rec.Frame, err)
	}
	s.prev = nil
	s.stats.Resumed++
	tilematch.Logger().Debug("sequencer: frame replayed", "frame", rec.Frame, "tile", rec.Result.Tile)
	return nil
}

// forbidden returns the tiles frame may not search and how many of them
// were pruned by similarity to earlier frames.
func (s *Sequencer) forbidden(clean *tilematch.Mask) (map[tilematch.TilePos]struct{}, int, error) {
	set := s.ring.Set()
	if !s.cfg.Prune {
		return set, 0, nil
	}
	excluded := 0
	for _, h := range s.past {
		prev, err := s.cleanMask(h.frame)
		if err != nil {
			return nil, 0, err
		}
		if clean.Dot(prev) < s.cfg.SimilarityCutoff {
			continue
		}
		threshold := min(0, h.chosen.Score-s.cfg.PruneMargin)
		for tile, score := range h.result.TileMaxScores {
			if score < threshold {
				set[tile] = struct{}{}
				excluded++
			}
		}
	}
	return set, excluded, nil
}

// frame searches one frame and persists its result. remaining is the number
// of frames after it.
func (s *Sequencer) frame(ctx context.Context, frame uint32, remaining int) error {
	start := time.Now()

	s.setState(StateBuildQuery)
	clean, err := s.cleanMask(frame)
	if err != nil {
		return err
	}
	mask := clean.Clone()
	s.errMap.Decay(s.cfg.ErrorDecay)
	if s.prev != nil {
		if err := s.addResidual(mask, *s.prev); err != nil {
			return fmt.Errorf("sequencer: frame %d: %w", frame, err)
		}
	}
	mask.Reweight(s.errMap, s.cfg.ReweightBase, s.cfg.ReweightGain)

	forbidden, excluded, err := s.forbidden(clean)
	if err != nil {
		return err
	}

	s.setState(StateDispatching)
	results, stats, err := s.search.Run(ctx, []engine.Query{{Mask: mask, Context: s.contextImg}}, s.tiles, forbidden)
	if err != nil {
		return fmt.Errorf("sequencer: frame %d: %w", frame, err)
	}
	if len(results) == 0 {
		return fmt.Errorf("sequencer: frame %d: %w", frame, engine.ErrNoQueries)
	}

	s.setState(StateSelected)
	best := results[0].Best.Best()
	if err := s.advance(best); err != nil {
		return fmt.Errorf("sequencer: frame %d: %w", frame, err)
	}
	s.past = append(s.past, history{frame: frame, result: results[0], chosen: best})
	if len(s.past) > s.cfg.HistorySize {
		s.past = s.past[len(s.past)-s.cfg.HistorySize:]
	}
	s.prev = &best

	s.setState(StatePersisted)
	if err := s.log.Append(frame, best, stats.Elapsed); err != nil {
		return err
	}
	took := time.Since(start)
	s.progress.observe(took)
	pct := 0
	if len(s.tiles) > 0 {
		pct = excluded * 100 / len(s.tiles)
	}
	s.progress.frame(frame, best, took, remaining, pct)

	s.stats.Frames++
	s.stats.Dispatches += stats.Dispatches
	s.stats.Excluded += excluded

	if s.exporter != nil {
		errMap := s.errMap.Clone()
		s.previews.Go(func() error {
			if err := s.exporter.Export(frame, best, mask, errMap); err != nil {
				tilematch.Logger().Warn("sequencer: preview export failed", "frame", frame, "err", err)
			}
			return nil
		})
	}
	s.setState(StateIdle)
	return nil
}
