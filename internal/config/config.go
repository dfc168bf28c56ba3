// Package config holds the run configuration of tilematch: search and
// kernel tunables, the sequencer heuristics, data paths and the frame range.
package config

import (
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gogpu/tilematch/internal/score"
)

// ErrInvalidConfig is returned by Validate and the flag parsers.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Search configures the per-frame search.
type Search struct {
	// Backend is "gpu", "cpu", or empty for the best available.
	Backend string

	// Window bounds the batches in flight.
	Window int

	// TopK is the capacity of each query's shortlist beyond the query count.
	TopK int

	// Step is the scan stride in pixels.
	Step int

	// DebugLayout selects the rg32float output instead of packed f16.
	DebugLayout bool
}

// Format returns the output format selected by DebugLayout.
func (s Search) Format() score.Format {
	if s.DebugLayout {
		return score.FormatF32
	}
	return score.FormatPacked
}

// Kernel configures the matching kernel.
type Kernel struct {
	Params score.KernelParams

	// Dir, if set, overrides the embedded kernels and is watched for
	// changes.
	Dir string
}

// Sequencer configures the frame-to-frame heuristics.
type Sequencer struct {
	ErrorDecay       float32 // error map factor applied every frame
	ReweightBase     float32 // mask weight where the error is 0
	ReweightGain     float32 // additional mask weight per unit of error
	SimilarityCutoff float64 // minimum clean-mask Dot for a past frame to prune
	PruneMargin      float32 // a tile is pruned below min(0, score - PruneMargin)
	RingSize         int     // recently chosen tiles that may not be chosen again
	HistorySize      int     // past frames considered for pruning
	MaskCache        int     // clean masks kept in memory
	Prune            bool

	Preview        bool
	PreviewWorkers int
	SaveError      bool // also write the error map of every frame
}

// Paths locates the input and output trees.
type Paths struct {
	Data       string
	MaskPrefix string
	Out        string
}

// Results returns the result log path.
func (p Paths) Results() string { return filepath.Join(p.Out, "out.csv") }

// Run selects what to process.
type Run struct {
	Zooms   []uint32
	Frames  FrameRange
	Verbose bool
}

// FrameRange is an inclusive range of frame ids.
type FrameRange struct {
	First, Last uint32
}

// Frames returns every frame id of the range in order.
func (r FrameRange) Frames() []uint32 {
	if r.Last < r.First {
		return nil
	}
	out := make([]uint32, 0, r.Last-r.First+1)
	for f := r.First; ; f++ {
		out = append(out, f)
		if f == r.Last {
			return out
		}
	}
}

func (r FrameRange) String() string {
	return fmt.Sprintf("%d-%d", r.First, r.Last)
}

// Set parses "A-B" or a single frame "N". It implements flag.Value.
func (r *FrameRange) Set(s string) error {
	first, last, found := strings.Cut(strings.TrimSpace(s), "-")
	a, err := strconv.ParseUint(strings.TrimSpace(first), 10, 32)
	if err != nil {
		return fmt.Errorf("%w: frame range %q: %w", ErrInvalidConfig, s, err)
	}
	b := a
	if found {
		if b, err = strconv.ParseUint(strings.TrimSpace(last), 10, 32); err != nil {
			return fmt.Errorf("%w: frame range %q: %w", ErrInvalidConfig, s, err)
		}
	}
	if b < a {
		return fmt.Errorf("%w: frame range %q is reversed", ErrInvalidConfig, s)
	}
	r.First, r.Last = uint32(a), uint32(b)
	return nil
}

// ParseZooms parses a comma separated list of pyramid levels.
func ParseZooms(s string) ([]uint32, error) {
	var zs []uint32
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		z, err := strconv.ParseUint(f, 10, 32)
		if err != nil || z > 30 {
			return nil, fmt.Errorf("%w: zoom level %q", ErrInvalidConfig, f)
		}
		zs = append(zs, uint32(z))
	}
	if len(zs) == 0 {
		return nil, fmt.Errorf("%w: no zoom levels in %q", ErrInvalidConfig, s)
	}
	return zs, nil
}

// Config is the complete configuration of a run.
type Config struct {
	Search    Search
	Kernel    Kernel
	Sequencer Sequencer
	Paths     Paths
	Run       Run
}

// Default returns the production configuration.
func Default() Config {
	return Config{
		Search: Search{
			Window: 20,
			TopK:   10,
			Step:   1,
		},
		Kernel: Kernel{Params: score.DefaultKernelParams()},
		Sequencer: Sequencer{
			ErrorDecay:       0.5,
			ReweightBase:     0.7,
			ReweightGain:     0.3,
			SimilarityCutoff: 0.8,
			PruneMargin:      0.3,
			RingSize:         10,
			HistorySize:      100,
			MaskCache:        128,
			Prune:            true,
			PreviewWorkers:   2,
		},
		Paths: Paths{
			Data:       "data",
			MaskPrefix: "bad_apple",
			Out:        filepath.Join("data", "results"),
		},
		Run: Run{
			Zooms:  []uint32{7, 8, 9},
			Frames: FrameRange{First: 42, Last: 6562},
		},
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Search.Window > 0, "window %d must be positive", c.Search.Window)
	check(c.Search.TopK >= 0, "top-k %d must not be negative", c.Search.TopK)
	check(c.Search.Step > 0, "step %d must be positive", c.Search.Step)

	p := c.Kernel.Params
	check(p.ZoomSteps > 0, "zoom steps %d must be positive", p.ZoomSteps)
	check(p.ZoomStep >= 0, "zoom step %v must not be negative", p.ZoomStep)

	s := c.Sequencer
	check(s.ErrorDecay >= 0 && s.ErrorDecay <= 1, "error decay %v outside [0,1]", s.ErrorDecay)
	check(s.SimilarityCutoff >= -1 && s.SimilarityCutoff <= 1, "similarity cutoff %v outside [-1,1]", s.SimilarityCutoff)
	check(s.RingSize >= 0, "ring size %d must not be negative", s.RingSize)
	check(s.HistorySize >= 0, "history size %d must not be negative", s.HistorySize)
	check(s.MaskCache > 0, "mask cache %d must be positive", s.MaskCache)
	check(!s.Preview || s.PreviewWorkers > 0, "preview workers %d must be positive", s.PreviewWorkers)

	check(c.Paths.Data != "", "data root is empty")
	check(c.Paths.Out != "", "output directory is empty")
	check(len(c.Run.Zooms) > 0, "no zoom levels")
	check(c.Run.Frames.Last >= c.Run.Frames.First, "frame range %v is reversed", c.Run.Frames)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// Bind registers the command line flags on fs. Flags write into c, so the
// values of c at bind time are the defaults.
func (c *Config) Bind(fs *flag.FlagSet) {
	fs.StringVar(&c.Paths.Data, "data", c.Paths.Data, "data root")
	fs.StringVar(&c.Paths.MaskPrefix, "mask-prefix", c.Paths.MaskPrefix, "mask file prefix")
	fs.StringVar(&c.Paths.Out, "out", c.Paths.Out, "results directory")

	fs.Func("zooms", fmt.Sprintf("comma separated pyramid levels (default %q)", joinZooms(c.Run.Zooms)), func(s string) error {
		zs, err := ParseZooms(s)
		if err != nil {
			return err
		}
		c.Run.Zooms = zs
		return nil
	})
	fs.Var(&c.Run.Frames, "frames", "frame range A-B")
	fs.BoolVar(&c.Run.Verbose, "v", c.Run.Verbose, "debug logging")

	fs.StringVar(&c.Search.Backend, "backend", c.Search.Backend, `scoring backend: gpu, cpu or "" for the best available`)
	fs.IntVar(&c.Search.Window, "window", c.Search.Window, "batches in flight")
	fs.IntVar(&c.Search.Step, "step", c.Search.Step, "scan stride in pixels")
	fs.BoolVar(&c.Search.DebugLayout, "debug-layout", c.Search.DebugLayout, "use rg32float output")

	fs.StringVar(&c.Kernel.Dir, "kernels", c.Kernel.Dir, "kernel directory, reloaded on change")

	fs.BoolFunc("no-prune", "disable cross-frame pruning", func(s string) error {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		c.Sequencer.Prune = !v
		return nil
	})
	fs.BoolVar(&c.Sequencer.Preview, "preview", c.Sequencer.Preview, "write preview images")
	fs.BoolVar(&c.Sequencer.SaveError, "save-error", c.Sequencer.SaveError, "write the error map with each preview")
	fs.IntVar(&c.Sequencer.PreviewWorkers, "preview-workers", c.Sequencer.PreviewWorkers, "concurrent preview exports")
}

// Parse parses args with the flags of Bind and validates the result.
func (c *Config) Parse(fs *flag.FlagSet, args []string) error {
	c.Bind(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	return c.Validate()
}

func joinZooms(zs []uint32) string {
	parts := make([]string, len(zs))
	for i, z := range zs {
		parts[i] = strconv.FormatUint(uint64(z), 10)
	}
	return strings.Join(parts, ",")
}
