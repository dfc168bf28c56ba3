// Command tilematch finds, for every frame of a mask sequence, the region of
// a map tile pyramid that looks most like it.
//
// Usage:
//
//	tilematch -data data -zooms 7,8,9 -frames 42-6562 [-preview] [-v]
//
// Results are appended to <out>/out.csv. A rerun skips every frame already
// in the file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/text/language"

	"github.com/gogpu/tilematch"
	"github.com/gogpu/tilematch/internal/config"
	"github.com/gogpu/tilematch/internal/corpus"
	"github.com/gogpu/tilematch/internal/decode"
	"github.com/gogpu/tilematch/internal/engine"
	"github.com/gogpu/tilematch/internal/export"
	_ "github.com/gogpu/tilematch/internal/gpu"
	"github.com/gogpu/tilematch/internal/resultlog"
	"github.com/gogpu/tilematch/internal/score"
	"github.com/gogpu/tilematch/internal/sequencer"
)

func main() {
	cfg := config.Default()
	if err := cfg.Parse(flag.CommandLine, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Run.Verbose {
		level = slog.LevelDebug
	}
	tilematch.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "tilematch: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	frames := cfg.Run.Frames.Frames()
	if len(frames) == 0 {
		return fmt.Errorf("%w: empty frame range %s", config.ErrInvalidConfig, cfg.Run.Frames)
	}

	data := corpus.New(cfg.Paths.Data, cfg.Paths.MaskPrefix)
	data.SanityCheck(cfg.Run.Zooms)
	tiles, err := data.Load(ctx, cfg.Run.Zooms)
	if err != nil {
		return err
	}

	first, err := data.Mask(frames[0])
	if err != nil {
		return err
	}
	layout := score.NewLayout(first.Width(), first.Height(), cfg.Search.Step, cfg.Search.Format())
	if err := layout.Validate(); err != nil {
		return err
	}

	scorer, backend, err := engine.NewScorer(cfg.Search.Backend, engine.BackendOptions{
		Layout:    layout,
		Kernel:    cfg.Kernel.Params,
		Window:    cfg.Search.Window,
		KernelDir: cfg.Kernel.Dir,
	})
	if err != nil {
		return err
	}
	defer scorer.Close()
	tilematch.Logger().Info("tilematch: backend selected", "backend", backend, "layout", layout.Format, "mask", fmt.Sprintf("%dx%d", layout.MaskW, layout.MaskH))

	search := engine.NewSearch(scorer, engine.Config{
		Window: cfg.Search.Window,
		TopK:   1 + cfg.Search.TopK,
		Decode: decode.DefaultConfig(),
	})
	defer search.Close()

	if err := os.MkdirAll(cfg.Paths.Out, 0o755); err != nil {
		return err
	}
	results, done, err := resultlog.Open(cfg.Paths.Results())
	if err != nil {
		return err
	}
	defer results.Close()

	opts := sequencer.Options{
		Config:   cfg.Sequencer,
		Corpus:   data,
		Search:   search,
		Tiles:    tiles,
		Log:      results,
		Done:     done,
		Progress: os.Stdout,
		Language: language.English,
	}
	if cfg.Sequencer.Preview {
		exp, err := export.New(data, cfg.Paths.Out)
		if err != nil {
			return err
		}
		exp.SaveError = cfg.Sequencer.SaveError
		opts.Exporter = exp
	}

	seq, err := sequencer.New(opts)
	if err != nil {
		return err
	}
	return seq.Run(ctx, frames)
}
