// Package corpus maps the on-disk data root to tiles, masks and the colour
// crops that seed each frame's context image.
//
// The data root holds four trees:
//
//	tiles_grad/{z}/{y}/{x}.ext   gradient tiles, the search corpus
//	tiles_smol/{z}/{y}/{x}.ext   quarter resolution colour tiles
//	tiles/{z}/{y}/{x}.ext        full resolution colour tiles
//	masks/<prefix>_<frame>.png   one query mask per frame
package corpus

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoder
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/tilematch"
	"github.com/gogpu/tilematch/internal/score"
)

// ErrCorpus is returned for a missing or unreadable corpus file.
var ErrCorpus = errors.New("corpus: bad corpus")

// Tree directory names under the data root.
const (
	GradDir    = "tiles_grad"
	QuarterDir = "tiles_smol"
	ColourDir  = "tiles"
	MaskDir    = "masks"
)

// extensions lists the accepted tile image formats in lookup order.
var extensions = []string{"png", "jpg", "jpeg", "webp"}

// Corpus is a data root on disk.
type Corpus struct {
	Root       string
	MaskPrefix string

	// Workers bounds concurrent file reads in Load. 0 means GOMAXPROCS.
	Workers int
}

// New returns the corpus rooted at root.
func New(root, maskPrefix string) *Corpus {
	return &Corpus{Root: root, MaskPrefix: maskPrefix}
}

// Entry is one gradient tile found by Scan.
type Entry struct {
	Pos tilematch.TilePos
	Rel string // path relative to the gradient tree
}

// Scan lists the gradient tiles of levels zs in lexical walk order.
func (c *Corpus) Scan(zs []uint32) ([]Entry, error) {
	var out []Entry
	for _, z := range zs {
		root := filepath.Join(c.Root, GradDir, strconv.FormatUint(uint64(z), 10))
		if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
			tilematch.Logger().Warn("corpus: level missing", "path", root)
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !hasTileExt(path) {
				return nil
			}
			rel, err := filepath.Rel(filepath.Join(c.Root, GradDir), path)
			if err != nil {
				return err
			}
			pos, err := tilematch.ExtractTilePos(rel)
			if err != nil {
				tilematch.Logger().Warn("corpus: skipping file", "path", path, "err", err)
				return nil
			}
			out = append(out, Entry{Pos: pos, Rel: rel})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("%w: scan level %d: %w", ErrCorpus, z, err)
		}
	}
	tilematch.Logger().Debug("corpus: scanned", "levels", zs, "tiles", len(out))
	return out, nil
}

// Load scans levels zs and reads the gradient and quarter colour bytes of
// every tile. A missing file fails the whole load with a path in the error.
func (c *Corpus) Load(ctx context.Context, zs []uint32) ([]tilematch.Tile, error) {
	entries, err := c.Scan(zs)
	if err != nil {
		return nil, err
	}

	tiles := make([]tilematch.Tile, len(entries))
	g, ctx := errgroup.WithContext(ctx)
	workers := c.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(workers)
	for i, e := range entries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			full, err := c.read(filepath.Join(c.Root, GradDir, e.Rel))
			if err != nil {
				return err
			}
			quarter, err := c.read(filepath.Join(c.Root, QuarterDir, e.Rel))
			if err != nil {
				return err
			}
			tiles[i] = tilematch.NewTile(e.Pos, full, quarter)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	tilematch.Logger().Info("corpus: loaded", "tiles", len(tiles))
	return tiles, nil
}

func (c *Corpus) read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorpus, err)
	}
	return data, nil
}

// MaskPath returns the mask file of frame.
func (c *Corpus) MaskPath(frame uint32) string {
	return filepath.Join(c.Root, MaskDir, fmt.Sprintf("%s_%d.png", c.MaskPrefix, frame))
}

// Mask loads the query mask of frame.
func (c *Corpus) Mask(frame uint32) (*tilematch.Mask, error) {
	img, err := c.decodeFile(c.MaskPath(frame))
	if err != nil {
		return nil, err
	}
	return &tilematch.Mask{ID: frame, Image: toRGBA(img)}, nil
}

// Gradient loads the gradient tile at pos, resampled to its deformed width.
func (c *Corpus) Gradient(pos tilematch.TilePos) (*image.RGBA, error) {
	img, err := c.tileImage(GradDir, pos)
	if err != nil {
		return nil, err
	}
	w := int(tilematch.DeformWidth(tilematch.TileSize, pos.Y, pos.Z))
	return score.Resample(img, w, tilematch.TileSize), nil
}

// Colour loads the full resolution colour tile at pos with its no-data
// holes filled.
func (c *Corpus) Colour(pos tilematch.TilePos) (*image.RGBA, error) {
	img, err := c.tileImage(ColourDir, pos)
	if err != nil {
		return nil, err
	}
	rgba := toRGBA(img)
	if !FillNoData(rgba) {
		tilematch.Logger().Debug("corpus: no-data holes left unfilled", "tile", pos)
	}
	return rgba, nil
}

// Context returns the w×h context image for the frame after r: the colour
// tile of r at a quarter of its deformed size, sampled along the matched
// region.
func (c *Corpus) Context(r tilematch.PosResult, w, h int) (*image.RGBA, error) {
	if r.IsSentinel() {
		return nil, fmt.Errorf("%w: no tile chosen", ErrCorpus)
	}
	img, err := c.Colour(r.Tile)
	if err != nil {
		return nil, err
	}
	dw := int(tilematch.DeformWidth(tilematch.TileSize, r.Tile.Y, r.Tile.Z))
	small := score.Resample(img, max(1, dw/4), tilematch.TileSize/4)
	return QuarterCrop(small, r, w, h), nil
}

// QuarterCrop samples a quarter-scale tile along r into a w×h opaque image.
func QuarterCrop(small *image.RGBA, r tilematch.PosResult, w, h int) *image.RGBA {
	sw, sh := small.Rect.Dx(), small.Rect.Dy()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for yy := 0; yy < h; yy++ {
		sy := min(int((float32(r.Y)+float32(yy)*r.Zoom)/4), sh-1)
		for xx := 0; xx < w; xx++ {
			sx := min(int((float32(r.X)+float32(xx)*r.Zoom)/4), sw-1)
			px := small.RGBAAt(small.Rect.Min.X+sx, small.Rect.Min.Y+sy)
			px.A = 255
			out.SetRGBA(xx, yy, px)
		}
	}
	return out
}

func (c *Corpus) tileImage(tree string, pos tilematch.TilePos) (image.Image, error) {
	root := filepath.Join(c.Root, tree)
	for _, ext := range extensions {
		path := pos.Path(root, ext)
		if _, err := os.Stat(path); err == nil {
			return c.decodeFile(path)
		}
	}
	return nil, fmt.Errorf("%w: no %s tile at %s", ErrCorpus, tree, pos.Path(root, "png"))
}

func (c *Corpus) decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorpus, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrCorpus, path, err)
	}
	return img, nil
}

// SanityCheck warns about every missing tree level or mask directory and
// returns the warnings.
func (c *Corpus) SanityCheck(zs []uint32) []string {
	var warns []string
	check := func(path string) {
		if info, err := os.Stat(path); err != nil || !info.IsDir() {
			warns = append(warns, path)
			tilematch.Logger().Warn("corpus: missing directory", "path", path)
		}
	}
	for _, tree := range []string{GradDir, QuarterDir, ColourDir} {
		for _, z := range zs {
			check(filepath.Join(c.Root, tree, strconv.FormatUint(uint64(z), 10)))
		}
	}
	check(filepath.Join(c.Root, MaskDir))
	return warns
}

func hasTileExt(path string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Rect, img, b.Min, draw.Src)
	return out
}
