//go:build !nogpu

package gpu

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu"

	"github.com/gogpu/tilematch/internal/pool"
	"github.com/gogpu/tilematch/internal/score"
)

//go:embed kernels/*.wgsl
var embeddedKernels embed.FS

// outputDirective marks where the output binding and store helper go.
const outputDirective = "//#output"

// PipelineKey identifies a compute pipeline. Inputs is the number of input
// bindings; the output texture is bound right after them.
type PipelineKey struct {
	Kernel string
	Format score.Format
	Inputs int
}

// Pipeline is a compiled kernel. Layout objects are shared by every revision
// of the same key so bind groups survive a hot reload.
type Pipeline struct {
	Key             PipelineKey
	BindGroupLayout *wgpu.BindGroupLayout
	Compute         *wgpu.ComputePipeline

	module  *wgpu.ShaderModule
	modTime time.Time
}

func (p *Pipeline) release() {
	p.Compute.Release()
	p.module.Release()
}

type layouts struct {
	group    *wgpu.BindGroupLayout
	pipeline *wgpu.PipelineLayout
}

// PipelineCache compiles kernels on first use and rebuilds them when their
// source file changes.
type PipelineCache struct {
	device *wgpu.Device
	dir    string

	pipelines *pool.Arena[PipelineKey, *Pipeline]
	layouts   *pool.Arena[PipelineKey, *layouts]

	mu     sync.Mutex
	failed reloadFailures
}

// reloadFailures holds, per pipeline, the kernel revision whose rebuild last
// failed.
type reloadFailures map[PipelineKey]time.Time

// fail records a failed rebuild of key at revision mod and reports whether
// it is the first failure seen for that revision.
func (f reloadFailures) fail(key PipelineKey, mod time.Time) bool {
	if last, ok := f[key]; ok && last.Equal(mod) {
		return false
	}
	f[key] = mod
	return true
}

// NewPipelineCache creates a cache. If dir is empty only embedded kernels are
// used and Refresh is a no-op.
func NewPipelineCache(device *wgpu.Device, dir string) *PipelineCache {
	return &PipelineCache{
		device:    device,
		dir:       dir,
		pipelines: pool.NewArena[PipelineKey](func(p *Pipeline) { p.release() }),
		layouts: pool.NewArena[PipelineKey](func(l *layouts) {
			l.pipeline.Release()
			l.group.Release()
		}),
		failed: make(reloadFailures),
	}
}

// Get returns the pipeline for key, compiling it on first use. A compile
// failure wraps ErrKernelCompile.
func (c *PipelineCache) Get(key PipelineKey) (*Pipeline, error) {
	return c.pipelines.GetOrCreate(key, func() (*Pipeline, error) {
		src, mod, err := loadKernel(c.dir, key.Kernel)
		if err != nil {
			return nil, err
		}
		p, err := c.build(key, src)
		if err != nil {
			return nil, err
		}
		p.modTime = mod
		slogger().Debug("gpu: pipeline built", "kernel", key.Kernel, "format", key.Format)
		return p, nil
	})
}

// Refresh rebuilds every cached pipeline whose kernel file changed. A failed
// rebuild keeps the previous pipeline and warns once per file revision.
func (c *PipelineCache) Refresh() {
	if c.dir == "" {
		return
	}
	type stale struct {
		key PipelineKey
		mod time.Time
	}
	var todo []stale
	c.pipelines.Range(func(k PipelineKey, p *Pipeline) bool {
		info, err := os.Stat(kernelPath(c.dir, k.Kernel))
		if err == nil && !info.ModTime().Equal(p.modTime) {
			todo = append(todo, stale{k, info.ModTime()})
		}
		return true
	})

	for _, s := range todo {
		if err := c.rebuild(s.key, s.mod); err != nil {
			c.mu.Lock()
			first := c.failed.fail(s.key, s.mod)
			c.mu.Unlock()
			if first {
				slogger().Warn("gpu: kernel reload failed, keeping previous pipeline",
					"kernel", s.key.Kernel, "err", err)
			}
			continue
		}
		c.mu.Lock()
		delete(c.failed, s.key)
		c.mu.Unlock()
		slogger().Info("gpu: kernel reloaded", "kernel", s.key.Kernel)
	}
}

func (c *PipelineCache) rebuild(key PipelineKey, mod time.Time) error {
	src, err := os.ReadFile(kernelPath(c.dir, key.Kernel))
	if err != nil {
		return err
	}
	p, err := c.build(key, string(src))
	if err != nil {
		return err
	}
	p.modTime = mod
	c.pipelines.Replace(key, p)
	return nil
}

func (c *PipelineCache) build(key PipelineKey, src string) (*Pipeline, error) {
	code, err := Preprocess(src, key.Format, key.Inputs)
	if err != nil {
		return nil, err
	}
	if err := ValidateKernel(code); err != nil {
		return nil, fmt.Errorf("%s: %w", key.Kernel, err)
	}

	l, err := c.layouts.GetOrCreate(key, func() (*layouts, error) {
		return c.createLayouts(key)
	})
	if err != nil {
		return nil, err
	}

	c.device.PushErrorScope(wgpu.ErrorFilterValidation)
	module, err := c.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{Label: key.Kernel, WGSL: code})
	if err != nil {
		c.device.PopErrorScope()
		return nil, fmt.Errorf("%w: %s: shader module: %w", ErrKernelCompile, key.Kernel, err)
	}
	compute, err := c.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:      key.Kernel,
		Layout:     l.pipeline,
		Module:     module,
		EntryPoint: "main",
	})
	if scopeErr := c.device.PopErrorScope(); scopeErr != nil && err == nil {
		err = scopeErr
	}
	if err != nil {
		if compute != nil {
			compute.Release()
		}
		module.Release()
		return nil, fmt.Errorf("%w: %s: pipeline: %w", ErrKernelCompile, key.Kernel, err)
	}

	return &Pipeline{Key: key, BindGroupLayout: l.group, Compute: compute, module: module}, nil
}

func (c *PipelineCache) createLayouts(key PipelineKey) (*layouts, error) {
	entries := make([]gputypes.BindGroupLayoutEntry, 0, key.Inputs+1)
	for i := 0; i < key.Inputs-1; i++ {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    uint32(i),
			Visibility: gputypes.ShaderStageCompute,
			Texture: &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: gputypes.TextureViewDimension2D,
			},
		})
	}
	entries = append(entries,
		gputypes.BindGroupLayoutEntry{
			Binding:    uint32(key.Inputs - 1),
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
		},
		gputypes.BindGroupLayoutEntry{
			Binding:    uint32(key.Inputs),
			Visibility: gputypes.ShaderStageCompute,
			StorageTexture: &gputypes.StorageTextureBindingLayout{
				Access:        gputypes.StorageTextureAccessWriteOnly,
				Format:        outputFormat(key.Format),
				ViewDimension: gputypes.TextureViewDimension2D,
			},
		},
	)

	group, err := c.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{Label: key.Kernel, Entries: entries})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: bind group layout: %w", ErrKernelCompile, key.Kernel, err)
	}
	pl, err := c.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            key.Kernel,
		BindGroupLayouts: []*wgpu.BindGroupLayout{group},
	})
	if err != nil {
		group.Release()
		return nil, fmt.Errorf("%w: %s: pipeline layout: %w", ErrKernelCompile, key.Kernel, err)
	}
	return &layouts{group: group, pipeline: pl}, nil
}

// Close releases every pipeline and layout.
func (c *PipelineCache) Close() {
	c.pipelines.Close()
	c.layouts.Close()
}

// Stats returns the pipeline lookup statistics.
func (c *PipelineCache) Stats() pool.ArenaStats { return c.pipelines.Stats() }

func kernelPath(dir, kernel string) string {
	return filepath.Join(dir, kernel+".wgsl")
}

// loadKernel reads <dir>/<kernel>.wgsl, falling back to the embedded copy
// when dir is empty or has no such file.
func loadKernel(dir, kernel string) (string, time.Time, error) {
	if dir != "" {
		path := kernelPath(dir, kernel)
		info, err := os.Stat(path)
		switch {
		case err == nil:
			src, err := os.ReadFile(path)
			if err != nil {
				return "", time.Time{}, err
			}
			return string(src), info.ModTime(), nil
		case !errors.Is(err, fs.ErrNotExist):
			return "", time.Time{}, err
		}
	}
	src, err := embeddedKernels.ReadFile("kernels/" + kernel + ".wgsl")
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: unknown kernel %q", ErrKernelCompile, kernel)
	}
	return string(src), time.Time{}, nil
}

func outputFormat(f score.Format) gputypes.TextureFormat {
	if f == score.FormatF32 {
		return gputypes.TextureFormatRG32Float
	}
	return gputypes.TextureFormatR32Uint
}

// Preprocess replaces the output directive of a kernel with the storage
// texture declaration at binding and a store_result helper for format.
func Preprocess(src string, format score.Format, binding int) (string, error) {
	if strings.Count(src, outputDirective) != 1 {
		return "", fmt.Errorf("%w: want exactly one %s directive", ErrKernelCompile, outputDirective)
	}

	var out string
	switch format {
	case score.FormatPacked:
		out = fmt.Sprintf(`@group(0) @binding(%d) var out_tex: texture_storage_2d<r32uint, write>;

fn store_result(coord: vec2<i32>, score: f32, zoom: f32) {
    textureStore(out_tex, coord, vec4<u32>(pack2x16float(vec2<f32>(score, zoom)), 0u, 0u, 0u));
}`, binding)
	case score.FormatF32:
		out = fmt.Sprintf(`@group(0) @binding(%d) var out_tex: texture_storage_2d<rg32float, write>;

fn store_result(coord: vec2<i32>, score: f32, zoom: f32) {
    textureStore(out_tex, coord, vec4<f32>(score, zoom, 0.0, 1.0));
}`, binding)
	default:
		return "", fmt.Errorf("%w: output format %v", ErrKernelCompile, format)
	}
	return strings.Replace(src, outputDirective, out, 1), nil
}

// ValidateKernel runs naga's parser, lowering and validator over code.
func ValidateKernel(code string) error {
	ast, err := naga.Parse(code)
	if err != nil {
		return fmt.Errorf("%w: parse: %w", ErrKernelCompile, err)
	}
	mod, err := naga.LowerWithSource(ast, code)
	if err != nil {
		return fmt.Errorf("%w: lower: %w", ErrKernelCompile, err)
	}
	verrs, err := naga.Validate(mod)
	if err != nil {
		return fmt.Errorf("%w: validate: %w", ErrKernelCompile, err)
	}
	if len(verrs) > 0 {
		msgs := make([]string, len(verrs))
		for i, v := range verrs {
			msgs[i] = v.Message
			if v.Function != "" {
				msgs[i] = v.Function + ": " + v.Message
			}
		}
		return fmt.Errorf("%w: %s", ErrKernelCompile, strings.Join(msgs, "; "))
	}
	return nil
}
