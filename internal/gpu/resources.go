// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !nogpu

package gpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu"

	"github.com/gogpu/tilematch/internal/pool"
)

// Image is a 2D texture with a view of every mip level and one of the whole
// chain.
type Image struct {
	Texture *wgpu.Texture
	View    *wgpu.TextureView
	Mips    []*wgpu.TextureView
	Width   uint32
	Height  uint32
	Format  gputypes.TextureFormat
}

func (img *Image) release() {
	for _, v := range img.Mips {
		v.Release()
	}
	img.View.Release()
	img.Texture.Release()
}

type imageKey struct {
	label  string
	format gputypes.TextureFormat
	w, h   uint32
	mips   uint32
}

// ResourcePool owns every texture and staging buffer the backend creates.
// Nothing it hands out outlives Close.
type ResourcePool struct {
	device *wgpu.Device
	images *pool.Arena[imageKey, *Image]

	mu         sync.Mutex
	buffers    *pool.Staging[*wgpu.Buffer]
	all        []*wgpu.Buffer
	bufferSize uint64
}

// NewResourcePool creates an empty pool on device.
func NewResourcePool(device *wgpu.Device) *ResourcePool {
	return &ResourcePool{
		device: device,
		images: pool.NewArena[imageKey](func(img *Image) { img.release() }),
	}
}

// imageUsage returns the usage flags for a texture format. Storage formats
// are pass outputs; everything else is uploaded and sampled.
func imageUsage(format gputypes.TextureFormat) wgpu.TextureUsage {
	switch format {
	case gputypes.TextureFormatR32Uint, gputypes.TextureFormatRG32Float:
		return wgpu.TextureUsageStorageBinding | wgpu.TextureUsageCopySrc
	default:
		return wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst
	}
}

// AcquireImage returns the image for (label, format, w, h, mips), creating it
// on first use. Repeated calls with the same key return the same image.
func (p *ResourcePool) AcquireImage(label string, format gputypes.TextureFormat, w, h, mips uint32) (*Image, error) {
	key := imageKey{label: label, format: format, w: w, h: h, mips: max(mips, 1)}
	return p.images.GetOrCreate(key, func() (*Image, error) {
		return p.createImage(key)
	})
}

func (p *ResourcePool) createImage(k imageKey) (*Image, error) {
	tex, err := p.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         k.label,
		Size:          wgpu.Extent3D{Width: k.w, Height: k.h, DepthOrArrayLayers: 1},
		MipLevelCount: k.mips,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        k.format,
		Usage:         imageUsage(k.format),
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create texture %s %dx%d: %w", k.label, k.w, k.h, err)
	}

	img := &Image{Texture: tex, Width: k.w, Height: k.h, Format: k.format}
	view := func(base, count uint32) (*wgpu.TextureView, error) {
		return p.device.CreateTextureView(tex, &wgpu.TextureViewDescriptor{
			Label:           k.label,
			Format:          k.format,
			Dimension:       gputypes.TextureViewDimension2D,
			Aspect:          gputypes.TextureAspectAll,
			BaseMipLevel:    base,
			MipLevelCount:   count,
			ArrayLayerCount: 1,
		})
	}
	if img.View, err = view(0, k.mips); err != nil {
		tex.Release()
		return nil, fmt.Errorf("gpu: create view %s: %w", k.label, err)
	}
	for level := uint32(0); level < k.mips; level++ {
		v, err := view(level, 1)
		if err != nil {
			img.release()
			return nil, fmt.Errorf("gpu: create view %s mip %d: %w", k.label, level, err)
		}
		img.Mips = append(img.Mips, v)
	}

	slogger().Debug("gpu: image created", "label", k.label, "format", k.format,
		"width", k.w, "height", k.h, "mips", k.mips)
	return img, nil
}

// ProvisionStaging replaces the staging buffer pool with n mappable buffers
// of size bytes. Every buffer of the previous pool must have been released.
func (p *ResourcePool) ProvisionStaging(n int, size uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.buffers != nil {
		if out := p.buffers.Outstanding(); out > 0 {
			return fmt.Errorf("gpu: %d staging buffers outstanding while resizing", out)
		}
		for _, b := range p.all {
			b.Release()
		}
		p.buffers, p.all = nil, nil
	}

	all := make([]*wgpu.Buffer, 0, n)
	for i := 0; i < n; i++ {
		b, err := p.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: fmt.Sprintf("staging-%d", i),
			Size:  size,
			Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			for _, b := range all {
				b.Release()
			}
			return fmt.Errorf("gpu: create staging buffer %d: %w", i, err)
		}
		all = append(all, b)
	}
	p.buffers = pool.NewStaging(all)
	p.all = all
	p.bufferSize = size
	slogger().Debug("gpu: staging provisioned", "buffers", p.buffers.Capacity(), "bytes", size)
	return nil
}

// AcquireStagingBuffer takes a free staging buffer of at least size bytes.
// The pool is never grown: exhaustion returns pool.ErrPoolExhausted.
func (p *ResourcePool) AcquireStagingBuffer(size uint64) (*wgpu.Buffer, error) {
	p.mu.Lock()
	buffers, have := p.buffers, p.bufferSize
	p.mu.Unlock()
	if buffers == nil {
		return nil, fmt.Errorf("gpu: %w: staging not provisioned", pool.ErrPoolExhausted)
	}
	if size > have {
		return nil, fmt.Errorf("gpu: staging request of %d bytes exceeds buffer size %d", size, have)
	}
	return buffers.Acquire()
}

// ReleaseBuffer returns a staging buffer to the pool.
func (p *ResourcePool) ReleaseBuffer(buf *wgpu.Buffer) error {
	p.mu.Lock()
	buffers := p.buffers
	p.mu.Unlock()
	if buffers == nil {
		return pool.ErrPoolOverflow
	}
	return buffers.Release(buf)
}

// Close releases every image and staging buffer.
func (p *ResourcePool) Close() {
	p.images.Close()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.all {
		b.Release()
	}
	p.buffers, p.all = nil, nil
}
