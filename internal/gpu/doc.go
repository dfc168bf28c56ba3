//go:build !nogpu

// Package gpu is the WebGPU scoring backend.
//
// It uploads each decoded batch into a 2048×2048 three-level atlas texture,
// runs the match compute kernel once per query and reads the packed score
// textures back through a fixed pool of mappable staging buffers. Kernels are
// validated with naga before they reach the device and can be hot-reloaded
// from a directory during development.
//
// The package registers itself as the "gpu" backend of engine.Backends when
// linked. Build with the nogpu tag to leave it out.
package gpu
