// Package pool provides the two ownership primitives of the resource pool.
//
// [Staging] is a fixed-capacity free list of pre-allocated items, such as the
// host-readable buffers score outputs are copied into. Running out of items is
// an error, never an allocation: the in-flight window keeps demand below
// supply, so exhaustion means the window and the pool were mis-sized.
//
// [Arena] is an owning registry of lazily created values indexed by a small
// comparable key. Every value it creates is destroyed by [Arena.Close], so
// long-lived device objects (textures, pipelines) have a single owner.
package pool
