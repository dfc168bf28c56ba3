//go:build !nogpu

package gpu

import (
	// Registers the Vulkan, GLES and software HAL backends.
	_ "github.com/gogpu/wgpu/hal/allbackends"

	"github.com/gogpu/tilematch"
	"github.com/gogpu/tilematch/internal/engine"
)

func init() {
	tilematch.RegisterLoggerSink(setLogger)
	engine.Backends.Register("gpu", func() engine.Factory {
		return func(opts engine.BackendOptions) (engine.Scorer, error) {
			return NewScorer(opts)
		}
	})
}
