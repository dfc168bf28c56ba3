package engine

import (
	"fmt"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/tilematch"
	"github.com/gogpu/tilematch/internal/score"
)

// BackendOptions configures a scorer created through the registry.
type BackendOptions struct {
	Layout score.Layout
	Kernel score.KernelParams

	// Window is the in-flight window of the search the scorer will serve.
	// Backends provision (Window+1) staging buffers per query.
	Window int

	// KernelDir, if set, is searched for <kernel>.wgsl before the embedded
	// kernels and watched for changes.
	KernelDir string

	// Provider shares an existing device with the GPU backend. If nil the
	// backend creates its own.
	Provider gpucontext.DeviceProvider
}

// Factory creates a scorer.
type Factory func(BackendOptions) (Scorer, error)

// priority is the order NewScorer tries backends in.
var priority = []string{"gpu", "cpu"}

// Backends holds every compiled-in scorer. The GPU backend registers itself
// when its package is linked; the CPU backend is always available.
var Backends = gpucontext.NewRegistry[Factory](gpucontext.WithPriority(priority...))

func init() {
	Backends.Register("cpu", func() Factory {
		return func(opts BackendOptions) (Scorer, error) {
			return NewCPUScorer(opts)
		}
	})
}

// NewScorer creates the named backend. An empty name selects the best
// available backend, falling back down the priority list when one fails to
// initialize (for example, no GPU adapter).
func NewScorer(name string, opts BackendOptions) (Scorer, string, error) {
	if name != "" {
		if !Backends.Has(name) {
			return nil, "", fmt.Errorf("%w: %q (available: %v)", ErrUnknownBackend, name, Backends.Available())
		}
		s, err := Backends.Get(name)(opts)
		if err != nil {
			return nil, "", fmt.Errorf("engine: backend %s: %w", name, err)
		}
		return s, name, nil
	}

	var errs []error
	for _, n := range priority {
		if !Backends.Has(n) {
			continue
		}
		s, err := Backends.Get(n)(opts)
		if err == nil {
			return s, n, nil
		}
		tilematch.Logger().Warn("engine: backend unavailable", "backend", n, "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", n, err))
	}
	return nil, "", fmt.Errorf("%w: no usable backend: %v", ErrUnknownBackend, errs)
}
