//go:build !nogpu

package gpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu"
)

// Backend errors.
var (
	// ErrNoAdapter is returned when no WebGPU adapter or device is available.
	ErrNoAdapter = errors.New("gpu: no usable adapter")

	// ErrKernelCompile is returned when a kernel fails naga validation or
	// pipeline creation.
	ErrKernelCompile = errors.New("gpu: kernel compile failed")

	// ErrDeviceLost is returned when work can no longer be submitted.
	ErrDeviceLost = errors.New("gpu: device lost")
)

// Options configures device acquisition.
type Options struct {
	// Provider shares a host application's device. If nil a device is created.
	Provider gpucontext.DeviceProvider

	// ForceFallback requests the software adapter.
	ForceFallback bool
}

// Device is an open WebGPU device and its queue.
type Device struct {
	Device *wgpu.Device
	Queue  *wgpu.Queue
	Info   gputypes.AdapterInfo

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	owned    bool
}

// OpenDevice returns the provider's device, or creates one on the best
// available adapter.
func OpenDevice(opts Options) (*Device, error) {
	if opts.Provider != nil {
		return fromProvider(opts.Provider)
	}

	inst, err := wgpu.CreateInstance(&wgpu.InstanceDescriptor{Backends: wgpu.BackendsPrimary})
	if err != nil {
		return nil, fmt.Errorf("%w: create instance: %w", ErrNoAdapter, err)
	}
	adapter, err := inst.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference:      wgpu.PowerPreferenceHighPerformance,
		ForceFallbackAdapter: opts.ForceFallback,
	})
	if err != nil {
		inst.Release()
		return nil, fmt.Errorf("%w: request adapter: %w", ErrNoAdapter, err)
	}
	dev, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{Label: "tilematch"})
	if err != nil {
		adapter.Release()
		inst.Release()
		return nil, fmt.Errorf("%w: request device: %w", ErrNoAdapter, err)
	}

	d := &Device{
		Device:   dev,
		Queue:    dev.Queue(),
		Info:     adapter.Info(),
		instance: inst,
		adapter:  adapter,
		owned:    true,
	}
	slogger().Info("gpu: adapter selected",
		"name", d.Info.Name, "vendor", d.Info.Vendor, "type", d.Info.DeviceType)
	return d, nil
}

func fromProvider(p gpucontext.DeviceProvider) (*Device, error) {
	dev, ok := p.Device().(*wgpu.Device)
	if !ok || dev == nil {
		return nil, fmt.Errorf("%w: provider device is %T", ErrNoAdapter, p.Device())
	}
	q, ok := p.Queue().(*wgpu.Queue)
	if !ok || q == nil {
		q = dev.Queue()
	}
	info := p.AdapterInfo()
	slogger().Info("gpu: using shared device", "name", info.Name, "type", info.Type)
	return &Device{Device: dev, Queue: q, Info: gputypes.AdapterInfo{Name: info.Name}}, nil
}

// Close waits for the queue to drain and releases the device if it was
// created by OpenDevice. Shared devices are left open.
func (d *Device) Close() error {
	err := d.Device.WaitIdle()
	if !d.owned {
		return err
	}
	d.Device.Release()
	d.adapter.Release()
	d.instance.Release()
	return err
}
