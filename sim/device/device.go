// Package device is the compute-domain binding the simulator runs on.
//
// It models the small slice of an accelerator API the round controller needs: a
// discovered device, a context that owns flat typed buffers, programs exposing named
// entry points, and a queue that launches a kernel over an explicit global/local
// (work-group) size and hands back a Completion to block on. The only device is the
// host CPU; work-groups are spread over at most ComputeUnits goroutines.
package device

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/pbnjay/memory"
)

var (
	// ErrDeviceUnavailable means no usable compute device was found.
	ErrDeviceUnavailable = errors.New("no compute device available")
	// ErrAllocation means a buffer could not be allocated in device memory.
	ErrAllocation = errors.New("device memory allocation failed")
	// ErrMissingEntryPoint means a program has no kernel with the requested name.
	ErrMissingEntryPoint = errors.New("missing kernel entry point")
	// ErrInvalidKernelArgs means kernel arguments did not match the entry point's layout.
	ErrInvalidKernelArgs = errors.New("invalid kernel arguments")
	// ErrDispatch means a kernel launch failed or a work-item faulted.
	ErrDispatch = errors.New("kernel dispatch failed")
)

// Device describes one compute device.
type Device struct {
	ID             int
	Name           string
	ComputeUnits   int    // max work-groups in flight
	GlobalMemBytes uint64 // 0 = unlimited
}

// Discover enumerates the compute devices visible to this process.
func Discover() ([]Device, error) {
	units := runtime.GOMAXPROCS(0)
	if units < 1 {
		return nil, ErrDeviceUnavailable
	}
	return []Device{{
		ID:             0,
		Name:           fmt.Sprintf("host-cpu/%s-%s", runtime.GOOS, runtime.GOARCH),
		ComputeUnits:   units,
		GlobalMemBytes: memory.TotalMemory(),
	}}, nil
}

// Context owns buffer allocations on a single device.
type Context struct {
	dev Device

	mu        sync.Mutex
	allocated uint64
	buffers   map[string]uint64
	released  bool
}

// NewContext creates a context bound to dev.
func NewContext(dev Device) (*Context, error) {
	if dev.ComputeUnits < 1 {
		return nil, fmt.Errorf("create context on %q: %w", dev.Name, ErrDeviceUnavailable)
	}
	return &Context{
		dev:     dev,
		buffers: make(map[string]uint64),
	}, nil
}

// Device returns the device this context is bound to.
func (c *Context) Device() Device { return c.dev }

// Allocated returns the bytes currently held by live buffers.
func (c *Context) Allocated() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allocated
}

// Release drops all buffer accounting. Buffers allocated from a released
// context must not be used again.
func (c *Context) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allocated = 0
	c.buffers = make(map[string]uint64)
	c.released = true
}

func (c *Context) isReleased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

func (c *Context) reserve(name string, bytes uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return fmt.Errorf("allocate %s: context released: %w", name, ErrAllocation)
	}
	if _, dup := c.buffers[name]; dup {
		return fmt.Errorf("allocate %s: name already in use: %w", name, ErrAllocation)
	}
	if limit := c.dev.GlobalMemBytes; limit > 0 && c.allocated+bytes > limit {
		return fmt.Errorf("allocate %s: %d bytes requested, %d of %d in use: %w",
			name, bytes, c.allocated, limit, ErrAllocation)
	}
	c.allocated += bytes
	c.buffers[name] = bytes
	return nil
}

func (c *Context) free(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bytes, ok := c.buffers[name]; ok {
		c.allocated -= bytes
		delete(c.buffers, name)
	}
}
