package sim

import (
	"context"
	"fmt"

	"github.com/inference-sim/phold-sim/sim/device"
)

// Runtime is the simulation's compute context: the device context, its command
// queue and the compiled kernels. It is owned by one Simulator, created at Init
// and released at termination, so independent simulations never share handles.
type Runtime struct {
	Context *device.Context

	queue         *device.Queue
	kernels       map[string]*device.Kernel
	workGroupSize int
}

// NewRuntime creates a context on dev and builds the kernel program.
func NewRuntime(dev device.Device, workGroupSize int) (*Runtime, error) {
	c, err := device.NewContext(dev)
	if err != nil {
		return nil, err
	}
	program := NewKernelProgram()
	if err := program.Build(c); err != nil {
		c.Release()
		return nil, err
	}
	kernels := make(map[string]*device.Kernel, 3)
	for _, name := range []string{EntryInitializeSimulator, EntryMarkNextEventByLP, EntrySimulatorRun} {
		k, err := program.Kernel(name)
		if err != nil {
			c.Release()
			return nil, err
		}
		kernels[name] = k
	}
	q, err := device.NewQueue(c)
	if err != nil {
		c.Release()
		return nil, err
	}
	return &Runtime{
		Context:       c,
		queue:         q,
		kernels:       kernels,
		workGroupSize: workGroupSize,
	}, nil
}

// Launch binds args to the entry point, dispatches global work-items and blocks
// until the launch completes.
func (r *Runtime) Launch(ctx context.Context, entry string, global int, args ...any) error {
	k, ok := r.kernels[entry]
	if !ok {
		return fmt.Errorf("launch %s: %w", entry, device.ErrMissingEntryPoint)
	}
	if err := k.SetArgs(args...); err != nil {
		return err
	}
	comp, err := r.queue.EnqueueNDRange(ctx, k, global, r.workGroupSize)
	if err != nil {
		return err
	}
	return comp.Wait()
}

// Release destroys the device context.
func (r *Runtime) Release() {
	r.Context.Release()
}
