package device

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// WorkGroupFunc executes the work-items with global ids in [first, last).
// One call covers exactly one work-group.
type WorkGroupFunc func(first, last int)

// KernelFunc binds a kernel's argument list, returning the work-group body.
// Bind errors should wrap ErrInvalidKernelArgs.
type KernelFunc func(args []any) (WorkGroupFunc, error)

// Program is a set of named entry points.
type Program struct {
	entries map[string]KernelFunc
	built   bool
}

// NewProgram creates a program from its entry points.
func NewProgram(entries map[string]KernelFunc) *Program {
	return &Program{entries: entries}
}

// Build readies the program for launches on c.
func (p *Program) Build(c *Context) error {
	if c == nil || c.isReleased() {
		return fmt.Errorf("build program: %w", ErrDeviceUnavailable)
	}
	if len(p.entries) == 0 {
		return fmt.Errorf("build program: no entry points: %w", ErrMissingEntryPoint)
	}
	for name, fn := range p.entries {
		if fn == nil {
			return fmt.Errorf("build program: entry point %s has no body: %w", name, ErrMissingEntryPoint)
		}
	}
	p.built = true
	return nil
}

// Kernel returns the named entry point of a built program.
func (p *Program) Kernel(name string) (*Kernel, error) {
	if !p.built {
		return nil, fmt.Errorf("create kernel %s: program not built: %w", name, ErrMissingEntryPoint)
	}
	fn, ok := p.entries[name]
	if !ok {
		return nil, fmt.Errorf("create kernel %s: %w", name, ErrMissingEntryPoint)
	}
	return &Kernel{name: name, fn: fn}, nil
}

// Kernel is an entry point with its arguments bound.
type Kernel struct {
	name string
	fn   KernelFunc
	body WorkGroupFunc
}

// Name returns the entry point name.
func (k *Kernel) Name() string { return k.name }

// SetArgs binds the full argument list, replacing any previous binding.
func (k *Kernel) SetArgs(args ...any) error {
	body, err := k.fn(args)
	if err != nil {
		k.body = nil
		return fmt.Errorf("set args %s: %w", k.name, err)
	}
	k.body = body
	return nil
}

// Queue launches kernels on a context's device.
type Queue struct {
	c *Context
}

// NewQueue creates a command queue on c.
func NewQueue(c *Context) (*Queue, error) {
	if c == nil || c.isReleased() {
		return nil, fmt.Errorf("create queue: %w", ErrDeviceUnavailable)
	}
	return &Queue{c: c}, nil
}

// Completion tracks one in-flight launch.
type Completion struct {
	done chan struct{}
	err  error
}

// Wait blocks until every work-group of the launch has finished and its writes are visible.
func (c *Completion) Wait() error {
	<-c.done
	return c.err
}

// EnqueueNDRange launches k over global work-items in work-groups of local items.
// The last group may be partial. Groups run on at most ComputeUnits goroutines.
func (q *Queue) EnqueueNDRange(ctx context.Context, k *Kernel, global, local int) (*Completion, error) {
	if k == nil || k.body == nil {
		return nil, fmt.Errorf("enqueue: kernel arguments not set: %w", ErrInvalidKernelArgs)
	}
	if global < 0 || local < 1 {
		return nil, fmt.Errorf("enqueue %s: global=%d local=%d: %w", k.name, global, local, ErrDispatch)
	}
	if q.c.isReleased() {
		return nil, fmt.Errorf("enqueue %s: context released: %w", k.name, ErrDispatch)
	}

	comp := &Completion{done: make(chan struct{})}
	body := k.body
	units := q.c.dev.ComputeUnits
	go func() {
		defer close(comp.done)
		comp.err = dispatch(ctx, k.name, body, global, local, units)
	}()
	return comp, nil
}

func dispatch(ctx context.Context, name string, body WorkGroupFunc, global, local, units int) error {
	groups := (global + local - 1) / local
	if groups == 0 {
		return nil
	}
	workers := min(units, groups)
	span := (groups + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		firstGroup := w * span
		lastGroup := min(firstGroup+span, groups)
		if firstGroup >= lastGroup {
			break
		}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%s: work-item fault: %v: %w", name, r, ErrDispatch)
				}
			}()
			for grp := firstGroup; grp < lastGroup; grp++ {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				first := grp * local
				body(first, min(first+local, global))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("run %s: %w", name, err)
	}
	return nil
}

// Arg extracts argument i as T, reporting a layout mismatch as ErrInvalidKernelArgs.
func Arg[T any](args []any, i int, name string) (T, error) {
	var zero T
	if i >= len(args) {
		return zero, fmt.Errorf("argument %d (%s) missing: %w", i, name, ErrInvalidKernelArgs)
	}
	v, ok := args[i].(T)
	if !ok {
		return zero, fmt.Errorf("argument %d (%s) has type %T, want %T: %w", i, name, args[i], zero, ErrInvalidKernelArgs)
	}
	return v, nil
}

// Arity checks the argument count.
func Arity(args []any, want int) error {
	if len(args) != want {
		return fmt.Errorf("got %d arguments, want %d: %w", len(args), want, ErrInvalidKernelArgs)
	}
	return nil
}
