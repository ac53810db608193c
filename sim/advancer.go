package sim

import (
	"context"
	"fmt"

	"github.com/inference-sim/phold-sim/sim/device"
)

// LPTable holds per-LP state on the device, indexed by LP number.
type LPTable struct {
	RNG         *device.Buffer[RNGState] // rng_state
	CurrentTime *device.Buffer[float32]  // lp_current_time
	Processed   *device.Buffer[uint32]   // events_processed
	LBTS        *device.Buffer[float32]  // current_lbts, a single cell
}

// NewLPTable allocates state for numLPs LPs.
func NewLPTable(c *device.Context, numLPs int) (*LPTable, error) {
	t := &LPTable{}
	var err error
	if t.Processed, err = device.Alloc[uint32](c, "d_events_processed", numLPs); err != nil {
		return nil, err
	}
	if t.CurrentTime, err = device.Alloc[float32](c, "d_lp_current_time", numLPs); err != nil {
		t.Release()
		return nil, err
	}
	if t.RNG, err = device.Alloc[RNGState](c, "d_random_state", numLPs); err != nil {
		t.Release()
		return nil, err
	}
	if t.LBTS, err = device.Alloc[float32](c, "d_current_lbts", 1); err != nil {
		t.Release()
		return nil, err
	}
	return t, nil
}

// Release frees whatever buffers were allocated.
func (t *LPTable) Release() {
	t.Processed.Release()
	t.CurrentTime.Release()
	t.RNG.Release()
	t.LBTS.Release()
}

// LPAdvancer launches the kernels that mutate LP state: initialization and the
// per-round advance that consumes eligible events at the LBTS.
type LPAdvancer struct {
	rt     *Runtime
	lps    *LPTable
	store  *EventStore
	params WorkloadParams
}

// NewLPAdvancer binds the advancer to its buffers.
func NewLPAdvancer(rt *Runtime, lps *LPTable, store *EventStore, params WorkloadParams) *LPAdvancer {
	return &LPAdvancer{rt: rt, lps: lps, store: store, params: params}
}

// Initialize seeds every LP and writes its first event.
func (a *LPAdvancer) Initialize(ctx context.Context) error {
	err := a.rt.Launch(ctx, EntryInitializeSimulator, a.params.NumLPs,
		a.lps.RNG, a.lps.CurrentTime, a.store.Time, a.store.Target, a.lps.Processed,
		a.store.Generation(), a.params)
	if err != nil {
		return fmt.Errorf("initializeSimulator: %w", err)
	}
	return nil
}

// Advance consumes every eligible event at lbts and generates its successor, then
// makes the freshly written generation current.
func (a *LPAdvancer) Advance(ctx context.Context, lbts float32) error {
	if err := a.lps.LBTS.Upload(0, []float32{lbts}); err != nil {
		return fmt.Errorf("simulatorRun: %w", err)
	}
	err := a.rt.Launch(ctx, EntrySimulatorRun, a.params.NumLPs,
		a.lps.RNG, a.lps.CurrentTime, a.store.Time, a.store.Target, a.lps.LBTS, a.lps.Processed,
		a.store.Eligible, a.store.Generation(), a.params)
	if err != nil {
		return fmt.Errorf("simulatorRun: %w", err)
	}
	a.store.Toggle()
	return nil
}
