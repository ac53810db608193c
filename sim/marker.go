package sim

import (
	"context"
	"fmt"
	"math"

	"github.com/inference-sim/phold-sim/sim/device"
	"github.com/inference-sim/phold-sim/sim/sortprim"
)

// EligibilityMarker flags, for every LP, the single earliest event targeting it.
//
// Cells are ordered by a stable sort on the composite key (target LP, time); the
// popped payload is the cell order, uploaded for markNextEventByLP which flags
// the first cell of each LP's run. Ties on (LP, time) go to the lower cell index.
type EligibilityMarker struct {
	rt    *Runtime
	store *EventStore

	sorter   *sortprim.Sorter[uint64]
	keys     []uint64
	order    []uint32
	orderBuf *device.Buffer[uint32]
}

// NewEligibilityMarker sizes the sort scratch and order buffer for store.
func NewEligibilityMarker(rt *Runtime, store *EventStore, workers int) (*EligibilityMarker, error) {
	n := store.Len()
	sorter, err := sortprim.NewSorter[uint64](n, workers)
	if err != nil {
		return nil, err
	}
	orderBuf, err := device.Alloc[uint32](rt.Context, "d_sorted_order", n)
	if err != nil {
		return nil, err
	}
	return &EligibilityMarker{
		rt:       rt,
		store:    store,
		sorter:   sorter,
		keys:     make([]uint64, n),
		order:    make([]uint32, n),
		orderBuf: orderBuf,
	}, nil
}

// eventKey packs (target, time) so that unsigned order is LP-then-time order.
// Empty cells (target -1) map to the largest LP field and sort last. Times are
// non-negative, where IEEE-754 bit patterns order like the values.
func eventKey(target int32, t float32) uint64 {
	return uint64(uint32(target))<<32 | uint64(timeBits(t))
}

func timeBits(t float32) uint32 {
	if t == 0 {
		return 0 // fold -0 onto +0
	}
	return math.Float32bits(t)
}

const emptyKeyLP = uint64(math.MaxUint32)

// Mark orders the cells described by targets and times (the full 2N arrays) and
// runs markNextEventByLP over them.
func (m *EligibilityMarker) Mark(ctx context.Context, targets []int32, times []float32) error {
	if len(targets) != len(m.keys) || len(times) != len(m.keys) {
		return fmt.Errorf("markNextEventByLP: got %d targets and %d times, want %d", len(targets), len(times), len(m.keys))
	}
	for i := range m.keys {
		m.keys[i] = eventKey(targets[i], times[i])
	}
	if err := m.sorter.Push(m.keys); err != nil {
		return fmt.Errorf("event order push: %w", err)
	}
	if err := m.sorter.Sort(ctx); err != nil {
		return fmt.Errorf("event order sort: %w", err)
	}
	if _, err := m.sorter.Pop(m.keys, m.order); err != nil {
		return fmt.Errorf("event order pop: %w", err)
	}
	if err := m.orderBuf.Upload(0, m.order); err != nil {
		return fmt.Errorf("markNextEventByLP: %w", err)
	}
	if err := m.rt.Launch(ctx, EntryMarkNextEventByLP, len(m.order), m.store.Target, m.store.Eligible, m.orderBuf); err != nil {
		return fmt.Errorf("markNextEventByLP: %w", err)
	}
	return nil
}

// ReadyCount returns how many LPs have their eligible event exactly at lbts,
// read from the keys sorted by the last Mark. That is the number of LPs the
// following advance will move.
func (m *EligibilityMarker) ReadyCount(lbts float32) int {
	want := uint64(timeBits(lbts))
	count := 0
	for p, k := range m.keys {
		lp := k >> 32
		if lp == emptyKeyLP {
			break
		}
		if p > 0 && m.keys[p-1]>>32 == lp {
			continue
		}
		if k&math.MaxUint32 == want {
			count++
		}
	}
	return count
}

// Release frees the order buffer.
func (m *EligibilityMarker) Release() {
	m.orderBuf.Release()
}
