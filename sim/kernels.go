package sim

import (
	"fmt"
	"math"

	"github.com/inference-sim/phold-sim/sim/device"
)

// Kernel entry points. Argument layouts (in order):
//
//	initializeSimulator(rng_state*, lp_current_time*, event_time*, event_lp_number*,
//	                    events_processed*, generation, params)
//	markNextEventByLP(event_lp_number*, next_event_flag*, sorted_order*)
//	simulatorRun(rng_state*, lp_current_time*, event_time*, event_lp_number*,
//	             current_lbts*, events_processed*, next_event_flag*, generation, params)
const (
	EntryInitializeSimulator = "initializeSimulator"
	EntryMarkNextEventByLP   = "markNextEventByLP"
	EntrySimulatorRun        = "simulatorRun"
)

// WorkloadParams is the constant block shared by the init and run kernels.
// It fixes the PHOLD workload: successor delay is Lookahead + Exp(MeanDelay);
// the successor targets the processing LP with probability LocalRate and a
// uniformly chosen LP otherwise.
type WorkloadParams struct {
	Key       SimulationKey
	NumLPs    int
	Lookahead float32
	MeanDelay float32
	LocalRate float64
}

func newWorkloadParams(cfg Config) WorkloadParams {
	return WorkloadParams{
		Key:       NewSimulationKey(cfg.Seed),
		NumLPs:    cfg.NumLPs,
		Lookahead: cfg.Lookahead,
		MeanDelay: cfg.MeanDelay,
		LocalRate: cfg.LocalRate,
	}
}

func (p WorkloadParams) delay(st *RNGState) float64 {
	return float64(p.Lookahead) + st.ExpFloat64(float64(p.MeanDelay))
}

// successorTime rounds now+delay to float32 and keeps it strictly after now,
// so a delay below half an ulp of now still moves the LBTS forward.
func successorTime(now float32, delay float64) float32 {
	t := float32(float64(now) + delay)
	if t <= now {
		return math.Nextafter32(now, float32(math.Inf(1)))
	}
	return t
}

func (p WorkloadParams) nextTarget(st *RNGState, self int32) int32 {
	if st.Float64() < p.LocalRate {
		return self
	}
	return int32(st.Intn(p.NumLPs))
}

// NewKernelProgram returns the simulator's device program.
func NewKernelProgram() *device.Program {
	return device.NewProgram(map[string]device.KernelFunc{
		EntryInitializeSimulator: bindInitializeSimulator,
		EntryMarkNextEventByLP:   bindMarkNextEventByLP,
		EntrySimulatorRun:        bindSimulatorRun,
	})
}

func checkLen(name string, got, want int) error {
	if got != want {
		return fmt.Errorf("%s has length %d, want %d: %w", name, got, want, device.ErrInvalidKernelArgs)
	}
	return nil
}

func checkGeneration(gen int) error {
	if gen != 0 && gen != 1 {
		return fmt.Errorf("generation must be 0 or 1, got %d: %w", gen, device.ErrInvalidKernelArgs)
	}
	return nil
}

// bindInitializeSimulator: one work-item per LP. Seeds the LP's generator, zeroes
// its clock and counter, and writes its first event into its current-generation slot.
func bindInitializeSimulator(args []any) (device.WorkGroupFunc, error) {
	if err := device.Arity(args, 7); err != nil {
		return nil, err
	}
	rngBuf, err := device.Arg[*device.Buffer[RNGState]](args, 0, "rng_state")
	if err != nil {
		return nil, err
	}
	lpTimeBuf, err := device.Arg[*device.Buffer[float32]](args, 1, "lp_current_time")
	if err != nil {
		return nil, err
	}
	evTimeBuf, err := device.Arg[*device.Buffer[float32]](args, 2, "event_time")
	if err != nil {
		return nil, err
	}
	evLPBuf, err := device.Arg[*device.Buffer[int32]](args, 3, "event_lp_number")
	if err != nil {
		return nil, err
	}
	processedBuf, err := device.Arg[*device.Buffer[uint32]](args, 4, "events_processed")
	if err != nil {
		return nil, err
	}
	gen, err := device.Arg[int](args, 5, "generation")
	if err != nil {
		return nil, err
	}
	params, err := device.Arg[WorkloadParams](args, 6, "params")
	if err != nil {
		return nil, err
	}
	n := params.NumLPs
	for _, c := range []error{
		checkGeneration(gen),
		checkLen("rng_state", rngBuf.Len(), n),
		checkLen("lp_current_time", lpTimeBuf.Len(), n),
		checkLen("events_processed", processedBuf.Len(), n),
		checkLen("event_time", evTimeBuf.Len(), 2*n),
		checkLen("event_lp_number", evLPBuf.Len(), 2*n),
	} {
		if c != nil {
			return nil, c
		}
	}

	rng, lpTime := rngBuf.Device(), lpTimeBuf.Device()
	evTime, evLP, processed := evTimeBuf.Device(), evLPBuf.Device(), processedBuf.Device()
	cur, nxt := gen*n, (1-gen)*n
	return func(first, last int) {
		for lp := first; lp < last; lp++ {
			st := SeedRNGState(params.Key, lp)
			lpTime[lp] = 0
			processed[lp] = 0
			evLP[cur+lp] = int32(lp)
			evTime[cur+lp] = float32(params.delay(&st))
			evLP[nxt+lp] = EmptyTarget
			evTime[nxt+lp] = EmptyTime
			rng[lp] = st
		}
	}, nil
}

// bindMarkNextEventByLP: one work-item per sorted position. sorted_order lists
// cells ordered by (target LP, time), ties in cell order; the first cell of each
// LP's run is flagged eligible and every other cell is cleared.
func bindMarkNextEventByLP(args []any) (device.WorkGroupFunc, error) {
	if err := device.Arity(args, 3); err != nil {
		return nil, err
	}
	evLPBuf, err := device.Arg[*device.Buffer[int32]](args, 0, "event_lp_number")
	if err != nil {
		return nil, err
	}
	flagBuf, err := device.Arg[*device.Buffer[uint8]](args, 1, "next_event_flag")
	if err != nil {
		return nil, err
	}
	orderBuf, err := device.Arg[*device.Buffer[uint32]](args, 2, "sorted_order")
	if err != nil {
		return nil, err
	}
	n := evLPBuf.Len()
	if err := checkLen("next_event_flag", flagBuf.Len(), n); err != nil {
		return nil, err
	}
	if err := checkLen("sorted_order", orderBuf.Len(), n); err != nil {
		return nil, err
	}

	evLP, flags, order := evLPBuf.Device(), flagBuf.Device(), orderBuf.Device()
	return func(first, last int) {
		for p := first; p < last; p++ {
			cell := order[p]
			lp := evLP[cell]
			var flag uint8
			if lp != EmptyTarget && (p == 0 || evLP[order[p-1]] != lp) {
				flag = 1
			}
			flags[cell] = flag
		}
	}, nil
}

// bindSimulatorRun: one work-item per slot. If the current-generation event in
// the slot is eligible and sits exactly at the LBTS, its LP consumes it and the
// successor goes into the slot's next-generation cell; otherwise the event is
// carried forward unchanged. The current cell is emptied either way.
func bindSimulatorRun(args []any) (device.WorkGroupFunc, error) {
	if err := device.Arity(args, 9); err != nil {
		return nil, err
	}
	rngBuf, err := device.Arg[*device.Buffer[RNGState]](args, 0, "rng_state")
	if err != nil {
		return nil, err
	}
	lpTimeBuf, err := device.Arg[*device.Buffer[float32]](args, 1, "lp_current_time")
	if err != nil {
		return nil, err
	}
	evTimeBuf, err := device.Arg[*device.Buffer[float32]](args, 2, "event_time")
	if err != nil {
		return nil, err
	}
	evLPBuf, err := device.Arg[*device.Buffer[int32]](args, 3, "event_lp_number")
	if err != nil {
		return nil, err
	}
	lbtsBuf, err := device.Arg[*device.Buffer[float32]](args, 4, "current_lbts")
	if err != nil {
		return nil, err
	}
	processedBuf, err := device.Arg[*device.Buffer[uint32]](args, 5, "events_processed")
	if err != nil {
		return nil, err
	}
	flagBuf, err := device.Arg[*device.Buffer[uint8]](args, 6, "next_event_flag")
	if err != nil {
		return nil, err
	}
	gen, err := device.Arg[int](args, 7, "generation")
	if err != nil {
		return nil, err
	}
	params, err := device.Arg[WorkloadParams](args, 8, "params")
	if err != nil {
		return nil, err
	}
	n := params.NumLPs
	for _, c := range []error{
		checkGeneration(gen),
		checkLen("rng_state", rngBuf.Len(), n),
		checkLen("lp_current_time", lpTimeBuf.Len(), n),
		checkLen("events_processed", processedBuf.Len(), n),
		checkLen("event_time", evTimeBuf.Len(), 2*n),
		checkLen("event_lp_number", evLPBuf.Len(), 2*n),
		checkLen("next_event_flag", flagBuf.Len(), 2*n),
		checkLen("current_lbts", lbtsBuf.Len(), 1),
	} {
		if c != nil {
			return nil, c
		}
	}

	rng, lpTime := rngBuf.Device(), lpTimeBuf.Device()
	evTime, evLP, processed, flags := evTimeBuf.Device(), evLPBuf.Device(), processedBuf.Device(), flagBuf.Device()
	lbtsCell := lbtsBuf.Device()
	cur, nxt := gen*n, (1-gen)*n
	return func(first, last int) {
		lbts := lbtsCell[0]
		for slot := first; slot < last; slot++ {
			c, x := cur+slot, nxt+slot
			if flags[c] != 0 && evTime[c] == lbts {
				lp := evLP[c]
				now := evTime[c]
				processed[lp]++
				lpTime[lp] = now
				st := &rng[lp]
				evTime[x] = successorTime(now, params.delay(st))
				evLP[x] = params.nextTarget(st, lp)
			} else {
				evTime[x] = evTime[c]
				evLP[x] = evLP[c]
			}
			evTime[c] = EmptyTime
			evLP[c] = EmptyTarget
			flags[c] = 0
		}
	}, nil
}
