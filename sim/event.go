package sim

import (
	"fmt"
	"math"

	"github.com/inference-sim/phold-sim/sim/device"
)

// Empty cell sentinel. An empty cell never wins the LBTS reduction and sorts
// after every live event in LP order.
const EmptyTarget int32 = -1

// EmptyTime is the timestamp of an empty cell.
var EmptyTime = float32(math.Inf(1))

// Event is an outstanding timestamped message destined for one LP.
type Event struct {
	Target int32   // destination LP
	Time   float32 // simulated timestamp
}

// EventStore holds every outstanding event as flat parallel arrays of length 2N,
// resident on the device. The arrays are split into two generations of N slots:
// [0,N) and [N,2N). Between rounds every live event sits in the current
// generation and every cell of the next generation is empty. Within a round the
// advancer work-item for slot s reads current[s] and writes next[s], so no two
// work-items touch the same cell.
type EventStore struct {
	numLPs     int
	generation int

	Target   *device.Buffer[int32]   // event_lp_number
	Time     *device.Buffer[float32] // event_time
	Eligible *device.Buffer[uint8]   // next_event_flag
}

// NewEventStore allocates the event buffers for numLPs LPs, all cells empty.
func NewEventStore(c *device.Context, numLPs int) (*EventStore, error) {
	n := 2 * numLPs
	target, err := device.Alloc[int32](c, "d_event_lp_number", n)
	if err != nil {
		return nil, err
	}
	times, err := device.Alloc[float32](c, "d_event_time", n)
	if err != nil {
		target.Release()
		return nil, err
	}
	flags, err := device.Alloc[uint8](c, "d_next_event_flag", n)
	if err != nil {
		target.Release()
		times.Release()
		return nil, err
	}
	target.Fill(EmptyTarget)
	times.Fill(EmptyTime)
	return &EventStore{
		numLPs:   numLPs,
		Target:   target,
		Time:     times,
		Eligible: flags,
	}, nil
}

// Len returns the total cell count (2N).
func (s *EventStore) Len() int { return 2 * s.numLPs }

// NumLPs returns N, the slot count of one generation.
func (s *EventStore) NumLPs() int { return s.numLPs }

// Generation returns the index (0 or 1) of the current generation.
func (s *EventStore) Generation() int { return s.generation }

// CurrentOffset returns the first cell of the current generation.
func (s *EventStore) CurrentOffset() int { return s.generation * s.numLPs }

// NextOffset returns the first cell of the next generation.
func (s *EventStore) NextOffset() int { return (1 - s.generation) * s.numLPs }

// Toggle makes the next generation current. Call only after the advancer's barrier.
func (s *EventStore) Toggle() { s.generation = 1 - s.generation }

// DownloadTimes copies all 2N timestamps to host memory.
func (s *EventStore) DownloadTimes(dst []float32) error {
	return s.Time.Download(0, dst)
}

// DownloadTargets copies all 2N target LPs to host memory.
func (s *EventStore) DownloadTargets(dst []int32) error {
	return s.Target.Download(0, dst)
}

// EligibleFlags returns the eligibility flag of every cell.
func (s *EventStore) EligibleFlags() ([]bool, error) {
	raw := make([]uint8, s.Len())
	if err := s.Eligible.Download(0, raw); err != nil {
		return nil, err
	}
	flags := make([]bool, len(raw))
	for i, f := range raw {
		flags[i] = f != 0
	}
	return flags, nil
}

// Outstanding returns every live event in cell order.
func (s *EventStore) Outstanding() ([]Event, error) {
	targets := make([]int32, s.Len())
	times := make([]float32, s.Len())
	if err := s.DownloadTargets(targets); err != nil {
		return nil, err
	}
	if err := s.DownloadTimes(times); err != nil {
		return nil, err
	}
	events := make([]Event, 0, s.numLPs)
	for i, lp := range targets {
		if lp != EmptyTarget {
			events = append(events, Event{Target: lp, Time: times[i]})
		}
	}
	return events, nil
}

// UploadCurrent replaces the current generation with events (one per slot)
// and empties the next generation.
func (s *EventStore) UploadCurrent(events []Event) error {
	if len(events) != s.numLPs {
		return fmt.Errorf("upload events: got %d, want %d", len(events), s.numLPs)
	}
	targets := make([]int32, s.numLPs)
	times := make([]float32, s.numLPs)
	for i, ev := range events {
		targets[i], times[i] = ev.Target, ev.Time
	}
	if err := s.Target.Upload(s.CurrentOffset(), targets); err != nil {
		return err
	}
	if err := s.Time.Upload(s.CurrentOffset(), times); err != nil {
		return err
	}
	for i := range targets {
		targets[i], times[i] = EmptyTarget, EmptyTime
	}
	if err := s.Target.Upload(s.NextOffset(), targets); err != nil {
		return err
	}
	return s.Time.Upload(s.NextOffset(), times)
}

// Release frees the event buffers.
func (s *EventStore) Release() {
	s.Target.Release()
	s.Time.Release()
	s.Eligible.Release()
}
