// Tracks run-wide statistics reported when the simulation terminates.

package sim

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"golang.org/x/crypto/blake2b"
	"gonum.org/v1/gonum/stat"
)

// Metrics aggregates statistics about a finished simulation for final reporting.
type Metrics struct {
	NumLPs          int
	StopTime        float32
	FinalLBTS       float32 // the LBTS that ended the run (>= StopTime)
	Rounds          int     // completed synchronization rounds
	ActiveRounds    int     // rounds in which at least one LP advanced
	EventsProcessed uint64  // sum of events_processed over LPs
	EventsAdvanced  uint64  // LPs advanced, tallied per round by the controller

	MeanEventsPerLP   float64
	StdDevEventsPerLP float64
	MaxEventsPerLP    uint32
	MaxLPTime         float32 // latest local clock across LPs

	// StateDigest fingerprints the final per-LP state (clock and counter).
	// Equal digests mean bit-identical final states.
	StateDigest string

	Elapsed time.Duration // wall-clock duration from Init to termination
}

// NewMetrics computes per-LP statistics and the state digest from the final
// events_processed and lp_current_time arrays.
func NewMetrics(processed []uint32, lpTimes []float32) (*Metrics, error) {
	if len(processed) != len(lpTimes) {
		return nil, fmt.Errorf("metrics: %d counters but %d clocks", len(processed), len(lpTimes))
	}
	m := &Metrics{NumLPs: len(processed)}
	if len(processed) == 0 {
		return m, nil
	}

	counts := make([]float64, len(processed))
	for i, p := range processed {
		counts[i] = float64(p)
		m.EventsProcessed += uint64(p)
		m.MaxEventsPerLP = max(m.MaxEventsPerLP, p)
		m.MaxLPTime = max(m.MaxLPTime, lpTimes[i])
	}
	if len(counts) > 1 {
		m.MeanEventsPerLP, m.StdDevEventsPerLP = stat.MeanStdDev(counts, nil)
	} else {
		m.MeanEventsPerLP = counts[0]
	}

	digest, err := stateDigest(processed, lpTimes)
	if err != nil {
		return nil, err
	}
	m.StateDigest = digest
	return m, nil
}

func stateDigest(processed []uint32, lpTimes []float32) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("state digest: %w", err)
	}
	var b [8]byte
	for i := range processed {
		binary.LittleEndian.PutUint32(b[:4], processed[i])
		binary.LittleEndian.PutUint32(b[4:], math.Float32bits(lpTimes[i]))
		h.Write(b[:])
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// EventRate returns processed events per wall-clock second.
func (m *Metrics) EventRate() float64 {
	if m.Elapsed <= 0 {
		return 0
	}
	return float64(m.EventsProcessed) / m.Elapsed.Seconds()
}

// Print displays the aggregated metrics at the end of the simulation.
func (m *Metrics) Print() {
	fmt.Println("=== Simulation Metrics ===")
	fmt.Printf("Logical Processes    : %d\n", m.NumLPs)
	fmt.Printf("Stop Time            : %.4f\n", m.StopTime)
	fmt.Printf("Final LBTS           : %.4f\n", m.FinalLBTS)
	fmt.Printf("Rounds               : %d (%d active)\n", m.Rounds, m.ActiveRounds)
	fmt.Printf("Events Processed     : %d\n", m.EventsProcessed)
	if m.NumLPs > 0 {
		fmt.Printf("Events per LP        : mean %.2f, stddev %.2f, max %d\n",
			m.MeanEventsPerLP, m.StdDevEventsPerLP, m.MaxEventsPerLP)
	}
	fmt.Printf("Elapsed              : %v\n", m.Elapsed)
	fmt.Printf("Event Rate           : %.0f events/s\n", m.EventRate())
	fmt.Printf("State Digest         : %s\n", m.StateDigest)
}
