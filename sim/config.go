package sim

import (
	"fmt"
	"math"

	"github.com/inference-sim/phold-sim/sim/trace"
)

// Defaults for a full-size benchmark run.
const (
	DefaultNumLPs        = 1 << 20
	DefaultWorkGroupSize = 128
	DefaultStopTime      = 60.0
	DefaultLookahead     = 4.0
	DefaultMeanDelay     = 0.9
	DefaultLocalRate     = 0.9
	DefaultSeed          = 42
)

// MaxNumLPs keeps 2*NumLPs addressable by int32 event targets and uint32 sort payloads.
const MaxNumLPs = math.MaxInt32 / 2

// Config groups the parameters of one simulation run. Buffer sizes derive from NumLPs.
type Config struct {
	NumLPs        int     // logical processes, fixed for the run (must be > 0)
	WorkGroupSize int     // work-items per work-group for every kernel launch
	StopTime      float32 // run terminates on the first round whose LBTS >= StopTime
	Lookahead     float32 // minimum delay between an event and its successor (>= 0)
	MeanDelay     float32 // mean of the exponential delay added on top of Lookahead (> 0)
	LocalRate     float64 // probability a successor targets the processing LP itself, [0, 1]
	Seed          int64   // seeds every LP's generator
	Reducer       string  // "sort" (default) or "min"
	Workers       int     // host sort/reduce workers; 0 = device compute units

	// InitialEvents, when set, replaces the generated first event of every LP.
	// Must hold exactly NumLPs events.
	InitialEvents []Event

	TraceLevel trace.TraceLevel
}

// DefaultConfig returns the benchmark's default configuration.
func DefaultConfig() Config {
	return Config{
		NumLPs:        DefaultNumLPs,
		WorkGroupSize: DefaultWorkGroupSize,
		StopTime:      DefaultStopTime,
		Lookahead:     DefaultLookahead,
		MeanDelay:     DefaultMeanDelay,
		LocalRate:     DefaultLocalRate,
		Seed:          DefaultSeed,
		Reducer:       ReducerSort,
		TraceLevel:    trace.TraceLevelNone,
	}
}

// EventCapacity returns the length of the event buffers (both generations).
func (c Config) EventCapacity() int {
	return 2 * c.NumLPs
}

// Validate checks the configuration once, before any buffer is allocated.
func (c Config) Validate() error {
	if c.NumLPs <= 0 || c.NumLPs > MaxNumLPs {
		return fmt.Errorf("NumLPs must be in [1, %d], got %d", MaxNumLPs, c.NumLPs)
	}
	if c.WorkGroupSize <= 0 {
		return fmt.Errorf("WorkGroupSize must be > 0, got %d", c.WorkGroupSize)
	}
	if !isFinite(c.StopTime) {
		return fmt.Errorf("StopTime must be finite, got %v", c.StopTime)
	}
	if c.Lookahead < 0 || !isFinite(c.Lookahead) {
		return fmt.Errorf("Lookahead must be finite and >= 0, got %v", c.Lookahead)
	}
	if c.MeanDelay <= 0 || !isFinite(c.MeanDelay) {
		return fmt.Errorf("MeanDelay must be finite and > 0, got %v", c.MeanDelay)
	}
	if c.LocalRate < 0 || c.LocalRate > 1 || math.IsNaN(c.LocalRate) {
		return fmt.Errorf("LocalRate must be in [0, 1], got %v", c.LocalRate)
	}
	if !IsValidReducer(c.Reducer) {
		return fmt.Errorf("unknown Reducer %q; valid: %v", c.Reducer, ValidReducerNames())
	}
	if c.Workers < 0 {
		return fmt.Errorf("Workers must be >= 0, got %d", c.Workers)
	}
	if !trace.IsValidTraceLevel(string(c.TraceLevel)) {
		return fmt.Errorf("unknown TraceLevel %q", c.TraceLevel)
	}
	if c.InitialEvents != nil {
		if len(c.InitialEvents) != c.NumLPs {
			return fmt.Errorf("InitialEvents must hold NumLPs (%d) events, got %d", c.NumLPs, len(c.InitialEvents))
		}
		for i, ev := range c.InitialEvents {
			if ev.Target < 0 || int(ev.Target) >= c.NumLPs {
				return fmt.Errorf("InitialEvents[%d]: target %d outside [0, %d)", i, ev.Target, c.NumLPs)
			}
			if ev.Time < 0 || !isFinite(ev.Time) {
				return fmt.Errorf("InitialEvents[%d]: time must be finite and >= 0, got %v", i, ev.Time)
			}
		}
	}
	return nil
}

func isFinite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
