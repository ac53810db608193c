// sim/simulator.go
package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/phold-sim/sim/device"
	"github.com/inference-sim/phold-sim/sim/trace"
)

// State is the round controller's lifecycle state.
type State int

const (
	StateInit State = iota
	StateRunningRound
	StateTerminated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunningRound:
		return "running"
	case StateTerminated:
		return "terminated"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	// ErrSimulationAborted is returned by Step after a fatal error ended the run.
	ErrSimulationAborted = errors.New("simulation aborted")
	// ErrCausalityViolation means a round's LBTS fell below the previous round's.
	ErrCausalityViolation = errors.New("lbts decreased between rounds")
)

// Simulator is the round controller. It owns the runtime and every device
// buffer from Init until termination and drives reduce → mark → advance rounds.
//
// Thread-safety: NOT thread-safe. The controller is single-threaded; parallelism
// lives inside the kernel launches it blocks on.
type Simulator struct {
	cfg   Config
	dev   device.Device
	state State
	err   error

	rt       *Runtime
	store    *EventStore
	lps      *LPTable
	reducer  TimeReducer
	marker   *EligibilityMarker
	advancer *LPAdvancer

	// host copies of the event arrays, refreshed every round
	hostTimes   []float32
	hostTargets []int32

	Round          int     // completed rounds
	ActiveRounds   int     // completed rounds in which at least one LP advanced
	EventsAdvanced uint64  // host tally of LPs advanced, summed over rounds
	LBTS           float32 // most recently computed lower bound on timestamp

	Trace   *trace.SimulationTrace
	Metrics *Metrics // set on termination

	started time.Time
}

// NewSimulator validates cfg and prepares a simulator bound to dev.
// No device memory is touched until Init.
func NewSimulator(cfg Config, dev device.Device) (*Simulator, error) {
	if cfg.Reducer == "" {
		cfg.Reducer = ReducerSort
	}
	if cfg.TraceLevel == "" {
		cfg.TraceLevel = trace.TraceLevelNone
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Simulator{
		cfg:   cfg,
		dev:   dev,
		state: StateInit,
		Trace: trace.NewSimulationTrace(trace.TraceConfig{Level: cfg.TraceLevel}),
	}, nil
}

// Config returns the validated configuration.
func (s *Simulator) Config() Config { return s.cfg }

// State returns the current lifecycle state.
func (s *Simulator) State() State { return s.state }

// Err returns the error that moved the simulator to StateFailed, if any.
func (s *Simulator) Err() error { return s.err }

// Store exposes the event store while the simulation is live (nil otherwise).
func (s *Simulator) Store() *EventStore { return s.store }

// LPs exposes the per-LP device state while the simulation is live (nil otherwise).
func (s *Simulator) LPs() *LPTable { return s.lps }

// Init allocates every buffer, seeds all generators, generates the first event
// per LP and computes the first LBTS.
func (s *Simulator) Init(ctx context.Context) error {
	if s.state != StateInit {
		return fmt.Errorf("init in state %s", s.state)
	}
	s.started = time.Now()
	n := s.cfg.NumLPs
	workers := s.cfg.Workers
	if workers == 0 {
		workers = s.dev.ComputeUnits
	}
	logrus.Infof("Starting simulation with %d LPs, %d event cells, stop_time=%v, work_group=%d, reducer=%s, device=%q",
		n, s.cfg.EventCapacity(), s.cfg.StopTime, s.cfg.WorkGroupSize, s.cfg.Reducer, s.dev.Name)

	var err error
	if s.rt, err = NewRuntime(s.dev, s.cfg.WorkGroupSize); err != nil {
		return s.fail(fmt.Errorf("create runtime: %w", err))
	}
	if s.lps, err = NewLPTable(s.rt.Context, n); err != nil {
		return s.fail(err)
	}
	if s.store, err = NewEventStore(s.rt.Context, n); err != nil {
		return s.fail(err)
	}
	if s.marker, err = NewEligibilityMarker(s.rt, s.store, workers); err != nil {
		return s.fail(err)
	}
	if s.reducer, err = NewTimeReducer(s.cfg.Reducer, s.store.Len(), workers); err != nil {
		return s.fail(err)
	}
	s.advancer = NewLPAdvancer(s.rt, s.lps, s.store, newWorkloadParams(s.cfg))
	s.hostTimes = make([]float32, s.store.Len())
	s.hostTargets = make([]int32, s.store.Len())
	logrus.Debugf("Allocated %d bytes of device memory", s.rt.Context.Allocated())

	if err := s.advancer.Initialize(ctx); err != nil {
		return s.fail(err)
	}
	if s.cfg.InitialEvents != nil {
		if err := s.store.UploadCurrent(s.cfg.InitialEvents); err != nil {
			return s.fail(fmt.Errorf("upload initial events: %w", err))
		}
	}
	if s.LBTS, err = s.reduce(ctx); err != nil {
		return s.fail(err)
	}
	s.state = StateRunningRound
	logrus.Infof("Initialized in %v, first lbts=%v", time.Since(s.started), s.LBTS)
	return nil
}

// Step runs one round. It returns done=true once the LBTS has reached the stop
// time, at which point the simulator is terminated and Metrics is populated.
func (s *Simulator) Step(ctx context.Context) (bool, error) {
	switch s.state {
	case StateTerminated:
		return true, nil
	case StateFailed:
		return false, fmt.Errorf("%w: %v", ErrSimulationAborted, s.err)
	case StateInit:
		return false, errors.New("step before init")
	}

	if s.LBTS >= s.cfg.StopTime {
		return true, s.terminate()
	}

	if err := s.store.DownloadTargets(s.hostTargets); err != nil {
		return false, s.fail(err)
	}
	if err := s.marker.Mark(ctx, s.hostTargets, s.hostTimes); err != nil {
		return false, s.fail(err)
	}
	ready := s.marker.ReadyCount(s.LBTS)
	if err := s.advancer.Advance(ctx, s.LBTS); err != nil {
		return false, s.fail(err)
	}

	s.Round++
	s.EventsAdvanced += uint64(ready)
	if ready > 0 {
		s.ActiveRounds++
	} else {
		logrus.Warnf("[round %07d] no LP advanced at lbts=%v", s.Round, s.LBTS)
	}
	if s.Trace.Enabled() {
		s.Trace.RecordRound(trace.RoundRecord{Round: s.Round, LBTS: s.LBTS, Advanced: ready})
	}
	logrus.Debugf("[round %07d] lbts=%v advanced=%d", s.Round, s.LBTS, ready)

	next, err := s.reduce(ctx)
	if err != nil {
		return false, s.fail(err)
	}
	if next < s.LBTS {
		return false, s.fail(fmt.Errorf("round %d: lbts %v < previous %v: %w", s.Round+1, next, s.LBTS, ErrCausalityViolation))
	}
	s.LBTS = next
	return false, nil
}

// Run initializes the simulator if needed and steps until termination.
// Cancellation is observed between rounds only.
func (s *Simulator) Run(ctx context.Context) (*Metrics, error) {
	if s.state == StateInit {
		if err := s.Init(ctx); err != nil {
			return nil, err
		}
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, s.fail(fmt.Errorf("run stopped after round %d: %w", s.Round, err))
		}
		done, err := s.Step(ctx)
		if err != nil {
			return nil, err
		}
		if done {
			return s.Metrics, nil
		}
	}
}

// reduce downloads the event times and computes their minimum.
func (s *Simulator) reduce(ctx context.Context) (float32, error) {
	if err := s.store.DownloadTimes(s.hostTimes); err != nil {
		return 0, fmt.Errorf("download event times: %w", err)
	}
	lbts, err := s.reducer.MinTime(ctx, s.hostTimes)
	if err != nil {
		return 0, fmt.Errorf("compute lbts: %w", err)
	}
	return lbts, nil
}

// terminate reads back the statistics and releases the runtime.
func (s *Simulator) terminate() error {
	n := s.cfg.NumLPs
	processed := make([]uint32, n)
	lpTimes := make([]float32, n)
	if err := s.lps.Processed.Download(0, processed); err != nil {
		return s.fail(err)
	}
	if err := s.lps.CurrentTime.Download(0, lpTimes); err != nil {
		return s.fail(err)
	}

	m, err := NewMetrics(processed, lpTimes)
	if err != nil {
		return s.fail(err)
	}
	m.StopTime = s.cfg.StopTime
	m.FinalLBTS = s.LBTS
	m.Rounds = s.Round
	m.ActiveRounds = s.ActiveRounds
	m.EventsAdvanced = s.EventsAdvanced
	m.Elapsed = time.Since(s.started)
	if m.EventsAdvanced != m.EventsProcessed {
		logrus.Warnf("events processed (%d) differs from events advanced (%d)", m.EventsProcessed, m.EventsAdvanced)
	}
	s.Metrics = m

	s.release()
	s.state = StateTerminated
	logrus.Infof("Simulation terminated after %d rounds at lbts=%v: %d events in %v",
		m.Rounds, m.FinalLBTS, m.EventsProcessed, m.Elapsed)
	return nil
}

// fail records a fatal error, releases every resource and returns err.
func (s *Simulator) fail(err error) error {
	s.err = err
	s.state = StateFailed
	s.release()
	logrus.Errorf("Simulation aborted: %v", err)
	return err
}

func (s *Simulator) release() {
	if s.marker != nil {
		s.marker.Release()
	}
	if s.store != nil {
		s.store.Release()
	}
	if s.lps != nil {
		s.lps.Release()
	}
	if s.rt != nil {
		s.rt.Release()
	}
	s.marker, s.store, s.lps, s.rt, s.advancer = nil, nil, nil, nil, nil
}
