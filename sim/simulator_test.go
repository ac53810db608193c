package sim

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/phold-sim/sim/device"
	"github.com/inference-sim/phold-sim/sim/internal/testutil"
	"github.com/inference-sim/phold-sim/sim/trace"
)

func mustRun(t *testing.T, cfg Config, dev device.Device) (*Simulator, *Metrics) {
	t.Helper()
	s, err := NewSimulator(cfg, dev)
	require.NoError(t, err)
	m, err := s.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, m)
	return s, m
}

func TestSimulator_SingleRound_EndToEnd(t *testing.T) {
	// GIVEN four LPs whose first events are at 1, 2, 0.5 and 3, stop time 0.6
	cfg := smallConfig(4)
	cfg.Lookahead = 4
	cfg.StopTime = 0.6
	cfg.TraceLevel = trace.TraceLevelRounds
	cfg.InitialEvents = []Event{{Target: 0, Time: 1}, {Target: 1, Time: 2}, {Target: 2, Time: 0.5}, {Target: 3, Time: 3}}
	s, err := NewSimulator(cfg, testDevice(2))
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background()))
	assert.Equal(t, float32(0.5), s.LBTS)

	// WHEN the first round runs
	done, err := s.Step(context.Background())
	require.NoError(t, err)
	require.False(t, done)

	// THEN only LP 2 advanced and the next lbts is 1.0
	processed := downloadProcessed(t, s.LPs())
	assert.Equal(t, []uint32{0, 0, 1, 0}, processed)
	assert.Equal(t, float32(1.0), s.LBTS)
	events, err := s.Store().Outstanding()
	require.NoError(t, err)
	assert.Len(t, events, 4)

	// WHEN stepped again the lbts is past the stop time
	done, err = s.Step(context.Background())
	require.NoError(t, err)
	require.True(t, done)

	// THEN the run terminated after one round with one event
	assert.Equal(t, StateTerminated, s.State())
	m := s.Metrics
	require.NotNil(t, m)
	assert.Equal(t, 1, m.Rounds)
	assert.Equal(t, uint64(1), m.EventsProcessed)
	assert.Equal(t, float32(1.0), m.FinalLBTS)
	assert.Equal(t, float32(0.5), m.MaxLPTime)
	require.Len(t, s.Trace.Rounds, 1)
	assert.Equal(t, trace.RoundRecord{Round: 1, LBTS: 0.5, Advanced: 1}, s.Trace.Rounds[0])

	// a terminated simulator stays terminated
	done, err = s.Step(context.Background())
	assert.NoError(t, err)
	assert.True(t, done)
}

func TestSimulator_TiedEvents_ProcessedInSuccessiveRounds(t *testing.T) {
	// GIVEN LP 0 holds two events at t=1 and LP 2 one at t=0.5
	cfg := smallConfig(3)
	cfg.Lookahead = 4
	cfg.StopTime = 1.0001
	cfg.TraceLevel = trace.TraceLevelRounds
	cfg.InitialEvents = []Event{{Target: 0, Time: 1}, {Target: 0, Time: 1}, {Target: 2, Time: 0.5}}

	// WHEN run to completion
	s, m := mustRun(t, cfg, testDevice(2))

	// THEN the tie costs an extra round at the same lbts
	assert.Equal(t, 3, m.Rounds)
	assert.Equal(t, uint64(3), m.EventsProcessed)
	require.Len(t, s.Trace.Rounds, 3)
	assert.Equal(t, []float32{0.5, 1, 1}, []float32{s.Trace.Rounds[0].LBTS, s.Trace.Rounds[1].LBTS, s.Trace.Rounds[2].LBTS})
	for _, r := range s.Trace.Rounds {
		assert.Equal(t, 1, r.Advanced, "round %d", r.Round)
	}
	assert.Equal(t, uint64(3), m.EventsAdvanced)
}

func TestSimulator_TiedEvents_ProcessedCounts(t *testing.T) {
	cfg := smallConfig(3)
	cfg.Lookahead = 4
	cfg.StopTime = 1.0001
	cfg.InitialEvents = []Event{{Target: 0, Time: 1}, {Target: 0, Time: 1}, {Target: 2, Time: 0.5}}
	s, err := NewSimulator(cfg, testDevice(1))
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background()))
	for i := 0; i < 3; i++ {
		done, err := s.Step(context.Background())
		require.NoError(t, err)
		require.False(t, done)
	}
	assert.Equal(t, []uint32{2, 0, 1}, downloadProcessed(t, s.LPs()))
	done, err := s.Step(context.Background())
	require.NoError(t, err)
	assert.True(t, done)
}

func TestSimulator_StopTimeAtOrBelowFirstLBTS_ZeroRounds(t *testing.T) {
	tests := []struct {
		name string
		stop float32
	}{
		{"stop equals first lbts", 0.5},
		{"stop below first lbts", 0.1},
		{"negative stop", -1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := smallConfig(2)
			cfg.StopTime = tc.stop
			cfg.InitialEvents = []Event{{Target: 0, Time: 0.5}, {Target: 1, Time: 0.75}}
			_, m := mustRun(t, cfg, testDevice(1))
			assert.Zero(t, m.Rounds)
			assert.Zero(t, m.EventsProcessed)
			assert.Equal(t, float32(0.5), m.FinalLBTS)
		})
	}
}

func TestSimulator_TerminatesNotBeforeStopTime(t *testing.T) {
	cfg := smallConfig(32)
	cfg.StopTime = 2
	cfg.TraceLevel = trace.TraceLevelRounds
	s, m := mustRun(t, cfg, testDevice(4))

	assert.GreaterOrEqual(t, m.FinalLBTS, cfg.StopTime)
	require.NotEmpty(t, s.Trace.Rounds)
	for _, r := range s.Trace.Rounds {
		assert.Less(t, r.LBTS, cfg.StopTime, "round %d ran at or past the stop time", r.Round)
	}
	summary := trace.Summarize(s.Trace)
	assert.True(t, summary.Monotonic)
	assert.Equal(t, m.Rounds, summary.TotalRounds)
	assert.Equal(t, m.EventsProcessed, uint64(summary.TotalAdvanced))
}

func TestSimulator_Init_OneEventPerLP(t *testing.T) {
	cfg := smallConfig(50)
	s := newInitedSimulator(t, cfg)

	targets, times := snapshot(t, s.Store())
	cur := s.Store().CurrentOffset()
	nxt := s.Store().NextOffset()
	for lp := 0; lp < cfg.NumLPs; lp++ {
		assert.Equal(t, int32(lp), targets[cur+lp])
		assert.GreaterOrEqual(t, times[cur+lp], cfg.Lookahead)
		assert.Equal(t, EmptyTarget, targets[nxt+lp])
		assert.Equal(t, EmptyTime, times[nxt+lp])
	}
	assert.Equal(t, testutil.ScanMin(times), s.LBTS)
	assert.Equal(t, StateRunningRound, s.State())
	assert.Zero(t, sum(downloadProcessed(t, s.LPs())))
}

func TestSimulator_RoundInvariants(t *testing.T) {
	// GIVEN a mixed local/remote workload with frequent timestamp ties
	cfg := smallConfig(40)
	cfg.StopTime = 4
	cfg.LocalRate = 0.5
	cfg.TraceLevel = trace.TraceLevelRounds
	s := newInitedSimulator(t, cfg)
	ctx := context.Background()

	prev := s.LBTS
	var tally uint64
	for {
		if s.LBTS >= cfg.StopTime {
			break
		}
		// the oracle's ready count for this round
		targets, times := snapshot(t, s.Store())
		earliest := testutil.ScanEarliestPerLP(targets, times, cfg.NumLPs)
		want := 0
		for _, cell := range earliest {
			if cell >= 0 && times[cell] == s.LBTS {
				want++
			}
		}
		before := sum(downloadProcessed(t, s.LPs()))
		lbts := s.LBTS

		done, err := s.Step(ctx)
		require.NoError(t, err)
		require.False(t, done)

		// WHEN a round completes
		// THEN exactly the ready LPs advanced, by one event each
		after := sum(downloadProcessed(t, s.LPs()))
		assert.Equal(t, uint64(want), after-before, "round %d", s.Round)
		assert.Equal(t, want, s.Trace.Rounds[len(s.Trace.Rounds)-1].Advanced)
		tally += after - before

		// AND the event population is conserved
		events, err := s.Store().Outstanding()
		require.NoError(t, err)
		require.Len(t, events, cfg.NumLPs)
		for _, ev := range events {
			assert.GreaterOrEqual(t, ev.Time, lbts)
		}

		// AND no LP clock runs ahead of the lbts it advanced at
		clocks := make([]float32, cfg.NumLPs)
		require.NoError(t, s.LPs().CurrentTime.Download(0, clocks))
		for lp, c := range clocks {
			assert.LessOrEqual(t, c, lbts, "LP %d", lp)
		}

		// AND the lbts never decreases
		assert.GreaterOrEqual(t, s.LBTS, prev)
		prev = s.LBTS
	}
	assert.Positive(t, tally)
	assert.Equal(t, tally, s.EventsAdvanced)

	done, err := s.Step(ctx)
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, tally, s.Metrics.EventsProcessed)
}

func TestSimulator_LocalRateOne_EventsStayHome(t *testing.T) {
	cfg := smallConfig(16)
	cfg.LocalRate = 1
	cfg.StopTime = 3
	s := newInitedSimulator(t, cfg)
	for i := 0; i < 20; i++ {
		done, err := s.Step(context.Background())
		require.NoError(t, err)
		if done {
			break
		}
		targets, _ := snapshot(t, s.Store())
		cur := s.Store().CurrentOffset()
		for slot := 0; slot < cfg.NumLPs; slot++ {
			assert.Equal(t, int32(slot), targets[cur+slot])
		}
	}
}

func TestSimulator_Deterministic_AcrossExecutionShapes(t *testing.T) {
	// GIVEN one seed and workload
	base := smallConfig(96)
	base.StopTime = 3
	base.LocalRate = 0.7
	_, ref := mustRun(t, base, testDevice(1))
	require.NotEmpty(t, ref.StateDigest)

	variants := []struct {
		name    string
		mutate  func(*Config)
		devUnit int
	}{
		{"more device units", func(*Config) {}, 8},
		{"work-group of one", func(c *Config) { c.WorkGroupSize = 1 }, 4},
		{"large work-group", func(c *Config) { c.WorkGroupSize = 128 }, 4},
		{"single sort worker", func(c *Config) { c.Workers = 1 }, 4},
		{"workers from device", func(c *Config) { c.Workers = 0 }, 3},
		{"min reducer", func(c *Config) { c.Reducer = ReducerMin }, 4},
	}
	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			cfg := base
			v.mutate(&cfg)

			// WHEN the execution shape changes
			_, m := mustRun(t, cfg, testDevice(v.devUnit))

			// THEN the final state is bit-identical
			assert.Equal(t, ref.StateDigest, m.StateDigest)
			assert.Equal(t, ref.Rounds, m.Rounds)
			assert.Equal(t, ref.EventsProcessed, m.EventsProcessed)
			assert.Equal(t, ref.FinalLBTS, m.FinalLBTS)
		})
	}
}

func TestSimulator_SeedChangesOutcome(t *testing.T) {
	a := smallConfig(64)
	b := a
	b.Seed = a.Seed + 1
	_, ma := mustRun(t, a, testDevice(2))
	_, mb := mustRun(t, b, testDevice(2))
	assert.NotEqual(t, ma.StateDigest, mb.StateDigest)
}

func TestSimulator_AllocationFailure_Aborts(t *testing.T) {
	// GIVEN a device too small for the buffers
	dev := testDevice(2)
	dev.GlobalMemBytes = 64
	s, err := NewSimulator(smallConfig(64), dev)
	require.NoError(t, err)

	// WHEN initialized
	err = s.Init(context.Background())

	// THEN the allocation failure surfaces and the run is aborted
	assert.ErrorIs(t, err, device.ErrAllocation)
	assert.Equal(t, StateFailed, s.State())
	assert.ErrorIs(t, s.Err(), device.ErrAllocation)
	assert.Nil(t, s.Store())
	assert.Nil(t, s.LPs())

	_, err = s.Step(context.Background())
	assert.ErrorIs(t, err, ErrSimulationAborted)
}

func TestSimulator_NoComputeUnits_DeviceUnavailable(t *testing.T) {
	s, err := NewSimulator(smallConfig(4), testDevice(0))
	require.NoError(t, err)
	_, err = s.Run(context.Background())
	assert.ErrorIs(t, err, device.ErrDeviceUnavailable)
	assert.Equal(t, StateFailed, s.State())
}

func TestSimulator_InvalidConfig(t *testing.T) {
	cfg := smallConfig(4)
	cfg.MeanDelay = 0
	_, err := NewSimulator(cfg, testDevice(1))
	assert.Error(t, err)
}

func TestSimulator_LifecycleMisuse(t *testing.T) {
	s, err := NewSimulator(smallConfig(4), testDevice(1))
	require.NoError(t, err)

	_, err = s.Step(context.Background())
	assert.Error(t, err, "step before init")

	require.NoError(t, s.Init(context.Background()))
	assert.Error(t, s.Init(context.Background()), "second init")
}

func TestSimulator_Run_CancelledBetweenRounds(t *testing.T) {
	s := newInitedSimulator(t, smallConfig(16))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, s.State())
	assert.Nil(t, s.Store(), "resources released on abort")

	_, err = s.Step(context.Background())
	assert.ErrorIs(t, err, ErrSimulationAborted)
}

func TestSimulator_Run_CancelledBeforeInit(t *testing.T) {
	s, err := NewSimulator(smallConfig(16), testDevice(2))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, s.State())
}

func BenchmarkSimulator_Run(b *testing.B) {
	cfg := DefaultConfig()
	cfg.NumLPs = 1 << 12
	cfg.StopTime = 10
	for i := 0; i < b.N; i++ {
		s, _ := NewSimulator(cfg, device.Device{Name: "bench", ComputeUnits: 4})
		if _, err := s.Run(context.Background()); err != nil {
			b.Fatal(err)
		}
	}
}

func TestSimulator_SubUlpDelay_StillTerminates(t *testing.T) {
	// GIVEN zero lookahead and a mean delay far below the float32 spacing at t=1
	inf := float32(math.Inf(1))
	stop := float32(1)
	for i := 0; i < 4; i++ {
		stop = math.Nextafter32(stop, inf)
	}
	cfg := smallConfig(2)
	cfg.Lookahead = 0
	cfg.MeanDelay = 1e-9
	cfg.LocalRate = 1
	cfg.StopTime = stop
	cfg.TraceLevel = trace.TraceLevelRounds
	cfg.InitialEvents = []Event{{Target: 0, Time: 1}, {Target: 1, Time: 1}}

	// WHEN run to completion
	s, m := mustRun(t, cfg, testDevice(2))

	// THEN every round moves the lbts forward by one ulp until the stop time
	assert.Equal(t, 4, m.Rounds)
	assert.Equal(t, uint64(8), m.EventsProcessed)
	assert.Equal(t, stop, m.FinalLBTS)
	for i := 1; i < len(s.Trace.Rounds); i++ {
		assert.Greater(t, s.Trace.Rounds[i].LBTS, s.Trace.Rounds[i-1].LBTS)
	}
}
