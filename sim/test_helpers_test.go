package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inference-sim/phold-sim/sim/device"
)

func testDevice(units int) device.Device {
	return device.Device{Name: "test-cpu", ComputeUnits: units}
}

// smallConfig returns a quick-running configuration for n LPs.
func smallConfig(n int) Config {
	cfg := DefaultConfig()
	cfg.NumLPs = n
	cfg.WorkGroupSize = 8
	cfg.StopTime = 5
	cfg.Lookahead = 0.1
	cfg.MeanDelay = 0.5
	cfg.Workers = 2
	return cfg
}

func newInitedSimulator(t *testing.T, cfg Config) *Simulator {
	t.Helper()
	s, err := NewSimulator(cfg, testDevice(4))
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background()))
	return s
}

// snapshot downloads the full 2N event arrays.
func snapshot(t *testing.T, s *EventStore) ([]int32, []float32) {
	t.Helper()
	targets := make([]int32, s.Len())
	times := make([]float32, s.Len())
	require.NoError(t, s.DownloadTargets(targets))
	require.NoError(t, s.DownloadTimes(times))
	return targets, times
}

func downloadProcessed(t *testing.T, lps *LPTable) []uint32 {
	t.Helper()
	out := make([]uint32, lps.Processed.Len())
	require.NoError(t, lps.Processed.Download(0, out))
	return out
}

func sum(xs []uint32) uint64 {
	var total uint64
	for _, x := range xs {
		total += uint64(x)
	}
	return total
}
