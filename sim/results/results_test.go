package results

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/phold-sim/sim"
)

func sampleRecord(seed int64) RunRecord {
	cfg := sim.DefaultConfig()
	cfg.NumLPs = 1024
	cfg.Seed = seed
	cfg.Reducer = sim.ReducerSort
	m := &sim.Metrics{
		NumLPs:            1024,
		Rounds:            311,
		ActiveRounds:      311,
		EventsProcessed:   5120,
		FinalLBTS:         60.25,
		MeanEventsPerLP:   5,
		StdDevEventsPerLP: 1.5,
		MaxEventsPerLP:    11,
		Elapsed:           1500 * time.Millisecond,
		StateDigest:       "ab12",
	}
	return NewRunRecord(cfg, "host-cpu", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), m)
}

func TestNewRunRecord(t *testing.T) {
	rec := sampleRecord(7)
	assert.Equal(t, 1024, rec.NumLPs)
	assert.Equal(t, int64(7), rec.Seed)
	assert.Equal(t, "host-cpu", rec.Device)
	assert.Equal(t, 1500.0, rec.ElapsedMs)
	assert.InDelta(t, 5120/1.5, rec.EventsPerSecond, 1e-9)
	assert.Equal(t, float32(sim.DefaultStopTime), rec.StopTime)
}

func TestJSON_WriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	rec := sampleRecord(1)

	require.NoError(t, WriteJSON(path, rec))
	got, err := ReadJSON(path)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestReadJSON_Missing(t *testing.T) {
	_, err := ReadJSON(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestStore_InsertAndRecent(t *testing.T) {
	// GIVEN a fresh history database
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	// WHEN three runs are recorded
	for seed := int64(1); seed <= 3; seed++ {
		id, err := s.Insert(ctx, sampleRecord(seed))
		require.NoError(t, err)
		assert.Equal(t, seed, id)
	}

	// THEN the newest come back first, field for field
	got, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, sampleRecord(3), got[0])
	assert.Equal(t, int64(2), got[1].Seed)
}

func TestStore_ReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Insert(context.Background(), sampleRecord(9))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(9), got[0].Seed)
}
