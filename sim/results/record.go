// Package results persists finished simulation runs: a JSON report per run and
// an optional SQLite history of runs for comparing configurations over time.
package results

import (
	"fmt"
	"os"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/inference-sim/phold-sim/sim"
)

// RunRecord is the persisted summary of one simulation run.
type RunRecord struct {
	StartedAt     time.Time `json:"started_at"`
	Device        string    `json:"device"`
	NumLPs        int       `json:"num_lps"`
	WorkGroupSize int       `json:"work_group_size"`
	StopTime      float32   `json:"stop_time"`
	Lookahead     float32   `json:"lookahead"`
	MeanDelay     float32   `json:"mean_delay"`
	LocalRate     float64   `json:"local_rate"`
	Seed          int64     `json:"seed"`
	Reducer       string    `json:"reducer"`

	Rounds          int     `json:"rounds"`
	ActiveRounds    int     `json:"active_rounds"`
	EventsProcessed uint64  `json:"events_processed"`
	FinalLBTS       float32 `json:"final_lbts"`
	MeanEventsPerLP float64 `json:"mean_events_per_lp"`
	StdDevPerLP     float64 `json:"stddev_events_per_lp"`
	MaxEventsPerLP  uint32  `json:"max_events_per_lp"`
	ElapsedMs       float64 `json:"elapsed_ms"`
	EventsPerSecond float64 `json:"events_per_second"`
	StateDigest     string  `json:"state_digest"`
}

// NewRunRecord combines a run's configuration and final metrics.
func NewRunRecord(cfg sim.Config, deviceName string, startedAt time.Time, m *sim.Metrics) RunRecord {
	return RunRecord{
		StartedAt:       startedAt.UTC(),
		Device:          deviceName,
		NumLPs:          cfg.NumLPs,
		WorkGroupSize:   cfg.WorkGroupSize,
		StopTime:        cfg.StopTime,
		Lookahead:       cfg.Lookahead,
		MeanDelay:       cfg.MeanDelay,
		LocalRate:       cfg.LocalRate,
		Seed:            cfg.Seed,
		Reducer:         cfg.Reducer,
		Rounds:          m.Rounds,
		ActiveRounds:    m.ActiveRounds,
		EventsProcessed: m.EventsProcessed,
		FinalLBTS:       m.FinalLBTS,
		MeanEventsPerLP: m.MeanEventsPerLP,
		StdDevPerLP:     m.StdDevEventsPerLP,
		MaxEventsPerLP:  m.MaxEventsPerLP,
		ElapsedMs:       float64(m.Elapsed.Microseconds()) / 1e3,
		EventsPerSecond: m.EventRate(),
		StateDigest:     m.StateDigest,
	}
}

// WriteJSON writes rec to path as a single JSON object.
func WriteJSON(path string, rec RunRecord) error {
	data, err := sonnet.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode run record: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write run record: %w", err)
	}
	return nil
}

// ReadJSON loads a record written by WriteJSON.
func ReadJSON(path string) (RunRecord, error) {
	var rec RunRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, fmt.Errorf("read run record: %w", err)
	}
	if err := sonnet.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decode run record %s: %w", path, err)
	}
	return rec, nil
}
