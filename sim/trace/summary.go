package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalRounds   int
	ActiveRounds  int // rounds in which at least one LP advanced
	TotalAdvanced int
	MaxAdvanced   int
	MeanAdvanced  float64
	FirstLBTS     float32
	LastLBTS      float32
	Monotonic     bool // LBTS never decreased between consecutive rounds
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields, Monotonic true).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{Monotonic: true}
	if st == nil || len(st.Rounds) == 0 {
		return summary
	}

	summary.TotalRounds = len(st.Rounds)
	summary.FirstLBTS = st.Rounds[0].LBTS
	summary.LastLBTS = st.Rounds[len(st.Rounds)-1].LBTS
	for i, r := range st.Rounds {
		summary.TotalAdvanced += r.Advanced
		if r.Advanced > 0 {
			summary.ActiveRounds++
		}
		if r.Advanced > summary.MaxAdvanced {
			summary.MaxAdvanced = r.Advanced
		}
		if i > 0 && r.LBTS < st.Rounds[i-1].LBTS {
			summary.Monotonic = false
		}
	}
	summary.MeanAdvanced = float64(summary.TotalAdvanced) / float64(summary.TotalRounds)

	return summary
}
