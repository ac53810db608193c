// Package trace provides round-trace recording for synchronization analysis.
// It stores pure data types and does not import sim/.
package trace

// RoundRecord captures one synchronization round.
type RoundRecord struct {
	Round    int     // 1-based round number
	LBTS     float32 // lower bound on timestamp used by the round
	Advanced int     // LPs that consumed an event in the round
}
