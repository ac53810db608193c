// Package testutil provides shared test infrastructure for the simulator packages:
// exhaustive-scan oracles to check device results against, and float assertions.
package testutil

import (
	"math"
	"testing"
)

// ScanMin returns the minimum of times by linear scan.
func ScanMin(times []float32) float32 {
	m := float32(math.Inf(1))
	for _, t := range times {
		if t < m {
			m = t
		}
	}
	return m
}

// ScanEarliestPerLP returns, for every LP in [0, numLPs), the cell index of its
// earliest event (lowest index on ties), or -1 when no cell targets it.
// Cells with a negative target are ignored.
func ScanEarliestPerLP(targets []int32, times []float32, numLPs int) []int {
	best := make([]int, numLPs)
	for i := range best {
		best[i] = -1
	}
	for cell, lp := range targets {
		if lp < 0 {
			continue
		}
		if b := best[lp]; b == -1 || times[cell] < times[b] {
			best[lp] = cell
		}
	}
	return best
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
