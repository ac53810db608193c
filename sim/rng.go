package sim

import (
	"encoding/binary"
	"hash/fnv"
	"math"
)

// === SimulationKey ===

// SimulationKey uniquely identifies a reproducible simulation run.
// Two simulations with the same SimulationKey and identical configuration
// MUST produce bit-for-bit identical results, regardless of worker count.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// === RNGState ===

// mwcMultiplier is the MWC64X multiplier (period ~2^63).
const mwcMultiplier = 4294883355

// RNGState is the per-LP multiply-with-carry (MWC64X) generator state.
// Layout matches the device struct {uint x; uint c;}.
//
// Thread-safety: NOT thread-safe. Each state is owned by exactly one LP and
// only that LP's work-item may draw from it.
type RNGState struct {
	X uint32
	C uint32
}

// SeedRNGState derives the generator state for an LP.
//
// Derivation: key XOR fnv1a64(lp as little-endian uint64), finalized with a
// splitmix64 mix. The carry is forced into [1, multiplier-1] so the state never
// lands on one of the generator's fixed points.
func SeedRNGState(key SimulationKey, lp int) RNGState {
	s := splitmix64(uint64(key) ^ uint64(fnv1a64LP(lp)))
	return RNGState{
		X: uint32(s),
		C: uint32((s>>32)%(mwcMultiplier-1)) + 1,
	}
}

// Next advances the state and returns 32 random bits.
func (r *RNGState) Next() uint32 {
	res := r.X ^ r.C
	t := uint64(r.X)*mwcMultiplier + uint64(r.C)
	r.X = uint32(t)
	r.C = uint32(t >> 32)
	return res
}

// Float64 returns a uniform value in [0, 1).
func (r *RNGState) Float64() float64 {
	return float64(r.Next()) / (1 << 32)
}

// ExpFloat64 returns an exponentially distributed value with the given mean.
func (r *RNGState) ExpFloat64(mean float64) float64 {
	return -mean * math.Log(1-r.Float64())
}

// Intn returns a value in [0, n). n must be > 0.
func (r *RNGState) Intn(n int) int {
	return int((uint64(r.Next()) * uint64(n)) >> 32)
}

func fnv1a64LP(lp int) int64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(lp))
	h := fnv.New64a()
	h.Write(b[:])
	return int64(h.Sum64())
}

func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}
