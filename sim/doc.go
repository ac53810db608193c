// Package sim provides the conservative-synchronization engine of the PHOLD benchmark.
//
// # Reading Guide
//
// Start with these files to understand one synchronization round:
//   - event.go: the double-buffered event store (2N cells, two generations)
//   - reducer.go: the global-time reducer producing the LBTS
//   - marker.go: eligibility marking, one earliest event per LP
//   - kernels.go: the three device entry points and the workload policy
//   - simulator.go: the round controller (Init → RunningRound → Terminated)
//
// # Architecture
//
// The sim package owns the semantics; supporting pieces live in sub-packages:
//   - sim/device/: compute-device binding (context, buffers, programs, work-group dispatch)
//   - sim/sortprim/: the parallel sort primitive used for ordering and sort-as-reduction
//   - sim/trace/: per-round trace records
//   - sim/results/: JSON export and SQLite run history
//
// # Key Interfaces
//
//   - TimeReducer: compute the minimum timestamp over the event array. SortReducer reuses
//     the sort primitive; MinReducer is a dedicated parallel reduction.
//
// Each round is a sequence of blocking launches: reduce the event times to the LBTS,
// stop if it reached the stop time, otherwise mark every LP's earliest event and advance
// the LPs whose eligible event sits exactly at the LBTS.
package sim
