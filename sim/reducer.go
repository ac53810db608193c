package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/inference-sim/phold-sim/sim/sortprim"
)

// Reducer names accepted by Config.Reducer.
const (
	ReducerSort = "sort"
	ReducerMin  = "min"
)

var validReducers = map[string]bool{
	ReducerSort: true,
	ReducerMin:  true,
	"":          true, // empty defaults to sort
}

// IsValidReducer returns true if name is a recognized reducer.
func IsValidReducer(name string) bool {
	return validReducers[name]
}

// ValidReducerNames returns the recognized reducer names, sorted.
func ValidReducerNames() []string {
	names := make([]string, 0, len(validReducers))
	for n := range validReducers {
		if n != "" {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// TimeReducer computes the global lower bound on timestamp: the minimum of times.
// Implementations must return the same value for the same input regardless of
// execution order.
type TimeReducer interface {
	MinTime(ctx context.Context, times []float32) (float32, error)
}

// NewTimeReducer builds the named reducer for inputs of up to capacity timestamps.
func NewTimeReducer(name string, capacity, workers int) (TimeReducer, error) {
	switch name {
	case ReducerSort, "":
		return NewSortReducer(capacity, workers)
	case ReducerMin:
		return NewMinReducer(workers), nil
	default:
		return nil, fmt.Errorf("unknown reducer %q; valid: %v", name, ValidReducerNames())
	}
}

var errEmptyReduction = errors.New("reduce over empty time array")

// SortReducer reduces by sorting the timestamps and taking the first.
type SortReducer struct {
	sorter *sortprim.Sorter[float32]
}

// NewSortReducer sizes the sort scratch for capacity timestamps.
func NewSortReducer(capacity, workers int) (*SortReducer, error) {
	s, err := sortprim.NewSorter[float32](capacity, workers)
	if err != nil {
		return nil, err
	}
	return &SortReducer{sorter: s}, nil
}

// MinTime implements TimeReducer.
func (r *SortReducer) MinTime(ctx context.Context, times []float32) (float32, error) {
	if len(times) == 0 {
		return 0, errEmptyReduction
	}
	if err := r.sorter.Push(times); err != nil {
		return 0, fmt.Errorf("lbts sort push: %w", err)
	}
	if err := r.sorter.Sort(ctx); err != nil {
		return 0, fmt.Errorf("lbts sort: %w", err)
	}
	return r.sorter.First()
}

// MinReducer is a dedicated parallel minimum reduction: each worker reduces a
// contiguous chunk, then the partial minima are reduced on the caller.
type MinReducer struct {
	workers  int
	partials []float32
}

// NewMinReducer creates a reducer using up to workers goroutines.
func NewMinReducer(workers int) *MinReducer {
	workers = max(workers, 1)
	return &MinReducer{workers: workers, partials: make([]float32, workers)}
}

// minReduceChunk is the smallest chunk worth a goroutine.
const minReduceChunk = 1 << 14

// MinTime implements TimeReducer.
func (r *MinReducer) MinTime(ctx context.Context, times []float32) (float32, error) {
	if len(times) == 0 {
		return 0, errEmptyReduction
	}
	chunk := max(minReduceChunk, (len(times)+r.workers-1)/r.workers)
	parts := (len(times) + chunk - 1) / chunk

	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < parts; p++ {
		lo := p * chunk
		hi := min(lo+chunk, len(times))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m := times[lo]
			for _, t := range times[lo+1 : hi] {
				if t < m {
					m = t
				}
			}
			r.partials[p] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("lbts reduce: %w", err)
	}
	m := r.partials[0]
	for _, t := range r.partials[1:parts] {
		if t < m {
			m = t
		}
	}
	return m, nil
}
