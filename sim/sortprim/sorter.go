// Package sortprim provides the parallel sort primitive used by the simulator for both
// true sorting (events ordered by LP then time) and degenerate reduction (minimum via
// sort-and-take-first).
//
// The calling protocol mirrors a device sort library: Push a buffer of keys (optionally
// with a uint32 payload per key), Sort, then Pop the ordered keys and payloads back out.
// Scratch memory is sized once at construction; pushing more keys than the scratch can
// hold fails with ErrScratchUndersized.
package sortprim

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/exp/constraints"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrScratchUndersized is returned when a push exceeds the scratch capacity fixed at construction.
	ErrScratchUndersized = errors.New("sort scratch memory undersized")
	// ErrNotSorted is returned by Pop before Sort has completed for the pushed data.
	ErrNotSorted = errors.New("pop before sort")
	// ErrShortBuffer is returned by Pop when a destination cannot hold the pushed data.
	ErrShortBuffer = errors.New("destination buffer too short")
	// ErrInvalidKey is returned when a pushed key is unordered (NaN).
	ErrInvalidKey = errors.New("unordered key")
)

// minChunk is the smallest run handed to a single worker before merging.
const minChunk = 4096

type entry[K constraints.Ordered] struct {
	key     K
	payload uint32
}

// Sorter is a stable, parallel sort over ordered scalar keys.
// Not safe for concurrent use; one Sorter serves one caller at a time.
type Sorter[K constraints.Ordered] struct {
	capacity int
	workers  int

	data    []entry[K]
	scratch []entry[K]
	n       int

	sorted bool
}

// NewSorter allocates a Sorter able to hold capacity keys, merging with at most
// workers goroutines (workers < 1 means 1).
func NewSorter[K constraints.Ordered](capacity, workers int) (*Sorter[K], error) {
	if capacity < 0 {
		return nil, fmt.Errorf("sorter capacity must be >= 0, got %d", capacity)
	}
	if workers < 1 {
		workers = 1
	}
	return &Sorter[K]{
		capacity: capacity,
		workers:  workers,
		data:     make([]entry[K], capacity),
		scratch:  make([]entry[K], capacity),
	}, nil
}

// Capacity returns the number of keys the scratch memory can hold.
func (s *Sorter[K]) Capacity() int { return s.capacity }

// Len returns the number of keys currently pushed.
func (s *Sorter[K]) Len() int { return s.n }

// Push replaces the sorter contents with keys. Payloads are set to the key's index,
// so a popped payload names the key's original position.
func (s *Sorter[K]) Push(keys []K) error {
	if err := s.load(keys); err != nil {
		return err
	}
	for i := range keys {
		s.data[i].payload = uint32(i)
	}
	return nil
}

// PushWithPayload replaces the sorter contents with keys carrying the matching payload.
func (s *Sorter[K]) PushWithPayload(keys []K, payload []uint32) error {
	if len(payload) != len(keys) {
		return fmt.Errorf("payload length %d does not match key count %d", len(payload), len(keys))
	}
	if err := s.load(keys); err != nil {
		return err
	}
	for i, p := range payload {
		s.data[i].payload = p
	}
	return nil
}

func (s *Sorter[K]) load(keys []K) error {
	if len(keys) > s.capacity {
		return fmt.Errorf("push %d keys into scratch of %d: %w", len(keys), s.capacity, ErrScratchUndersized)
	}
	for i, k := range keys {
		if k != k {
			return fmt.Errorf("key %d: %w", i, ErrInvalidKey)
		}
		s.data[i].key = k
	}
	s.n = len(keys)
	s.sorted = false
	return nil
}

// Sort orders the pushed keys ascending. Equal keys keep their push order.
// Runs are sorted independently, then merged pairwise in parallel passes.
func (s *Sorter[K]) Sort(ctx context.Context) error {
	n := s.n
	if n <= 1 {
		s.sorted = true
		return nil
	}
	chunk := max(minChunk, (n+s.workers-1)/s.workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for lo := 0; lo < n; lo += chunk {
		run := s.data[lo:min(lo+chunk, n)]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			slices.SortStableFunc(run, compareEntries[K])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("sort runs: %w", err)
	}

	src, dst := s.data, s.scratch
	for width := chunk; width < n; width *= 2 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("merge pass: %w", err)
		}
		var merge errgroup.Group
		merge.SetLimit(s.workers)
		for lo := 0; lo < n; lo += 2 * width {
			mid := min(lo+width, n)
			hi := min(lo+2*width, n)
			merge.Go(func() error {
				mergeRuns(dst[lo:hi], src[lo:mid], src[mid:hi])
				return nil
			})
		}
		if err := merge.Wait(); err != nil {
			return fmt.Errorf("merge pass: %w", err)
		}
		src, dst = dst, src
	}
	if &src[0] != &s.data[0] {
		copy(s.data[:n], src[:n])
	}
	s.sorted = true
	return nil
}

// Pop copies the sorted keys into keys and, when payload is non-nil, the carried
// payloads into payload. It returns the number of entries written.
func (s *Sorter[K]) Pop(keys []K, payload []uint32) (int, error) {
	if !s.sorted {
		return 0, ErrNotSorted
	}
	if keys != nil && len(keys) < s.n {
		return 0, fmt.Errorf("pop %d keys into %d: %w", s.n, len(keys), ErrShortBuffer)
	}
	if payload != nil && len(payload) < s.n {
		return 0, fmt.Errorf("pop %d payloads into %d: %w", s.n, len(payload), ErrShortBuffer)
	}
	for i := 0; i < s.n; i++ {
		if keys != nil {
			keys[i] = s.data[i].key
		}
		if payload != nil {
			payload[i] = s.data[i].payload
		}
	}
	return s.n, nil
}

// First returns the smallest key after Sort. This is the reduction use of the primitive.
func (s *Sorter[K]) First() (K, error) {
	var zero K
	if !s.sorted {
		return zero, ErrNotSorted
	}
	if s.n == 0 {
		return zero, errors.New("first of empty sorter")
	}
	return s.data[0].key, nil
}

func compareEntries[K constraints.Ordered](a, b entry[K]) int {
	switch {
	case a.key < b.key:
		return -1
	case a.key > b.key:
		return 1
	}
	return 0
}

// mergeRuns merges sorted left and right into dst, taking from left on ties.
func mergeRuns[K constraints.Ordered](dst, left, right []entry[K]) {
	i, j, k := 0, 0, 0
	for i < len(left) && j < len(right) {
		if right[j].key < left[i].key {
			dst[k] = right[j]
			j++
		} else {
			dst[k] = left[i]
			i++
		}
		k++
	}
	k += copy(dst[k:], left[i:])
	copy(dst[k:], right[j:])
}
