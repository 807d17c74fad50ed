// Package sliceutil provides small generic helpers for analyzing slices of
// unknown cardinality: frequency counting and pairwise map construction.
//
// These helpers are independent of the ingestion pipeline and carry no
// database or I/O dependencies.
package sliceutil

import (
	"errors"
	"fmt"
)

// ErrLengthMismatch is returned by PairwiseMap when the key and value slices
// do not have the same length.
var ErrLengthMismatch = errors.New("sliceutil: key and value slices differ in length")

// Frequency is one distinct value and the number of times it occurred.
type Frequency[T comparable] struct {
	Value T
	Count int64
}

// FrequencyCount groups values by equality and returns one (value, count) pair
// per distinct value.
//
// Edge cases:
//   - Empty or nil input returns nil.
//   - Output order is unspecified; callers needing a stable order must sort.
func FrequencyCount[T comparable](values []T) []Frequency[T] {
	if len(values) == 0 {
		return nil
	}

	counts := make(map[T]int64, len(values))
	for _, v := range values {
		counts[v]++
	}

	out := make([]Frequency[T], 0, len(counts))
	for v, n := range counts {
		out = append(out, Frequency[T]{Value: v, Count: n})
	}
	return out
}

// PairwiseMap builds a map from positionally paired slices: keys[i] maps to
// values[i].
//
// Edge cases:
//   - Slices of unequal length fail with ErrLengthMismatch; nothing is built.
//   - Duplicate keys resolve last-writer-wins in slice order; earlier values
//     are silently dropped.
//   - Two empty slices yield an empty, non-nil map.
func PairwiseMap[K comparable, V any](keys []K, values []V) (map[K]V, error) {
	if len(keys) != len(values) {
		return nil, fmt.Errorf("%w: %d keys, %d values", ErrLengthMismatch, len(keys), len(values))
	}

	out := make(map[K]V, len(keys))
	for i, k := range keys {
		out[k] = values[i]
	}
	return out, nil
}
