// Package ntime implements the network-adjusted-time filter that defends a
// node's clock against a skewed or hostile peer: every VERSION handshake
// contributes one timestamp-offset sample, and the filter's median — not any
// single peer's claim — is what the rest of the daemon may trust.
package ntime

import (
	"sort"
	"sync"
)

// MaxTimeAdjustment bounds how far the network may move the local clock: a
// computed median outside ±70 minutes is distrusted entirely.
const MaxTimeAdjustment = 70 * 60 // seconds

// MaxSamples bounds the filter's window, matching the source's
// CMedianFilter size.
const MaxSamples = 200

// Filter accumulates one offset sample per distinct peer source and exposes
// the network time offset implied by their median.
type Filter struct {
	mu      sync.Mutex
	values  []int64
	sources map[string]struct{}
	offset  int64
}

// New returns an empty Filter, seeded with the source's initial zero value
// so an early, small sample set still has a defined median.
func New() *Filter {
	return &Filter{
		values:  []int64{0},
		sources: make(map[string]struct{}),
	}
}

// Add contributes one offset sample (in seconds) attributed to source,
// ignoring duplicate sources and samples once MaxSamples distinct sources
// have already been recorded. Negative offsets are clamped to zero before
// any arithmetic, per design: a peer claiming to be behind us must never
// pull the computed offset negative.
func (f *Filter) Add(source string, offsetSeconds int64) {
	if offsetSeconds < 0 {
		offsetSeconds = 0
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.sources) >= MaxSamples {
		return
	}
	if _, dup := f.sources[source]; dup {
		return
	}
	f.sources[source] = struct{}{}

	if len(f.values) == MaxSamples {
		f.values = f.values[1:]
	}
	f.values = append(f.values, offsetSeconds)

	// Matches the source's update condition exactly: only recompute once
	// there are at least 5 samples and the count is odd.
	if len(f.values) >= 5 && len(f.values)%2 == 1 {
		median := medianOf(f.values)
		if median >= -MaxTimeAdjustment && median <= MaxTimeAdjustment {
			f.offset = median
		} else {
			f.offset = 0
		}
	}
}

// Offset returns the current trusted network time offset, in seconds.
func (f *Filter) Offset() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offset
}

func medianOf(values []int64) int64 {
	sorted := append([]int64(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
