package resolved

import (
	"sync"

	bitsbloom "github.com/bits-and-blooms/bloom/v3"
)

// seenFilter wraps bits-and-blooms BloomFilter with a mutex. Reads and
// writes interleave from concurrent observer invocations, and the underlying
// filter is not safe for that on its own.
type seenFilter struct {
	mu sync.RWMutex
	bf *bitsbloom.BloomFilter
}

// NewSeenFilter sizes a Bloom filter for n expected names at the given
// false-positive rate.
func NewSeenFilter(n uint, fpRate float64) SeenFilter {
	return &seenFilter{bf: bitsbloom.NewWithEstimates(n, fpRate)}
}

func (f *seenFilter) Add(key []byte) {
	f.mu.Lock()
	f.bf.Add(key)
	f.mu.Unlock()
}

func (f *seenFilter) MightContain(key []byte) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.bf.Test(key)
}
