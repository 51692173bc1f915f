package sampling

import (
	"math/rand"
)

// Batcher draws mini-batches of triple indices without replacement.
// It keeps a reusable index permutation so each draw costs O(size).
type Batcher struct {
	perm []int
}

// NewBatcher prepares a batcher over a training set of n triples
func NewBatcher(n int) *Batcher {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	return &Batcher{perm: perm}
}

// Sample returns size distinct indices in [0, n), uniformly at random.
// The returned slice is only valid until the next call.
func (b *Batcher) Sample(size int, rng *rand.Rand) []int {
	n := len(b.perm)
	if size > n {
		size = n
	}
	// partial Fisher-Yates
	for i := 0; i < size; i++ {
		j := i + rng.Intn(n-i)
		b.perm[i], b.perm[j] = b.perm[j], b.perm[i]
	}
	return b.perm[:size]
}

// BatchCount returns floor(n / batchSize); the remainder is dropped each epoch
func BatchCount(n, batchSize int) int {
	if batchSize <= 0 {
		return 0
	}
	return n / batchSize
}
