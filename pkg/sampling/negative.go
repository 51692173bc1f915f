// Package sampling draws mini-batches and corrupted (negative) triples.
//
// Every Corruptor replaces exactly one of head or tail with a uniformly drawn
// entity id different from the original. Callers must guarantee more than one
// entity; with a single entity the redraw loop cannot terminate.
package sampling

import (
	"math/rand"

	"github.com/cnclabs/transx/pkg/knowledge"
)

// Pair couples a training triple with its corrupted counterpart.
// Index is the position of Pos in the training set.
type Pair struct {
	Index int
	Pos   knowledge.Triple
	Neg   knowledge.Triple
}

// Corruptor produces one corrupted triple per input triple
type Corruptor interface {
	Corrupt(t knowledge.Triple, rng *rand.Rand) knowledge.Triple
}

// Policy names a corruption policy
type Policy string

const (
	PolicyUniform   Policy = "unif"
	PolicyBernoulli Policy = "bern"
)

// Uniform corrupts the head or the tail with probability 1/2 each
type Uniform struct {
	NumEntities int
}

// Corrupt implements Corruptor
func (u Uniform) Corrupt(t knowledge.Triple, rng *rand.Rand) knowledge.Triple {
	if rng.Intn(2) == 0 {
		t.Head = redraw(t.Head, u.NumEntities, rng)
	} else {
		t.Tail = redraw(t.Tail, u.NumEntities, rng)
	}
	return t
}

// Bernoulli corrupts the head of a relation with probability tph/(tph+hpt),
// so one-to-many relations mostly replace the head and many-to-one relations
// mostly replace the tail.
type Bernoulli struct {
	NumEntities int
	headProb    []float64
}

// NewBernoulli precomputes per-relation head-corruption probabilities from the training set
func NewBernoulli(triples []knowledge.Triple, numEntities, numRelations int) *Bernoulli {
	stats := knowledge.ComputeRelationStats(triples, numRelations)
	probs := make([]float64, numRelations)
	for r, s := range stats {
		tph, hpt := s.TailsPerHead(), s.HeadsPerTail()
		if tph+hpt == 0 {
			probs[r] = 0.5
			continue
		}
		probs[r] = tph / (tph + hpt)
	}
	return &Bernoulli{NumEntities: numEntities, headProb: probs}
}

// HeadProbability returns the probability of corrupting the head for relation r
func (b *Bernoulli) HeadProbability(r int) float64 {
	if r < 0 || r >= len(b.headProb) {
		return 0.5
	}
	return b.headProb[r]
}

// Corrupt implements Corruptor
func (b *Bernoulli) Corrupt(t knowledge.Triple, rng *rand.Rand) knowledge.Triple {
	if rng.Float64() < b.HeadProbability(t.Relation) {
		t.Head = redraw(t.Head, b.NumEntities, rng)
	} else {
		t.Tail = redraw(t.Tail, b.NumEntities, rng)
	}
	return t
}

// NewCorruptor builds the corruptor for a policy name; unknown names fall back to Uniform
func NewCorruptor(p Policy, triples []knowledge.Triple, numEntities, numRelations int) Corruptor {
	if p == PolicyBernoulli {
		return NewBernoulli(triples, numEntities, numRelations)
	}
	return Uniform{NumEntities: numEntities}
}

// CorruptBatch pairs every sampled triple with one corruption
func CorruptBatch(c Corruptor, triples []knowledge.Triple, indices []int, rng *rand.Rand) []Pair {
	pairs := make([]Pair, len(indices))
	for i, idx := range indices {
		pos := triples[idx]
		pairs[i] = Pair{Index: idx, Pos: pos, Neg: c.Corrupt(pos, rng)}
	}
	return pairs
}

func redraw(original, n int, rng *rand.Rand) int {
	id := rng.Intn(n)
	for id == original {
		id = rng.Intn(n)
	}
	return id
}
