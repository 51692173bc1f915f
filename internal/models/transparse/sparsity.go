package transparse

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/cnclabs/transx/pkg/knowledge"
	"github.com/cnclabs/transx/pkg/vecmath"
)

// Usage counts how heavily each relation is used. The shared variant counts
// triples; the separate variant counts distinct heads and distinct tails.
type Usage struct {
	Triples []int
	Heads   []int
	Tails   []int
}

// CountUsage tallies relation usage over the training set
func CountUsage(triples []knowledge.Triple, numRelations int) Usage {
	stats := knowledge.ComputeRelationStats(triples, numRelations)
	u := Usage{
		Triples: make([]int, numRelations),
		Heads:   make([]int, numRelations),
		Tails:   make([]int, numRelations),
	}
	for r, s := range stats {
		u.Triples[r] = s.Triples
		u.Heads[r] = s.DistinctHeads
		u.Tails[r] = s.DistinctTails
	}
	return u
}

// SparseDegrees returns the per-relation sparse degree
// theta_r = 1 - (1 - theta) * usage_r / max(usage). The most used relation
// gets the floor theta, an unused one gets 1.
func SparseDegrees(usage []int, theta float64) []float64 {
	max := 0
	for _, u := range usage {
		if u > max {
			max = u
		}
	}
	out := make([]float64, len(usage))
	for r, u := range usage {
		ratio := 0.0
		if max > 0 {
			ratio = float64(u) / float64(max)
		}
		out[r] = 1 - (1-theta)*ratio
	}
	return out
}

// OffDiagonalBudget returns how many off-diagonal cells of an n x n matrix
// may be non-zero at sparse degree thetaR: round(thetaR * n^2) minus the
// diagonal, which is always kept. The result is clamped to [0, n^2 - n].
func OffDiagonalBudget(thetaR float64, n int) int {
	nz := int(math.Round(thetaR * float64(n*n)))
	budget := nz - n
	if budget < 0 {
		return 0
	}
	if budget > n*n-n {
		return n*n - n
	}
	return budget
}

// SparseMatrix returns an n x n identity with budget randomly placed
// off-diagonal entries drawn from the uniform initializer, and the row-major
// mask of cells allowed to be non-zero.
func SparseMatrix(rng *rand.Rand, n, budget int) (*mat.Dense, []bool) {
	m := vecmath.IdentityMatrix(n, n)
	mask := make([]bool, n*n)
	for i := 0; i < n; i++ {
		mask[i*n+i] = true
	}

	offDiagonal := make([]int, 0, n*n-n)
	for cell := 0; cell < n*n; cell++ {
		if cell/n != cell%n {
			offDiagonal = append(offDiagonal, cell)
		}
	}
	rng.Shuffle(len(offDiagonal), func(i, j int) {
		offDiagonal[i], offDiagonal[j] = offDiagonal[j], offDiagonal[i]
	})
	for _, cell := range offDiagonal[:budget] {
		m.Set(cell/n, cell%n, vecmath.InitialUnif(rng, n))
		mask[cell] = true
	}
	return m, mask
}
