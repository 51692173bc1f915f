package transparse

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cnclabs/transx/internal/models/transe"
	"github.com/cnclabs/transx/pkg/embedding"
	"github.com/cnclabs/transx/pkg/knowledge"
	"github.com/cnclabs/transx/pkg/sampling"
	"github.com/cnclabs/transx/pkg/trainer"
	"github.com/cnclabs/transx/pkg/vecmath"
)

func TestSparseDegrees(t *testing.T) {
	got := SparseDegrees([]int{3, 1, 0}, 0.2)
	assert.InDeltaSlice(t, []float64{0.2, 1 - 0.8/3, 1}, got, 1e-12)
	assert.Equal(t, []float64{1, 1}, SparseDegrees([]int{0, 0}, 0.5), "no usage at all")
}

func TestOffDiagonalBudget(t *testing.T) {
	assert.Equal(t, 9, OffDiagonalBudget(0.8, 4))   // round(12.8) - 4
	assert.Equal(t, 12, OffDiagonalBudget(1, 4))    // dense
	assert.Equal(t, 0, OffDiagonalBudget(0.2, 4))   // round(3.2) = 3 < n
	assert.Equal(t, 0, OffDiagonalBudget(0, 4))     // diagonal only
	assert.Equal(t, 12, OffDiagonalBudget(1.5, 4))  // capped
	assert.Equal(t, 20, OffDiagonalBudget(0.3, 10)) // round(30) - 10
	assert.Equal(t, 83, OffDiagonalBudget(0.93, 10))
}

func TestSparseMatrix(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	const n, budget = 5, 7
	m, mask := SparseMatrix(rng, n, budget)

	allowed := 0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			cell := i*n + j
			if mask[cell] {
				allowed++
			}
			switch {
			case i == j:
				assert.True(t, mask[cell])
				assert.Equal(t, 1.0, m.At(i, j))
			case !mask[cell]:
				assert.Zero(t, m.At(i, j))
			default:
				bound := 6 / math.Sqrt(n)
				assert.True(t, m.At(i, j) > -bound && m.At(i, j) < bound)
			}
		}
	}
	assert.Equal(t, n+budget, allowed)
}

func TestCountUsage(t *testing.T) {
	u := CountUsage([]knowledge.Triple{
		{Head: 0, Relation: 0, Tail: 1},
		{Head: 0, Relation: 0, Tail: 2},
		{Head: 1, Relation: 1, Tail: 2},
	}, 3)
	assert.Equal(t, []int{2, 1, 0}, u.Triples)
	assert.Equal(t, []int{1, 1, 0}, u.Heads)
	assert.Equal(t, []int{2, 1, 0}, u.Tails)
}

func numericGrad(f func([]float64) float64, x []float64) []float64 {
	const h = 1e-6
	g := make([]float64, len(x))
	for i := range x {
		orig := x[i]
		x[i] = orig + h
		up := f(x)
		x[i] = orig - h
		down := f(x)
		x[i] = orig
		g[i] = (up - down) / (2 * h)
	}
	return g
}

func TestGradientsMatchFiniteDifferences(t *testing.T) {
	const n = 4
	rng := rand.New(rand.NewSource(9))
	h, r, tl := vecmath.InitUnitVector(rng, n), vecmath.InitUnitVector(rng, n), vecmath.InitUnitVector(rng, n)
	mh, _ := SparseMatrix(rng, n, 6)
	mt, _ := SparseMatrix(rng, n, 3)

	score := func(h, r, t []float64, mh, mt mat.Matrix) float64 {
		e := residual(h, r, t, mh, mt)
		return floats.Dot(e, e)
	}
	got := gradients(vecmath.L2, h, r, tl, mh, mt)

	assert.InDeltaSlice(t, numericGrad(func(x []float64) float64 { return score(x, r, tl, mh, mt) }, h), got.h, 1e-5)
	assert.InDeltaSlice(t, numericGrad(func(x []float64) float64 { return score(h, r, x, mh, mt) }, tl), got.t, 1e-5)
	assert.InDeltaSlice(t, numericGrad(func(x []float64) float64 { return score(h, x, tl, mh, mt) }, r), got.r, 1e-5)

	dMh := mat.NewDense(n, n, nil)
	vecmath.AddOuter(dMh, 1, got.r, h, nil)
	rawH := mat.DenseCopyOf(mh).RawMatrix().Data
	assert.InDeltaSlice(t,
		numericGrad(func(x []float64) float64 { return score(h, r, tl, mat.NewDense(n, n, x), mt) }, rawH),
		dMh.RawMatrix().Data, 1e-5)

	dMt := mat.NewDense(n, n, nil)
	vecmath.AddOuter(dMt, -1, got.r, tl, nil)
	rawT := mat.DenseCopyOf(mt).RawMatrix().Data
	assert.InDeltaSlice(t,
		numericGrad(func(x []float64) float64 { return score(h, r, tl, mh, mat.NewDense(n, n, x)) }, rawT),
		dMt.RawMatrix().Data, 1e-5)
}

func dataset() *trainer.Dataset {
	return &trainer.Dataset{
		Train: []knowledge.Triple{
			{Head: 0, Relation: 0, Tail: 1},
			{Head: 1, Relation: 0, Tail: 2},
			{Head: 2, Relation: 0, Tail: 3},
			{Head: 3, Relation: 0, Tail: 0},
			{Head: 0, Relation: 1, Tail: 2},
			{Head: 1, Relation: 1, Tail: 2},
		},
		NumEntities:  4,
		NumRelations: 2,
		Vocabulary: trainer.Vocabulary{
			Entities:  []string{"a", "b", "c", "d"},
			Relations: []string{"r0", "r1"},
		},
	}
}

func hyper() trainer.Hyperparameters {
	h := trainer.DefaultHyperparameters()
	h.Dim = 4
	h.BatchSize = 3
	h.Epochs = 8
	return h
}

func assertUnitRows(t *testing.T, tb *embedding.Table) {
	t.Helper()
	for i := 0; i < tb.Rows(); i++ {
		assert.InDelta(t, 1.0, floats.Norm(tb.Row(i), 2), 1e-9, "row %d", i)
	}
}

func assertPatternKept(t *testing.T, mt *embedding.MatrixTable, masks [][]bool) {
	t.Helper()
	for r := 0; r < mt.Len(); r++ {
		m := mt.At(r)
		n, _ := m.Dims()
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if !masks[r][i*n+j] {
					assert.Zero(t, m.At(i, j), "relation %d cell (%d,%d)", r, i, j)
				}
			}
		}
	}
}

func TestLearnShared(t *testing.T) {
	ts := New(Options{Theta: 0.3})
	data := dataset()
	data.Dev = data.Train
	_, err := trainer.Learn(trainer.NewContext(2), ts, data, hyper())
	require.NoError(t, err)

	assert.Same(t, ts.heads, ts.tails)
	assertUnitRows(t, ts.entities)
	assertUnitRows(t, ts.relations)
	assertPatternKept(t, ts.heads, ts.headMasks)

	// relation 0 is used most, so it sits at the floor theta and gets the
	// smallest budget: round(0.3*16) = 5 cells against round(0.65*16) = 10
	count := func(mask []bool) int {
		c := 0
		for _, b := range mask {
			if b {
				c++
			}
		}
		return c
	}
	assert.Equal(t, 5, count(ts.headMasks[0]))
	assert.Equal(t, 10, count(ts.headMasks[1]))

	export := ts.Export(data.Vocabulary)
	require.Len(t, export.Matrices, 1)
	assert.Equal(t, "matrix", export.Matrices[0].Name)
}

func TestLearnSeparate(t *testing.T) {
	for _, norm := range []vecmath.Metric{vecmath.L1, vecmath.L2} {
		ts := New(Options{Theta: 0.1, Separate: true})
		h := hyper()
		h.Norm = norm
		h.Policy = sampling.PolicyBernoulli
		_, err := trainer.Learn(trainer.NewContext(5), ts, dataset(), h)
		require.NoError(t, err)

		assert.NotSame(t, ts.heads, ts.tails)
		assertUnitRows(t, ts.entities)
		assertUnitRows(t, ts.relations)
		assertPatternKept(t, ts.heads, ts.headMasks)
		assertPatternKept(t, ts.tails, ts.tailMasks)
		assert.Equal(t, "TranSparse-separate", ts.Name())

		export := ts.Export(dataset().Vocabulary)
		require.Len(t, export.Matrices, 2)
		assert.Equal(t, "head_matrix", export.Matrices[0].Name)
		assert.Equal(t, "tail_matrix", export.Matrices[1].Name)
	}
}

func TestUpdateIsStagedUntilCommit(t *testing.T) {
	ts := New(Options{Theta: 0.5})
	require.NoError(t, ts.Init(trainer.NewContext(1), dataset(), hyper()))
	p := sampling.Pair{
		Pos: knowledge.Triple{Head: 0, Relation: 0, Tail: 1},
		Neg: knowledge.Triple{Head: 0, Relation: 0, Tail: 3},
	}
	pos, _ := ts.PairScores(p)
	ts.Update(p, 0.05)
	assert.Equal(t, pos, ts.Score(p.Pos))
	ts.Commit()
	assert.NotEqual(t, pos, ts.Score(p.Pos))
	assert.InDelta(t, 1.0, vecmath.SpectralNorm(ts.heads.At(0)), 1e-9)
}

func TestInvalidTheta(t *testing.T) {
	ts := New(Options{Theta: 1.5})
	err := ts.Init(trainer.NewContext(1), dataset(), hyper())
	assert.True(t, errors.Is(err, trainer.ErrInvalidHyperparameters))
}

func TestBootstrapFromTransE(t *testing.T) {
	data := dataset()
	te := transe.New()
	_, err := trainer.Learn(trainer.NewContext(1), te, data, hyper())
	require.NoError(t, err)
	pre := te.Tables()

	ts := New(Options{Theta: 0.2, Pretrained: pre})
	require.NoError(t, ts.Init(trainer.NewContext(2), data, hyper()))
	assert.Equal(t, pre.Entities.ToRows(), ts.entities.ToRows())
	assert.Equal(t, pre.Relations.ToRows(), ts.relations.ToRows())
}
