package transh

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/cnclabs/transx/pkg/embedding"
	"github.com/cnclabs/transx/pkg/knowledge"
	"github.com/cnclabs/transx/pkg/sampling"
	"github.com/cnclabs/transx/pkg/trainer"
	"github.com/cnclabs/transx/pkg/vecmath"
)

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
	rng := rand.New(rand.NewSource(1))
	const k = 4
	h := vecmath.InitUnitVector(rng, k)
	r := vecmath.InitUnitVector(rng, k)
	tl := vecmath.InitUnitVector(rng, k)
	n := vecmath.InitUnitVector(rng, k)

	dh, dt, dr, dn := gradients(vecmath.L2, h, r, tl, n)

	assert.InDeltaSlice(t, numericGrad(func(x []float64) float64 { return score(vecmath.L2, x, r, tl, n) }, h), dh, 1e-5)
	assert.InDeltaSlice(t, numericGrad(func(x []float64) float64 { return score(vecmath.L2, h, r, x, n) }, tl), dt, 1e-5)
	assert.InDeltaSlice(t, numericGrad(func(x []float64) float64 { return score(vecmath.L2, h, x, tl, n) }, r), dr, 1e-5)
	assert.InDeltaSlice(t, numericGrad(func(x []float64) float64 { return score(vecmath.L2, h, r, tl, x) }, n), dn, 1e-5)
}

func TestScoreUsesHyperplaneProjection(t *testing.T) {
	// normal along the first axis: first coordinates are projected away
	n := []float64{1, 0}
	h := []float64{0.8, 0.6}
	tl := []float64{-0.8, 0.6}
	r := []float64{0, 0}
	assert.InDelta(t, 0, score(vecmath.L2, h, r, tl, n), 1e-12)
	assert.InDelta(t, 0, score(vecmath.L1, h, r, tl, n), 1e-12)
}

func dataset() *trainer.Dataset {
	return &trainer.Dataset{
		Train: []knowledge.Triple{
			{Head: 0, Relation: 0, Tail: 1},
			{Head: 1, Relation: 0, Tail: 2},
			{Head: 2, Relation: 1, Tail: 3},
			{Head: 3, Relation: 1, Tail: 0},
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
	h.Dim = 3
	h.BatchSize = 2
	h.Epochs = 10
	return h
}

func assertUnitRows(t *testing.T, tb *embedding.Table) {
	t.Helper()
	for i := 0; i < tb.Rows(); i++ {
		assert.InDelta(t, 1.0, floats.Norm(tb.Row(i), 2), 1e-9, "row %d", i)
	}
}

func TestLearnKeepsUnitNorms(t *testing.T) {
	for _, policy := range []sampling.Policy{sampling.PolicyUniform, sampling.PolicyBernoulli} {
		th := New(Options{C: 0.25})
		h := hyper()
		h.Policy = policy
		data := dataset()
		data.Dev = data.Train
		summary, err := trainer.Learn(trainer.NewContext(9), th, data, h)
		require.NoError(t, err)
		assert.Len(t, summary.Accuracy, 10)

		assertUnitRows(t, th.entities)
		assertUnitRows(t, th.relations)
		assertUnitRows(t, th.normals)
	}
}

func TestUpdateDescendsHingeLoss(t *testing.T) {
	th := New(Options{C: 0})
	require.NoError(t, th.Init(trainer.NewContext(4), dataset(), hyper()))

	p := sampling.Pair{
		Pos: knowledge.Triple{Head: 0, Relation: 0, Tail: 1},
		Neg: knowledge.Triple{Head: 0, Relation: 0, Tail: 3},
	}
	pos, neg := th.PairScores(p)
	th.Update(p, 1e-4)
	assert.Equal(t, pos, th.Score(p.Pos), "reads come from the committed snapshot")
	th.Commit()
	pos2, neg2 := th.PairScores(p)
	assert.Less(t, pos2-neg2, pos-neg)
}

func TestOrthogonalityPenalty(t *testing.T) {
	// identical positive and negative cancel the hinge gradient, leaving only the penalty
	same := knowledge.Triple{Head: 0, Relation: 0, Tail: 1}
	p := sampling.Pair{Pos: same, Neg: same}

	t.Run("applied when not orthogonal", func(t *testing.T) {
		th := New(Options{C: 1})
		require.NoError(t, th.Init(trainer.NewContext(2), dataset(), hyper()))
		th.relations.Set(0, vecmath.Norm([]float64{1, 1, 0}))
		th.normals.Set(0, []float64{1, 0, 0})
		before := math.Abs(vecmath.Dot(th.relations.Row(0), th.normals.Row(0)))

		th.Update(p, 0.1)
		th.Commit()
		after := math.Abs(vecmath.Dot(th.relations.Row(0), th.normals.Row(0)))
		assert.Less(t, after, before)
	})

	t.Run("skipped when orthogonal", func(t *testing.T) {
		th := New(Options{C: 1})
		require.NoError(t, th.Init(trainer.NewContext(2), dataset(), hyper()))
		th.relations.Set(0, []float64{0, 1, 0})
		th.normals.Set(0, []float64{1, 0, 0})

		th.Update(p, 0.1)
		th.Commit()
		assert.InDeltaSlice(t, []float64{0, 1, 0}, th.relations.Row(0), 1e-12)
		assert.InDeltaSlice(t, []float64{1, 0, 0}, th.normals.Row(0), 1e-12)
	})
}

func TestExportIncludesNormals(t *testing.T) {
	th := New(Options{C: 0.1})
	data := dataset()
	require.NoError(t, th.Init(trainer.NewContext(1), data, hyper()))
	export := th.Export(data.Vocabulary)
	normals, ok := export.Table("normal")
	require.True(t, ok)
	assert.Equal(t, []string{"r0", "r1"}, normals.Keys)
	assert.Len(t, normals.Vectors[0], 3)
}
