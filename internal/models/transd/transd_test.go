package transd

import (
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

func scoreOf(h, hp, r, rp, t, tp []float64) float64 {
	return vecmath.DistanceL2(project(h, hp, rp), r, project(t, tp, rp))
}

func TestProjectHandlesBothDimensionOrders(t *testing.T) {
	e := []float64{1, 2}
	ep := []float64{1, 0} // a = 1

	// m > n: trailing coordinates only carry the r_p term
	assert.Equal(t, []float64{1.5, 2.5, 0.5}, project(e, ep, []float64{0.5, 0.5, 0.5}))
	// m < n: trailing entity coordinates are dropped
	assert.Equal(t, []float64{3}, project([]float64{1, 2, 7}, []float64{1, 0, 0}, []float64{2}))
}

func TestGradientsMatchFiniteDifferences(t *testing.T) {
	for _, dims := range [][2]int{{3, 5}, {4, 4}, {5, 3}} {
		n, m := dims[0], dims[1]
		rng := rand.New(rand.NewSource(int64(n*10 + m)))
		h, hp := vecmath.InitUnitVector(rng, n), vecmath.InitUnitVector(rng, n)
		tl, tp := vecmath.InitUnitVector(rng, n), vecmath.InitUnitVector(rng, n)
		r, rp := vecmath.InitUnitVector(rng, m), vecmath.InitUnitVector(rng, m)

		got := gradients(vecmath.L2, h, hp, r, rp, tl, tp)

		assert.InDeltaSlice(t, numericGrad(func(x []float64) float64 { return scoreOf(x, hp, r, rp, tl, tp) }, h), got.h, 1e-5)
		assert.InDeltaSlice(t, numericGrad(func(x []float64) float64 { return scoreOf(h, x, r, rp, tl, tp) }, hp), got.hp, 1e-5)
		assert.InDeltaSlice(t, numericGrad(func(x []float64) float64 { return scoreOf(h, hp, x, rp, tl, tp) }, r), got.r, 1e-5)
		assert.InDeltaSlice(t, numericGrad(func(x []float64) float64 { return scoreOf(h, hp, r, x, tl, tp) }, rp), got.rp, 1e-5)
		assert.InDeltaSlice(t, numericGrad(func(x []float64) float64 { return scoreOf(h, hp, r, rp, x, tp) }, tl), got.t, 1e-5)
		assert.InDeltaSlice(t, numericGrad(func(x []float64) float64 { return scoreOf(h, hp, r, rp, tl, x) }, tp), got.tp, 1e-5)
	}
}

func dataset() *trainer.Dataset {
	return &trainer.Dataset{
		Train: []knowledge.Triple{
			{Head: 0, Relation: 0, Tail: 1},
			{Head: 1, Relation: 0, Tail: 2},
			{Head: 2, Relation: 1, Tail: 0},
			{Head: 3, Relation: 1, Tail: 1},
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
	td := New(Options{RelationDim: 5})
	data := dataset()
	data.Dev = data.Train
	_, err := trainer.Learn(trainer.NewContext(3), td, data, hyper())
	require.NoError(t, err)

	assert.Equal(t, 3, td.entities.Dim())
	assert.Equal(t, 5, td.relations.Dim())
	assertUnitRows(t, td.entities)
	assertUnitRows(t, td.entityProjections)
	assertUnitRows(t, td.relations)
	assertUnitRows(t, td.relationProjections)
}

func TestRelationDimDefaultsToEntityDim(t *testing.T) {
	td := New(Options{})
	require.NoError(t, td.Init(trainer.NewContext(1), dataset(), hyper()))
	assert.Equal(t, 3, td.relationProjections.Dim())
}

func TestUpdateDescendsHingeLoss(t *testing.T) {
	td := New(Options{RelationDim: 4})
	require.NoError(t, td.Init(trainer.NewContext(8), dataset(), hyper()))

	p := sampling.Pair{
		Pos: knowledge.Triple{Head: 0, Relation: 0, Tail: 1},
		Neg: knowledge.Triple{Head: 3, Relation: 0, Tail: 1},
	}
	pos, neg := td.PairScores(p)
	td.Update(p, 1e-4)
	assert.Equal(t, pos, td.Score(p.Pos))
	td.Commit()
	pos2, neg2 := td.PairScores(p)
	assert.Less(t, pos2-neg2, pos-neg)
}

func TestExport(t *testing.T) {
	td := New(Options{RelationDim: 4})
	data := dataset()
	require.NoError(t, td.Init(trainer.NewContext(1), data, hyper()))
	export := td.Export(data.Vocabulary)
	for _, name := range []string{"entity", "entity_projection", "relation", "relation_projection"} {
		_, ok := export.Table(name)
		assert.True(t, ok, name)
	}
	rp, _ := export.Table("relation_projection")
	assert.Len(t, rp.Vectors[0], 4)
}
