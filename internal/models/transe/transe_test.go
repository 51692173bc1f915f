package transe

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

// A knows B, B knows C
func knowsDataset() *trainer.Dataset {
	return &trainer.Dataset{
		Train: []knowledge.Triple{
			{Head: 0, Relation: 0, Tail: 1},
			{Head: 1, Relation: 0, Tail: 2},
		},
		NumEntities:  3,
		NumRelations: 1,
		Vocabulary: trainer.Vocabulary{
			Entities:  []string{"A", "B", "C"},
			Relations: []string{"knows"},
		},
	}
}

func knowsHyper() trainer.Hyperparameters {
	return trainer.Hyperparameters{
		Dim:          2,
		Margin:       1.0,
		LearningRate: 0.01,
		BatchSize:    2,
		Epochs:       5,
		Norm:         vecmath.L2,
		Policy:       sampling.PolicyUniform,
	}
}

// nextTail always corrupts the tail to the following entity id
type nextTail struct{ n int }

func (c nextTail) Corrupt(t knowledge.Triple, _ *rand.Rand) knowledge.Triple {
	t.Tail = (t.Tail + 1) % c.n
	return t
}

func assertUnitRows(t *testing.T, tb *embedding.Table) {
	t.Helper()
	for i := 0; i < tb.Rows(); i++ {
		assert.InDelta(t, 1.0, floats.Norm(tb.Row(i), 2), 1e-9, "row %d", i)
	}
}

func TestHingeLossTrendsDownOnFixedNegatives(t *testing.T) {
	ctx := trainer.NewContext(42)
	ctx.Corruptor = nextTail{n: 3}

	te := New()
	summary, err := trainer.Learn(ctx, te, knowsDataset(), knowsHyper())
	require.NoError(t, err)

	// one full batch per epoch against fixed negatives: each epoch's loss is
	// the hinge objective at the start of that epoch
	require.Len(t, summary.Losses, 5)
	assert.LessOrEqual(t, summary.Losses[4], summary.Losses[0])
	assert.Equal(t, 5, len(summary.Updates))
}

func TestTrainedVectorsHaveUnitNorm(t *testing.T) {
	for _, norm := range []vecmath.Metric{vecmath.L1, vecmath.L2} {
		t.Run(norm.String(), func(t *testing.T) {
			ctx := trainer.NewContext(7)
			hyper := knowsHyper()
			hyper.Norm = norm
			hyper.Epochs = 20

			data := knowsDataset()
			data.Dev = data.Train
			te := New()
			var reports []trainer.EpochReport
			ctx.Reporter = trainer.ReporterFunc(func(r trainer.EpochReport) {
				reports = append(reports, r)
				assertUnitRows(t, te.entities)
				assertUnitRows(t, te.relations)
			})
			_, err := trainer.Learn(ctx, te, data, hyper)
			require.NoError(t, err)

			require.Len(t, reports, 20)
			for _, r := range reports {
				assert.True(t, r.HasAccuracy)
			}
			assertUnitRows(t, te.entities)
			assertUnitRows(t, te.relations)
		})
	}
}

func TestUpdateReadsSnapshotUntilCommit(t *testing.T) {
	te := New()
	ctx := trainer.NewContext(3)
	require.NoError(t, te.Init(ctx, knowsDataset(), knowsHyper()))

	p := sampling.Pair{
		Pos: knowledge.Triple{Head: 0, Relation: 0, Tail: 1},
		Neg: knowledge.Triple{Head: 0, Relation: 0, Tail: 2},
	}
	pos, neg := te.PairScores(p)
	te.Update(p, 0.1)

	pos2, neg2 := te.PairScores(p)
	assert.Equal(t, pos, pos2, "staged writes must not leak into reads")
	assert.Equal(t, neg, neg2)

	te.Commit()
	pos3, _ := te.PairScores(p)
	assert.NotEqual(t, pos, pos3)
	assertUnitRows(t, te.entities)
	assertUnitRows(t, te.relations)
}

func TestUpdateDescendsHingeLoss(t *testing.T) {
	te := New()
	require.NoError(t, te.Init(trainer.NewContext(11), knowsDataset(), knowsHyper()))

	p := sampling.Pair{
		Pos: knowledge.Triple{Head: 0, Relation: 0, Tail: 1},
		Neg: knowledge.Triple{Head: 0, Relation: 0, Tail: 2},
	}
	pos, neg := te.PairScores(p)
	te.Update(p, 1e-4)
	te.Commit()
	pos2, neg2 := te.PairScores(p)
	assert.Less(t, pos2-neg2, pos-neg)
}

func TestExportAndTables(t *testing.T) {
	te := New()
	data := knowsDataset()
	require.NoError(t, te.Init(trainer.NewContext(5), data, knowsHyper()))

	export := te.Export(data.Vocabulary)
	assert.Equal(t, "TransE", export.Model)
	ent, ok := export.Table("entity")
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B", "C"}, ent.Keys)
	assert.Equal(t, te.entities.Vector(1), ent.Vectors[1])
	rel, ok := export.Table("relation")
	require.True(t, ok)
	assert.Equal(t, []string{"knows"}, rel.Keys)

	pre := te.Tables()
	require.NoError(t, pre.Check(data, 2))
	pre.Entities.Set(0, []float64{9, 9})
	assert.NotEqual(t, []float64{9, 9}, te.entities.Row(0), "tables must be copies")
}

func TestPredict(t *testing.T) {
	kg := knowledge.NewKnowledgeGraph()
	kg.AddTriple("A", "knows", "B")
	kg.AddTriple("B", "knows", "C")

	te := New()
	_, err := trainer.Learn(trainer.NewContext(2), te, trainer.FromGraph(kg, nil), knowsHyper())
	require.NoError(t, err)

	score, err := trainer.Predict(kg, te, "A", "knows", "B")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, score, 0.0)
	_, err = trainer.Predict(kg, te, "A", "hates", "B")
	assert.ErrorIs(t, err, knowledge.ErrUnknownRelation)
}
