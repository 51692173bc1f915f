package transe

import (
	"go.uber.org/zap"

	"github.com/cnclabs/transx/pkg/embedding"
	"github.com/cnclabs/transx/pkg/knowledge"
	"github.com/cnclabs/transx/pkg/sampling"
	"github.com/cnclabs/transx/pkg/trainer"
	"github.com/cnclabs/transx/pkg/vecmath"
)

// TransE implements the TransE (Translating Embeddings) algorithm
// TransE models relations as translations in the embedding space: h + r ≈ t
// where h is head entity, r is relation, t is tail entity
type TransE struct {
	dim  int
	norm vecmath.Metric

	// Embeddings
	entities  *embedding.Table
	relations *embedding.Table
}

// New creates a new TransE instance
func New() *TransE {
	return &TransE{norm: vecmath.L2}
}

// Name implements trainer.Model
func (te *TransE) Name() string { return "TransE" }

// Init draws fresh unit vectors for every entity and relation
func (te *TransE) Init(ctx *trainer.Context, data *trainer.Dataset, hyper trainer.Hyperparameters) error {
	te.dim = hyper.Dim
	te.norm = hyper.Norm
	te.entities = trainer.FreshUnitTable(ctx, data.NumEntities, hyper.Dim)
	te.relations = trainer.FreshUnitTable(ctx, data.NumRelations, hyper.Dim)

	ctx.Logger.Debug("model initialized",
		zap.String("model", te.Name()),
		zap.Int("dimension", te.dim),
		zap.Stringer("norm", te.norm))
	return nil
}

// Score computes the TransE score for a triple: ||h + r - t||
// Lower score = better fit
func (te *TransE) Score(t knowledge.Triple) float64 {
	return vecmath.Distance(te.norm,
		te.entities.Row(t.Head), te.relations.Row(t.Relation), te.entities.Row(t.Tail))
}

// PairScores implements trainer.Model
func (te *TransE) PairScores(p sampling.Pair) (float64, float64) {
	return te.Score(p.Pos), te.Score(p.Neg)
}

// Update moves the positive triple toward h + r = t and the corrupted one away
func (te *TransE) Update(p sampling.Pair, lr float64) {
	embedding.Checkpoint(te.entities, te.relations)
	te.step(p.Pos, -lr)
	te.step(p.Neg, lr)

	te.entities.NormalizeStaged(p.Pos.Head)
	te.entities.NormalizeStaged(p.Pos.Tail)
	te.entities.NormalizeStaged(p.Neg.Head)
	te.entities.NormalizeStaged(p.Neg.Tail)
	te.relations.NormalizeStaged(p.Pos.Relation)
}

// step adds alpha times the score gradient of t to the staged rows
func (te *TransE) step(t knowledge.Triple, alpha float64) {
	e := vecmath.Residual(te.entities.Row(t.Head), te.relations.Row(t.Relation), te.entities.Row(t.Tail))
	g := vecmath.ResidualGradient(te.norm, e)

	te.entities.AddScaled(t.Head, alpha, g)
	te.relations.AddScaled(t.Relation, alpha, g)
	te.entities.AddScaled(t.Tail, -alpha, g)
}

// Commit implements trainer.Model
func (te *TransE) Commit() {
	te.entities.Commit()
	te.relations.Commit()
}

// Export implements trainer.Model
func (te *TransE) Export(v trainer.Vocabulary) *trainer.Export {
	return &trainer.Export{
		Model: te.Name(),
		Vectors: []trainer.VectorTable{
			trainer.ExportVectors("entity", v.Entities, te.entities),
			trainer.ExportVectors("relation", v.Relations, te.relations),
		},
	}
}

// Tables returns copies of the trained tables for models that start from TransE
func (te *TransE) Tables() *trainer.Pretrained {
	return &trainer.Pretrained{
		Entities:  te.entities.Clone(),
		Relations: te.relations.Clone(),
	}
}
