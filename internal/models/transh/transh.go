package transh

import (
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/cnclabs/transx/pkg/embedding"
	"github.com/cnclabs/transx/pkg/knowledge"
	"github.com/cnclabs/transx/pkg/sampling"
	"github.com/cnclabs/transx/pkg/trainer"
	"github.com/cnclabs/transx/pkg/vecmath"
)

// Options holds the TransH specific settings
type Options struct {
	// C weights the soft orthogonality penalty C * (r.n)^2
	C float64
}

// TransH implements TransH (Translating on Hyperplanes)
// Each relation owns a hyperplane with unit normal n_r; entities are
// projected onto it before translating: h⊥ + r ≈ t⊥ with x⊥ = x - (n_r.x) n_r
type TransH struct {
	opts Options
	norm vecmath.Metric

	entities  *embedding.Table
	relations *embedding.Table
	normals   *embedding.Table
}

// New creates a new TransH instance
func New(opts Options) *TransH {
	return &TransH{opts: opts, norm: vecmath.L2}
}

// Name implements trainer.Model
func (th *TransH) Name() string { return "TransH" }

// Init draws fresh unit entity, relation and normal vectors
func (th *TransH) Init(ctx *trainer.Context, data *trainer.Dataset, hyper trainer.Hyperparameters) error {
	th.norm = hyper.Norm
	th.entities = trainer.FreshUnitTable(ctx, data.NumEntities, hyper.Dim)
	th.relations = trainer.FreshUnitTable(ctx, data.NumRelations, hyper.Dim)
	th.normals = trainer.FreshUnitTable(ctx, data.NumRelations, hyper.Dim)

	ctx.Logger.Debug("model initialized",
		zap.String("model", th.Name()),
		zap.Int("dimension", hyper.Dim),
		zap.Float64("C", th.opts.C))
	return nil
}

// Score returns the distance between h⊥ + r and t⊥
func (th *TransH) Score(t knowledge.Triple) float64 {
	return score(th.norm,
		th.entities.Row(t.Head), th.relations.Row(t.Relation), th.entities.Row(t.Tail),
		th.normals.Row(t.Relation))
}

// PairScores implements trainer.Model
func (th *TransH) PairScores(p sampling.Pair) (float64, float64) {
	return th.Score(p.Pos), th.Score(p.Neg)
}

// Update takes one hinge step and pulls r and n_r toward orthogonality
func (th *TransH) Update(p sampling.Pair, lr float64) {
	embedding.Checkpoint(th.entities, th.relations, th.normals)
	th.step(p.Pos, -lr)
	th.step(p.Neg, lr)

	rel := p.Pos.Relation
	r, n := th.relations.Row(rel), th.normals.Row(rel)
	if !vecmath.IsOrthogonal(r, n) {
		dot := vecmath.Dot(r, n)
		th.relations.AddScaled(rel, -lr*2*th.opts.C*dot, n)
		th.normals.AddScaled(rel, -lr*2*th.opts.C*dot, r)
	}

	th.entities.NormalizeStaged(p.Pos.Head)
	th.entities.NormalizeStaged(p.Pos.Tail)
	th.entities.NormalizeStaged(p.Neg.Head)
	th.entities.NormalizeStaged(p.Neg.Tail)
	th.relations.NormalizeStaged(rel)
	th.normals.NormalizeStaged(rel)
}

func (th *TransH) step(t knowledge.Triple, alpha float64) {
	dh, dt, dr, dn := gradients(th.norm,
		th.entities.Row(t.Head), th.relations.Row(t.Relation), th.entities.Row(t.Tail),
		th.normals.Row(t.Relation))

	th.entities.AddScaled(t.Head, alpha, dh)
	th.entities.AddScaled(t.Tail, alpha, dt)
	th.relations.AddScaled(t.Relation, alpha, dr)
	th.normals.AddScaled(t.Relation, alpha, dn)
}

// Commit implements trainer.Model
func (th *TransH) Commit() {
	th.entities.Commit()
	th.relations.Commit()
	th.normals.Commit()
}

// Export implements trainer.Model
func (th *TransH) Export(v trainer.Vocabulary) *trainer.Export {
	return &trainer.Export{
		Model: th.Name(),
		Vectors: []trainer.VectorTable{
			trainer.ExportVectors("entity", v.Entities, th.entities),
			trainer.ExportVectors("relation", v.Relations, th.relations),
			trainer.ExportVectors("normal", v.Relations, th.normals),
		},
	}
}

// residual returns e = h⊥ + r - t⊥ and w = h - t
func residual(h, r, t, n []float64) (e, w []float64) {
	w = vecmath.Sub(h, t)
	e = vecmath.PlaneProjection(w, n)
	floats.Add(e, r)
	return e, w
}

func score(norm vecmath.Metric, h, r, t, n []float64) float64 {
	e, _ := residual(h, r, t, n)
	if norm == vecmath.L1 {
		return floats.Norm(e, 1)
	}
	return floats.Dot(e, e)
}

// gradients returns the partial derivatives of score with respect to h, t, r and n.
// With g = dS/de and w = h - t:
//
//	dh = g - (n.g) n    dt = -dh    dr = g
//	dn = -((n.g) w + (n.w) g)
func gradients(norm vecmath.Metric, h, r, t, n []float64) (dh, dt, dr, dn []float64) {
	e, w := residual(h, r, t, n)
	g := vecmath.ResidualGradient(norm, e)

	dh = vecmath.PlaneProjection(g, n)
	dt = make([]float64, len(dh))
	floats.ScaleTo(dt, -1, dh)
	dr = g

	ng, nw := floats.Dot(n, g), floats.Dot(n, w)
	dn = make([]float64, len(n))
	floats.AddScaled(dn, -ng, w)
	floats.AddScaled(dn, -nw, g)
	return dh, dt, dr, dn
}
