package transd

import (
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/cnclabs/transx/pkg/embedding"
	"github.com/cnclabs/transx/pkg/knowledge"
	"github.com/cnclabs/transx/pkg/sampling"
	"github.com/cnclabs/transx/pkg/trainer"
	"github.com/cnclabs/transx/pkg/vecmath"
)

// Options holds the TransD specific settings
type Options struct {
	// RelationDim is the relation space dimension m; 0 means the entity dimension
	RelationDim int
}

// TransD implements TransD (dynamic mapping matrices)
// Every entity e and relation r carries a projection vector (e_p, r_p).
// Entities are mapped into the m-dimensional relation space by
// e⊥ = (e_p.e) r_p + I e, where I is the m x n identity-like matrix,
// and scored as h⊥ + r ≈ t⊥.
type TransD struct {
	opts Options
	norm vecmath.Metric
	n, m int

	entities            *embedding.Table // n
	entityProjections   *embedding.Table // n
	relations           *embedding.Table // m
	relationProjections *embedding.Table // m
}

// New creates a new TransD instance
func New(opts Options) *TransD {
	return &TransD{opts: opts, norm: vecmath.L2}
}

// Name implements trainer.Model
func (td *TransD) Name() string { return "TransD" }

// Init draws fresh unit vectors in both spaces
func (td *TransD) Init(ctx *trainer.Context, data *trainer.Dataset, hyper trainer.Hyperparameters) error {
	td.norm = hyper.Norm
	td.n = hyper.Dim
	td.m = td.opts.RelationDim
	if td.m == 0 {
		td.m = td.n
	}
	if td.m < 0 {
		return fmt.Errorf("%w: relation dimension must be positive, got %d", trainer.ErrInvalidHyperparameters, td.m)
	}

	td.entities = trainer.FreshUnitTable(ctx, data.NumEntities, td.n)
	td.entityProjections = trainer.FreshUnitTable(ctx, data.NumEntities, td.n)
	td.relations = trainer.FreshUnitTable(ctx, data.NumRelations, td.m)
	td.relationProjections = trainer.FreshUnitTable(ctx, data.NumRelations, td.m)

	ctx.Logger.Debug("model initialized",
		zap.String("model", td.Name()),
		zap.Int("entity_dimension", td.n),
		zap.Int("relation_dimension", td.m))
	return nil
}

// Score returns the distance between h⊥ + r and t⊥ in relation space
func (td *TransD) Score(t knowledge.Triple) float64 {
	rp := td.relationProjections.Row(t.Relation)
	h := project(td.entities.Row(t.Head), td.entityProjections.Row(t.Head), rp)
	tl := project(td.entities.Row(t.Tail), td.entityProjections.Row(t.Tail), rp)
	return vecmath.Distance(td.norm, h, td.relations.Row(t.Relation), tl)
}

// PairScores implements trainer.Model
func (td *TransD) PairScores(p sampling.Pair) (float64, float64) {
	return td.Score(p.Pos), td.Score(p.Neg)
}

// Update takes one hinge step on all four tables
func (td *TransD) Update(p sampling.Pair, lr float64) {
	embedding.Checkpoint(td.entities, td.entityProjections, td.relations, td.relationProjections)
	td.step(p.Pos, -lr)
	td.step(p.Neg, lr)

	for _, e := range []int{p.Pos.Head, p.Pos.Tail, p.Neg.Head, p.Neg.Tail} {
		td.entities.NormalizeStaged(e)
		td.entityProjections.NormalizeStaged(e)
	}
	td.relations.NormalizeStaged(p.Pos.Relation)
	td.relationProjections.NormalizeStaged(p.Pos.Relation)
}

func (td *TransD) step(t knowledge.Triple, alpha float64) {
	grad := gradients(td.norm,
		td.entities.Row(t.Head), td.entityProjections.Row(t.Head),
		td.relations.Row(t.Relation), td.relationProjections.Row(t.Relation),
		td.entities.Row(t.Tail), td.entityProjections.Row(t.Tail))

	td.entities.AddScaled(t.Head, alpha, grad.h)
	td.entityProjections.AddScaled(t.Head, alpha, grad.hp)
	td.entities.AddScaled(t.Tail, alpha, grad.t)
	td.entityProjections.AddScaled(t.Tail, alpha, grad.tp)
	td.relations.AddScaled(t.Relation, alpha, grad.r)
	td.relationProjections.AddScaled(t.Relation, alpha, grad.rp)
}

// Commit implements trainer.Model
func (td *TransD) Commit() {
	td.entities.Commit()
	td.entityProjections.Commit()
	td.relations.Commit()
	td.relationProjections.Commit()
}

// Export implements trainer.Model
func (td *TransD) Export(v trainer.Vocabulary) *trainer.Export {
	return &trainer.Export{
		Model: td.Name(),
		Vectors: []trainer.VectorTable{
			trainer.ExportVectors("entity", v.Entities, td.entities),
			trainer.ExportVectors("entity_projection", v.Entities, td.entityProjections),
			trainer.ExportVectors("relation", v.Relations, td.relations),
			trainer.ExportVectors("relation_projection", v.Relations, td.relationProjections),
		},
	}
}

// project maps an n-dimensional entity into the m-dimensional relation space.
// Coordinates past min(m, n) only receive the r_p term, so m > n and m < n
// are both handled.
func project(e, ep, rp []float64) []float64 {
	a := floats.Dot(ep, e)
	out := make([]float64, len(rp))
	for i := range out {
		out[i] = a * rp[i]
		if i < len(e) {
			out[i] += e[i]
		}
	}
	return out
}

// identityT applies the transpose of the m x n identity-like matrix to g
func identityT(g []float64, n int) []float64 {
	out := make([]float64, n)
	copy(out, g)
	return out
}

type gradient struct {
	h, hp, t, tp, r, rp []float64
}

// gradients returns the partial derivatives of the score. With g = dS/de,
// a_x = x_p.x and c = r_p.g:
//
//	dh = I^T g + c h_p    dh_p = c h
//	dt = -(I^T g + c t_p) dt_p = -c t
//	dr = g                dr_p = (a_h - a_t) g
func gradients(norm vecmath.Metric, h, hp, r, rp, t, tp []float64) gradient {
	e := vecmath.Residual(project(h, hp, rp), r, project(t, tp, rp))
	g := vecmath.ResidualGradient(norm, e)
	c := floats.Dot(rp, g)
	n := len(h)

	var out gradient
	out.h = identityT(g, n)
	floats.AddScaled(out.h, c, hp)
	out.hp = make([]float64, n)
	floats.ScaleTo(out.hp, c, h)

	out.t = identityT(g, n)
	floats.AddScaled(out.t, c, tp)
	floats.Scale(-1, out.t)
	out.tp = make([]float64, n)
	floats.ScaleTo(out.tp, -c, t)

	out.r = g
	out.rp = make([]float64, len(g))
	floats.ScaleTo(out.rp, floats.Dot(hp, h)-floats.Dot(tp, t), g)
	return out
}
