package transparse

import (
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cnclabs/transx/pkg/embedding"
	"github.com/cnclabs/transx/pkg/knowledge"
	"github.com/cnclabs/transx/pkg/sampling"
	"github.com/cnclabs/transx/pkg/trainer"
	"github.com/cnclabs/transx/pkg/vecmath"
)

// Options holds the TranSparse specific settings
type Options struct {
	// Separate gives every relation distinct head and tail matrices
	Separate bool
	// Theta is the sparse degree floor in [0, 1], reached by the most used relation
	Theta float64
	// Pretrained optionally seeds entities and relations from TransE
	Pretrained *trainer.Pretrained
}

// TranSparse implements TranSparse: like TransR with n x n matrices whose
// density follows relation usage, M_h h + r ≈ M_t t. The shared variant uses
// one matrix per relation (M_h = M_t); the separate variant learns both.
// Cells outside a matrix's sparsity pattern stay zero for the whole run.
type TranSparse struct {
	opts Options
	norm vecmath.Metric
	n    int

	entities  *embedding.Table
	relations *embedding.Table

	// heads and tails point to the same table in the shared variant
	heads, tails         *embedding.MatrixTable
	headMasks, tailMasks [][]bool
}

// New creates a new TranSparse instance
func New(opts Options) *TranSparse {
	return &TranSparse{opts: opts, norm: vecmath.L2}
}

// Name implements trainer.Model
func (ts *TranSparse) Name() string {
	if ts.opts.Separate {
		return "TranSparse-separate"
	}
	return "TranSparse"
}

// Init seeds the vectors and draws every relation's sparse matrices
func (ts *TranSparse) Init(ctx *trainer.Context, data *trainer.Dataset, hyper trainer.Hyperparameters) error {
	if ts.opts.Theta < 0 || ts.opts.Theta > 1 {
		return fmt.Errorf("%w: theta must be in [0, 1], got %g", trainer.ErrInvalidHyperparameters, ts.opts.Theta)
	}
	ts.norm = hyper.Norm
	ts.n = hyper.Dim

	if pre := ts.opts.Pretrained; pre != nil {
		if err := pre.Check(data, ts.n); err != nil {
			return err
		}
		if pre.Relations.Dim() != ts.n {
			return fmt.Errorf("pretrained relation dimension %d does not match %d", pre.Relations.Dim(), ts.n)
		}
		ts.entities = pre.Entities.Clone()
		ts.relations = pre.Relations.Clone()
	} else {
		ts.entities = trainer.FreshUnitTable(ctx, data.NumEntities, ts.n)
		ts.relations = trainer.FreshUnitTable(ctx, data.NumRelations, ts.n)
	}

	usage := CountUsage(data.Train, data.NumRelations)
	if ts.opts.Separate {
		ts.heads, ts.headMasks = ts.sparseTable(ctx, usage.Heads)
		ts.tails, ts.tailMasks = ts.sparseTable(ctx, usage.Tails)
	} else {
		ts.heads, ts.headMasks = ts.sparseTable(ctx, usage.Triples)
		ts.tails, ts.tailMasks = ts.heads, ts.headMasks
	}

	ctx.Logger.Debug("model initialized",
		zap.String("model", ts.Name()),
		zap.Int("dimension", ts.n),
		zap.Float64("theta", ts.opts.Theta))
	return nil
}

func (ts *TranSparse) sparseTable(ctx *trainer.Context, usage []int) (*embedding.MatrixTable, [][]bool) {
	degrees := SparseDegrees(usage, ts.opts.Theta)
	masks := make([][]bool, len(degrees))
	matrices := make([]*mat.Dense, len(degrees))
	for r, deg := range degrees {
		matrices[r], masks[r] = SparseMatrix(ctx.Rand, ts.n, OffDiagonalBudget(deg, ts.n))
	}
	return embedding.NewMatrixTable(len(matrices), func(i int) *mat.Dense { return matrices[i] }), masks
}

// Score returns the distance between M_h h + r and M_t t
func (ts *TranSparse) Score(t knowledge.Triple) float64 {
	e := residual(ts.entities.Row(t.Head), ts.relations.Row(t.Relation), ts.entities.Row(t.Tail),
		ts.heads.At(t.Relation), ts.tails.At(t.Relation))
	if ts.norm == vecmath.L1 {
		return floats.Norm(e, 1)
	}
	return floats.Dot(e, e)
}

// PairScores implements trainer.Model
func (ts *TranSparse) PairScores(p sampling.Pair) (float64, float64) {
	return ts.Score(p.Pos), ts.Score(p.Neg)
}

// Update takes one hinge step with matrix gradients masked to the sparsity pattern
func (ts *TranSparse) Update(p sampling.Pair, lr float64) {
	embedding.Checkpoint(ts.entities, ts.relations, ts.heads, ts.tails)
	ts.step(p.Pos, -lr)
	ts.step(p.Neg, lr)

	rel := p.Pos.Relation
	ts.entities.NormalizeStaged(p.Pos.Head)
	ts.entities.NormalizeStaged(p.Pos.Tail)
	ts.entities.NormalizeStaged(p.Neg.Head)
	ts.entities.NormalizeStaged(p.Neg.Tail)
	ts.relations.NormalizeStaged(rel)
	ts.heads.NormalizeStaged(rel)
	if ts.opts.Separate {
		ts.tails.NormalizeStaged(rel)
	}
}

func (ts *TranSparse) step(t knowledge.Triple, alpha float64) {
	h, tl := ts.entities.Row(t.Head), ts.entities.Row(t.Tail)
	grad := gradients(ts.norm, h, ts.relations.Row(t.Relation), tl, ts.heads.At(t.Relation), ts.tails.At(t.Relation))

	ts.entities.AddScaled(t.Head, alpha, grad.h)
	ts.entities.AddScaled(t.Tail, alpha, grad.t)
	ts.relations.AddScaled(t.Relation, alpha, grad.r)
	// dM_h = g h^T, dM_t = -g t^T; both land on one matrix in the shared variant
	vecmath.AddOuter(ts.heads.Stage(t.Relation), alpha, grad.r, h, ts.headMasks[t.Relation])
	vecmath.AddOuter(ts.tails.Stage(t.Relation), -alpha, grad.r, tl, ts.tailMasks[t.Relation])
}

// Commit implements trainer.Model
func (ts *TranSparse) Commit() {
	ts.entities.Commit()
	ts.relations.Commit()
	ts.heads.Commit()
	if ts.opts.Separate {
		ts.tails.Commit()
	}
}

// Export implements trainer.Model
func (ts *TranSparse) Export(v trainer.Vocabulary) *trainer.Export {
	out := &trainer.Export{
		Model: ts.Name(),
		Vectors: []trainer.VectorTable{
			trainer.ExportVectors("entity", v.Entities, ts.entities),
			trainer.ExportVectors("relation", v.Relations, ts.relations),
		},
	}
	if ts.opts.Separate {
		out.Matrices = []trainer.MatrixTable{
			trainer.ExportMatrices("head_matrix", v.Relations, ts.heads),
			trainer.ExportMatrices("tail_matrix", v.Relations, ts.tails),
		}
	} else {
		out.Matrices = []trainer.MatrixTable{trainer.ExportMatrices("matrix", v.Relations, ts.heads)}
	}
	return out
}

// residual returns e = M_h h + r - M_t t
func residual(h, r, t []float64, mh, mt mat.Matrix) []float64 {
	e := vecmath.SpaceProjection(h, mh)
	floats.Add(e, r)
	floats.Sub(e, vecmath.SpaceProjection(t, mt))
	return e
}

type gradient struct {
	h, t, r []float64
}

// gradients returns the vector partial derivatives; with g = dS/de:
//
//	dh = M_h^T g    dt = -M_t^T g    dr = g
//
// The matrix derivatives are g h^T for M_h and -g t^T for M_t.
func gradients(norm vecmath.Metric, h, r, t []float64, mh, mt mat.Matrix) gradient {
	g := vecmath.ResidualGradient(norm, residual(h, r, t, mh, mt))
	dt := vecmath.TransposeProjection(g, mt)
	floats.Scale(-1, dt)
	return gradient{
		h: vecmath.TransposeProjection(g, mh),
		t: dt,
		r: g,
	}
}
