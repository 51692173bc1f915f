package transr

import (
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cnclabs/transx/pkg/cluster"
	"github.com/cnclabs/transx/pkg/embedding"
	"github.com/cnclabs/transx/pkg/knowledge"
	"github.com/cnclabs/transx/pkg/sampling"
	"github.com/cnclabs/transx/pkg/trainer"
	"github.com/cnclabs/transx/pkg/vecmath"
)

// Variant selects between plain and cluster-based relation matrices
type Variant int

const (
	// Relation learns one matrix M_r and one vector r per relation
	Relation Variant = iota
	// ClusterRelation splits each relation into k clusters of head-tail
	// offsets, each with its own vector r_c and matrix M_c
	ClusterRelation
)

// Options holds the TransR / CTransR specific settings
type Options struct {
	Variant Variant
	// RelationDim is the relation space dimension m; 0 means the entity dimension
	RelationDim int
	// Pretrained optionally seeds entities (and relations when m equals the
	// entity dimension) from an earlier TransE run
	Pretrained *trainer.Pretrained

	// CTransR only
	Alpha         float64 // weight of alpha * ||r_c - r||^2
	Clusters      int     // clusters per relation
	ClusterEpochs int     // k-means iteration budget
}

// TransR implements TransR: entities are mapped into relation space by a
// per-relation m x n matrix, M_r h + r ≈ M_r t. With the ClusterRelation
// variant (CTransR) each training triple uses the vector and matrix of its
// offset cluster instead.
type TransR struct {
	opts Options
	norm vecmath.Metric
	n, m int

	entities  *embedding.Table       // n
	relations *embedding.Table       // m
	matrices  *embedding.MatrixTable // m x n, one per relation; nil for CTransR

	// CTransR
	clusters         *cluster.Result
	clusterRelations *embedding.Table // m, one per cluster id
}

// New creates a new TransR instance
func New(opts Options) *TransR {
	return &TransR{opts: opts, norm: vecmath.L2}
}

// Name implements trainer.Model
func (tr *TransR) Name() string {
	if tr.opts.Variant == ClusterRelation {
		return "CTransR"
	}
	return "TransR"
}

// Init seeds the tables (from TransE when available), sets every matrix to
// the identity and, for CTransR, clusters the relations.
func (tr *TransR) Init(ctx *trainer.Context, data *trainer.Dataset, hyper trainer.Hyperparameters) error {
	tr.norm = hyper.Norm
	tr.n = hyper.Dim
	tr.m = tr.opts.RelationDim
	if tr.m == 0 {
		tr.m = tr.n
	}
	if tr.m < 0 {
		return fmt.Errorf("%w: relation dimension must be positive, got %d", trainer.ErrInvalidHyperparameters, tr.m)
	}
	if tr.opts.Alpha < 0 {
		return fmt.Errorf("%w: alpha must not be negative, got %g", trainer.ErrInvalidHyperparameters, tr.opts.Alpha)
	}

	if pre := tr.opts.Pretrained; pre != nil {
		if err := pre.Check(data, tr.n); err != nil {
			return err
		}
		tr.entities = pre.Entities.Clone()
		if pre.Relations.Dim() == tr.m {
			tr.relations = pre.Relations.Clone()
		} else {
			ctx.Logger.Warn("pretrained relation dimension differs, relations start fresh",
				zap.Int("pretrained", pre.Relations.Dim()),
				zap.Int("relation_dimension", tr.m))
			tr.relations = trainer.FreshUnitTable(ctx, data.NumRelations, tr.m)
		}
	} else {
		tr.entities = trainer.FreshUnitTable(ctx, data.NumEntities, tr.n)
		tr.relations = trainer.FreshUnitTable(ctx, data.NumRelations, tr.m)
	}
	// CTransR projects through its per-cluster matrices only
	if tr.opts.Variant == ClusterRelation {
		if err := tr.initClusters(ctx, data); err != nil {
			return err
		}
	} else {
		tr.matrices = embedding.NewMatrixTable(data.NumRelations, func(int) *mat.Dense {
			return vecmath.IdentityMatrix(tr.m, tr.n)
		})
	}

	ctx.Logger.Debug("model initialized",
		zap.String("model", tr.Name()),
		zap.Int("entity_dimension", tr.n),
		zap.Int("relation_dimension", tr.m),
		zap.Bool("pretrained", tr.opts.Pretrained != nil))
	return nil
}

// initClusters runs k-means over every relation's head-tail offsets. The
// cluster vectors r_c start as the normalized centers mapped into relation space.
func (tr *TransR) initClusters(ctx *trainer.Context, data *trainer.Dataset) error {
	res, err := cluster.Fit(tr.entities, data.Train, data.NumRelations, cluster.Config{
		Clusters: tr.opts.Clusters,
		Epochs:   tr.opts.ClusterEpochs,
		Rows:     tr.m,
		Cols:     tr.n,
	}, ctx.Rand, ctx.Logger)
	if err != nil {
		return fmt.Errorf("cluster relations: %w", err)
	}
	tr.clusters = res

	tr.clusterRelations = embedding.NewTable(res.Centers.Rows(), tr.m)
	identity := vecmath.IdentityMatrix(tr.m, tr.n)
	for id := 0; id < res.Centers.Rows(); id++ {
		rc := vecmath.SpaceProjection(res.Centers.Row(id), identity)
		if !vecmath.NormalizeInPlace(rc) {
			rc = vecmath.InitUnitVector(ctx.Rand, tr.m)
		}
		tr.clusterRelations.Set(id, rc)
	}
	return nil
}

// Score returns the distance between M h + r and M t. CTransR picks the
// cluster whose center is nearest to h - t.
func (tr *TransR) Score(t knowledge.Triple) float64 {
	if tr.opts.Variant == ClusterRelation {
		id := tr.clusters.Nearest(t.Relation, cluster.Offset(tr.entities, t))
		return tr.score(t, tr.clusterRelations.Row(id), tr.clusters.Matrices.At(id))
	}
	return tr.score(t, tr.relations.Row(t.Relation), tr.matrices.At(t.Relation))
}

func (tr *TransR) score(t knowledge.Triple, r []float64, m mat.Matrix) float64 {
	e, _ := residual(tr.entities.Row(t.Head), r, tr.entities.Row(t.Tail), m)
	return distance(tr.norm, e)
}

// PairScores scores the training triple with its assigned cluster and the
// corrupted triple with the same cluster
func (tr *TransR) PairScores(p sampling.Pair) (float64, float64) {
	if tr.opts.Variant == ClusterRelation {
		id := tr.clusters.Assignment[p.Index]
		r, m := tr.clusterRelations.Row(id), tr.clusters.Matrices.At(id)
		return tr.score(p.Pos, r, m), tr.score(p.Neg, r, m)
	}
	r, m := tr.relations.Row(p.Pos.Relation), tr.matrices.At(p.Pos.Relation)
	return tr.score(p.Pos, r, m), tr.score(p.Neg, r, m)
}

// Update takes one hinge step; CTransR also pulls r_c and r together
func (tr *TransR) Update(p sampling.Pair, lr float64) {
	rel := p.Pos.Relation
	if tr.opts.Variant == ClusterRelation {
		embedding.Checkpoint(tr.entities, tr.relations, tr.clusterRelations, tr.clusters.Matrices)
		id := tr.clusters.Assignment[p.Index]
		tr.step(p.Pos, -lr, tr.clusterRelations, id, tr.clusters.Matrices, id)
		tr.step(p.Neg, lr, tr.clusterRelations, id, tr.clusters.Matrices, id)

		// alpha * ||r_c - r||^2
		diff := vecmath.Sub(tr.clusterRelations.Row(id), tr.relations.Row(rel))
		tr.clusterRelations.AddScaled(id, -lr*2*tr.opts.Alpha, diff)
		tr.relations.AddScaled(rel, lr*2*tr.opts.Alpha, diff)

		tr.clusterRelations.NormalizeStaged(id)
		tr.clusters.Matrices.NormalizeStaged(id)
	} else {
		embedding.Checkpoint(tr.entities, tr.relations, tr.matrices)
		tr.step(p.Pos, -lr, tr.relations, rel, tr.matrices, rel)
		tr.step(p.Neg, lr, tr.relations, rel, tr.matrices, rel)
		tr.matrices.NormalizeStaged(rel)
	}

	tr.entities.NormalizeStaged(p.Pos.Head)
	tr.entities.NormalizeStaged(p.Pos.Tail)
	tr.entities.NormalizeStaged(p.Neg.Head)
	tr.entities.NormalizeStaged(p.Neg.Tail)
	tr.relations.NormalizeStaged(rel)
}

func (tr *TransR) step(t knowledge.Triple, alpha float64, vectors *embedding.Table, vid int, matrices *embedding.MatrixTable, mid int) {
	dh, dt, dr, w, g := gradients(tr.norm,
		tr.entities.Row(t.Head), vectors.Row(vid), tr.entities.Row(t.Tail), matrices.At(mid))

	tr.entities.AddScaled(t.Head, alpha, dh)
	tr.entities.AddScaled(t.Tail, alpha, dt)
	vectors.AddScaled(vid, alpha, dr)
	vecmath.AddOuter(matrices.Stage(mid), alpha, g, w, nil)
}

// Commit implements trainer.Model
func (tr *TransR) Commit() {
	tr.entities.Commit()
	tr.relations.Commit()
	if tr.clusters != nil {
		tr.clusterRelations.Commit()
		tr.clusters.Matrices.Commit()
		return
	}
	tr.matrices.Commit()
}

// Export implements trainer.Model
func (tr *TransR) Export(v trainer.Vocabulary) *trainer.Export {
	out := &trainer.Export{
		Model: tr.Name(),
		Vectors: []trainer.VectorTable{
			trainer.ExportVectors("entity", v.Entities, tr.entities),
			trainer.ExportVectors("relation", v.Relations, tr.relations),
		},
	}
	if tr.opts.Variant == ClusterRelation {
		keys := ClusterKeys(v.Relations, tr.clusters.K)
		out.Vectors = append(out.Vectors,
			trainer.ExportVectors("cluster_relation", keys, tr.clusterRelations),
			trainer.ExportVectors("cluster_center", keys, tr.clusters.Centers))
		out.Matrices = append(out.Matrices, trainer.ExportMatrices("cluster_matrix", keys, tr.clusters.Matrices))
		return out
	}
	out.Matrices = append(out.Matrices, trainer.ExportMatrices("matrix", v.Relations, tr.matrices))
	return out
}

// ClusterKeys names cluster id r*k+c as "<relation>#<c>"
func ClusterKeys(relations []string, k int) []string {
	keys := make([]string, 0, len(relations)*k)
	for _, name := range relations {
		for c := 0; c < k; c++ {
			keys = append(keys, fmt.Sprintf("%s#%d", name, c))
		}
	}
	return keys
}

// residual returns e = M (h - t) + r and w = h - t
func residual(h, r, t []float64, m mat.Matrix) (e, w []float64) {
	w = vecmath.Sub(h, t)
	e = vecmath.SpaceProjection(w, m)
	floats.Add(e, r)
	return e, w
}

func distance(norm vecmath.Metric, e []float64) float64 {
	if norm == vecmath.L1 {
		return floats.Norm(e, 1)
	}
	return floats.Dot(e, e)
}

// gradients returns the partial derivatives of the score of (h, r, t) under M,
// along with w = h - t and g = dS/de so callers can form dM = g w^T:
//
//	dh = M^T g    dt = -M^T g    dr = g
func gradients(norm vecmath.Metric, h, r, t []float64, m mat.Matrix) (dh, dt, dr, w, g []float64) {
	e, w := residual(h, r, t, m)
	g = vecmath.ResidualGradient(norm, e)
	dh = vecmath.TransposeProjection(g, m)
	dt = make([]float64, len(dh))
	floats.ScaleTo(dt, -1, dh)
	return dh, dt, g, w, g
}
