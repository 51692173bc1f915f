// Package cluster groups the triples of every relation by their head-tail
// offset with k-means, producing the cluster-specific relation vectors used by
// CTransR.
//
// Clusters are addressed by an integer id: relation r owns ids
// r*K .. r*K+K-1. Centers, matrices and per-triple assignments are all indexed
// by that id, so lookups never depend on vector identity.
package cluster

import (
	"errors"
	"fmt"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cnclabs/transx/pkg/embedding"
	"github.com/cnclabs/transx/pkg/knowledge"
	"github.com/cnclabs/transx/pkg/vecmath"
)

// ErrNoClusters is returned when the cluster count is not positive
var ErrNoClusters = errors.New("cluster count must be positive")

// convergenceTolerance bounds the per-coordinate center movement treated as "unchanged"
const convergenceTolerance = 1e-12

// Config holds the clustering budget and the shape of the per-center matrices
type Config struct {
	Clusters int // k per relation
	Epochs   int // maximum k-means iterations
	Rows     int // projection matrix rows (relation dimension)
	Cols     int // projection matrix columns (entity dimension)
}

// Result is the clustering output handed to the cluster-relation trainer
type Result struct {
	K            int
	NumRelations int

	// Centers holds one unit vector per cluster id
	Centers *embedding.Table
	// Matrices holds one identity-initialized projection matrix per cluster id
	Matrices *embedding.MatrixTable
	// Assignment maps a training triple index to its cluster id
	Assignment []int
	// Iterations is the number of k-means epochs run per relation
	Iterations []int
}

// ClusterID returns the global id of cluster c of relation r
func (res *Result) ClusterID(relation, c int) int {
	return relation*res.K + c
}

// Nearest returns the id of relation's center closest to offset by Euclidean
// distance; ties resolve to the lowest index.
func (res *Result) Nearest(relation int, offset []float64) int {
	best := res.ClusterID(relation, 0)
	bestDist := vecmath.EuclideanDistance(offset, res.Centers.Row(best))
	for c := 1; c < res.K; c++ {
		id := res.ClusterID(relation, c)
		if d := vecmath.EuclideanDistance(offset, res.Centers.Row(id)); d < bestDist {
			best, bestDist = id, d
		}
	}
	return best
}

// Offset returns head - tail for a triple under the given entity table
func Offset(entities *embedding.Table, t knowledge.Triple) []float64 {
	return vecmath.Sub(entities.Row(t.Head), entities.Row(t.Tail))
}

// Fit clusters every relation's head-tail offsets
func Fit(entities *embedding.Table, triples []knowledge.Triple, numRelations int, cfg Config, rng *rand.Rand, logger *zap.Logger) (*Result, error) {
	if cfg.Clusters <= 0 {
		return nil, ErrNoClusters
	}
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("cluster epochs must be positive, got %d", cfg.Epochs)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dim := entities.Dim()
	res := &Result{
		K:            cfg.Clusters,
		NumRelations: numRelations,
		Centers:      embedding.NewTable(numRelations*cfg.Clusters, dim),
		Assignment:   make([]int, len(triples)),
		Iterations:   make([]int, numRelations),
	}
	res.Matrices = embedding.NewMatrixTable(numRelations*cfg.Clusters, func(int) *mat.Dense {
		return vecmath.IdentityMatrix(cfg.Rows, cfg.Cols)
	})

	groups := knowledge.GroupByRelation(triples, numRelations)
	for r, members := range groups {
		offsets := make([][]float64, len(members))
		for i, idx := range members {
			offsets[i] = Offset(entities, triples[idx])
		}

		centers, assign, iterations := KMeans(offsets, cfg.Clusters, cfg.Epochs, dim, rng)
		res.Iterations[r] = iterations

		for c, center := range centers {
			if !vecmath.NormalizeInPlace(center) {
				center = vecmath.InitUnitVector(rng, dim)
			}
			res.Centers.Set(res.ClusterID(r, c), center)
		}
		for i, idx := range members {
			res.Assignment[idx] = res.ClusterID(r, assign[i])
		}
		logger.Debug("relation clustered",
			zap.Int("relation", r),
			zap.Int("offsets", len(offsets)),
			zap.Int("clusters", cfg.Clusters),
			zap.Int("iterations", iterations))
	}
	return res, nil
}

// KMeans clusters points into k groups. Initial centers are k distinct points
// drawn at random (random unit vectors fill in when there are fewer than k
// points). Each epoch assigns every point to its nearest center, ties going to
// the lowest index, then moves each non-empty cluster's center to its members'
// mean; empty clusters keep their previous center. It stops early once no
// center moves.
func KMeans(points [][]float64, k, epochs, dim int, rng *rand.Rand) (centers [][]float64, assign []int, iterations int) {
	centers = make([][]float64, k)
	perm := rng.Perm(len(points))
	for c := 0; c < k; c++ {
		if c < len(perm) {
			centers[c] = append([]float64(nil), points[perm[c]]...)
		} else {
			centers[c] = vecmath.InitUnitVector(rng, dim)
		}
	}

	assign = make([]int, len(points))
	if len(points) == 0 {
		return centers, assign, 0
	}

	for epoch := 0; epoch < epochs; epoch++ {
		iterations = epoch + 1
		for i, p := range points {
			assign[i] = nearest(centers, p)
		}

		next := make([][]float64, k)
		counts := make([]int, k)
		for i, p := range points {
			c := assign[i]
			if next[c] == nil {
				next[c] = make([]float64, dim)
			}
			floats.Add(next[c], p)
			counts[c]++
		}

		moved := false
		for c := range centers {
			if counts[c] == 0 {
				continue
			}
			floats.Scale(1/float64(counts[c]), next[c])
			if !floats.EqualApprox(next[c], centers[c], convergenceTolerance) {
				moved = true
			}
			centers[c] = next[c]
		}
		if !moved {
			break
		}
	}
	return centers, assign, iterations
}

func nearest(centers [][]float64, p []float64) int {
	best := 0
	bestDist := vecmath.EuclideanDistance(p, centers[0])
	for c := 1; c < len(centers); c++ {
		if d := vecmath.EuclideanDistance(p, centers[c]); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
