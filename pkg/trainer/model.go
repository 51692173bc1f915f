// Package trainer drives margin-based SGD for every translation-family model.
//
// A Model only knows how to score triples and how to take one gradient step;
// the epoch and batch loop, negative sampling, validation and persistence live
// here once. Within a batch every PairScores call reads the committed state
// and every Update writes the staged state, so all pairs of a batch see the
// same pre-batch snapshot until Commit.
package trainer

import (
	"github.com/cnclabs/transx/pkg/embedding"
	"github.com/cnclabs/transx/pkg/knowledge"
	"github.com/cnclabs/transx/pkg/sampling"
)

// Scorer scores a single triple against the committed state; lower is better
type Scorer interface {
	Score(t knowledge.Triple) float64
}

// Model is the capability set shared by every embedding variant
type Model interface {
	Scorer

	// Name identifies the variant in logs, metrics and exports
	Name() string
	// Init allocates and initializes the model's tables
	Init(ctx *Context, data *Dataset, hyper Hyperparameters) error
	// PairScores returns the scores of a positive triple and its corruption
	PairScores(p sampling.Pair) (pos, neg float64)
	// Update applies one hinge gradient step for p into the staged state
	Update(p sampling.Pair, lr float64)
	// Commit publishes the staged state at batch end
	Commit()
	// Export re-keys the committed tables by name
	Export(v Vocabulary) *Export
}

// Vocabulary lists entity and relation names by id
type Vocabulary struct {
	Entities  []string
	Relations []string
}

// Dataset is the in-memory input of one training run
type Dataset struct {
	Train        []knowledge.Triple
	Dev          []knowledge.Triple // nil disables validation
	NumEntities  int
	NumRelations int
	Vocabulary   Vocabulary
}

// FromGraph builds a Dataset over a loaded knowledge graph
func FromGraph(kg *knowledge.KnowledgeGraph, dev []knowledge.Triple) *Dataset {
	return &Dataset{
		Train:        kg.Triples,
		Dev:          dev,
		NumEntities:  kg.NumEntities(),
		NumRelations: kg.NumRelations(),
		Vocabulary: Vocabulary{
			Entities:  kg.EntityKeys,
			Relations: kg.RelationKeys,
		},
	}
}

// VectorTable is a name-keyed set of vectors
type VectorTable struct {
	Name    string // file / bucket suffix, e.g. "entity"
	Keys    []string
	Vectors [][]float64
}

// MatrixTable is a name-keyed set of row-major matrices
type MatrixTable struct {
	Name     string
	Keys     []string
	Rows     int
	Cols     int
	Matrices [][][]float64
}

// Export is the final state of a model handed to a Sink
type Export struct {
	Model    string
	Vectors  []VectorTable
	Matrices []MatrixTable
}

// Table returns the vector table with the given name
func (e *Export) Table(name string) (VectorTable, bool) {
	for _, t := range e.Vectors {
		if t.Name == name {
			return t, true
		}
	}
	return VectorTable{}, false
}

// ExportVectors keys the committed rows of t by keys
func ExportVectors(name string, keys []string, t *embedding.Table) VectorTable {
	return VectorTable{Name: name, Keys: keys, Vectors: t.ToRows()}
}

// ExportMatrices keys the committed matrices of mt by keys
func ExportMatrices(name string, keys []string, mt *embedding.MatrixTable) MatrixTable {
	out := MatrixTable{Name: name, Keys: keys, Matrices: make([][][]float64, mt.Len())}
	for i := range out.Matrices {
		out.Matrices[i] = mt.Rows(i)
	}
	if mt.Len() > 0 {
		out.Rows, out.Cols = mt.At(0).Dims()
	}
	return out
}

// Sink persists an Export
type Sink interface {
	Persist(e *Export) error
}
