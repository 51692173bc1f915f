package embedding

import (
	"gonum.org/v1/gonum/mat"

	"github.com/cnclabs/transx/pkg/vecmath"
)

// MatrixTable is an id-indexed list of projection matrices with the same
// committed/staged discipline as Table.
type MatrixTable struct {
	committed []*mat.Dense
	staged    []*mat.Dense
	touched   []int

	base     []*mat.Dense
	baseStep []uint64
	step     uint64
}

// NewMatrixTable builds n matrices using init
func NewMatrixTable(n int, init func(i int) *mat.Dense) *MatrixTable {
	mt := &MatrixTable{
		committed: make([]*mat.Dense, n),
		staged:    make([]*mat.Dense, n),
		base:      make([]*mat.Dense, n),
		baseStep:  make([]uint64, n),
		step:      1,
	}
	for i := 0; i < n; i++ {
		mt.committed[i] = init(i)
	}
	return mt
}

// Len returns the number of matrices
func (mt *MatrixTable) Len() int { return len(mt.committed) }

// At returns committed matrix i. It must not be modified.
func (mt *MatrixTable) At(i int) *mat.Dense { return mt.committed[i] }

// Set replaces committed matrix i
func (mt *MatrixTable) Set(i int, m *mat.Dense) { mt.committed[i] = m }

// Stage returns a writable copy of matrix i for the current batch
func (mt *MatrixTable) Stage(i int) *mat.Dense {
	if mt.staged[i] == nil {
		mt.staged[i] = mat.DenseCopyOf(mt.committed[i])
		mt.touched = append(mt.touched, i)
	}
	if mt.baseStep[i] != mt.step {
		if mt.base[i] == nil {
			mt.base[i] = mat.DenseCopyOf(mt.staged[i])
		} else {
			mt.base[i].Copy(mt.staged[i])
		}
		mt.baseStep[i] = mt.step
	}
	return mt.staged[i]
}

// Checkpoint starts a new step, as Table.Checkpoint
func (mt *MatrixTable) Checkpoint() { mt.step++ }

// NormalizeStaged divides staged matrix i by its spectral norm. A matrix with
// a zero spectral norm is reverted to its value at the last checkpoint.
func (mt *MatrixTable) NormalizeStaged(i int) bool {
	if vecmath.NormalizeMatrixInPlace(mt.Stage(i)) {
		return true
	}
	mt.Revert(i)
	return false
}

// Revert resets staged matrix i to its value at the last checkpoint
func (mt *MatrixTable) Revert(i int) {
	if mt.staged[i] != nil && mt.baseStep[i] == mt.step {
		mt.staged[i].Copy(mt.base[i])
	}
}

// Commit publishes the staged matrices
func (mt *MatrixTable) Commit() int {
	n := len(mt.touched)
	for _, i := range mt.touched {
		mt.committed[i] = mt.staged[i]
		mt.staged[i] = nil
	}
	mt.touched = mt.touched[:0]
	mt.step++
	return n
}

// Discard drops the staged matrices
func (mt *MatrixTable) Discard() {
	for _, i := range mt.touched {
		mt.staged[i] = nil
	}
	mt.touched = mt.touched[:0]
	mt.step++
}

// Rows returns committed matrix i as row slices
func (mt *MatrixTable) Rows(i int) [][]float64 {
	m := mt.committed[i]
	r, _ := m.Dims()
	out := make([][]float64, r)
	for j := 0; j < r; j++ {
		out[j] = mat.Row(nil, j, m)
	}
	return out
}
