// Package embedding provides the arena-style tables that back every trainer.
//
// A table keeps two buffers: the committed state, which all reads inside a
// batch see, and a staging area that collects the batch's writes. Commit
// swaps the staged rows in at batch end, so every triple in a batch is scored
// against the same pre-batch snapshot.
//
// Checkpoint marks the start of one pair's update. A row that fails to
// normalize reverts to its value at the last checkpoint, so updates made by
// earlier pairs of the same batch are kept.
package embedding

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/cnclabs/transx/pkg/vecmath"
)

// Table is a dense rows x dim matrix of float64 stored in one flat slice
type Table struct {
	rows int
	dim  int

	committed []float64
	staged    []float64
	isStaged  []bool
	touched   []int

	// base holds each row as it was when first staged after the last
	// checkpoint; baseStep records which checkpoint that was
	base     []float64
	baseStep []uint64
	step     uint64
}

// Checkpointer is a table whose staged state can be checkpointed
type Checkpointer interface {
	Checkpoint()
}

// Checkpoint marks a step boundary on every table
func Checkpoint(tables ...Checkpointer) {
	for _, t := range tables {
		t.Checkpoint()
	}
}

// NewTable allocates a zeroed table
func NewTable(rows, dim int) *Table {
	return &Table{
		rows:      rows,
		dim:       dim,
		committed: make([]float64, rows*dim),
		staged:    make([]float64, rows*dim),
		isStaged:  make([]bool, rows),
		base:      make([]float64, rows*dim),
		baseStep:  make([]uint64, rows),
		step:      1,
	}
}

// FromRows builds a table from row slices; all rows must share one length
func FromRows(rows [][]float64) (*Table, error) {
	if len(rows) == 0 {
		return NewTable(0, 0), nil
	}
	t := NewTable(len(rows), len(rows[0]))
	for i, r := range rows {
		if len(r) != t.dim {
			return nil, fmt.Errorf("row %d has dimension %d, want %d", i, len(r), t.dim)
		}
		t.Set(i, r)
	}
	return t, nil
}

// Rows returns the number of rows
func (t *Table) Rows() int { return t.rows }

// Dim returns the row dimension
func (t *Table) Dim() int { return t.dim }

// Row returns the committed row i. The slice aliases table storage and must not be modified.
func (t *Table) Row(i int) []float64 {
	return t.committed[i*t.dim : (i+1)*t.dim : (i+1)*t.dim]
}

// Vector returns a copy of committed row i
func (t *Table) Vector(i int) []float64 {
	out := make([]float64, t.dim)
	copy(out, t.Row(i))
	return out
}

// Set overwrites committed row i. Used for initialization, outside of a batch.
func (t *Table) Set(i int, v []float64) {
	copy(t.committed[i*t.dim:(i+1)*t.dim], v)
}

// Stage returns a writable copy of row i in the staging area. The first call
// for a row in a batch copies its committed value; later calls return the same
// slice so updates from several triples accumulate.
func (t *Table) Stage(i int) []float64 {
	row := t.staged[i*t.dim : (i+1)*t.dim : (i+1)*t.dim]
	if !t.isStaged[i] {
		copy(row, t.Row(i))
		t.isStaged[i] = true
		t.touched = append(t.touched, i)
	}
	if t.baseStep[i] != t.step {
		copy(t.base[i*t.dim:(i+1)*t.dim], row)
		t.baseStep[i] = t.step
	}
	return row
}

// Checkpoint starts a new step: rows staged from now on revert to their
// current staged value instead of an older one
func (t *Table) Checkpoint() { t.step++ }

// AddScaled stages row i and adds alpha * g to it
func (t *Table) AddScaled(i int, alpha float64, g []float64) {
	floats.AddScaled(t.Stage(i), alpha, g)
}

// NormalizeStaged rescales staged row i to unit length. A row that cannot be
// normalized (zero or non-finite) is reverted to its value at the last checkpoint.
func (t *Table) NormalizeStaged(i int) bool {
	if vecmath.NormalizeInPlace(t.Stage(i)) {
		return true
	}
	t.Revert(i)
	return false
}

// Revert resets staged row i to its value at the last checkpoint, or to the
// committed value when no checkpoint was taken since the last Commit
func (t *Table) Revert(i int) {
	if t.isStaged[i] && t.baseStep[i] == t.step {
		copy(t.staged[i*t.dim:(i+1)*t.dim], t.base[i*t.dim:(i+1)*t.dim])
	}
}

// Pending returns the number of rows staged since the last Commit
func (t *Table) Pending() int { return len(t.touched) }

// Commit publishes every staged row and clears the staging area
func (t *Table) Commit() int {
	n := len(t.touched)
	for _, i := range t.touched {
		copy(t.committed[i*t.dim:(i+1)*t.dim], t.staged[i*t.dim:(i+1)*t.dim])
		t.isStaged[i] = false
	}
	t.touched = t.touched[:0]
	t.step++
	return n
}

// Discard drops every staged row without publishing it
func (t *Table) Discard() {
	for _, i := range t.touched {
		t.isStaged[i] = false
	}
	t.touched = t.touched[:0]
	t.step++
}

// Clone returns a deep copy of the committed state
func (t *Table) Clone() *Table {
	c := NewTable(t.rows, t.dim)
	copy(c.committed, t.committed)
	return c
}

// ToRows returns a copy of the committed state as row slices
func (t *Table) ToRows() [][]float64 {
	out := make([][]float64, t.rows)
	for i := range out {
		out[i] = t.Vector(i)
	}
	return out
}
