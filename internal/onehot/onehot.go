// Package onehot lifts integer token tensors into one-hot float tensors.
package onehot

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Encode returns a Float64 tensor shaped like idx with one extra trailing
// axis of length size. Every index must lie in [0, size).
func Encode(idx *tensor.Dense, size int) (*tensor.Dense, error) {
	if size < 1 {
		return nil, fmt.Errorf("one-hot size must be positive, got %d", size)
	}
	ids, err := indices(idx)
	if err != nil {
		return nil, err
	}

	backing := make([]float64, len(ids)*size)
	for i, id := range ids {
		if id < 0 || id >= size {
			return nil, fmt.Errorf("index %d at position %d out of range [0, %d)", id, i, size)
		}
		backing[i*size+id] = 1
	}

	shape := append(idx.Shape().Clone(), size)
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing)), nil
}

// indices returns the elements of idx in row-major order. Scalars yield one
// element and views are materialized first.
func indices(idx *tensor.Dense) ([]int, error) {
	if idx.Dtype() != tensor.Int {
		return nil, fmt.Errorf("one-hot expects %v indices, got %v", tensor.Int, idx.Dtype())
	}
	if idx.IsScalar() {
		return []int{idx.ScalarValue().(int)}, nil
	}
	if idx.IsMaterializable() {
		dense, ok := idx.Materialize().(*tensor.Dense)
		if !ok {
			return nil, fmt.Errorf("cannot materialize %v view", idx.Shape())
		}
		idx = dense
	}
	return idx.Data().([]int), nil
}

// Rows encodes equal-length token rows as a (len(rows) x len(row) x size) tensor.
func Rows(rows [][]int, size int) (*tensor.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("one-hot rows must be non-empty")
	}

	steps := len(rows[0])
	ids := make([]int, 0, len(rows)*steps)
	for i, row := range rows {
		if len(row) != steps {
			return nil, fmt.Errorf("row %d has %d tokens, want %d", i, len(row), steps)
		}
		ids = append(ids, row...)
	}

	idx := tensor.New(tensor.WithShape(len(rows), steps), tensor.WithBacking(ids))
	return Encode(idx, size)
}
