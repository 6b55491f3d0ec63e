package convert

import (
	"fmt"
	"slices"

	"github.com/pdevine/tensor"
	"github.com/pdevine/tensor/native"
)

// weightNorm recomposes a weight normalized parameter: each output
// channel (dimension 0) of the direction v is rescaled so that its L2
// norm equals the matching magnitude in g.
func weightNorm(v []float32, shape []int, g []float32) ([]float32, error) {
	if len(shape) == 0 || shape[0] == 0 {
		return nil, fmt.Errorf("invalid direction shape %v", shape)
	}

	out := shape[0]
	if len(v)%out != 0 {
		return nil, fmt.Errorf("%d elements do not split into %d channels", len(v), out)
	}

	if len(g) != out {
		return nil, fmt.Errorf("magnitude has %d elements, want %d", len(g), out)
	}

	if len(v) == 0 {
		return []float32{}, nil
	}

	rest := len(v) / out
	var w tensor.Tensor = tensor.New(tensor.WithShape(out, rest), tensor.WithBacking(slices.Clone(v)))

	norm, err := tensor.Square(w)
	if err != nil {
		return nil, err
	}

	norm, err = tensor.Sum(norm, 1)
	if err != nil {
		return nil, err
	}

	norm, err = tensor.Sqrt(norm)
	if err != nil {
		return nil, err
	}

	// reductions may collapse a single channel to a scalar
	if err := norm.Reshape(out); err != nil {
		return nil, err
	}

	scale, err := tensor.Div(tensor.New(tensor.WithShape(out), tensor.WithBacking(slices.Clone(g))), norm)
	if err != nil {
		return nil, err
	}

	if err := scale.Reshape(out, 1); err != nil {
		return nil, err
	}

	scale, err = tensor.Repeat(scale, 1, rest)
	if err != nil {
		return nil, err
	}

	w, err = tensor.Mul(w, scale)
	if err != nil {
		return nil, err
	}

	w = tensor.Materialize(w)
	if err := w.Reshape(w.Shape().TotalSize()); err != nil {
		return nil, err
	}

	return native.VectorF32(w.(*tensor.Dense))
}
