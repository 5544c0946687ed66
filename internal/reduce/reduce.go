// Package reduce implements the local chunk reducer (reading a decoded
// chunk, masking it, slicing it, and folding it down to a scalar) and the
// arithmetic for combining partial results from many chunks, whether those
// partials were produced locally or by a remote reduction server.
package reduce

import (
	"math"

	"github.com/chunkedio/activestore/internal/errors"
	"github.com/chunkedio/activestore/internal/missing"
	"github.com/chunkedio/activestore/internal/selection"
)

// Op is a reduction operator. The zero value Op("") means "no reduction":
// return the selected elements themselves.
type Op string

const (
	None Op = ""
	Min  Op = "min"
	Max  Op = "max"
	Sum  Op = "sum"
	Mean Op = "mean"
)

// ValidOp reports whether op is one recognized by this package.
func ValidOp(op Op) bool {
	switch op {
	case None, Min, Max, Sum, Mean:
		return true
	default:
		return false
	}
}

// Identity returns the value an empty (all-masked) partial contributes for
// op, chosen so that folding it into a combination never changes the
// result.
func Identity(op Op) float64 {
	switch op {
	case Min:
		return math.Inf(1)
	case Max:
		return math.Inf(-1)
	default: // Sum, Mean
		return 0
	}
}

// Partial is the result of reducing one chunk: either a scalar (Count
// non-missing elements contributed to it) or, when op is None, the selected
// element values themselves with masked positions replaced by NaN.
type Partial struct {
	Scalar float64
	Values []float64
	Count  int
}

// Chunk reduces one decoded, chunk-shaped array of values against a
// chunk_selection and missing-value spec, per the local-chunk-reducer
// contract: mask, slice, then either return the sliced values (op == None)
// or fold them down to a scalar ignoring masked elements.
func Chunk(values []float64, chunkShape []int, chunkSel []selection.Slice, spec missing.Spec, op Op) (Partial, error) {
	if !ValidOp(op) {
		return Partial{}, errors.InvalidInput("unrecognized reduction operator %q", op)
	}

	sliced, err := sliceND(values, chunkShape, chunkSel)
	if err != nil {
		return Partial{}, err
	}

	if op == None {
		out := make([]float64, len(sliced))
		for i, v := range sliced {
			if spec.IsMasked(v) {
				out[i] = math.NaN()
			} else {
				out[i] = v
			}
		}
		return Partial{Values: out, Count: len(out)}, nil
	}

	scalar := Identity(op)
	count := 0
	for _, v := range sliced {
		if spec.IsMasked(v) {
			continue
		}
		switch op {
		case Min:
			scalar = math.Min(scalar, v)
		case Max:
			scalar = math.Max(scalar, v)
		case Sum, Mean:
			scalar += v
		}
		count++
	}

	return Partial{Scalar: scalar, Count: count}, nil
}

// Combine folds a set of partials produced by independent chunks into one
// scalar and total count. It is used both for the final combination across
// all chunks and is safe to apply associatively to any subset of partials.
func Combine(partials []Partial, op Op) (scalar float64, count int) {
	scalar = Identity(op)
	for _, p := range partials {
		switch op {
		case Min:
			scalar = math.Min(scalar, p.Scalar)
		case Max:
			scalar = math.Max(scalar, p.Scalar)
		case Sum, Mean:
			scalar += p.Scalar
		}
		count += p.Count
	}
	return scalar, count
}

// sliceND extracts the elements of a flattened, row-major array of the
// given shape that fall within a per-axis selection, in row-major output
// order.
func sliceND(values []float64, shape []int, sel []selection.Slice) ([]float64, error) {
	if len(shape) != len(sel) {
		return nil, errors.InvalidInput("chunk selection has %d axes, chunk shape has %d", len(sel), len(shape))
	}

	strides := make([]int, len(shape))
	if len(shape) > 0 {
		strides[len(shape)-1] = 1
		for i := len(shape) - 2; i >= 0; i-- {
			strides[i] = strides[i+1] * shape[i+1]
		}
	}

	axisIndices := make([][]int, len(sel))
	outLen := 1
	for axis, s := range sel {
		axisIndices[axis] = indicesForSlice(s)
		outLen *= len(axisIndices[axis])
	}

	out := make([]float64, 0, outLen)
	idx := make([]int, len(shape))

	var walk func(axis int)
	walk = func(axis int) {
		if axis == len(shape) {
			flat := 0
			for i, ix := range idx {
				flat += ix * strides[i]
			}
			out = append(out, values[flat])
			return
		}
		for _, v := range axisIndices[axis] {
			idx[axis] = v
			walk(axis + 1)
		}
	}
	walk(0)

	return out, nil
}

func indicesForSlice(s selection.Slice) []int {
	if s.IsIndex {
		return []int{s.Start}
	}
	n := s.Len()
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = s.Start + i*s.Step
	}
	return out
}
