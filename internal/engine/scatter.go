package engine

import (
	"github.com/chunkedio/activestore/internal/reduce"
	"github.com/chunkedio/activestore/internal/selection"
)

// scatter assembles the per-chunk select-mode partials produced by Slice
// into one row-major output array of outShape, writing each chunk's values
// at the positions named by its OutSelection. It is the inverse of the
// per-chunk slicing reduce.Chunk performs: that walks a chunk's own axes in
// row-major order to pull values out; this walks the same per-chunk
// row-major order to put them back, offset into the shared output array.
func scatter(partials []reduce.Partial, triples []selection.Triple, outShape []int) []float64 {
	total := 1
	for _, d := range outShape {
		total *= d
	}
	out := make([]float64, total)

	strides := make([]int, len(outShape))
	if len(outShape) > 0 {
		strides[len(outShape)-1] = 1
		for i := len(outShape) - 2; i >= 0; i-- {
			strides[i] = strides[i+1] * outShape[i+1]
		}
	}

	for ti, t := range triples {
		values := partials[ti].Values
		if len(values) == 0 {
			continue
		}

		axisIndices := make([][]int, len(t.OutSelection))
		for axis, s := range t.OutSelection {
			axisIndices[axis] = indicesForSlice(s)
		}

		pos := 0
		idx := make([]int, len(t.OutSelection))

		var walk func(axis int)
		walk = func(axis int) {
			if axis == len(t.OutSelection) {
				flat := 0
				for i, ix := range idx {
					flat += ix * strides[i]
				}
				out[flat] = values[pos]
				pos++
				return
			}
			for _, v := range axisIndices[axis] {
				idx[axis] = v
				walk(axis + 1)
			}
		}
		walk(0)
	}

	return out
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
