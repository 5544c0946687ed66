package reduce_test

import (
	"math"
	"testing"

	"github.com/chunkedio/activestore/internal/missing"
	"github.com/chunkedio/activestore/internal/reduce"
	"github.com/chunkedio/activestore/internal/selection"
	"github.com/chunkedio/activestore/internal/test"
)

func TestChunkSelectReturnsMaskedAsNaN(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6}
	fill := 3.0
	spec, err := missing.Normalize(missing.RawAttributes{Fill: &fill})
	test.OK(t, err)

	sel := []selection.Slice{selection.Range(0, 2, 1), selection.Range(0, 3, 1)}
	p, err := reduce.Chunk(values, []int{2, 3}, sel, spec, reduce.None)
	test.OK(t, err)
	test.Equals(t, 6, p.Count)
	test.Equals(t, 1.0, p.Values[0])
	test.Equals(t, 2.0, p.Values[1])
	test.Assert(t, math.IsNaN(p.Values[2]), "masked element must come back as NaN")
}

func TestChunkSumIgnoresMasked(t *testing.T) {
	values := []float64{1, 2, -999, 4}
	fill := -999.0
	spec, err := missing.Normalize(missing.RawAttributes{Fill: &fill})
	test.OK(t, err)

	sel := []selection.Slice{selection.Range(0, 4, 1)}
	p, err := reduce.Chunk(values, []int{4}, sel, spec, reduce.Sum)
	test.OK(t, err)
	test.Equals(t, 7.0, p.Scalar)
	test.Equals(t, 3, p.Count)
}

func TestChunkAllMaskedYieldsIdentity(t *testing.T) {
	values := []float64{-999, -999}
	fill := -999.0
	spec, err := missing.Normalize(missing.RawAttributes{Fill: &fill})
	test.OK(t, err)

	sel := []selection.Slice{selection.Range(0, 2, 1)}

	minP, err := reduce.Chunk(values, []int{2}, sel, spec, reduce.Min)
	test.OK(t, err)
	test.Equals(t, math.Inf(1), minP.Scalar)
	test.Equals(t, 0, minP.Count)

	maxP, err := reduce.Chunk(values, []int{2}, sel, spec, reduce.Max)
	test.OK(t, err)
	test.Equals(t, math.Inf(-1), maxP.Scalar)
	test.Equals(t, 0, maxP.Count)
}

func TestCombineSumAndMean(t *testing.T) {
	partials := []reduce.Partial{
		{Scalar: 10, Count: 4},
		{Scalar: 20, Count: 4},
	}
	sum, count := reduce.Combine(partials, reduce.Sum)
	test.Equals(t, 30.0, sum)
	test.Equals(t, 8, count)
	test.Equals(t, 3.75, sum/float64(count))
}

func TestCombineMinMax(t *testing.T) {
	partials := []reduce.Partial{
		{Scalar: 5, Count: 1},
		{Scalar: reduce.Identity(reduce.Min), Count: 0},
		{Scalar: -3, Count: 1},
	}
	min, count := reduce.Combine(partials, reduce.Min)
	test.Equals(t, -3.0, min)
	test.Equals(t, 2, count)
}

func TestChunkRejectsMismatchedSelectionAxes(t *testing.T) {
	_, err := reduce.Chunk([]float64{1, 2}, []int{2}, []selection.Slice{
		selection.Range(0, 1, 1), selection.Range(0, 1, 1),
	}, missing.Spec{}, reduce.None)
	test.Assert(t, err != nil, "expected an error for a selection with the wrong number of axes")
}
