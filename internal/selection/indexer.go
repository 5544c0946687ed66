package selection

import "github.com/chunkedio/activestore/internal/errors"

// axisProjection describes, for one axis and one chunk touched by the
// selection along that axis, the local region of the chunk that is read
// (ChunkSel, coordinates relative to the chunk's own origin) and where the
// corresponding elements land in the output array (OutSel, coordinates
// relative to the output axis).
type axisProjection struct {
	chunkIndex int
	chunkSel   Slice
	outSel     Slice
}

// projectAxis walks a single axis selector against a chunk grid and returns
// one axisProjection per chunk the selector touches, plus the number of
// elements the selector yields along this axis.
func projectAxis(s Slice, dimLen, chunkLen int) ([]axisProjection, int) {
	if s.IsIndex {
		idx := s.Start
		chunk := idx / chunkLen
		local := idx % chunkLen
		return []axisProjection{{
			chunkIndex: chunk,
			chunkSel:   Slice{Start: local, Stop: local + 1, Step: 1},
			outSel:     Slice{Start: 0, Stop: 1, Step: 1},
		}}, 1
	}

	outLen := s.Len()
	if outLen == 0 {
		return nil, 0
	}

	startChunk := s.Start / chunkLen
	endChunk := (s.Stop - 1) / chunkLen

	var projections []axisProjection
	for c := startChunk; c <= endChunk; c++ {
		chunkLo := c * chunkLen
		chunkHi := chunkLo + chunkLen
		if chunkHi > dimLen {
			chunkHi = dimLen
		}

		limit := s.Stop
		if chunkHi < limit {
			limit = chunkHi
		}

		var k0 int
		if chunkLo > s.Start {
			k0 = ceilDiv(chunkLo-s.Start, s.Step)
		}
		j0 := s.Start + k0*s.Step
		if j0 >= limit {
			continue
		}

		n := (limit-1-j0)/s.Step + 1

		projections = append(projections, axisProjection{
			chunkIndex: c,
			chunkSel:   Slice{Start: j0 - chunkLo, Stop: j0 - chunkLo + (n-1)*s.Step + 1, Step: s.Step},
			outSel:     Slice{Start: k0, Stop: k0 + n, Step: 1},
		})
	}
	return projections, outLen
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Triple is one unit of work for the engine: the coordinates of a single
// chunk, the region of that chunk to read (ChunkSelection), and where those
// elements belong in the final output array (OutSelection). DropAxes lists,
// in ascending order, the axes that were selected by a bare integer and so
// do not appear in the output's shape.
type Triple struct {
	ChunkCoords   []int
	ChunkSelection []Slice
	OutSelection   []Slice
	DropAxes       []int
}

// Indexer projects a Selection against a variable's shape and chunk grid,
// producing one Triple per chunk that intersects the selection. chunkShape
// must have the same length as shape; chunkShape need not evenly divide
// shape; the trailing chunk along any axis may be partial.
func Indexer(sel Selection, shape, chunkShape []int) ([]Triple, []int, error) {
	if err := Validate(sel, shape); err != nil {
		return nil, nil, err
	}
	if len(chunkShape) != len(shape) {
		return nil, nil, errors.InvalidInput("chunk shape has %d axes, variable has %d", len(chunkShape), len(shape))
	}

	ndim := len(shape)
	perAxis := make([][]axisProjection, ndim)
	outShape := make([]int, ndim)
	var dropAxes []int

	for axis := 0; axis < ndim; axis++ {
		projections, outLen := projectAxis(sel[axis], shape[axis], chunkShape[axis])
		perAxis[axis] = projections
		outShape[axis] = outLen
		if sel[axis].IsIndex {
			dropAxes = append(dropAxes, axis)
		}
		if len(projections) == 0 {
			// Empty selection along this axis: no chunk intersects at all.
			return nil, outShape, nil
		}
	}

	var triples []Triple
	coords := make([]int, ndim)
	chunkSel := make([]Slice, ndim)
	outSel := make([]Slice, ndim)

	var walk func(axis int)
	walk = func(axis int) {
		if axis == ndim {
			tcoords := append([]int(nil), coords...)
			tchunkSel := append([]Slice(nil), chunkSel...)
			toutSel := append([]Slice(nil), outSel...)
			triples = append(triples, Triple{
				ChunkCoords:    tcoords,
				ChunkSelection: tchunkSel,
				OutSelection:   toutSel,
				DropAxes:       dropAxes,
			})
			return
		}
		for _, p := range perAxis[axis] {
			coords[axis] = p.chunkIndex
			chunkSel[axis] = p.chunkSel
			outSel[axis] = p.outSel
			walk(axis + 1)
		}
	}
	walk(0)

	return triples, outShape, nil
}
