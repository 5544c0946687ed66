package engine_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/chunkedio/activestore/internal/config"
	"github.com/chunkedio/activestore/internal/engine"
	"github.com/chunkedio/activestore/internal/layout"
	"github.com/chunkedio/activestore/internal/missing"
	"github.com/chunkedio/activestore/internal/reduce"
	"github.com/chunkedio/activestore/internal/selection"
	"github.com/chunkedio/activestore/internal/test"
)

// The S1-S6 scenarios run the same 10x10x10 float64 variable `data`, values
// i*100+j*10+k, chunked 5x5x5, through the selection [0:2, 4:6, 7:9].

const cubeAxis = 10
const cubeChunk = 5

func cubeValue(i, j, k int) float64 { return float64(i*100 + j*10 + k) }

// buildCube writes the scenario's cube to a temp file as a chunked v1 B-tree
// dataset and opens a Handle against it. When fillAt is non-nil, the element
// at that coordinate is overwritten with fillValue on disk and declared as
// the variable's _FillValue attribute, and when validMax is non-nil it is
// declared as the valid_max attribute. It returns the Handle plus the naive,
// unchunked array the scenario's assertions are checked against.
func buildCube(t *testing.T, fillAt *[3]int, fillValue float64, validMax *float64) (*engine.Handle, []float64) {
	t.Helper()

	naive := make([]float64, cubeAxis*cubeAxis*cubeAxis)
	valueAt := func(i, j, k int) float64 {
		if fillAt != nil && *fillAt == [3]int{i, j, k} {
			return fillValue
		}
		return cubeValue(i, j, k)
	}
	for i := 0; i < cubeAxis; i++ {
		for j := 0; j < cubeAxis; j++ {
			for k := 0; k < cubeAxis; k++ {
				naive[(i*cubeAxis+j)*cubeAxis+k] = valueAt(i, j, k)
			}
		}
	}

	const chunksPerAxis = cubeAxis / cubeChunk
	const elemsPerChunk = cubeChunk * cubeChunk * cubeChunk
	const chunkSize = elemsPerChunk * 8
	const base = 4096

	type chunkCoord struct{ ci, cj, ck int }
	var chunks []chunkCoord
	for ci := 0; ci < chunksPerAxis; ci++ {
		for cj := 0; cj < chunksPerAxis; cj++ {
			for ck := 0; ck < chunksPerAxis; ck++ {
				chunks = append(chunks, chunkCoord{ci, cj, ck})
			}
		}
	}

	file := make([]byte, base+len(chunks)*chunkSize)

	var btree bytes.Buffer
	btree.WriteString("TREE")
	btree.WriteByte(1)
	btree.WriteByte(0)
	putUint16(&btree, uint16(len(chunks)))
	putUint64(&btree, undefinedAddress)
	putUint64(&btree, undefinedAddress)

	for n, c := range chunks {
		addr := base + n*chunkSize

		chunk := make([]byte, chunkSize)
		for li := 0; li < cubeChunk; li++ {
			gi := c.ci*cubeChunk + li
			for lj := 0; lj < cubeChunk; lj++ {
				gj := c.cj*cubeChunk + lj
				for lk := 0; lk < cubeChunk; lk++ {
					gk := c.ck*cubeChunk + lk
					off := (li*cubeChunk+lj)*cubeChunk + lk
					binary.LittleEndian.PutUint64(chunk[off*8:], math.Float64bits(valueAt(gi, gj, gk)))
				}
			}
		}
		copy(file[addr:], chunk)

		putUint32(&btree, uint32(chunkSize))
		putUint32(&btree, 0)
		putUint64(&btree, uint64(c.ci*cubeChunk))
		putUint64(&btree, uint64(c.cj*cubeChunk))
		putUint64(&btree, uint64(c.ck*cubeChunk))
		putUint64(&btree, 0) // trailing element-size dimension, unused here
		putUint64(&btree, uint64(addr))
	}

	// bound-only trailing key, no child pointer
	putUint32(&btree, 0)
	putUint32(&btree, 0)
	putUint64(&btree, cubeAxis)
	putUint64(&btree, cubeAxis)
	putUint64(&btree, cubeAxis)
	putUint64(&btree, 0)

	copy(file, btree.Bytes())

	dir := t.TempDir()
	path := filepath.Join(dir, "cube.bin")
	test.OK(t, os.WriteFile(path, file, 0o644))

	attrs := missing.RawAttributes{}
	if fillAt != nil {
		f := fillValue
		attrs.Fill = &f
	}
	if validMax != nil {
		attrs.ValidMax = validMax
	}

	h, err := engine.Open(context.Background(),
		config.Options{Source: "file://" + path, Connections: 4},
		nil,
		layout.Descriptor{
			Shape:      []int{cubeAxis, cubeAxis, cubeAxis},
			ChunkShape: []int{cubeChunk, cubeChunk, cubeChunk},
			Dtype:      "f8",
			Chunked:    true,
		},
		attrs,
		engine.VersionLocal,
	)
	test.OK(t, err)
	return h, naive
}

func cubeSelection() selection.Selection {
	return selection.Selection{
		selection.Range(0, 2, 1),
		selection.Range(4, 6, 1),
		selection.Range(7, 9, 1),
	}
}

// naiveSlice returns the [0:2, 4:6, 7:9] sub-array of naive in the same
// C order the engine's select-mode output uses.
func naiveSlice(naive []float64) []float64 {
	var out []float64
	for i := 0; i < 2; i++ {
		for j := 4; j < 6; j++ {
			for k := 7; k < 9; k++ {
				out = append(out, naive[(i*cubeAxis+j)*cubeAxis+k])
			}
		}
	}
	return out
}

func sumFloats(vals []float64) float64 {
	var s float64
	for _, v := range vals {
		s += v
	}
	return s
}

func TestScenarioS1SelectReturnsNaiveSlice(t *testing.T) {
	h, naive := buildCube(t, nil, 0, nil)

	res, err := h.Slice(context.Background(), cubeSelection(), reduce.None, false)
	test.OK(t, err)
	test.Equals(t, []int{2, 2, 2}, res.Shape)
	test.Equals(t, naiveSlice(naive), res.Values)
}

func TestScenarioS2MeanScalarEqualsNaiveMean(t *testing.T) {
	h, naive := buildCube(t, nil, 0, nil)

	res, err := h.Slice(context.Background(), cubeSelection(), reduce.Mean, false)
	test.OK(t, err)

	vals := naiveSlice(naive)
	test.Equals(t, sumFloats(vals)/float64(len(vals)), res.Scalar)
	test.Equals(t, len(vals), res.Count)
}

func TestScenarioS3MeanComponentsDefersDivision(t *testing.T) {
	h, naive := buildCube(t, nil, 0, nil)

	res, err := h.Slice(context.Background(), cubeSelection(), reduce.Mean, true)
	test.OK(t, err)

	vals := naiveSlice(naive)
	test.Equals(t, sumFloats(vals), res.Scalar)
	test.Equals(t, len(vals), res.Count)
	test.Equals(t, res.Scalar/float64(res.Count), sumFloats(vals)/float64(len(vals)))
}

func TestScenarioS4FillValueExcludedFromMean(t *testing.T) {
	fillAt := [3]int{0, 4, 7}
	h, naive := buildCube(t, &fillAt, -999, nil)

	res, err := h.Slice(context.Background(), cubeSelection(), reduce.Mean, false)
	test.OK(t, err)
	test.Equals(t, 7, res.Count)

	var sum float64
	n := 0
	for _, v := range naiveSlice(naive) {
		if v == -999 {
			continue
		}
		sum += v
		n++
	}
	test.Equals(t, n, res.Count)
	test.Equals(t, sum/float64(n), res.Scalar)
}

func TestScenarioS5ValidMaxDoesNotMaskInRangeValues(t *testing.T) {
	fillAt := [3]int{0, 4, 7}
	validMax := 850.0
	h, naive := buildCube(t, &fillAt, -999, &validMax)

	res, err := h.Slice(context.Background(), cubeSelection(), reduce.Mean, true)
	test.OK(t, err)

	// every value in this selection is far below 850, so valid_max excludes
	// nothing beyond the injected fill: same n and deferred sum as S4.
	var sum float64
	n := 0
	for _, v := range naiveSlice(naive) {
		if v == -999 {
			continue
		}
		sum += v
		n++
	}
	test.Equals(t, n, res.Count)
	test.Equals(t, sum, res.Scalar)
}
