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

func putUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func putUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

const undefinedAddress = ^uint64(0)

// buildLeaf encodes a single-level v1 chunk B-tree leaf node over a 1-D
// chunk grid: one entry per (elementOffset, address, size) triple, plus the
// trailing bound-only key every node carries.
func buildLeaf(entries []struct {
	elementOffset uint64
	addr          uint64
	size          uint32
}) []byte {
	var buf bytes.Buffer
	buf.WriteString("TREE")
	buf.WriteByte(1)
	buf.WriteByte(0)
	putUint16(&buf, uint16(len(entries)))
	putUint64(&buf, undefinedAddress)
	putUint64(&buf, undefinedAddress)

	for _, e := range entries {
		putUint32(&buf, e.size)
		putUint32(&buf, 0)
		putUint64(&buf, e.elementOffset)
		putUint64(&buf, 0)
		putUint64(&buf, e.addr)
	}

	// bound-only trailing key, no child pointer
	putUint32(&buf, 0)
	putUint32(&buf, 0)
	putUint64(&buf, 6)
	putUint64(&buf, 0)

	return buf.Bytes()
}

// newVariableFile writes a synthetic file holding a 1-D, 6-element float64
// variable chunked in groups of 2 ([1,2] [3,4] [5,6]), with no filters, and
// returns a Handle opened against it.
func newVariableFile(t *testing.T, version engine.Version, fill *float64) *engine.Handle {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")

	chunkBytes := func(vals ...float64) []byte {
		b := make([]byte, 8*len(vals))
		for i, v := range vals {
			binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(v))
		}
		return b
	}

	c0 := chunkBytes(1, 2)
	c1 := chunkBytes(3, 4)
	c2 := chunkBytes(5, 6)

	const base = 1024
	off0, off1, off2 := int64(base), int64(base+16), int64(base+32)

	btree := buildLeaf([]struct {
		elementOffset uint64
		addr          uint64
		size          uint32
	}{
		{0, uint64(off0), 16},
		{2, uint64(off1), 16},
		{4, uint64(off2), 16},
	})

	file := make([]byte, base+48)
	copy(file, btree)
	copy(file[off0:], c0)
	copy(file[off1:], c1)
	copy(file[off2:], c2)

	test.OK(t, os.WriteFile(path, file, 0o644))

	attrs := missing.RawAttributes{}
	if fill != nil {
		attrs.Fill = fill
	}

	h, err := engine.Open(context.Background(),
		config.Options{Source: "file://" + path, Connections: 2},
		nil,
		layout.Descriptor{
			Shape:      []int{6},
			ChunkShape: []int{2},
			Dtype:      "f8",
			Chunked:    true,
		},
		attrs,
		version,
	)
	test.OK(t, err)
	return h
}

func TestSlicePassthroughReturnsSelectedElements(t *testing.T) {
	h := newVariableFile(t, engine.VersionPassthrough, nil)

	res, err := h.Slice(context.Background(), selection.Selection{selection.Range(1, 5, 1)}, reduce.None, false)
	test.OK(t, err)
	test.Equals(t, []int{4}, res.Shape)
	test.Equals(t, []float64{2, 3, 4, 5}, res.Values)
}

func TestSliceSumReducesAllChunks(t *testing.T) {
	h := newVariableFile(t, engine.VersionLocal, nil)

	res, err := h.Slice(context.Background(), selection.Selection{selection.Range(0, 6, 1)}, reduce.Sum, false)
	test.OK(t, err)
	test.Equals(t, float64(21), res.Scalar)
	test.Equals(t, 6, res.Count)
}

func TestSliceMeanDividesByCount(t *testing.T) {
	h := newVariableFile(t, engine.VersionLocal, nil)

	res, err := h.Slice(context.Background(), selection.Selection{selection.Range(0, 6, 1)}, reduce.Mean, false)
	test.OK(t, err)
	test.Equals(t, 3.5, res.Scalar)
	test.Equals(t, 6, res.Count)
}

func TestSliceMeanComponentsDefersDivision(t *testing.T) {
	h := newVariableFile(t, engine.VersionLocal, nil)

	res, err := h.Slice(context.Background(), selection.Selection{selection.Range(0, 6, 1)}, reduce.Mean, true)
	test.OK(t, err)
	test.Equals(t, float64(21), res.Scalar)
	test.Equals(t, 6, res.Count)
}

func TestSliceIndexDropsAxis(t *testing.T) {
	h := newVariableFile(t, engine.VersionLocal, nil)

	res, err := h.Slice(context.Background(), selection.Selection{selection.Index(3)}, reduce.None, false)
	test.OK(t, err)
	test.Equals(t, []int{}, res.Shape)
	test.Equals(t, []float64{4}, res.Values)
}

func TestSliceFillValueExcludedFromSum(t *testing.T) {
	fill := 5.0
	h := newVariableFile(t, engine.VersionLocal, &fill)

	res, err := h.Slice(context.Background(), selection.Selection{selection.Range(0, 6, 1)}, reduce.Sum, false)
	test.OK(t, err)
	test.Equals(t, float64(16), res.Scalar) // 1+2+3+4+6, the 5 is masked
	test.Equals(t, 5, res.Count)
}

func TestSliceMax(t *testing.T) {
	h := newVariableFile(t, engine.VersionLocal, nil)

	res, err := h.Slice(context.Background(), selection.Selection{selection.Range(0, 6, 1)}, reduce.Max, false)
	test.OK(t, err)
	test.Equals(t, float64(6), res.Scalar)
	test.Equals(t, 6, res.Count)
}

func TestSliceUnwrittenChunkReadsAsFill(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")

	chunkBytes := func(vals ...float64) []byte {
		b := make([]byte, 8*len(vals))
		for i, v := range vals {
			binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(v))
		}
		return b
	}
	c0 := chunkBytes(1, 2)

	const base = 1024
	// Only the first of two chunks over an 4-element, chunk-size-2 variable
	// is ever written; the second (elements 2:4) is absent from the index.
	btree := buildLeaf([]struct {
		elementOffset uint64
		addr          uint64
		size          uint32
	}{
		{0, uint64(base), 16},
	})

	file := make([]byte, base+16)
	copy(file, btree)
	copy(file[base:], c0)
	test.OK(t, os.WriteFile(path, file, 0o644))

	fill := -1.0
	h, err := engine.Open(context.Background(),
		config.Options{Source: "file://" + path, Connections: 2},
		nil,
		layout.Descriptor{Shape: []int{4}, ChunkShape: []int{2}, Dtype: "f8", Chunked: true},
		missing.RawAttributes{Fill: &fill},
		engine.VersionLocal,
	)
	test.OK(t, err)

	res, err := h.Slice(context.Background(), selection.Selection{selection.Range(0, 4, 1)}, reduce.Sum, false)
	test.OK(t, err)
	test.Equals(t, float64(3), res.Scalar) // 1+2 from the written chunk; the unwritten chunk is all fill and masked
	test.Equals(t, 2, res.Count)
}
