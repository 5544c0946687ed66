// Package layout resolves a chunked variable's on-disk layout — its chunk
// grid, its filter pipeline, and the v1 B-tree that maps chunk coordinates
// to stored bytes — into chunk reads a reducer can act on. It deliberately
// does not parse the rest of an HDF5/NetCDF4 object model (groups,
// attributes, general datatype trees): callers are expected to resolve a
// Descriptor with an existing HDF5-aware library and hand it to Open.
package layout

import (
	"context"

	"github.com/chunkedio/activestore/internal/chunkio"
	"github.com/chunkedio/activestore/internal/dtype"
	"github.com/chunkedio/activestore/internal/errors"
)

// Descriptor is everything layout needs to know about a variable's on-disk
// representation to be able to read and decode its chunks.
type Descriptor struct {
	Shape      []int
	ChunkShape []int
	Dtype      string // one of the names internal/dtype understands
	BigEndian  bool
	FillValue  []byte // Dtype-width encoding of the fill value, or nil
	Pipeline   *Pipeline

	// Contiguous datasets store their elements as one unbroken run
	// starting at ContiguousAddress; Chunked datasets are indexed by the
	// v1 B-tree rooted at BTreeAddress. Exactly one of the two applies.
	Chunked           bool
	BTreeAddress      int64
	ContiguousAddress int64
}

// Variable is an open, chunk-addressable view of a variable's data.
type Variable struct {
	desc  Descriptor
	src   chunkio.Source
	index *ChunkIndex
	cache *chunkCache
}

// Open resolves desc's chunk index (if the variable is chunked) against
// src, returning a Variable ready to serve ReadChunk calls.
func Open(ctx context.Context, src chunkio.Source, desc Descriptor) (*Variable, error) {
	if len(desc.Shape) != len(desc.ChunkShape) {
		return nil, errors.InvalidInput("chunk shape has %d axes, variable shape has %d", len(desc.ChunkShape), len(desc.Shape))
	}

	v := &Variable{desc: desc, src: src, cache: newChunkCache()}

	if desc.Chunked {
		r := newCursor(&sourceReaderAt{ctx: ctx, src: src}, 0)
		idx, err := ReadChunkIndex(r, uint64(desc.BTreeAddress), desc.ChunkShape)
		if err != nil {
			return nil, errors.Wrap(err, "reading chunk index")
		}
		v.index = idx
	}

	return v, nil
}

// Shape returns the variable's logical shape.
func (v *Variable) Shape() []int { return v.desc.Shape }

// ChunkShape returns the nominal shape of one chunk; the trailing chunk
// along any axis may be only partially occupied.
func (v *Variable) ChunkShape() []int { return v.desc.ChunkShape }

// Dtype returns the variable's element dtype name.
func (v *Variable) Dtype() string { return v.desc.Dtype }

// BigEndian reports the byte order elements are stored in.
func (v *Variable) BigEndian() bool { return v.desc.BigEndian }

// FillValue returns the variable's fill value encoding, or nil if none was
// declared.
func (v *Variable) FillValue() []byte { return v.desc.FillValue }

// ReadChunk returns the decoded element bytes for the chunk at the given
// chunk-grid coordinates, in the variable's nominal chunk shape. If the
// chunk was never written to the file, it returns ok == false; the caller
// should synthesize a chunk filled with the variable's fill value instead.
func (v *Variable) ReadChunk(ctx context.Context, coords []int) (data []byte, ok bool, err error) {
	if !v.desc.Chunked {
		return v.readContiguous(ctx)
	}

	if cached, hit := v.cache.get(coords); hit {
		return cached, true, nil
	}

	d, found := v.index.Lookup(coords)
	if !found {
		return nil, false, nil
	}

	raw, err := v.src.ReadRange(ctx, d.Offset, d.Size)
	if err != nil {
		return nil, false, err
	}

	decoded, err := v.desc.Pipeline.Decode(raw, d.FilterMask)
	if err != nil {
		return nil, false, errors.Wrap(err, "decoding chunk")
	}

	v.cache.add(coords, decoded)
	return decoded, true, nil
}

// HasFilters reports whether chunks go through a filter pipeline before
// their raw element bytes can be read. Remote reduction servers do not
// decompress or defilter chunks on the caller's behalf, so a filtered
// variable can only be reduced locally.
func (v *Variable) HasFilters() bool {
	return v.desc.Pipeline != nil && len(v.desc.Pipeline.Filters) > 0
}

// ChunkByteRange returns where a chunk's stored bytes live in the
// underlying object, without reading or decoding them — the shape a remote
// reduction request needs. It fails for filtered/compressed variables,
// which a remote server cannot decode.
func (v *Variable) ChunkByteRange(coords []int) (offset, size int64, ok bool, err error) {
	if v.HasFilters() {
		return 0, 0, false, errors.UnsupportedFeature("remote reduction of a filtered or compressed variable")
	}

	if !v.desc.Chunked {
		return v.desc.ContiguousAddress, elementCount(v.desc.Shape) * int64(dtype.Width(dtype.Name(v.desc.Dtype))), true, nil
	}

	d, found := v.index.Lookup(coords)
	if !found {
		return 0, 0, false, nil
	}
	return d.Offset, d.Size, true, nil
}

func (v *Variable) readContiguous(ctx context.Context) ([]byte, bool, error) {
	size := elementCount(v.desc.Shape) * int64(dtype.Width(dtype.Name(v.desc.Dtype)))
	raw, err := v.src.ReadRange(ctx, v.desc.ContiguousAddress, int64(size))
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func elementCount(shape []int) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= int64(d)
	}
	return n
}
