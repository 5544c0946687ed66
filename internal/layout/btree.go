package layout

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/chunkedio/activestore/internal/errors"
)

// ChunkDescriptor locates one stored chunk: its coordinates in the chunk
// grid (element offset divided by the chunk shape, one entry per
// dimension), and where its (possibly filtered) bytes live in the
// underlying object.
type ChunkDescriptor struct {
	Coords     []int
	Offset     int64
	Size       int64
	FilterMask uint32
}

// ChunkIndex maps chunk-grid coordinates to where a chunk's bytes live. It
// is produced on demand from a dataset's v1 B-tree.
type ChunkIndex struct {
	byCoords map[uint64]ChunkDescriptor
}

// Lookup returns the descriptor for the chunk at the given chunk-grid
// coordinates, and whether that chunk has ever been written. An HDF5
// dataset need not have written every chunk in its grid; an unwritten
// chunk reads back as the dataset's fill value.
func (idx *ChunkIndex) Lookup(coords []int) (ChunkDescriptor, bool) {
	d, ok := idx.byCoords[coordKey(coords)]
	return d, ok
}

// coordKey hashes a chunk's coordinates into a single uint64 map key. A
// large chunk grid can have millions of entries; hashing once with xxhash
// is cheaper than building and comparing a multi-int composite key on every
// lookup.
func coordKey(coords []int) uint64 {
	var buf [8]byte
	h := xxhash.New()
	for _, c := range coords {
		binary.LittleEndian.PutUint64(buf[:], uint64(c))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// ReadChunkIndex walks a v1 B-tree of chunk-index type (node type 1) rooted
// at btreeAddr and returns the flattened set of chunk descriptors it
// contains. The number of dataset dimensions is len(chunkShape), not
// counting the trailing "element size" dimension HDF5 appends to B-tree keys.
func ReadChunkIndex(r *cursor, btreeAddr uint64, chunkShape []int) (*ChunkIndex, error) {
	idx := &ChunkIndex{byCoords: make(map[uint64]ChunkDescriptor)}
	if err := readChunkNode(r, btreeAddr, len(chunkShape), chunkShape, idx); err != nil {
		return nil, err
	}
	return idx, nil
}

func readChunkNode(r *cursor, address uint64, ndims int, chunkShape []int, idx *ChunkIndex) error {
	nr := r.at(int64(address))

	sig, err := nr.readBytes(4)
	if err != nil {
		return err
	}
	if string(sig) != "TREE" {
		return errors.DecodeFailure("invalid B-tree signature %q", sig)
	}

	nodeType, err := nr.readUint8()
	if err != nil {
		return err
	}
	if nodeType != 1 {
		return errors.DecodeFailure("expected chunk B-tree node (type 1), got %d", nodeType)
	}

	nodeLevel, err := nr.readUint8()
	if err != nil {
		return err
	}
	entriesUsed, err := nr.readUint16()
	if err != nil {
		return err
	}
	if _, err := nr.readOffset(); err != nil { // left sibling
		return err
	}
	if _, err := nr.readOffset(); err != nil { // right sibling
		return err
	}

	for i := uint16(0); i <= entriesUsed; i++ {
		size, err := nr.readUint32()
		if err != nil {
			return errors.Wrap(err, "chunk size")
		}
		filterMask, err := nr.readUint32()
		if err != nil {
			return errors.Wrap(err, "filter mask")
		}

		offsets := make([]uint64, ndims+1)
		for j := 0; j <= ndims; j++ {
			offsets[j], err = nr.readUint64()
			if err != nil {
				return errors.Wrap(err, "chunk offset")
			}
		}

		// The key for the entry past the last valid child only bounds the
		// node; there is no child pointer or chunk to record for it.
		if i == entriesUsed {
			break
		}

		if nodeLevel == 0 {
			childAddr, err := nr.readOffset()
			if err != nil {
				return errors.Wrap(err, "chunk address")
			}
			if childAddr == undefinedAddress || size == 0 {
				continue
			}
			coords := make([]int, ndims)
			for d := 0; d < ndims; d++ {
				coords[d] = int(offsets[d]) / chunkShape[d]
			}
			idx.byCoords[coordKey(coords)] = ChunkDescriptor{
				Coords:     coords,
				Offset:     int64(childAddr),
				Size:       int64(size),
				FilterMask: filterMask,
			}
		} else {
			childAddr, err := nr.readOffset()
			if err != nil {
				return errors.Wrap(err, "child node address")
			}
			if err := readChunkNode(r, childAddr, ndims, chunkShape, idx); err != nil {
				return err
			}
		}
	}

	return nil
}
