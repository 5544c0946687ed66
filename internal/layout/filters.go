package layout

import (
	"bytes"
	"compress/bzip2"
	"io"

	kzlib "github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"github.com/chunkedio/activestore/internal/errors"
)

// FilterID identifies an HDF5 filter in a dataset's filter pipeline.
type FilterID uint16

const (
	FilterDeflate FilterID = 1
	FilterShuffle FilterID = 2
	FilterFletcher32 FilterID = 3
	FilterSZIP    FilterID = 4
	FilterNBit    FilterID = 5
	FilterScaleOffset FilterID = 6
	FilterBZIP2   FilterID = 307
	FilterLZF     FilterID = 32000
	FilterZstd    FilterID = 32015
)

const optionalFilterFlag = 0x0001

// Filter is one stage of a dataset's filter pipeline, in the order it was
// applied when the chunk was written.
type Filter struct {
	ID         FilterID
	Flags      uint16
	ClientData []uint32
}

// Pipeline is the ordered set of filters applied to every chunk of a
// dataset.
type Pipeline struct {
	Filters []Filter
}

// ParsePipeline parses an HDF5 filter pipeline message body (message type
// 0x000B, version 1 or 2).
func ParsePipeline(data []byte) (*Pipeline, error) {
	if len(data) < 2 {
		return nil, errors.DecodeFailure("filter pipeline message too short")
	}

	version := data[0]
	numFilters := int(data[1])
	if version < 1 || version > 2 {
		return nil, errors.UnsupportedFeature("filter pipeline version %d", version)
	}

	offset := 2
	if version == 1 {
		offset += 6
	}

	pipeline := &Pipeline{Filters: make([]Filter, 0, numFilters)}

	for i := 0; i < numFilters; i++ {
		if offset+8 > len(data) {
			return nil, errors.DecodeFailure("filter pipeline truncated at filter %d", i)
		}

		var f Filter
		f.ID = FilterID(leUint16(data[offset:]))
		offset += 2

		var nameLength uint16
		if version == 1 {
			nameLength = leUint16(data[offset:])
			offset += 2
		}

		f.Flags = leUint16(data[offset:])
		offset += 2

		numClientData := int(leUint16(data[offset:]))
		offset += 2

		if version == 1 && nameLength > 0 {
			padded := int(nameLength)
			if padded%8 != 0 {
				padded += 8 - padded%8
			}
			if offset+padded > len(data) {
				return nil, errors.DecodeFailure("filter name truncated at filter %d", i)
			}
			offset += padded
		}

		if numClientData > 0 {
			dataSize := numClientData * 4
			if offset+dataSize > len(data) {
				return nil, errors.DecodeFailure("filter client data truncated at filter %d", i)
			}
			f.ClientData = make([]uint32, numClientData)
			for j := 0; j < numClientData; j++ {
				f.ClientData[j] = leUint32(data[offset:])
				offset += 4
			}
			if version == 1 && dataSize%8 != 0 {
				offset += 8 - dataSize%8
			}
		}

		pipeline.Filters = append(pipeline.Filters, f)
	}

	return pipeline, nil
}

// Decode reverses a pipeline's filters against stored chunk bytes, in the
// reverse of their storage order, and returns the decompressed, unshuffled
// element bytes. filterMask, from the chunk's B-tree entry, marks filters
// that were skipped when the chunk was written (bit i set means filter i at
// that index was not applied).
func (p *Pipeline) Decode(data []byte, filterMask uint32) ([]byte, error) {
	if p == nil || len(p.Filters) == 0 {
		return data, nil
	}

	result := data
	for i := len(p.Filters) - 1; i >= 0; i-- {
		f := p.Filters[i]
		if filterMask&(1<<uint(i)) != 0 {
			continue
		}

		decoded, err := decodeFilter(f, result)
		if err != nil {
			if f.Flags&optionalFilterFlag != 0 {
				continue
			}
			return nil, errors.Wrapf(err, "filter %d", f.ID)
		}
		result = decoded
	}
	return result, nil
}

func decodeFilter(f Filter, data []byte) ([]byte, error) {
	switch f.ID {
	case FilterDeflate:
		return decodeDeflate(data)
	case FilterZstd:
		return decodeZstd(data)
	case FilterShuffle:
		return decodeShuffle(data, f.ClientData)
	case FilterFletcher32:
		return decodeFletcher32(data)
	case FilterBZIP2:
		return decodeBZIP2(data)
	case FilterLZF:
		return decodeLZF(data)
	case FilterSZIP:
		return nil, errors.UnsupportedFeature("SZIP filter requires libaec, which has no pure-Go implementation")
	default:
		return nil, errors.UnsupportedFeature("filter ID %d", f.ID)
	}
}

func decodeDeflate(data []byte) ([]byte, error) {
	r, err := kzlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "zlib reader")
	}
	defer func() { _ = r.Close() }()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "zlib decompress")
	}
	return out, nil
}

func decodeZstd(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "zstd reader")
	}
	defer dec.Close()
	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, errors.Wrap(err, "zstd decompress")
	}
	return out, nil
}

func decodeBZIP2(data []byte) ([]byte, error) {
	out, err := io.ReadAll(bzip2.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, errors.Wrap(err, "bzip2 decompress")
	}
	return out, nil
}

func decodeShuffle(data []byte, clientData []uint32) ([]byte, error) {
	if len(clientData) == 0 {
		return nil, errors.DecodeFailure("shuffle filter missing element size")
	}
	elementSize := int(clientData[0])
	if elementSize <= 0 || len(data)%elementSize != 0 {
		return nil, errors.DecodeFailure("shuffle: data size %d not a multiple of element size %d", len(data), elementSize)
	}

	numElements := len(data) / elementSize
	out := make([]byte, len(data))
	for elem := 0; elem < numElements; elem++ {
		for b := 0; b < elementSize; b++ {
			out[elem*elementSize+b] = data[b*numElements+elem]
		}
	}
	return out, nil
}

func decodeFletcher32(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, errors.DecodeFailure("data too short for a fletcher32 checksum")
	}
	return data[:len(data)-4], nil
}

// decodeLZF decompresses the small LZF variant used by h5py/PyTables.
func decodeLZF(input []byte) ([]byte, error) {
	out := make([]byte, 0, len(input)*2)
	pos := 0
	for pos < len(input) {
		ctrl := input[pos]
		pos++

		if ctrl&0xE0 == 0 {
			runLen := int(ctrl) + 1
			if pos+runLen > len(input) {
				return nil, errors.DecodeFailure("lzf: truncated literal run")
			}
			out = append(out, input[pos:pos+runLen]...)
			pos += runLen
			continue
		}

		var runLen int
		if ctrl&0xE0 == 0xE0 {
			if pos >= len(input) {
				return nil, errors.DecodeFailure("lzf: truncated long backreference")
			}
			runLen = int(input[pos]) + 9
			pos++
		} else {
			runLen = int((ctrl>>5)&0x07) + 2
		}

		if pos >= len(input) {
			return nil, errors.DecodeFailure("lzf: truncated backreference")
		}
		offsetHigh := int(ctrl & 0x1F)
		offsetLow := int(input[pos])
		pos++
		offset := (offsetHigh<<8 | offsetLow) + 1

		if offset > len(out) {
			return nil, errors.DecodeFailure("lzf: invalid backreference offset %d into %d output bytes", offset, len(out))
		}
		srcPos := len(out) - offset
		for i := 0; i < runLen; i++ {
			out = append(out, out[srcPos+i])
		}
	}
	return out, nil
}

func leUint16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
