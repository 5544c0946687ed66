package layout

import (
	"context"
	"encoding/binary"
	"io"

	"github.com/chunkedio/activestore/internal/chunkio"
	"github.com/chunkedio/activestore/internal/errors"
)

// sourceReaderAt adapts a chunkio.Source's range reads to the io.ReaderAt
// shape the B-tree reader wants, so the reader can be written without
// threading a context through every byte read.
type sourceReaderAt struct {
	ctx context.Context
	src chunkio.Source
}

func (r *sourceReaderAt) ReadAt(p []byte, off int64) (int, error) {
	data, err := r.src.ReadRange(r.ctx, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	return copy(p, data), nil
}

// cursor is a small sequential reader over an io.ReaderAt, used to parse
// HDF5 structures (B-tree nodes) that are read one field at a time in a
// fixed binary layout.
type cursor struct {
	r   io.ReaderAt
	pos int64
}

func newCursor(r io.ReaderAt, offset int64) *cursor {
	return &cursor{r: r, pos: offset}
}

func (c *cursor) at(offset int64) *cursor {
	return &cursor{r: c.r, pos: offset}
}

func (c *cursor) readBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := c.r.ReadAt(buf, c.pos); err != nil {
		return nil, errors.DecodeFailure("read %d bytes at offset %d: %v", n, c.pos, err)
	}
	c.pos += int64(n)
	return buf, nil
}

func (c *cursor) readUint8() (uint8, error) {
	b, err := c.readBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) readUint16() (uint16, error) {
	b, err := c.readBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (c *cursor) readUint32() (uint32, error) {
	b, err := c.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *cursor) readUint64() (uint64, error) {
	b, err := c.readBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// readOffset reads an 8-byte file address, HDF5's "undefined address"
// sentinel (all bits set) included.
func (c *cursor) readOffset() (uint64, error) {
	return c.readUint64()
}

const undefinedAddress = ^uint64(0)
