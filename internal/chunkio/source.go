// Package chunkio opens the byte range a chunk occupies inside an object,
// whatever store that object lives in. It is the lowest layer of the engine:
// it knows nothing about chunk grids, filters, or dtypes, only how to fetch
// [offset, offset+size) bytes out of a named object.
package chunkio

import "context"

// Source reads byte ranges out of a single object and reports its total
// size. Implementations must be safe for concurrent use: the engine reads
// many chunks of the same object in parallel.
type Source interface {
	// ReadRange returns the size bytes starting at offset within the
	// object. It is an error for the range to extend past the object's
	// size.
	ReadRange(ctx context.Context, offset int64, size int64) ([]byte, error)

	// Size returns the total size in bytes of the object.
	Size(ctx context.Context) (int64, error)

	// Close releases any resources held open by the source.
	Close() error
}
