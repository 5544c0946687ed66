package chunkio

import (
	"context"
	"os"

	"github.com/chunkedio/activestore/internal/debug"
	"github.com/chunkedio/activestore/internal/errors"
)

// localSource reads chunk bytes out of a file on the local filesystem via
// positional reads, so many goroutines can share one open file handle.
type localSource struct {
	f *os.File
}

func openLocal(path string) (Source, error) {
	debug.LogSource(path, "opening local source")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(path)
		}
		return nil, errors.TransportFailure("open", err)
	}
	return &localSource{f: f}, nil
}

func (s *localSource) ReadRange(_ context.Context, offset, size int64) ([]byte, error) {
	buf := make([]byte, size)
	n, err := s.f.ReadAt(buf, offset)
	if err != nil {
		return nil, errors.TransportFailure("read", err)
	}
	if int64(n) != size {
		return nil, errors.TransportFailure("read", errors.Errorf("short read: got %d of %d bytes", n, size))
	}
	return buf, nil
}

func (s *localSource) Size(context.Context) (int64, error) {
	fi, err := s.f.Stat()
	if err != nil {
		return 0, errors.TransportFailure("stat", err)
	}
	return fi.Size(), nil
}

func (s *localSource) Close() error {
	return s.f.Close()
}
