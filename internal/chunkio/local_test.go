package chunkio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	activeerrors "github.com/chunkedio/activestore/internal/errors"
	"github.com/chunkedio/activestore/internal/test"
)

func TestLocalSourceReadRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	test.OK(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	src, err := openLocal(path)
	test.OK(t, err)
	defer func() { _ = src.Close() }()

	size, err := src.Size(context.Background())
	test.OK(t, err)
	test.Equals(t, int64(10), size)

	got, err := src.ReadRange(context.Background(), 3, 4)
	test.OK(t, err)
	test.Equals(t, "3456", string(got))
}

func TestLocalSourceShortRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	test.OK(t, os.WriteFile(path, []byte("abc"), 0o644))

	src, err := openLocal(path)
	test.OK(t, err)
	defer func() { _ = src.Close() }()

	_, err = src.ReadRange(context.Background(), 0, 100)
	test.Assert(t, err != nil, "expected a short-read error")
}

func TestOpenLocalMissingFileReportsNotFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.bin")

	_, err := openLocal(path)
	test.Assert(t, err != nil, "expected an error for a missing file")

	var notFound *activeerrors.NotFoundError
	test.Assert(t, errors.As(err, &notFound), "expected a NotFoundError, got %T: %v", err, err)
	test.Equals(t, path, notFound.Path)
}

func TestSplitScheme(t *testing.T) {
	cases := []struct {
		in, scheme, rest string
	}{
		{"file:///tmp/data.nc", "file", "/tmp/data.nc"},
		{"/tmp/data.nc", "", "/tmp/data.nc"},
		{"s3://bucket/key/path", "s3", "bucket/key/path"},
	}
	for _, c := range cases {
		scheme, rest := splitScheme(c.in)
		test.Equals(t, c.scheme, scheme)
		test.Equals(t, c.rest, rest)
	}
}

func TestSplitBucketKey(t *testing.T) {
	bucket, key, err := splitBucketKey("bucket/some/key.nc")
	test.OK(t, err)
	test.Equals(t, "bucket", bucket)
	test.Equals(t, "some/key.nc", key)

	_, _, err = splitBucketKey("no-slash")
	test.Assert(t, err != nil, "expected an error for a bucket/key with no slash")
}
