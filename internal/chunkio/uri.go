package chunkio

import (
	"context"
	"strings"

	"github.com/chunkedio/activestore/internal/config"
	"github.com/chunkedio/activestore/internal/errors"
)

// Open dispatches on a source URI's scheme and returns the Source that can
// read it. Three forms are recognized: a bare or file:// local path, and an
// s3://bucket/key URI; anything else is rejected as unsupported. This
// mirrors how repository locations are told apart by their scheme prefix,
// except the set of schemes here is deliberately small.
func Open(ctx context.Context, opts config.Options) (Source, error) {
	scheme, rest := splitScheme(opts.Source)

	switch scheme {
	case "file":
		return openLocal(rest)
	case "s3":
		return openS3(ctx, rest, opts)
	case "":
		return openLocal(rest)
	default:
		return nil, errors.UnsupportedFeature("unrecognized source scheme %q", scheme)
	}
}

// splitScheme splits a URI into its scheme and the remainder following
// "://". A string with no "://" is treated as having no scheme at all (a
// bare path).
func splitScheme(s string) (scheme, rest string) {
	idx := strings.Index(s, "://")
	if idx < 0 {
		return "", s
	}
	return s[:idx], s[idx+3:]
}

// ParseS3Source splits an s3://bucket/key source URI into its bucket and
// object key, for callers (such as the remote reduction client) that need
// to name the object without opening a Source for it.
func ParseS3Source(uri string) (bucket, key string, err error) {
	scheme, rest := splitScheme(uri)
	if scheme != "s3" {
		return "", "", errors.InvalidInput("remote reduction requires an s3:// source, got %q", uri)
	}
	return splitBucketKey(rest)
}

// splitBucketKey splits the "bucket/key/with/slashes" remainder of an
// s3://... URI into its bucket and object key.
func splitBucketKey(rest string) (bucket, key string, err error) {
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", errors.InvalidInput("s3 source must be of the form s3://bucket/key, got %q", rest)
	}
	return bucket, key, nil
}
