package chunkio

import (
	"context"
	"io"
	"net/url"
	"strings"

	stderrors "errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/chunkedio/activestore/internal/config"
	"github.com/chunkedio/activestore/internal/debug"
	"github.com/chunkedio/activestore/internal/errors"
)

// isNoSuchKey reports whether err is the S3 "object does not exist"
// response, the same check restic's S3 backend runs before retrying.
func isNoSuchKey(err error) bool {
	var e minio.ErrorResponse
	return stderrors.As(err, &e) && e.Code == "NoSuchKey"
}

// s3Source reads chunk bytes as explicit byte-range GETs against an
// S3-compatible object store via minio's lower-level Core client, which
// exposes range reads without buffering the whole object.
type s3Source struct {
	core       *minio.Core
	bucket     string
	key        string
	maxRetries uint
}

func openS3(_ context.Context, rest string, opts config.Options) (Source, error) {
	bucket, key, err := splitBucketKey(rest)
	if err != nil {
		return nil, err
	}

	endpoint, secure := normalizeEndpoint(opts.S3Endpoint)

	creds := credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvAWS{},
		&credentials.Static{
			Value: credentials.Value{
				AccessKeyID:     opts.AccessKey,
				SecretAccessKey: opts.SecretKey,
			},
		},
		&credentials.EnvMinio{},
		&credentials.IAM{},
	})

	core, err := minio.NewCore(endpoint, &minio.Options{
		Creds:  creds,
		Secure: secure,
		Region: opts.S3Region,
	})
	if err != nil {
		return nil, errors.TransportFailure("s3 client init", err)
	}

	debug.LogSource(rest, "opening s3 source via %s", endpoint)

	return &s3Source{core: core, bucket: bucket, key: key, maxRetries: opts.MaxRetries}, nil
}

// normalizeEndpoint strips a scheme off an S3 endpoint URL, since minio's
// client takes the host and a separate Secure flag rather than a full URL.
// An empty endpoint defaults to AWS's public endpoint over HTTPS.
func normalizeEndpoint(endpoint string) (host string, secure bool) {
	if endpoint == "" {
		return "s3.amazonaws.com", true
	}
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		return u.Host, u.Scheme != "http"
	}
	return strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://"), !strings.HasPrefix(endpoint, "http://")
}

func (s *s3Source) ReadRange(ctx context.Context, offset, size int64) ([]byte, error) {
	var buf []byte

	fetch := func() error {
		opts := minio.GetObjectOptions{}
		if err := opts.SetRange(offset, offset+size-1); err != nil {
			return backoff.Permanent(errors.TransportFailure("set range", err))
		}

		rd, _, _, err := s.core.GetObject(ctx, s.bucket, s.key, opts)
		if err != nil {
			if isNoSuchKey(err) {
				return backoff.Permanent(errors.NotFound(s.bucket + "/" + s.key))
			}
			return errors.TransportFailure("get object", err)
		}
		defer func() { _ = rd.Close() }()

		data, err := io.ReadAll(rd)
		if err != nil {
			return errors.TransportFailure("read object body", err)
		}
		if int64(len(data)) != size {
			return errors.TransportFailure("get object", errors.Errorf("short read: got %d of %d bytes", len(data), size))
		}
		buf = data
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.maxRetries))
	if err := backoff.Retry(fetch, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *s3Source) Size(ctx context.Context) (int64, error) {
	info, err := s.core.StatObject(ctx, s.bucket, s.key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return 0, errors.NotFound(s.bucket + "/" + s.key)
		}
		return 0, errors.TransportFailure("stat object", err)
	}
	return info.Size, nil
}

func (s *s3Source) Close() error {
	return nil
}
