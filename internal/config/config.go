// Package config resolves the options that govern how a variable is opened
// and how its chunks are read, applying a fixed precedence: values passed
// explicitly to Open, then a storage-options map, then the process
// environment. Nothing here is read from mutable package-level state, so a
// single process can open variables against different stores concurrently
// without one caller's configuration leaking into another's.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/chunkedio/activestore/internal/errors"
)

// Options holds everything needed to reach a storage backend and run a
// reduction against it. Zero values mean "not set"; Resolve fills them in
// from the storage-options map and then the environment.
type Options struct {
	// Source is the URI of the chunked object to read: a local path, a
	// file:// URI, or an s3://bucket/key URI.
	Source string

	// RemoteServer, when non-empty, is the base URL of a Reductionist
	// instance. The engine sends chunks there instead of reducing them
	// locally only for engine.VersionRemote, an s3:// source and unfiltered
	// chunks.
	RemoteServer string

	// AccessKey, SecretKey and the s3 endpoint/region authenticate against
	// an S3-compatible object store. Username/Password authenticate
	// against a remote reduction server via HTTP Basic auth.
	AccessKey string
	SecretKey string
	S3Endpoint string
	S3Region   string
	Username   string
	Password   string

	// Connections bounds the number of chunks read and reduced
	// concurrently.
	Connections uint

	// MaxRetries bounds retry attempts for transient transport failures
	// against a remote reduction server.
	MaxRetries uint

	// RequestTimeout bounds a single HTTP round trip to a remote
	// reduction server.
	RequestTimeout time.Duration
}

const (
	defaultMaxRetries     = 3
	defaultRequestTimeout = 30 * time.Second
)

// Default returns an Options with the package defaults filled in. Connections
// is deliberately left at zero: the engine package derives its own default
// from runtime.GOMAXPROCS(0) when Connections is unset, rather than this
// package hardcoding a core-count-independent number.
func Default() Options {
	return Options{
		MaxRetries:     defaultMaxRetries,
		RequestTimeout: defaultRequestTimeout,
	}
}

// Resolve layers explicit options (highest precedence) over a caller-supplied
// storage-options map, over the process environment (lowest precedence),
// starting from Default(). storageOptions and the environment use the same
// key names, just as ACTIVESTORE_UPPER_SNAKE_CASE for the environment.
func Resolve(explicit Options, storageOptions map[string]string) (Options, error) {
	out := Default()

	apply := func(get func(string) (string, bool)) error {
		if v, ok := get("source"); ok {
			out.Source = v
		}
		if v, ok := get("remote_server"); ok {
			out.RemoteServer = v
		}
		if v, ok := get("access_key"); ok {
			out.AccessKey = v
		}
		if v, ok := get("secret_key"); ok {
			out.SecretKey = v
		}
		if v, ok := get("s3_endpoint"); ok {
			out.S3Endpoint = v
		}
		if v, ok := get("s3_region"); ok {
			out.S3Region = v
		}
		if v, ok := get("username"); ok {
			out.Username = v
		}
		if v, ok := get("password"); ok {
			out.Password = v
		}
		if v, ok := get("connections"); ok {
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return errors.InvalidInput("connections: %v", err)
			}
			out.Connections = uint(n)
		}
		if v, ok := get("max_retries"); ok {
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return errors.InvalidInput("max_retries: %v", err)
			}
			out.MaxRetries = uint(n)
		}
		if v, ok := get("request_timeout"); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return errors.InvalidInput("request_timeout: %v", err)
			}
			out.RequestTimeout = d
		}
		return nil
	}

	if err := apply(envLookup); err != nil {
		return Options{}, err
	}
	if err := apply(func(key string) (string, bool) {
		v, ok := storageOptions[key]
		return v, ok
	}); err != nil {
		return Options{}, err
	}
	if err := apply(func(key string) (string, bool) {
		return explicitLookup(explicit, key)
	}); err != nil {
		return Options{}, err
	}

	if out.Source == "" {
		return Options{}, errors.InvalidInput("source is required")
	}

	return out, nil
}

var envKeys = map[string]string{
	"source":          "ACTIVESTORE_SOURCE",
	"remote_server":   "ACTIVESTORE_REMOTE_SERVER",
	"access_key":      "ACTIVESTORE_ACCESS_KEY",
	"secret_key":      "ACTIVESTORE_SECRET_KEY",
	"s3_endpoint":     "ACTIVESTORE_S3_ENDPOINT",
	"s3_region":       "ACTIVESTORE_S3_REGION",
	"username":        "ACTIVESTORE_USERNAME",
	"password":        "ACTIVESTORE_PASSWORD",
	"connections":     "ACTIVESTORE_CONNECTIONS",
	"max_retries":     "ACTIVESTORE_MAX_RETRIES",
	"request_timeout": "ACTIVESTORE_REQUEST_TIMEOUT",
}

func envLookup(key string) (string, bool) {
	envVar, ok := envKeys[key]
	if !ok {
		return "", false
	}
	return os.LookupEnv(envVar)
}

// explicitLookup reports whether a field of an explicit Options struct was
// set, treating the zero value as "not provided" for every field.
func explicitLookup(o Options, key string) (string, bool) {
	switch key {
	case "source":
		return o.Source, o.Source != ""
	case "remote_server":
		return o.RemoteServer, o.RemoteServer != ""
	case "access_key":
		return o.AccessKey, o.AccessKey != ""
	case "secret_key":
		return o.SecretKey, o.SecretKey != ""
	case "s3_endpoint":
		return o.S3Endpoint, o.S3Endpoint != ""
	case "s3_region":
		return o.S3Region, o.S3Region != ""
	case "username":
		return o.Username, o.Username != ""
	case "password":
		return o.Password, o.Password != ""
	case "connections":
		if o.Connections == 0 {
			return "", false
		}
		return strconv.FormatUint(uint64(o.Connections), 10), true
	case "max_retries":
		if o.MaxRetries == 0 {
			return "", false
		}
		return strconv.FormatUint(uint64(o.MaxRetries), 10), true
	case "request_timeout":
		if o.RequestTimeout == 0 {
			return "", false
		}
		return o.RequestTimeout.String(), true
	}
	return "", false
}
