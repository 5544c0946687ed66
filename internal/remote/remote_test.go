package remote_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chunkedio/activestore/internal/missing"
	"github.com/chunkedio/activestore/internal/reduce"
	"github.com/chunkedio/activestore/internal/remote"
	"github.com/chunkedio/activestore/internal/selection"
	"github.com/chunkedio/activestore/internal/test"
)

func TestReduceSumHitsSumEndpointAndDecodesResult(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		test.OK(t, json.NewDecoder(r.Body).Decode(&gotBody))

		user, pass, ok := r.BasicAuth()
		test.Assert(t, ok, "expected basic auth credentials")
		test.Equals(t, "alice", user)
		test.Equals(t, "secret", pass)

		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(42))

		w.Header().Set("x-activestorage-dtype", "float64")
		w.Header().Set("x-activestorage-shape", "[]")
		w.Header().Set("x-activestorage-count", "7")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf)
	}))
	defer srv.Close()

	c := remote.New(srv.URL, "alice", "secret", 0, 0)

	partial, err := c.Reduce(context.Background(), "s3://example", remote.Request{
		Bucket: "b", Object: "o", Offset: 0, Size: 16,
		Dtype: "f8", Shape: []int{2, 2},
		Selection: []selection.Slice{selection.Range(0, 2, 1), selection.Range(0, 2, 1)},
		Op:        reduce.Mean,
	})
	test.OK(t, err)
	test.Equals(t, "/v1/sum/", gotPath)
	test.Equals(t, "b", gotBody["bucket"])
	test.Equals(t, float64(42), partial.Scalar)
	test.Equals(t, 7, partial.Count)
}

func TestReduceFillWinsOverMissingValueInWireRequest(t *testing.T) {
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		test.OK(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("x-activestorage-dtype", "float64")
		w.Header().Set("x-activestorage-shape", "[]")
		w.Header().Set("x-activestorage-count", "0")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := remote.New(srv.URL, "u", "p", 0, 0)
	fill := -999.0
	spec, err := missing.Normalize(missing.RawAttributes{Fill: &fill, MissingValue: ptr(-1)})
	test.OK(t, err)

	_, err = c.Reduce(context.Background(), "s3://example", remote.Request{
		Bucket: "b", Object: "o", Dtype: "f4", Missing: spec, Op: reduce.Sum,
	})
	test.OK(t, err)

	missingObj, ok := gotBody["missing"].(map[string]interface{})
	test.Assert(t, ok, "expected a missing object in the request body")
	test.Equals(t, -999.0, missingObj["missing_value"])
}

func TestReduceNonOKStatusIsNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer srv.Close()

	c := remote.New(srv.URL, "u", "p", 3, 0)
	_, err := c.Reduce(context.Background(), "s3://example", remote.Request{Dtype: "f4", Op: reduce.None})
	test.Assert(t, err != nil, "expected an error for a non-2xx response")
	test.Equals(t, 1, calls)
}

func ptr(f float64) *float64 { return &f }
