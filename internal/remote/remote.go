// Package remote implements the client side of the active-storage wire
// protocol: it encodes a chunk reduction request as JSON, posts it to a
// Reductionist-compatible server, and decodes the typed binary response.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/chunkedio/activestore/internal/debug"
	"github.com/chunkedio/activestore/internal/dtype"
	"github.com/chunkedio/activestore/internal/errors"
	"github.com/chunkedio/activestore/internal/missing"
	"github.com/chunkedio/activestore/internal/reduce"
	"github.com/chunkedio/activestore/internal/selection"
)

// Client posts chunk reductions to a remote active-storage server.
type Client struct {
	httpClient *http.Client
	server     string
	username   string
	password   string
	maxRetries uint
}

// New returns a Client that talks to server (e.g.
// "https://reductionist.example.org"). requestTimeout bounds a single HTTP
// round trip; zero means no timeout.
func New(server, username, password string, maxRetries uint, requestTimeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: debug.RoundTripper(http.DefaultTransport),
			Timeout:   requestTimeout,
		},
		server:     server,
		username:   username,
		password:   password,
		maxRetries: maxRetries,
	}
}

// Request describes one chunk reduction to run remotely.
type Request struct {
	Bucket    string
	Object    string
	Offset    int64
	Size      int64
	Dtype     string
	BigEndian bool
	Shape     []int
	Selection []selection.Slice
	Missing   missing.Spec
	Op        reduce.Op
}

type wireRequest struct {
	Source    string          `json:"source"`
	Bucket    string          `json:"bucket"`
	Object    string          `json:"object"`
	Dtype     string          `json:"dtype"`
	ByteOrder string          `json:"byte_order"`
	Offset    int64           `json:"offset"`
	Size      int64           `json:"size"`
	Order     string          `json:"order"`
	Shape     []int           `json:"shape,omitempty"`
	Selection [][3]int        `json:"selection,omitempty"`
	Missing   json.RawMessage `json:"missing,omitempty"`
}

// Reduce posts req to the server and returns the decoded result. op ==
// reduce.None hits the "select" endpoint; op == reduce.Mean is sent as
// "sum" — the server has no notion of mean, so the division by count is
// always deferred to the caller, matching the local reducer's contract.
func (c *Client) Reduce(ctx context.Context, source string, req Request) (reduce.Partial, error) {
	apiOp := apiOperation(req.Op)

	canonicalDtype, err := dtype.CanonicalName(dtype.Name(req.Dtype))
	if err != nil {
		return reduce.Partial{}, err
	}

	body, err := json.Marshal(wireRequest{
		Source:    source,
		Bucket:    req.Bucket,
		Object:    req.Object,
		Dtype:     canonicalDtype,
		ByteOrder: byteOrderName(req.BigEndian),
		Offset:    req.Offset,
		Size:      req.Size,
		Order:     "C",
		Shape:     req.Shape,
		Selection: encodeSelection(req.Selection),
		Missing:   encodeMissing(req.Missing),
	})
	if err != nil {
		return reduce.Partial{}, errors.Wrap(err, "encoding reduction request")
	}

	url := fmt.Sprintf("%s/v1/%s/", c.server, apiOp)

	var result reduce.Partial
	attempt := func() error {
		resp, err := c.post(ctx, url, body)
		if err != nil {
			return err // transport failures are retryable
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			respBody, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(errors.RemoteReductionFailure(resp.StatusCode, string(respBody)))
		}

		result, err = decodeResponse(resp)
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries)), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return reduce.Partial{}, err
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.TransportFailure("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.TransportFailure("post", err)
	}
	return resp, nil
}

func decodeResponse(resp *http.Response) (reduce.Partial, error) {
	dtypeName := resp.Header.Get("x-activestorage-dtype")
	shapeHeader := resp.Header.Get("x-activestorage-shape")
	countHeader := resp.Header.Get("x-activestorage-count")
	if dtypeName == "" || shapeHeader == "" || countHeader == "" {
		return reduce.Partial{}, errors.DecodeFailure("response missing x-activestorage-* headers")
	}

	var shape []int
	if err := json.Unmarshal([]byte(shapeHeader), &shape); err != nil {
		return reduce.Partial{}, errors.DecodeFailure("invalid x-activestorage-shape header: %v", err)
	}

	count, err := strconv.Atoi(countHeader)
	if err != nil {
		return reduce.Partial{}, errors.DecodeFailure("invalid x-activestorage-count header: %v", err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return reduce.Partial{}, errors.TransportFailure("read response body", err)
	}

	name, err := dtype.FromCanonicalName(dtypeName)
	if err != nil {
		return reduce.Partial{}, err
	}
	values, err := dtype.Decode(body, name, false)
	if err != nil {
		return reduce.Partial{}, err
	}

	if len(values) == 1 && len(shape) == 0 {
		return reduce.Partial{Scalar: values[0], Count: count}, nil
	}
	return reduce.Partial{Values: values, Count: count}, nil
}

func apiOperation(op reduce.Op) string {
	switch op {
	case reduce.None:
		return "select"
	case reduce.Mean:
		return "sum"
	default:
		return string(op)
	}
}

func byteOrderName(bigEndian bool) string {
	if bigEndian {
		return "big"
	}
	return "little"
}

func encodeSelection(sel []selection.Slice) [][3]int {
	if len(sel) == 0 {
		return nil
	}
	out := make([][3]int, len(sel))
	for i, s := range sel {
		if s.IsIndex {
			out[i] = [3]int{s.Start, s.Start + 1, 1}
		} else {
			out[i] = [3]int{s.Start, s.Stop, s.Step}
		}
	}
	return out
}

// encodeMissing renders spec as the wire protocol's missing object. At most
// one of missing_value and missing_values is sent; when fill and an explicit
// missing value are both set locally, fill is sent as missing_value and the
// explicit value is dropped. valid_min and valid_max are added alongside
// whichever of those is present, so the object carries several keys when
// both kinds are set, and a valid range goes out as separate valid_min and
// valid_max keys, never as valid_range.
func encodeMissing(spec missing.Spec) json.RawMessage {
	m := map[string]interface{}{}

	switch {
	case spec.Fill != nil:
		m["missing_value"] = *spec.Fill
	case len(spec.Missing) == 1:
		m["missing_value"] = spec.Missing[0]
	case len(spec.Missing) > 1:
		m["missing_values"] = spec.Missing
	}

	if spec.ValidMin != nil {
		m["valid_min"] = *spec.ValidMin
	}
	if spec.ValidMax != nil {
		m["valid_max"] = *spec.ValidMax
	}

	if len(m) == 0 {
		return nil
	}
	raw, _ := json.Marshal(m)
	return raw
}
