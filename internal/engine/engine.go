// Package engine ties the layout, selection, missing-value and reduce
// packages together into the one operation a caller actually wants: open a
// chunked variable and reduce (or simply slice) some hyperslab of it, running
// as many chunks concurrently as the configured connection limit allows, and
// preferring a remote active-storage server over local reads when one is
// configured and the variable's chunks are not filtered.
package engine

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/chunkedio/activestore/internal/chunkio"
	"github.com/chunkedio/activestore/internal/config"
	"github.com/chunkedio/activestore/internal/debug"
	"github.com/chunkedio/activestore/internal/dtype"
	"github.com/chunkedio/activestore/internal/errors"
	"github.com/chunkedio/activestore/internal/layout"
	"github.com/chunkedio/activestore/internal/missing"
	"github.com/chunkedio/activestore/internal/reduce"
	"github.com/chunkedio/activestore/internal/remote"
	"github.com/chunkedio/activestore/internal/selection"
)

// Version selects how aggressively a Handle tries to offload work to a
// remote active-storage server.
type Version int

const (
	// VersionPassthrough reads and returns the selected elements without any
	// reduction and without remote offload; masked elements still come back
	// as NaN, as in any select. It exists for callers that only want
	// hyperslab selection out of a chunked array.
	VersionPassthrough Version = 0

	// VersionLocal runs every reduction locally, regardless of whether a
	// remote server is configured.
	VersionLocal Version = 1

	// VersionRemote prefers a configured remote server for every chunk that
	// is eligible (unfiltered, s3-backed), falling back to a local read for
	// any chunk that isn't.
	VersionRemote Version = 2
)

// maxDefaultConnections bounds the worker pool size this package picks for
// itself from runtime.GOMAXPROCS(0) when a caller leaves Connections unset;
// it does not bound an explicitly configured Connections value.
const maxDefaultConnections = 100

// Handle is an open, reducible view of one chunked variable.
type Handle struct {
	variable *layout.Variable
	missing  missing.Spec
	remote   *remote.Client
	opts     config.Options
	source   string
	bucket   string
	object   string
	version  Version
}

// Open resolves opts against the environment and any storage-options map,
// opens the underlying source and its chunk layout, and returns a Handle
// ready to run Slice. version governs whether reductions may be offloaded to
// a remote server; it is ignored (forced to local-only) when no RemoteServer
// is configured.
func Open(ctx context.Context, explicit config.Options, storageOptions map[string]string, desc layout.Descriptor, attrs missing.RawAttributes, version Version) (*Handle, error) {
	opts, err := config.Resolve(explicit, storageOptions)
	if err != nil {
		return nil, errors.Wrap(err, "resolving options")
	}

	src, err := chunkio.Open(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "opening source")
	}

	v, err := layout.Open(ctx, src, desc)
	if err != nil {
		return nil, errors.Wrap(err, "opening variable layout")
	}

	spec, err := missing.Normalize(attrs)
	if err != nil {
		return nil, errors.Wrap(err, "normalizing missing-value attributes")
	}

	h := &Handle{
		variable: v,
		missing:  spec,
		opts:     opts,
		source:   opts.Source,
		version:  version,
	}

	if opts.RemoteServer != "" && version == VersionRemote {
		bucket, object, err := chunkio.ParseS3Source(opts.Source)
		if err == nil {
			h.remote = remote.New(opts.RemoteServer, opts.Username, opts.Password, opts.MaxRetries, opts.RequestTimeout)
			h.bucket, h.object = bucket, object
		} else {
			debug.LogSource(opts.Source, "remote server configured but source is not s3, forcing local reduction: %v", err)
		}
	}

	return h, nil
}

// Result is the outcome of a Slice call: either the selected elements
// themselves (Op == reduce.None) or a reduced scalar plus the number of
// non-missing elements that contributed to it.
type Result struct {
	Shape  []int
	Values []float64
	Scalar float64
	Count  int
}

// Slice runs sel against the variable, either returning the selected
// elements (op == reduce.None) or folding them down with op. When
// components is true and op != reduce.None, Count is always populated even
// for operators (min, max) that do not need it, so a caller building a
// components-mode response has one Count field to read uniformly.
func (h *Handle) Slice(ctx context.Context, sel selection.Selection, op reduce.Op, components bool) (Result, error) {
	if !reduce.ValidOp(op) {
		return Result{}, errors.InvalidInput("unrecognized reduction operator %q", op)
	}
	if h.version == VersionPassthrough {
		op = reduce.None
	}

	triples, outShape, err := selection.Indexer(sel, h.variable.Shape(), h.variable.ChunkShape())
	if err != nil {
		return Result{}, err
	}

	finalShape := outShape
	if !components {
		finalShape = dropAxes(outShape, indexAxes(sel))
	}

	partials := make([]reduce.Partial, len(triples))

	connections := int(h.opts.Connections)
	if connections < 1 {
		connections = runtime.GOMAXPROCS(0)
		if connections > maxDefaultConnections {
			connections = maxDefaultConnections
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan int)

	g.Go(func() error {
		defer close(jobs)
		for i := range triples {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for w := 0; w < connections; w++ {
		g.Go(func() error {
			for i := range jobs {
				p, err := h.reduceTriple(gctx, triples[i], op)
				if err != nil {
					return errors.Wrapf(err, "reducing chunk %v", triples[i].ChunkCoords)
				}
				partials[i] = p
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	if op == reduce.None {
		values := scatter(partials, triples, outShape)
		return Result{Shape: finalShape, Values: values}, nil
	}

	scalar, count := reduce.Combine(partials, op)
	if op == reduce.Mean && !components && count > 0 {
		scalar /= float64(count)
	}
	return Result{Shape: finalShape, Scalar: scalar, Count: count}, nil
}

// reduceTriple dispatches a single chunk's reduction to the remote server
// when one is configured and eligible for this chunk, falling back to a
// local read otherwise.
func (h *Handle) reduceTriple(ctx context.Context, t selection.Triple, op reduce.Op) (reduce.Partial, error) {
	if h.remote != nil && !h.variable.HasFilters() {
		offset, size, ok, err := h.variable.ChunkByteRange(t.ChunkCoords)
		if err == nil {
			if !ok {
				return h.fillPartial(t, op)
			}
			return h.remote.Reduce(ctx, h.source, remote.Request{
				Bucket:    h.bucket,
				Object:    h.object,
				Offset:    offset,
				Size:      size,
				Dtype:     h.variable.Dtype(),
				BigEndian: h.variable.BigEndian(),
				Shape:     h.variable.ChunkShape(),
				Selection: t.ChunkSelection,
				Missing:   h.missing,
				Op:        op,
			})
		}
		debug.LogSource(h.source, "chunk %v not eligible for remote reduction, reading locally: %v", t.ChunkCoords, err)
	}

	raw, ok, err := h.variable.ReadChunk(ctx, t.ChunkCoords)
	if err != nil {
		return reduce.Partial{}, err
	}
	if !ok {
		return h.fillPartial(t, op)
	}

	values, err := dtype.Decode(raw, dtype.Name(h.variable.Dtype()), h.variable.BigEndian())
	if err != nil {
		return reduce.Partial{}, err
	}
	return reduce.Chunk(values, h.variable.ChunkShape(), t.ChunkSelection, h.missing, op)
}

// fillPartial reduces a chunk that was never written to the file: every
// element takes the variable's fill value (the layout's encoded fill value,
// else the declared fill attribute, else 0), which is itself masked whenever
// it coincides with the declared fill attribute (the common case).
func (h *Handle) fillPartial(t selection.Triple, op reduce.Op) (reduce.Partial, error) {
	fillRaw := h.variable.FillValue()
	fillValue, ok, err := dtype.DecodeScalar(fillRaw, dtype.Name(h.variable.Dtype()), h.variable.BigEndian())
	if err != nil {
		return reduce.Partial{}, err
	}
	if !ok {
		fillValue = 0
		if h.missing.Fill != nil {
			fillValue = *h.missing.Fill
		}
	}

	n := outLen(t.ChunkSelection)
	values := make([]float64, n)
	for i := range values {
		values[i] = fillValue
	}
	return reduce.Chunk(values, chunkSelectionShape(t.ChunkSelection), identitySelection(t.ChunkSelection), h.missing, op)
}

func chunkSelectionShape(sel []selection.Slice) []int {
	shape := make([]int, len(sel))
	for i, s := range sel {
		shape[i] = s.Len()
	}
	return shape
}

// identitySelection returns a full-axis selection over a region already
// shaped exactly like sel's extent, used when reducing a synthesized
// fill-value chunk that has no underlying storage layout of its own.
func identitySelection(sel []selection.Slice) []selection.Slice {
	out := make([]selection.Slice, len(sel))
	for i, s := range sel {
		out[i] = selection.Range(0, s.Len(), 1)
	}
	return out
}

func indexAxes(sel selection.Selection) []int {
	var axes []int
	for i, s := range sel {
		if s.IsIndex {
			axes = append(axes, i)
		}
	}
	return axes
}

func dropAxes(shape []int, drop []int) []int {
	if len(drop) == 0 {
		return shape
	}
	dropSet := make(map[int]bool, len(drop))
	for _, a := range drop {
		dropSet[a] = true
	}
	out := make([]int, 0, len(shape))
	for i, d := range shape {
		if !dropSet[i] {
			out = append(out, d)
		}
	}
	return out
}

func outLen(sel []selection.Slice) int {
	n := 1
	for _, s := range sel {
		n *= s.Len()
	}
	return n
}
