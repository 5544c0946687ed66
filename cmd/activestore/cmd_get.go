package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chunkedio/activestore/internal/config"
	"github.com/chunkedio/activestore/internal/engine"
	"github.com/chunkedio/activestore/internal/errors"
	"github.com/chunkedio/activestore/internal/layout"
	"github.com/chunkedio/activestore/internal/missing"
	"github.com/chunkedio/activestore/internal/reduce"
	"github.com/chunkedio/activestore/internal/selection"
)

// getOptions holds the flags of the "get" command. Fields mirror
// config.Options plus the variable-layout and reduction arguments a caller
// would otherwise get from an HDF5/NetCDF4 library.
type getOptions struct {
	config.Options
	StorageOptions []string

	Shape      string
	ChunkShape string
	Dtype      string
	BigEndian  bool
	Chunked    bool
	BTreeAddr  int64
	DataAddr   int64

	Fill       string
	MissingValues string
	ValidMin   string
	ValidMax   string

	Selection  string
	Op         string
	Components bool
	Version    int
}

var getOpts getOptions

var cmdGet = &cobra.Command{
	Use:   "get [flags]",
	Short: "Select or reduce a hyperslab of a chunked variable",
	Long: `
The "get" command selects a hyperslab out of a chunked variable and either
prints the selected elements (the default) or reduces them with -op.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGet(cmd, getOpts)
	},
}

func init() {
	cmdRoot.AddCommand(cmdGet)

	f := cmdGet.Flags()
	f.StringVar(&getOpts.Source, "source", "", "source URI (file://path or s3://bucket/key)")
	f.StringVar(&getOpts.RemoteServer, "remote-server", "", "base URL of a remote active-storage server")
	f.StringVar(&getOpts.AccessKey, "access-key", "", "S3 access key")
	f.StringVar(&getOpts.SecretKey, "secret-key", "", "S3 secret key")
	f.StringVar(&getOpts.S3Endpoint, "s3-endpoint", "", "S3 endpoint")
	f.StringVar(&getOpts.S3Region, "s3-region", "", "S3 region")
	f.StringVar(&getOpts.Username, "username", "", "username for the remote active-storage server")
	f.StringVar(&getOpts.Password, "password", "", "password for the remote active-storage server")
	f.UintVar(&getOpts.Connections, "connections", 0, "maximum number of chunks read and reduced concurrently (0 = GOMAXPROCS, capped at 100)")
	f.UintVar(&getOpts.MaxRetries, "max-retries", 0, "maximum retry attempts against a remote active-storage server")
	f.DurationVar(&getOpts.RequestTimeout, "request-timeout", 0, "timeout for a single remote active-storage request")
	f.StringArrayVarP(&getOpts.StorageOptions, "option", "o", nil, "set a storage option (`key=value`, can be specified multiple times)")

	f.StringVar(&getOpts.Shape, "shape", "", "comma-separated variable shape, e.g. 100,200")
	f.StringVar(&getOpts.ChunkShape, "chunk-shape", "", "comma-separated chunk shape, e.g. 10,20")
	f.StringVar(&getOpts.Dtype, "dtype", "", "element dtype: i1,u1,i2,u2,i4,u4,i8,u8,f4,f8")
	f.BoolVar(&getOpts.BigEndian, "big-endian", false, "elements are stored big-endian")
	f.BoolVar(&getOpts.Chunked, "chunked", true, "the variable is chunked (false for a contiguous dataset)")
	f.Int64Var(&getOpts.BTreeAddr, "btree-address", 0, "file offset of the variable's v1 chunk B-tree")
	f.Int64Var(&getOpts.DataAddr, "data-address", 0, "file offset of a contiguous variable's data")

	f.StringVar(&getOpts.Fill, "fill", "", "declared fill value")
	f.StringVar(&getOpts.MissingValues, "missing-values", "", "comma-separated declared missing values")
	f.StringVar(&getOpts.ValidMin, "valid-min", "", "declared valid_min")
	f.StringVar(&getOpts.ValidMax, "valid-max", "", "declared valid_max")

	f.StringVar(&getOpts.Selection, "selection", "", "comma-separated per-axis selector, each start:stop:step or a bare index")
	f.StringVar(&getOpts.Op, "op", "", "reduction operator: min, max, sum, mean, or empty to just select")
	f.BoolVar(&getOpts.Components, "components", false, "keep dropped axes and defer mean's division by count")
	f.IntVar(&getOpts.Version, "version", 2, "0 = select only, 1 = local reduction only, 2 = prefer remote reduction")
}

func runGet(cmd *cobra.Command, opts getOptions) error {
	shape, err := parseInts(opts.Shape)
	if err != nil {
		return errors.InvalidInput("--shape: %v", err)
	}
	chunkShape, err := parseInts(opts.ChunkShape)
	if err != nil {
		return errors.InvalidInput("--chunk-shape: %v", err)
	}

	desc := layout.Descriptor{
		Shape:             shape,
		ChunkShape:        chunkShape,
		Dtype:             opts.Dtype,
		BigEndian:         opts.BigEndian,
		Chunked:           opts.Chunked,
		BTreeAddress:      opts.BTreeAddr,
		ContiguousAddress: opts.DataAddr,
	}

	attrs, err := parseAttrs(opts)
	if err != nil {
		return err
	}

	sel, err := parseSelection(opts.Selection, len(shape))
	if err != nil {
		return errors.InvalidInput("--selection: %v", err)
	}

	op := reduce.Op(opts.Op)
	if !reduce.ValidOp(op) {
		return errors.InvalidInput("--op: unrecognized operator %q", opts.Op)
	}

	storageOptions, err := parseStorageOptions(opts.StorageOptions)
	if err != nil {
		return err
	}

	h, err := engine.Open(cmd.Context(), opts.Options, storageOptions, desc, attrs, engine.Version(opts.Version))
	if err != nil {
		return err
	}

	result, err := h.Slice(cmd.Context(), sel, op, opts.Components)
	if err != nil {
		return err
	}

	return printResult(cmd, result, op, opts.Components)
}

func printResult(cmd *cobra.Command, result engine.Result, op reduce.Op, components bool) error {
	out := cmd.OutOrStdout()

	if op == reduce.None {
		enc := json.NewEncoder(out)
		return enc.Encode(map[string]interface{}{"shape": result.Shape, "values": result.Values})
	}

	if components {
		key := string(op)
		if op == reduce.Mean {
			key = "sum"
		}
		enc := json.NewEncoder(out)
		return enc.Encode(map[string]interface{}{key: result.Scalar, "n": result.Count})
	}

	_, err := fmt.Fprintf(out, "%v\n", result.Scalar)
	return err
}

func parseInts(csv string) ([]int, error) {
	if csv == "" {
		return nil, nil
	}
	parts := strings.Split(csv, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func parseFloats(csv string) ([]float64, error) {
	if csv == "" {
		return nil, nil
	}
	parts := strings.Split(csv, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseAttrs(opts getOptions) (missing.RawAttributes, error) {
	var attrs missing.RawAttributes

	if opts.Fill != "" {
		v, err := strconv.ParseFloat(opts.Fill, 64)
		if err != nil {
			return attrs, errors.InvalidInput("--fill: %v", err)
		}
		attrs.Fill = &v
	}
	if opts.MissingValues != "" {
		vs, err := parseFloats(opts.MissingValues)
		if err != nil {
			return attrs, errors.InvalidInput("--missing-values: %v", err)
		}
		attrs.MissingValues = vs
	}
	if opts.ValidMin != "" {
		v, err := strconv.ParseFloat(opts.ValidMin, 64)
		if err != nil {
			return attrs, errors.InvalidInput("--valid-min: %v", err)
		}
		attrs.ValidMin = &v
	}
	if opts.ValidMax != "" {
		v, err := strconv.ParseFloat(opts.ValidMax, 64)
		if err != nil {
			return attrs, errors.InvalidInput("--valid-max: %v", err)
		}
		attrs.ValidMax = &v
	}

	return attrs, nil
}

// parseSelection parses a comma-separated list of per-axis selectors, each
// either a bare integer index or a start:stop:step range. An empty string is
// rejected: every one of the ndim axes must be given explicitly.
func parseSelection(s string, ndim int) (selection.Selection, error) {
	if s == "" {
		return nil, errors.InvalidInput("a selection with %d axes is required", ndim)
	}

	parts := strings.Split(s, ",")
	sel := make(selection.Selection, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if !strings.Contains(p, ":") {
			idx, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("axis %d: %w", i, err)
			}
			sel[i] = selection.Index(idx)
			continue
		}

		fields := strings.Split(p, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("axis %d: expected start:stop:step, got %q", i, p)
		}
		start, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("axis %d start: %w", i, err)
		}
		stop, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("axis %d stop: %w", i, err)
		}
		step, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("axis %d step: %w", i, err)
		}
		sel[i] = selection.Range(start, stop, step)
	}
	return sel, nil
}

// parseStorageOptions parses "key=value" flag arguments, as repeated -o
// flags, into a map.
func parseStorageOptions(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, a := range args {
		key, value, found := strings.Cut(a, "=")
		if !found {
			return nil, errors.InvalidInput("invalid option %q, expected key=value", a)
		}
		out[strings.ToLower(strings.TrimSpace(key))] = value
	}
	return out, nil
}
