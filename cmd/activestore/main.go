package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/chunkedio/activestore/internal/errors"
)

func init() {
	// don't import `go.uber.org/automaxprocs` to disable the log output
	_, _ = maxprocs.Set()
}

// cmdRoot is the base command when no other command has been specified.
var cmdRoot = &cobra.Command{
	Use:   "activestore",
	Short: "Reduce chunked array variables without reading them whole",
	Long: `
activestore opens a chunked HDF5/NetCDF4 variable, selects a hyperslab of it,
and either returns the selected elements or reduces them with min, max, sum
or mean — offloading the work to a remote active-storage server when one is
configured and the variable's chunks aren't compressed or filtered.
`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,
}

// Exit terminates the process with the given exit code.
func Exit(code int) {
	os.Exit(code)
}

func main() {
	cmdRoot.SetVersionTemplate("{{ .Version }}\n")

	err := cmdRoot.Execute()

	switch {
	case errors.IsFatal(err):
		fmt.Fprintf(os.Stderr, "%v\n", err)
		Exit(1)
	case err != nil:
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		Exit(1)
	}
}
