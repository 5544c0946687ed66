// Package selection translates a caller's hyperslab selection against a
// variable's chunk grid into the per-chunk reads the engine must perform.
package selection

import (
	"fmt"

	"github.com/chunkedio/activestore/internal/errors"
)

// Slice is a single axis selector: either a strided range start:stop:step
// (IsIndex == false) or a single integer index (IsIndex == true, Start holds
// the index and Stop/Step are unused). Negative indices are not supported at
// this layer; the caller is expected to have normalized them already.
type Slice struct {
	Start, Stop, Step int
	IsIndex           bool
}

// Index returns a Slice selecting the single element i. Per spec.md §3, an
// integer selector behaves like slice(i, i+1, 1) and drops its axis from the
// output unless the engine is asked to keep all dimensions.
func Index(i int) Slice {
	return Slice{Start: i, Stop: i + 1, Step: 1, IsIndex: true}
}

// Range returns a Slice selecting [start:stop:step).
func Range(start, stop, step int) Slice {
	return Slice{Start: start, Stop: stop, Step: step}
}

// Selection is an N-tuple of per-axis selectors, one per dimension of the
// target variable.
type Selection []Slice

// Validate checks a selection against a variable's shape: step must be
// positive, bounds must be non-negative and within range, and the selection
// must have exactly as many axes as the shape.
func Validate(sel Selection, shape []int) error {
	if len(sel) != len(shape) {
		return errors.InvalidInput("selection has %d axes, variable has %d", len(sel), len(shape))
	}
	for axis, s := range sel {
		dim := shape[axis]
		if s.Step < 1 {
			return errors.InvalidInput("axis %d: step must be >= 1, got %d", axis, s.Step)
		}
		if s.Start < 0 {
			return errors.InvalidInput("axis %d: negative start %d is not supported", axis, s.Start)
		}
		if s.IsIndex {
			if s.Start >= dim {
				return errors.InvalidInput("axis %d: index %d out of range for dimension of size %d", axis, s.Start, dim)
			}
			continue
		}
		if s.Stop < s.Start {
			return errors.InvalidInput("axis %d: stop %d is before start %d", axis, s.Stop, s.Start)
		}
		if s.Stop > dim {
			return errors.InvalidInput("axis %d: stop %d exceeds dimension of size %d", axis, s.Stop, dim)
		}
	}
	return nil
}

// Len returns the number of elements selected along a single axis.
func (s Slice) Len() int {
	if s.IsIndex {
		return 1
	}
	if s.Stop <= s.Start {
		return 0
	}
	return (s.Stop-s.Start-1)/s.Step + 1
}

func (s Slice) String() string {
	if s.IsIndex {
		return fmt.Sprintf("%d", s.Start)
	}
	return fmt.Sprintf("%d:%d:%d", s.Start, s.Stop, s.Step)
}
