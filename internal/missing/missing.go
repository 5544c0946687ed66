// Package missing normalizes a variable's fill/missing/valid-range
// attributes into one spec and applies it as a masking predicate over
// decoded element values.
package missing

import (
	"math"

	"github.com/chunkedio/activestore/internal/errors"
)

// RawAttributes holds a variable's missing-data attributes exactly as they
// were declared, before normalization.
type RawAttributes struct {
	Fill          *float64
	MissingValue  *float64
	MissingValues []float64
	ValidRange    *[2]float64
	ValidMin      *float64
	ValidMax      *float64
}

// Spec is the normalized quadruple (fill, missing, valid_min, valid_max)
// that governs which element values are treated as absent. A zero Spec
// masks nothing but NaNs.
type Spec struct {
	Fill     *float64
	Missing  []float64
	ValidMin *float64
	ValidMax *float64
}

// Normalize validates and flattens a variable's raw missing-data attributes
// into a Spec. valid_range may not coexist with an explicit valid_min or
// valid_max; when present it supplies both.
func Normalize(attrs RawAttributes) (Spec, error) {
	if attrs.ValidRange != nil && (attrs.ValidMin != nil || attrs.ValidMax != nil) {
		return Spec{}, errors.InvalidInput("valid_range may not be combined with valid_min or valid_max")
	}

	spec := Spec{
		Fill:     attrs.Fill,
		ValidMin: attrs.ValidMin,
		ValidMax: attrs.ValidMax,
	}

	if attrs.ValidRange != nil {
		lo, hi := attrs.ValidRange[0], attrs.ValidRange[1]
		spec.ValidMin = &lo
		spec.ValidMax = &hi
	}

	if attrs.MissingValue != nil {
		spec.Missing = append(spec.Missing, *attrs.MissingValue)
	}
	spec.Missing = append(spec.Missing, attrs.MissingValues...)

	return spec, nil
}

// IsMasked reports whether v should be treated as absent under spec. NaN is
// always masked, independent of any declared attribute.
func (spec Spec) IsMasked(v float64) bool {
	if math.IsNaN(v) {
		return true
	}
	if spec.Fill != nil && v == *spec.Fill {
		return true
	}
	for _, m := range spec.Missing {
		if v == m {
			return true
		}
	}
	if spec.ValidMin != nil && v < *spec.ValidMin {
		return true
	}
	if spec.ValidMax != nil && v > *spec.ValidMax {
		return true
	}
	return false
}

// IsZero reports whether spec masks nothing beyond NaN, letting callers
// skip the masking pass entirely when no attributes were declared.
func (spec Spec) IsZero() bool {
	return spec.Fill == nil && len(spec.Missing) == 0 && spec.ValidMin == nil && spec.ValidMax == nil
}
