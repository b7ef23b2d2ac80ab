package indexing

import (
	"errors"
	"fmt"
)

// DiscontiguousSelectionError is returned when the selection along an axis
// cannot be expressed as a single strided run per chunk.
type DiscontiguousSelectionError struct {
	Axis   int
	Reason string
}

func (e *DiscontiguousSelectionError) Error() string {
	return fmt.Sprintf("discontiguous selection along axis %d: %s", e.Axis, e.Reason)
}

// CollapsedDimensionError is returned when a selection removes or empties a
// dimension that the output buffer expects to be present.
type CollapsedDimensionError struct {
	Axis   int
	Reason string
}

func (e *CollapsedDimensionError) Error() string {
	return fmt.Sprintf("collapsed dimension at output axis %d: %s", e.Axis, e.Reason)
}

// IndexOutOfBoundsError is returned for a scalar or integer-array index
// outside the extent of its dimension.
type IndexOutOfBoundsError struct {
	Axis   int
	Index  int64
	Extent int64
}

func (e *IndexOutOfBoundsError) Error() string {
	return fmt.Sprintf("index %d out of bounds for axis %d with extent %d", e.Index, e.Axis, e.Extent)
}

// InvalidSelectionError is returned for malformed selections, e.g., a zero
// step or a mask of the wrong length.
type InvalidSelectionError struct {
	Axis   int
	Reason string
}

func (e *InvalidSelectionError) Error() string {
	if e.Axis < 0 {
		return "invalid selection: " + e.Reason
	}
	return fmt.Sprintf("invalid selection along axis %d: %s", e.Axis, e.Reason)
}

// IsIndexingError returns true if the error arose from translating a
// selection, i.e., before any chunk was touched.
func IsIndexingError(err error) bool {
	var (
		dErr *DiscontiguousSelectionError
		cErr *CollapsedDimensionError
		oErr *IndexOutOfBoundsError
		iErr *InvalidSelectionError
	)
	return errors.As(err, &dErr) || errors.As(err, &cErr) || errors.As(err, &oErr) || errors.As(err, &iErr)
}
