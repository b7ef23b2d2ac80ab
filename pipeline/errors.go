package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/janelia-flyem/zpipe/zpipe"
)

// ChunkError is the failure of one chunk operation.
type ChunkError struct {
	Coord zpipe.ChunkPoint
	Key   string
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %s (%s): %v", e.Coord, e.Key, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// ChunkErrors reports every failed chunk of a request.  Failures are sorted
// by chunk coordinate.
type ChunkErrors struct {
	Op       string
	Total    int
	Failures []*ChunkError
}

func (e *ChunkErrors) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("%d of %d chunks failed to %s: %s", len(e.Failures), e.Total, e.Op, strings.Join(msgs, "; "))
}

// Unwrap allows errors.Is and errors.As to inspect each chunk's cause.
func (e *ChunkErrors) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Coords returns the coordinates of the failed chunks.
func (e *ChunkErrors) Coords() []zpipe.ChunkPoint {
	coords := make([]zpipe.ChunkPoint, len(e.Failures))
	for i, f := range e.Failures {
		coords[i] = f.Coord
	}
	return coords
}

func sortFailures(failures []*ChunkError) {
	sort.Slice(failures, func(i, j int) bool {
		return failures[i].Coord.Less(failures[j].Coord)
	})
}
