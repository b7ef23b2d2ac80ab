package pipeline

import (
	"github.com/janelia-flyem/zpipe/indexing"
)

// assembler moves elements between a request buffer and decoded chunks.
// Concurrent chunk operations touch disjoint regions of the buffer, so no
// locking is needed.
type assembler struct {
	buf      []byte
	shape    []int64
	elemSize int

	// broadcast is set for writes whose source is a single element.
	broadcast bool
}

// scatter copies the selected part of a decoded chunk into the buffer.
func (a assembler) scatter(op indexing.ChunkOperation, chunk []byte, chunkShape []int64) error {
	return indexing.CopyRegion(a.buf, a.shape, op.OutSel, chunk, chunkShape, op.ChunkSel, a.elemSize)
}

// scatterDense copies elements already extracted in the order of the
// chunk selection into the buffer.
func (a assembler) scatterDense(op indexing.ChunkOperation, data []byte) error {
	shape := op.ChunkSel.Shape()
	return indexing.CopyRegion(a.buf, a.shape, op.OutSel, data, shape, indexing.FullRegion(shape), a.elemSize)
}

// fill sets the buffer region of an operation to one repeated element.
func (a assembler) fill(op indexing.ChunkOperation, value []byte) error {
	return indexing.FillRegion(a.buf, a.shape, op.OutSel, value)
}

// gather copies the buffer region of an operation into a decoded chunk.
func (a assembler) gather(op indexing.ChunkOperation, chunk []byte, chunkShape []int64) error {
	if a.broadcast {
		return indexing.FillRegion(chunk, chunkShape, op.ChunkSel, a.buf[:a.elemSize])
	}
	return indexing.CopyRegion(chunk, chunkShape, op.ChunkSel, a.buf, a.shape, op.OutSel, a.elemSize)
}
