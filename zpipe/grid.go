package zpipe

import "fmt"

// ChunkGrid describes the partitioning of an N-d array into a regular grid of
// chunks and, optionally, a coarser grid of shards that each hold a block of
// chunks.  A ChunkGrid is immutable after construction.
type ChunkGrid struct {
	shape      Point
	chunkShape Point
	shardShape Point // nil if not sharded
}

// NewChunkGrid validates the given extents and returns a grid.  The shard
// shape may be nil; if given, each of its extents must be a multiple of the
// corresponding chunk extent.
func NewChunkGrid(shape, chunkShape, shardShape Point) (*ChunkGrid, error) {
	if len(shape) != len(chunkShape) {
		return nil, NewConfigurationError("chunk_shape", "rank %d does not match array rank %d", len(chunkShape), len(shape))
	}
	for dim := range shape {
		if shape[dim] <= 0 {
			return nil, NewConfigurationError("shape", "extent %d in dimension %d must be positive", shape[dim], dim)
		}
		if chunkShape[dim] <= 0 {
			return nil, NewConfigurationError("chunk_shape", "extent %d in dimension %d must be positive", chunkShape[dim], dim)
		}
	}
	g := &ChunkGrid{shape: shape.Duplicate(), chunkShape: chunkShape.Duplicate()}
	if shardShape != nil {
		if len(shardShape) != len(shape) {
			return nil, NewConfigurationError("shard_shape", "rank %d does not match array rank %d", len(shardShape), len(shape))
		}
		for dim := range shardShape {
			if shardShape[dim] <= 0 {
				return nil, NewConfigurationError("shard_shape", "extent %d in dimension %d must be positive", shardShape[dim], dim)
			}
			if shardShape[dim]%chunkShape[dim] != 0 {
				return nil, NewConfigurationError("shard_shape", "extent %d in dimension %d is not a multiple of chunk extent %d",
					shardShape[dim], dim, chunkShape[dim])
			}
		}
		g.shardShape = shardShape.Duplicate()
	}
	return g, nil
}

func (g *ChunkGrid) String() string {
	if g.shardShape != nil {
		return fmt.Sprintf("grid %s chunks %s shards %s", g.shape, g.chunkShape, g.shardShape)
	}
	return fmt.Sprintf("grid %s chunks %s", g.shape, g.chunkShape)
}

// NumDims returns the array rank.
func (g *ChunkGrid) NumDims() int { return len(g.shape) }

// Shape returns the array extent.
func (g *ChunkGrid) Shape() Point { return g.shape.Duplicate() }

// ChunkShape returns the nominal chunk extent.
func (g *ChunkGrid) ChunkShape() Point { return g.chunkShape.Duplicate() }

// ShardShape returns the shard extent or nil if the grid is not sharded.
func (g *ChunkGrid) ShardShape() Point {
	if g.shardShape == nil {
		return nil
	}
	return g.shardShape.Duplicate()
}

// IsSharded returns true if chunks are grouped into shards.
func (g *ChunkGrid) IsSharded() bool { return g.shardShape != nil }

// ChunkIndexFor returns the chunk coordinate along dim containing the global index.
func (g *ChunkGrid) ChunkIndexFor(global int64, dim int) int64 {
	return global / g.chunkShape[dim]
}

// LocalOffset returns the offset of a global index within its chunk along dim.
func (g *ChunkGrid) LocalOffset(global int64, dim int) int64 {
	return global % g.chunkShape[dim]
}

// GridShape returns the number of chunks along each dimension.
func (g *ChunkGrid) GridShape() Point {
	gs := make(Point, len(g.shape))
	for dim := range g.shape {
		gs[dim] = (g.shape[dim] + g.chunkShape[dim] - 1) / g.chunkShape[dim]
	}
	return gs
}

// NumChunks returns the total number of chunks in the grid.
func (g *ChunkGrid) NumChunks() int64 {
	return g.GridShape().Prod()
}

// Contains returns true if the chunk coordinate lies within the grid.
func (g *ChunkGrid) Contains(coord ChunkPoint) bool {
	if len(coord) != len(g.shape) {
		return false
	}
	gs := g.GridShape()
	for dim, c := range coord {
		if c < 0 || c >= gs[dim] {
			return false
		}
	}
	return true
}

// ChunkBounds returns the half-open global range [begin, end) covered by a
// chunk, clipped to the array shape.
func (g *ChunkGrid) ChunkBounds(coord ChunkPoint) (begin, end Point) {
	begin = make(Point, len(coord))
	end = make(Point, len(coord))
	for dim, c := range coord {
		begin[dim] = c * g.chunkShape[dim]
		end[dim] = begin[dim] + g.chunkShape[dim]
		if end[dim] > g.shape[dim] {
			end[dim] = g.shape[dim]
		}
	}
	return
}

// ChunkExtent returns the effective extent of a chunk, which is smaller than
// the nominal chunk shape at the upper array boundary.
func (g *ChunkGrid) ChunkExtent(coord ChunkPoint) Point {
	begin, end := g.ChunkBounds(coord)
	ext := make(Point, len(coord))
	for dim := range coord {
		ext[dim] = end[dim] - begin[dim]
	}
	return ext
}

// StorageGrid returns the grid whose unit is a stored object: the shard grid
// when sharded, else the receiver.
func (g *ChunkGrid) StorageGrid() *ChunkGrid {
	if g.shardShape == nil {
		return g
	}
	return &ChunkGrid{shape: g.shape, chunkShape: g.shardShape}
}

// InnerGrid returns the grid of chunks within a single full shard.  The
// result is nil if the grid is not sharded.
func (g *ChunkGrid) InnerGrid() *ChunkGrid {
	if g.shardShape == nil {
		return nil
	}
	return &ChunkGrid{shape: g.shardShape, chunkShape: g.chunkShape}
}

// ChunksPerShard returns the number of chunks within one shard, or 1 if the
// grid is not sharded.
func (g *ChunkGrid) ChunksPerShard() int64 {
	if g.shardShape == nil {
		return 1
	}
	n := int64(1)
	for dim := range g.shardShape {
		n *= g.shardShape[dim] / g.chunkShape[dim]
	}
	return n
}
