package pipeline

import (
	"fmt"
	"runtime"

	"github.com/janelia-flyem/zpipe/codec"
)

// DefaultChunkConcurrentMinimum is the floor on concurrently processed chunks.
const DefaultChunkConcurrentMinimum = 4

// Options are process-wide settings consulted on every request.  They are
// fixed when a Pipeline is created.
type Options struct {
	// ThreadBudget is the total parallelism available to one request.  If
	// zero, the number of logical CPUs is used.
	ThreadBudget int `toml:"thread_budget"`

	// ChunkConcurrentMinimum is the minimum number of chunks processed
	// concurrently unless the thread budget is smaller.
	ChunkConcurrentMinimum int `toml:"chunk_concurrent_minimum"`

	// ValidateChecksums enables verification in checksum codecs.
	ValidateChecksums bool `toml:"validate_checksums"`

	// StoreEmptyChunks writes chunks equal to the fill value instead of
	// deleting their keys.
	StoreEmptyChunks bool `toml:"store_empty_chunks"`
}

func (o Options) threadBudget() int {
	if o.ThreadBudget > 0 {
		return o.ThreadBudget
	}
	return runtime.NumCPU()
}

func (o Options) chunkMinimum() int {
	if o.ChunkConcurrentMinimum > 0 {
		return o.ChunkConcurrentMinimum
	}
	return DefaultChunkConcurrentMinimum
}

func (o Options) String() string {
	return fmt.Sprintf("threads %d, chunk minimum %d, validate checksums %t, store empty chunks %t",
		o.threadBudget(), o.chunkMinimum(), o.ValidateChecksums, o.StoreEmptyChunks)
}

// ConcurrencyPlan splits a request's parallelism between chunks and codecs.
type ConcurrencyPlan struct {
	// ChunkConcurrency is the number of chunks in flight at once.
	ChunkConcurrency int

	// CodecThreads is the parallelism each chunk's codecs may use.
	CodecThreads int
}

func (p ConcurrencyPlan) String() string {
	return fmt.Sprintf("%d chunks x %d codec threads", p.ChunkConcurrency, p.CodecThreads)
}

// Balance sizes a request of n chunk operations.  Chunk concurrency is
// preferred: it is n clamped to [M, T] where M is the chunk minimum and T
// the thread budget, and M only yields when T < M.  Codec threads get what
// remains of the budget.  Sharded units whose codecs can use more inner
// parallelism may take a larger share of the budget for codec work, but
// chunk concurrency is never reduced to make room.
func Balance(n int, hint codec.Concurrency, sharded bool, opts Options) ConcurrencyPlan {
	t := opts.threadBudget()
	floor := min(opts.chunkMinimum(), t)
	chunks := max(floor, min(n, t))
	threads := max(1, t/chunks)
	if sharded && hint.Max > 1 {
		share := t / max(1, min(n, chunks))
		threads = max(threads, min(hint.Max, share))
	}
	return ConcurrencyPlan{ChunkConcurrency: chunks, CodecThreads: threads}
}
