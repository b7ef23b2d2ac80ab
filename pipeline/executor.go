package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/zpipe/codec"
	"github.com/janelia-flyem/zpipe/indexing"
	"github.com/janelia-flyem/zpipe/storage"
	"github.com/janelia-flyem/zpipe/zpipe"
)

// chunkFunc processes one chunk operation.
type chunkFunc func(ctx context.Context, op indexing.ChunkOperation) error

// execute runs fn over every operation with at most plan.ChunkConcurrency
// in flight.  A failed operation does not stop the others.  Operations not
// yet started when ctx is done fail with the context's error.
func (p *Pipeline) execute(ctx context.Context, ops []indexing.ChunkOperation, plan ConcurrencyPlan, fn chunkFunc) []*ChunkError {
	var mu sync.Mutex
	var failures []*ChunkError
	record := func(op indexing.ChunkOperation, err error) {
		mu.Lock()
		failures = append(failures, &ChunkError{Coord: op.Coord, Key: p.Key(op.Coord), Err: err})
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(plan.ChunkConcurrency)
	for _, op := range ops {
		op := op
		if err := ctx.Err(); err != nil {
			record(op, err)
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				record(op, err)
				return nil
			}
			if err := fn(ctx, op); err != nil {
				record(op, err)
			}
			return nil
		})
	}
	g.Wait()
	sortFailures(failures)
	return failures
}

// storeReader reads byte ranges of one stored unit for partial decoding.
type storeReader struct {
	store storage.Store
	key   string
}

func (r storeReader) Key() string { return r.key }

func (r storeReader) ReadRange(ctx context.Context, offset, length int64) ([]byte, error) {
	br := storage.ByteRange{Offset: offset, Length: length}
	if offset < 0 {
		br = storage.Suffix(length)
	}
	return r.store.GetRange(ctx, r.key, br)
}

// readChunk fetches, decodes and scatters one stored unit.  Partial reads
// of sharded units fetch only the shard index and the inner chunks needed.
// Missing units read as the fill value.
func (p *Pipeline) readChunk(ctx context.Context, op indexing.ChunkOperation, out assembler, opts codec.Options) error {
	key := p.Key(op.Coord)
	rep := p.meta.Rep()
	chain := p.meta.Chain()

	if p.meta.Grid().IsSharded() && !op.Full {
		if pd, ok := chain.PartialDecoder(); ok {
			data, err := pd.DecodePartial(ctx, storeReader{p.store, key}, rep, op.ChunkSel, opts)
			if storage.IsNotFound(err) {
				return out.fill(op, rep.Fill)
			}
			if err != nil {
				return err
			}
			return out.scatterDense(op, data)
		}
	}

	raw, err := p.store.GetRange(ctx, key, storage.FullRange)
	if storage.IsNotFound(err) {
		return out.fill(op, rep.Fill)
	}
	if err != nil {
		return err
	}
	chunk, err := chain.Decode(rep, raw, opts)
	if err != nil {
		return err
	}
	return out.scatter(op, chunk, rep.Shape)
}

// loadChunk returns the decoded contents of a stored unit, or a unit of
// fill values if it was never written.
func (p *Pipeline) loadChunk(ctx context.Context, key string, rep codec.ChunkRep, opts codec.Options) ([]byte, error) {
	raw, err := p.store.GetRange(ctx, key, storage.FullRange)
	if storage.IsNotFound(err) {
		chunk := make([]byte, rep.NumBytes())
		indexing.FillBuffer(chunk, rep.Fill)
		return chunk, nil
	}
	if err != nil {
		return nil, err
	}
	return p.meta.Chain().Decode(rep, raw, opts)
}

// writeChunk merges source elements into one stored unit and stores it.
// Units that end up equal to the fill value are deleted unless empty
// chunks are stored.
func (p *Pipeline) writeChunk(ctx context.Context, op indexing.ChunkOperation, src assembler, opts codec.Options) error {
	key := p.Key(op.Coord)
	rep := p.meta.Rep()
	chain := p.meta.Chain()
	defer chain.Invalidate(key)

	var chunk []byte
	if op.Full {
		chunk = make([]byte, rep.NumBytes())
		if !op.Extent.Equals(rep.Shape) {
			indexing.FillBuffer(chunk, rep.Fill)
		}
	} else {
		var err error
		if chunk, err = p.loadChunk(ctx, key, rep, opts); err != nil {
			return err
		}
	}
	if err := src.gather(op, chunk, rep.Shape); err != nil {
		return err
	}

	if !p.opts.StoreEmptyChunks && indexing.IsFilled(chunk, rep.Fill) {
		zpipe.Debugf("Chunk %s is all fill value, erasing %s\n", op.Coord, key)
		return p.store.Delete(ctx, key)
	}
	encoded, err := chain.Encode(rep, chunk, opts)
	if err != nil {
		return err
	}
	return p.store.Put(ctx, key, encoded)
}
