/*
	Package pipeline executes reads and writes of array selections against a
	chunked store.  A request is translated into per-chunk operations, sized
	by the concurrency balancer, and run on a bounded pool where each chunk
	fails independently of its siblings.
*/
package pipeline

import (
	"context"
	"fmt"

	"github.com/DmitriyVTitov/size"
	"github.com/dustin/go-humanize"

	"github.com/janelia-flyem/zpipe/codec"
	"github.com/janelia-flyem/zpipe/indexing"
	"github.com/janelia-flyem/zpipe/metadata"
	"github.com/janelia-flyem/zpipe/storage"
	"github.com/janelia-flyem/zpipe/zpipe"
)

// Pipeline reads and writes one array.  It is safe for concurrent use;
// concurrent writes to the same chunk are not serialized.
type Pipeline struct {
	meta  *metadata.Array
	store storage.Store
	path  string
	opts  Options
}

// New returns a pipeline for an array with known metadata.
func New(meta *metadata.Array, store storage.Store, path string, opts Options) *Pipeline {
	return &Pipeline{meta: meta, store: store, path: path, opts: opts}
}

// Open loads the metadata of the array at path and returns its pipeline.
func Open(ctx context.Context, store storage.Store, path string, opts Options) (*Pipeline, error) {
	meta, err := metadata.Load(ctx, store, path)
	if err != nil {
		return nil, err
	}
	return New(meta, store, path, opts), nil
}

// Create saves metadata for a new array at path and returns its pipeline.
func Create(ctx context.Context, store storage.Store, path string, meta *metadata.Array, opts Options) (*Pipeline, error) {
	if err := meta.Save(ctx, store, path); err != nil {
		return nil, err
	}
	return New(meta, store, path, opts), nil
}

func (p *Pipeline) String() string {
	return fmt.Sprintf("array %q (%s %s) in %s", p.path, p.meta.DType(), p.meta.Grid(), p.store)
}

// Metadata returns the array metadata.
func (p *Pipeline) Metadata() *metadata.Array { return p.meta }

// Options returns the pipeline settings.
func (p *Pipeline) Options() Options { return p.opts }

// Key returns the store key of the stored unit at coord.
func (p *Pipeline) Key(coord zpipe.ChunkPoint) string {
	return metadata.Key(p.path, p.meta.ChunkKey(coord))
}

// Translation is a request broken into chunk operations.
type Translation struct {
	Ops         []indexing.ChunkOperation
	Shape       zpipe.Point
	Concurrency ConcurrencyPlan
}

// Plan translates a selection and sizes its execution without any I/O.
// bufShape is the shape of the request buffer or nil for the natural shape.
func (p *Pipeline) Plan(sel indexing.Selection, mode indexing.Mode, bufShape zpipe.Point) (*Translation, error) {
	ops, shape, err := indexing.Translate(sel, p.meta.Grid(), mode, bufShape)
	if err != nil {
		return nil, err
	}
	hint := p.meta.Chain().RecommendedConcurrency(p.meta.Rep())
	plan := Balance(len(ops), hint, p.meta.Grid().IsSharded(), p.opts)
	return &Translation{Ops: ops, Shape: shape, Concurrency: plan}, nil
}

// Request is one read or write of a selection.
type Request struct {
	Selection indexing.Selection

	// Buffer is the destination of a read or the source of a write, in C
	// order.  A write source of one element is written to every selected
	// position.
	Buffer []byte

	// Shape of Buffer.  If nil, the natural shape of the selection is used.
	Shape zpipe.Point

	// AllowPartial makes a read with failed chunks succeed.  The regions of
	// failed chunks hold the fill value and the failures are listed in the
	// report.
	AllowPartial bool

	// InvalidValue, if set, is written to the regions of failed chunks when
	// AllowPartial is false.  Otherwise those regions are left untouched,
	// so a freshly allocated buffer shows zeros there.  Callers that must
	// tell failed regions apart from data set InvalidValue or consult the
	// returned *ChunkErrors.
	InvalidValue []byte
}

// Report summarizes an executed request.
type Report struct {
	Shape       zpipe.Point
	Concurrency ConcurrencyPlan
	Ops         int
	Failures    []*ChunkError
}

func (r Report) String() string {
	return fmt.Sprintf("%d chunk ops (%s), %d failed", r.Ops, r.Concurrency, len(r.Failures))
}

func (p *Pipeline) codecOptions(plan ConcurrencyPlan) codec.Options {
	return codec.Options{ValidateChecksums: p.opts.ValidateChecksums, Threads: plan.CodecThreads}
}

func (p *Pipeline) checkBuffer(buf []byte, shape zpipe.Point) error {
	want := shape.Prod() * int64(p.meta.DType().Size)
	if int64(len(buf)) != want {
		return fmt.Errorf("buffer has %d bytes, expected %d for shape %s of %s", len(buf), want, shape, p.meta.DType())
	}
	return nil
}

func logPlan(rlog zpipe.RequestLog, t *Translation) {
	rlog.Debugf("%d chunk ops for shape %s (%s of plan), %s",
		len(t.Ops), t.Shape, humanize.Bytes(uint64(size.Of(t.Ops))), t.Concurrency)
}

// Retrieve reads a selection into the request buffer.  Selection errors are
// returned before any I/O.  If chunks fail, the error is a *ChunkErrors
// listing all of them unless the request allows partial results.
func (p *Pipeline) Retrieve(ctx context.Context, req Request) (Report, error) {
	rlog := zpipe.NewRequestLog("read")
	t, err := p.Plan(req.Selection, indexing.ReadMode, req.Shape)
	if err != nil {
		return Report{}, err
	}
	if err := p.checkBuffer(req.Buffer, t.Shape); err != nil {
		return Report{}, err
	}
	elemSize := p.meta.DType().Size
	if req.InvalidValue != nil && len(req.InvalidValue) != elemSize {
		return Report{}, fmt.Errorf("invalid value has %d bytes, expected %d", len(req.InvalidValue), elemSize)
	}
	logPlan(rlog, t)

	out := assembler{buf: req.Buffer, shape: t.Shape, elemSize: elemSize}
	copts := p.codecOptions(t.Concurrency)
	failures := p.execute(ctx, t.Ops, t.Concurrency, func(ctx context.Context, op indexing.ChunkOperation) error {
		return p.readChunk(ctx, op, out, copts)
	})
	report := Report{Shape: t.Shape, Concurrency: t.Concurrency, Ops: len(t.Ops), Failures: failures}
	if len(failures) == 0 {
		rlog.Debugf("read %s from %s", humanize.Bytes(uint64(len(req.Buffer))), p)
		return report, nil
	}

	marker := req.InvalidValue
	if req.AllowPartial {
		marker = p.meta.Fill()
	}
	if marker != nil {
		for _, op := range t.Ops {
			if failed(failures, op.Coord) {
				if err := out.fill(op, marker); err != nil {
					return report, err
				}
			}
		}
	}
	if req.AllowPartial {
		rlog.Warningf("%d of %d chunks failed, returning partial results", len(failures), len(t.Ops))
		return report, nil
	}
	rlog.Errorf("%d of %d chunks failed", len(failures), len(t.Ops))
	return report, &ChunkErrors{Op: "read", Total: len(t.Ops), Failures: failures}
}

func failed(failures []*ChunkError, coord zpipe.ChunkPoint) bool {
	for _, f := range failures {
		if f.Coord.Equals(coord) {
			return true
		}
	}
	return false
}

// Read allocates a buffer of the natural shape of a selection and reads
// into it.
func (p *Pipeline) Read(ctx context.Context, sel indexing.Selection) ([]byte, zpipe.Point, error) {
	t, err := p.Plan(sel, indexing.ReadMode, nil)
	if err != nil {
		return nil, nil, err
	}
	buf := make([]byte, t.Shape.Prod()*int64(p.meta.DType().Size))
	if _, err := p.Retrieve(ctx, Request{Selection: sel, Buffer: buf}); err != nil {
		return nil, nil, err
	}
	return buf, t.Shape, nil
}

// Store writes the request buffer to a selection.  If chunks fail, the
// error is a *ChunkErrors listing all of them; other chunks are written.
func (p *Pipeline) Store(ctx context.Context, req Request) (Report, error) {
	rlog := zpipe.NewRequestLog("write")
	elemSize := p.meta.DType().Size
	bufShape := req.Shape
	if bufShape == nil && len(req.Buffer) == elemSize {
		bufShape = zpipe.Point{1}
	}
	t, err := p.Plan(req.Selection, indexing.WriteMode, bufShape)
	if err != nil {
		return Report{}, err
	}
	broadcast := bufShape != nil && bufShape.Prod() == 1
	if broadcast {
		err = p.checkBuffer(req.Buffer, bufShape)
	} else {
		err = p.checkBuffer(req.Buffer, t.Shape)
	}
	if err != nil {
		return Report{}, err
	}
	logPlan(rlog, t)

	src := assembler{buf: req.Buffer, shape: t.Shape, elemSize: elemSize, broadcast: broadcast}
	copts := p.codecOptions(t.Concurrency)
	failures := p.execute(ctx, t.Ops, t.Concurrency, func(ctx context.Context, op indexing.ChunkOperation) error {
		return p.writeChunk(ctx, op, src, copts)
	})
	report := Report{Shape: t.Shape, Concurrency: t.Concurrency, Ops: len(t.Ops), Failures: failures}
	if len(failures) > 0 {
		rlog.Errorf("%d of %d chunks failed", len(failures), len(t.Ops))
		return report, &ChunkErrors{Op: "write", Total: len(t.Ops), Failures: failures}
	}
	rlog.Debugf("wrote %s to %s", humanize.Bytes(uint64(len(req.Buffer))), p)
	return report, nil
}
