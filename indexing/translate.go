package indexing

import (
	"fmt"
	"sort"

	"github.com/janelia-flyem/zpipe/zpipe"
)

// Mode distinguishes read translation from write translation.  Writes
// place stricter limits on integer-array indexing.
type Mode uint8

const (
	ReadMode Mode = iota
	WriteMode
)

func (m Mode) String() string {
	if m == WriteMode {
		return "write"
	}
	return "read"
}

// Maximum number of integer-array or mask axes in one selection.
const (
	maxReadArrayAxes  = 2
	maxWriteArrayAxes = 1
)

// ChunkOperation describes the work for one stored unit: which part of the
// decoded unit is selected and where those elements go in the output
// (read) or come from in the source (write).  ChunkSel and OutSel address
// the same number of elements in the same C order.
type ChunkOperation struct {
	// Coord is the coordinate of the unit in the storage grid.
	Coord zpipe.ChunkPoint

	// ChunkSel has one entry per array dimension, local to the unit.
	ChunkSel Region

	// OutSel has one entry per output buffer axis.
	OutSel Region

	// Extent is the effective (edge-clipped) extent of the unit.
	Extent zpipe.Point

	// Full is true if ChunkSel covers every element of the unit.
	Full bool
}

func (op ChunkOperation) String() string {
	return fmt.Sprintf("chunk %s sel %s -> out %s", op.Coord, op.ChunkSel, op.OutSel)
}

// Translate converts a selection into operations over the storage units of
// the grid (shards when the grid is sharded) and returns them in C order of
// unit coordinate along with the natural output shape.
//
// If outShape is non-nil, it is the shape of the destination (read) or
// source (write) buffer and must be compatible with the natural output
// shape.  Buffers that differ only by unit-length axes are compatible, and
// in WriteMode a single-element source broadcasts over the selection.
func Translate(sel Selection, grid *zpipe.ChunkGrid, mode Mode, outShape zpipe.Point) ([]ChunkOperation, zpipe.Point, error) {
	region, newAxes, err := Normalize(sel, grid.Shape())
	if err != nil {
		return nil, nil, err
	}
	if err := checkArrayAxes(region, mode); err != nil {
		return nil, nil, err
	}
	shape := naturalShape(region, newAxes)
	if outShape != nil {
		broadcast := mode == WriteMode && outShape.Prod() == 1
		if !broadcast {
			if err := checkOutShape(shape, outShape); err != nil {
				return nil, nil, err
			}
		}
	}
	if shape.Prod() == 0 {
		return nil, shape, nil
	}
	ops, err := Project(region, grid.StorageGrid(), mode)
	if err != nil {
		return nil, nil, err
	}
	if len(newAxes) > 0 {
		for i := range ops {
			ops[i].OutSel = insertNewAxes(ops[i].OutSel, newAxes)
		}
	}
	return ops, shape, nil
}

// Normalize expands ellipses, resolves negative and defaulted positions, and
// returns one AxisSelection per array dimension.  The output positions of
// NewAxis entries are returned separately in ascending order.
func Normalize(sel Selection, shape zpipe.Point) (Region, []int, error) {
	var numReal, numEllipsis int
	for _, ix := range sel {
		switch ix.(type) {
		case Ellipsis:
			numEllipsis++
		case NewAxis:
		default:
			numReal++
		}
	}
	if numEllipsis > 1 {
		return nil, nil, &InvalidSelectionError{Axis: -1, Reason: "more than one ellipsis"}
	}
	if numReal > len(shape) {
		return nil, nil, &InvalidSelectionError{Axis: -1,
			Reason: fmt.Sprintf("%d indexers for %d-d array", numReal, len(shape))}
	}

	region := make(Region, 0, len(shape))
	var newAxes []int
	outAxis := 0
	add := func(dim int, ix Indexer) error {
		as, err := normalizeAxis(ix, dim, shape[dim])
		if err != nil {
			return err
		}
		region = append(region, as)
		if _, isIndex := as.(IndexSel); !isIndex {
			outAxis++
		}
		return nil
	}
	for _, ix := range sel {
		switch ix.(type) {
		case Ellipsis:
			for n := len(shape) - numReal; n > 0; n-- {
				if err := add(len(region), All()); err != nil {
					return nil, nil, err
				}
			}
		case NewAxis:
			newAxes = append(newAxes, outAxis)
			outAxis++
		default:
			if err := add(len(region), ix); err != nil {
				return nil, nil, err
			}
		}
	}
	for len(region) < len(shape) {
		if err := add(len(region), All()); err != nil {
			return nil, nil, err
		}
	}
	return region, newAxes, nil
}

func normalizeAxis(ix Indexer, dim int, extent int64) (AxisSelection, error) {
	switch v := ix.(type) {
	case Slice:
		return normalizeSlice(v, dim, extent)
	case Index:
		i := int64(v)
		if i < 0 {
			i += extent
		}
		if i < 0 || i >= extent {
			return nil, &IndexOutOfBoundsError{Axis: dim, Index: int64(v), Extent: extent}
		}
		return IndexSel(i), nil
	case IntArray:
		arr := make(ArraySel, len(v))
		for k, i := range v {
			if i < 0 {
				i += extent
			}
			if i < 0 || i >= extent {
				return nil, &IndexOutOfBoundsError{Axis: dim, Index: v[k], Extent: extent}
			}
			arr[k] = i
		}
		return arr, nil
	case BoolMask:
		if int64(len(v)) != extent {
			return nil, &InvalidSelectionError{Axis: dim,
				Reason: fmt.Sprintf("mask length %d does not match extent %d", len(v), extent)}
		}
		arr := ArraySel{}
		for i, on := range v {
			if on {
				arr = append(arr, int64(i))
			}
		}
		return arr, nil
	case nil:
		return nil, &InvalidSelectionError{Axis: dim, Reason: "nil indexer"}
	}
	return nil, &InvalidSelectionError{Axis: dim, Reason: fmt.Sprintf("unsupported indexer %T", ix)}
}

func normalizeSlice(s Slice, dim int, extent int64) (AxisSelection, error) {
	step := int64(1)
	if s.Step != nil {
		step = *s.Step
	}
	if step == 0 {
		return nil, &InvalidSelectionError{Axis: dim, Reason: "slice step cannot be zero"}
	}
	if step < 0 {
		return nil, &DiscontiguousSelectionError{Axis: dim, Reason: "negative slice step"}
	}
	clamp := func(p *int64, def int64) int64 {
		if p == nil {
			return def
		}
		v := *p
		if v < 0 {
			v += extent
			if v < 0 {
				v = 0
			}
		}
		if v > extent {
			v = extent
		}
		return v
	}
	start := clamp(s.Start, 0)
	stop := clamp(s.Stop, extent)
	if stop < start {
		stop = start
	}
	return SliceSel{start, stop, step}, nil
}

func checkArrayAxes(region Region, mode Mode) error {
	limit := maxReadArrayAxes
	if mode == WriteMode {
		limit = maxWriteArrayAxes
	}
	var count int
	for dim, as := range region {
		if _, isArray := as.(ArraySel); !isArray {
			continue
		}
		count++
		if count > limit {
			return &DiscontiguousSelectionError{Axis: dim,
				Reason: fmt.Sprintf("%s supports integer-array indexing on at most %d axes", mode, limit)}
		}
	}
	return nil
}

func naturalShape(region Region, newAxes []int) zpipe.Point {
	base := region.Shape()
	shape := make(zpipe.Point, 0, len(base)+len(newAxes))
	var b, n int
	for axis := 0; axis < len(base)+len(newAxes); axis++ {
		if n < len(newAxes) && newAxes[n] == axis {
			shape = append(shape, 1)
			n++
			continue
		}
		shape = append(shape, base[b])
		b++
	}
	return shape
}

func squeeze(p zpipe.Point) zpipe.Point {
	out := zpipe.Point{}
	for _, v := range p {
		if v != 1 {
			out = append(out, v)
		}
	}
	return out
}

func checkOutShape(natural, outShape zpipe.Point) error {
	if squeeze(natural).Equals(squeeze(outShape)) {
		return nil
	}
	if len(natural) != len(outShape) {
		axis := 0
		for axis < len(natural) && axis < len(outShape) && natural[axis] == outShape[axis] {
			axis++
		}
		return &CollapsedDimensionError{Axis: axis,
			Reason: fmt.Sprintf("selection has shape %s but buffer has shape %s", natural, outShape)}
	}
	for axis := range natural {
		if natural[axis] == outShape[axis] {
			continue
		}
		if natural[axis] == 0 {
			return &CollapsedDimensionError{Axis: axis,
				Reason: fmt.Sprintf("selection is empty but buffer requests extent %d", outShape[axis])}
		}
		return &InvalidSelectionError{Axis: axis,
			Reason: fmt.Sprintf("selection has shape %s but buffer has shape %s", natural, outShape)}
	}
	return nil
}

func insertNewAxes(r Region, newAxes []int) Region {
	out := make(Region, 0, len(r)+len(newAxes))
	var b, n int
	for axis := 0; axis < len(r)+len(newAxes); axis++ {
		if n < len(newAxes) && newAxes[n] == axis {
			out = append(out, SliceSel{0, 1, 1})
			n++
			continue
		}
		out = append(out, r[b])
		b++
	}
	return out
}

// dimProjection is the part of a normalized axis selection that falls in
// one chunk along that axis.
type dimProjection struct {
	chunk    int64
	chunkSel AxisSelection
	outSel   AxisSelection // nil for IndexSel axes
	full     bool
}

// Project splits a normalized region, one AxisSelection per grid dimension,
// into operations over the chunks of the grid.  OutSel axes are the
// non-IndexSel axes of the region in order.
func Project(region Region, grid *zpipe.ChunkGrid, mode Mode) ([]ChunkOperation, error) {
	shape := grid.Shape()
	chunkShape := grid.ChunkShape()
	if len(region) != len(shape) {
		return nil, &InvalidSelectionError{Axis: -1,
			Reason: fmt.Sprintf("region rank %d does not match grid rank %d", len(region), len(shape))}
	}
	perDim := make([][]dimProjection, len(region))
	for dim, as := range region {
		var err error
		perDim[dim], err = projectAxis(as, dim, shape[dim], chunkShape[dim], mode)
		if err != nil {
			return nil, err
		}
		if len(perDim[dim]) == 0 {
			return nil, nil
		}
	}

	var ops []ChunkOperation
	counter := make([]int, len(region))
	for {
		op := ChunkOperation{
			Coord:    make(zpipe.ChunkPoint, len(region)),
			ChunkSel: make(Region, len(region)),
			OutSel:   make(Region, 0, len(region)),
			Full:     true,
		}
		for dim, k := range counter {
			p := perDim[dim][k]
			op.Coord[dim] = p.chunk
			op.ChunkSel[dim] = p.chunkSel
			if p.outSel != nil {
				op.OutSel = append(op.OutSel, p.outSel)
			}
			op.Full = op.Full && p.full
		}
		op.Extent = grid.ChunkExtent(op.Coord)
		ops = append(ops, op)

		dim := len(counter) - 1
		for ; dim >= 0; dim-- {
			counter[dim]++
			if counter[dim] < len(perDim[dim]) {
				break
			}
			counter[dim] = 0
		}
		if dim < 0 {
			break
		}
	}
	return ops, nil
}

func projectAxis(as AxisSelection, dim int, extent, cs int64, mode Mode) ([]dimProjection, error) {
	chunkExtent := func(c int64) int64 {
		if end := (c + 1) * cs; end < extent {
			return cs
		}
		return extent - c*cs
	}
	switch v := as.(type) {
	case SliceSel:
		var projs []dimProjection
		var outPos int64
		for cur := v.Start; cur < v.Stop; {
			c := cur / cs
			bound := (c + 1) * cs
			if bound > v.Stop {
				bound = v.Stop
			}
			count := (bound - cur + v.Step - 1) / v.Step
			local := cur - c*cs
			step := v.Step
			if count == 1 {
				step = 1
			}
			projs = append(projs, dimProjection{
				chunk:    c,
				chunkSel: SliceSel{local, local + (count-1)*step + 1, step},
				outSel:   SliceSel{outPos, outPos + count, 1},
				full:     local == 0 && step == 1 && count == chunkExtent(c),
			})
			outPos += count
			cur += count * v.Step
		}
		return projs, nil

	case IndexSel:
		c := int64(v) / cs
		return []dimProjection{{
			chunk:    c,
			chunkSel: IndexSel(int64(v) - c*cs),
			full:     chunkExtent(c) == 1,
		}}, nil

	case ArraySel:
		return projectArray(v, dim, cs, chunkExtent, mode)
	}
	return nil, &InvalidSelectionError{Axis: dim, Reason: fmt.Sprintf("unsupported axis selection %T", as)}
}

type arrayGroup struct {
	chunk int64
	local []int64
	out   []int64
}

func projectArray(arr ArraySel, dim int, cs int64, chunkExtent func(int64) int64, mode Mode) ([]dimProjection, error) {
	groups := make(map[int64]*arrayGroup)
	var order []int64
	for pos, i := range arr {
		c := i / cs
		g, found := groups[c]
		if !found {
			g = &arrayGroup{chunk: c}
			groups[c] = g
			order = append(order, c)
		}
		g.local = append(g.local, i-c*cs)
		g.out = append(g.out, int64(pos))
	}
	sort.Slice(order, func(a, b int) bool { return order[a] < order[b] })

	projs := make([]dimProjection, 0, len(order))
	for _, c := range order {
		g := groups[c]
		chunkSel, outSel, ok := compressGroup(g)
		if !ok {
			if mode == WriteMode {
				return nil, &DiscontiguousSelectionError{Axis: dim,
					Reason: fmt.Sprintf("indices %v in chunk %d are not a single increasing run", g.local, c)}
			}
			chunkSel, outSel = ArraySel(g.local), ArraySel(g.out)
		}
		full := false
		if s, isSlice := chunkSel.(SliceSel); isSlice {
			full = s.Start == 0 && (s.Step == 1 || s.Len() == 1) && s.Len() == chunkExtent(c)
		}
		projs = append(projs, dimProjection{chunk: c, chunkSel: chunkSel, outSel: outSel, full: full})
	}
	return projs, nil
}

// compressGroup returns slices equivalent to a chunk group if its local
// positions increase by a constant step and its output positions are
// consecutive.
func compressGroup(g *arrayGroup) (AxisSelection, AxisSelection, bool) {
	n := int64(len(g.local))
	step := int64(1)
	if n > 1 {
		step = g.local[1] - g.local[0]
		if step <= 0 {
			return nil, nil, false
		}
	}
	for k := int64(1); k < n; k++ {
		if g.local[k]-g.local[k-1] != step || g.out[k]-g.out[k-1] != 1 {
			return nil, nil, false
		}
	}
	chunkSel := SliceSel{g.local[0], g.local[n-1] + 1, step}
	outSel := SliceSel{g.out[0], g.out[0] + n, 1}
	return chunkSel, outSel, true
}
