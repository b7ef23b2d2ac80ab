package indexing

import (
	"math/rand"
	"testing"

	. "github.com/janelia-flyem/go/gocheck"

	"github.com/janelia-flyem/zpipe/zpipe"
)

// Hook up gocheck into the "go test" runner.
func Test(t *testing.T) { TestingT(t) }

type IndexSuite struct{}

var _ = Suite(&IndexSuite{})

func makeGrid(c *C, shape, chunks, shards zpipe.Point) *zpipe.ChunkGrid {
	g, err := zpipe.NewChunkGrid(shape, chunks, shards)
	c.Assert(err, IsNil)
	return g
}

// forEach calls fn with the flat index of every element addressed by the
// region in a buffer of the given shape.
func forEach(r Region, shape zpipe.Point, fn func(flat int64)) {
	strides := shape.Strides()
	counter := make([]int64, len(r))
	if r.NumElements() == 0 {
		return
	}
	for {
		var flat int64
		for d, k := range counter {
			flat += r[d].At(k) * strides[d]
		}
		fn(flat)
		d := len(r) - 1
		for ; d >= 0; d-- {
			counter[d]++
			if counter[d] < r[d].Len() {
				break
			}
			counter[d] = 0
		}
		if d < 0 {
			return
		}
	}
}

func (s *IndexSuite) TestTranslateExample(c *C) {
	g := makeGrid(c, zpipe.Point{10, 10}, zpipe.Point{5, 5}, nil)
	ops, shape, err := Translate(Selection{Range(2, 8), Index(3)}, g, ReadMode, nil)
	c.Assert(err, IsNil)
	c.Assert(shape, DeepEquals, zpipe.Point{6})
	c.Assert(ops, HasLen, 2)
	c.Assert(ops[0].Coord, DeepEquals, zpipe.ChunkPoint{0, 0})
	c.Assert(ops[0].ChunkSel.String(), Equals, "[2:5,3]")
	c.Assert(ops[0].OutSel.String(), Equals, "[0:3]")
	c.Assert(ops[1].Coord, DeepEquals, zpipe.ChunkPoint{1, 0})
	c.Assert(ops[1].ChunkSel.String(), Equals, "[0:3,3]")
	c.Assert(ops[1].OutSel.String(), Equals, "[3:6]")
	c.Assert(ops[0].Full, Equals, false)
}

func (s *IndexSuite) TestSliceTiling(c *C) {
	rng := rand.New(rand.NewSource(42))
	g := makeGrid(c, zpipe.Point{23, 17, 9}, zpipe.Point{5, 4, 3}, nil)
	shape := g.Shape()
	for trial := 0; trial < 200; trial++ {
		sel := make(Selection, 3)
		for d := range sel {
			start := rng.Int63n(shape[d])
			stop := start + rng.Int63n(shape[d]-start+1)
			step := 1 + rng.Int63n(4)
			sel[d] = StridedRange(start, stop, step)
		}
		ops, out, err := Translate(sel, g, ReadMode, nil)
		c.Assert(err, IsNil)

		counts := make(map[int64]int)
		for _, op := range ops {
			c.Assert(op.ChunkSel.NumElements(), Equals, op.OutSel.NumElements())
			forEach(op.OutSel, out, func(flat int64) { counts[flat]++ })
		}
		c.Assert(int64(len(counts)), Equals, out.Prod())
		for flat, n := range counts {
			if n != 1 {
				c.Fatalf("selection %s: output element %d covered %d times", sel, flat, n)
			}
		}
	}
}

func (s *IndexSuite) TestFullChunks(c *C) {
	g := makeGrid(c, zpipe.Point{10, 7}, zpipe.Point{5, 5}, nil)
	ops, _, err := Translate(Selection{}, g, WriteMode, nil)
	c.Assert(err, IsNil)
	c.Assert(ops, HasLen, 4)
	for _, op := range ops {
		c.Assert(op.Full, Equals, true)
	}
	c.Assert(ops[3].Extent, DeepEquals, zpipe.Point{5, 2})
	c.Assert(ops[3].ChunkSel.String(), Equals, "[0:5,0:2]")
	c.Assert(ops[3].OutSel.String(), Equals, "[5:10,5:7]")
}

func (s *IndexSuite) TestIntArrayMatchesSlice(c *C) {
	g := makeGrid(c, zpipe.Point{20, 6}, zpipe.Point{5, 6}, nil)
	arrOps, arrShape, err := Translate(Selection{IntArray{3, 5, 7, 9, 11}}, g, WriteMode, nil)
	c.Assert(err, IsNil)
	sliceOps, sliceShape, err := Translate(Selection{StridedRange(3, 12, 2)}, g, WriteMode, nil)
	c.Assert(err, IsNil)
	c.Assert(arrShape, DeepEquals, sliceShape)
	c.Assert(arrOps, HasLen, len(sliceOps))
	for i := range arrOps {
		c.Assert(arrOps[i].Coord, DeepEquals, sliceOps[i].Coord)
		c.Assert(arrOps[i].ChunkSel.String(), Equals, sliceOps[i].ChunkSel.String())
		c.Assert(arrOps[i].OutSel.String(), Equals, sliceOps[i].OutSel.String())
	}
}

func (s *IndexSuite) TestIntArrayReads(c *C) {
	g := makeGrid(c, zpipe.Point{10, 10}, zpipe.Point{5, 5}, nil)
	ops, shape, err := Translate(Selection{IntArray{7, 1, 1, -1}, IntArray{0, 9}}, g, ReadMode, nil)
	c.Assert(err, IsNil)
	c.Assert(shape, DeepEquals, zpipe.Point{4, 2})
	c.Assert(ops, HasLen, 4)
	c.Assert(ops[0].Coord, DeepEquals, zpipe.ChunkPoint{0, 0})
	c.Assert(ops[0].ChunkSel.String(), Equals, "[[1,1],0:1]")
	c.Assert(ops[0].OutSel.String(), Equals, "[[1,2],0:1]")
	c.Assert(ops[2].Coord, DeepEquals, zpipe.ChunkPoint{1, 0})
	c.Assert(ops[2].ChunkSel.String(), Equals, "[[2,4],0:1]")
	c.Assert(ops[2].OutSel.String(), Equals, "[[0,3],0:1]")

	counts := make(map[int64]int)
	for _, op := range ops {
		forEach(op.OutSel, shape, func(flat int64) { counts[flat]++ })
	}
	c.Assert(counts, HasLen, 8)
}

func (s *IndexSuite) TestWriteRejections(c *C) {
	g := makeGrid(c, zpipe.Point{10, 10, 10}, zpipe.Point{5, 5, 5}, nil)

	_, _, err := Translate(Selection{IntArray{3, 1}}, g, WriteMode, nil)
	c.Assert(err, FitsTypeOf, &DiscontiguousSelectionError{})
	c.Assert(err.(*DiscontiguousSelectionError).Axis, Equals, 0)

	_, _, err = Translate(Selection{IntArray{3, 1}}, g, ReadMode, nil)
	c.Assert(err, IsNil)

	_, _, err = Translate(Selection{All(), IntArray{1}, BoolMask{true, false, false, false, false, false, false, false, false, true}}, g, WriteMode, nil)
	c.Assert(err, FitsTypeOf, &DiscontiguousSelectionError{})
	c.Assert(err.(*DiscontiguousSelectionError).Axis, Equals, 2)

	// Values in different chunks may appear in any order.
	_, _, err = Translate(Selection{IntArray{6, 1}}, g, WriteMode, nil)
	c.Assert(err, IsNil)
}

func (s *IndexSuite) TestThreeArrayAxes(c *C) {
	g := makeGrid(c, zpipe.Point{10, 10, 10}, zpipe.Point{5, 5, 5}, nil)
	sel := Selection{IntArray{1, 2}, IntArray{3}, IntArray{4, 8}}
	for _, mode := range []Mode{ReadMode, WriteMode} {
		_, _, err := Translate(sel, g, mode, nil)
		c.Assert(err, FitsTypeOf, &DiscontiguousSelectionError{})
		c.Assert(IsIndexingError(err), Equals, true)
	}
	_, _, err := Translate(sel[:2], g, ReadMode, nil)
	c.Assert(err, IsNil)
}

func (s *IndexSuite) TestScalarSelection(c *C) {
	g := makeGrid(c, zpipe.Point{10, 10}, zpipe.Point{5, 5}, nil)
	ops, shape, err := Translate(Selection{Index(7), Index(-1)}, g, ReadMode, zpipe.Point{})
	c.Assert(err, IsNil)
	c.Assert(shape, HasLen, 0)
	c.Assert(ops, HasLen, 1)
	c.Assert(ops[0].Coord, DeepEquals, zpipe.ChunkPoint{1, 1})
	c.Assert(ops[0].ChunkSel.String(), Equals, "[2,4]")
	c.Assert(ops[0].OutSel, HasLen, 0)

	_, _, err = Translate(Selection{Index(7), Index(-1)}, g, ReadMode, zpipe.Point{1, 1})
	c.Assert(err, IsNil)
}

func (s *IndexSuite) TestEmptySelection(c *C) {
	g := makeGrid(c, zpipe.Point{10, 10}, zpipe.Point{5, 5}, nil)
	ops, shape, err := Translate(Selection{Range(4, 4)}, g, ReadMode, nil)
	c.Assert(err, IsNil)
	c.Assert(ops, HasLen, 0)
	c.Assert(shape, DeepEquals, zpipe.Point{0, 10})

	ops, _, err = Translate(Selection{IntArray{}}, g, WriteMode, zpipe.Point{0, 10})
	c.Assert(err, IsNil)
	c.Assert(ops, HasLen, 0)
}

func (s *IndexSuite) TestCollapsedDimension(c *C) {
	g := makeGrid(c, zpipe.Point{10, 10}, zpipe.Point{5, 5}, nil)
	_, _, err := Translate(Selection{Range(2, 8), Index(3)}, g, ReadMode, zpipe.Point{6, 2})
	c.Assert(err, FitsTypeOf, &CollapsedDimensionError{})

	_, _, err = Translate(Selection{Range(8, 2)}, g, ReadMode, zpipe.Point{6, 10})
	c.Assert(err, FitsTypeOf, &CollapsedDimensionError{})
	c.Assert(err.(*CollapsedDimensionError).Axis, Equals, 0)

	_, _, err = Translate(Selection{Range(2, 8)}, g, ReadMode, zpipe.Point{5, 10})
	c.Assert(err, FitsTypeOf, &InvalidSelectionError{})

	// Unit axes may differ.
	_, _, err = Translate(Selection{Range(2, 8), Index(3)}, g, ReadMode, zpipe.Point{6, 1})
	c.Assert(err, IsNil)

	// A single value broadcasts on write.
	ops, _, err := Translate(Selection{Range(2, 8), All()}, g, WriteMode, zpipe.Point{1})
	c.Assert(err, IsNil)
	c.Assert(ops, HasLen, 4)
}

func (s *IndexSuite) TestBadSelections(c *C) {
	g := makeGrid(c, zpipe.Point{10, 10}, zpipe.Point{5, 5}, nil)

	_, _, err := Translate(Selection{Index(10)}, g, ReadMode, nil)
	c.Assert(err, FitsTypeOf, &IndexOutOfBoundsError{})
	c.Assert(err, ErrorMatches, "index 10 out of bounds for axis 0 with extent 10")

	_, _, err = Translate(Selection{All(), IntArray{2, -11}}, g, ReadMode, nil)
	c.Assert(err, FitsTypeOf, &IndexOutOfBoundsError{})

	_, _, err = Translate(Selection{BoolMask{true}}, g, ReadMode, nil)
	c.Assert(err, FitsTypeOf, &InvalidSelectionError{})

	_, _, err = Translate(Selection{StridedRange(0, 10, 0)}, g, ReadMode, nil)
	c.Assert(err, FitsTypeOf, &InvalidSelectionError{})

	_, _, err = Translate(Selection{StridedRange(9, 0, -1)}, g, ReadMode, nil)
	c.Assert(err, FitsTypeOf, &DiscontiguousSelectionError{})

	_, _, err = Translate(Selection{Index(1), Index(1), Index(1)}, g, ReadMode, nil)
	c.Assert(err, FitsTypeOf, &InvalidSelectionError{})

	_, _, err = Translate(Selection{Ellipsis{}, Ellipsis{}}, g, ReadMode, nil)
	c.Assert(err, FitsTypeOf, &InvalidSelectionError{})
}

func (s *IndexSuite) TestEllipsisAndNewAxis(c *C) {
	g := makeGrid(c, zpipe.Point{4, 6, 8}, zpipe.Point{4, 3, 8}, nil)
	ops, shape, err := Translate(Selection{NewAxis{}, Ellipsis{}, Index(2), NewAxis{}}, g, ReadMode, nil)
	c.Assert(err, IsNil)
	c.Assert(shape, DeepEquals, zpipe.Point{1, 4, 6, 1})
	c.Assert(ops, HasLen, 2)
	c.Assert(ops[1].ChunkSel.String(), Equals, "[0:4,0:3,2]")
	c.Assert(ops[1].OutSel.String(), Equals, "[0:1,0:4,3:6,0:1]")

	ops, shape, err = Translate(Selection{Ellipsis{}, Range(1, 3)}, g, ReadMode, nil)
	c.Assert(err, IsNil)
	c.Assert(shape, DeepEquals, zpipe.Point{4, 6, 2})
	c.Assert(ops[0].ChunkSel.String(), Equals, "[0:4,0:3,1:3]")
}

func (s *IndexSuite) TestShardedTranslation(c *C) {
	g := makeGrid(c, zpipe.Point{16, 16}, zpipe.Point{4, 4}, zpipe.Point{8, 8})
	ops, _, err := Translate(Selection{Range(6, 10), Range(0, 8)}, g, ReadMode, nil)
	c.Assert(err, IsNil)
	c.Assert(ops, HasLen, 2)
	c.Assert(ops[0].Coord, DeepEquals, zpipe.ChunkPoint{0, 0})
	c.Assert(ops[0].ChunkSel.String(), Equals, "[6:8,0:8]")
	c.Assert(ops[1].Coord, DeepEquals, zpipe.ChunkPoint{1, 0})
	c.Assert(ops[1].Extent, DeepEquals, zpipe.Point{8, 8})

	inner, err := Project(ops[0].ChunkSel, g.InnerGrid(), ReadMode)
	c.Assert(err, IsNil)
	c.Assert(inner, HasLen, 2)
	c.Assert(inner[0].Coord, DeepEquals, zpipe.ChunkPoint{1, 0})
	c.Assert(inner[0].ChunkSel.String(), Equals, "[2:4,0:4]")
	c.Assert(inner[1].OutSel.String(), Equals, "[0:2,4:8]")
}

func (s *IndexSuite) TestParseSelection(c *C) {
	sel, err := ParseSelection("2:8, 3")
	c.Assert(err, IsNil)
	c.Assert(sel, DeepEquals, Selection{Range(2, 8), Index(3)})

	sel, err = ParseSelection("..., [1,4,7], None, ::2")
	c.Assert(err, IsNil)
	c.Assert(sel, HasLen, 4)
	c.Assert(sel[0], Equals, Indexer(Ellipsis{}))
	c.Assert(sel[1], DeepEquals, Indexer(IntArray{1, 4, 7}))
	c.Assert(sel[2], Equals, Indexer(NewAxis{}))
	c.Assert(sel[3], DeepEquals, Indexer(Slice{Step: Int(2)}))

	sel, err = ParseSelection("[true, false]")
	c.Assert(err, IsNil)
	c.Assert(sel[0], DeepEquals, Indexer(BoolMask{true, false}))

	sel, err = ParseSelection("")
	c.Assert(err, IsNil)
	c.Assert(sel, HasLen, 0)

	_, err = ParseSelection("[1,2")
	c.Assert(err, NotNil)
	_, err = ParseSelection("1:2:3:4")
	c.Assert(err, NotNil)
	_, err = ParseSelection("x")
	c.Assert(err, NotNil)
}

func (s *IndexSuite) TestCopyRegion(c *C) {
	// 4x5 source of uint16 elements numbered 0..19.
	src := make([]byte, 40)
	for i := 0; i < 20; i++ {
		src[2*i] = byte(i)
	}
	srcSel := Region{SliceSel{1, 4, 2}, ArraySel{4, 0}}
	dst := make([]byte, 2*12)
	dstSel := Region{IndexSel(1), SliceSel{1, 3, 1}, SliceSel{0, 2, 1}}
	c.Assert(CopyRegion(dst, []int64{2, 3, 2}, dstSel, src, []int64{4, 5}, srcSel, 2), IsNil)
	// Second plane, rows 1..2 receive rows 1 and 3 of the source, columns 4 and 0.
	want := make([]byte, 24)
	want[16], want[18], want[20], want[22] = 9, 5, 19, 15
	c.Assert(dst, DeepEquals, want)

	err := CopyRegion(dst, []int64{2, 3, 2}, dstSel, src, []int64{4, 5}, Region{SliceSel{0, 3, 1}, IndexSel(0)}, 2)
	c.Assert(err, ErrorMatches, "cannot copy 3 elements into 4")

	buf := make([]byte, 6)
	c.Assert(FillRegion(buf, []int64{2, 3}, Region{IndexSel(1), SliceSel{0, 3, 2}}, []byte{7}), IsNil)
	c.Assert(buf, DeepEquals, []byte{0, 0, 0, 7, 0, 7})
	c.Assert(IsFilled(buf[3:4], []byte{7}), Equals, true)
	c.Assert(IsFilled(buf, []byte{7}), Equals, false)

	FillBuffer(buf, []byte{1, 2})
	c.Assert(buf, DeepEquals, []byte{1, 2, 1, 2, 1, 2})
}
