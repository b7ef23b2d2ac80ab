package indexing

import (
	"strconv"
	"strings"
)

// Indexer is one element of a user selection.  It is one of Slice, Index,
// IntArray, BoolMask, Ellipsis or NewAxis.
type Indexer interface {
	isIndexer()
}

// Slice selects start:stop:step along an axis.  Nil fields take their
// defaults and negative start/stop count from the end of the axis.
type Slice struct {
	Start, Stop, Step *int64
}

// Index selects a single position and drops the axis from the output.
type Index int64

// IntArray selects an ordered list of positions.
type IntArray []int64

// BoolMask selects the positions where the mask is true.  Its length must
// equal the axis extent.
type BoolMask []bool

// Ellipsis expands to as many full slices as needed to cover the array rank.
type Ellipsis struct{}

// NewAxis inserts a unit-length output axis.
type NewAxis struct{}

func (Slice) isIndexer()    {}
func (Index) isIndexer()    {}
func (IntArray) isIndexer() {}
func (BoolMask) isIndexer() {}
func (Ellipsis) isIndexer() {}
func (NewAxis) isIndexer()  {}

// Selection is a per-axis list of indexers.  Missing trailing axes select
// the full extent.
type Selection []Indexer

// Int returns a pointer for use in Slice fields.
func Int(v int64) *int64 {
	return &v
}

// Range returns the slice start:stop.
func Range(start, stop int64) Slice {
	return Slice{Start: Int(start), Stop: Int(stop)}
}

// StridedRange returns the slice start:stop:step.
func StridedRange(start, stop, step int64) Slice {
	return Slice{Start: Int(start), Stop: Int(stop), Step: Int(step)}
}

// All returns the slice ":".
func All() Slice {
	return Slice{}
}

func (s Slice) String() string {
	str := func(p *int64) string {
		if p == nil {
			return ""
		}
		return strconv.FormatInt(*p, 10)
	}
	out := str(s.Start) + ":" + str(s.Stop)
	if s.Step != nil {
		out += ":" + str(s.Step)
	}
	return out
}

func (sel Selection) String() string {
	parts := make([]string, len(sel))
	for i, ix := range sel {
		switch v := ix.(type) {
		case Slice:
			parts[i] = v.String()
		case Index:
			parts[i] = strconv.FormatInt(int64(v), 10)
		case IntArray:
			parts[i] = formatInts(v)
		case BoolMask:
			b := make([]string, len(v))
			for j, m := range v {
				b[j] = strconv.FormatBool(m)
			}
			parts[i] = "[" + strings.Join(b, ",") + "]"
		case Ellipsis:
			parts[i] = "..."
		case NewAxis:
			parts[i] = "None"
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatInts(v []int64) string {
	s := make([]string, len(v))
	for i, n := range v {
		s[i] = strconv.FormatInt(n, 10)
	}
	return "[" + strings.Join(s, ",") + "]"
}

// AxisSelection is a normalized selection along one axis: a SliceSel,
// IndexSel or ArraySel with all positions non-negative and in bounds.
type AxisSelection interface {
	// Len returns the number of selected positions.
	Len() int64

	// At returns the k-th selected position.
	At(k int64) int64

	String() string
}

// SliceSel selects Start, Start+Step, ... below Stop.  Step is positive.
type SliceSel struct {
	Start, Stop, Step int64
}

// IndexSel selects one position and contributes no output axis.
type IndexSel int64

// ArraySel selects explicit positions in order.
type ArraySel []int64

func (s SliceSel) Len() int64 {
	if s.Stop <= s.Start {
		return 0
	}
	return (s.Stop - s.Start + s.Step - 1) / s.Step
}

func (s SliceSel) At(k int64) int64 { return s.Start + k*s.Step }

func (s SliceSel) String() string {
	out := strconv.FormatInt(s.Start, 10) + ":" + strconv.FormatInt(s.Stop, 10)
	if s.Step != 1 {
		out += ":" + strconv.FormatInt(s.Step, 10)
	}
	return out
}

func (i IndexSel) Len() int64       { return 1 }
func (i IndexSel) At(int64) int64   { return int64(i) }
func (i IndexSel) String() string   { return strconv.FormatInt(int64(i), 10) }
func (a ArraySel) Len() int64       { return int64(len(a)) }
func (a ArraySel) At(k int64) int64 { return a[k] }
func (a ArraySel) String() string   { return formatInts(a) }

// Region is a normalized selection with one AxisSelection per axis of the
// addressed buffer or chunk.
type Region []AxisSelection

func (r Region) String() string {
	parts := make([]string, len(r))
	for i, s := range r {
		parts[i] = s.String()
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Shape returns the lengths of the axes that survive into the output, i.e.,
// all but IndexSel axes.
func (r Region) Shape() []int64 {
	shape := make([]int64, 0, len(r))
	for _, s := range r {
		if _, isIndex := s.(IndexSel); !isIndex {
			shape = append(shape, s.Len())
		}
	}
	return shape
}

// NumElements returns the number of elements addressed by the region.
func (r Region) NumElements() int64 {
	n := int64(1)
	for _, s := range r {
		n *= s.Len()
	}
	return n
}

// FullRegion returns unit-step slices covering the given extent.
func FullRegion(shape []int64) Region {
	r := make(Region, len(shape))
	for i, n := range shape {
		r[i] = SliceSel{0, n, 1}
	}
	return r
}
