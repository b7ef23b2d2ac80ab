package zpipe

import (
	"fmt"
	"strconv"
	"strings"
)

// Point is an N-dimensional coordinate or extent in element space.
type Point []int64

// ChunkPoint is an N-dimensional coordinate in chunk space.
type ChunkPoint []int64

// NumDims returns the dimensionality of this point.
func (p Point) NumDims() int {
	return len(p)
}

// Duplicate returns a copy of the point without any pointer references.
func (p Point) Duplicate() Point {
	nd := make(Point, len(p))
	copy(nd, p)
	return nd
}

// Equals returns true if the points have the same dimensionality and values.
func (p Point) Equals(x Point) bool {
	if len(p) != len(x) {
		return false
	}
	for i := range p {
		if p[i] != x[i] {
			return false
		}
	}
	return true
}

// Prod returns the product of the point's components, i.e., the number of
// elements in an extent.  An empty point has a product of 1.
func (p Point) Prod() int64 {
	prod := int64(1)
	for _, val := range p {
		prod *= val
	}
	return prod
}

// Strides returns the C-order element strides of an extent.
func (p Point) Strides() []int64 {
	strides := make([]int64, len(p))
	acc := int64(1)
	for i := len(p) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= p[i]
	}
	return strides
}

func (p Point) String() string {
	return joinInts([]int64(p))
}

// NumDims returns the dimensionality of this chunk point.
func (c ChunkPoint) NumDims() int {
	return len(c)
}

// Duplicate returns a copy of the chunk point.
func (c ChunkPoint) Duplicate() ChunkPoint {
	nd := make(ChunkPoint, len(c))
	copy(nd, c)
	return nd
}

// Equals returns true if the chunk points match.
func (c ChunkPoint) Equals(x ChunkPoint) bool {
	return Point(c).Equals(Point(x))
}

// Less orders chunk points in C (row-major) order.
func (c ChunkPoint) Less(x ChunkPoint) bool {
	for i := 0; i < len(c) && i < len(x); i++ {
		if c[i] != x[i] {
			return c[i] < x[i]
		}
	}
	return len(c) < len(x)
}

func (c ChunkPoint) String() string {
	return joinInts([]int64(c))
}

func joinInts(vals []int64) string {
	output := "("
	for i, val := range vals {
		if i > 0 {
			output += ","
		}
		output += strconv.FormatInt(val, 10)
	}
	return output + ")"
}

// StringToPoint parses a string of the form "10,20,30" (optionally wrapped in
// parentheses or brackets) into a Point.
func StringToPoint(s, separator string) (Point, error) {
	s = strings.Trim(strings.TrimSpace(s), "()[]")
	if s == "" {
		return Point{}, nil
	}
	elems := strings.Split(s, separator)
	p := make(Point, len(elems))
	for i, elem := range elems {
		v, err := strconv.ParseInt(strings.TrimSpace(elem), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("can't parse %q as point: %v", s, err)
		}
		p[i] = v
	}
	return p, nil
}
