package indexing

import "fmt"

type axisLayout struct {
	n    int64
	offs []int64 // byte offset of each selected position
	unit bool    // positions are consecutive elements in memory
}

// layout returns the byte offset contributed by single-position axes and
// the iteration layout of the remaining axes.
func layout(r Region, shape []int64, elemSize int) (int64, []axisLayout, error) {
	if len(r) != len(shape) {
		return 0, nil, fmt.Errorf("region %s has rank %d but buffer has rank %d", r, len(r), len(shape))
	}
	var base int64
	var axes []axisLayout
	stride := int64(elemSize)
	strides := make([]int64, len(shape))
	for d := len(shape) - 1; d >= 0; d-- {
		strides[d] = stride
		stride *= shape[d]
	}
	for d, s := range r {
		n := s.Len()
		if n == 1 {
			base += s.At(0) * strides[d]
			continue
		}
		ax := axisLayout{n: n, offs: make([]int64, n)}
		for k := int64(0); k < n; k++ {
			ax.offs[k] = s.At(k) * strides[d]
		}
		if sl, isSlice := s.(SliceSel); isSlice {
			ax.unit = sl.Step == 1 && strides[d] == int64(elemSize)
		}
		axes = append(axes, ax)
	}
	return base, axes, nil
}

// CopyRegion copies the elements addressed by srcSel in src to the elements
// addressed by dstSel in dst, pairing them in C order.  Both regions must
// have the same sequence of extents once unit-length axes are dropped.
func CopyRegion(dst []byte, dstShape []int64, dstSel Region, src []byte, srcShape []int64, srcSel Region, elemSize int) error {
	if dstSel.NumElements() != srcSel.NumElements() {
		return fmt.Errorf("cannot copy %d elements into %d", srcSel.NumElements(), dstSel.NumElements())
	}
	if dstSel.NumElements() == 0 {
		return nil
	}
	dstBase, dstAxes, err := layout(dstSel, dstShape, elemSize)
	if err != nil {
		return err
	}
	srcBase, srcAxes, err := layout(srcSel, srcShape, elemSize)
	if err != nil {
		return err
	}
	if len(dstAxes) != len(srcAxes) {
		return fmt.Errorf("region %s does not match region %s", srcSel, dstSel)
	}
	for i := range dstAxes {
		if dstAxes[i].n != srcAxes[i].n {
			return fmt.Errorf("region %s does not match region %s", srcSel, dstSel)
		}
	}
	if len(dstAxes) == 0 {
		copy(dst[dstBase:dstBase+int64(elemSize)], src[srcBase:srcBase+int64(elemSize)])
		return nil
	}

	last := len(dstAxes) - 1
	inner := dstAxes[last].n
	rowCopy := dstAxes[last].unit && srcAxes[last].unit
	rowBytes := inner * int64(elemSize)
	es := int64(elemSize)

	counter := make([]int64, last)
	for {
		dOff, sOff := dstBase, srcBase
		for d, k := range counter {
			dOff += dstAxes[d].offs[k]
			sOff += srcAxes[d].offs[k]
		}
		if rowCopy {
			d0, s0 := dOff+dstAxes[last].offs[0], sOff+srcAxes[last].offs[0]
			copy(dst[d0:d0+rowBytes], src[s0:s0+rowBytes])
		} else {
			dOffs, sOffs := dstAxes[last].offs, srcAxes[last].offs
			for k := int64(0); k < inner; k++ {
				d0, s0 := dOff+dOffs[k], sOff+sOffs[k]
				copy(dst[d0:d0+es], src[s0:s0+es])
			}
		}
		d := last - 1
		for ; d >= 0; d-- {
			counter[d]++
			if counter[d] < dstAxes[d].n {
				break
			}
			counter[d] = 0
		}
		if d < 0 {
			return nil
		}
	}
}

// FillRegion writes the element value to every position addressed by sel.
func FillRegion(dst []byte, dstShape []int64, sel Region, value []byte) error {
	if sel.NumElements() == 0 {
		return nil
	}
	elemSize := len(value)
	base, axes, err := layout(sel, dstShape, elemSize)
	if err != nil {
		return err
	}
	if len(axes) == 0 {
		copy(dst[base:base+int64(elemSize)], value)
		return nil
	}
	last := len(axes) - 1
	counter := make([]int64, last)
	for {
		off := base
		for d, k := range counter {
			off += axes[d].offs[k]
		}
		if axes[last].unit {
			row := dst[off+axes[last].offs[0] : off+axes[last].offs[0]+axes[last].n*int64(elemSize)]
			FillBuffer(row, value)
		} else {
			for _, o := range axes[last].offs {
				copy(dst[off+o:off+o+int64(elemSize)], value)
			}
		}
		d := last - 1
		for ; d >= 0; d-- {
			counter[d]++
			if counter[d] < axes[d].n {
				break
			}
			counter[d] = 0
		}
		if d < 0 {
			return nil
		}
	}
}

// FillBuffer sets every element of buf to value.
func FillBuffer(buf, value []byte) {
	if len(value) == 0 || len(buf) == 0 {
		return
	}
	n := copy(buf, value)
	for n < len(buf) {
		n += copy(buf[n:], buf[:n])
	}
}

// IsFilled returns true if every element of buf equals value.
func IsFilled(buf, value []byte) bool {
	es := len(value)
	if es == 0 {
		return true
	}
	for off := 0; off+es <= len(buf); off += es {
		for i := 0; i < es; i++ {
			if buf[off+i] != value[i] {
				return false
			}
		}
	}
	return true
}
