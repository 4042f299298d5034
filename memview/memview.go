// Package memview provides a cheap view over a chain of byte slices. The
// TLS record framer accumulates reassembled chunks into one without copying
// and slices whole records back out of the head.
package memview

// MemView behaves like one contiguous []byte backed by many. Copying a
// MemView is cheap; the underlying data is never modified, only re-pointed.
// The zero value is an empty view ready to use.
type MemView struct {
	buf    [][]byte
	length int64
}

// New wraps data without copying it. The caller must keep the underlying
// memory valid and unmodified for the view's lifetime.
func New(data []byte) MemView {
	return MemView{buf: [][]byte{data}, length: int64(len(data))}
}

// Append adds src's contents to the end of dst. No bytes are copied.
func (dst *MemView) Append(src MemView) {
	dst.buf = append(dst.buf, src.buf...)
	dst.length += src.length
}

func (mv MemView) Len() int64 { return mv.length }

// At returns the byte at index i, or 0 if out of range.
func (mv MemView) At(i int64) byte {
	if i < 0 || i >= mv.length {
		return 0
	}
	for _, b := range mv.buf {
		if i < int64(len(b)) {
			return b[i]
		}
		i -= int64(len(b))
	}
	return 0
}

// GetUint16 reads a big-endian uint16 starting at offset, or 0 if fewer
// than two bytes remain.
func (mv MemView) GetUint16(offset int64) uint16 {
	if offset+2 > mv.length {
		return 0
	}
	return uint16(mv.At(offset))<<8 | uint16(mv.At(offset+1))
}

// SubView returns the view of [start, end). Bounds are clamped to the view.
func (mv MemView) SubView(start, end int64) MemView {
	if start < 0 {
		start = 0
	}
	if end > mv.length {
		end = mv.length
	}
	if start >= end {
		return MemView{}
	}

	var out MemView
	skip := start
	remaining := end - start
	for _, b := range mv.buf {
		if remaining == 0 {
			break
		}
		size := int64(len(b))
		if skip >= size {
			skip -= size
			continue
		}
		chunk := b[skip:]
		skip = 0
		if int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		out.buf = append(out.buf, chunk)
		out.length += int64(len(chunk))
		remaining -= int64(len(chunk))
	}
	return out
}

// Bytes flattens the view into a single slice. The result is a copy unless
// the view is backed by exactly one slice.
func (mv MemView) Bytes() []byte {
	switch len(mv.buf) {
	case 0:
		return nil
	case 1:
		return mv.buf[0]
	}
	out := make([]byte, 0, mv.length)
	for _, b := range mv.buf {
		out = append(out, b...)
	}
	return out
}

// Clear empties the view.
func (mv *MemView) Clear() {
	mv.buf = nil
	mv.length = 0
}
