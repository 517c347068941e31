package wire

import "errors"

// ErrFrameBounds is returned when a Shift or Grow would move a Frame's
// window outside its backing buffer.
var ErrFrameBounds = errors.New("wire: frame shift out of bounds")

// Frame is a mutable byte buffer with a logical window onto a larger
// backing array that also holds head and tail padding. Stripping or
// prepending a header moves the window by shifting, never by copying the
// payload; only the small fixed-size header itself is copied, into padding
// reserved up front. The dispatcher in package ducttape does not use Frame:
// it slices incoming byte buffers and builds each outgoing buffer by
// copying the header and payload into a new slice.
type Frame struct {
	buf   []byte
	start int
	end   int
}

// NewFrame allocates a Frame wrapping payload, with headroom bytes of spare
// space before it and tailroom bytes after it. headroom must be large
// enough for the worst case of headers this frame will ever need to grow:
// switch header + IPv6 header + outer crypto overhead + inner crypto
// overhead + UDP header.
func NewFrame(headroom, tailroom int, payload []byte) *Frame {
	buf := make([]byte, headroom+len(payload)+tailroom)
	copy(buf[headroom:], payload)
	return &Frame{buf: buf, start: headroom, end: headroom + len(payload)}
}

// WrapFrame builds a Frame directly from a buffer that already has headroom
// bytes of exposed but unused space before the window [headroom:headroom+n].
func WrapFrame(buf []byte, headroom, n int) *Frame {
	return &Frame{buf: buf, start: headroom, end: headroom + n}
}

// Bytes returns the frame's current logical window.
func (f *Frame) Bytes() []byte { return f.buf[f.start:f.end] }

// Len returns the length of the current logical window.
func (f *Frame) Len() int { return f.end - f.start }

// Shift moves the window's start by n bytes. Positive n strips n bytes from
// the front of the window (the caller has just consumed a header). Negative
// n grows the window backward by -n bytes into head padding, exposing room
// for Prepend to fill in. Returns ErrFrameBounds if this would move start
// before the backing array or past the current end.
func (f *Frame) Shift(n int) error {
	ns := f.start + n
	if ns < 0 || ns > f.end {
		return ErrFrameBounds
	}
	f.start = ns
	return nil
}

// Prepend grows the window backward by len(header) and copies header into
// the newly exposed bytes at the front of the window.
func (f *Frame) Prepend(header []byte) error {
	if err := f.Shift(-len(header)); err != nil {
		return err
	}
	copy(f.buf[f.start:], header)
	return nil
}

// Grow extends the window's tail by n bytes into tail padding. Used when a
// header that used to sit logically in front of the payload becomes part of
// the payload itself (e.g. the inner session's ciphertext, whose crypto
// header is now "inside" the IPv6 payload-length accounting).
func (f *Frame) Grow(n int) error {
	ne := f.end + n
	if ne > len(f.buf) || ne < f.start {
		return ErrFrameBounds
	}
	f.end = ne
	return nil
}

// Truncate shrinks the window's tail to length n.
func (f *Frame) Truncate(n int) error {
	if n < 0 || f.start+n > f.end {
		return ErrFrameBounds
	}
	f.end = f.start + n
	return nil
}
