package aqualink

import "bytes"

// escapeSeq is the two-byte sequence the unescaper collapses: a literal
// 0x10 byte followed by the 0x00 the encoder inserted after it.
var escapeSeq = []byte{0x10, 0x00}

// pack escapes every 0x10 byte in src by inserting a 0x00 immediately
// after it, appending the result to dst and returning the extended
// slice. dst and src must not overlap.
func pack(dst, src []byte) []byte {
	for {
		i := bytes.IndexByte(src, 0x10)
		if i < 0 {
			return append(dst, src...)
		}
		dst = append(dst, src[:i+1]...)
		dst = append(dst, 0x00)
		src = src[i+1:]
	}
}

// unpack collapses every occurrence of the two-byte sequence 0x10 0x00
// into a lone 0x10, writing the result starting at dst[0] and returning
// the number of bytes written. It is safe to call with dst and src
// referring to the same underlying array (dst == src), since the
// result is never longer than src and is built left to right.
func unpack(dst, src []byte) int {
	n := 0
	for i := 0; i < len(src); i++ {
		b := src[i]
		dst[n] = b
		n++
		if b == 0x10 && i+1 < len(src) && src[i+1] == 0x00 {
			i++
		}
	}
	return n
}
