// Package hexf renders integers as "0x" prefixed lowercase hex with leading
// zeroes trimmed, the notation used by every handle, pointer and flag field of
// a record. It avoids the fmt machinery on the kernel decode path.
package hexf

import "unsafe"

const hextable = "0123456789abcdef"

// Unsigned is any integer whose bit pattern is printed.
type Unsigned interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Signed integers print their two's complement bit pattern at their own
// width, so int32(-1) is 0xffffffff.
type Signed interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~int
}

// AppendUint appends "0x" and the trimmed lowercase hex of n to dst.
func AppendUint(dst []byte, n uint64) []byte {
	var buf [16]byte
	i := len(buf)
	for {
		i--
		buf[i] = hextable[n&0xf]
		n >>= 4
		if n == 0 {
			break
		}
	}
	dst = append(dst, '0', 'x')
	return append(dst, buf[i:]...)
}

// U returns "0x" and the trimmed lowercase hex of n.
func U[T Unsigned](n T) string {
	var b [18]byte
	return string(AppendUint(b[:0], uint64(n)))
}

// S is U for signed integers at their natural width.
func S[T Signed](n T) string {
	var b [18]byte
	v := uint64(n)
	if size := unsafe.Sizeof(n); size < 8 {
		v &= 1<<(size*8) - 1
	}
	return string(AppendUint(b[:0], v))
}

// Bare is U without the "0x" prefix.
func Bare[T Unsigned](n T) string {
	var b [18]byte
	return string(AppendUint(b[:0], uint64(n))[2:])
}

// Bytes renders b as "0x" and two hex digits per byte, "" when empty.
func Bytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	out := make([]byte, 2, 2+2*len(b))
	out[0], out[1] = '0', 'x'
	for _, c := range b {
		out = append(out, hextable[c>>4], hextable[c&0xf])
	}
	return string(out)
}
