// Package utf16f converts the NUL terminated UTF-16 buffers returned by the
// Windows event log API into Go strings in one pass.
//
// Unpaired surrogates are kept as WTF-8 (three byte sequences) instead of being
// replaced with U+FFFD, so names read from the registry or the event log round
// trip exactly even when they are not valid UTF-16.
package utf16f

const (
	surrHigh = 0xD800
	surrLow  = 0xDC00
	surrEnd  = 0xE000
	surrSelf = 0x10000
)

// Len returns the number of code units before the first NUL in src.
func Len(src []uint16) int {
	for i, c := range src {
		if c == 0 {
			return i
		}
	}
	return len(src)
}

// String decodes src up to the first NUL.
func String(src []uint16) string {
	src = src[:Len(src)]
	if len(src) == 0 {
		return ""
	}
	return string(Append(make([]byte, 0, len(src)+len(src)/2), src))
}

// Append decodes all of src (NULs included) and appends the WTF-8 bytes to dst.
func Append(dst []byte, src []uint16) []byte {
	for i := 0; i < len(src); i++ {
		c := rune(src[i])
		switch {
		case c < 0x80:
			dst = append(dst, byte(c))
		case c < 0x800:
			dst = append(dst, byte(0xC0|c>>6), byte(0x80|c&0x3F))
		case c >= surrHigh && c < surrLow && i+1 < len(src) &&
			src[i+1] >= surrLow && src[i+1] < surrEnd:
			r := (c-surrHigh)<<10 | (rune(src[i+1]) - surrLow) + surrSelf
			dst = append(dst,
				byte(0xF0|r>>18),
				byte(0x80|(r>>12)&0x3F),
				byte(0x80|(r>>6)&0x3F),
				byte(0x80|r&0x3F))
			i++
		default:
			// BMP code point or unpaired surrogate.
			dst = append(dst, byte(0xE0|c>>12), byte(0x80|(c>>6)&0x3F), byte(0x80|c&0x3F))
		}
	}
	return dst
}

// Strings splits a buffer of consecutive NUL terminated strings, as returned
// by EvtFormatMessage for keyword lists, ending at an empty string.
func Strings(src []uint16) []string {
	var out []string
	for len(src) > 0 {
		n := Len(src)
		if n == 0 {
			break
		}
		out = append(out, String(src[:n]))
		if n == len(src) {
			break
		}
		src = src[n+1:]
	}
	return out
}
