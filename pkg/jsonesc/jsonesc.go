// Package jsonesc escapes raw terminal bytes into the body of a JSON string
// literal (without the surrounding quotes).
//
// Multi-byte UTF-8 sequences are decoded and written as \uXXXX escapes, so
// the result is plain ASCII whenever the input is valid UTF-8. Code points
// above U+FFFF become a UTF-16 surrogate pair. Bytes which do not start a
// complete sequence of a valid code point are copied unchanged.
package jsonesc

import "unicode"

const hexDigits = "0123456789abcdef"

// Escape returns the escaped form of src.
func Escape(src []byte) []byte {
	return Append(make([]byte, 0, len(src)+len(src)/4), src)
}

// Append appends the escaped form of src to dst and returns the extended
// buffer.
func Append(dst, src []byte) []byte {
	for i := 0; i < len(src); i++ {
		b := src[i]
		switch {
		case b == '\r':
			dst = append(dst, '\\', 'r')
		case b == '\n':
			dst = append(dst, '\\', 'n')
		case b == '"':
			dst = append(dst, '\\', '"')
		case b == '\\':
			dst = append(dst, '\\', '\\')
		case b < 0x20:
			dst = appendUnicode(dst, rune(b))
		case b >= 0xc0:
			r, size := decode(src[i:])
			if size == 0 {
				dst = append(dst, b)
				continue
			}
			if r > 0xffff {
				r -= 0x10000
				dst = appendUnicode(dst, 0xd800+(r>>10))
				dst = appendUnicode(dst, 0xdc00+(r&0x3ff))
			} else {
				dst = appendUnicode(dst, r)
			}
			i += size - 1
		default:
			dst = append(dst, b)
		}
	}
	return dst
}

// decode reads one multi-byte sequence from the start of p. It returns a
// zero size when p[0] is not a lead byte or the sequence is cut short or
// has a malformed continuation byte.
func decode(p []byte) (rune, int) {
	var r rune
	var size int
	switch lead := p[0]; {
	case lead&0xf8 == 0xf0 && lead <= 0xf4:
		r, size = rune(lead&0x07), 4
	case lead&0xf0 == 0xe0:
		r, size = rune(lead&0x0f), 3
	case lead&0xe0 == 0xc0:
		r, size = rune(lead&0x1f), 2
	default:
		return 0, 0
	}
	if len(p) < size {
		return 0, 0
	}
	for _, c := range p[1:size] {
		if c&0xc0 != 0x80 {
			return 0, 0
		}
		r = r<<6 | rune(c&0x3f)
	}
	if r > unicode.MaxRune {
		return 0, 0
	}
	return r, size
}

func appendUnicode(dst []byte, r rune) []byte {
	return append(dst, '\\', 'u',
		hexDigits[r>>12&0xf],
		hexDigits[r>>8&0xf],
		hexDigits[r>>4&0xf],
		hexDigits[r&0xf],
	)
}
