package utils

import "fmt"

// HexWidth returns the number of hex digits needed to print max.
func HexWidth(max uint64) int {
	width := 1
	for max > 0xF {
		max >>= 4
		width++
	}
	return width
}

// FormatHex prints v as 0x-prefixed upper-case hex, zero padded to width digits.
func FormatHex(v uint64, width int) string {
	return fmt.Sprintf("0x%0*X", width, v)
}

// CanonicalBytes returns the shortest big-endian encoding of v, as required
// for P4Runtime bytestrings. Zero encodes as a single zero byte.
func CanonicalBytes(v uint64) []byte {
	if v == 0 {
		return []byte{0}
	}
	var out []byte
	for v > 0 {
		out = append([]byte{byte(v)}, out...)
		v >>= 8
	}
	return out
}
