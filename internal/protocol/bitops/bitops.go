// Package bitops packs fixed-width 64-bit integers into byte slices.
//
// Every helper requires at least 8 bytes and panics otherwise; a short slice
// is a caller bug, not a runtime condition.
package bitops

const width = 8

func mustFit(b []byte) {
	if len(b) < width {
		panic("bitops: slice shorter than 8 bytes")
	}
}

// ReadLE decodes the first 8 bytes of data as a little-endian uint64.
func ReadLE(data []byte) uint64 {
	mustFit(data)
	var v uint64
	for i := width - 1; i >= 0; i-- {
		v = v<<8 | uint64(data[i])
	}
	return v
}

// ReadBE decodes the first 8 bytes of data as a big-endian uint64.
func ReadBE(data []byte) uint64 {
	mustFit(data)
	var v uint64
	for i := 0; i < width; i++ {
		v = v<<8 | uint64(data[i])
	}
	return v
}

// PutUint64LE writes v into b[0:8] in little-endian order.
func PutUint64LE(b []byte, v uint64) {
	mustFit(b)
	for i := 0; i < width; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// PutUint64BE writes v into b[0:8] in big-endian order.
func PutUint64BE(b []byte, v uint64) {
	mustFit(b)
	for i := 0; i < width; i++ {
		b[width-1-i] = byte(v >> (8 * i))
	}
}
