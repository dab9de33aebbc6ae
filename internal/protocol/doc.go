// Package protocol owns the pipe wire contract shared by the frame codec,
// relay and control layers.
//
// Ownership boundary:
// - error kinds (header length, pipe, crc, marshal, prefix validation)
// - bitops: fixed-width integer packing
// - frame: header/options/payload codec
// - codec: flag-selected payload serializers
package protocol
