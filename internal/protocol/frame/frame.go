package frame

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/danmuck/pipeframe/internal/protocol"
)

const (
	Word           = 4
	BaseHeaderLen  = 12
	MaxOptions     = 10
	MaxOptionsSize = MaxOptions * Word
	MaxVersion     = 15

	baseHL = 3
	maxHL  = 15

	payloadLenOffset = 2
	crcOffset        = 6
	crcSpan          = 6
)

// Frame is one protocol message: a header of hl*4 bytes and a payload.
//
// Header layout:
//
//	[0]     low nibble hl (words), high nibble version
//	[1]     flags
//	[2:6]   payload length, little-endian
//	[6:10]  crc32 (IEEE) of header[0:6], little-endian
//	[10:12] reserved
//	[12:]   hl-3 option words, little-endian
type Frame struct {
	header  []byte
	payload []byte
}

// New returns a frame with hl=3, version 0, no flags and no payload.
func New() *Frame {
	f := &Frame{header: make([]byte, BaseHeaderLen, BaseHeaderLen+MaxOptionsSize)}
	f.writeHL(baseHL)
	return f
}

// ReadHeader copies the baseline 12-byte header out of data. The result has
// no payload and is not CRC checked.
func ReadHeader(data []byte) (*Frame, error) {
	if len(data) < BaseHeaderLen {
		return nil, fmt.Errorf("%w, cause: len is less than %d", protocol.ErrHeaderLen, BaseHeaderLen)
	}
	header := make([]byte, BaseHeaderLen, BaseHeaderLen+MaxOptionsSize)
	copy(header, data[:BaseHeaderLen])
	return &Frame{header: header}, nil
}

// ReadFrame slices data into header and payload using the hl nibble. It does
// not verify the CRC; call VerifyCRC before trusting any other field.
func ReadFrame(data []byte) (*Frame, error) {
	if len(data) < BaseHeaderLen {
		return nil, fmt.Errorf("%w, cause: len is less than %d", protocol.ErrHeaderLen, BaseHeaderLen)
	}

	hl := int(data[0] & 0x0F)
	if hl > baseHL {
		size := hl * Word
		if len(data) < size {
			return nil, fmt.Errorf("%w, cause: header declares %d bytes, got %d", protocol.ErrHeaderLen, size, len(data))
		}
		return &Frame{
			header:  append([]byte(nil), data[:size]...),
			payload: append([]byte(nil), data[size:]...),
		}, nil
	}

	f := &Frame{
		header:  append([]byte(nil), data[:BaseHeaderLen]...),
		payload: append([]byte(nil), data[BaseHeaderLen:]...),
	}
	// reserved, only meaningful once options exist
	f.header[10] = 0
	f.header[11] = 0
	return f, nil
}

func (f *Frame) writeHL(hl uint8) {
	f.header[0] = f.header[0]&0xF0 | hl&0x0F
}

// ReadHL returns the header length in 4-byte words.
func (f *Frame) ReadHL() uint8 {
	return f.header[0] & 0x0F
}

func (f *Frame) incrementHL() {
	hl := f.ReadHL()
	if hl >= maxHL {
		panic("frame: header len can't be more than 15 (4bits)")
	}
	f.writeHL(hl + 1)
}

func (f *Frame) Version() uint8 {
	return f.header[0] >> 4
}

// WriteVersion panics when version does not fit in 4 bits.
func (f *Frame) WriteVersion(version uint8) {
	if version > MaxVersion {
		panic("frame: version should be less than 2 bytes (15)")
	}
	f.header[0] = f.header[0]&0x0F | version<<4
}

func (f *Frame) ReadFlags() Flag {
	return Flag(f.header[1])
}

func (f *Frame) HasFlag(flag Flag) bool {
	return f.ReadFlags().Has(flag)
}

func (f *Frame) WriteFlags(flags ...Flag) {
	for _, flag := range flags {
		f.header[1] |= byte(flag)
	}
}

// WriteOptions appends one header word per option. It panics on an empty
// list, more than MaxOptions in total, or a header already at 15 words.
func (f *Frame) WriteOptions(options ...uint32) {
	if len(options) == 0 {
		panic("frame: no options provided")
	}
	if len(options) > MaxOptions {
		panic("frame: header options limited by 40 bytes")
	}
	hl := f.ReadHL()
	if hl == maxHL {
		panic("frame: header len could not be more than 14 [0..15)")
	}
	if int(hl)-baseHL+len(options) > MaxOptions {
		panic("frame: header options limited by 40 bytes")
	}

	var word [Word]byte
	for _, opt := range options {
		binary.LittleEndian.PutUint32(word[:], opt)
		f.header = append(f.header, word[:]...)
		f.incrementHL()
	}
}

// ReadOptions returns the option words. ok is false when the header carries
// no options. It panics when hl implies more than MaxOptionsSize bytes.
func (f *Frame) ReadOptions() (options []uint32, ok bool) {
	hl := int(f.ReadHL())
	if hl <= baseHL {
		return nil, false
	}
	n := hl - baseHL
	if n*Word > MaxOptionsSize {
		panic("frame: header options limited by 40 bytes")
	}
	if len(f.header) < BaseHeaderLen+n*Word {
		panic("frame: header shorter than its declared length")
	}

	options = make([]uint32, n)
	for i := range options {
		off := BaseHeaderLen + i*Word
		options[i] = binary.LittleEndian.Uint32(f.header[off : off+Word])
	}
	return options, true
}

// WritePayload sets the payload and its length field. Lengths above
// math.MaxUint32 are truncated to 32 bits.
func (f *Frame) WritePayload(payload []byte) {
	binary.LittleEndian.PutUint32(f.header[payloadLenOffset:payloadLenOffset+4], uint32(len(payload)))
	f.payload = payload
}

// AttachPayload installs a payload read off the wire without touching the
// length field.
func (f *Frame) AttachPayload(payload []byte) {
	f.payload = payload
}

// ReadPayloadLen panics when the header has not been populated.
func (f *Frame) ReadPayloadLen() uint32 {
	if len(f.header) < payloadLenOffset+4 {
		panic("frame: header too short to hold payload length")
	}
	return binary.LittleEndian.Uint32(f.header[payloadLenOffset : payloadLenOffset+4])
}

func (f *Frame) Payload() []byte {
	return f.payload
}

// WriteCRC stores the checksum of header[0:6]. Call it after every other
// header mutation.
func (f *Frame) WriteCRC() {
	binary.LittleEndian.PutUint32(f.header[crcOffset:crcOffset+4], f.computeCRC())
}

func (f *Frame) ReadCRC() uint32 {
	return binary.LittleEndian.Uint32(f.header[crcOffset : crcOffset+4])
}

func (f *Frame) computeCRC() uint32 {
	return crc32.ChecksumIEEE(f.header[:crcSpan])
}

// VerifyCRC reports protocol.ErrCRCVerification when the stored checksum does
// not match header[0:6]. Options and payload are not covered.
func (f *Frame) VerifyCRC() error {
	if got, want := f.ReadCRC(), f.computeCRC(); got != want {
		return fmt.Errorf("%w, cause: crc mismatch stored=%08x computed=%08x", protocol.ErrCRCVerification, got, want)
	}
	return nil
}

// Header returns the raw header bytes. Callers must not modify them.
func (f *Frame) Header() []byte {
	return f.header
}

// ExtendHeader appends raw option words read off the wire.
func (f *Frame) ExtendHeader(words []byte) {
	f.header = append(f.header, words...)
}

// Bytes returns the header followed by the payload.
func (f *Frame) Bytes() []byte {
	out := make([]byte, 0, len(f.header)+len(f.payload))
	out = append(out, f.header...)
	return append(out, f.payload...)
}

// WriteTo writes the serialized frame in a single call.
func (f *Frame) WriteTo(w io.Writer) (int64, error) {
	data := f.Bytes()
	n, err := w.Write(data)
	if err == nil && n != len(data) {
		err = io.ErrShortWrite
	}
	return int64(n), err
}
