package frame

import "strings"

// Flag is one bit of the header flags byte. Flags combine with OR.
type Flag uint8

const (
	Control      Flag = 0x01
	CodecRaw     Flag = 0x04
	CodecJSON    Flag = 0x08
	CodecMsgpack Flag = 0x10
	CodecGob     Flag = 0x20
	Error        Flag = 0x40
	CodecProto   Flag = 0x80
)

// CodecMask selects the codec bits of a flags byte.
const CodecMask = CodecRaw | CodecJSON | CodecMsgpack | CodecGob | CodecProto

var flagNames = []struct {
	flag Flag
	name string
}{
	{Control, "control"},
	{CodecRaw, "raw"},
	{CodecJSON, "json"},
	{CodecMsgpack, "msgpack"},
	{CodecGob, "gob"},
	{Error, "error"},
	{CodecProto, "proto"},
}

func (f Flag) Has(bit Flag) bool {
	return f&bit != 0
}

// Codec returns only the codec bits of f.
func (f Flag) Codec() Flag {
	return f & CodecMask
}

func (f Flag) String() string {
	if f == 0 {
		return "none"
	}
	parts := make([]string, 0, 2)
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
		}
	}
	if f&0x02 != 0 {
		parts = append(parts, "reserved")
	}
	return strings.Join(parts, "|")
}

// ParseCodec maps a codec name such as "json" to its flag.
func ParseCodec(name string) (Flag, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, fn := range flagNames {
		if fn.flag&CodecMask != 0 && fn.name == name {
			return fn.flag, true
		}
	}
	return 0, false
}
