// Package codec serializes frame payloads according to the codec bit carried
// in the frame flags.
package codec

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danmuck/pipeframe/internal/protocol"
	"github.com/danmuck/pipeframe/internal/protocol/frame"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"
)

var (
	ErrUnknownCodec = errors.New("codec: unknown or ambiguous codec flag")
	ErrUnsupported  = errors.New("codec: value not supported by codec")
)

// Codec converts values to and from payload bytes.
type Codec interface {
	Flag() frame.Flag
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

var registry = map[frame.Flag]Codec{
	frame.CodecRaw:     Raw{},
	frame.CodecJSON:    JSON{},
	frame.CodecMsgpack: Msgpack{},
	frame.CodecGob:     Gob{},
	frame.CodecProto:   Proto{},
}

// For returns the codec selected by flags. Exactly one codec bit must be set.
func For(flags frame.Flag) (Codec, error) {
	c, ok := registry[flags.Codec()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, flags.Codec())
	}
	return c, nil
}

// Marshal encodes v with the codec named by flag. Failures wrap
// protocol.ErrMarshal.
func Marshal(flag frame.Flag, v any) ([]byte, error) {
	c, err := For(flag)
	if err != nil {
		return nil, err
	}
	data, err := c.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", protocol.ErrMarshal, c.Flag(), err)
	}
	return data, nil
}

// Unmarshal decodes data into v using the codec bit in flags.
func Unmarshal(flags frame.Flag, data []byte, v any) error {
	c, err := For(flags)
	if err != nil {
		return err
	}
	if err := c.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %w", protocol.ErrMarshal, c.Flag(), err)
	}
	return nil
}

// Raw passes []byte and string values through untouched.
type Raw struct{}

func (Raw) Flag() frame.Flag { return frame.CodecRaw }

func (Raw) Marshal(v any) ([]byte, error) {
	switch val := v.(type) {
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	default:
		return nil, fmt.Errorf("%w: raw wants []byte or string, got %T", ErrUnsupported, v)
	}
}

func (Raw) Unmarshal(data []byte, v any) error {
	switch dst := v.(type) {
	case *[]byte:
		*dst = append((*dst)[:0], data...)
		return nil
	case *string:
		*dst = string(data)
		return nil
	default:
		return fmt.Errorf("%w: raw wants *[]byte or *string, got %T", ErrUnsupported, v)
	}
}

type JSON struct{}

func (JSON) Flag() frame.Flag { return frame.CodecJSON }

func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type Msgpack struct{}

func (Msgpack) Flag() frame.Flag { return frame.CodecMsgpack }

func (Msgpack) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }

func (Msgpack) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

type Gob struct{}

func (Gob) Flag() frame.Flag { return frame.CodecGob }

func (Gob) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Gob) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// Proto handles values implementing proto.Message.
type Proto struct{}

func (Proto) Flag() frame.Flag { return frame.CodecProto }

func (Proto) Marshal(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%w: proto wants proto.Message, got %T", ErrUnsupported, v)
	}
	return proto.Marshal(msg)
}

func (Proto) Unmarshal(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("%w: proto wants proto.Message, got %T", ErrUnsupported, v)
	}
	return proto.Unmarshal(data, msg)
}
