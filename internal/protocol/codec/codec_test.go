package codec

import (
	"testing"

	"github.com/danmuck/pipeframe/internal/protocol"
	"github.com/danmuck/pipeframe/internal/protocol/frame"
	"github.com/danmuck/pipeframe/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type job struct {
	ID   uint32 `json:"id" msgpack:"id"`
	Name string `json:"name" msgpack:"name"`
}

func TestStructCodecs(t *testing.T) {
	testlog.Start(t)
	for _, flag := range []frame.Flag{frame.CodecJSON, frame.CodecMsgpack, frame.CodecGob} {
		in := job{ID: 7, Name: "resize"}
		data, err := Marshal(flag, in)
		require.NoError(t, err, flag.String())

		var out job
		require.NoError(t, Unmarshal(flag|frame.Control, data, &out), flag.String())
		require.Equal(t, in, out)
	}
}

func TestRawCodec(t *testing.T) {
	testlog.Start(t)
	data, err := Marshal(frame.CodecRaw, "hello")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)

	var s string
	require.NoError(t, Unmarshal(frame.CodecRaw, data, &s))
	require.Equal(t, "hello", s)

	var b []byte
	require.NoError(t, Unmarshal(frame.CodecRaw, data, &b))
	require.Equal(t, data, b)

	_, err = Marshal(frame.CodecRaw, 42)
	require.ErrorIs(t, err, ErrUnsupported)
	require.ErrorIs(t, err, protocol.ErrMarshal)
}

func TestProtoCodec(t *testing.T) {
	testlog.Start(t)
	in, err := structpb.NewStruct(map[string]any{"pid": 42.0, "stop": true})
	require.NoError(t, err)

	data, err := Marshal(frame.CodecProto, in)
	require.NoError(t, err)

	out := &structpb.Struct{}
	require.NoError(t, Unmarshal(frame.CodecProto, data, out))
	require.Equal(t, 42.0, out.Fields["pid"].GetNumberValue())
	require.True(t, out.Fields["stop"].GetBoolValue())

	data, err = Marshal(frame.CodecProto, wrapperspb.String("hi"))
	require.NoError(t, err)
	sv := &wrapperspb.StringValue{}
	require.NoError(t, Unmarshal(frame.CodecProto, data, sv))
	require.Equal(t, "hi", sv.GetValue())

	_, err = Marshal(frame.CodecProto, job{})
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestCodecSelection(t *testing.T) {
	testlog.Start(t)
	_, err := For(frame.Control)
	require.ErrorIs(t, err, ErrUnknownCodec)

	_, err = For(frame.CodecJSON | frame.CodecGob)
	require.ErrorIs(t, err, ErrUnknownCodec)

	c, err := For(frame.Control | frame.CodecJSON | frame.Error)
	require.NoError(t, err)
	require.Equal(t, frame.CodecJSON, c.Flag())
}

func TestUnmarshalFailureWrapsMarshalError(t *testing.T) {
	testlog.Start(t)
	var out job
	err := Unmarshal(frame.CodecJSON, []byte("{not json"), &out)
	require.ErrorIs(t, err, protocol.ErrMarshal)
}
