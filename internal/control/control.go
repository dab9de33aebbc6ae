// Package control sends JSON control commands over a relay and validates the
// peer's control responses.
package control

import (
	"errors"
	"fmt"

	"github.com/danmuck/pipeframe/internal/protocol"
	"github.com/danmuck/pipeframe/internal/protocol/codec"
	"github.com/danmuck/pipeframe/internal/protocol/frame"
	"github.com/danmuck/pipeframe/internal/relay"
)

// ControlVersion is the frame version used for control frames.
const ControlVersion = 1

// NewFrame builds a control frame (version 1, Control|CodecJSON) carrying
// the marshalled command.
func NewFrame(m Marshaller) (*frame.Frame, error) {
	data, err := m.Marshal()
	if err != nil {
		if errors.Is(err, protocol.ErrMarshal) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", protocol.ErrMarshal, err)
	}

	f := frame.New()
	f.WriteVersion(ControlVersion)
	f.WriteFlags(frame.Control, frame.CodecJSON)
	f.WritePayload(data)
	f.WriteCRC()
	return f, nil
}

func SendControl(r relay.Relay, m Marshaller) error {
	f, err := NewFrame(m)
	if err != nil {
		return err
	}
	return r.Send(f)
}

// PID asks the peer for its process id. self is sent as the requester's id.
func PID(r relay.Relay, self uint32) (uint32, error) {
	if err := SendControl(r, NewPidCommand(self)); err != nil {
		return 0, err
	}

	f, err := r.ReceiveStdout()
	if err != nil {
		return 0, err
	}
	if !f.HasFlag(frame.Control) {
		return 0, fmt.Errorf("%w, cause: unexpected response, header is missing, no CONTROL flag", protocol.ErrPipe)
	}

	var res PidCommand
	if err := codec.Unmarshal(frame.CodecJSON, f.Payload(), &res); err != nil {
		return 0, err
	}
	if res.Pid == 0 {
		return 0, fmt.Errorf("%w, cause: pid should be greater than 0", protocol.ErrPipe)
	}
	return res.Pid, nil
}

// Stop sends a stop command. The peer is not expected to answer.
func Stop(r relay.Relay) error {
	return SendControl(r, &StopCommand{})
}
