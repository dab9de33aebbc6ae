package control

import (
	"github.com/danmuck/pipeframe/internal/protocol/codec"
	"github.com/danmuck/pipeframe/internal/protocol/frame"
)

// Marshaller is a command that serializes itself into a control payload.
type Marshaller interface {
	Marshal() ([]byte, error)
}

// PidCommand asks the peer for its process id; the peer answers with the
// same shape carrying its own pid.
type PidCommand struct {
	Pid uint32 `json:"pid"`
}

// NewPidCommand tags the request with the caller's process id.
func NewPidCommand(pid uint32) *PidCommand {
	return &PidCommand{Pid: pid}
}

func (c *PidCommand) Marshal() ([]byte, error) {
	return codec.Marshal(frame.CodecJSON, c)
}

// StopCommand tells the peer to exit its serve loop.
type StopCommand struct {
	Stop bool `json:"stop"`
}

// Marshal always encodes stop=true.
func (c *StopCommand) Marshal() ([]byte, error) {
	c.Stop = true
	return codec.Marshal(frame.CodecJSON, c)
}
