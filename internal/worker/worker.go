package worker

import (
	"errors"
	"fmt"

	"github.com/danmuck/pipeframe/internal/control"
	"github.com/danmuck/pipeframe/internal/protocol/frame"
	"github.com/danmuck/pipeframe/internal/relay"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DataVersion is the frame version used for payload frames sent by Exec.
const DataVersion = 1

var (
	ErrInvalidCommand = errors.New("worker: invalid command")
	ErrNoTerminator   = errors.New("worker: peer cannot be terminated")
	ErrWorker         = errors.New("worker: error response")
)

// Terminator stops the peer behind a relay.
type Terminator interface {
	Kill() error
}

// Worker pairs one relay with the lifecycle of the peer it talks to. Like the
// relay, it expects one request/response exchange at a time.
type Worker struct {
	relay    *relay.StreamRelay
	term     Terminator
	self     uint32
	childPID int
	logger   zerolog.Logger
}

// New wraps an existing relay. self is the process id reported to the peer
// in PID requests; term may be nil for peers that cannot be killed.
func New(r *relay.StreamRelay, term Terminator, self uint32) *Worker {
	return &Worker{
		relay:  r,
		term:   term,
		self:   self,
		logger: log.With().Str("component", "worker").Logger(),
	}
}

func (w *Worker) Relay() *relay.StreamRelay {
	return w.relay
}

// ChildPID is the local process id of a spawned worker, or 0 when the peer
// was not started by Start.
func (w *Worker) ChildPID() int {
	return w.childPID
}

func (w *Worker) Send(f *frame.Frame) error {
	return w.relay.Send(f)
}

func (w *Worker) ReceiveStderr() ([]byte, error) {
	return w.relay.ReceiveStderr()
}

func (w *Worker) ReceiveStdout() (*frame.Frame, error) {
	return w.relay.ReceiveStdout()
}

func (w *Worker) SendControl(m control.Marshaller) error {
	return control.SendControl(w.relay, m)
}

// PID asks the peer for its process id.
func (w *Worker) PID() (uint32, error) {
	return control.PID(w.relay, w.self)
}

// Stop asks the peer to exit on its own.
func (w *Worker) Stop() error {
	return control.Stop(w.relay)
}

// Kill terminates the peer.
func (w *Worker) Kill() error {
	if w.term == nil {
		return ErrNoTerminator
	}
	if err := w.term.Kill(); err != nil {
		return fmt.Errorf("worker kill: %w", err)
	}
	w.logger.Info().Msg("worker killed")
	return nil
}

// Exec sends payload as a data frame and returns the peer's response. With
// no flags the payload is tagged CodecRaw. A response flagged Error becomes
// ErrWorker carrying the response text.
func (w *Worker) Exec(payload []byte, flags ...frame.Flag) (*frame.Frame, error) {
	f := frame.New()
	f.WriteVersion(DataVersion)
	if len(flags) == 0 {
		flags = []frame.Flag{frame.CodecRaw}
	}
	f.WriteFlags(flags...)
	f.WritePayload(payload)
	f.WriteCRC()

	if err := w.relay.Send(f); err != nil {
		return nil, err
	}
	resp, err := w.relay.ReceiveStdout()
	if err != nil {
		return nil, err
	}
	if resp.HasFlag(frame.Error) {
		return resp, fmt.Errorf("%w: %s", ErrWorker, resp.Payload())
	}
	return resp, nil
}
