package relay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/pipeframe/internal/observability"
	"github.com/danmuck/pipeframe/internal/protocol"
	"github.com/danmuck/pipeframe/internal/protocol/frame"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultRecoveryWindow bounds the stdout drain after a CRC failure.
const DefaultRecoveryWindow = 2 * time.Second

// Relay moves frames to and from one peer.
type Relay interface {
	Send(f *frame.Frame) error
	ReceiveStderr() ([]byte, error)
	ReceiveStdout() (*frame.Frame, error)
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// StreamRelay implements Relay over a peer's stdin, stdout and stderr. Any of
// the three may be nil when the peer does not expose it.
//
// The protocol is strict request/response: write one frame, read one frame.
// Send and ReceiveStdout each serialize their own callers, but interleaving
// requests from several goroutines still breaks the pairing.
type StreamRelay struct {
	wmu   sync.Mutex
	stdin io.Writer

	rmu       sync.Mutex
	rawStdout io.Reader
	stdout    *stdoutReader
	draining  *drainState

	emu    sync.Mutex
	stderr io.Reader

	recoveryWindow time.Duration
	readTimeout    time.Duration
	logger         zerolog.Logger
	metrics        *observability.RelayMetrics
}

type Option func(*StreamRelay)

// WithRecoveryWindow overrides how long stdout is drained after a corrupt
// header. Zero disables the drain.
func WithRecoveryWindow(d time.Duration) Option {
	return func(r *StreamRelay) {
		if d >= 0 {
			r.recoveryWindow = d
		}
	}
}

// WithReadTimeout applies a deadline to every stdout read when the reader
// supports one (os pipes do). Zero, the default, blocks indefinitely. A
// timeout mid-frame leaves the stream unsynchronized.
func WithReadTimeout(d time.Duration) Option {
	return func(r *StreamRelay) {
		if d >= 0 {
			r.readTimeout = d
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(r *StreamRelay) {
		r.logger = logger
	}
}

func WithMetrics(m *observability.RelayMetrics) Option {
	return func(r *StreamRelay) {
		r.metrics = m
	}
}

func NewStreamRelay(stdin io.Writer, stdout, stderr io.Reader, opts ...Option) *StreamRelay {
	r := &StreamRelay{
		stdin:          stdin,
		rawStdout:      stdout,
		stderr:         stderr,
		recoveryWindow: DefaultRecoveryWindow,
		logger:         log.With().Str("component", "relay").Logger(),
	}
	if stdout != nil {
		r.stdout = &stdoutReader{br: bufio.NewReader(stdout)}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Send writes the whole frame to the peer's stdin.
func (r *StreamRelay) Send(f *frame.Frame) error {
	r.wmu.Lock()
	defer r.wmu.Unlock()

	if r.stdin == nil {
		return fmt.Errorf("%w, cause: no stdin", protocol.ErrPipe)
	}
	n, err := f.WriteTo(r.stdin)
	if err != nil {
		return fmt.Errorf("%w, cause: %w", protocol.ErrPipe, err)
	}
	r.metrics.FrameSent(int(n))
	r.logger.Trace().
		Uint8("version", f.Version()).
		Stringer("flags", f.ReadFlags()).
		Int64("bytes", n).
		Msg("frame sent")
	return nil
}

// ReceiveStderr reads the diagnostic channel to EOF. An absent or already
// closed channel yields no data.
func (r *StreamRelay) ReceiveStderr() ([]byte, error) {
	r.emu.Lock()
	defer r.emu.Unlock()

	if r.stderr == nil {
		return []byte{}, nil
	}
	data, err := io.ReadAll(r.stderr)
	if err != nil {
		if errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			return data, nil
		}
		return data, fmt.Errorf("%w, cause: %w", protocol.ErrPipe, err)
	}
	return data, nil
}

// ReceiveStdout reads one frame: the 12-byte header, any option words, then
// the payload once the header CRC has been verified. On a CRC failure the
// relay drains stdout for the recovery window and returns
// protocol.ErrCRCVerification carrying whatever text it collected.
func (r *StreamRelay) ReceiveStdout() (*frame.Frame, error) {
	r.rmu.Lock()
	defer r.rmu.Unlock()

	if r.stdout == nil {
		return nil, fmt.Errorf("%w, cause: nothing in the stdout", protocol.ErrPipe)
	}
	r.finishDrain()

	clearDeadline := r.armReadDeadline()
	defer clearDeadline()

	var base [frame.BaseHeaderLen]byte
	if err := r.readFull(base[:]); err != nil {
		return nil, err
	}
	fr, err := frame.ReadHeader(base[:])
	if err != nil {
		return nil, err
	}

	if hl := fr.ReadHL(); hl > 3 {
		opts := make([]byte, int(hl-3)*frame.Word)
		if err := r.readFull(opts); err != nil {
			return nil, err
		}
		fr.ExtendHeader(opts)
	}

	if err := fr.VerifyCRC(); err != nil {
		return nil, r.corruptHeader(fr.Header())
	}

	size := len(fr.Header())
	pldLen := fr.ReadPayloadLen()
	if pldLen == 0 {
		r.metrics.FrameReceived(size)
		return fr, nil
	}

	payload := make([]byte, pldLen)
	if err := r.readFull(payload); err != nil {
		return nil, err
	}
	fr.AttachPayload(payload)
	r.metrics.FrameReceived(size + len(payload))
	return fr, nil
}

func (r *StreamRelay) readFull(buf []byte) error {
	if _, err := io.ReadFull(r.stdout, buf); err != nil {
		return fmt.Errorf("%w, cause: %w", protocol.ErrPipe, err)
	}
	return nil
}

// corruptHeader builds the CRC error from the untrusted header and whatever the
// peer wrote afterwards within the recovery window.
func (r *StreamRelay) corruptHeader(header []byte) error {
	drained := r.drain()
	r.metrics.CRCFailure(len(drained))
	r.logger.Warn().
		Hex("header", header).
		Int("drained", len(drained)).
		Dur("window", r.recoveryWindow).
		Msg("stdout frame failed crc verification")

	cause := lossyString(header) + lossyString(drained)
	return fmt.Errorf("%w, cause %s", protocol.ErrCRCVerification, cause)
}

func (r *StreamRelay) armReadDeadline() func() {
	if r.readTimeout <= 0 {
		return func() {}
	}
	d, ok := r.rawStdout.(deadliner)
	if !ok {
		return func() {}
	}
	if err := d.SetReadDeadline(time.Now().Add(r.readTimeout)); err != nil {
		return func() {}
	}
	return func() { _ = d.SetReadDeadline(time.Time{}) }
}

func lossyString(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}
