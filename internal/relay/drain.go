package relay

import (
	"bufio"
	"bytes"
	"time"
)

const drainChunk = 4096

// stdoutReader serves bytes left over from a background drain before reading
// the buffered peer stream again.
type stdoutReader struct {
	pending []byte
	br      *bufio.Reader
}

func (s *stdoutReader) Read(p []byte) (int, error) {
	if len(s.pending) > 0 {
		n := copy(p, s.pending)
		s.pending = s.pending[n:]
		return n, nil
	}
	return s.br.Read(p)
}

// drainState tracks a background reader still blocked in Read after the
// recovery window closed. leftover is only valid once done is closed.
type drainState struct {
	done     chan struct{}
	leftover []byte
}

// drain collects whatever stdout yields within the recovery window. Readers
// with deadline support are drained in place; anything else is read by a
// goroutine that the next receive waits for.
func (r *StreamRelay) drain() []byte {
	if r.recoveryWindow <= 0 {
		return nil
	}

	var out bytes.Buffer
	if n := len(r.stdout.pending); n > 0 {
		out.Write(r.stdout.pending)
		r.stdout.pending = nil
	}

	if d, ok := r.rawStdout.(deadliner); ok {
		if err := d.SetReadDeadline(time.Now().Add(r.recoveryWindow)); err == nil {
			_, _ = out.ReadFrom(r.stdout.br)
			_ = d.SetReadDeadline(time.Time{})
			return out.Bytes()
		}
	}

	out.Write(r.drainAsync())
	return out.Bytes()
}

func (r *StreamRelay) drainAsync() []byte {
	state := &drainState{done: make(chan struct{})}
	chunks := make(chan []byte)
	stop := make(chan struct{})

	go func() {
		defer close(state.done)
		buf := make([]byte, drainChunk)
		for {
			n, err := r.stdout.br.Read(buf)
			if n > 0 {
				chunk := append([]byte(nil), buf[:n]...)
				select {
				case chunks <- chunk:
				case <-stop:
					// window closed while blocked; keep the bytes for the next frame
					state.leftover = chunk
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	timer := time.NewTimer(r.recoveryWindow)
	defer timer.Stop()

	var out []byte
	for {
		select {
		case chunk := <-chunks:
			out = append(out, chunk...)
		case <-state.done:
			return out
		case <-timer.C:
			close(stop)
			r.draining = state
			return out
		}
	}
}

// finishDrain waits for a pending background drain and queues its leftover
// bytes ahead of the stream.
func (r *StreamRelay) finishDrain() {
	if r.draining == nil {
		return
	}
	<-r.draining.done
	if len(r.draining.leftover) > 0 {
		r.stdout.pending = append(r.stdout.pending, r.draining.leftover...)
	}
	r.draining = nil
}
