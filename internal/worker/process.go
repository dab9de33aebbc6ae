package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/danmuck/pipeframe/internal/config"
	"github.com/danmuck/pipeframe/internal/observability"
	"github.com/danmuck/pipeframe/internal/relay"
	"github.com/rs/zerolog/log"
)

// process terminates a locally spawned child and reaps it.
type process struct {
	cmd      *exec.Cmd
	killOnce sync.Once
	killErr  error
}

func (p *process) Kill() error {
	p.killOnce.Do(func() {
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.killErr = err
			return
		}
		// exit status after a kill is expected to be non-zero
		err := p.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			p.killErr = err
		}
	})
	return p.killErr
}

// Start spawns cfg.Command with piped stdin, stdout and stderr wired into a
// StreamRelay. The child is killed if ctx is cancelled.
func Start(ctx context.Context, name string, cfg config.WorkerConfig, opts ...relay.Option) (*Worker, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("%w: empty command", ErrInvalidCommand)
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.Dir = cfg.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("worker start %s: %w", cfg.Command, err)
	}

	logger := log.With().Str("component", "relay").Str("worker", name).Int("child_pid", cmd.Process.Pid).Logger()
	relayOpts := []relay.Option{
		relay.WithReadTimeout(cfg.ReadTimeout),
		relay.WithLogger(logger),
		relay.WithMetrics(observability.NewRelayMetrics(name)),
	}
	// zero keeps the relay default
	if cfg.RecoveryWindow > 0 {
		relayOpts = append(relayOpts, relay.WithRecoveryWindow(cfg.RecoveryWindow))
	}
	relayOpts = append(relayOpts, opts...)

	w := New(relay.NewStreamRelay(stdin, stdout, stderr, relayOpts...), &process{cmd: cmd}, uint32(os.Getpid()))
	w.childPID = cmd.Process.Pid
	w.logger = w.logger.With().Str("worker", name).Int("child_pid", cmd.Process.Pid).Logger()
	w.logger.Info().Str("command", cfg.Command).Strs("args", cfg.Args).Msg("worker started")
	return w, nil
}
