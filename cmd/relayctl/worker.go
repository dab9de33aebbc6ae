package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/danmuck/pipeframe/internal/config"
	"github.com/danmuck/pipeframe/internal/logging"
	"github.com/danmuck/pipeframe/internal/protocol"
	"github.com/danmuck/pipeframe/internal/worker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// stderrGrace bounds how long a failed command waits for worker diagnostics.
const stderrGrace = time.Second

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if strings.TrimSpace(cfg.LogLevel) != "" {
		if level, ok := logging.ParseLevel(cfg.LogLevel); ok {
			zerolog.SetGlobalLevel(level)
		}
	}
	return cfg, nil
}

// openWorker starts the configured worker locally, or over SSH when an [ssh]
// table is present.
func openWorker(ctx context.Context, cfg config.Config) (*worker.Worker, error) {
	if cfg.SSH != nil {
		return worker.Dial(cfg.Name, *cfg.SSH, cfg.Worker)
	}
	return worker.Start(ctx, cfg.Name, cfg.Worker)
}

// withStderr appends the worker's stderr to a pipe failure, which usually
// means the worker died.
func withStderr(w *worker.Worker, err error) error {
	if !errors.Is(err, protocol.ErrPipe) {
		return err
	}

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := w.ReceiveStderr()
		ch <- result{data: data, err: err}
	}()

	select {
	case res := <-ch:
		if res.err == nil && len(res.data) > 0 {
			return errors.Join(err, errors.New(strings.TrimSpace(string(res.data))))
		}
	case <-time.After(stderrGrace):
		log.Debug().Msg("worker stderr still open, skipping diagnostics")
	}
	return err
}

func closeWorker(w *worker.Worker) {
	if err := w.Kill(); err != nil {
		log.Warn().Err(err).Msg("worker kill failed")
	}
}
