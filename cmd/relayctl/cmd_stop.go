package main

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// stopGrace is how long stop waits for the worker to close its stdout.
const stopGrace = 5 * time.Second

var commandStop = &cobra.Command{
	Use:   "stop",
	Short: "Start the worker and ask it to stop cleanly",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		w, err := openWorker(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeWorker(w)

		if err := w.Stop(); err != nil {
			return withStderr(w, err)
		}

		done := make(chan error, 1)
		go func() {
			_, err := w.ReceiveStdout()
			done <- err
		}()
		select {
		case err := <-done:
			if err == nil {
				log.Warn().Str("worker", cfg.Name).Msg("worker answered a stop command")
			}
		case <-time.After(stopGrace):
			log.Warn().Str("worker", cfg.Name).Dur("grace", stopGrace).Msg("worker still running after stop, killing")
		}
		log.Info().Str("worker", cfg.Name).Msg("worker stopped")
		return nil
	},
}

func init() {
	mainCommand.AddCommand(commandStop)
}
