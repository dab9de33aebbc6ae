package main

import (
	"fmt"
	"io"

	"github.com/danmuck/pipeframe/internal/protocol/frame"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	execCodec string
	execData  string
)

var commandExec = &cobra.Command{
	Use:   "exec",
	Short: "Send one payload to the worker and print its response",
	Long:  "Send one payload to the worker and print its response. The payload is read from --data, or from stdin when --data is empty.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		codecFlag, ok := frame.ParseCodec(execCodec)
		if !ok {
			return fmt.Errorf("unknown codec %q", execCodec)
		}

		payload := []byte(execData)
		if execData == "" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}
			payload = data
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		w, err := openWorker(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeWorker(w)

		resp, err := w.Exec(payload, codecFlag)
		if err != nil {
			return withStderr(w, err)
		}
		log.Debug().
			Stringer("flags", resp.ReadFlags()).
			Int("bytes", len(resp.Payload())).
			Msg("worker responded")
		_, err = cmd.OutOrStdout().Write(resp.Payload())
		return err
	},
}

func init() {
	commandExec.Flags().StringVar(&execCodec, "codec", "raw", "payload codec: raw, json, msgpack, gob or proto")
	commandExec.Flags().StringVarP(&execData, "data", "d", "", "payload to send")
	mainCommand.AddCommand(commandExec)
}
