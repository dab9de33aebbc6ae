package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var commandPID = &cobra.Command{
	Use:   "pid",
	Short: "Ask the worker for its process id",
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

		pid, err := w.PID()
		if err != nil {
			return withStderr(w, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), pid)
		return nil
	},
}

func init() {
	mainCommand.AddCommand(commandPID)
}
