package main

import (
	"fmt"
	"os"

	"github.com/danmuck/pipeframe/internal/logging"
	"github.com/spf13/cobra"
)

var configPath string

var mainCommand = &cobra.Command{
	Use:           "relayctl",
	Short:         "Drive a framed worker over its stdin and stdout",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.ConfigureRuntime()
	},
}

func init() {
	mainCommand.PersistentFlags().StringVarP(&configPath, "config", "c", "relayctl.toml", "set configuration file path")
}

func main() {
	if err := mainCommand.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "relayctl: %v\n", err)
		os.Exit(1)
	}
}
