package main

import (
	"fmt"

	"github.com/danmuck/pipeframe/internal/config"
	"github.com/spf13/cobra"
)

var configForce bool

var commandConfig = &cobra.Command{
	Use:   "config",
	Short: "Manage relayctl configuration",
}

var commandConfigInit = &cobra.Command{
	Use:   "init command [args...]",
	Short: "Write a starter configuration for a worker command",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteTemplate(configPath, configForce, args[0], args[1:]...); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
		return nil
	},
}

var commandConfigValidate = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		target := "local"
		if cfg.SSH != nil {
			target = "ssh " + cfg.SSH.Host
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (worker %q, %s)\n", configPath, cfg.Name, target)
		return nil
	},
}

func init() {
	commandConfigInit.Flags().BoolVarP(&configForce, "force", "f", false, "overwrite an existing file")
	commandConfig.AddCommand(commandConfigInit, commandConfigValidate)
	mainCommand.AddCommand(commandConfig)
}
