package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Template renders a starter relayctl.toml for command.
func Template(command string, args ...string) (string, error) {
	cfg := DefaultConfig()
	raw := fileConfig{
		Name:     cfg.Name,
		LogLevel: cfg.LogLevel,
		Worker: fileWorker{
			Command:        command,
			Args:           args,
			Env:            []string{},
			RecoveryWindow: cfg.Worker.RecoveryWindow.String(),
			ReadTimeout:    cfg.Worker.ReadTimeout.String(),
		},
		Server: fileServer{
			Addr:        cfg.Server.Addr,
			CorsOrigins: []string{"http://localhost:3000"},
		},
	}
	out, err := toml.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return string(out), nil
}

func WriteTemplate(path string, overwrite bool, command string, args ...string) error {
	template, err := Template(command, args...)
	if err != nil {
		return err
	}
	if !overwrite && exists(path) {
		return fmt.Errorf("config already exists: %s", path)
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
