package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/pipeframe/internal/logging"
)

const (
	DefaultName           = "worker"
	DefaultServerAddr     = "127.0.0.1:9200"
	DefaultRecoveryWindow = 2 * time.Second
)

// Config is the resolved relayctl configuration.
type Config struct {
	Name     string
	LogLevel string
	Worker   WorkerConfig
	SSH      *SSHConfig
	Server   ServerConfig
}

// WorkerConfig describes the child process and relay timing.
type WorkerConfig struct {
	Command        string
	Args           []string
	Env            []string
	Dir            string
	RecoveryWindow time.Duration
	ReadTimeout    time.Duration
}

// SSHConfig runs the worker on a remote host instead of locally.
type SSHConfig struct {
	Host                        string
	Port                        string
	User                        string
	KeyPath                     string
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	Timeout                     time.Duration
}

type ServerConfig struct {
	Addr        string
	CorsOrigins []string
}

type fileConfig struct {
	Name     string     `toml:"name"`
	LogLevel string     `toml:"log_level"`
	Worker   fileWorker `toml:"worker"`
	SSH      *fileSSH   `toml:"ssh,omitempty"`
	Server   fileServer `toml:"server"`
}

type fileWorker struct {
	Command        string   `toml:"command"`
	Args           []string `toml:"args"`
	Env            []string `toml:"env"`
	Dir            string   `toml:"dir"`
	RecoveryWindow string   `toml:"recovery_window"`
	ReadTimeout    string   `toml:"read_timeout"`
}

type fileSSH struct {
	Host                        string `toml:"host"`
	Port                        string `toml:"port"`
	User                        string `toml:"user"`
	KeyPath                     string `toml:"key_path"`
	KnownHostsPath              string `toml:"known_hosts_path"`
	InsecureSkipHostKeyChecking bool   `toml:"insecure_skip_host_key_checking"`
	Timeout                     string `toml:"timeout"`
}

type fileServer struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

func DefaultConfig() Config {
	return Config{
		Name:     DefaultName,
		LogLevel: "info",
		Worker: WorkerConfig{
			RecoveryWindow: DefaultRecoveryWindow,
		},
		Server: ServerConfig{
			Addr: DefaultServerAddr,
		},
	}
}

// Load reads a TOML file over DefaultConfig. Keys absent from the file keep
// their defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config parse failed (%s): unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			cfg.Name = name
		}
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	cfg.Worker.Command = strings.TrimSpace(raw.Worker.Command)
	cfg.Worker.Args = raw.Worker.Args
	cfg.Worker.Env = raw.Worker.Env
	cfg.Worker.Dir = strings.TrimSpace(raw.Worker.Dir)
	if meta.IsDefined("worker", "recovery_window") {
		d, err := parseDuration("worker.recovery_window", raw.Worker.RecoveryWindow)
		if err != nil {
			return Config{}, err
		}
		cfg.Worker.RecoveryWindow = d
	}
	if meta.IsDefined("worker", "read_timeout") {
		d, err := parseDuration("worker.read_timeout", raw.Worker.ReadTimeout)
		if err != nil {
			return Config{}, err
		}
		cfg.Worker.ReadTimeout = d
	}

	if raw.SSH != nil {
		ssh := &SSHConfig{
			Host:                        strings.TrimSpace(raw.SSH.Host),
			Port:                        strings.TrimSpace(raw.SSH.Port),
			User:                        strings.TrimSpace(raw.SSH.User),
			KeyPath:                     strings.TrimSpace(raw.SSH.KeyPath),
			KnownHostsPath:              strings.TrimSpace(raw.SSH.KnownHostsPath),
			InsecureSkipHostKeyChecking: raw.SSH.InsecureSkipHostKeyChecking,
		}
		if meta.IsDefined("ssh", "timeout") {
			d, err := parseDuration("ssh.timeout", raw.SSH.Timeout)
			if err != nil {
				return Config{}, err
			}
			ssh.Timeout = d
		}
		cfg.SSH = ssh
	}

	if meta.IsDefined("server", "addr") {
		cfg.Server.Addr = strings.TrimSpace(raw.Server.Addr)
	}
	if meta.IsDefined("server", "cors_origins") {
		cfg.Server.CorsOrigins = raw.Server.CorsOrigins
	}

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("parse %s: negative duration %s", key, d)
	}
	return d, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if _, ok := logging.ParseLevel(cfg.LogLevel); !ok && strings.TrimSpace(cfg.LogLevel) != "" {
		return fmt.Errorf("unknown log_level %q", cfg.LogLevel)
	}
	if err := ValidateWorker(cfg.Worker); err != nil {
		return fmt.Errorf("worker invalid: %w", err)
	}
	if cfg.SSH != nil {
		if err := ValidateSSH(*cfg.SSH); err != nil {
			return fmt.Errorf("ssh invalid: %w", err)
		}
	}
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return fmt.Errorf("server addr is required")
	}
	return nil
}

func ValidateWorker(cfg WorkerConfig) error {
	if strings.TrimSpace(cfg.Command) == "" {
		return fmt.Errorf("command is required")
	}
	for i, kv := range cfg.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("env[%d] must be KEY=VALUE", i)
		}
	}
	if cfg.RecoveryWindow < 0 || cfg.ReadTimeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

func ValidateSSH(cfg SSHConfig) error {
	if strings.TrimSpace(cfg.Host) == "" {
		return fmt.Errorf("host is required")
	}
	if strings.TrimSpace(cfg.User) == "" {
		return fmt.Errorf("user is required")
	}
	if strings.TrimSpace(cfg.KeyPath) == "" {
		return fmt.Errorf("key_path is required")
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
