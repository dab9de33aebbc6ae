package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/pipeframe/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relayctl.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
name = "php-worker"
log_level = "debug"

[worker]
command = "php"
args = ["tests/worker.php"]
env = ["APP_ENV=test"]
recovery_window = "500ms"
read_timeout = "30s"

[server]
cors_origins = ["http://localhost:3000"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "php-worker" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected top-level: %+v", cfg)
	}
	if cfg.Worker.Command != "php" || len(cfg.Worker.Args) != 1 || cfg.Worker.Args[0] != "tests/worker.php" {
		t.Fatalf("unexpected worker: %+v", cfg.Worker)
	}
	if cfg.Worker.RecoveryWindow != 500*time.Millisecond || cfg.Worker.ReadTimeout != 30*time.Second {
		t.Fatalf("unexpected timings: %+v", cfg.Worker)
	}
	if cfg.Server.Addr != DefaultServerAddr {
		t.Fatalf("server addr should default, got %q", cfg.Server.Addr)
	}
	if cfg.SSH != nil {
		t.Fatalf("ssh should be unset")
	}
}

func TestLoadKeepsDefaultRecoveryWindow(t *testing.T) {
	testlog.Start(t)
	cfg, err := Load(writeConfig(t, "[worker]\ncommand = \"./worker\"\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Worker.RecoveryWindow != DefaultRecoveryWindow || cfg.Worker.ReadTimeout != 0 {
		t.Fatalf("unexpected timings: %+v", cfg.Worker)
	}
	if cfg.Name != DefaultName {
		t.Fatalf("unexpected name: %q", cfg.Name)
	}
}

func TestLoadSSH(t *testing.T) {
	testlog.Start(t)
	cfg, err := Load(writeConfig(t, `
[worker]
command = "/opt/worker"

[ssh]
host = "build-01"
user = "deploy"
key_path = "/home/deploy/.ssh/id_ed25519"
timeout = "5s"
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SSH == nil || cfg.SSH.Host != "build-01" || cfg.SSH.Timeout != 5*time.Second {
		t.Fatalf("unexpected ssh: %+v", cfg.SSH)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"missing command": "[worker]\nargs = [\"x\"]\n",
		"bad duration":    "[worker]\ncommand = \"w\"\nrecovery_window = \"soon\"\n",
		"negative":        "[worker]\ncommand = \"w\"\nread_timeout = \"-1s\"\n",
		"bad env":         "[worker]\ncommand = \"w\"\nenv = [\"NOEQUALS\"]\n",
		"unknown key":     "[worker]\ncommand = \"w\"\nretries = 3\n",
		"ssh no user":     "[worker]\ncommand = \"w\"\n[ssh]\nhost = \"h\"\nkey_path = \"k\"\n",
		"bad level":       "log_level = \"loud\"\n[worker]\ncommand = \"w\"\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("missing file should fail")
	}
}

func TestTemplateRoundTrip(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "relayctl.toml")
	if err := WriteTemplate(path, false, "php", "worker.php"); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, false, "php"); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected overwrite refusal, got %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if cfg.Worker.Command != "php" || cfg.Worker.RecoveryWindow != DefaultRecoveryWindow {
		t.Fatalf("unexpected template config: %+v", cfg.Worker)
	}
}
