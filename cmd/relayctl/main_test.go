package main

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/danmuck/pipeframe/internal/testutil/testlog"
)

func runCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	execCodec, execData, configForce, serveAddr = "raw", "", false, ""

	var out bytes.Buffer
	mainCommand.SetOut(&out)
	mainCommand.SetErr(&out)
	mainCommand.SetIn(strings.NewReader(stdin))
	mainCommand.SetArgs(args)
	err := mainCommand.Execute()
	return out.String(), err
}

// catConfig writes a config whose worker is cat(1), which reflects every
// frame back unchanged.
func catConfig(t *testing.T) string {
	t.Helper()
	cat, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat not available")
	}
	path := filepath.Join(t.TempDir(), "relayctl.toml")
	if _, err := runCommand(t, "", "config", "init", "--config", path, cat); err != nil {
		t.Fatalf("config init: %v", err)
	}
	return path
}

func TestConfigInitAndValidate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "relayctl.toml")

	out, err := runCommand(t, "", "config", "init", "-c", path, "php", "worker.php")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "wrote "+path) {
		t.Fatalf("unexpected init output: %q", out)
	}
	if _, err := runCommand(t, "", "config", "init", "-c", path, "php"); err == nil {
		t.Fatalf("expected init to refuse overwrite")
	}
	if _, err := runCommand(t, "", "config", "init", "-c", path, "--force", "php"); err != nil {
		t.Fatalf("forced init: %v", err)
	}

	out, err = runCommand(t, "", "config", "validate", "-c", path)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "ok") || !strings.Contains(out, "local") {
		t.Fatalf("unexpected validate output: %q", out)
	}
}

func TestConfigValidateRejectsMissingCommand(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "relayctl.toml")
	if err := os.WriteFile(path, []byte("name = \"w\"\n[worker]\ncommand = \"\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := runCommand(t, "", "config", "validate", "-c", path); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestExecThroughEchoWorker(t *testing.T) {
	testlog.Start(t)
	path := catConfig(t)

	out, err := runCommand(t, "", "exec", "-c", path, "--data", "hello")
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if out != "hello" {
		t.Fatalf("unexpected exec output: %q", out)
	}

	out, err = runCommand(t, `{"k":"v"}`, "exec", "-c", path, "--codec", "json")
	if err != nil {
		t.Fatalf("exec stdin: %v", err)
	}
	if out != `{"k":"v"}` {
		t.Fatalf("unexpected exec output: %q", out)
	}

	if _, err := runCommand(t, "", "exec", "-c", path, "--codec", "yaml", "-d", "x"); err == nil {
		t.Fatalf("expected unknown codec error")
	}
}

func TestPIDThroughEchoWorker(t *testing.T) {
	testlog.Start(t)
	path := catConfig(t)

	// cat reflects the request, so the answer is our own pid
	out, err := runCommand(t, "", "pid", "-c", path)
	if err != nil {
		t.Fatalf("pid: %v", err)
	}
	if strings.TrimSpace(out) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("unexpected pid output: %q", out)
	}
}
