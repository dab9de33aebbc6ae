package worker

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/danmuck/pipeframe/internal/config"
	"github.com/danmuck/pipeframe/internal/observability"
	"github.com/danmuck/pipeframe/internal/relay"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

func joinCommand(cmd string, args []string) string {
	if len(args) == 0 {
		return shellEscape(cmd)
	}

	var builder strings.Builder
	builder.WriteString(shellEscape(cmd))
	for _, arg := range args {
		builder.WriteByte(' ')
		builder.WriteString(shellEscape(arg))
	}
	return builder.String()
}

func shellEscape(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

// remoteCommand prefixes env assignments through env(1); most sshd configs
// reject session Setenv.
func remoteCommand(cfg config.WorkerConfig) string {
	if len(cfg.Env) == 0 {
		return joinCommand(cfg.Command, cfg.Args)
	}
	args := make([]string, 0, len(cfg.Env)+1+len(cfg.Args))
	args = append(args, cfg.Env...)
	args = append(args, cfg.Command)
	args = append(args, cfg.Args...)
	return joinCommand("env", args)
}

// remoteSession terminates a worker running inside an SSH session.
type remoteSession struct {
	client   *ssh.Client
	session  *ssh.Session
	killOnce sync.Once
	killErr  error
}

func (s *remoteSession) Kill() error {
	s.killOnce.Do(func() {
		// not every server honors signals; closing the channel hangs up the command
		_ = s.session.Signal(ssh.SIGKILL)
		_ = s.session.Close()
		s.killErr = s.client.Close()
	})
	return s.killErr
}

// Dial starts the worker command on a remote host and relays frames over
// the SSH session's stdin, stdout and stderr. Session pipes have no read
// deadlines, so the recovery drain runs in the background.
func Dial(name string, sshCfg config.SSHConfig, cfg config.WorkerConfig, opts ...relay.Option) (*Worker, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("%w: empty command", ErrInvalidCommand)
	}

	address, err := address(sshCfg)
	if err != nil {
		return nil, err
	}
	clientCfg, err := clientConfig(sshCfg)
	if err != nil {
		return nil, err
	}
	client, err := dial(address, clientCfg, sshCfg)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", address, err)
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ssh session: %w", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("ssh stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("ssh stdout: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("ssh stderr: %w", err)
	}
	command := remoteCommand(cfg)
	if err := session.Start(command); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("ssh start %s: %w", cfg.Command, err)
	}

	logger := log.With().Str("component", "relay").Str("worker", name).Str("host", address).Logger()
	relayOpts := []relay.Option{
		relay.WithLogger(logger),
		relay.WithMetrics(observability.NewRelayMetrics(name)),
	}
	if cfg.RecoveryWindow > 0 {
		relayOpts = append(relayOpts, relay.WithRecoveryWindow(cfg.RecoveryWindow))
	}
	relayOpts = append(relayOpts, opts...)

	w := New(relay.NewStreamRelay(stdin, stdout, stderr, relayOpts...), &remoteSession{client: client, session: session}, uint32(os.Getpid()))
	w.logger = w.logger.With().Str("worker", name).Str("host", address).Logger()
	w.logger.Info().Str("command", command).Msg("remote worker started")
	return w, nil
}

func dial(address string, clientCfg *ssh.ClientConfig, cfg config.SSHConfig) (*ssh.Client, error) {
	if cfg.Timeout <= 0 {
		return ssh.Dial("tcp", address, clientCfg)
	}

	conn, err := net.DialTimeout("tcp", address, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, clientCfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(clientConn, chans, reqs), nil
}

func address(cfg config.SSHConfig) (string, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return "", fmt.Errorf("ssh host is required")
	}
	if cfg.Port != "" {
		return net.JoinHostPort(host, cfg.Port), nil
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}
	return net.JoinHostPort(host, "22"), nil
}

func clientConfig(cfg config.SSHConfig) (*ssh.ClientConfig, error) {
	if cfg.User == "" {
		return nil, fmt.Errorf("ssh user is required")
	}

	signer, err := signer(cfg)
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if cfg.InsecureSkipHostKeyChecking {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		callback, err := knownHostsCallback(cfg)
		if err != nil {
			return nil, err
		}
		hostKeyCallback = callback
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.Timeout,
	}, nil
}

func signer(cfg config.SSHConfig) (ssh.Signer, error) {
	if cfg.KeyPath == "" {
		return nil, fmt.Errorf("ssh key path is required")
	}
	privateKey, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(privateKey)
}

func knownHostsCallback(cfg config.SSHConfig) (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(cfg.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	return knownhosts.New(path)
}
