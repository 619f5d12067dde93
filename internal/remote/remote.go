// Package remote executes configuration steps on booted sandbox nodes over
// their management addresses. Nodes are freshly cloned images reachable only
// from the host, so authentication is password-based and host keys are not
// pinned.
package remote

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// Executor runs commands and places files on sandbox nodes
type Executor interface {
	// PushFile writes content to destination on the node and marks it
	// executable.
	PushFile(ctx context.Context, address, user, password, content, destination string) error

	// RunCommand executes command on the node and returns its combined
	// output. A non-zero exit is an error; the output is still returned.
	RunCommand(ctx context.Context, address, user, password, command string) (string, error)
}

// SSHExecutor implements Executor over SSH
type SSHExecutor struct {
	Port    int
	Timeout time.Duration
}

func NewSSHExecutor() *SSHExecutor {
	return &SSHExecutor{
		Port:    22,
		Timeout: 30 * time.Second,
	}
}

func (e *SSHExecutor) PushFile(ctx context.Context, address, user, password, content, destination string) error {
	client, err := e.dial(ctx, address, user, password)
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to open session on %s: %w", address, err)
	}
	defer session.Close()

	session.Stdin = strings.NewReader(content)
	quoted := shellQuote(destination)
	cmd := fmt.Sprintf("cat > %s && chmod 0755 %s", quoted, quoted)
	if out, err := session.CombinedOutput(cmd); err != nil {
		return fmt.Errorf("failed to push %s to %s: %s: %w", destination, address, strings.TrimSpace(string(out)), err)
	}

	logrus.WithFields(logrus.Fields{
		"address":     address,
		"destination": destination,
	}).Debug("pushed file")
	return nil
}

func (e *SSHExecutor) RunCommand(ctx context.Context, address, user, password, command string) (string, error) {
	client, err := e.dial(ctx, address, user, password)
	if err != nil {
		return "", err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to open session on %s: %w", address, err)
	}
	defer session.Close()

	out, err := session.CombinedOutput(command)
	if err != nil {
		return string(out), fmt.Errorf("command failed on %s: %w", address, err)
	}
	return string(out), nil
}

// dial connects under both the configured timeout and ctx, so a cancelled
// deploy does not leave configuration attempts hanging on a dead node.
func (e *SSHExecutor) dial(ctx context.Context, address, user, password string) (*ssh.Client, error) {
	config := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         e.Timeout,
	}

	hostport := net.JoinHostPort(address, strconv.Itoa(e.Port))
	dialer := net.Dialer{Timeout: e.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", hostport, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, hostport, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", hostport, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// shellQuote single-quotes s for use in a remote shell command line
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
