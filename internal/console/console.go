// Package console automates first-boot configuration of guests over their
// serial consoles. It drives a virsh console session through a pty the way
// an operator would: wait for a prompt, type a line, wait again. Guests have
// no management address yet when this runs, so the console is the only way
// in.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"time"

	"github.com/creack/pty"
)

// Console is the guest-console surface the orchestrator needs
type Console interface {
	// IsReady reports whether the guest behind the named domain answers its
	// console with an interactive prompt. Only meaningful for linux guests.
	IsReady(ctx context.Context, domainName string) (bool, error)

	// PreconfigLinux logs into the guest console and sets its hostname and
	// management address.
	PreconfigLinux(ctx context.Context, domainName, hostname, password, address, iface string) error

	// PreconfigJunos runs the shorter junos first-boot sequence: root
	// password and management address, committed through the cli.
	PreconfigJunos(ctx context.Context, domainName, password, address, iface string) error
}

// Prompts answered by the expect loop. Console output is noisy, so these
// stay as loose as the dialogue allows.
var (
	reLoginPrompt    = regexp.MustCompile(`login:\s*$`)
	rePasswordPrompt = regexp.MustCompile(`[Pp]assword:?\s*$`)
	reShellPrompt    = regexp.MustCompile(`[#$]\s*$`)
	reAnyPrompt      = regexp.MustCompile(`(login:|[#$])\s*$`)
	reJunosShell     = regexp.MustCompile(`[%#]\s*$`)
	reJunosOper      = regexp.MustCompile(`>\s*$`)
	reJunosConfig    = regexp.MustCompile(`#\s*$`)
)

const (
	// stepTimeout bounds each expect step during preconfiguration
	stepTimeout = 30 * time.Second
	// probeTimeout bounds the readiness probe; an idle guest answers a bare
	// carriage return well within this.
	probeTimeout = 3 * time.Second
	// detach is the virsh console escape character (ctrl-])
	detach = byte(0x1d)
)

// VirshConsole attaches to guest consoles with the virsh command
type VirshConsole struct{}

func NewVirshConsole() *VirshConsole {
	return &VirshConsole{}
}

func (c *VirshConsole) IsReady(ctx context.Context, domainName string) (bool, error) {
	s, err := c.attach(ctx, domainName)
	if err != nil {
		return false, err
	}
	defer s.close()

	if err := s.sendLine(""); err != nil {
		return false, err
	}
	if err := s.expect(ctx, reAnyPrompt, probeTimeout); err != nil {
		if isExpectTimeout(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *VirshConsole) PreconfigLinux(ctx context.Context, domainName, hostname, password, address, iface string) error {
	s, err := c.attach(ctx, domainName)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.login(ctx, "root", password); err != nil {
		return fmt.Errorf("console login to %s failed: %w", domainName, err)
	}

	steps := []string{
		fmt.Sprintf("echo %s > /etc/hostname", hostname),
		fmt.Sprintf("hostname %s", hostname),
		fmt.Sprintf("ifconfig %s %s netmask 255.255.255.0 up", iface, address),
	}
	for _, cmd := range steps {
		if err := s.run(ctx, cmd); err != nil {
			return fmt.Errorf("console preconfig of %s failed at %q: %w", domainName, cmd, err)
		}
	}
	return nil
}

func (c *VirshConsole) PreconfigJunos(ctx context.Context, domainName, password, address, iface string) error {
	s, err := c.attach(ctx, domainName)
	if err != nil {
		return err
	}
	defer s.close()

	// Fresh junos boots with a passwordless root at the shell
	if err := s.sendLine(""); err != nil {
		return err
	}
	if err := s.expect(ctx, reLoginPrompt, stepTimeout); err != nil {
		return fmt.Errorf("no login prompt on %s: %w", domainName, err)
	}
	if err := s.sendLine("root"); err != nil {
		return err
	}
	if err := s.expect(ctx, reJunosShell, stepTimeout); err != nil {
		return fmt.Errorf("no shell on %s: %w", domainName, err)
	}

	dialogue := []struct {
		send   string
		expect *regexp.Regexp
	}{
		{"cli", reJunosOper},
		{"configure", reJunosConfig},
		{"set system root-authentication plain-text-password", rePasswordPrompt},
		{password, rePasswordPrompt},
		{password, reJunosConfig},
		{fmt.Sprintf("set interfaces %s unit 0 family inet address %s/24", iface, address), reJunosConfig},
		{"commit and-quit", reJunosOper},
	}
	for _, step := range dialogue {
		if err := s.sendLine(step.send); err != nil {
			return err
		}
		if err := s.expect(ctx, step.expect, stepTimeout); err != nil {
			return fmt.Errorf("junos preconfig of %s stalled after %q: %w", domainName, step.send, err)
		}
	}
	return nil
}

// attach spawns virsh console on a pty
func (c *VirshConsole) attach(ctx context.Context, domainName string) (*session, error) {
	cmd := exec.CommandContext(ctx, "virsh", "console", domainName)
	f, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to attach console of %s: %w", domainName, err)
	}
	return &session{pty: f, cmd: cmd}, nil
}

// consolePty is what a session reads and writes. The pty master is an
// *os.File; tests substitute their own pair.
type consolePty interface {
	io.ReadWriter
	SetReadDeadline(t time.Time) error
}

// session is one attached console. Not safe for concurrent use.
type session struct {
	pty    consolePty
	cmd    *exec.Cmd
	window []byte
}

// windowSize bounds how much trailing output the prompt regexes see
const windowSize = 4096

// errExpectTimeout marks a prompt that never showed up
type errExpectTimeout struct {
	pattern string
}

func (e errExpectTimeout) Error() string {
	return fmt.Sprintf("timed out waiting for console output matching %s", e.pattern)
}

func isExpectTimeout(err error) bool {
	_, ok := err.(errExpectTimeout)
	return ok
}

// expect reads console output until re matches the tail of it or the budget
// expires. The match window resets on entry so a prompt from a previous step
// cannot satisfy this one.
func (s *session) expect(ctx context.Context, re *regexp.Regexp, budget time.Duration) error {
	s.window = s.window[:0]
	deadline := time.Now().Add(budget)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	buf := make([]byte, 1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return errExpectTimeout{pattern: re.String()}
		}

		step := time.Now().Add(100 * time.Millisecond)
		if step.After(deadline) {
			step = deadline
		}
		if err := s.pty.SetReadDeadline(step); err != nil {
			return fmt.Errorf("console read deadline: %w", err)
		}

		n, err := s.pty.Read(buf)
		if n > 0 {
			s.window = append(s.window, buf[:n]...)
			if len(s.window) > windowSize {
				s.window = s.window[len(s.window)-windowSize:]
			}
			if re.Match(s.window) {
				return nil
			}
		}
		if err != nil {
			if os.IsTimeout(err) {
				continue
			}
			if err == io.EOF {
				return fmt.Errorf("console closed while waiting for %s", re)
			}
			return fmt.Errorf("console read: %w", err)
		}
	}
}

func (s *session) sendLine(line string) error {
	if _, err := s.pty.Write([]byte(line + "\r")); err != nil {
		return fmt.Errorf("console write: %w", err)
	}
	return nil
}

// login reaches a shell prompt, authenticating if the guest asks for it
func (s *session) login(ctx context.Context, user, password string) error {
	if err := s.sendLine(""); err != nil {
		return err
	}
	if err := s.expect(ctx, reAnyPrompt, stepTimeout); err != nil {
		return err
	}
	if !reLoginPrompt.Match(s.window) {
		// already at a shell
		return nil
	}
	if err := s.sendLine(user); err != nil {
		return err
	}
	if err := s.expect(ctx, rePasswordPrompt, stepTimeout); err != nil {
		return err
	}
	if err := s.sendLine(password); err != nil {
		return err
	}
	return s.expect(ctx, reShellPrompt, stepTimeout)
}

// run sends one shell command and waits for the prompt to come back
func (s *session) run(ctx context.Context, cmd string) error {
	if err := s.sendLine(cmd); err != nil {
		return err
	}
	return s.expect(ctx, reShellPrompt, stepTimeout)
}

// close detaches from the console and reaps the virsh process
func (s *session) close() {
	_, _ = s.pty.Write([]byte{detach})
	if f, ok := s.pty.(io.Closer); ok {
		_ = f.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
}
