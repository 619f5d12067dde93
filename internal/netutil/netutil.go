// Package netutil owns the management-network plumbing around deployed
// sandboxes: static DHCP reservations for node management addresses, host-side
// address checks, and nudging the DHCP daemon when reservations change.
package netutil

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

// Manager is the network surface the orchestrator needs around the
// hypervisor's management network.
type Manager interface {
	// CheckAddress reports whether address is a well-formed IPv4 address that
	// answers from this host.
	CheckAddress(ctx context.Context, address string) bool

	// ReserveManagementIP records a static DHCP reservation binding mac to
	// address. Reserving an already-reserved MAC replaces its address.
	ReserveManagementIP(mac, address string) error

	// ReleaseReservation drops the reservation for mac and reports whether
	// one existed.
	ReleaseReservation(mac string) (bool, error)

	// ReloadDHCP makes the DHCP daemon pick up reservation changes. Callers
	// batch: one reload after any number of reserve/release calls.
	ReloadDHCP(ctx context.Context) error
}

// DnsmasqManager implements Manager against a dnsmasq dhcp-hostsfile. Each
// reservation is one "<mac>,<address>" line; dnsmasq rereads the file on
// SIGHUP. File access is guarded by a process-local mutex plus a lock file,
// so concurrent teardowns in this process or another cannot interleave writes.
type DnsmasqManager struct {
	mu   sync.Mutex
	path string

	// ReloadCommand is executed by ReloadDHCP
	ReloadCommand []string

	// PingCommand is executed by CheckAddress with the address appended
	PingCommand []string
}

func NewDnsmasqManager(path string) *DnsmasqManager {
	return &DnsmasqManager{
		path:          path,
		ReloadCommand: []string{"pkill", "-HUP", "-x", "dnsmasq"},
		PingCommand:   []string{"ping", "-c", "1", "-W", "1"},
	}
}

// CheckAddress requires a parseable IPv4 address before it spends a ping on
// it. The single short ping keeps status polls cheap.
func (m *DnsmasqManager) CheckAddress(ctx context.Context, address string) bool {
	ip := net.ParseIP(address)
	if ip == nil || ip.To4() == nil {
		return false
	}

	args := append(append([]string{}, m.PingCommand[1:]...), address)
	if err := exec.CommandContext(ctx, m.PingCommand[0], args...).Run(); err != nil {
		logrus.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Debug("address did not answer")
		return false
	}
	return true
}

func (m *DnsmasqManager) ReserveManagementIP(mac, address string) error {
	if mac == "" {
		return fmt.Errorf("cannot reserve %s for an empty MAC", address)
	}
	if ip := net.ParseIP(address); ip == nil || ip.To4() == nil {
		return fmt.Errorf("cannot reserve malformed address %q", address)
	}

	return m.rewrite(func(lines []string) []string {
		kept := dropReservation(lines, mac)
		return append(kept, strings.ToLower(mac)+","+address)
	})
}

func (m *DnsmasqManager) ReleaseReservation(mac string) (bool, error) {
	released := false
	err := m.rewrite(func(lines []string) []string {
		kept := dropReservation(lines, mac)
		released = len(kept) != len(lines)
		return kept
	})
	if err != nil {
		return false, err
	}
	return released, nil
}

func (m *DnsmasqManager) ReloadDHCP(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, m.ReloadCommand[0], m.ReloadCommand[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to reload dhcp: %s: %w", strings.TrimSpace(string(out)), err)
	}
	logrus.Debug("reloaded dhcp reservations")
	return nil
}

// rewrite applies fn to the reservation lines and writes the result back
// atomically. The lock file lives next to the hostsfile so the rename does
// not disturb it.
func (m *DnsmasqManager) rewrite(fn func(lines []string) []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fl := flock.New(m.path + ".lock")
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("failed to lock reservations file: %w", err)
	}
	defer fl.Unlock()

	lines, err := m.readLines()
	if err != nil {
		return err
	}

	lines = fn(lines)

	tmp := fmt.Sprintf("%s.tmp.%d", m.path, time.Now().UnixNano())
	content := strings.Join(lines, "\n")
	if content != "" {
		content += "\n"
	}
	if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write reservations file: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace reservations file: %w", err)
	}
	return nil
}

func (m *DnsmasqManager) readLines() ([]string, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
				return nil, fmt.Errorf("failed to create reservations directory: %w", err)
			}
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read reservations file: %w", err)
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// dropReservation filters out the line reserving mac, leaving unrelated and
// unrecognized lines untouched.
func dropReservation(lines []string, mac string) []string {
	prefix := strings.ToLower(mac) + ","
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(strings.ToLower(line), prefix) {
			continue
		}
		kept = append(kept, line)
	}
	return kept
}
