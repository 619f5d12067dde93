package netutil

import (
	"context"
	"net"
	"sync"
)

// StubManager is a Manager with in-memory reservations for testing.
type StubManager struct {
	mu           sync.Mutex
	reservations map[string]string

	// Unreachable makes CheckAddress fail for the listed addresses
	Unreachable map[string]bool

	// Reloads counts ReloadDHCP calls
	Reloads int

	ReserveErr error
	ReleaseErr error
	ReloadErr  error
}

func NewStubManager() *StubManager {
	return &StubManager{
		reservations: make(map[string]string),
		Unreachable:  make(map[string]bool),
	}
}

func (s *StubManager) CheckAddress(ctx context.Context, address string) bool {
	ip := net.ParseIP(address)
	if ip == nil || ip.To4() == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.Unreachable[address]
}

func (s *StubManager) ReserveManagementIP(mac, address string) error {
	if s.ReserveErr != nil {
		return s.ReserveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[mac] = address
	return nil
}

func (s *StubManager) ReleaseReservation(mac string) (bool, error) {
	if s.ReleaseErr != nil {
		return false, s.ReleaseErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.reservations[mac]
	delete(s.reservations, mac)
	return ok, nil
}

func (s *StubManager) ReloadDHCP(ctx context.Context) error {
	if s.ReloadErr != nil {
		return s.ReloadErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reloads++
	return nil
}

// Reservation returns the reserved address for mac, or ""
func (s *StubManager) Reservation(mac string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reservations[mac]
}

// ReservationCount returns the number of live reservations
func (s *StubManager) ReservationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reservations)
}
