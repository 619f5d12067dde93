package console

import (
	"context"
	"sync"
)

// PreconfigCall records the arguments of one stub preconfiguration call
type PreconfigCall struct {
	Domain   string
	Hostname string
	Password string
	Address  string
	Iface    string
}

// StubConsole is a Console with scripted answers for testing. The zero
// behavior is a guest that is ready and configures cleanly.
type StubConsole struct {
	mu         sync.Mutex
	Probes     []string
	LinuxCalls []PreconfigCall
	JunosCalls []PreconfigCall

	// NotReady makes IsReady report false for the named domains
	NotReady map[string]bool
	// ReadyErr fails IsReady for the named domains
	ReadyErr map[string]error
	// PreconfigErr fails Preconfig calls for the named domains
	PreconfigErr map[string]error
}

func NewStubConsole() *StubConsole {
	return &StubConsole{
		NotReady:     make(map[string]bool),
		ReadyErr:     make(map[string]error),
		PreconfigErr: make(map[string]error),
	}
}

func (s *StubConsole) IsReady(ctx context.Context, domainName string) (bool, error) {
	s.mu.Lock()
	s.Probes = append(s.Probes, domainName)
	s.mu.Unlock()

	if err := s.ReadyErr[domainName]; err != nil {
		return false, err
	}
	return !s.NotReady[domainName], nil
}

func (s *StubConsole) PreconfigLinux(ctx context.Context, domainName, hostname, password, address, iface string) error {
	if err := s.PreconfigErr[domainName]; err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LinuxCalls = append(s.LinuxCalls, PreconfigCall{
		Domain:   domainName,
		Hostname: hostname,
		Password: password,
		Address:  address,
		Iface:    iface,
	})
	return nil
}

func (s *StubConsole) PreconfigJunos(ctx context.Context, domainName, password, address, iface string) error {
	if err := s.PreconfigErr[domainName]; err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.JunosCalls = append(s.JunosCalls, PreconfigCall{
		Domain:   domainName,
		Password: password,
		Address:  address,
		Iface:    iface,
	})
	return nil
}
