package hypervisor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"libvirt.org/go/libvirtxml"
)

// StubDriver is a Driver with in-memory state for testing. Define calls
// parse the XML they are handed, so tests exercise the same definitions the
// real daemon would see.
type StubDriver struct {
	mu       sync.Mutex
	domains  map[string]*StubDomain
	networks map[string]*StubNetwork

	// MgmtNetwork selects which interface MACFor reports, matching how the
	// real driver resolves management MACs.
	MgmtNetwork string

	// StartErr fails StartDomain for the named domain
	StartErr map[string]error
	// Errs fails the named method outright ("ListDomains", "DefineNetwork", ...)
	Errs map[string]error
}

// StubDomain is one domain registered with the stub
type StubDomain struct {
	Name      string
	UUID      string
	State     string
	MAC       string
	ImagePath string
}

// StubNetwork is one network registered with the stub
type StubNetwork struct {
	Name   string
	Active bool
}

func NewStubDriver() *StubDriver {
	return &StubDriver{
		domains:  make(map[string]*StubDomain),
		networks: make(map[string]*StubNetwork),
		StartErr: make(map[string]error),
		Errs:     make(map[string]error),
	}
}

// AddDomain registers a domain directly, bypassing XML parsing
func (s *StubDriver) AddDomain(d StubDomain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.UUID == "" {
		d.UUID = uuid.New().String()
	}
	if d.State == "" {
		d.State = StateShutOff
	}
	s.domains[d.Name] = &d
}

// AddNetwork registers a network directly, bypassing XML parsing
func (s *StubDriver) AddNetwork(n StubNetwork) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.networks[n.Name] = &n
}

// SetState overrides the state of a named domain
func (s *StubDriver) SetState(name, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.domains[name]; ok {
		d.State = state
	}
}

// Domain returns the registered domain with the given name, or nil
func (s *StubDriver) Domain(name string) *StubDomain {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.domains[name]
}

// Network returns the registered network with the given name, or nil
func (s *StubDriver) Network(name string) *StubNetwork {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.networks[name]
}

func (s *StubDriver) ListDomains(ctx context.Context, id TopologyID) ([]DomainInfo, error) {
	if err := s.Errs["ListDomains"]; err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var infos []DomainInfo
	for _, d := range s.domains {
		if strings.HasPrefix(d.Name, id.Prefix()) {
			infos = append(infos, DomainInfo{Name: d.Name, UUID: d.UUID, State: d.State})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (s *StubDriver) ListNetworks(ctx context.Context, id TopologyID) ([]NetworkInfo, error) {
	if err := s.Errs["ListNetworks"]; err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var infos []NetworkInfo
	for _, n := range s.networks {
		if strings.HasPrefix(n.Name, id.Prefix()) {
			infos = append(infos, NetworkInfo{Name: n.Name})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (s *StubDriver) DefineNetwork(ctx context.Context, xml string) error {
	if err := s.Errs["DefineNetwork"]; err != nil {
		return err
	}
	var def libvirtxml.Network
	if err := def.Unmarshal(xml); err != nil {
		return fmt.Errorf("bad network XML: %w", err)
	}
	if def.Name == "" {
		return fmt.Errorf("network XML has no name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.networks[def.Name]; ok {
		return fmt.Errorf("network %s already defined", def.Name)
	}
	s.networks[def.Name] = &StubNetwork{Name: def.Name}
	return nil
}

func (s *StubDriver) DefineDomain(ctx context.Context, xml string) error {
	if err := s.Errs["DefineDomain"]; err != nil {
		return err
	}
	var def libvirtxml.Domain
	if err := def.Unmarshal(xml); err != nil {
		return fmt.Errorf("bad domain XML: %w", err)
	}
	if def.Name == "" {
		return fmt.Errorf("domain XML has no name")
	}

	d := &StubDomain{
		Name:  def.Name,
		UUID:  uuid.New().String(),
		State: StateShutOff,
	}
	if def.Devices != nil {
		for _, iface := range def.Devices.Interfaces {
			if iface.MAC == nil {
				continue
			}
			if d.MAC == "" {
				d.MAC = iface.MAC.Address
			}
			if s.MgmtNetwork != "" && iface.Source != nil && iface.Source.Network != nil &&
				iface.Source.Network.Network == s.MgmtNetwork {
				d.MAC = iface.MAC.Address
				break
			}
		}
		for _, disk := range def.Devices.Disks {
			if disk.Source != nil && disk.Source.File != nil {
				d.ImagePath = disk.Source.File.File
				break
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.domains[def.Name]; ok {
		return fmt.Errorf("domain %s already defined", def.Name)
	}
	s.domains[def.Name] = d
	return nil
}

func (s *StubDriver) StartNetwork(ctx context.Context, name string) error {
	if err := s.Errs["StartNetwork"]; err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.networks[name]
	if !ok {
		return fmt.Errorf("network %s is not defined", name)
	}
	n.Active = true
	return nil
}

func (s *StubDriver) StartDomain(ctx context.Context, id string) error {
	if err := s.Errs["StartDomain"]; err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.byUUID(id)
	if d == nil {
		return fmt.Errorf("domain %s is not defined", id)
	}
	if err := s.StartErr[d.Name]; err != nil {
		return err
	}
	d.State = StateRunning
	return nil
}

func (s *StubDriver) NetworkIsActive(ctx context.Context, name string) (bool, error) {
	if err := s.Errs["NetworkIsActive"]; err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.networks[name]
	if !ok {
		return false, fmt.Errorf("network %s is not defined", name)
	}
	return n.Active, nil
}

func (s *StubDriver) DomainState(ctx context.Context, id string) (string, error) {
	if err := s.Errs["DomainState"]; err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.byUUID(id)
	if d == nil {
		return "", fmt.Errorf("domain %s is not defined", id)
	}
	return d.State, nil
}

func (s *StubDriver) UndefineNetwork(ctx context.Context, name string) error {
	if err := s.Errs["UndefineNetwork"]; err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.networks, name)
	return nil
}

func (s *StubDriver) UndefineDomain(ctx context.Context, id string) (bool, error) {
	if err := s.Errs["UndefineDomain"]; err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.byUUID(id)
	if d == nil {
		return false, nil
	}
	delete(s.domains, d.Name)
	return true, nil
}

func (s *StubDriver) ImagePathFor(ctx context.Context, id string) (string, error) {
	if err := s.Errs["ImagePathFor"]; err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.byUUID(id)
	if d == nil {
		return "", fmt.Errorf("domain %s is not defined", id)
	}
	return d.ImagePath, nil
}

func (s *StubDriver) MACFor(ctx context.Context, domainName string) (string, error) {
	if err := s.Errs["MACFor"]; err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.domains[domainName]
	if !ok {
		return "", fmt.Errorf("domain %s is not defined", domainName)
	}
	return d.MAC, nil
}

// byUUID must be called with the lock held
func (s *StubDriver) byUUID(id string) *StubDomain {
	for _, d := range s.domains {
		if d.UUID == id {
			return d
		}
	}
	return nil
}

// StubImageStore is an ImageStore tracking overlay disks in memory
type StubImageStore struct {
	mu       sync.Mutex
	overlays map[string]int64

	// OverlaySize is the size recorded for every created overlay
	OverlaySize int64

	CreateErr error
	RemoveErr error
}

func NewStubImageStore() *StubImageStore {
	return &StubImageStore{
		overlays:    make(map[string]int64),
		OverlaySize: 1 << 30,
	}
}

func (s *StubImageStore) CreateOverlay(ctx context.Context, backingPath, overlayPath string) error {
	if s.CreateErr != nil {
		return s.CreateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.overlays[overlayPath]; !ok {
		s.overlays[overlayPath] = s.OverlaySize
	}
	return nil
}

func (s *StubImageStore) Remove(ctx context.Context, path string) (int64, error) {
	if s.RemoveErr != nil {
		return 0, s.RemoveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	size, ok := s.overlays[path]
	if !ok {
		return 0, nil
	}
	delete(s.overlays, path)
	return size, nil
}

// Overlays returns the paths of all live overlays, sorted
func (s *StubImageStore) Overlays() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.overlays))
	for p := range s.overlays {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
