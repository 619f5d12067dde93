package hypervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	libvirt "github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"
	"github.com/google/uuid"
	"libvirt.org/go/libvirtxml"
)

// LibvirtDriver implements Driver against a local libvirt daemon.
type LibvirtDriver struct {
	conn        *libvirt.Libvirt
	mgmtNetwork string
}

// NewLibvirtDriver connects to the libvirt daemon over its unix socket.
// mgmtNetwork names the host network whose interface MACs MACFor reports.
func NewLibvirtDriver(socketPath, mgmtNetwork string) (*LibvirtDriver, error) {
	conn := libvirt.NewWithDialer(dialers.NewLocal(dialers.WithSocket(socketPath)))
	if err := conn.ConnectToURI(libvirt.QEMUSystem); err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt at %s: %w", socketPath, err)
	}
	return &LibvirtDriver{conn: conn, mgmtNetwork: mgmtNetwork}, nil
}

// Close disconnects from the daemon
func (d *LibvirtDriver) Close() error {
	return d.conn.Disconnect()
}

func (d *LibvirtDriver) ListDomains(ctx context.Context, id TopologyID) ([]DomainInfo, error) {
	domains, _, err := d.conn.ConnectListAllDomains(1, libvirt.ConnectListDomainsActive|libvirt.ConnectListDomainsInactive)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}

	var infos []DomainInfo
	prefix := id.Prefix()
	for _, dom := range domains {
		if !strings.HasPrefix(dom.Name, prefix) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		state, _, err := d.conn.DomainGetState(dom, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to get state for domain %s: %w", dom.Name, err)
		}
		infos = append(infos, DomainInfo{
			Name:  dom.Name,
			UUID:  uuid.UUID(dom.UUID).String(),
			State: stateName(libvirt.DomainState(state)),
		})
	}
	return infos, nil
}

func (d *LibvirtDriver) ListNetworks(ctx context.Context, id TopologyID) ([]NetworkInfo, error) {
	networks, _, err := d.conn.ConnectListAllNetworks(1, libvirt.ConnectListNetworksActive|libvirt.ConnectListNetworksInactive)
	if err != nil {
		return nil, fmt.Errorf("failed to list networks: %w", err)
	}

	var infos []NetworkInfo
	prefix := id.Prefix()
	for _, net := range networks {
		if !strings.HasPrefix(net.Name, prefix) {
			continue
		}
		infos = append(infos, NetworkInfo{Name: net.Name})
	}
	return infos, nil
}

func (d *LibvirtDriver) DefineNetwork(ctx context.Context, xml string) error {
	if _, err := d.conn.NetworkDefineXML(xml); err != nil {
		return fmt.Errorf("failed to define network: %w", err)
	}
	return nil
}

func (d *LibvirtDriver) DefineDomain(ctx context.Context, xml string) error {
	if _, err := d.conn.DomainDefineXML(xml); err != nil {
		return fmt.Errorf("failed to define domain: %w", err)
	}
	return nil
}

func (d *LibvirtDriver) StartNetwork(ctx context.Context, name string) error {
	net, err := d.conn.NetworkLookupByName(name)
	if err != nil {
		return fmt.Errorf("failed to look up network %s: %w", name, err)
	}
	if err := d.conn.NetworkCreate(net); err != nil {
		return fmt.Errorf("failed to start network %s: %w", name, err)
	}
	return nil
}

func (d *LibvirtDriver) StartDomain(ctx context.Context, id string) error {
	dom, err := d.lookupDomain(id)
	if err != nil {
		return err
	}
	if err := d.conn.DomainCreate(dom); err != nil {
		return fmt.Errorf("failed to start domain %s: %w", dom.Name, err)
	}
	return nil
}

func (d *LibvirtDriver) NetworkIsActive(ctx context.Context, name string) (bool, error) {
	net, err := d.conn.NetworkLookupByName(name)
	if err != nil {
		return false, fmt.Errorf("failed to look up network %s: %w", name, err)
	}
	active, err := d.conn.NetworkIsActive(net)
	if err != nil {
		return false, fmt.Errorf("failed to check network %s: %w", name, err)
	}
	return active == 1, nil
}

func (d *LibvirtDriver) DomainState(ctx context.Context, id string) (string, error) {
	dom, err := d.lookupDomain(id)
	if err != nil {
		return "", err
	}
	state, _, err := d.conn.DomainGetState(dom, 0)
	if err != nil {
		return "", fmt.Errorf("failed to get state for domain %s: %w", dom.Name, err)
	}
	return stateName(libvirt.DomainState(state)), nil
}

func (d *LibvirtDriver) UndefineNetwork(ctx context.Context, name string) error {
	net, err := d.conn.NetworkLookupByName(name)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to look up network %s: %w", name, err)
	}
	active, err := d.conn.NetworkIsActive(net)
	if err != nil {
		return fmt.Errorf("failed to check network %s: %w", name, err)
	}
	if active == 1 {
		if err := d.conn.NetworkDestroy(net); err != nil {
			return fmt.Errorf("failed to stop network %s: %w", name, err)
		}
	}
	if err := d.conn.NetworkUndefine(net); err != nil {
		return fmt.Errorf("failed to undefine network %s: %w", name, err)
	}
	return nil
}

func (d *LibvirtDriver) UndefineDomain(ctx context.Context, id string) (bool, error) {
	dom, err := d.lookupDomain(id)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	state, _, err := d.conn.DomainGetState(dom, 0)
	if err != nil {
		return false, fmt.Errorf("failed to get state for domain %s: %w", dom.Name, err)
	}
	switch libvirt.DomainState(state) {
	case libvirt.DomainRunning, libvirt.DomainPaused:
		if err := d.conn.DomainDestroy(dom); err != nil {
			return false, fmt.Errorf("failed to stop domain %s: %w", dom.Name, err)
		}
	}
	if err := d.conn.DomainUndefine(dom); err != nil {
		return false, fmt.Errorf("failed to undefine domain %s: %w", dom.Name, err)
	}
	return true, nil
}

func (d *LibvirtDriver) ImagePathFor(ctx context.Context, id string) (string, error) {
	dom, err := d.lookupDomain(id)
	if err != nil {
		return "", err
	}
	def, err := d.domainXML(dom)
	if err != nil {
		return "", err
	}
	if def.Devices == nil {
		return "", nil
	}
	for _, disk := range def.Devices.Disks {
		if disk.Source != nil && disk.Source.File != nil && disk.Source.File.File != "" {
			return disk.Source.File.File, nil
		}
	}
	return "", nil
}

func (d *LibvirtDriver) MACFor(ctx context.Context, domainName string) (string, error) {
	dom, err := d.conn.DomainLookupByName(domainName)
	if err != nil {
		return "", fmt.Errorf("failed to look up domain %s: %w", domainName, err)
	}
	def, err := d.domainXML(dom)
	if err != nil {
		return "", err
	}
	if def.Devices == nil {
		return "", nil
	}
	for _, iface := range def.Devices.Interfaces {
		if iface.Source == nil || iface.Source.Network == nil {
			continue
		}
		if iface.Source.Network.Network != d.mgmtNetwork {
			continue
		}
		if iface.MAC != nil {
			return iface.MAC.Address, nil
		}
	}
	return "", nil
}

func (d *LibvirtDriver) lookupDomain(id string) (libvirt.Domain, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return libvirt.Domain{}, fmt.Errorf("invalid domain UUID %q: %w", id, err)
	}
	dom, err := d.conn.DomainLookupByUUID(libvirt.UUID(u))
	if err != nil {
		return libvirt.Domain{}, fmt.Errorf("failed to look up domain %s: %w", id, err)
	}
	return dom, nil
}

func (d *LibvirtDriver) domainXML(dom libvirt.Domain) (*libvirtxml.Domain, error) {
	raw, err := d.conn.DomainGetXMLDesc(dom, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch XML for domain %s: %w", dom.Name, err)
	}
	var def libvirtxml.Domain
	if err := def.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("failed to parse XML for domain %s: %w", dom.Name, err)
	}
	return &def, nil
}

func stateName(s libvirt.DomainState) string {
	switch s {
	case libvirt.DomainRunning:
		return StateRunning
	case libvirt.DomainPaused:
		return StatePaused
	case libvirt.DomainShutoff:
		return StateShutOff
	default:
		return StateUnknown
	}
}

// isNotFound reports whether err is the daemon telling us the object is
// already gone. Teardown sweeps treat that as success.
func isNotFound(err error) bool {
	var lverr libvirt.Error
	if errors.As(err, &lverr) {
		return lverr.Code == uint32(libvirt.ErrNoDomain) || lverr.Code == uint32(libvirt.ErrNoNetwork)
	}
	return false
}
