package hypervisor

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"libvirt.org/go/libvirtxml"

	"github.com/settlab/sett/internal/topology"
)

// DefinitionOptions carries the host-side layout needed to turn a topology
// document into concrete hypervisor object definitions.
type DefinitionOptions struct {
	MgmtNetwork string // existing hypervisor network serving management addresses
	ImageDir    string // directory holding base images
	InstanceDir string // directory receiving per-instance overlay disks
}

// NetworkDefinition is one isolated network to create for a topology link
type NetworkDefinition struct {
	Name string
	XML  string
}

// DomainDefinition is one domain to create for a managed node, together
// with the artifacts deploy needs around the define call: the overlay disk
// to create first and the management MAC to reserve afterwards.
type DomainDefinition struct {
	Name        string
	Label       string
	MAC         string // management interface MAC, generated at build time
	Address     string // management IP declared by the node
	BackingPath string // base image the overlay is backed by
	OverlayPath string // per-instance qcow2 overlay
	XML         string
}

// Definitions is everything deploy must create for one topology, in
// creation order: networks first, then domains.
type Definitions struct {
	Networks []NetworkDefinition
	Domains  []DomainDefinition
}

// BuildDefinitions translates a topology document into hypervisor object
// definitions. One isolated network is produced per connection entry and
// one domain per managed node (child nodes included; they boot alongside
// their parent). Nothing is created here; the caller drives the hypervisor.
func BuildDefinitions(id TopologyID, doc *topology.Document, opts DefinitionOptions) (*Definitions, error) {
	defs := &Definitions{}

	// Networks: one per link. The network a node's extra NICs attach to is
	// found again by index when the domains are built below.
	conns := doc.Connections()
	for i := range conns {
		name := id.NetworkName(i)
		xml, err := buildNetworkXML(name)
		if err != nil {
			return nil, fmt.Errorf("failed to build network %s: %w", name, err)
		}
		defs.Networks = append(defs.Networks, NetworkDefinition{Name: name, XML: xml})
	}

	for _, node := range doc.Nodes() {
		if node.Label() == "" {
			return nil, fmt.Errorf("managed node %q has no label", node.Name())
		}
		if node.Image() == "" {
			return nil, fmt.Errorf("node %q declares no image", node.Label())
		}

		name := id.DomainName(node.Label())
		mac := newMAC()
		backing := filepath.Join(opts.ImageDir, node.Image()+".qcow2")
		overlay := filepath.Join(opts.InstanceDir, name+".qcow2")

		xml, err := buildDomainXML(id, node, conns, domainLayout{
			name:        name,
			mac:         mac,
			mgmtNetwork: opts.MgmtNetwork,
			overlayPath: overlay,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build domain %s: %w", name, err)
		}

		defs.Domains = append(defs.Domains, DomainDefinition{
			Name:        name,
			Label:       node.Label(),
			MAC:         mac,
			Address:     node.Address(),
			BackingPath: backing,
			OverlayPath: overlay,
			XML:         xml,
		})
	}

	return defs, nil
}

type domainLayout struct {
	name        string
	mac         string
	mgmtNetwork string
	overlayPath string
}

// buildNetworkXML renders an isolated bridge network: no forward element,
// no addressing. Guests on it only reach each other.
func buildNetworkXML(name string) (string, error) {
	net := &libvirtxml.Network{
		Name: name,
		Bridge: &libvirtxml.NetworkBridge{
			Name:  name,
			STP:   "off",
			Delay: "0",
		},
	}
	return net.Marshal()
}

func buildDomainXML(id TopologyID, node *topology.Node, conns []topology.Connection, layout domainLayout) (string, error) {
	// Management NIC first so it lands on the guest's lowest-numbered
	// interface, which is what the node's mgmtInterface field names.
	ifaces := []libvirtxml.DomainInterface{
		networkInterface(layout.mac, layout.mgmtNetwork),
	}
	for i, conn := range conns {
		if conn.SourceID == node.ID() || conn.TargetID == node.ID() {
			ifaces = append(ifaces, networkInterface(newMAC(), id.NetworkName(i)))
		}
	}

	dom := &libvirtxml.Domain{
		Type: "kvm",
		Name: layout.name,
		Memory: &libvirtxml.DomainMemory{
			Value: uint(node.MemoryMB()),
			Unit:  "MiB",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Value: uint(node.VCPUs()),
		},
		OS: &libvirtxml.DomainOS{
			Type: &libvirtxml.DomainOSType{
				Arch: "x86_64",
				Type: "hvm",
			},
			BootDevices: []libvirtxml.DomainBootDevice{
				{Dev: "hd"},
			},
		},
		Devices: &libvirtxml.DomainDeviceList{
			Disks: []libvirtxml.DomainDisk{
				{
					Device: "disk",
					Driver: &libvirtxml.DomainDiskDriver{Name: "qemu", Type: "qcow2"},
					Source: &libvirtxml.DomainDiskSource{
						File: &libvirtxml.DomainDiskSourceFile{File: layout.overlayPath},
					},
					Target: &libvirtxml.DomainDiskTarget{Dev: "vda", Bus: "virtio"},
				},
			},
			Interfaces: ifaces,
			// A pty-backed serial console backs both readiness probing and
			// first-boot configuration, so every domain gets one.
			Serials: []libvirtxml.DomainSerial{
				{Source: &libvirtxml.DomainChardevSource{Pty: &libvirtxml.DomainChardevSourcePty{}}},
			},
			Consoles: []libvirtxml.DomainConsole{
				{
					Source: &libvirtxml.DomainChardevSource{Pty: &libvirtxml.DomainChardevSourcePty{}},
					Target: &libvirtxml.DomainConsoleTarget{Type: "serial"},
				},
			},
			Graphics: []libvirtxml.DomainGraphic{
				{VNC: &libvirtxml.DomainGraphicVNC{Port: -1, AutoPort: "yes"}},
			},
		},
	}
	return dom.Marshal()
}

func networkInterface(mac, network string) libvirtxml.DomainInterface {
	return libvirtxml.DomainInterface{
		MAC: &libvirtxml.DomainInterfaceMAC{Address: mac},
		Source: &libvirtxml.DomainInterfaceSource{
			Network: &libvirtxml.DomainInterfaceSourceNetwork{Network: network},
		},
		Model: &libvirtxml.DomainInterfaceModel{Type: "virtio"},
	}
}

// newMAC generates a locally-administered MAC under the KVM OUI so
// generated addresses never collide with physical hardware.
func newMAC() string {
	u := uuid.New()
	return fmt.Sprintf("52:54:00:%02x:%02x:%02x", u[13], u[14], u[15])
}
