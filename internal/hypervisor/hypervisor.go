// Package hypervisor talks to the virtualization layer that hosts sandbox
// domains and networks. Objects belonging to a topology are discovered by a
// naming convention rather than a join table: every object name starts with
// the topology's prefix. TopologyID owns that convention so callers never
// build prefixes by hand.
package hypervisor

import (
	"context"
	"fmt"
)

// TopologyID scopes hypervisor objects to one topology. All domain and
// network names for a topology are derived from it.
type TopologyID int64

// Prefix returns the name prefix shared by every hypervisor object
// belonging to this topology.
func (id TopologyID) Prefix() string {
	return fmt.Sprintf("t%d_", int64(id))
}

// DomainName returns the hypervisor domain name for a node label
func (id TopologyID) DomainName(label string) string {
	return id.Prefix() + label
}

// NetworkName returns the hypervisor network name for the nth
// point-to-point link in the topology.
func (id TopologyID) NetworkName(n int) string {
	return fmt.Sprintf("%sprivate%d", id.Prefix(), n)
}

// Domain lifecycle states as reported by Driver.ListDomains and
// Driver.DomainState. Values match the virsh state strings so operators
// see the same words in both places.
const (
	StateRunning = "running"
	StateShutOff = "shut off"
	StatePaused  = "paused"
	StateUnknown = "unknown"
)

// DomainInfo describes one hypervisor domain
type DomainInfo struct {
	Name  string // full domain name, including the topology prefix
	UUID  string // hypervisor-assigned identity
	State string // lifecycle state, see State* constants
}

// NetworkInfo describes one hypervisor network
type NetworkInfo struct {
	Name string
}

// Driver is the hypervisor surface the orchestrator needs. Implementations
// must scope List calls to the given topology and tolerate objects
// disappearing between a List and a follow-up call.
type Driver interface {
	// ListDomains returns every domain whose name carries the topology prefix,
	// active or not.
	ListDomains(ctx context.Context, id TopologyID) ([]DomainInfo, error)

	// ListNetworks returns every network whose name carries the topology prefix
	ListNetworks(ctx context.Context, id TopologyID) ([]NetworkInfo, error)

	// DefineNetwork registers a persistent network from its XML definition
	// without starting it.
	DefineNetwork(ctx context.Context, xml string) error

	// DefineDomain registers a persistent domain from its XML definition
	// without starting it.
	DefineDomain(ctx context.Context, xml string) error

	// StartNetwork starts a defined network
	StartNetwork(ctx context.Context, name string) error

	// StartDomain boots a defined domain
	StartDomain(ctx context.Context, uuid string) error

	// NetworkIsActive reports whether the named network is running
	NetworkIsActive(ctx context.Context, name string) (bool, error)

	// DomainState returns the lifecycle state for a domain
	DomainState(ctx context.Context, uuid string) (string, error)

	// UndefineNetwork stops and removes a network
	UndefineNetwork(ctx context.Context, name string) error

	// UndefineDomain stops and removes a domain. It reports whether the
	// domain was actually removed, so callers know whether to reclaim the
	// resources it referenced.
	UndefineDomain(ctx context.Context, uuid string) (bool, error)

	// ImagePathFor returns the backing disk path for a domain, or "" when
	// the domain has no file-backed disk.
	ImagePathFor(ctx context.Context, uuid string) (string, error)

	// MACFor returns the management-interface MAC address for a domain,
	// or "" when none can be determined.
	MACFor(ctx context.Context, domainName string) (string, error)
}
