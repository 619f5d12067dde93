// Package allocator hands out management-network host addresses for managed
// nodes. Every stored topology document is scanned for addresses already in
// use; allocation is serialized so two concurrent clones can never draw the
// same value.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/settlab/sett/internal/domain"
	"github.com/settlab/sett/internal/topology"
)

// ErrPoolExhausted is returned when no host octet remains free
var ErrPoolExhausted = errors.New("address pool exhausted")

// DefaultOffset is the lowest host octet handed out. .1 belongs to the
// management bridge itself.
const DefaultOffset = 2

// maxOctet is the highest valid host value in the last IPv4 octet
const maxOctet = 254

// NextAvailable returns the lowest host octet >= startOffset not present in
// used. Callers drawing more than one value must record each result in used
// before the next call.
func NextAvailable(used map[int]bool, startOffset int) (int, error) {
	if startOffset < 1 {
		startOffset = 1
	}
	for octet := startOffset; octet <= maxOctet; octet++ {
		if !used[octet] {
			return octet, nil
		}
	}
	return 0, ErrPoolExhausted
}

// TopologyLister is the slice of the topology store the allocator scans
type TopologyLister interface {
	FindAll(ctx context.Context) ([]domain.Topology, error)
}

// Allocator reserves host octets atomically. The used-set snapshot and the
// draws happen under one lock, closing the window where two callers could
// observe the same free value.
type Allocator struct {
	mu         sync.Mutex
	topologies TopologyLister
}

func New(topologies TopologyLister) *Allocator {
	return &Allocator{topologies: topologies}
}

// Reserve returns n free host octets, lowest first
func (a *Allocator) Reserve(ctx context.Context, n int) ([]int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	used, err := a.usedOctets(ctx)
	if err != nil {
		return nil, err
	}

	octets := make([]int, 0, n)
	for i := 0; i < n; i++ {
		octet, err := NextAvailable(used, DefaultOffset)
		if err != nil {
			return nil, err
		}
		used[octet] = true
		octets = append(octets, octet)
	}
	return octets, nil
}

// usedOctets collects the host octet of every managed node across all stored
// topologies, child nodes included. Documents or addresses that do not parse
// are skipped; a half-readable store must not block new reservations.
func (a *Allocator) usedOctets(ctx context.Context) (map[int]bool, error) {
	topologies, err := a.topologies.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to scan topologies for used addresses: %w", err)
	}

	used := make(map[int]bool)
	for _, t := range topologies {
		doc, err := topology.Parse(t.Document)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"topology": t.Name,
				"error":    err,
			}).Warn("skipping unparseable document in address scan")
			continue
		}
		for _, node := range doc.Nodes() {
			if octet := node.HostOctet(); octet > 0 {
				used[octet] = true
			}
		}
	}
	return used, nil
}
