package orchestrator

import (
	"context"
	"fmt"

	"github.com/settlab/sett/internal/topology"
)

// Host is one inventory entry. The JSON keys match what ansible expects in
// a host's variables.
type Host struct {
	Address string `json:"ansible_host"`
	User    string `json:"ansible_user"`
}

// Inventory maps every top-level managed node of the named topology to its
// access coordinates. Child nodes ride along with their parent and have no
// usable management address of their own, so they are left out.
func (o *Orchestrator) Inventory(ctx context.Context, name string) (map[string]Host, error) {
	topo, err := o.topologies.FindByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load topology %q: %w", name, err)
	}

	doc, err := topology.Parse(topo.Document)
	if err != nil {
		return nil, fmt.Errorf("failed to parse topology %q: %w", name, err)
	}

	hosts := make(map[string]Host)
	for _, node := range doc.Nodes() {
		if node.IsChild() {
			continue
		}
		hosts[node.Name()] = Host{
			Address: node.Address(),
			User:    node.Username(),
		}
	}
	return hosts, nil
}
