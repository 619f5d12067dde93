package orchestrator

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settlab/sett/internal/hypervisor"
	"github.com/settlab/sett/internal/repository"
)

// Walks one sandbox through its whole life: clone-on-start from a stored
// topology, readiness gates opening as the fleet comes up, configuration
// push, and teardown that returns every resource it took.
func TestSandboxLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	script := f.saveScript(t, "provision", "#!/bin/sh\nhostname\n", "/tmp/provision.sh")
	source := f.saveTopology(t, "lab1", buildDocument("lab1", []testNode{
		linuxNode("n1", "vm1", "192.168.122.100"),
		linuxNode("n2", "vm2", "192.168.122.101"),
	}, [][2]string{{"n1", "n2"}}))

	// start clones first, then deploys
	res := f.orch.StartOrClone(ctx, "lab1-clone", source.ID, strconv.FormatInt(script.ID, 10), "x")
	require.Equal(t, StatusInstantiated, res.Status, res.Message)

	clone, err := f.topologies.FindByName(ctx, "lab1-clone")
	require.NoError(t, err)
	id := hypervisor.TopologyID(clone.ID)

	// the clone runs beside its source on fresh addresses
	hosts, err := f.orch.Inventory(ctx, "lab1-clone")
	require.NoError(t, err)
	assert.Equal(t, "192.168.122.2", hosts["vm1"].Address)
	assert.Equal(t, "192.168.122.3", hosts["vm2"].Address)

	// a guest that has not reached its prompt holds the console gate
	f.console.NotReady[id.DomainName("vm2")] = true
	status := f.orch.Status(ctx, "lab1-clone")
	assert.Equal(t, GateNotReady, status.Overall)
	assert.Equal(t, "not all instances have a console ready", status.Message)

	f.console.NotReady = map[string]bool{}
	status = f.orch.Status(ctx, "lab1-clone")
	require.Equal(t, GateReady, status.Overall, status.Message)
	assert.Equal(t, "Sandbox is fully booted and available", status.Message)

	// configuration runs the bound script on every node, once each
	confRes := f.orch.Configure(ctx, "lab1-clone", "", "")
	require.Equal(t, StatusConfigured, confRes.Status, confRes.Message)
	assert.Len(t, f.console.LinuxCalls, 2)
	require.Len(t, f.remote.Commands, 2)
	for _, cmd := range f.remote.Commands {
		assert.Equal(t, "/tmp/provision.sh x", cmd.Command)
	}

	// teardown returns the disks, addresses and the stored row
	downRes := f.orch.Teardown(ctx, "lab1-clone")
	require.Equal(t, StatusDeleted, downRes.Status, downRes.Message)
	assert.Equal(t, 0, f.network.ReservationCount())
	assert.Equal(t, 1, f.network.Reloads)
	assert.Empty(t, f.images.Overlays())

	_, err = f.topologies.FindByName(ctx, "lab1-clone")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	// the source never left
	_, err = f.topologies.FindByName(ctx, "lab1")
	assert.NoError(t, err)
	domains, err := f.driver.ListDomains(ctx, hypervisor.TopologyID(source.ID))
	require.NoError(t, err)
	assert.Empty(t, domains)
}
