package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settlab/sett/internal/hypervisor"
	"github.com/settlab/sett/internal/repository"
)

func TestTeardown_RemovesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	saved := f.saveAndDeploy(t, "lab1", buildDocument("lab1", []testNode{
		linuxNode("n1", "vm1", "192.168.122.10"),
		linuxNode("n2", "vm2", "192.168.122.11"),
	}, [][2]string{{"n1", "n2"}}))

	require.Equal(t, 2, f.network.ReservationCount())
	require.Len(t, f.images.Overlays(), 2)

	res := f.orch.Teardown(ctx, "lab1")
	require.Equal(t, StatusDeleted, res.Status, res.Message)
	assert.Equal(t, saved.ID, res.TopologyID)
	assert.Contains(t, res.Message, "reclaimed 2.147GB")

	id := hypervisor.TopologyID(saved.ID)
	domains, err := f.driver.ListDomains(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, domains)
	networks, err := f.driver.ListNetworks(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, networks)

	assert.Empty(t, f.images.Overlays())
	assert.Equal(t, 0, f.network.ReservationCount())
	assert.Equal(t, 1, f.network.Reloads)

	_, err = f.topologies.FindByName(ctx, "lab1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	// tearing the same name down again still reports deleted
	res = f.orch.Teardown(ctx, "lab1")
	assert.Equal(t, StatusDeleted, res.Status)
	assert.Contains(t, res.Message, "does not exist")
}

func TestTeardown_UnknownTopologyIsDeleted(t *testing.T) {
	f := newFixture(t)

	res := f.orch.Teardown(context.Background(), "missing")
	assert.Equal(t, StatusDeleted, res.Status)
	assert.Contains(t, res.Message, `topology with name "missing" does not exist`)
}

func TestTeardown_NeverDeployedSkipsReload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.saveTopology(t, "lab1", buildDocument("lab1", []testNode{
		linuxNode("n1", "vm1", "192.168.122.10"),
	}, nil))

	res := f.orch.Teardown(ctx, "lab1")
	require.Equal(t, StatusDeleted, res.Status, res.Message)
	assert.Equal(t, "topology deleted", res.Message)
	assert.Equal(t, 0, f.network.Reloads)

	_, err := f.topologies.FindByName(ctx, "lab1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestTeardown_SingleReloadForManyNodes(t *testing.T) {
	f := newFixture(t)

	f.saveAndDeploy(t, "lab1", buildDocument("lab1", []testNode{
		linuxNode("n1", "vm1", "192.168.122.10"),
		linuxNode("n2", "vm2", "192.168.122.11"),
		linuxNode("n3", "vm3", "192.168.122.12"),
	}, nil))

	res := f.orch.Teardown(context.Background(), "lab1")
	require.Equal(t, StatusDeleted, res.Status, res.Message)
	assert.Equal(t, 1, f.network.Reloads)
}

// A sweep failure is reported but never stops the rest of the cleanup, and
// the stored definition still goes away.
func TestTeardown_SweepContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	saved := f.saveAndDeploy(t, "lab1", buildDocument("lab1", []testNode{
		linuxNode("n1", "vm1", "192.168.122.10"),
		linuxNode("n2", "vm2", "192.168.122.11"),
	}, [][2]string{{"n1", "n2"}}))

	f.driver.Errs["UndefineNetwork"] = errors.New("network busy")

	res := f.orch.Teardown(ctx, "lab1")
	assert.Equal(t, StatusPartialFailure, res.Status)
	assert.Contains(t, res.Message, "could not be cleaned up")

	// domains, disks and reservations are still swept
	domains, err := f.driver.ListDomains(ctx, hypervisor.TopologyID(saved.ID))
	require.NoError(t, err)
	assert.Empty(t, domains)
	assert.Empty(t, f.images.Overlays())
	assert.Equal(t, 0, f.network.ReservationCount())
	assert.Equal(t, 1, f.network.Reloads)

	_, err = f.topologies.FindByName(ctx, "lab1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestTeardown_SameNameCanBeRecreated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := buildDocument("lab1", []testNode{
		linuxNode("n1", "vm1", "192.168.122.10"),
	}, nil)

	f.saveAndDeploy(t, "lab1", doc)
	require.Equal(t, StatusDeleted, f.orch.Teardown(ctx, "lab1").Status)

	// the name and its addresses are free again
	f.saveAndDeploy(t, "lab1", doc)
	res := f.orch.Status(ctx, "lab1")
	assert.Equal(t, GateReady, res.Overall)
}
