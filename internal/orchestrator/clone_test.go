package orchestrator

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settlab/sett/internal/allocator"
	"github.com/settlab/sett/internal/topology"
)

func TestClone_RewritesManagementAddresses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	source := f.saveTopology(t, "lab1", buildDocument("lab1", []testNode{
		linuxNode("n1", "vm1", "192.168.122.9"),
		linuxNode("n2", "vm2", "192.168.122.10"),
	}, [][2]string{{"n1", "n2"}}))

	clone, err := f.orch.Clone(ctx, source, "lab1-clone", nil)
	require.NoError(t, err)

	assert.Equal(t, "lab1-clone", clone.Name)
	assert.NotEqual(t, source.ID, clone.ID)

	nodes := parseNodes(t, clone.Document)
	require.Len(t, nodes, 2)
	// .9 and .10 stay held by the source, so the clone draws the lowest
	// free octets above the bridge address
	assert.Equal(t, "192.168.122.2", nodes[0].Address())
	assert.Equal(t, "192.168.122.3", nodes[1].Address())

	// everything but the addresses carries over unchanged
	srcNodes := parseNodes(t, source.Document)
	for i, node := range nodes {
		assert.Equal(t, srcNodes[i].Label(), node.Label())
		assert.Equal(t, srcNodes[i].DeclaredType(), node.DeclaredType())
	}
	cloneDoc, err := topology.Parse(clone.Document)
	require.NoError(t, err)
	require.Len(t, cloneDoc.Connections(), 1)

	// the source document is untouched
	kept, err := f.topologies.FindByID(ctx, source.ID)
	require.NoError(t, err)
	for _, node := range parseNodes(t, kept.Document) {
		assert.Contains(t, []string{"192.168.122.9", "192.168.122.10"}, node.Address())
	}
}

func TestClone_StampsProvenanceAndBinding(t *testing.T) {
	f := newFixture(t)

	source := f.saveTopology(t, "lab1", buildDocument("lab1", []testNode{
		linuxNode("n1", "vm1", "192.168.122.9"),
	}, nil))

	clone, err := f.orch.Clone(context.Background(), source, "lab1-clone", &ScriptBinding{ID: "5", Param: "x"})
	require.NoError(t, err)

	assert.Equal(t, fmt.Sprintf("Clone from: %d\nScript Id: 5\nScript Param: x", source.ID), clone.Description)
	for _, node := range parseNodes(t, clone.Document) {
		assert.Equal(t, "5", node.ScriptID())
		assert.Equal(t, "x", node.ScriptParam())
	}
}

func TestClone_WithoutBindingStampsSentinel(t *testing.T) {
	f := newFixture(t)

	source := f.saveTopology(t, "lab1", buildDocument("lab1", []testNode{
		linuxNode("n1", "vm1", "192.168.122.9"),
	}, nil))

	clone, err := f.orch.Clone(context.Background(), source, "lab1-clone", nil)
	require.NoError(t, err)

	assert.Equal(t, fmt.Sprintf("Clone from: %d\nScript Id: 0\nScript Param: ", source.ID), clone.Description)
	for _, node := range parseNodes(t, clone.Document) {
		assert.Equal(t, topology.NoScriptID, node.ScriptID())
	}
}

func TestClone_ChildNodesKeepTheirAddress(t *testing.T) {
	f := newFixture(t)

	child := linuxNode("n2", "vm1-pfe", "192.168.122.51")
	child.parent = "vm1"
	source := f.saveTopology(t, "lab1", buildDocument("lab1", []testNode{
		linuxNode("n1", "vm1", "192.168.122.50"),
		child,
	}, nil))

	clone, err := f.orch.Clone(context.Background(), source, "lab1-clone", &ScriptBinding{ID: "7", Param: ""})
	require.NoError(t, err)

	nodes := parseNodes(t, clone.Document)
	require.Len(t, nodes, 2)
	assert.Equal(t, "192.168.122.2", nodes[0].Address())
	// the child is not re-addressed but still carries the binding
	assert.Equal(t, "192.168.122.51", nodes[1].Address())
	assert.Equal(t, "7", nodes[1].ScriptID())
}

func TestClone_DuplicateNameFails(t *testing.T) {
	f := newFixture(t)

	source := f.saveTopology(t, "lab1", buildDocument("lab1", []testNode{
		linuxNode("n1", "vm1", "192.168.122.9"),
	}, nil))

	_, err := f.orch.Clone(context.Background(), source, "lab1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lab1")
}

func TestClone_PoolExhausted(t *testing.T) {
	f := newFixture(t)

	f.saveTopology(t, "hog", hogDocument("hog", 2, 254))
	source := f.saveTopology(t, "lab1", buildDocument("lab1", []testNode{
		linuxNode("n1", "vm1", "192.168.122.9"),
	}, nil))

	_, err := f.orch.Clone(context.Background(), source, "lab1-clone", nil)
	require.ErrorIs(t, err, allocator.ErrPoolExhausted)
}

func TestImport_ReAddressesNodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// a stored topology already holds .2
	f.saveTopology(t, "existing", buildDocument("existing", []testNode{
		linuxNode("n1", "vm1", "192.168.122.2"),
	}, nil))

	res := f.orch.Import(ctx, buildDocument("imported-lab", []testNode{
		linuxNode("n1", "vm1", "192.168.122.2"),
		linuxNode("n2", "vm2", "192.168.122.3"),
	}, nil))

	require.Equal(t, StatusImported, res.Status, res.Message)
	require.NotZero(t, res.TopologyID)
	assert.Contains(t, res.Message, fmt.Sprintf("id: %d", res.TopologyID))

	saved, err := f.topologies.FindByName(ctx, "imported-lab")
	require.NoError(t, err)
	assert.Equal(t, "test sandbox", saved.Description)

	nodes := parseNodes(t, saved.Document)
	require.Len(t, nodes, 2)
	assert.Equal(t, "192.168.122.3", nodes[0].Address())
	assert.Equal(t, "192.168.122.4", nodes[1].Address())
}

func TestImport_DuplicateNameReportsAlreadyExists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := buildDocument("imported-lab", []testNode{
		linuxNode("n1", "vm1", "192.168.122.9"),
	}, nil)

	require.Equal(t, StatusImported, f.orch.Import(ctx, doc).Status)

	res := f.orch.Import(ctx, doc)
	assert.Equal(t, StatusAlreadyExists, res.Status)
	assert.Contains(t, res.Message, "imported-lab")
}

func TestImport_RejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.orch.Import(ctx, "not json")
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Message, "invalid topology document")

	// well-formed but missing the metadata entry
	res = f.orch.Import(ctx, `[{"type": "draw2d.Connection"}]`)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Message, "declares no name")
}
