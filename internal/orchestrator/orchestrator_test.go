package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/settlab/sett/internal/allocator"
	"github.com/settlab/sett/internal/console"
	"github.com/settlab/sett/internal/domain"
	"github.com/settlab/sett/internal/hypervisor"
	"github.com/settlab/sett/internal/netutil"
	"github.com/settlab/sett/internal/remote"
	"github.com/settlab/sett/internal/repository"
	"github.com/settlab/sett/internal/testutil"
	"github.com/settlab/sett/internal/topology"
)

// fixture wires an Orchestrator to a real sqlite-backed store and stubbed
// infrastructure.
type fixture struct {
	orch       *Orchestrator
	topologies repository.TopologyRepository
	scripts    repository.ScriptRepository
	driver     *hypervisor.StubDriver
	images     *hypervisor.StubImageStore
	console    *console.StubConsole
	remote     *remote.StubExecutor
	network    *netutil.StubManager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, cleanup := testutil.SetupTestDBWithMigrations(t, t.Name())
	t.Cleanup(cleanup)

	f := &fixture{
		topologies: repository.NewTopologyRepository(db),
		scripts:    repository.NewScriptRepository(db),
		driver:     hypervisor.NewStubDriver(),
		images:     hypervisor.NewStubImageStore(),
		console:    console.NewStubConsole(),
		remote:     remote.NewStubExecutor(),
		network:    netutil.NewStubManager(),
	}
	f.driver.MgmtNetwork = "default"

	f.orch = New(Config{
		Topologies: f.topologies,
		Scripts:    f.scripts,
		Allocator:  allocator.New(f.topologies),
		Driver:     f.driver,
		Images:     f.images,
		Console:    f.console,
		Remote:     f.remote,
		Network:    f.network,
		Definitions: hypervisor.DefinitionOptions{
			MgmtNetwork: "default",
			ImageDir:    "/var/lib/sett/images",
			InstanceDir: "/var/lib/sett/instances",
		},
	})
	f.orch.networkStartBudget = 20 * time.Millisecond
	f.orch.domainStartBudget = 20 * time.Millisecond
	f.orch.pollInterval = time.Millisecond

	return f
}

// testNode describes one managed node for buildDocument
type testNode struct {
	id       string
	label    string
	address  string
	devtype  string
	image    string
	password string
	username string
	parent   string
	scriptID string
	param    string
}

func linuxNode(id, label, address string) testNode {
	return testNode{
		id:       id,
		label:    label,
		address:  address,
		devtype:  "linux",
		image:    "ubuntu-server",
		password: "secret",
	}
}

// buildDocument assembles a topology document in the diagram editor's format
func buildDocument(name string, nodes []testNode, conns [][2]string) string {
	entries := []map[string]any{
		{"type": "wistar.info", "name": name, "description": "test sandbox"},
	}
	for _, n := range nodes {
		ud := map[string]any{
			"wistarVm": true,
			"label":    n.label,
			"name":     n.label,
			"ip":       n.address,
			"type":     n.devtype,
			"image":    n.image,
			"password": n.password,
		}
		if n.username != "" {
			ud["username"] = n.username
		}
		if n.parent != "" {
			ud["parentName"] = n.parent
		}
		if n.scriptID != "" {
			ud["configScriptId"] = n.scriptID
			ud["configScriptParam"] = n.param
		}
		entries = append(entries, map[string]any{
			"type":     "draw2d.shape.node.Node",
			"id":       n.id,
			"userData": ud,
		})
	}
	for _, c := range conns {
		entries = append(entries, map[string]any{
			"type":   "draw2d.Connection",
			"source": map[string]any{"node": c[0]},
			"target": map[string]any{"node": c[1]},
		})
	}

	b, err := json.Marshal(entries)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func (f *fixture) saveTopology(t *testing.T, name, document string) domain.Topology {
	t.Helper()
	saved, err := f.topologies.Save(context.Background(), domain.Topology{
		Name:     name,
		Document: document,
	})
	require.NoError(t, err)
	return saved
}

// saveAndDeploy stores a document and deploys it, failing the test unless
// the deploy fully succeeds.
func (f *fixture) saveAndDeploy(t *testing.T, name, document string) domain.Topology {
	t.Helper()
	saved := f.saveTopology(t, name, document)
	res := f.orch.Deploy(context.Background(), saved)
	require.Equal(t, StatusInstantiated, res.Status, "deploy failed: %s", res.Message)
	return saved
}

// parseNodes returns the managed nodes of a stored topology document
func parseNodes(t *testing.T, document string) []*topology.Node {
	t.Helper()
	doc, err := topology.Parse(document)
	require.NoError(t, err)
	return doc.Nodes()
}

// hogDocument produces a document whose nodes occupy every host octet in
// [from, to], for exhausting the address pool.
func hogDocument(name string, from, to int) string {
	var nodes []testNode
	for octet := from; octet <= to; octet++ {
		nodes = append(nodes, linuxNode(
			fmt.Sprintf("hog%d", octet),
			fmt.Sprintf("hog%d", octet),
			fmt.Sprintf("192.168.122.%d", octet),
		))
	}
	return buildDocument(name, nodes, nil)
}
