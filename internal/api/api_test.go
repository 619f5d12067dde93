package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/armon/go-metrics"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settlab/sett/internal/allocator"
	"github.com/settlab/sett/internal/console"
	"github.com/settlab/sett/internal/hypervisor"
	"github.com/settlab/sett/internal/netutil"
	"github.com/settlab/sett/internal/orchestrator"
	"github.com/settlab/sett/internal/remote"
	"github.com/settlab/sett/internal/repository"
	"github.com/settlab/sett/internal/testutil"
)

// testAPI serves the full route tree over a real sqlite store and a real
// orchestrator backed by stubbed infrastructure.
type testAPI struct {
	router  *chi.Mux
	driver  *hypervisor.StubDriver
	console *console.StubConsole
	remote  *remote.StubExecutor
	network *netutil.StubManager
	images  *hypervisor.StubImageStore
	sink    *metrics.InmemSink
}

func setupTestAPI(t *testing.T) *testAPI {
	t.Helper()

	db, cleanup := testutil.SetupTestDBWithMigrations(t, t.Name())
	t.Cleanup(cleanup)

	topologies := repository.NewTopologyRepository(db)
	scripts := repository.NewScriptRepository(db)

	a := &testAPI{
		driver:  hypervisor.NewStubDriver(),
		console: console.NewStubConsole(),
		remote:  remote.NewStubExecutor(),
		network: netutil.NewStubManager(),
		images:  hypervisor.NewStubImageStore(),
		sink:    metrics.NewInmemSink(10*time.Second, time.Minute),
	}
	a.driver.MgmtNetwork = "default"

	orch := orchestrator.New(orchestrator.Config{
		Topologies: topologies,
		Scripts:    scripts,
		Allocator:  allocator.New(topologies),
		Driver:     a.driver,
		Images:     a.images,
		Console:    a.console,
		Remote:     a.remote,
		Network:    a.network,
		Definitions: hypervisor.DefinitionOptions{
			MgmtNetwork: "default",
			ImageDir:    "/var/lib/sett/images",
			InstanceDir: "/var/lib/sett/instances",
		},
	})

	a.router = chi.NewRouter()
	NewAPI(topologies, scripts, orch, a.sink).RegisterRoutes(a.router)

	return a
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

// sandboxDocument builds a single node topology document in the diagram
// editor's format.
func sandboxDocument(name, label, address string) string {
	entries := []map[string]any{
		{"type": "wistar.info", "name": name, "description": "api test sandbox"},
		{
			"type": "draw2d.shape.node.Node",
			"id":   "n1",
			"userData": map[string]any{
				"wistarVm": true,
				"label":    label,
				"name":     label,
				"ip":       address,
				"type":     "linux",
				"image":    "ubuntu-server",
				"password": "secret",
			},
		},
	}
	b, err := json.Marshal(entries)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func TestHealthz(t *testing.T) {
	a := setupTestAPI(t)

	w := a.do(t, "GET", "/healthz", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sett service is running\n", w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	a := setupTestAPI(t)

	// An untouched sink has no interval to display yet
	w := a.do(t, "GET", "/debug/metrics", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	a.sink.IncrCounter([]string{"settd", "deploy"}, 1)

	w = a.do(t, "GET", "/debug/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var summary map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Contains(t, summary, "Counters")
}

func TestImportTopology_RoundTrip(t *testing.T) {
	a := setupTestAPI(t)

	w := a.do(t, "POST", "/api/v0/topologies", ImportTopologyRequest{
		Document: sandboxDocument("lab1", "vm1", "192.168.122.9"),
	})
	require.Equal(t, http.StatusCreated, w.Code, "import failed: %s", w.Body.String())

	var result orchestrator.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, orchestrator.StatusImported, result.Status)
	require.NotZero(t, result.TopologyID)

	w = a.do(t, "GET", fmt.Sprintf("/api/v0/topologies/%d", result.TopologyID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var detail TopologyDetailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, "lab1", detail.Name)
	// Import hands the node a fresh management address
	assert.Contains(t, detail.Document, "192.168.122.2")
	assert.NotContains(t, detail.Document, "192.168.122.9")

	w = a.do(t, "GET", "/api/v0/topologies/name/lab1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, "POST", "/api/v0/topologies/exists", ExistsTopologyRequest{TopologyName: "lab1"})
	require.Equal(t, http.StatusOK, w.Code)
	var exists ExistsTopologyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &exists))
	assert.True(t, exists.Exists)

	w = a.do(t, "GET", "/api/v0/topologies", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []TopologyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestImportTopology_Duplicate(t *testing.T) {
	a := setupTestAPI(t)

	document := sandboxDocument("lab one", "vm1", "192.168.122.9")

	w := a.do(t, "POST", "/api/v0/topologies", ImportTopologyRequest{Document: document})
	require.Equal(t, http.StatusCreated, w.Code)

	w = a.do(t, "POST", "/api/v0/topologies", ImportTopologyRequest{Document: document})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestImportTopology_Unparseable(t *testing.T) {
	a := setupTestAPI(t)

	w := a.do(t, "POST", "/api/v0/topologies", ImportTopologyRequest{Document: "not a document"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTopology_NotFound(t *testing.T) {
	a := setupTestAPI(t)

	w := a.do(t, "GET", "/api/v0/topologies/99999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetTopology_InvalidID(t *testing.T) {
	a := setupTestAPI(t)

	w := a.do(t, "GET", "/api/v0/topologies/invalid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartSimple_UnknownTopology(t *testing.T) {
	a := setupTestAPI(t)

	w := a.do(t, "POST", "/api/v0/sandbox/start-simple", sandboxRequest{TopologyName: "nope"})
	require.Equal(t, http.StatusOK, w.Code)

	var result orchestrator.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, orchestrator.StatusFailed, result.Status)
	assert.Contains(t, result.Message, "does not exist")
}

// TestSandboxLifecycle_OverHTTP drives a sandbox through its whole life with
// nothing but API calls: import a topology, clone and start a sandbox off
// it, poll status, configure the nodes and tear everything back down.
func TestSandboxLifecycle_OverHTTP(t *testing.T) {
	a := setupTestAPI(t)

	w := a.do(t, "POST", "/api/v0/topologies", ImportTopologyRequest{
		Document: sandboxDocument("lab one", "vm1", "192.168.122.9"),
	})
	require.Equal(t, http.StatusCreated, w.Code, "import failed: %s", w.Body.String())

	var imported orchestrator.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &imported))

	w = a.do(t, "POST", "/api/v0/sandbox/start", sandboxRequest{
		TopologyName: "sandbox one",
		CloneID:      fmt.Sprintf("%d", imported.TopologyID),
	})
	require.Equal(t, http.StatusOK, w.Code)

	var started orchestrator.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	require.Equal(t, orchestrator.StatusInstantiated, started.Status, "start failed: %s", started.Message)

	w = a.do(t, "POST", "/api/v0/sandbox/status", sandboxRequest{TopologyName: "sandbox one"})
	require.Equal(t, http.StatusOK, w.Code)

	var status orchestrator.StatusResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, orchestrator.GateReady, status.Overall, "status: %+v", status)
	assert.Equal(t, "Sandbox is fully booted and available", status.Message)

	w = a.do(t, "POST", "/api/v0/sandbox/inventory", sandboxRequest{TopologyName: "sandbox one"})
	require.Equal(t, http.StatusOK, w.Code)

	var hosts map[string]orchestrator.Host
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hosts))
	require.Contains(t, hosts, "vm1")
	// The clone picked the next free host octet after the imported topology
	assert.Equal(t, "192.168.122.3", hosts["vm1"].Address)
	assert.Equal(t, "root", hosts["vm1"].User)

	w = a.do(t, "POST", "/api/v0/sandbox/configure", sandboxRequest{TopologyName: "sandbox one"})
	require.Equal(t, http.StatusOK, w.Code)

	var configured orchestrator.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &configured))
	assert.Equal(t, orchestrator.StatusConfigured, configured.Status, "configure failed: %s", configured.Message)

	w = a.do(t, "POST", "/api/v0/sandbox/teardown", sandboxRequest{TopologyName: "sandbox one"})
	require.Equal(t, http.StatusOK, w.Code)

	var deleted orchestrator.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &deleted))
	assert.Equal(t, orchestrator.StatusDeleted, deleted.Status, "teardown failed: %s", deleted.Message)

	w = a.do(t, "POST", "/api/v0/topologies/exists", ExistsTopologyRequest{TopologyName: "sandbox one"})
	require.Equal(t, http.StatusOK, w.Code)
	var exists ExistsTopologyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &exists))
	assert.False(t, exists.Exists)

	// The imported source topology is untouched
	w = a.do(t, "POST", "/api/v0/topologies/exists", ExistsTopologyRequest{TopologyName: "lab one"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &exists))
	assert.True(t, exists.Exists)
}
