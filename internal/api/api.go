package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/armon/go-metrics"
	"github.com/go-chi/chi/v5"

	"github.com/settlab/sett/internal/orchestrator"
	"github.com/settlab/sett/internal/repository"
)

// SandboxService drives the sandbox lifecycle for the handlers in this
// package. The orchestrator implements it; tests substitute their own.
type SandboxService interface {
	Import(ctx context.Context, document string) orchestrator.Result
	Start(ctx context.Context, name string) orchestrator.Result
	StartOrClone(ctx context.Context, name string, cloneID int64, scriptID, scriptParam string) orchestrator.Result
	Status(ctx context.Context, name string) orchestrator.StatusResult
	Configure(ctx context.Context, name, scriptID, scriptParam string) orchestrator.Result
	Teardown(ctx context.Context, name string) orchestrator.Result
	Inventory(ctx context.Context, name string) (map[string]orchestrator.Host, error)
}

// ErrorResponse is the JSON body of every non-200 validation or lookup error
type ErrorResponse struct {
	Error string `json:"error"`
}

// API holds the dependencies of the HTTP surface
type API struct {
	topologies repository.TopologyRepository
	scripts    repository.ScriptRepository
	sandbox    SandboxService
	metrics    *metrics.InmemSink
}

// NewAPI creates a new API instance
func NewAPI(topologies repository.TopologyRepository, scripts repository.ScriptRepository, sandbox SandboxService, sink *metrics.InmemSink) *API {
	return &API{
		topologies: topologies,
		scripts:    scripts,
		sandbox:    sandbox,
		metrics:    sink,
	}
}

// RegisterRoutes registers all API endpoints to the given chi router.
func (a *API) RegisterRoutes(r chi.Router) {

	// Topology storage endpoints group
	topologies := NewTopologies(a.topologies, a.sandbox)
	r.Route("/api/v0/topologies", func(r chi.Router) {
		r.Get("/", topologies.ListTopologiesHandler)
		r.Post("/", topologies.ImportTopologyHandler)
		r.Get("/{id}", topologies.GetTopologyHandler)
		r.Get("/name/{name}", topologies.GetTopologyByNameHandler)
		r.Post("/exists", topologies.ExistsTopologyHandler)
	})

	// Sandbox lifecycle endpoints group
	sandboxes := NewSandboxes(a.sandbox)
	r.Route("/api/v0/sandbox", func(r chi.Router) {
		r.Post("/start", sandboxes.StartHandler)
		r.Post("/start-simple", sandboxes.StartSimpleHandler)
		r.Post("/status", sandboxes.StatusHandler)
		r.Post("/configure", sandboxes.ConfigureHandler)
		r.Post("/teardown", sandboxes.TeardownHandler)
		r.Post("/inventory", sandboxes.InventoryHandler)
	})

	// Configuration script endpoints group
	scripts := NewScripts(a.scripts)
	r.Route("/api/v0/scripts", func(r chi.Router) {
		r.Get("/", scripts.ListScriptsHandler)
		r.Post("/", scripts.CreateScriptHandler)
		r.Get("/{id}", scripts.GetScriptHandler)
		r.Put("/{id}", scripts.UpdateScriptHandler)
		r.Delete("/{id}", scripts.DeleteScriptHandler)
	})

	r.Get("/healthz", a.healthHandler)
	r.Get("/debug/metrics", a.metricsHandler)
}

func (a *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if _, err := fmt.Fprintln(w, "sett service is running"); err != nil {
		log.Printf("failed to write health response: %v", err)
	}
}

// metricsHandler dumps the in-memory metrics sink as JSON
func (a *API) metricsHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := a.metrics.DisplayMetrics(w, r)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Failed to collect metrics"}); err != nil {
			log.Printf("failed to encode error response: %v", err)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		log.Printf("failed to encode metrics response: %v", err)
	}
}
