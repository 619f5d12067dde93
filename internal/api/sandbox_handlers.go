package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/settlab/sett/internal/repository"
)

// Sandboxes groups sandbox lifecycle handlers for testability
type Sandboxes struct {
	service SandboxService
}

func NewSandboxes(service SandboxService) *Sandboxes {
	return &Sandboxes{service: service}
}

// sandboxRequest is the shared request body of the lifecycle endpoints. Only
// topology_name is always required; the remaining fields matter to start
// (clone_id) and configure (script_id, script_param).
type sandboxRequest struct {
	TopologyName string `json:"topology_name"`
	CloneID      string `json:"clone_id,omitempty"`
	ScriptID     string `json:"script_id,omitempty"`
	ScriptParam  string `json:"script_param,omitempty"`
}

func decodeSandboxRequest(w http.ResponseWriter, r *http.Request) (sandboxRequest, bool) {
	var req sandboxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Invalid JSON"}); err != nil {
			log.Printf("failed to encode error response: %v", err)
		}
		return sandboxRequest{}, false
	}

	if req.TopologyName == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "topology_name is required"}); err != nil {
			log.Printf("failed to encode error response: %v", err)
		}
		return sandboxRequest{}, false
	}

	return req, true
}

// StartHandler handles POST /api/v0/sandbox/start.
//
// When no sandbox with topology_name exists yet, clone_id names the stored
// topology to clone it from and script_id / script_param ride along as the
// clone's node configuration binding. The result body carries the lifecycle
// status; the HTTP code stays 200 so callers distinguish outcomes by status.
func (s *Sandboxes) StartHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSandboxRequest(w, r)
	if !ok {
		return
	}

	if req.CloneID == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "clone_id is required"}); err != nil {
			log.Printf("failed to encode error response: %v", err)
		}
		return
	}

	cloneID, err := strconv.ParseInt(req.CloneID, 10, 64)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Invalid clone_id"}); err != nil {
			log.Printf("failed to encode error response: %v", err)
		}
		return
	}

	result := s.service.StartOrClone(r.Context(), req.TopologyName, cloneID, req.ScriptID, req.ScriptParam)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		log.Printf("failed to encode start response: %v", err)
	}
}

// StartSimpleHandler handles POST /api/v0/sandbox/start-simple. It deploys an
// already stored topology by name and never clones.
func (s *Sandboxes) StartSimpleHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSandboxRequest(w, r)
	if !ok {
		return
	}

	result := s.service.Start(r.Context(), req.TopologyName)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		log.Printf("failed to encode start response: %v", err)
	}
}

func (s *Sandboxes) StatusHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSandboxRequest(w, r)
	if !ok {
		return
	}

	result := s.service.Status(r.Context(), req.TopologyName)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		log.Printf("failed to encode status response: %v", err)
	}
}

func (s *Sandboxes) ConfigureHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSandboxRequest(w, r)
	if !ok {
		return
	}

	result := s.service.Configure(r.Context(), req.TopologyName, req.ScriptID, req.ScriptParam)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		log.Printf("failed to encode configure response: %v", err)
	}
}

func (s *Sandboxes) TeardownHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSandboxRequest(w, r)
	if !ok {
		return
	}

	result := s.service.Teardown(r.Context(), req.TopologyName)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		log.Printf("failed to encode teardown response: %v", err)
	}
}

// InventoryHandler handles POST /api/v0/sandbox/inventory and returns the
// node name to management address map for the named sandbox.
func (s *Sandboxes) InventoryHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSandboxRequest(w, r)
	if !ok {
		return
	}

	hosts, err := s.service.Inventory(r.Context(), req.TopologyName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Topology not found"}); err != nil {
				log.Printf("failed to encode error response: %v", err)
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Failed to build inventory"}); err != nil {
			log.Printf("failed to encode error response: %v", err)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(hosts); err != nil {
		log.Printf("failed to encode inventory response: %v", err)
	}
}
