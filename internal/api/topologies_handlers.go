package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/settlab/sett/internal/domain"
	"github.com/settlab/sett/internal/orchestrator"
	"github.com/settlab/sett/internal/repository"
)

// TopologiesStore defines the storage interface for topology handlers
type TopologiesStore interface {
	FindAll(ctx context.Context) ([]domain.Topology, error)
	FindByID(ctx context.Context, id int64) (domain.Topology, error)
	FindByName(ctx context.Context, name string) (domain.Topology, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
}

// Topologies groups topology storage handlers for testability
type Topologies struct {
	store   TopologiesStore
	sandbox SandboxService
}

func NewTopologies(store TopologiesStore, sandbox SandboxService) *Topologies {
	return &Topologies{store: store, sandbox: sandbox}
}

type TopologyResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type TopologyDetailResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Document    string `json:"document"`
}

type ImportTopologyRequest struct {
	Document string `json:"document"`
}

type ExistsTopologyRequest struct {
	TopologyName string `json:"topology_name"`
}

type ExistsTopologyResponse struct {
	Name   string `json:"name"`
	Exists bool   `json:"exists"`
}

func (t *Topologies) ListTopologiesHandler(w http.ResponseWriter, r *http.Request) {
	topologies, err := t.store.FindAll(r.Context())
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Failed to list topologies"}); err != nil {
			log.Printf("failed to encode error response: %v", err)
		}
		return
	}

	resp := make([]TopologyResponse, len(topologies))
	for i, topo := range topologies {
		resp[i] = TopologyResponse{
			ID:          topo.ID,
			Name:        topo.Name,
			Description: topo.Description,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if len(resp) == 0 {
		if _, err := w.Write([]byte("[]\n")); err != nil {
			log.Printf("failed to write empty topologies array: %v", err)
		}
		return
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("failed to encode topologies response: %v", err)
	}
}

func (t *Topologies) GetTopologyHandler(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Invalid topology ID"}); err != nil {
			log.Printf("failed to encode error response: %v", err)
		}
		return
	}

	topo, err := t.store.FindByID(r.Context(), id)
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
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Failed to get topology"}); err != nil {
			log.Printf("failed to encode error response: %v", err)
		}
		return
	}

	writeTopologyDetail(w, topo)
}

func (t *Topologies) GetTopologyByNameHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Topology name is required"}); err != nil {
			log.Printf("failed to encode error response: %v", err)
		}
		return
	}

	topo, err := t.store.FindByName(r.Context(), name)
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
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Failed to get topology"}); err != nil {
			log.Printf("failed to encode error response: %v", err)
		}
		return
	}

	writeTopologyDetail(w, topo)
}

// ImportTopologyHandler handles POST /api/v0/topologies.
//
// Request: JSON body with field "document" holding a topology document. The
// stored name comes from the document's metadata entry and every managed
// node is re-addressed on the way in.
// Response: 201 with the import result, 409 when the name is taken, 400 for
// documents that cannot be imported.
func (t *Topologies) ImportTopologyHandler(w http.ResponseWriter, r *http.Request) {
	var req ImportTopologyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Invalid JSON"}); err != nil {
			log.Printf("failed to encode error response: %v", err)
		}
		return
	}

	if req.Document == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Document is required"}); err != nil {
			log.Printf("failed to encode error response: %v", err)
		}
		return
	}

	result := t.sandbox.Import(r.Context(), req.Document)

	code := http.StatusCreated
	switch result.Status {
	case orchestrator.StatusAlreadyExists:
		code = http.StatusConflict
	case orchestrator.StatusFailed:
		code = http.StatusBadRequest
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		log.Printf("failed to encode import response: %v", err)
	}
}

func (t *Topologies) ExistsTopologyHandler(w http.ResponseWriter, r *http.Request) {
	var req ExistsTopologyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Invalid JSON"}); err != nil {
			log.Printf("failed to encode error response: %v", err)
		}
		return
	}

	if req.TopologyName == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "topology_name is required"}); err != nil {
			log.Printf("failed to encode error response: %v", err)
		}
		return
	}

	exists, err := t.store.ExistsByName(r.Context(), req.TopologyName)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Failed to check topology"}); err != nil {
			log.Printf("failed to encode error response: %v", err)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(ExistsTopologyResponse{Name: req.TopologyName, Exists: exists}); err != nil {
		log.Printf("failed to encode exists response: %v", err)
	}
}

func writeTopologyDetail(w http.ResponseWriter, topo domain.Topology) {
	response := TopologyDetailResponse{
		ID:          topo.ID,
		Name:        topo.Name,
		Description: topo.Description,
		Document:    topo.Document,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("failed to encode topology response: %v", err)
	}
}
