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
	"github.com/settlab/sett/internal/repository"
)

// ScriptsStore defines the storage interface for script handlers
type ScriptsStore interface {
	Save(ctx context.Context, script domain.Script) (domain.Script, error)
	FindByID(ctx context.Context, id int64) (domain.Script, error)
	FindAll(ctx context.Context) ([]domain.Script, error)
	DeleteByID(ctx context.Context, id int64) error
}

// Scripts groups configuration script handlers for testability
type Scripts struct {
	store ScriptsStore
}

func NewScripts(store ScriptsStore) *Scripts {
	return &Scripts{store: store}
}

type ScriptRequest struct {
	Name        string `json:"name"`
	Script      string `json:"script"`
	Destination string `json:"destination"`
}

type ScriptResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Script      string `json:"script"`
	Destination string `json:"destination"`
}

func (s *Scripts) ListScriptsHandler(w http.ResponseWriter, r *http.Request) {
	scripts, err := s.store.FindAll(r.Context())
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Failed to list scripts"}); err != nil {
			log.Printf("failed to encode error response: %v", err)
		}
		return
	}

	resp := make([]ScriptResponse, len(scripts))
	for i, sc := range scripts {
		resp[i] = ScriptResponse{
			ID:          sc.ID,
			Name:        sc.Name,
			Script:      sc.Script,
			Destination: sc.Destination,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if len(resp) == 0 {
		if _, err := w.Write([]byte("[]\n")); err != nil {
			log.Printf("failed to write empty scripts array: %v", err)
		}
		return
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("failed to encode scripts response: %v", err)
	}
}

func (s *Scripts) CreateScriptHandler(w http.ResponseWriter, r *http.Request) {
	var req ScriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Invalid JSON"}); err != nil {
			log.Printf("failed to encode error response: %v", err)
		}
		return
	}

	if req.Name == "" || req.Script == "" || req.Destination == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Name, Script and Destination are required"}); err != nil {
			log.Printf("failed to encode error response: %v", err)
		}
		return
	}

	created, err := s.store.Save(r.Context(), domain.Script{
		Name:        req.Name,
		Script:      req.Script,
		Destination: req.Destination,
	})
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Failed to create script"}); err != nil {
			log.Printf("failed to encode error response: %v", err)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(scriptResponse(created)); err != nil {
		log.Printf("failed to encode script response: %v", err)
	}
}

func (s *Scripts) GetScriptHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := scriptID(w, r)
	if !ok {
		return
	}

	script, err := s.store.FindByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Script not found"}); err != nil {
				log.Printf("failed to encode error response: %v", err)
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Failed to get script"}); err != nil {
			log.Printf("failed to encode error response: %v", err)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(scriptResponse(script)); err != nil {
		log.Printf("failed to encode script response: %v", err)
	}
}

// UpdateScriptHandler replaces the named fields of a stored script. The
// script must already exist; create goes through POST.
func (s *Scripts) UpdateScriptHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := scriptID(w, r)
	if !ok {
		return
	}

	var req ScriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Invalid JSON"}); err != nil {
			log.Printf("failed to encode error response: %v", err)
		}
		return
	}

	if req.Name == "" || req.Script == "" || req.Destination == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Name, Script and Destination are required"}); err != nil {
			log.Printf("failed to encode error response: %v", err)
		}
		return
	}

	if _, err := s.store.FindByID(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Script not found"}); err != nil {
				log.Printf("failed to encode error response: %v", err)
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Failed to get script"}); err != nil {
			log.Printf("failed to encode error response: %v", err)
		}
		return
	}

	updated, err := s.store.Save(r.Context(), domain.Script{
		ID:          id,
		Name:        req.Name,
		Script:      req.Script,
		Destination: req.Destination,
	})
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Failed to update script"}); err != nil {
			log.Printf("failed to encode error response: %v", err)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(scriptResponse(updated)); err != nil {
		log.Printf("failed to encode script response: %v", err)
	}
}

func (s *Scripts) DeleteScriptHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := scriptID(w, r)
	if !ok {
		return
	}

	if err := s.store.DeleteByID(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Script not found"}); err != nil {
				log.Printf("failed to encode error response: %v", err)
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Failed to delete script"}); err != nil {
			log.Printf("failed to encode error response: %v", err)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func scriptID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "Invalid script ID"}); err != nil {
			log.Printf("failed to encode error response: %v", err)
		}
		return 0, false
	}
	return id, true
}

func scriptResponse(s domain.Script) ScriptResponse {
	return ScriptResponse{
		ID:          s.ID,
		Name:        s.Name,
		Script:      s.Script,
		Destination: s.Destination,
	}
}
