package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/apittopti/diagflow/internal/knowledge"
	"github.com/apittopti/diagflow/internal/store"
)

// listDefinitions returns every definition of one kind within a level/scope.
func (s *Server) listDefinitions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	level := knowledge.Level(q.Get("level"))
	scope := q.Get("scope")
	kind := knowledge.Kind(q.Get("kind"))
	if level == "" || scope == "" || kind == "" {
		writeError(w, http.StatusBadRequest, "level, scope and kind are required")
		return
	}

	defs, err := s.defs.FindMany(r.Context(), level, scope, kind)
	if err != nil {
		s.logger.Error("definition listing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "definition listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"definitions": defs, "count": len(defs)})
}

// resolveDefinition picks the most specific definition for an identifier
// under the caller's vehicle context.
func (s *Server) resolveDefinition(w http.ResponseWriter, r *http.Request) {
	kind, identifier, rc, ok := s.resolutionQuery(w, r)
	if !ok {
		return
	}

	def, err := s.resolver.Resolve(r.Context(), kind, identifier, rc)
	if err != nil {
		s.logger.Error("resolution failed", "kind", kind, "identifier", identifier, "error", err)
		writeError(w, http.StatusInternalServerError, "resolution failed")
		return
	}
	if def == nil {
		writeError(w, http.StatusNotFound, "no definition found")
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// definitionChain explains a resolution: every consulted level's best match
// with the winning one flagged active.
func (s *Server) definitionChain(w http.ResponseWriter, r *http.Request) {
	kind, identifier, rc, ok := s.resolutionQuery(w, r)
	if !ok {
		return
	}

	chain, err := s.resolver.InheritanceChain(r.Context(), kind, identifier, rc)
	if err != nil {
		s.logger.Error("chain lookup failed", "kind", kind, "identifier", identifier, "error", err)
		writeError(w, http.StatusInternalServerError, "chain lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chain": chain, "context": rc})
}

// resolutionQuery parses the shared resolve/chain parameters and builds the
// vehicle context, consulting the hierarchy when one is available.
func (s *Server) resolutionQuery(w http.ResponseWriter, r *http.Request) (knowledge.Kind, string, knowledge.Context, bool) {
	q := r.URL.Query()
	kind := knowledge.Kind(q.Get("kind"))
	identifier := q.Get("identifier")
	if kind == "" || identifier == "" {
		writeError(w, http.StatusBadRequest, "kind and identifier are required")
		return "", "", knowledge.Context{}, false
	}

	vehicleID := q.Get("vehicleId")
	rc := knowledge.Context{VehicleID: vehicleID}
	if vehicleID != "" && s.cur != nil {
		full, err := s.cur.VehicleContext(r.Context(), vehicleID)
		if err != nil {
			s.logger.Error("vehicle context lookup failed", "vehicle_id", vehicleID, "error", err)
			writeError(w, http.StatusInternalServerError, "vehicle context lookup failed")
			return "", "", knowledge.Context{}, false
		}
		rc = full
	}
	rc.ECUAddress = q.Get("ecu")

	return kind, identifier, rc, true
}

func (s *Server) getDefinition(w http.ResponseWriter, r *http.Request) {
	if s.cur == nil {
		writeError(w, http.StatusServiceUnavailable, "definition store unavailable")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid definition id")
		return
	}

	def, err := s.cur.GetDefinition(r.Context(), id)
	if err != nil {
		s.logger.Error("definition lookup failed", "definition_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "definition lookup failed")
		return
	}
	if def == nil {
		writeError(w, http.StatusNotFound, "definition not found")
		return
	}
	writeJSON(w, http.StatusOK, def)
}

type verifyRequest struct {
	Verified *bool `json:"verified"`
}

// verifyDefinition marks a definition as human-verified. The mark feeds
// resolution ranking; it never rewrites discovery output.
func (s *Server) verifyDefinition(w http.ResponseWriter, r *http.Request) {
	if s.cur == nil {
		writeError(w, http.StatusServiceUnavailable, "definition store unavailable")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid definition id")
		return
	}

	verified := true
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Verified != nil {
		verified = *req.Verified
	}

	if err := s.cur.SetVerified(r.Context(), id, verified); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "definition not found")
			return
		}
		s.logger.Error("verify failed", "definition_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "verify failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id.String(), "isVerified": verified})
}

type reviseRequest struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
	Source  string          `json:"source"`
}

// reviseDefinition writes a curated edit as a new version; the original row
// is preserved.
func (s *Server) reviseDefinition(w http.ResponseWriter, r *http.Request) {
	if s.cur == nil {
		writeError(w, http.StatusServiceUnavailable, "definition store unavailable")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid definition id")
		return
	}

	var req reviseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Name == "" && len(req.Payload) == 0 {
		writeError(w, http.StatusBadRequest, "nothing to revise")
		return
	}

	source := req.Source
	if source == "" {
		source = "curation"
	}

	rev, err := s.cur.InsertRevision(r.Context(), id, req.Name, req.Payload, source)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "definition not found")
			return
		}
		s.logger.Error("revision failed", "definition_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "revision failed")
		return
	}
	writeJSON(w, http.StatusCreated, rev)
}
