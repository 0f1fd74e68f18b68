package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/apittopti/diagflow/internal/processor"
)

type traceFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type jobRequest struct {
	Name       string      `json:"name"`
	VehicleID  string      `json:"vehicleId"`
	TraceFiles []traceFile `json:"traceFiles"`
}

type jobResponse struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Status             string `json:"status"`
	Lines              int    `json:"lines"`
	MessageCount       int    `json:"messageCount"`
	ECUCount           int    `json:"ecuCount"`
	DefinitionsCreated int    `json:"definitionsCreated"`
}

// createJob ingests one or more trace files for a vehicle and runs the
// pipeline synchronously.
func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.VehicleID == "" {
		writeError(w, http.StatusBadRequest, "vehicleId is required")
		return
	}

	var parts []string
	for _, f := range req.TraceFiles {
		if f.Content != "" {
			parts = append(parts, f.Content)
		}
	}
	if len(parts) == 0 {
		writeError(w, http.StatusBadRequest, "at least one trace file with content is required")
		return
	}

	name := req.Name
	if name == "" && len(req.TraceFiles) > 0 {
		name = req.TraceFiles[0].Name
	}

	res, err := s.proc.Process(r.Context(), processor.Request{
		VehicleID: req.VehicleID,
		Name:      name,
		Trace:     strings.Join(parts, "\n"),
	})
	if err != nil {
		s.logger.Error("job ingest failed", "vehicle_id", req.VehicleID, "error", err)
		writeError(w, http.StatusInternalServerError, "ingest failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, jobResponse{
		ID:                 jobIDString(res.JobID),
		Name:               name,
		Status:             "completed",
		Lines:              res.Lines,
		MessageCount:       res.Messages,
		ECUCount:           res.ECUs,
		DefinitionsCreated: res.Inserted,
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	if s.cur == nil {
		writeError(w, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := s.cur.GetJob(r.Context(), id)
	if err != nil {
		s.logger.Error("job lookup failed", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "job lookup failed")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	if s.cur == nil {
		writeError(w, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	jobs, err := s.cur.RecentJobs(r.Context(), limit)
	if err != nil {
		s.logger.Error("job listing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "job listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func jobIDString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
