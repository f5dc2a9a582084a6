package server

import (
	"context"
	"encoding/json"
	"errors"
	"evalboard/internal/core"
	"evalboard/internal/service"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// maxRequestBody caps evaluation submissions.
const maxRequestBody = 64 << 10

// Health check response
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Status response
type StatusResponse struct {
	Version string      `json:"version"`
	Uptime  string      `json:"uptime"`
	Store   StoreHealth `json:"store"`
}

// StoreHealth represents persistence connectivity
type StoreHealth struct {
	State            string `json:"state"`
	DurableReachable bool   `json:"durableReachable"`
}

// SubmitEvaluationRequest is the body of POST /api/evaluations
type SubmitEvaluationRequest struct {
	Criteria core.Criteria `json:"criteria"`
	Comments string        `json:"comments"`
}

// DeleteEvaluationResponse is the body of a successful DELETE /api/evaluations/{id}
type DeleteEvaluationResponse struct {
	Message string `json:"message"`
	service.DeleteResult
}

// GenerateReportResponse is the body of POST /api/report/generate
type GenerateReportResponse struct {
	Generated bool         `json:"generated"`
	Report    *core.Report `json:"report"`
}

// Version is reported by /api/status.
var Version = "dev"

var serverStartTime = time.Now()

// handleHealth handles the /health endpoint. The service stays up on the
// fallback store, so an unreachable durable store is reported as degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"durable_store": "ok"}
	status := "ok"
	if err := s.store.Ping(ctx); err != nil {
		checks["durable_store"] = "unreachable"
		status = "degraded"
	}
	checks["store"] = s.store.State()

	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status: status,
		Checks: checks,
	})
}

// handleStatus handles the /api/status endpoint
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	s.respondJSON(w, http.StatusOK, StatusResponse{
		Version: Version,
		Uptime:  time.Since(serverStartTime).Round(time.Second).String(),
		Store: StoreHealth{
			DurableReachable: s.store.Ping(ctx) == nil,
			State:            s.store.State(),
		},
	})
}

// handleSubmitEvaluation handles POST /api/evaluations. It answers as soon as
// the record is stored; enrichment runs in the background.
func (s *Server) handleSubmitEvaluation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req SubmitEvaluationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	eval, err := s.svc.Submit(r.Context(), req.Criteria, req.Comments)
	if err != nil {
		s.respondServiceError(w, "Failed to store evaluation", err)
		return
	}

	s.respondJSON(w, http.StatusCreated, eval)
}

// handleListEvaluations handles GET /api/evaluations
func (s *Server) handleListEvaluations(w http.ResponseWriter, r *http.Request) {
	evals, err := s.svc.List(r.Context())
	if err != nil {
		s.respondServiceError(w, "Failed to list evaluations", err)
		return
	}
	s.respondJSON(w, http.StatusOK, evals)
}

// handleDeleteEvaluation handles DELETE /api/evaluations/{id}
func (s *Server) handleDeleteEvaluation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := s.svc.Delete(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, "Failed to delete evaluation", err)
		return
	}

	s.respondJSON(w, http.StatusOK, DeleteEvaluationResponse{
		Message:      "Evaluation deleted",
		DeleteResult: result,
	})
}

// handleGetReport handles GET /api/report. It only reads.
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Report(r.Context())
	if err != nil {
		s.respondServiceError(w, "Failed to load report", err)
		return
	}
	s.respondJSON(w, http.StatusOK, view)
}

// handleGenerateReport handles POST /api/report/generate
func (s *Server) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.MaybeGenerateReport(r.Context())
	if err != nil {
		s.respondServiceError(w, "Failed to generate report", err)
		return
	}
	s.respondJSON(w, http.StatusOK, GenerateReportResponse{
		Generated: report != nil,
		Report:    report,
	})
}

// respondServiceError maps service errors to HTTP statuses
func (s *Server) respondServiceError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, core.ErrValidation):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "Evaluation not found")
	default:
		s.log.Error(message, "error", err)
		s.respondError(w, http.StatusInternalServerError, message)
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("Failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"status":  status,
			"message": message,
		},
	})
}
