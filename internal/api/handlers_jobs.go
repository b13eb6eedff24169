package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/insta-extractor/internal/service"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// handleCreateJob handles POST /api/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var input service.CreateJobInput
	if err := parseJSONBody(w, r, &input); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if input.UserID == "" {
		input.UserID = r.Header.Get("X-User-ID")
	}

	result, err := s.jobService.CreateJob(r.Context(), &input)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, result)
}

// handleGetJob handles GET /api/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	view, err := s.jobService.GetStatus(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

// handleExportJob handles GET /api/jobs/{id}/export
func (s *Server) handleExportJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	export, err := s.exportService.ExportJob(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(export.Data)))
	w.Header().Set("X-Row-Count", strconv.Itoa(export.Rows))
	w.WriteHeader(http.StatusOK)
	w.Write(export.Data)
}

// handleGetCoins handles GET /api/users/{id}/coins
func (s *Server) handleGetCoins(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	balance, err := s.jobService.GetBalance(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, balance)
}

// handleListJobs handles GET /api/users/{id}/jobs?limit=N
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be a non-negative integer", nil)
			return
		}
		limit = n
	}

	jobs, err := s.jobService.ListJobs(r.Context(), userID, limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"jobs":    jobs,
	})
}
