package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/insta-extractor/internal/errors"
	"github.com/insta-extractor/internal/logging"
	"github.com/insta-extractor/internal/models"
	"github.com/insta-extractor/internal/pipeline"
)

const signatureHeader = "x-supabase-signature"

// ChunkWebhookPayload is a database-change event carrying the job row
type ChunkWebhookPayload struct {
	Type   string                `json:"type"`
	Table  string                `json:"table"`
	Record *models.ExtractionJob `json:"record"`
}

func (s *Server) validSignature(r *http.Request) bool {
	secret := s.config.WebhookSecret
	got := r.Header.Get(signatureHeader)
	if secret == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}

// handleExtractionChunk advances the job in the payload by one upstream page
func (s *Server) handleExtractionChunk(w http.ResponseWriter, r *http.Request) {
	if !s.validSignature(r) {
		respondError(w, http.StatusUnauthorized, apperrors.CodeUnauthorized, "Invalid webhook signature", nil)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Failed to read body", nil)
		return
	}
	defer r.Body.Close()

	var payload ChunkWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid JSON", nil)
		return
	}
	if payload.Record == nil || payload.Record.ID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "record with an id is required", nil)
		return
	}

	log := logging.FromContext(r.Context()).WithFields(map[string]interface{}{
		"job_id":     payload.Record.ID,
		"page_count": payload.Record.PageCount,
	})

	// the caller hanging up must not abort a page half-way through
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.config.ChunkTimeout)
	defer cancel()

	outcome, err := s.chunks.ProcessChunk(ctx, payload.Record)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, outcome)
	case errors.Is(err, pipeline.ErrChunkConflict), apperrors.HasCode(err, apperrors.CodeConflict):
		log.WithError(err).Info("chunk skipped")
		respondError(w, http.StatusConflict, apperrors.CodeConflict, err.Error(), nil)
	default:
		log.WithError(err).Error("chunk processing failed")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), nil)
	}
}
