package services

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/3than777/Elocutionist-sub004/apperr"
	"github.com/3than777/Elocutionist-sub004/models"
	"github.com/go-chi/chi/v5"
)

type ArtifactEndpoints struct {
	artifacts *ArtifactService
	maxSize   int64
}

func NewArtifactEndpoints(artifacts *ArtifactService, maxSize int64) *ArtifactEndpoints {
	return &ArtifactEndpoints{
		artifacts: artifacts,
		maxSize:   maxSize,
	}
}

type GetArtifactsResponse struct {
	Artifacts  []models.Artifact `json:"artifacts"`
	Count      int               `json:"count"`
	Processing int64             `json:"processing"`
}

func (e *ArtifactEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/artifacts", func(r chi.Router) {
		r.Post("/", e.UploadHandler)
		r.Get("/", e.ListHandler)
		r.Get("/{id}", e.GetHandler)
		r.Post("/{id}/retry", e.RetryHandler)
		r.Delete("/{id}", e.DeleteHandler)
	})
}

// UploadHandler takes a multipart form with a "file" part.
func (e *ArtifactEndpoints) UploadHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, e.maxSize+(1<<20))
	file, header, err := r.FormFile("file")
	if err != nil {
		slog.Warn("Invalid upload", "error", err, "user_id", userID)
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidInput, "a file is required in the \"file\" field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, e.maxSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidInput, "failed to read uploaded file")
		return
	}

	artifact, err := e.artifacts.Upload(r.Context(), userID, header.Filename, data)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, artifact)
}

func (e *ArtifactEndpoints) ListHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	artifacts, err := e.artifacts.List(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	processing, err := e.artifacts.CountInStatus(r.Context(), userID, models.StatusProcessing)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, GetArtifactsResponse{Artifacts: artifacts, Count: len(artifacts), Processing: processing})
}

func (e *ArtifactEndpoints) GetHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	artifact, err := e.artifacts.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, artifact)
}

func (e *ArtifactEndpoints) RetryHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	artifact, err := e.artifacts.Retry(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, artifact)
}

func (e *ArtifactEndpoints) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	if err := e.artifacts.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeAppError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
