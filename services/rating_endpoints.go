package services

import (
	"log/slog"
	"net/http"

	"github.com/3than777/Elocutionist-sub004/models"
	"github.com/go-chi/chi/v5"
)

type RatingEndpoints struct {
	ratings *RatingService
	sweeper *ExpirySweeper
}

func NewRatingEndpoints(ratings *RatingService, sweeper *ExpirySweeper) *RatingEndpoints {
	return &RatingEndpoints{
		ratings: ratings,
		sweeper: sweeper,
	}
}

type CreateRatingRequest struct {
	Messages         []models.RatingMessage  `json:"messages"`
	InterviewContext models.InterviewContext `json:"interview_context"`
}

func (e *RatingEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/ratings", func(r chi.Router) {
		r.Post("/", e.CreateRatingHandler)
		r.Get("/{id}", e.GetRatingHandler)
		r.Post("/{id}/generate", e.GenerateRatingHandler)
	})
}

// RegisterAdminRoutes mounts the operator endpoints. The caller is expected
// to wrap them in RequireAdmin.
func (e *RatingEndpoints) RegisterAdminRoutes(r chi.Router) {
	r.Post("/admin/sweep", e.SweepHandler)
}

func (e *RatingEndpoints) CreateRatingHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req CreateRatingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rating, err := e.ratings.Create(r.Context(), userID, req.Messages, req.InterviewContext)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, rating)
}

func (e *RatingEndpoints) GetRatingHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	rating, err := e.ratings.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rating)
}

func (e *RatingEndpoints) GenerateRatingHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	rating, err := e.ratings.GenerateRating(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rating)
}

func (e *RatingEndpoints) SweepHandler(w http.ResponseWriter, r *http.Request) {
	result, err := e.sweeper.Sweep(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	slog.Info("Manual sweep finished", "ratings_deleted", result.RatingsDeleted, "sessions_concluded", result.SessionsConcluded)
	writeJSON(w, http.StatusOK, result)
}
