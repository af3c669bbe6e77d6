package services

import (
	"io"
	"net/http"

	"github.com/3than777/Elocutionist-sub004/apperr"
	"github.com/3than777/Elocutionist-sub004/models"
	"github.com/go-chi/chi/v5"
)

const maxAudioSize = 25 << 20

type InterviewEndpoints struct {
	interviews *InterviewService
	recordings *RecordingService
}

func NewInterviewEndpoints(interviews *InterviewService, recordings *RecordingService) *InterviewEndpoints {
	return &InterviewEndpoints{
		interviews: interviews,
		recordings: recordings,
	}
}

// InterviewView adds the derived expiry flag to an interview.
type InterviewView struct {
	*models.Interview
	Expired bool `json:"expired"`
}

type GetInterviewsResponse struct {
	Interviews []InterviewView `json:"interviews"`
	Count      int             `json:"count"`
}

type CompleteInterviewRequest struct {
	Score *int `json:"score,omitempty"`
}

type CancelInterviewRequest struct {
	Reason string `json:"reason,omitempty"`
}

type AddEntryRequest struct {
	Speaker        models.Speaker `json:"speaker"`
	Text           string         `json:"text"`
	Confidence     *float64       `json:"confidence,omitempty"`
	DurationMillis *int64         `json:"duration_millis,omitempty"`
}

type FailAnalysisRequest struct {
	Message string `json:"message"`
}

type GetRecordingsResponse struct {
	Recordings []models.SessionRecording `json:"recordings"`
	Count      int                       `json:"count"`
}

func (e *InterviewEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/interviews", func(r chi.Router) {
		r.Post("/", e.CreateInterviewHandler)
		r.Get("/", e.GetInterviewsHandler)
		r.Get("/{id}", e.GetInterviewHandler)
		r.Post("/{id}/start", e.StartInterviewHandler)
		r.Post("/{id}/complete", e.CompleteInterviewHandler)
		r.Post("/{id}/cancel", e.CancelInterviewHandler)

		r.Route("/{id}/recording", func(r chi.Router) {
			r.Get("/", e.GetRecordingHandler)
			r.Post("/entries", e.AddEntryHandler)
			r.Post("/audio", e.AddAudioHandler)
			r.Post("/transcript/complete", e.CompleteTranscriptHandler)
			r.Put("/analysis", e.SetAnalysisHandler)
			r.Post("/analysis/failure", e.FailAnalysisHandler)
			r.Post("/feedback", e.GenerateFeedbackHandler)
			r.Post("/end", e.EndSessionHandler)
		})
	})

	r.Get("/recordings/active", e.GetActiveRecordingsHandler)
}

func (e *InterviewEndpoints) view(interview *models.Interview) InterviewView {
	return InterviewView{Interview: interview, Expired: e.interviews.IsExpired(interview)}
}

func (e *InterviewEndpoints) CreateInterviewHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req NewInterview
	if !decodeJSON(w, r, &req) {
		return
	}

	interview, err := e.interviews.Create(r.Context(), userID, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, e.view(interview))
}

func (e *InterviewEndpoints) GetInterviewsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	interviews, err := e.interviews.List(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	views := make([]InterviewView, 0, len(interviews))
	for i := range interviews {
		views = append(views, e.view(&interviews[i]))
	}
	writeJSON(w, http.StatusOK, GetInterviewsResponse{Interviews: views, Count: len(views)})
}

func (e *InterviewEndpoints) GetInterviewHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	interview, err := e.interviews.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, e.view(interview))
}

func (e *InterviewEndpoints) StartInterviewHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	interview, err := e.interviews.Start(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, e.view(interview))
}

func (e *InterviewEndpoints) CompleteInterviewHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req CompleteInterviewRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	interview, err := e.interviews.Complete(r.Context(), userID, chi.URLParam(r, "id"), req.Score)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, e.view(interview))
}

func (e *InterviewEndpoints) CancelInterviewHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req CancelInterviewRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	interview, err := e.interviews.Cancel(r.Context(), userID, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, e.view(interview))
}

func (e *InterviewEndpoints) GetRecordingHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	recording, err := e.recordings.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, recording)
}

func (e *InterviewEndpoints) AddEntryHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req AddEntryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	entry, err := e.recordings.AddTranscriptEntry(r.Context(), userID, chi.URLParam(r, "id"), models.TranscriptEntry{
		Speaker:        req.Speaker,
		Text:           req.Text,
		Confidence:     req.Confidence,
		DurationMillis: req.DurationMillis,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

// AddAudioHandler takes the raw audio as the request body. Content-Type
// is passed on as the format hint.
func (e *InterviewEndpoints) AddAudioHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	audio, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAudioSize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, apperr.CodeTooLarge, "audio too large")
		return
	}

	mimeType := r.Header.Get("Content-Type")
	if mimeType == "application/octet-stream" {
		mimeType = ""
	}

	entry, err := e.recordings.AddAudio(r.Context(), userID, chi.URLParam(r, "id"), audio, mimeType)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

func (e *InterviewEndpoints) CompleteTranscriptHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	recording, err := e.recordings.CompleteTranscript(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, recording)
}

func (e *InterviewEndpoints) SetAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var analysis models.VocalAnalysis
	if !decodeJSON(w, r, &analysis) {
		return
	}

	recording, err := e.recordings.SetVocalAnalysis(r.Context(), userID, chi.URLParam(r, "id"), analysis)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, recording)
}

func (e *InterviewEndpoints) FailAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req FailAnalysisRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Message == "" {
		req.Message = "vocal analysis failed"
	}

	recording, err := e.recordings.FailAnalysis(r.Context(), userID, chi.URLParam(r, "id"), req.Message)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, recording)
}

func (e *InterviewEndpoints) GenerateFeedbackHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	recording, err := e.recordings.GenerateFeedback(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, recording)
}

func (e *InterviewEndpoints) EndSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	recording, err := e.recordings.EndSession(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, recording)
}

func (e *InterviewEndpoints) GetActiveRecordingsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	recordings, err := e.recordings.ListActive(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, GetRecordingsResponse{Recordings: recordings, Count: len(recordings)})
}
