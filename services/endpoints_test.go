package services

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/3than777/Elocutionist-sub004/models"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiClient struct {
	t      *testing.T
	server *httptest.Server
	token  string
}

func (c *apiClient) do(method, path, contentType string, body io.Reader) (*http.Response, []byte) {
	c.t.Helper()
	req, err := http.NewRequest(method, c.server.URL+path, body)
	require.NoError(c.t, err)
	req.Header.Set("Authorization", "Bearer "+c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp, data
}

func (c *apiClient) json(method, path string, in, out any) int {
	c.t.Helper()
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		require.NoError(c.t, err)
		body = bytes.NewReader(b)
	}
	resp, data := c.do(method, path, "application/json", body)
	if out != nil {
		require.NoError(c.t, json.Unmarshal(data, out), string(data))
	}
	return resp.StatusCode
}

func newAPI(t *testing.T, ai *fakeGeneration, ex *fakeExtractor) (*apiClient, *apiClient) {
	t.Helper()
	repo := newTestRepo(t)
	files := newTestFileStore(t)

	recordings := NewRecordingService(repo, files, ai, fastPolicy, 5*time.Minute)
	interviews := NewInterviewService(repo, recordings)
	ratings := NewRatingService(repo, ai, time.Hour)
	sweeper := NewExpirySweeper(repo, ratings, interviews, recordings, "*/15 * * * *", time.Hour)

	processor := newTestProcessor(repo, ex, &fakeScheduler{}, 0)
	t.Cleanup(processor.Close)
	artifacts := NewArtifactService(repo, files, processor, 1<<20)

	auth := NewAuthService(testSecret)
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware)
		NewInterviewEndpoints(interviews, recordings).RegisterRoutes(r)
		NewArtifactEndpoints(artifacts, 1<<20).RegisterRoutes(r)
		ratingEndpoints := NewRatingEndpoints(ratings, sweeper)
		ratingEndpoints.RegisterRoutes(r)
		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin)
			ratingEndpoints.RegisterAdminRoutes(r)
		})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	owner, err := auth.IssueAccessToken("user-1", "user")
	require.NoError(t, err)
	stranger, err := auth.IssueAccessToken("user-2", "user")
	require.NoError(t, err)
	return &apiClient{t: t, server: srv, token: owner}, &apiClient{t: t, server: srv, token: stranger}
}

func TestInterviewFlowOverHTTP(t *testing.T) {
	ai := &fakeGeneration{t: t, analyze: func(FeedbackRequest) (*models.FeedbackReport, error) { return sampleReport(), nil }}
	api, stranger := newAPI(t, ai, &fakeExtractor{})

	var iv InterviewView
	require.Equal(t, http.StatusCreated, api.json(http.MethodPost, "/api/v1/interviews", NewInterview{Title: "Mock", Difficulty: "medium"}, &iv))
	assert.Equal(t, models.InterviewPending, iv.Status)
	assert.False(t, iv.Expired)
	base := "/api/v1/interviews/" + iv.ID

	var errResp ErrorResponse
	assert.Equal(t, http.StatusForbidden, stranger.json(http.MethodPost, base+"/start", nil, &errResp))
	assert.Equal(t, "FORBIDDEN", errResp.Code)

	require.Equal(t, http.StatusOK, api.json(http.MethodPost, base+"/start", nil, &iv))
	assert.Equal(t, models.InterviewActive, iv.Status)

	var entry models.TranscriptEntry
	require.Equal(t, http.StatusCreated, api.json(http.MethodPost, base+"/recording/entries", AddEntryRequest{Speaker: models.SpeakerAI, Text: "Introduce yourself."}, &entry))

	// Feedback needs something the candidate said.
	assert.Equal(t, http.StatusBadRequest, api.json(http.MethodPost, base+"/recording/feedback", nil, &errResp))
	assert.Equal(t, "NO_CONTENT", errResp.Code)

	require.Equal(t, http.StatusCreated, api.json(http.MethodPost, base+"/recording/entries", AddEntryRequest{Speaker: models.SpeakerUser, Text: "I am a backend engineer."}, &entry))

	var rec models.SessionRecording
	require.Equal(t, http.StatusOK, api.json(http.MethodPut, base+"/recording/analysis", models.VocalAnalysis{WordsPerMinute: 120, ClarityScore: 80, VolumeConsistency: 0.9}, &rec))
	assert.Equal(t, models.StatusCompleted, rec.Status.Analysis)

	require.Equal(t, http.StatusOK, api.json(http.MethodPost, base+"/recording/feedback", nil, &rec))
	require.NotNil(t, rec.OverallScore)
	assert.Equal(t, 70, *rec.OverallScore)

	var active GetRecordingsResponse
	require.Equal(t, http.StatusOK, api.json(http.MethodGet, "/api/v1/recordings/active", nil, &active))
	assert.Equal(t, 1, active.Count)

	require.Equal(t, http.StatusOK, api.json(http.MethodPost, base+"/complete", CompleteInterviewRequest{}, &iv))
	assert.Equal(t, models.InterviewCompleted, iv.Status)

	require.Equal(t, http.StatusOK, api.json(http.MethodGet, base+"/recording", nil, &rec))
	assert.False(t, rec.IsActive)

	assert.Equal(t, http.StatusConflict, api.json(http.MethodPost, base+"/cancel", CancelInterviewRequest{Reason: "late"}, &errResp))
	assert.Equal(t, http.StatusNotFound, api.json(http.MethodGet, "/api/v1/interviews/missing", nil, &errResp))
}

func TestRatingFlowOverHTTP(t *testing.T) {
	ai := &fakeGeneration{t: t, generateText: func(string) (string, error) { return "Score: 9/10", nil }}
	api, stranger := newAPI(t, ai, &fakeExtractor{})

	var rating models.TranscriptRating
	require.Equal(t, http.StatusCreated, api.json(http.MethodPost, "/api/v1/ratings", CreateRatingRequest{
		Messages:         sampleMessages(),
		InterviewContext: sampleContext(),
	}, &rating))
	assert.Equal(t, models.RatingPending, rating.Status)

	var errResp ErrorResponse
	assert.Equal(t, http.StatusBadRequest, api.json(http.MethodPost, "/api/v1/ratings", CreateRatingRequest{}, &errResp))

	require.Equal(t, http.StatusOK, api.json(http.MethodPost, "/api/v1/ratings/"+rating.ID+"/generate", nil, &rating))
	assert.Equal(t, models.RatingRated, rating.Status)
	require.NotNil(t, rating.AIRating)
	assert.Equal(t, "Score: 9/10", *rating.AIRating)

	assert.Equal(t, http.StatusForbidden, stranger.json(http.MethodGet, "/api/v1/ratings/"+rating.ID, nil, &errResp))

	// The sweep is admin only.
	assert.Equal(t, http.StatusForbidden, api.json(http.MethodPost, "/api/v1/admin/sweep", nil, &errResp))
}

func TestArtifactUploadOverHTTP(t *testing.T) {
	ex := &fakeExtractor{fn: func(int) (string, error) { return "extracted", nil }}
	api, stranger := newAPI(t, &fakeGeneration{t: t}, ex)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("Prepared answers for the STAR questions."))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, data := api.do(http.MethodPost, "/api/v1/artifacts", mw.FormDataContentType(), &buf)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(data))
	var artifact models.Artifact
	require.NoError(t, json.Unmarshal(data, &artifact))
	assert.Equal(t, "notes.txt", artifact.OriginalName)
	assert.Equal(t, models.CategoryText, artifact.Category)

	require.Eventually(t, func() bool {
		var got models.Artifact
		return api.json(http.MethodGet, "/api/v1/artifacts/"+artifact.ID, nil, &got) == http.StatusOK &&
			got.ProcessingStatus == models.StatusCompleted
	}, 2*time.Second, 20*time.Millisecond)

	var list GetArtifactsResponse
	require.Equal(t, http.StatusOK, api.json(http.MethodGet, "/api/v1/artifacts", nil, &list))
	assert.Equal(t, 1, list.Count)
	assert.Zero(t, list.Processing)

	var errResp ErrorResponse
	assert.Equal(t, http.StatusForbidden, stranger.json(http.MethodDelete, "/api/v1/artifacts/"+artifact.ID, nil, &errResp))

	resp, _ = api.do(http.MethodDelete, "/api/v1/artifacts/"+artifact.ID, "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = api.do(http.MethodPost, "/api/v1/artifacts", "text/plain", bytes.NewReader([]byte("no form")))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
