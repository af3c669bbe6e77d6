package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/3than777/Elocutionist-sub004/models"
	"github.com/3than777/Elocutionist-sub004/repository"
	"github.com/3than777/Elocutionist-sub004/retry"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// fastPolicy keeps retry tests quick.
var fastPolicy = retry.Policy{
	MaxAttempts:  3,
	InitialDelay: time.Millisecond,
	MaxDelay:     5 * time.Millisecond,
	Multiplier:   2,
}

func newTestRepo(t *testing.T) *repository.GORMRepository {
	t.Helper()
	db, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "test.db"), repository.DatabaseOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := repository.NewGORMRepository(db.DB)
	require.NoError(t, repo.AutoMigrate())
	return repo
}

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)
	return fs
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(start time.Time) *clock {
	return &clock{now: start}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeExtractor struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (string, error)
}

func (f *fakeExtractor) Extract(ctx context.Context, category models.ArtifactCategory, mimeType string, raw []byte) (string, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	return f.fn(n)
}

func (f *fakeExtractor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type scheduledJob struct {
	key   string
	delay time.Duration
	job   func()
}

// fakeScheduler records jobs instead of running them.
type fakeScheduler struct {
	mu        sync.Mutex
	jobs      []scheduledJob
	cancelled []string
	closed    bool
}

func (s *fakeScheduler) Schedule(key string, delay time.Duration, job func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.jobs = append(s.jobs, scheduledJob{key: key, delay: delay, job: job})
	return true
}

func (s *fakeScheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, key)
}

func (s *fakeScheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// take removes and returns the recorded jobs.
func (s *fakeScheduler) take() []scheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := s.jobs
	s.jobs = nil
	return jobs
}

// fakeGeneration stands in for the Gemini client. Unset funcs fail the
// test if called.
type fakeGeneration struct {
	t          *testing.T
	mu         sync.Mutex
	textCalls  int
	audioCalls int
	feedCalls  int

	generateText func(prompt string) (string, error)
	transcribe   func(audio []byte, mimeHint string) (*Transcription, error)
	analyze      func(req FeedbackRequest) (*models.FeedbackReport, error)
}

func (f *fakeGeneration) GenerateText(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.textCalls++
	f.mu.Unlock()
	if f.generateText == nil {
		f.t.Fatalf("unexpected GenerateText call")
	}
	return f.generateText(prompt)
}

func (f *fakeGeneration) TranscribeAudio(ctx context.Context, audio []byte, mimeHint string) (*Transcription, error) {
	f.mu.Lock()
	f.audioCalls++
	f.mu.Unlock()
	if f.transcribe == nil {
		f.t.Fatalf("unexpected TranscribeAudio call")
	}
	return f.transcribe(audio, mimeHint)
}

func (f *fakeGeneration) AnalyzeTranscript(ctx context.Context, req FeedbackRequest) (*models.FeedbackReport, error) {
	f.mu.Lock()
	f.feedCalls++
	f.mu.Unlock()
	if f.analyze == nil {
		f.t.Fatalf("unexpected AnalyzeTranscript call")
	}
	return f.analyze(req)
}

func (f *fakeGeneration) counts() (text, audio, feedback int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.textCalls, f.audioCalls, f.feedCalls
}

func sampleReport() *models.FeedbackReport {
	return &models.FeedbackReport{
		OverallRating:   7,
		CategoryScores:  map[string]int{"communication": 75, "structure": 60},
		Strengths:       []string{"clear examples"},
		Weaknesses:      []string{"rushed ending"},
		Recommendations: []string{"use STAR"},
		Summary:         "Solid answers overall.",
	}
}

func createInterview(t *testing.T, repo *repository.GORMRepository, userID string) *models.Interview {
	t.Helper()
	iv := &models.Interview{UserID: userID, InterviewType: "behavioral", Difficulty: "medium"}
	require.NoError(t, repo.CreateInterview(context.Background(), iv))
	return iv
}
