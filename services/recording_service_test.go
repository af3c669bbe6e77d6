package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/3than777/Elocutionist-sub004/apperr"
	"github.com/3than777/Elocutionist-sub004/models"
	"github.com/3than777/Elocutionist-sub004/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingFixture struct {
	repo      *repository.GORMRepository
	files     *FileStore
	ai        *fakeGeneration
	clock     *clock
	svc       *RecordingService
	interview *models.Interview
}

func newRecordingFixture(t *testing.T) *recordingFixture {
	t.Helper()
	f := &recordingFixture{
		repo:  newTestRepo(t),
		files: newTestFileStore(t),
		ai:    &fakeGeneration{t: t},
		clock: newClock(t0),
	}
	f.svc = NewRecordingService(f.repo, f.files, f.ai, fastPolicy, 5*time.Minute)
	f.svc.now = f.clock.Now
	f.interview = createInterview(t, f.repo, "user-1")
	return f
}

func (f *recordingFixture) add(t *testing.T, speaker models.Speaker, text string) models.TranscriptEntry {
	t.Helper()
	entry, err := f.svc.AddTranscriptEntry(context.Background(), "user-1", f.interview.ID, models.TranscriptEntry{Speaker: speaker, Text: text})
	require.NoError(t, err)
	return entry
}

func TestAddTranscriptEntryCreatesRecordingAndStampsOffsets(t *testing.T) {
	ctx := context.Background()
	f := newRecordingFixture(t)

	_, err := f.repo.FindRecordingByInterview(ctx, f.interview.ID)
	require.True(t, apperr.IsKind(err, apperr.KindNotFound))

	first := f.add(t, models.SpeakerAI, "Tell me about yourself.")
	assert.Equal(t, int64(0), first.OffsetMillis)

	f.clock.Advance(1500 * time.Millisecond)
	second := f.add(t, models.SpeakerUser, "  I build backend systems.  ")
	assert.Equal(t, int64(1500), second.OffsetMillis)
	assert.Equal(t, "I build backend systems.", second.Text)

	rec, err := f.svc.Get(ctx, "user-1", f.interview.ID)
	require.NoError(t, err)
	require.Len(t, rec.Transcript, 2)
	assert.Equal(t, "Tell me about yourself.", rec.Transcript[0].Text)
	assert.Equal(t, models.StatusProcessing, rec.Status.Transcription)
	assert.Equal(t, models.StatusPending, rec.Status.Analysis)
	assert.Equal(t, models.StatusPending, rec.Status.Feedback)
	assert.True(t, rec.IsActive)
}

func TestAddTranscriptEntryValidation(t *testing.T) {
	ctx := context.Background()
	f := newRecordingFixture(t)

	tests := []struct {
		name  string
		entry models.TranscriptEntry
		kind  apperr.Kind
	}{
		{"blank text", models.TranscriptEntry{Speaker: models.SpeakerUser, Text: "   "}, apperr.KindValidation},
		{"unknown speaker", models.TranscriptEntry{Speaker: "coach", Text: "hi"}, apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AddTranscriptEntry(ctx, "user-1", f.interview.ID, tt.entry)
			assert.True(t, apperr.IsKind(err, tt.kind), "got %v", err)
		})
	}
}

// retryOutcomes reads the retry outcome counter for one operation.
func retryOutcomes(t *testing.T, operation, outcome string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "elocutionist_retry_outcomes_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["operation"] == operation && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestRejectedEntryIsNotARetryFailure(t *testing.T) {
	ctx := context.Background()
	f := newRecordingFixture(t)
	before := retryOutcomes(t, "save_recording", "permanent")

	_, err := f.svc.AddTranscriptEntry(ctx, "user-1", f.interview.ID, models.TranscriptEntry{Speaker: models.SpeakerUser, Text: " "})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	_, err = f.svc.AddTranscriptEntry(ctx, "user-2", f.interview.ID, models.TranscriptEntry{Speaker: models.SpeakerUser, Text: "hi"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	assert.Equal(t, before, retryOutcomes(t, "save_recording", "permanent"))
}

func TestRecordingOwnership(t *testing.T) {
	ctx := context.Background()
	f := newRecordingFixture(t)
	f.add(t, models.SpeakerUser, "hello")

	_, err := f.svc.AddTranscriptEntry(ctx, "user-2", f.interview.ID, models.TranscriptEntry{Speaker: models.SpeakerUser, Text: "hi"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.Get(ctx, "user-2", f.interview.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.GenerateFeedback(ctx, "user-2", f.interview.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.StartSession(ctx, "user-1", "no-such-interview")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestStartSessionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newRecordingFixture(t)

	first, err := f.svc.StartSession(ctx, "user-1", f.interview.ID)
	require.NoError(t, err)
	second, err := f.svc.StartSession(ctx, "user-1", f.interview.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	active, err := f.svc.ListActive(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestEndSession(t *testing.T) {
	ctx := context.Background()
	f := newRecordingFixture(t)
	f.add(t, models.SpeakerUser, "hello")

	f.clock.Advance(90 * time.Second)
	rec, err := f.svc.EndSession(ctx, "user-1", f.interview.ID)
	require.NoError(t, err)
	assert.False(t, rec.IsActive)
	require.NotNil(t, rec.DurationMillis)
	assert.Equal(t, int64(90_000), *rec.DurationMillis)
	firstEnd := *rec.SessionEndTime

	f.clock.Advance(time.Minute)
	rec, err = f.svc.EndSession(ctx, "user-1", f.interview.ID)
	require.NoError(t, err)
	assert.True(t, firstEnd.Equal(*rec.SessionEndTime))
	assert.Equal(t, int64(90_000), *rec.DurationMillis)

	_, err = f.svc.AddTranscriptEntry(ctx, "user-1", f.interview.ID, models.TranscriptEntry{Speaker: models.SpeakerUser, Text: "late"})
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	active, err := f.svc.ListActive(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestCompleteTranscript(t *testing.T) {
	ctx := context.Background()
	f := newRecordingFixture(t)
	f.add(t, models.SpeakerUser, "hello")

	rec, err := f.svc.CompleteTranscript(ctx, "user-1", f.interview.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rec.Status.Transcription)

	rec, err = f.svc.CompleteTranscript(ctx, "user-1", f.interview.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rec.Status.Transcription)

	_, err = f.svc.AddTranscriptEntry(ctx, "user-1", f.interview.ID, models.TranscriptEntry{Speaker: models.SpeakerUser, Text: "more"})
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestVocalAnalysis(t *testing.T) {
	ctx := context.Background()
	f := newRecordingFixture(t)
	f.add(t, models.SpeakerUser, "hello")

	_, err := f.svc.SetVocalAnalysis(ctx, "user-1", f.interview.ID, models.VocalAnalysis{ClarityScore: 140})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	rec, err := f.svc.SetVocalAnalysis(ctx, "user-1", f.interview.ID, models.VocalAnalysis{
		WordsPerMinute:    142,
		FillerWordCount:   3,
		VolumeConsistency: 0.8,
		ClarityScore:      85,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rec.Status.Analysis)
	require.NotNil(t, rec.VocalAnalysis)
	assert.Equal(t, 142.0, rec.VocalAnalysis.WordsPerMinute)
	// Other pipelines are untouched.
	assert.Equal(t, models.StatusProcessing, rec.Status.Transcription)

	_, err = f.svc.FailAnalysis(ctx, "user-1", f.interview.ID, "mic unplugged")
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestAddAudioTranscribesAndStoresChunk(t *testing.T) {
	ctx := context.Background()
	f := newRecordingFixture(t)
	conf := 0.92
	dur := int64(3200)
	f.ai.transcribe = func(audio []byte, mimeHint string) (*Transcription, error) {
		assert.Equal(t, "audio/webm", mimeHint)
		return &Transcription{Text: "I led the migration.", Confidence: &conf, DurationMillis: &dur}, nil
	}

	audio := []byte("fake webm bytes")
	entry, err := f.svc.AddAudio(ctx, "user-1", f.interview.ID, audio, "audio/webm")
	require.NoError(t, err)
	assert.Equal(t, models.SpeakerUser, entry.Speaker)
	assert.Equal(t, "I led the migration.", entry.Text)
	require.NotNil(t, entry.Confidence)
	assert.Equal(t, 0.92, *entry.Confidence)
	require.NotEmpty(t, entry.AudioRef)

	stored, err := f.files.Read(entry.AudioRef)
	require.NoError(t, err)
	assert.Equal(t, audio, stored)

	rec, err := f.svc.Get(ctx, "user-1", f.interview.ID)
	require.NoError(t, err)
	require.Len(t, rec.Transcript, 1)
	assert.Equal(t, entry.AudioRef, rec.Transcript[0].AudioRef)
}

func TestAddAudioFailureMarksTranscriptionFailed(t *testing.T) {
	ctx := context.Background()
	f := newRecordingFixture(t)
	f.add(t, models.SpeakerAI, "Walk me through a project.")

	f.ai.transcribe = func([]byte, string) (*Transcription, error) {
		return nil, apperr.Transient(apperr.CodeUnavailable, errors.New("503"))
	}

	_, err := f.svc.AddAudio(ctx, "user-1", f.interview.ID, []byte("chunk"), "audio/webm")
	require.Error(t, err)
	assert.True(t, apperr.IsRetryable(err))
	_, audioCalls, _ := f.ai.counts()
	assert.Equal(t, fastPolicy.MaxAttempts, audioCalls)

	rec, err := f.svc.Get(ctx, "user-1", f.interview.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, rec.Status.Transcription)
	assert.Len(t, rec.Transcript, 1)

	// Typed entries still work and reopen the pipeline.
	f.add(t, models.SpeakerUser, "typed answer")
	rec, err = f.svc.Get(ctx, "user-1", f.interview.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, rec.Status.Transcription)
}

func TestAddAudioRejectsSilenceAndEmptyInput(t *testing.T) {
	ctx := context.Background()
	f := newRecordingFixture(t)
	f.ai.transcribe = func([]byte, string) (*Transcription, error) {
		return &Transcription{Text: ""}, nil
	}

	_, err := f.svc.AddAudio(ctx, "user-1", f.interview.ID, nil, "audio/webm")
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))

	_, err = f.svc.AddAudio(ctx, "user-1", f.interview.ID, []byte("silence"), "audio/webm")
	assert.Equal(t, apperr.CodeEmptyText, apperr.CodeOf(err))

	rec, err := f.svc.Get(ctx, "user-1", f.interview.ID)
	require.NoError(t, err)
	assert.Empty(t, rec.Transcript)
}

func TestGenerateFeedbackRequiresUserContent(t *testing.T) {
	ctx := context.Background()
	f := newRecordingFixture(t)
	f.add(t, models.SpeakerAI, "Tell me about yourself.")

	_, err := f.svc.GenerateFeedback(ctx, "user-1", f.interview.ID)
	assert.ErrorIs(t, err, apperr.ErrNoContent)

	rec, err := f.svc.Get(ctx, "user-1", f.interview.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rec.Status.Feedback)
	assert.Nil(t, rec.FeedbackError)
	_, _, feedCalls := f.ai.counts()
	assert.Zero(t, feedCalls)
}

func TestGenerateFeedbackIsGeneratedOnce(t *testing.T) {
	ctx := context.Background()
	f := newRecordingFixture(t)
	f.add(t, models.SpeakerAI, "Tell me about a conflict.")
	f.clock.Advance(5 * time.Second)
	f.add(t, models.SpeakerUser, "I disagreed with a lead about rollout timing.")

	f.ai.analyze = func(req FeedbackRequest) (*models.FeedbackReport, error) {
		assert.Equal(t, "behavioral", req.InterviewType)
		assert.Equal(t, "medium", req.Difficulty)
		assert.Contains(t, req.Transcript, "[00:05] user: I disagreed")
		return sampleReport(), nil
	}

	rec, err := f.svc.GenerateFeedback(ctx, "user-1", f.interview.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rec.Status.Feedback)
	require.NotNil(t, rec.OverallScore)
	assert.Equal(t, 70, *rec.OverallScore)
	require.NotNil(t, rec.FeedbackGeneratedAt)

	again, err := f.svc.GenerateFeedback(ctx, "user-1", f.interview.ID)
	require.NoError(t, err)
	assert.Equal(t, 70, *again.OverallScore)
	assert.Equal(t, sampleReport().Summary, again.Feedback.Summary)

	_, _, feedCalls := f.ai.counts()
	assert.Equal(t, 1, feedCalls)
}

func TestGenerateFeedbackFailureIsPersistedAndRetryable(t *testing.T) {
	ctx := context.Background()
	f := newRecordingFixture(t)
	f.add(t, models.SpeakerUser, "My answer.")

	calls := 0
	f.ai.analyze = func(FeedbackRequest) (*models.FeedbackReport, error) {
		calls++
		if calls == 1 {
			return nil, apperr.Transient(apperr.CodeRateLimit, errors.New("429 quota"))
		}
		return sampleReport(), nil
	}

	_, err := f.svc.GenerateFeedback(ctx, "user-1", f.interview.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindTransientRemote))

	rec, err := f.svc.Get(ctx, "user-1", f.interview.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, rec.Status.Feedback)
	require.NotNil(t, rec.FeedbackError)
	assert.NotContains(t, *rec.FeedbackError, "quota")
	assert.Nil(t, rec.OverallScore)

	rec, err = f.svc.GenerateFeedback(ctx, "user-1", f.interview.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rec.Status.Feedback)
	assert.Nil(t, rec.FeedbackError)
	assert.Equal(t, 2, calls)
}

func TestGenerateFeedbackRejectsMalformedReport(t *testing.T) {
	ctx := context.Background()
	f := newRecordingFixture(t)
	f.add(t, models.SpeakerUser, "My answer.")

	f.ai.analyze = func(FeedbackRequest) (*models.FeedbackReport, error) {
		report := sampleReport()
		report.OverallRating = 11
		return report, nil
	}

	_, err := f.svc.GenerateFeedback(ctx, "user-1", f.interview.ID)
	assert.Equal(t, apperr.CodeMalformedResponse, apperr.CodeOf(err))

	rec, err := f.svc.Get(ctx, "user-1", f.interview.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, rec.Status.Feedback)
	assert.Nil(t, rec.Feedback)
}

func TestGenerateFeedbackInProgressAndStaleTakeover(t *testing.T) {
	ctx := context.Background()
	f := newRecordingFixture(t)
	f.add(t, models.SpeakerUser, "My answer.")

	// Another worker started generation and never finished.
	rec, err := f.repo.FindRecordingByInterview(ctx, f.interview.ID)
	require.NoError(t, err)
	require.NoError(t, rec.BeginFeedback(f.clock.Now()))
	require.NoError(t, f.repo.SaveRecording(ctx, rec))

	f.ai.analyze = func(FeedbackRequest) (*models.FeedbackReport, error) { return sampleReport(), nil }

	f.clock.Advance(time.Minute)
	_, err = f.svc.GenerateFeedback(ctx, "user-1", f.interview.ID)
	assert.Equal(t, apperr.CodeInProgress, apperr.CodeOf(err))
	_, _, feedCalls := f.ai.counts()
	assert.Zero(t, feedCalls)

	f.clock.Advance(10 * time.Minute)
	rec, err = f.svc.GenerateFeedback(ctx, "user-1", f.interview.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rec.Status.Feedback)
}

func TestGenerateFeedbackConcurrentCallsShareOneRemoteCall(t *testing.T) {
	ctx := context.Background()
	f := newRecordingFixture(t)
	f.add(t, models.SpeakerUser, "My answer.")

	release := make(chan struct{})
	f.ai.analyze = func(FeedbackRequest) (*models.FeedbackReport, error) {
		<-release
		return sampleReport(), nil
	}

	const callers = 4
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.GenerateFeedback(ctx, "user-1", f.interview.ID)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	_, _, feedCalls := f.ai.counts()
	assert.Equal(t, 1, feedCalls)
}
