package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/3than777/Elocutionist-sub004/apperr"
	"github.com/3than777/Elocutionist-sub004/models"
	"github.com/3than777/Elocutionist-sub004/repository"
	"github.com/3than777/Elocutionist-sub004/retry"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/singleflight"
)

// staleWritePolicy re-applies a mutation when another writer saved the
// recording between our load and save.
var staleWritePolicy = retry.Policy{
	MaxAttempts:  4,
	InitialDelay: 10 * time.Millisecond,
	MaxDelay:     100 * time.Millisecond,
	Multiplier:   2,
	Retryable: func(err error) bool {
		return errors.Is(err, apperr.ErrStale)
	},
}

// RecordingService runs the session recording of each interview: the
// transcript, the vocal analysis and the feedback report.
type RecordingService struct {
	repo       *repository.GORMRepository
	files      *FileStore
	ai         GenerationClient
	policy     retry.Policy
	staleAfter time.Duration
	retryOpts  []retry.Option
	now        func() time.Time
	flights    singleflight.Group
}

func NewRecordingService(repo *repository.GORMRepository, files *FileStore, ai GenerationClient, policy retry.Policy, staleAfter time.Duration) *RecordingService {
	return &RecordingService{
		repo:       repo,
		files:      files,
		ai:         ai,
		policy:     policy,
		staleAfter: staleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// StartSession creates an empty recording for the interview, or returns the
// one that already exists.
func (s *RecordingService) StartSession(ctx context.Context, userID, interviewID string) (*models.SessionRecording, error) {
	interview, err := s.ownedInterview(ctx, userID, interviewID)
	if err != nil {
		return nil, err
	}
	return s.loadOrCreate(ctx, interview)
}

// Get returns the recording of an interview.
func (s *RecordingService) Get(ctx context.Context, userID, interviewID string) (*models.SessionRecording, error) {
	recording, err := s.repo.FindRecordingByInterview(ctx, interviewID)
	if err != nil {
		return nil, err
	}
	if !recording.OwnedBy(userID) {
		return nil, apperr.ErrForbidden
	}
	return recording, nil
}

func (s *RecordingService) ListActive(ctx context.Context, userID string) ([]models.SessionRecording, error) {
	return s.repo.ListActiveRecordings(ctx, userID)
}

// AddTranscriptEntry appends one utterance, creating the recording on first
// use. The stored entry with its offset is returned.
func (s *RecordingService) AddTranscriptEntry(ctx context.Context, userID, interviewID string, entry models.TranscriptEntry) (models.TranscriptEntry, error) {
	var stored models.TranscriptEntry
	_, err := s.mutate(ctx, userID, interviewID, true, func(r *models.SessionRecording) (bool, error) {
		e, err := r.AppendEntry(entry, s.now())
		if err != nil {
			return false, err
		}
		stored = e
		return true, nil
	})
	if err != nil {
		return stored, err
	}

	slog.Info("Transcript entry added",
		"interview_id", interviewID,
		"speaker", stored.Speaker,
		"offset_ms", stored.OffsetMillis)
	return stored, nil
}

// AddAudio transcribes a chunk of candidate speech and appends it as a user
// entry. A transcription failure marks the transcription pipeline failed.
func (s *RecordingService) AddAudio(ctx context.Context, userID, interviewID string, audio []byte, mimeType string) (models.TranscriptEntry, error) {
	recording, err := s.loadOrCreateOwned(ctx, userID, interviewID)
	if err != nil {
		return models.TranscriptEntry{}, err
	}
	if recording.Ended() || recording.Status.Transcription == models.StatusCompleted {
		return models.TranscriptEntry{}, apperr.Conflict(apperr.CodeInvalidState, "session is no longer accepting audio")
	}
	if len(audio) == 0 {
		return models.TranscriptEntry{}, apperr.Validation(apperr.CodeInvalidInput, "audio is empty")
	}
	if mimeType == "" {
		mimeType = mimetype.Detect(audio).String()
	}

	ext := ""
	if m := mimetype.Lookup(mimeType); m != nil {
		ext = m.Extension()
	}
	audioRef, err := s.files.Save(ctx, "audio", ext, audio)
	if err != nil {
		slog.Warn("Failed to store audio chunk", "interview_id", interviewID, "error", err)
		audioRef = ""
	}

	policy := s.policy
	policy.Retryable = apperr.IsRetryable
	result, err := retry.Execute(ctx, policy, "transcribe_audio", func(ctx context.Context, attempt int) (*Transcription, error) {
		return s.ai.TranscribeAudio(ctx, audio, mimeType)
	}, s.retryOpts...)
	if err != nil {
		_, failErr := s.mutate(context.WithoutCancel(ctx), userID, interviewID, false, func(r *models.SessionRecording) (bool, error) {
			return true, r.FailTranscription()
		})
		if failErr != nil {
			slog.Error("Failed to record transcription failure", "interview_id", interviewID, "error", failErr)
		}
		return models.TranscriptEntry{}, err
	}
	if result.Text == "" {
		return models.TranscriptEntry{}, apperr.Validation(apperr.CodeEmptyText, "no speech was detected in the audio")
	}

	return s.AddTranscriptEntry(ctx, userID, interviewID, models.TranscriptEntry{
		Speaker:        models.SpeakerUser,
		Text:           result.Text,
		AudioRef:       audioRef,
		Confidence:     result.Confidence,
		DurationMillis: result.DurationMillis,
	})
}

// CompleteTranscript finalizes the transcript. No entries are accepted after.
func (s *RecordingService) CompleteTranscript(ctx context.Context, userID, interviewID string) (*models.SessionRecording, error) {
	return s.mutate(ctx, userID, interviewID, false, func(r *models.SessionRecording) (bool, error) {
		if r.Status.Transcription == models.StatusCompleted {
			return false, nil
		}
		return true, r.CompleteTranscript()
	})
}

func (s *RecordingService) SetVocalAnalysis(ctx context.Context, userID, interviewID string, analysis models.VocalAnalysis) (*models.SessionRecording, error) {
	return s.mutate(ctx, userID, interviewID, false, func(r *models.SessionRecording) (bool, error) {
		return true, r.SetVocalAnalysis(analysis)
	})
}

func (s *RecordingService) FailAnalysis(ctx context.Context, userID, interviewID, message string) (*models.SessionRecording, error) {
	return s.mutate(ctx, userID, interviewID, false, func(r *models.SessionRecording) (bool, error) {
		return true, r.FailAnalysis(message)
	})
}

// EndSession marks the recording inactive. Ending twice is a no-op.
func (s *RecordingService) EndSession(ctx context.Context, userID, interviewID string) (*models.SessionRecording, error) {
	recording, err := s.mutate(ctx, userID, interviewID, false, func(r *models.SessionRecording) (bool, error) {
		return r.End(s.now()), nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Session ended", "interview_id", interviewID, "duration_ms", recording.Duration(s.now()).Milliseconds())
	return recording, nil
}

// GenerateFeedback produces the feedback report, or returns the one already
// generated. Concurrent calls for the same interview share one remote call.
func (s *RecordingService) GenerateFeedback(ctx context.Context, userID, interviewID string) (*models.SessionRecording, error) {
	if _, err := s.Get(ctx, userID, interviewID); err != nil {
		return nil, err
	}

	// The remote call is not tied to one caller since others may share it.
	flightCtx := context.WithoutCancel(ctx)
	v, err, shared := s.flights.Do(interviewID, func() (any, error) {
		return s.generateFeedback(flightCtx, interviewID)
	})
	if shared {
		slog.Info("Feedback generation shared", "interview_id", interviewID)
	}
	if err != nil {
		return nil, err
	}
	return v.(*models.SessionRecording), nil
}

func (s *RecordingService) generateFeedback(ctx context.Context, interviewID string) (*models.SessionRecording, error) {
	recording, err := s.repo.FindRecordingByInterview(ctx, interviewID)
	if err != nil {
		return nil, err
	}

	if recording.Status.Feedback == models.StatusCompleted && recording.Feedback != nil {
		feedbackOutcomesTotal.WithLabelValues("cached").Inc()
		return recording, nil
	}
	if !recording.HasUserContent() {
		feedbackOutcomesTotal.WithLabelValues("no_content").Inc()
		return nil, apperr.ErrNoContent
	}

	now := s.now()
	if recording.Status.Feedback == models.StatusProcessing {
		if recording.FeedbackStartedAt != nil && now.Sub(*recording.FeedbackStartedAt) < s.staleAfter {
			feedbackOutcomesTotal.WithLabelValues("in_progress").Inc()
			return nil, apperr.Conflict(apperr.CodeInProgress, "feedback is already being generated")
		}
		slog.Warn("Taking over stale feedback generation", "interview_id", interviewID, "started_at", recording.FeedbackStartedAt)
		if err := recording.FailFeedback("feedback generation was interrupted"); err != nil {
			return nil, err
		}
	}

	if err := recording.BeginFeedback(now); err != nil {
		return nil, err
	}
	if err := s.repo.SaveRecording(ctx, recording); err != nil {
		return nil, err
	}

	req := FeedbackRequest{
		Transcript: recording.TranscriptText(),
		Analysis:   recording.VocalAnalysis,
	}
	if interview, err := s.repo.FindInterview(ctx, interviewID); err == nil {
		req.InterviewType = interview.InterviewType
		req.Difficulty = interview.Difficulty
	}

	slog.Info("Generating feedback", "interview_id", interviewID, "entries", len(recording.Transcript))
	report, err := s.ai.AnalyzeTranscript(ctx, req)
	if err == nil {
		err = recording.CompleteFeedback(*report, s.now())
	}
	if err != nil {
		feedbackOutcomesTotal.WithLabelValues(string(apperr.KindOf(err))).Inc()
		if failErr := recording.FailFeedback(apperr.UserMessage(err)); failErr != nil {
			return nil, errors.Join(err, failErr)
		}
		if saveErr := s.repo.SaveRecording(ctx, recording); saveErr != nil {
			slog.Error("Failed to persist feedback failure", "interview_id", interviewID, "error", saveErr)
			return nil, errors.Join(err, saveErr)
		}
		slog.Error("Feedback generation failed", "interview_id", interviewID, "kind", apperr.KindOf(err), "error", err)
		return nil, err
	}

	if err := s.repo.SaveRecording(ctx, recording); err != nil {
		feedbackOutcomesTotal.WithLabelValues("discarded").Inc()
		return nil, fmt.Errorf("failed to save feedback: %w", err)
	}

	feedbackOutcomesTotal.WithLabelValues("completed").Inc()
	slog.Info("Feedback generated", "interview_id", interviewID, "overall_score", *recording.OverallScore)
	return recording, nil
}

// mutate loads the recording, applies fn and saves it if fn reports a
// change. A stale write reloads and applies fn again. Only stale writes go
// back to the executor; any other error ends the mutation as is.
func (s *RecordingService) mutate(ctx context.Context, userID, interviewID string, create bool, fn func(*models.SessionRecording) (bool, error)) (*models.SessionRecording, error) {
	var rejected error
	recording, err := retry.Execute(ctx, staleWritePolicy, "save_recording", func(ctx context.Context, attempt int) (*models.SessionRecording, error) {
		rejected = nil
		var (
			recording *models.SessionRecording
			err       error
		)
		if create {
			recording, err = s.loadOrCreateOwned(ctx, userID, interviewID)
		} else {
			recording, err = s.Get(ctx, userID, interviewID)
		}
		if err != nil {
			rejected = err
			return nil, nil
		}

		changed, err := fn(recording)
		if err != nil {
			rejected = err
			return nil, nil
		}
		if !changed {
			return recording, nil
		}
		if err := s.repo.SaveRecording(ctx, recording); err != nil {
			if errors.Is(err, apperr.ErrStale) {
				return nil, err
			}
			rejected = err
			return nil, nil
		}
		return recording, nil
	})
	if err != nil {
		return nil, err
	}
	if rejected != nil {
		return nil, rejected
	}
	return recording, nil
}

func (s *RecordingService) loadOrCreateOwned(ctx context.Context, userID, interviewID string) (*models.SessionRecording, error) {
	recording, err := s.Get(ctx, userID, interviewID)
	if err == nil || !apperr.IsKind(err, apperr.KindNotFound) {
		return recording, err
	}
	interview, err := s.ownedInterview(ctx, userID, interviewID)
	if err != nil {
		return nil, err
	}
	return s.loadOrCreate(ctx, interview)
}

// loadOrCreate returns the recording of the interview. A new one is only
// opened while the interview is still pending or active.
func (s *RecordingService) loadOrCreate(ctx context.Context, interview *models.Interview) (*models.SessionRecording, error) {
	interviewID := interview.ID
	recording, err := s.repo.FindRecordingByInterview(ctx, interviewID)
	if err == nil {
		return recording, nil
	}
	if !apperr.IsKind(err, apperr.KindNotFound) {
		return nil, err
	}
	if interview.Status.IsTerminal() {
		return nil, apperr.Conflict(apperr.CodeInvalidState, fmt.Sprintf("interview is %s, no recording can be opened", interview.Status))
	}

	recording = models.NewSessionRecording(interviewID, interview.UserID, s.now())
	if err := s.repo.CreateRecording(ctx, recording); err != nil {
		if apperr.CodeOf(err) == apperr.CodeAlreadyExists {
			return s.repo.FindRecordingByInterview(ctx, interviewID)
		}
		return nil, err
	}
	return recording, nil
}

func (s *RecordingService) ownedInterview(ctx context.Context, userID, interviewID string) (*models.Interview, error) {
	interview, err := s.repo.FindInterview(ctx, interviewID)
	if err != nil {
		return nil, err
	}
	if !interview.OwnedBy(userID) {
		return nil, apperr.ErrForbidden
	}
	return interview, nil
}
