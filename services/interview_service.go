package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/3than777/Elocutionist-sub004/apperr"
	"github.com/3than777/Elocutionist-sub004/models"
	"github.com/3than777/Elocutionist-sub004/repository"
)

// NewInterview describes an interview to create.
type NewInterview struct {
	Title                 string `json:"title"`
	InterviewType         string `json:"interview_type"`
	Difficulty            string `json:"difficulty"`
	TargetDurationMinutes int    `json:"target_duration_minutes"`
}

var difficulties = map[string]bool{"": true, "easy": true, "medium": true, "hard": true}

// InterviewService moves interviews through their lifecycle and keeps the
// session recording in step with it.
type InterviewService struct {
	repo       *repository.GORMRepository
	recordings *RecordingService
	now        func() time.Time
}

func NewInterviewService(repo *repository.GORMRepository, recordings *RecordingService) *InterviewService {
	return &InterviewService{
		repo:       repo,
		recordings: recordings,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *InterviewService) Create(ctx context.Context, userID string, req NewInterview) (*models.Interview, error) {
	req.Difficulty = strings.ToLower(strings.TrimSpace(req.Difficulty))
	if !difficulties[req.Difficulty] {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "difficulty must be easy, medium or hard")
	}
	if req.TargetDurationMinutes < 0 {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "target duration cannot be negative")
	}

	interview := &models.Interview{
		UserID:                userID,
		Title:                 strings.TrimSpace(req.Title),
		InterviewType:         strings.TrimSpace(req.InterviewType),
		Difficulty:            req.Difficulty,
		TargetDurationMinutes: req.TargetDurationMinutes,
		Status:                models.InterviewPending,
		CreatedAt:             s.now(),
	}
	if err := s.repo.CreateInterview(ctx, interview); err != nil {
		return nil, err
	}
	return interview, nil
}

func (s *InterviewService) Get(ctx context.Context, userID, interviewID string) (*models.Interview, error) {
	interview, err := s.repo.FindInterview(ctx, interviewID)
	if err != nil {
		return nil, err
	}
	if !interview.OwnedBy(userID) {
		return nil, apperr.ErrForbidden
	}
	return interview, nil
}

func (s *InterviewService) List(ctx context.Context, userID string) ([]models.Interview, error) {
	return s.repo.ListInterviews(ctx, userID)
}

// Start activates a pending interview and opens its session recording.
func (s *InterviewService) Start(ctx context.Context, userID, interviewID string) (*models.Interview, error) {
	interview, err := s.Get(ctx, userID, interviewID)
	if err != nil {
		return nil, err
	}
	if err := interview.Start(s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.SaveInterview(ctx, interview); err != nil {
		return nil, err
	}

	// The interview is already active; the recording is created lazily on
	// the first entry if it cannot be opened now.
	if _, err := s.recordings.StartSession(ctx, userID, interview.ID); err != nil {
		slog.Error("Failed to open session recording", "interview_id", interview.ID, "error", err)
	}

	slog.Info("Interview started", "interview_id", interview.ID, "user_id", userID)
	return interview, nil
}

// Complete finishes an active interview and ends its recording.
func (s *InterviewService) Complete(ctx context.Context, userID, interviewID string, score *int) (*models.Interview, error) {
	interview, err := s.Get(ctx, userID, interviewID)
	if err != nil {
		return nil, err
	}
	if err := interview.Complete(s.now(), score); err != nil {
		return nil, err
	}
	if err := s.repo.SaveInterview(ctx, interview); err != nil {
		return nil, err
	}

	s.endRecording(ctx, userID, interview.ID)
	slog.Info("Interview completed",
		"interview_id", interview.ID,
		"user_id", userID,
		"duration_minutes", interview.ActualDurationMinutes)
	return interview, nil
}

// Cancel abandons a pending or active interview.
func (s *InterviewService) Cancel(ctx context.Context, userID, interviewID, reason string) (*models.Interview, error) {
	interview, err := s.Get(ctx, userID, interviewID)
	if err != nil {
		return nil, err
	}
	if err := interview.Cancel(strings.TrimSpace(reason)); err != nil {
		return nil, err
	}
	if err := s.repo.SaveInterview(ctx, interview); err != nil {
		return nil, err
	}

	s.endRecording(ctx, userID, interview.ID)
	slog.Info("Interview cancelled", "interview_id", interview.ID, "user_id", userID)
	return interview, nil
}

// IsExpired reports whether the interview can no longer be started.
func (s *InterviewService) IsExpired(interview *models.Interview) bool {
	return interview.IsExpired(s.now())
}

func (s *InterviewService) endRecording(ctx context.Context, userID, interviewID string) {
	_, err := s.recordings.EndSession(ctx, userID, interviewID)
	if err != nil && !apperr.IsKind(err, apperr.KindNotFound) {
		slog.Warn("Failed to end session recording", "interview_id", interviewID, "error", err)
	}
}
