package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/3than777/Elocutionist-sub004/models"
)

// Session recordings hold the conversation transcript of an interview.

func (r *GORMRepository) CreateRecording(ctx context.Context, recording *models.SessionRecording) error {
	if err := r.create(ctx, recording); err != nil {
		slog.Error("Failed to create session recording", "error", err, "interview_id", recording.InterviewID)
		return err
	}
	slog.Info("Session recording created", "recording_id", recording.ID, "interview_id", recording.InterviewID)
	return nil
}

// FindRecordingByInterview loads the recording of an interview.
func (r *GORMRepository) FindRecordingByInterview(ctx context.Context, interviewID string) (*models.SessionRecording, error) {
	var recording models.SessionRecording
	if err := r.first(ctx, &recording, "session recording", interviewID, "interview_id = ?", interviewID); err != nil {
		return nil, err
	}
	return &recording, nil
}

func (r *GORMRepository) SaveRecording(ctx context.Context, recording *models.SessionRecording) error {
	if err := r.saveVersioned(ctx, recording, &recording.Version); err != nil {
		slog.Error("Failed to save session recording", "error", err, "recording_id", recording.ID, "entries", len(recording.Transcript))
		return err
	}
	return nil
}

// ListActiveRecordings returns recordings still accepting entries for a user.
func (r *GORMRepository) ListActiveRecordings(ctx context.Context, userID string) ([]models.SessionRecording, error) {
	var recordings []models.SessionRecording

	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("session_start_time DESC").
		Find(&recordings).Error; err != nil {
		slog.Error("Failed to list active recordings", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to list active recordings: %w", err)
	}

	return recordings, nil
}

// ListIdleRecordings returns active recordings not written to since before.
func (r *GORMRepository) ListIdleRecordings(ctx context.Context, before time.Time) ([]models.SessionRecording, error) {
	var recordings []models.SessionRecording

	if err := r.db.WithContext(ctx).
		Where("is_active = ? AND updated_at < ?", true, before.UTC()).
		Find(&recordings).Error; err != nil {
		slog.Error("Failed to list idle recordings", "error", err)
		return nil, fmt.Errorf("failed to list idle recordings: %w", err)
	}

	return recordings, nil
}
