package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/3than777/Elocutionist-sub004/apperr"
	"github.com/3than777/Elocutionist-sub004/models"
	"gorm.io/gorm"
)

type GORMRepository struct {
	db *gorm.DB
}

func NewGORMRepository(db *gorm.DB) *GORMRepository {
	return &GORMRepository{db: db}
}

// AutoMigrate runs database migrations
func (r *GORMRepository) AutoMigrate() error {
	if err := r.db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// saveVersioned writes every column of model, but only if the stored row
// still carries the version the caller loaded. On success the in-memory
// version is advanced; on a lost race it is left untouched and ErrStale is
// returned.
func (r *GORMRepository) saveVersioned(ctx context.Context, model any, version *int) error {
	prev := *version
	*version = prev + 1

	result := r.db.WithContext(ctx).
		Model(model).
		Where("version = ?", prev).
		Select("*").
		Omit("ID", "CreatedAt").
		Updates(model)
	if result.Error != nil {
		*version = prev
		return fmt.Errorf("failed to save record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		*version = prev
		return apperr.ErrStale
	}
	return nil
}

func (r *GORMRepository) create(ctx context.Context, model any) error {
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.Conflict(apperr.CodeAlreadyExists, "record already exists")
		}
		return fmt.Errorf("failed to create record: %w", err)
	}
	return nil
}

func (r *GORMRepository) first(ctx context.Context, dest any, resource, id, query string, args ...any) error {
	err := r.db.WithContext(ctx).Where(query, args...).First(dest).Error
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(resource, id)
	}
	slog.Error("Failed to load record", "error", err, "resource", resource, "id", id)
	return fmt.Errorf("failed to load %s: %w", resource, err)
}

// Interview operations

func (r *GORMRepository) CreateInterview(ctx context.Context, interview *models.Interview) error {
	if err := r.create(ctx, interview); err != nil {
		slog.Error("Failed to create interview", "error", err, "user_id", interview.UserID)
		return err
	}
	slog.Info("Interview created", "interview_id", interview.ID, "user_id", interview.UserID)
	return nil
}

func (r *GORMRepository) FindInterview(ctx context.Context, id string) (*models.Interview, error) {
	var interview models.Interview
	if err := r.first(ctx, &interview, "interview", id, "id = ?", id); err != nil {
		return nil, err
	}
	return &interview, nil
}

func (r *GORMRepository) SaveInterview(ctx context.Context, interview *models.Interview) error {
	if err := r.saveVersioned(ctx, interview, &interview.Version); err != nil {
		slog.Error("Failed to save interview", "error", err, "interview_id", interview.ID, "status", interview.Status)
		return err
	}
	return nil
}

func (r *GORMRepository) ListInterviews(ctx context.Context, userID string) ([]models.Interview, error) {
	var interviews []models.Interview
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&interviews).Error
	if err != nil {
		slog.Error("Failed to list interviews", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to list interviews: %w", err)
	}
	return interviews, nil
}

// Artifact operations

func (r *GORMRepository) CreateArtifact(ctx context.Context, artifact *models.Artifact) error {
	if err := r.create(ctx, artifact); err != nil {
		slog.Error("Failed to create artifact", "error", err, "storage_name", artifact.StorageName)
		return err
	}
	slog.Info("Artifact created", "artifact_id", artifact.ID, "user_id", artifact.UserID, "category", artifact.Category)
	return nil
}

func (r *GORMRepository) FindArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	var artifact models.Artifact
	if err := r.first(ctx, &artifact, "artifact", id, "id = ?", id); err != nil {
		return nil, err
	}
	return &artifact, nil
}

func (r *GORMRepository) SaveArtifact(ctx context.Context, artifact *models.Artifact) error {
	if err := r.saveVersioned(ctx, artifact, &artifact.Version); err != nil {
		slog.Error("Failed to save artifact", "error", err, "artifact_id", artifact.ID, "status", artifact.ProcessingStatus)
		return err
	}
	return nil
}

func (r *GORMRepository) ListArtifacts(ctx context.Context, userID string) ([]models.Artifact, error) {
	var artifacts []models.Artifact
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&artifacts).Error
	if err != nil {
		slog.Error("Failed to list artifacts", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	return artifacts, nil
}

// CountArtifacts counts a user's artifacts in the given status. An empty
// status counts all of them.
func (r *GORMRepository) CountArtifacts(ctx context.Context, userID string, status models.ProcessingStatus) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.Artifact{}).Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("processing_status = ?", status)
	}
	if err := query.Count(&count).Error; err != nil {
		slog.Error("Failed to count artifacts", "error", err, "user_id", userID)
		return 0, fmt.Errorf("failed to count artifacts: %w", err)
	}
	return count, nil
}

func (r *GORMRepository) DeleteArtifact(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Artifact{}).Error; err != nil {
		slog.Error("Failed to delete artifact", "error", err, "artifact_id", id)
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	slog.Info("Artifact deleted", "artifact_id", id)
	return nil
}

// Transcript rating operations

func (r *GORMRepository) CreateRating(ctx context.Context, rating *models.TranscriptRating) error {
	if err := r.create(ctx, rating); err != nil {
		slog.Error("Failed to create transcript rating", "error", err, "user_id", rating.UserID)
		return err
	}
	slog.Info("Transcript rating created", "rating_id", rating.ID, "user_id", rating.UserID, "expires_at", rating.ExpiresAt)
	return nil
}

func (r *GORMRepository) FindRating(ctx context.Context, id string) (*models.TranscriptRating, error) {
	var rating models.TranscriptRating
	if err := r.first(ctx, &rating, "rating", id, "id = ?", id); err != nil {
		return nil, err
	}
	return &rating, nil
}

func (r *GORMRepository) SaveRating(ctx context.Context, rating *models.TranscriptRating) error {
	if err := r.saveVersioned(ctx, rating, &rating.Version); err != nil {
		slog.Error("Failed to save transcript rating", "error", err, "rating_id", rating.ID, "status", rating.Status)
		return err
	}
	return nil
}

// DeleteExpiredRatings removes every rating past its expiry or already
// marked expired, and returns how many were removed.
func (r *GORMRepository) DeleteExpiredRatings(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ? OR status = ?", now.UTC(), models.RatingExpired).
		Delete(&models.TranscriptRating{})
	if result.Error != nil {
		slog.Error("Failed to delete expired ratings", "error", result.Error)
		return 0, fmt.Errorf("failed to delete expired ratings: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CountRatings counts ratings in the given status. An empty status counts
// all of them.
func (r *GORMRepository) CountRatings(ctx context.Context, status models.RatingStatus) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.TranscriptRating{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&count).Error; err != nil {
		slog.Error("Failed to count ratings", "error", err, "status", status)
		return 0, fmt.Errorf("failed to count ratings: %w", err)
	}
	return count, nil
}
