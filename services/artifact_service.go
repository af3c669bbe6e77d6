package services

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/3than777/Elocutionist-sub004/apperr"
	"github.com/3than777/Elocutionist-sub004/models"
	"github.com/3than777/Elocutionist-sub004/repository"
	"github.com/gabriel-vasile/mimetype"
)

// ArtifactService owns uploads: it stores the raw file, records the
// artifact and hands it to the processor.
type ArtifactService struct {
	repo      *repository.GORMRepository
	files     *FileStore
	processor *ArtifactProcessor
	maxSize   int64
}

func NewArtifactService(repo *repository.GORMRepository, files *FileStore, processor *ArtifactProcessor, maxSize int64) *ArtifactService {
	return &ArtifactService{
		repo:      repo,
		files:     files,
		processor: processor,
		maxSize:   maxSize,
	}
}

// Upload validates and stores a file and starts processing in the
// background. The artifact is returned in pending state.
func (s *ArtifactService) Upload(ctx context.Context, userID, filename string, data []byte) (*models.Artifact, error) {
	if len(data) == 0 {
		return nil, apperr.Validation(apperr.CodeEmptyText, "the uploaded file is empty")
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return nil, apperr.Validation(apperr.CodeTooLarge, fmt.Sprintf("file exceeds max size of %d bytes", s.maxSize))
	}

	detected := mimetype.Detect(data)
	mimeType := detected.String()
	category, ok := models.CategoryForMIME(mimeType)
	if !ok {
		return nil, apperr.Validation(apperr.CodeUnsupported, fmt.Sprintf("unsupported file type %s", mimeType))
	}

	ext := detected.Extension()
	if ext == "" {
		ext = filepath.Ext(filename)
	}
	storageName, err := s.files.Save(ctx, "artifact", ext, data)
	if err != nil {
		return nil, apperr.Internal("failed to store upload", err)
	}

	artifact := &models.Artifact{
		UserID:           userID,
		StorageName:      storageName,
		OriginalName:     originalName(filename, storageName),
		MimeType:         mimeType,
		Size:             int64(len(data)),
		Category:         category,
		ProcessingStatus: models.StatusPending,
	}
	if err := s.repo.CreateArtifact(ctx, artifact); err != nil {
		if delErr := s.files.Delete(storageName); delErr != nil {
			slog.Warn("Failed to clean up orphaned upload", "name", storageName, "error", delErr)
		}
		return nil, err
	}

	slog.Info("Artifact uploaded",
		"artifact_id", artifact.ID,
		"user_id", userID,
		"mime_type", mimeType,
		"category", category,
		"size", artifact.Size)

	s.processor.Submit(artifact.ID, data)
	return artifact, nil
}

// Get returns an artifact owned by userID.
func (s *ArtifactService) Get(ctx context.Context, userID, artifactID string) (*models.Artifact, error) {
	artifact, err := s.repo.FindArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if !artifact.OwnedBy(userID) {
		return nil, apperr.ErrForbidden
	}
	return artifact, nil
}

func (s *ArtifactService) List(ctx context.Context, userID string) ([]models.Artifact, error) {
	return s.repo.ListArtifacts(ctx, userID)
}

// CountInStatus counts the user's artifacts in one processing status.
func (s *ArtifactService) CountInStatus(ctx context.Context, userID string, status models.ProcessingStatus) (int64, error) {
	return s.repo.CountArtifacts(ctx, userID, status)
}

// Retry re-runs processing of a failed artifact from its stored file.
func (s *ArtifactService) Retry(ctx context.Context, userID, artifactID string) (*models.Artifact, error) {
	artifact, err := s.Get(ctx, userID, artifactID)
	if err != nil {
		return nil, err
	}
	if artifact.ProcessingStatus != models.StatusFailed {
		return nil, apperr.InvalidTransition("artifact", string(artifact.ProcessingStatus), string(models.StatusProcessing))
	}

	data, err := s.files.Read(artifact.StorageName)
	if err != nil {
		return nil, err
	}

	slog.Info("Artifact retry requested", "artifact_id", artifact.ID, "user_id", userID)
	s.processor.Submit(artifact.ID, data)
	return artifact, nil
}

// Delete removes an artifact and its stored file. An artifact being
// processed cannot be deleted.
func (s *ArtifactService) Delete(ctx context.Context, userID, artifactID string) error {
	artifact, err := s.Get(ctx, userID, artifactID)
	if err != nil {
		return err
	}
	if artifact.ProcessingStatus == models.StatusProcessing {
		return apperr.Conflict(apperr.CodeInProgress, "artifact is being processed")
	}

	if err := s.repo.DeleteArtifact(ctx, artifact.ID); err != nil {
		return err
	}
	if err := s.files.Delete(artifact.StorageName); err != nil {
		slog.Warn("Failed to delete artifact file", "artifact_id", artifact.ID, "error", err)
	}

	slog.Info("Artifact deleted", "artifact_id", artifact.ID, "user_id", userID)
	return nil
}

func originalName(filename, fallback string) string {
	name := strings.TrimSpace(filepath.Base(filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return fallback
	}
	return name
}
