package models

import (
	"mime"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/3than777/Elocutionist-sub004/apperr"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ArtifactCategory decides which extractor handles an upload.
type ArtifactCategory string

const (
	CategoryImage    ArtifactCategory = "image"
	CategoryPDF      ArtifactCategory = "pdf"
	CategoryText     ArtifactCategory = "text"
	CategoryDocument ArtifactCategory = "document"
)

// MaxExtractedChars caps the stored text per category, in runes.
var MaxExtractedChars = map[ArtifactCategory]int{
	CategoryImage:    20_000,
	CategoryPDF:      200_000,
	CategoryText:     100_000,
	CategoryDocument: 200_000,
}

// CategoryForMIME maps a detected content type to a category.
func CategoryForMIME(contentType string) (ArtifactCategory, bool) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}

	switch mediaType {
	case "application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.oasis.opendocument.text",
		"application/rtf",
		"text/rtf":
		return CategoryDocument, true
	case "application/pdf":
		return CategoryPDF, true
	case "application/json":
		return CategoryText, true
	}

	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return CategoryImage, true
	case strings.HasPrefix(mediaType, "text/"):
		return CategoryText, true
	}
	return "", false
}

// Artifact is an uploaded file and its text extraction record. Upload
// metadata is fixed at creation; only the processing fields change after.
type Artifact struct {
	ID                   string           `gorm:"primaryKey;size:36" json:"id"`
	UserID               string           `gorm:"size:36;not null;index" json:"user_id"`
	StorageName          string           `gorm:"size:255;not null;uniqueIndex" json:"storage_name"`
	OriginalName         string           `gorm:"size:255;not null" json:"original_name"`
	MimeType             string           `gorm:"size:150;not null" json:"mime_type"`
	Size                 int64            `gorm:"not null" json:"size"`
	Category             ArtifactCategory `gorm:"size:20;not null;index" json:"category"`
	ProcessingStatus     ProcessingStatus `gorm:"size:20;not null;index" json:"processing_status"`
	ExtractedText        *string          `gorm:"type:text" json:"extracted_text,omitempty"`
	ErrorMessage         *string          `gorm:"type:text" json:"error_message,omitempty"`
	ProcessingDurationMs *int64           `json:"processing_duration_ms,omitempty"`
	ExtractionAttempts   int              `gorm:"not null" json:"extraction_attempts"`
	RescheduleCount      int              `gorm:"not null" json:"reschedule_count"`
	Version              int              `gorm:"not null" json:"version"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

func (a *Artifact) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.ProcessingStatus == "" {
		a.ProcessingStatus = StatusPending
	}
	if a.Version == 0 {
		a.Version = 1
	}
	return nil
}

// BeginProcessing enters processing from pending or failed.
func (a *Artifact) BeginProcessing() error {
	if err := a.ProcessingStatus.transition("artifact", StatusProcessing); err != nil {
		return err
	}
	a.ProcessingStatus = StatusProcessing
	a.ExtractedText = nil
	a.ErrorMessage = nil
	return nil
}

func (a *Artifact) Complete(text string, took time.Duration) error {
	if err := a.ProcessingStatus.transition("artifact", StatusCompleted); err != nil {
		return err
	}
	a.ProcessingStatus = StatusCompleted
	a.ExtractedText = &text
	a.ErrorMessage = nil
	a.setDuration(took)
	return nil
}

func (a *Artifact) Fail(message string, took time.Duration) error {
	if err := a.ProcessingStatus.transition("artifact", StatusFailed); err != nil {
		return err
	}
	a.ProcessingStatus = StatusFailed
	a.ExtractedText = nil
	a.ErrorMessage = &message
	a.setDuration(took)
	return nil
}

func (a *Artifact) setDuration(took time.Duration) {
	ms := took.Milliseconds()
	a.ProcessingDurationMs = &ms
}

// ValidateExtracted trims text and checks it against the category's rules.
func (a *Artifact) ValidateExtracted(text string) (string, error) {
	text = strings.TrimSpace(strings.ToValidUTF8(text, ""))
	if text == "" {
		return "", apperr.Validation(apperr.CodeEmptyText, "no readable text could be extracted from the file")
	}
	if limit, ok := MaxExtractedChars[a.Category]; ok && utf8.RuneCountInString(text) > limit {
		return "", apperr.Validation(apperr.CodeTooLarge, "extracted text exceeds the size limit for this file type")
	}
	return text, nil
}

func (a *Artifact) OwnedBy(userID string) bool {
	return a.UserID == userID
}
