package models

import (
	"strings"
	"time"

	"github.com/3than777/Elocutionist-sub004/apperr"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultRatingTTL is how long a transcript rating is kept.
const DefaultRatingTTL = 24 * time.Hour

type RatingStatus string

const (
	RatingPending RatingStatus = "pending"
	RatingRated   RatingStatus = "rated"
	RatingError   RatingStatus = "error"
	RatingExpired RatingStatus = "expired"
)

// RatingMessage is one turn of the conversation snapshot.
type RatingMessage struct {
	Sender    Speaker   `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ProfileSnapshot is the user's profile as it was when the rating was
// requested.
type ProfileSnapshot struct {
	Name            string   `json:"name,omitempty"`
	TargetRole      string   `json:"target_role,omitempty"`
	ExperienceLevel string   `json:"experience_level,omitempty"`
	Skills          []string `json:"skills,omitempty"`
	Background      string   `json:"background,omitempty"`
}

// InterviewContext is captured at creation and never refreshed.
type InterviewContext struct {
	Difficulty            string          `json:"difficulty"`
	InterviewType         string          `json:"interview_type"`
	Profile               ProfileSnapshot `json:"profile"`
	TargetDurationMinutes int             `json:"target_duration_minutes"`
}

// TranscriptRating is a short-lived, one-shot rating of a conversation.
type TranscriptRating struct {
	ID                string                               `gorm:"primaryKey;size:36" json:"id"`
	UserID            string                               `gorm:"size:36;not null;index" json:"user_id"`
	Messages          datatypes.JSONSlice[RatingMessage]   `gorm:"not null" json:"messages"`
	Context           datatypes.JSONType[InterviewContext] `gorm:"not null" json:"interview_context"`
	Status            RatingStatus                         `gorm:"size:20;not null;index" json:"status"`
	AIRating          *string                              `gorm:"type:text" json:"ai_rating,omitempty"`
	ErrorMessage      *string                              `gorm:"type:text" json:"error_message,omitempty"`
	RatingGeneratedAt *time.Time                           `json:"rating_generated_at,omitempty"`
	ExpiresAt         time.Time                            `gorm:"not null;index" json:"expires_at"`
	Version           int                                  `gorm:"not null" json:"version"`
	CreatedAt         time.Time                            `json:"created_at"`
	UpdatedAt         time.Time                            `json:"updated_at"`
}

// NewTranscriptRating validates the snapshot and stamps the expiry.
func NewTranscriptRating(userID string, messages []RatingMessage, ctx InterviewContext, now time.Time, ttl time.Duration) (*TranscriptRating, error) {
	if len(messages) == 0 {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "at least one message is required")
	}
	for i := range messages {
		if messages[i].Sender != SpeakerAI && messages[i].Sender != SpeakerUser {
			return nil, apperr.Validation(apperr.CodeInvalidInput, "message sender must be ai or user")
		}
		if strings.TrimSpace(messages[i].Text) == "" {
			return nil, apperr.Validation(apperr.CodeInvalidInput, "message text is required")
		}
		if messages[i].Timestamp.IsZero() {
			messages[i].Timestamp = now
		}
	}
	if ttl <= 0 {
		ttl = DefaultRatingTTL
	}

	return &TranscriptRating{
		ID:        uuid.New().String(),
		UserID:    userID,
		Messages:  datatypes.NewJSONSlice(messages),
		Context:   datatypes.NewJSONType(ctx),
		Status:    RatingPending,
		ExpiresAt: now.Add(ttl),
		Version:   1,
		CreatedAt: now,
	}, nil
}

func (r *TranscriptRating) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = RatingPending
	}
	if r.Version == 0 {
		r.Version = 1
	}
	return nil
}

func (r *TranscriptRating) OwnedBy(userID string) bool {
	return r.UserID == userID
}

// IsExpired is true once now is past ExpiresAt.
func (r *TranscriptRating) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

func (r *TranscriptRating) MarkExpired() {
	r.Status = RatingExpired
}

// BeginRating re-affirms pending before a remote call. Rated and expired
// records cannot be re-rated.
func (r *TranscriptRating) BeginRating() error {
	switch r.Status {
	case RatingPending, RatingError:
		r.Status = RatingPending
		r.ErrorMessage = nil
		return nil
	default:
		return apperr.InvalidTransition("rating", string(r.Status), string(RatingPending))
	}
}

func (r *TranscriptRating) Rate(text string, now time.Time) error {
	if r.Status != RatingPending {
		return apperr.InvalidTransition("rating", string(r.Status), string(RatingRated))
	}
	r.Status = RatingRated
	r.AIRating = &text
	r.ErrorMessage = nil
	r.RatingGeneratedAt = &now
	return nil
}

func (r *TranscriptRating) FailRating(message string) error {
	if r.Status != RatingPending {
		return apperr.InvalidTransition("rating", string(r.Status), string(RatingError))
	}
	r.Status = RatingError
	r.ErrorMessage = &message
	return nil
}
