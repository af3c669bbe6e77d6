package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/3than777/Elocutionist-sub004/apperr"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InterviewExpiry is how long a pending interview may wait to be started.
const InterviewExpiry = 24 * time.Hour

type InterviewStatus string

const (
	InterviewPending   InterviewStatus = "pending"
	InterviewActive    InterviewStatus = "active"
	InterviewCompleted InterviewStatus = "completed"
	InterviewCancelled InterviewStatus = "cancelled"
)

var interviewTransitions = map[InterviewStatus][]InterviewStatus{
	InterviewPending:   {InterviewActive, InterviewCancelled},
	InterviewActive:    {InterviewCompleted, InterviewCancelled},
	InterviewCompleted: {},
	InterviewCancelled: {},
}

func (s InterviewStatus) CanTransitionTo(target InterviewStatus) bool {
	for _, allowed := range interviewTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

func (s InterviewStatus) IsTerminal() bool {
	return s == InterviewCompleted || s == InterviewCancelled
}

// Interview is a single mock interview.
type Interview struct {
	ID                    string          `gorm:"primaryKey;size:36" json:"id"`
	UserID                string          `gorm:"size:36;not null;index" json:"user_id"`
	Title                 string          `gorm:"size:255" json:"title,omitempty"`
	InterviewType         string          `gorm:"size:50" json:"interview_type,omitempty"`
	Difficulty            string          `gorm:"size:20" json:"difficulty,omitempty"`
	TargetDurationMinutes int             `json:"target_duration_minutes,omitempty"`
	Status                InterviewStatus `gorm:"size:20;not null;index" json:"status"`
	SessionToken          *string         `gorm:"size:64;uniqueIndex" json:"session_token,omitempty"`
	StartedAt             *time.Time      `json:"started_at,omitempty"`
	CompletedAt           *time.Time      `json:"completed_at,omitempty"`
	ActualDurationMinutes *int            `json:"actual_duration_minutes,omitempty"`
	Score                 *int            `json:"score,omitempty"`
	CancelReason          *string         `gorm:"type:text" json:"cancel_reason,omitempty"`
	Version               int             `gorm:"not null" json:"version"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

func (i *Interview) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	if i.Status == "" {
		i.Status = InterviewPending
	}
	if i.Version == 0 {
		i.Version = 1
	}
	return nil
}

func (i *Interview) OwnedBy(userID string) bool {
	return i.UserID == userID
}

func (i *Interview) transition(target InterviewStatus) error {
	if !i.Status.CanTransitionTo(target) {
		return apperr.InvalidTransition("interview", string(i.Status), string(target))
	}
	return nil
}

// IsExpired is true only for a pending, never-started interview created
// more than InterviewExpiry ago.
func (i *Interview) IsExpired(now time.Time) bool {
	return i.Status == InterviewPending && i.StartedAt == nil && now.Sub(i.CreatedAt) > InterviewExpiry
}

// Start activates the interview. The session token is generated on the
// first start and kept for the interview's life.
func (i *Interview) Start(now time.Time) error {
	if err := i.transition(InterviewActive); err != nil {
		return err
	}
	if i.IsExpired(now) {
		return apperr.Conflict(apperr.CodeExpired, "interview expired before it was started")
	}
	if i.SessionToken == nil {
		token, err := newSessionToken()
		if err != nil {
			return apperr.Internal("failed to generate session token", err)
		}
		i.SessionToken = &token
	}
	i.Status = InterviewActive
	i.StartedAt = &now
	return nil
}

// Complete finishes an active interview and derives its duration in
// whole minutes, rounded.
func (i *Interview) Complete(now time.Time, score *int) error {
	if err := i.transition(InterviewCompleted); err != nil {
		return err
	}
	if score != nil && (*score < 0 || *score > 100) {
		return apperr.Validation(apperr.CodeInvalidInput, fmt.Sprintf("score %d outside 0-100", *score))
	}
	i.Status = InterviewCompleted
	i.CompletedAt = &now
	if i.StartedAt != nil {
		minutes := int(math.Round(now.Sub(*i.StartedAt).Minutes()))
		i.ActualDurationMinutes = &minutes
	}
	if score != nil {
		s := *score
		i.Score = &s
	}
	return nil
}

func (i *Interview) Cancel(reason string) error {
	if err := i.transition(InterviewCancelled); err != nil {
		return err
	}
	i.Status = InterviewCancelled
	if reason != "" {
		i.CancelReason = &reason
	}
	return nil
}

func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
