package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/3than777/Elocutionist-sub004/apperr"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Speaker string

const (
	SpeakerUser   Speaker = "user"
	SpeakerAI     Speaker = "ai"
	SpeakerSystem Speaker = "system"
)

func (s Speaker) Valid() bool {
	return s == SpeakerUser || s == SpeakerAI || s == SpeakerSystem
}

// TranscriptEntry is one utterance. OffsetMillis is assigned on append.
type TranscriptEntry struct {
	Speaker        Speaker  `json:"speaker"`
	Text           string   `json:"text"`
	OffsetMillis   int64    `json:"offset_millis"`
	AudioRef       string   `json:"audio_ref,omitempty"`
	Confidence     *float64 `json:"confidence,omitempty"`
	DurationMillis *int64   `json:"duration_millis,omitempty"`
}

// PipelineStatus holds the three sub-pipelines of a recording. They move
// independently and never block one another.
type PipelineStatus struct {
	Transcription ProcessingStatus `gorm:"size:20;not null" json:"transcription"`
	Analysis      ProcessingStatus `gorm:"size:20;not null" json:"analysis"`
	Feedback      ProcessingStatus `gorm:"size:20;not null" json:"feedback"`
}

// VocalAnalysis is computed by the caller from the recorded audio.
type VocalAnalysis struct {
	WordsPerMinute     float64 `json:"words_per_minute"`
	FillerWordCount    int     `json:"filler_word_count"`
	PauseCount         int     `json:"pause_count"`
	AveragePauseMillis int64   `json:"average_pause_millis"`
	VolumeConsistency  float64 `json:"volume_consistency"`
	ClarityScore       float64 `json:"clarity_score"`
	Notes              string  `json:"notes,omitempty"`
}

// FeedbackReport is the structured result of feedback generation.
type FeedbackReport struct {
	OverallRating   int            `json:"overall_rating"`
	CategoryScores  map[string]int `json:"category_scores"`
	Strengths       []string       `json:"strengths"`
	Weaknesses      []string       `json:"weaknesses"`
	Recommendations []string       `json:"recommendations"`
	Summary         string         `json:"summary"`
}

func (r FeedbackReport) Validate() error {
	if r.OverallRating < 1 || r.OverallRating > 10 {
		return apperr.Permanent(apperr.CodeMalformedResponse, fmt.Errorf("overall rating %d outside 1-10", r.OverallRating))
	}
	for name, score := range r.CategoryScores {
		if score < 0 || score > 100 {
			return apperr.Permanent(apperr.CodeMalformedResponse, fmt.Errorf("category %q score %d outside 0-100", name, score))
		}
	}
	return nil
}

// SessionRecording is the per-interview transcript and feedback aggregate.
// It is never deleted, only marked inactive when the session ends.
type SessionRecording struct {
	ID                  string                               `gorm:"primaryKey;size:36" json:"id"`
	InterviewID         string                               `gorm:"size:36;not null;uniqueIndex" json:"interview_id"`
	UserID              string                               `gorm:"size:36;not null;index" json:"user_id"`
	Transcript          datatypes.JSONSlice[TranscriptEntry] `gorm:"not null" json:"transcript"`
	Status              PipelineStatus                       `gorm:"embedded;embeddedPrefix:status_" json:"status"`
	VocalAnalysis       *VocalAnalysis                       `gorm:"type:text;serializer:json" json:"vocal_analysis,omitempty"`
	AnalysisError       *string                              `gorm:"type:text" json:"analysis_error,omitempty"`
	Feedback            *FeedbackReport                      `gorm:"type:text;serializer:json" json:"feedback,omitempty"`
	FeedbackError       *string                              `gorm:"type:text" json:"feedback_error,omitempty"`
	FeedbackStartedAt   *time.Time                           `json:"feedback_started_at,omitempty"`
	FeedbackGeneratedAt *time.Time                           `json:"feedback_generated_at,omitempty"`
	OverallScore        *int                                 `json:"overall_score,omitempty"`
	IsActive            bool                                 `gorm:"not null;index" json:"is_active"`
	SessionStartTime    time.Time                            `gorm:"not null" json:"session_start_time"`
	SessionEndTime      *time.Time                           `json:"session_end_time,omitempty"`
	DurationMillis      *int64                               `json:"duration_millis,omitempty"`
	Version             int                                  `gorm:"not null" json:"version"`
	CreatedAt           time.Time                            `json:"created_at"`
	UpdatedAt           time.Time                            `json:"updated_at"`
}

// NewSessionRecording returns an empty, active recording started at now.
func NewSessionRecording(interviewID, userID string, now time.Time) *SessionRecording {
	return &SessionRecording{
		ID:          uuid.New().String(),
		InterviewID: interviewID,
		UserID:      userID,
		Transcript:  datatypes.JSONSlice[TranscriptEntry]{},
		Status: PipelineStatus{
			Transcription: StatusPending,
			Analysis:      StatusPending,
			Feedback:      StatusPending,
		},
		IsActive:         true,
		SessionStartTime: now,
		Version:          1,
	}
}

func (r *SessionRecording) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Transcript == nil {
		r.Transcript = datatypes.JSONSlice[TranscriptEntry]{}
	}
	if r.Version == 0 {
		r.Version = 1
	}
	return nil
}

func (r *SessionRecording) OwnedBy(userID string) bool {
	return r.UserID == userID
}

// Ended reports whether EndSession has run.
func (r *SessionRecording) Ended() bool {
	return !r.IsActive || r.SessionEndTime != nil
}

// AppendEntry stamps the entry's offset from the session start and appends
// it. Earlier entries are never touched. The offset is clamped so the
// sequence stays non-decreasing even if the clock steps back.
func (r *SessionRecording) AppendEntry(entry TranscriptEntry, now time.Time) (TranscriptEntry, error) {
	if r.Ended() {
		return entry, apperr.Conflict(apperr.CodeInvalidState, "session has ended")
	}
	if r.Status.Transcription == StatusCompleted {
		return entry, apperr.Conflict(apperr.CodeInvalidState, "transcript is already finalized")
	}
	if !entry.Speaker.Valid() {
		return entry, apperr.Validation(apperr.CodeInvalidInput, fmt.Sprintf("unknown speaker %q", entry.Speaker))
	}
	entry.Text = strings.TrimSpace(entry.Text)
	if entry.Text == "" {
		return entry, apperr.Validation(apperr.CodeInvalidInput, "transcript text is required")
	}
	if entry.Confidence != nil && (*entry.Confidence < 0 || *entry.Confidence > 1) {
		return entry, apperr.Validation(apperr.CodeInvalidInput, "confidence must be between 0 and 1")
	}

	offset := now.Sub(r.SessionStartTime).Milliseconds()
	if offset < 0 {
		offset = 0
	}
	if n := len(r.Transcript); n > 0 && offset < r.Transcript[n-1].OffsetMillis {
		offset = r.Transcript[n-1].OffsetMillis
	}
	entry.OffsetMillis = offset

	if r.Status.Transcription != StatusProcessing {
		if err := r.Status.Transcription.transition("transcription", StatusProcessing); err != nil {
			return entry, err
		}
		r.Status.Transcription = StatusProcessing
	}
	r.Transcript = append(r.Transcript, entry)
	return entry, nil
}

// CompleteTranscript finalizes transcription. Calling it again is a no-op.
func (r *SessionRecording) CompleteTranscript() error {
	switch r.Status.Transcription {
	case StatusCompleted:
		return nil
	case StatusPending, StatusFailed:
		r.Status.Transcription = StatusProcessing
	}
	if err := r.Status.Transcription.transition("transcription", StatusCompleted); err != nil {
		return err
	}
	r.Status.Transcription = StatusCompleted
	return nil
}

// FailTranscription records that speech-to-text failed. Entries already
// appended are kept.
func (r *SessionRecording) FailTranscription() error {
	if r.Status.Transcription == StatusFailed {
		return nil
	}
	if r.Status.Transcription == StatusPending {
		r.Status.Transcription = StatusProcessing
	}
	if err := r.Status.Transcription.transition("transcription", StatusFailed); err != nil {
		return err
	}
	r.Status.Transcription = StatusFailed
	return nil
}

// SetVocalAnalysis stores a caller-computed analysis and completes the
// analysis sub-pipeline.
func (r *SessionRecording) SetVocalAnalysis(analysis VocalAnalysis) error {
	if analysis.ClarityScore < 0 || analysis.ClarityScore > 100 {
		return apperr.Validation(apperr.CodeInvalidInput, "clarity score must be between 0 and 100")
	}
	if analysis.VolumeConsistency < 0 || analysis.VolumeConsistency > 1 {
		return apperr.Validation(apperr.CodeInvalidInput, "volume consistency must be between 0 and 1")
	}
	if analysis.WordsPerMinute < 0 || analysis.FillerWordCount < 0 || analysis.PauseCount < 0 || analysis.AveragePauseMillis < 0 {
		return apperr.Validation(apperr.CodeInvalidInput, "analysis metrics cannot be negative")
	}
	r.VocalAnalysis = &analysis
	r.AnalysisError = nil
	r.Status.Analysis = StatusCompleted
	return nil
}

func (r *SessionRecording) FailAnalysis(message string) error {
	if r.Status.Analysis == StatusCompleted {
		return apperr.InvalidTransition("analysis", string(StatusCompleted), string(StatusFailed))
	}
	r.AnalysisError = &message
	r.Status.Analysis = StatusFailed
	return nil
}

// HasUserContent reports whether any user-authored entry carries text.
func (r *SessionRecording) HasUserContent() bool {
	for _, e := range r.Transcript {
		if e.Speaker == SpeakerUser && strings.TrimSpace(e.Text) != "" {
			return true
		}
	}
	return false
}

func (r *SessionRecording) BeginFeedback(now time.Time) error {
	if err := r.Status.Feedback.transition("feedback", StatusProcessing); err != nil {
		return err
	}
	r.Status.Feedback = StatusProcessing
	r.FeedbackError = nil
	r.FeedbackStartedAt = &now
	return nil
}

// CompleteFeedback stores the report and derives OverallScore from it.
func (r *SessionRecording) CompleteFeedback(report FeedbackReport, now time.Time) error {
	if err := r.Status.Feedback.transition("feedback", StatusCompleted); err != nil {
		return err
	}
	if err := report.Validate(); err != nil {
		return err
	}
	score := report.OverallRating * 10
	r.Feedback = &report
	r.FeedbackGeneratedAt = &now
	r.FeedbackError = nil
	r.OverallScore = &score
	r.Status.Feedback = StatusCompleted
	return nil
}

func (r *SessionRecording) FailFeedback(message string) error {
	if err := r.Status.Feedback.transition("feedback", StatusFailed); err != nil {
		return err
	}
	r.FeedbackError = &message
	r.Status.Feedback = StatusFailed
	return nil
}

// End marks the session inactive and fixes its duration. It returns false
// when the session had already ended; the first end time is kept.
func (r *SessionRecording) End(now time.Time) bool {
	if r.Ended() {
		return false
	}
	r.IsActive = false
	r.SessionEndTime = &now
	if r.DurationMillis == nil {
		d := now.Sub(r.SessionStartTime).Milliseconds()
		if d < 0 {
			d = 0
		}
		r.DurationMillis = &d
	}
	return true
}

// Duration is the stored duration once ended, otherwise time elapsed so far.
func (r *SessionRecording) Duration(now time.Time) time.Duration {
	if r.DurationMillis != nil {
		return time.Duration(*r.DurationMillis) * time.Millisecond
	}
	return now.Sub(r.SessionStartTime)
}

// TranscriptText renders the transcript as speaker-prefixed lines.
func (r *SessionRecording) TranscriptText() string {
	var b strings.Builder
	for _, e := range r.Transcript {
		fmt.Fprintf(&b, "[%s] %s: %s\n", formatOffset(e.OffsetMillis), e.Speaker, e.Text)
	}
	return b.String()
}

func formatOffset(ms int64) string {
	secs := ms / 1000
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
