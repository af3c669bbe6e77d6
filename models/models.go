package models

// This file serves as the central export point for all database models.

// All models are exported from their respective files:
// - Artifact from artifact.go
// - SessionRecording, TranscriptEntry, FeedbackReport from recording.go
// - TranscriptRating, RatingMessage, InterviewContext from rating.go
// - Interview from interview.go
// - ProcessingStatus from status.go

// Database schema overview:
// 1. artifacts - uploaded files and their text extraction status
// 2. session_recordings - one per interview; transcript plus three sub-pipelines
// 3. transcript_ratings - short-lived one-shot ratings, removed by the expiry sweep
// 4. interviews - interview lifecycle and session token

// All returns every model for AutoMigrate.
func All() []any {
	return []any{
		&Interview{},
		&SessionRecording{},
		&Artifact{},
		&TranscriptRating{},
	}
}
