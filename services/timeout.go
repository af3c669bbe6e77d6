package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/3than777/Elocutionist-sub004/apperr"
	"github.com/3than777/Elocutionist-sub004/repository"
	"github.com/mileusna/crontab"
)

const (
	DefaultIdleTimeout = 30 * time.Minute
	sweepJobTimeout    = 5 * time.Minute
)

// ExpirySweeper runs the periodic housekeeping: expired ratings are deleted
// and sessions left idle are concluded.
type ExpirySweeper struct {
	ctab        *crontab.Crontab
	repo        *repository.GORMRepository
	ratings     *RatingService
	interviews  *InterviewService
	recordings  *RecordingService
	schedule    string
	idleTimeout time.Duration
	now         func() time.Time
}

func NewExpirySweeper(repo *repository.GORMRepository, ratings *RatingService, interviews *InterviewService, recordings *RecordingService, schedule string, idleTimeout time.Duration) *ExpirySweeper {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &ExpirySweeper{
		ctab:        crontab.New(),
		repo:        repo,
		ratings:     ratings,
		interviews:  interviews,
		recordings:  recordings,
		schedule:    schedule,
		idleTimeout: idleTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps once, then on every tick of the schedule until ctx is done.
func (s *ExpirySweeper) Run(ctx context.Context) error {
	s.sweep(ctx)

	if err := s.ctab.AddJob(s.schedule, func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), sweepJobTimeout)
		defer cancel()
		s.sweep(jobCtx)
	}); err != nil {
		return fmt.Errorf("failed to add sweep job: %w", err)
	}
	slog.Info("Expiry sweep scheduled", "schedule", s.schedule, "idle_timeout", s.idleTimeout)

	<-ctx.Done()
	s.ctab.Shutdown()
	return nil
}

// SweepResult reports what one sweep removed or concluded.
type SweepResult struct {
	RatingsDeleted    int64 `json:"ratings_deleted"`
	RatingsRemaining  int64 `json:"ratings_remaining"`
	SessionsConcluded int   `json:"sessions_concluded"`
}

// Sweep runs one pass immediately.
func (s *ExpirySweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	deleted, err := s.ratings.SweepExpired(ctx, s.now())
	if err != nil {
		return result, err
	}
	result.RatingsDeleted = deleted

	remaining, err := s.repo.CountRatings(ctx, "")
	if err != nil {
		return result, err
	}
	result.RatingsRemaining = remaining

	concluded, err := s.concludeIdleSessions(ctx)
	result.SessionsConcluded = concluded
	return result, err
}

func (s *ExpirySweeper) sweep(ctx context.Context) {
	result, err := s.Sweep(ctx)
	if err != nil {
		slog.Error("Expiry sweep failed", "error", err)
		return
	}
	slog.Info("Expiry sweep finished",
		"ratings_deleted", result.RatingsDeleted,
		"ratings_remaining", result.RatingsRemaining,
		"sessions_concluded", result.SessionsConcluded)
}

// concludeIdleSessions completes the interview behind every recording that
// has seen no writes for the idle timeout, which also ends the recording.
func (s *ExpirySweeper) concludeIdleSessions(ctx context.Context) (int, error) {
	idle, err := s.repo.ListIdleRecordings(ctx, s.now().Add(-s.idleTimeout))
	if err != nil {
		return 0, err
	}

	concluded := 0
	for _, recording := range idle {
		slog.Info("Session idle, concluding",
			"interview_id", recording.InterviewID,
			"inactive_since", recording.UpdatedAt)

		_, err := s.interviews.Complete(ctx, recording.UserID, recording.InterviewID, nil)
		if apperr.IsKind(err, apperr.KindConflict) || apperr.IsKind(err, apperr.KindNotFound) {
			_, err = s.recordings.EndSession(ctx, recording.UserID, recording.InterviewID)
		}
		if err != nil {
			slog.Warn("Failed to conclude idle session", "interview_id", recording.InterviewID, "error", err)
			continue
		}
		concluded++
	}
	return concluded, nil
}
