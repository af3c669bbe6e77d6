package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/3than777/Elocutionist-sub004/apperr"
	"github.com/3than777/Elocutionist-sub004/models"
	"github.com/3than777/Elocutionist-sub004/repository"
	"golang.org/x/sync/singleflight"
)

// RatingService rates a snapshot of an interview conversation. Ratings are
// short-lived and removed by the sweep once they expire.
type RatingService struct {
	repo    *repository.GORMRepository
	ai      GenerationClient
	ttl     time.Duration
	now     func() time.Time
	flights singleflight.Group
}

func NewRatingService(repo *repository.GORMRepository, ai GenerationClient, ttl time.Duration) *RatingService {
	return &RatingService{
		repo: repo,
		ai:   ai,
		ttl:  ttl,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a pending rating for the given conversation.
func (s *RatingService) Create(ctx context.Context, userID string, messages []models.RatingMessage, interviewCtx models.InterviewContext) (*models.TranscriptRating, error) {
	rating, err := models.NewTranscriptRating(userID, messages, interviewCtx, s.now(), s.ttl)
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreateRating(ctx, rating); err != nil {
		return nil, err
	}
	slog.Info("Transcript rating created", "rating_id", rating.ID, "user_id", userID, "messages", len(messages))
	return rating, nil
}

// Get returns a rating. An expired rating is marked so and reported as not
// found.
func (s *RatingService) Get(ctx context.Context, userID, ratingID string) (*models.TranscriptRating, error) {
	rating, err := s.repo.FindRating(ctx, ratingID)
	if err != nil {
		return nil, err
	}
	if !rating.OwnedBy(userID) {
		return nil, apperr.ErrForbidden
	}
	if err := s.checkExpiry(ctx, rating); err != nil {
		return nil, err
	}
	return rating, nil
}

// GenerateRating asks the model for a rating, or returns the stored one.
func (s *RatingService) GenerateRating(ctx context.Context, userID, ratingID string) (*models.TranscriptRating, error) {
	if _, err := s.Get(ctx, userID, ratingID); err != nil {
		return nil, err
	}

	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := s.flights.Do(ratingID, func() (any, error) {
		return s.generateRating(flightCtx, ratingID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.TranscriptRating), nil
}

func (s *RatingService) generateRating(ctx context.Context, ratingID string) (*models.TranscriptRating, error) {
	rating, err := s.repo.FindRating(ctx, ratingID)
	if err != nil {
		return nil, err
	}
	if err := s.checkExpiry(ctx, rating); err != nil {
		return nil, err
	}
	if rating.Status == models.RatingRated {
		ratingOutcomesTotal.WithLabelValues("cached").Inc()
		return rating, nil
	}

	if err := rating.BeginRating(); err != nil {
		return nil, err
	}
	if err := s.repo.SaveRating(ctx, rating); err != nil {
		return nil, err
	}

	slog.Info("Generating transcript rating", "rating_id", rating.ID, "messages", len(rating.Messages))
	text, err := s.ai.GenerateText(ctx, buildRatingPrompt(rating))
	if err != nil {
		ratingOutcomesTotal.WithLabelValues(string(apperr.KindOf(err))).Inc()
		if failErr := rating.FailRating(apperr.UserMessage(err)); failErr != nil {
			return nil, errors.Join(err, failErr)
		}
		if saveErr := s.repo.SaveRating(ctx, rating); saveErr != nil {
			slog.Error("Failed to persist rating failure", "rating_id", rating.ID, "error", saveErr)
			return nil, errors.Join(err, saveErr)
		}
		slog.Error("Transcript rating failed", "rating_id", rating.ID, "kind", apperr.KindOf(err), "error", err)
		return nil, err
	}

	if err := rating.Rate(text, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.SaveRating(ctx, rating); err != nil {
		ratingOutcomesTotal.WithLabelValues("discarded").Inc()
		return nil, fmt.Errorf("failed to save rating: %w", err)
	}

	ratingOutcomesTotal.WithLabelValues("rated").Inc()
	slog.Info("Transcript rated", "rating_id", rating.ID, "rating_length", len(text))
	return rating, nil
}

// checkExpiry marks a rating past its window as expired and returns
// apperr.ErrExpired for it.
func (s *RatingService) checkExpiry(ctx context.Context, rating *models.TranscriptRating) error {
	if rating.Status != models.RatingExpired && !rating.IsExpired(s.now()) {
		return nil
	}
	if rating.Status != models.RatingExpired {
		rating.MarkExpired()
		if err := s.repo.SaveRating(ctx, rating); err != nil {
			slog.Warn("Failed to mark rating expired", "rating_id", rating.ID, "error", err)
		}
	}
	return apperr.ErrExpired
}

// SweepExpired deletes every rating past its window. It returns how many
// were removed.
func (s *RatingService) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	deleted, err := s.repo.DeleteExpiredRatings(ctx, now)
	if err != nil {
		return 0, err
	}
	ratingsSweptTotal.Add(float64(deleted))
	slog.Info("Expired ratings swept", "deleted", deleted)
	return deleted, nil
}

func buildRatingPrompt(rating *models.TranscriptRating) string {
	ic := rating.Context.Data()

	var b strings.Builder
	fmt.Fprintf(&b, "Rate this %s mock interview at %s difficulty",
		valueOr(ic.InterviewType, "general"), valueOr(ic.Difficulty, "medium"))
	if ic.TargetDurationMinutes > 0 {
		fmt.Fprintf(&b, " planned for %d minutes", ic.TargetDurationMinutes)
	}
	b.WriteString(".\n")

	p := ic.Profile
	if p.TargetRole != "" || p.ExperienceLevel != "" || len(p.Skills) > 0 {
		b.WriteString("\nCandidate profile:\n")
		if p.TargetRole != "" {
			fmt.Fprintf(&b, "- Target role: %s\n", p.TargetRole)
		}
		if p.ExperienceLevel != "" {
			fmt.Fprintf(&b, "- Experience: %s\n", p.ExperienceLevel)
		}
		if len(p.Skills) > 0 {
			fmt.Fprintf(&b, "- Skills: %s\n", strings.Join(p.Skills, ", "))
		}
		if p.Background != "" {
			fmt.Fprintf(&b, "- Background: %s\n", p.Background)
		}
	}

	b.WriteString("\nConversation:\n")
	for _, m := range rating.Messages {
		role := "Interviewer"
		if m.Sender == models.SpeakerUser {
			role = "Candidate"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, m.Text)
	}

	b.WriteString(`
Give the candidate an overall score out of 10, then list their strengths,
the areas to improve and two or three concrete next steps. Keep it under 300 words.`)
	return b.String()
}
