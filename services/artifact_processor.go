package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/3than777/Elocutionist-sub004/apperr"
	"github.com/3than777/Elocutionist-sub004/models"
	"github.com/3than777/Elocutionist-sub004/retry"
)

// ArtifactStore is the persistence the processor needs.
type ArtifactStore interface {
	FindArtifact(ctx context.Context, id string) (*models.Artifact, error)
	SaveArtifact(ctx context.Context, artifact *models.Artifact) error
}

// ArtifactProcessor drives one artifact through extraction. Inner retries
// come from the retry policy; once those are spent on a transient error the
// whole run is rescheduled, up to the reschedule budget.
type ArtifactProcessor struct {
	store      ArtifactStore
	extractor  Extractor
	policy     retry.Policy
	reschedule retry.ReschedulePolicy
	scheduler  retry.Scheduler
	retryOpts  []retry.Option
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewArtifactProcessor(store ArtifactStore, extractor Extractor, cfg ProcessingConfig, scheduler retry.Scheduler) *ArtifactProcessor {
	ctx, cancel := context.WithCancel(context.Background())
	return &ArtifactProcessor{
		store:      store,
		extractor:  extractor,
		policy:     cfg.Retry,
		reschedule: cfg.Reschedule,
		scheduler:  scheduler,
		now:        func() time.Time { return time.Now().UTC() },
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Submit processes the artifact in the background. A reschedule still
// pending for it is dropped.
func (p *ArtifactProcessor) Submit(artifactID string, raw []byte) {
	if p.scheduler != nil {
		p.scheduler.Cancel(rescheduleKey(artifactID))
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.abandon(artifactID, r)
			}
		}()
		if err := p.Process(p.ctx, artifactID, raw); err != nil {
			slog.Warn("Artifact processing failed", "artifact_id", artifactID, "error", err)
		}
	}()
}

// Process runs one full extraction pass. The outcome is always persisted
// before it returns, and the error is returned as well.
func (p *ArtifactProcessor) Process(ctx context.Context, artifactID string, raw []byte) error {
	artifact, err := p.store.FindArtifact(ctx, artifactID)
	if err != nil {
		return err
	}
	if err := artifact.BeginProcessing(); err != nil {
		return err
	}
	if err := p.store.SaveArtifact(ctx, artifact); err != nil {
		return fmt.Errorf("failed to mark artifact processing: %w", err)
	}

	slog.Info("Processing artifact",
		"artifact_id", artifact.ID,
		"category", artifact.Category,
		"size", len(raw),
		"reschedule", artifact.RescheduleCount)

	policy := p.policy
	policy.Retryable = apperr.IsRetryable

	started := p.now()
	text, err := retry.Execute(ctx, policy, "extract_artifact", func(ctx context.Context, attempt int) (string, error) {
		artifact.ExtractionAttempts++
		extracted, err := p.extract(ctx, artifact, raw)
		if err != nil {
			return "", err
		}
		return artifact.ValidateExtracted(extracted)
	}, p.retryOpts...)
	took := p.now().Sub(started)
	artifactProcessingDuration.WithLabelValues(string(artifact.Category)).Observe(took.Seconds())

	// The result is persisted even when the caller has gone away.
	saveCtx := context.WithoutCancel(ctx)

	if err != nil {
		return p.fail(saveCtx, artifact, raw, err, took)
	}

	if err := artifact.Complete(text, took); err != nil {
		return err
	}
	if err := p.store.SaveArtifact(saveCtx, artifact); err != nil {
		return fmt.Errorf("failed to save extracted text: %w", err)
	}

	artifactOutcomesTotal.WithLabelValues(string(artifact.Category), "completed").Inc()
	slog.Info("Artifact processed",
		"artifact_id", artifact.ID,
		"attempts", artifact.ExtractionAttempts,
		"text_length", len(text),
		"duration_ms", took.Milliseconds())
	return nil
}

// extract runs the extractor and turns a panic into rejected content.
func (p *ArtifactProcessor) extract(ctx context.Context, artifact *models.Artifact, raw []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", apperr.Permanent(apperr.CodeContentRejected, fmt.Errorf("extractor panicked: %v", r))
		}
	}()
	return p.extractor.Extract(ctx, artifact.Category, artifact.MimeType, raw)
}

// abandon marks an artifact failed after a background run panicked outside
// extraction.
func (p *ArtifactProcessor) abandon(artifactID string, cause any) {
	slog.Error("Artifact processing panicked", "artifact_id", artifactID, "panic", cause)
	ctx := context.WithoutCancel(p.ctx)
	artifact, err := p.store.FindArtifact(ctx, artifactID)
	if err != nil {
		slog.Error("Failed to load abandoned artifact", "artifact_id", artifactID, "error", err)
		return
	}
	if artifact.ProcessingStatus != models.StatusProcessing {
		return
	}
	if err := artifact.Fail(apperr.UserMessage(apperr.Internal("processing panicked", nil)), 0); err != nil {
		return
	}
	if err := p.store.SaveArtifact(ctx, artifact); err != nil {
		slog.Error("Failed to persist abandoned artifact", "artifact_id", artifactID, "error", err)
		return
	}
	artifactOutcomesTotal.WithLabelValues(string(artifact.Category), "failed").Inc()
}

func (p *ArtifactProcessor) fail(ctx context.Context, artifact *models.Artifact, raw []byte, cause error, took time.Duration) error {
	reschedule := apperr.IsRetryable(cause) && p.scheduler != nil && p.reschedule.Allows(artifact.RescheduleCount)

	if err := artifact.Fail(apperr.UserMessage(cause), took); err != nil {
		return errors.Join(cause, err)
	}
	if reschedule {
		artifact.RescheduleCount++
	}
	if err := p.store.SaveArtifact(ctx, artifact); err != nil {
		slog.Error("Failed to persist artifact failure", "artifact_id", artifact.ID, "error", err)
		return errors.Join(cause, err)
	}

	if !reschedule {
		artifactOutcomesTotal.WithLabelValues(string(artifact.Category), "failed").Inc()
		slog.Error("Artifact processing failed",
			"artifact_id", artifact.ID,
			"kind", apperr.KindOf(cause),
			"attempts", artifact.ExtractionAttempts,
			"reschedules", artifact.RescheduleCount,
			"error", cause)
		return cause
	}

	delay := p.reschedule.Delay(artifact.RescheduleCount)
	artifactID := artifact.ID
	scheduled := p.scheduler.Schedule(rescheduleKey(artifactID), delay, func() {
		if err := p.Process(p.ctx, artifactID, raw); err != nil {
			slog.Warn("Rescheduled artifact run failed", "artifact_id", artifactID, "error", err)
		}
	})
	if !scheduled {
		// Shutting down: the failure is final and the count is rolled back.
		artifact.RescheduleCount--
		if err := p.store.SaveArtifact(ctx, artifact); err != nil {
			slog.Error("Failed to persist artifact failure", "artifact_id", artifactID, "error", err)
		}
		artifactOutcomesTotal.WithLabelValues(string(artifact.Category), "failed").Inc()
		slog.Error("Artifact reschedule dropped, scheduler closed",
			"artifact_id", artifactID,
			"attempts", artifact.ExtractionAttempts,
			"error", cause)
		return cause
	}

	artifactOutcomesTotal.WithLabelValues(string(artifact.Category), "rescheduled").Inc()
	slog.Warn("Artifact processing rescheduled",
		"artifact_id", artifactID,
		"reschedule", artifact.RescheduleCount,
		"max_reschedules", p.reschedule.MaxReschedules,
		"delay", delay,
		"error", cause)
	return cause
}

func rescheduleKey(artifactID string) string {
	return "artifact:" + artifactID
}

// Close stops pending reschedules and waits for submitted runs to finish.
// A run that fails during shutdown is recorded as failed, not rescheduled.
func (p *ArtifactProcessor) Close() {
	if p.scheduler != nil {
		p.scheduler.Close()
	}
	p.wg.Wait()
	p.cancel()
}
