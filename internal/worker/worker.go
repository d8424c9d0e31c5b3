// Package worker processes a single work unit end to end: claim, resume,
// harvest, append, complete.
package worker

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/metrics"
)

const archiveContentType = "application/x-ndjson"

// Config controls Worker behavior.
type Config struct {
	// WorkerID identifies this process in lock files and outcome events.
	WorkerID string
	// ArchivePrefix is prepended to archived log paths.
	ArchivePrefix string
}

// Worker runs the per-unit protocol. It never returns an error: every
// failure is folded into the outcome of the event it reports.
type Worker struct {
	checkpoints harvest.CheckpointStore
	claims      harvest.Claimer
	harvester   harvest.Harvester
	archive     harvest.BlobStore
	clock       harvest.Clock
	cfg         Config
	tracer      trace.Tracer
	logger      *zap.Logger
}

// New constructs a Worker. archive may be nil to skip archiving.
func New(
	checkpoints harvest.CheckpointStore,
	claims harvest.Claimer,
	harvester harvest.Harvester,
	archive harvest.BlobStore,
	clock harvest.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		checkpoints: checkpoints,
		claims:      claims,
		harvester:   harvester,
		archive:     archive,
		clock:       clock,
		cfg:         cfg,
		tracer:      otel.Tracer("github.com/JakeFAU/review-harvester/internal/worker"),
		logger:      logger,
	}
}

// Process handles one unit and reports what happened. itemCap <= 0 means no cap.
func (w *Worker) Process(ctx context.Context, unitID string, itemCap int) harvest.OutcomeEvent {
	unitID = strings.TrimSpace(unitID)
	event := harvest.OutcomeEvent{
		UnitID:    unitID,
		WorkerID:  w.cfg.WorkerID,
		StartedAt: w.clock.Now(),
	}

	ctx, span := w.tracer.Start(ctx, "worker.Process", trace.WithAttributes(attribute.String("unit_id", unitID)))
	defer span.End()
	metrics.IncActiveUnits()
	defer metrics.DecActiveUnits()

	outcome, err := w.process(ctx, unitID, itemCap, &event)
	event.Outcome = outcome
	event.FinishedAt = w.clock.Now()
	event.DurationMs = event.FinishedAt.Sub(event.StartedAt).Milliseconds()
	if err != nil {
		event.ErrorText = err.Error()
		span.RecordError(err)
	}

	span.SetAttributes(
		attribute.String("outcome", string(outcome)),
		attribute.Int("records_appended", event.RecordsAppended),
	)
	metrics.ObserveUnit(string(outcome))

	fields := []zap.Field{
		zap.String("unit_id", unitID),
		zap.String("outcome", string(outcome)),
		zap.Int("records_appended", event.RecordsAppended),
		zap.Int("pages", event.Pages),
	}
	switch {
	case err != nil && !outcome.Acknowledge():
		w.logger.Error(outcome.Status(unitID), append(fields, zap.Error(err))...)
	case err != nil:
		w.logger.Warn(outcome.Status(unitID), append(fields, zap.Error(err))...)
	default:
		w.logger.Info(outcome.Status(unitID), fields...)
	}
	return event
}

func (w *Worker) process(ctx context.Context, unitID string, itemCap int, event *harvest.OutcomeEvent) (harvest.Outcome, error) {
	done, err := w.claims.IsComplete(ctx, unitID)
	if err != nil {
		return harvest.OutcomeFailedLockError, fmt.Errorf("check completion: %w", err)
	}
	if done {
		return harvest.OutcomeSkippedCompleted, nil
	}

	claim, err := w.claims.TryClaim(ctx, unitID)
	if err != nil {
		return harvest.OutcomeFailedLockError, fmt.Errorf("claim unit: %w", err)
	}
	switch claim {
	case harvest.AlreadyDone:
		return harvest.OutcomeSkippedCompleted, nil
	case harvest.Busy:
		return harvest.OutcomeSkippedLocked, nil
	}

	defer func() {
		if err := w.claims.Release(ctx, unitID); err != nil {
			w.logger.Error("release lock failed", zap.String("unit_id", unitID), zap.Error(err))
		}
	}()
	return w.harvestClaimed(ctx, unitID, itemCap, event)
}

// harvestClaimed runs while the lock is held. Panics become FAILED_SAVE_ERROR
// so the caller still releases the lock.
func (w *Worker) harvestClaimed(ctx context.Context, unitID string, itemCap int, event *harvest.OutcomeEvent) (outcome harvest.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = harvest.OutcomeFailedSaveError
			err = fmt.Errorf("panic while processing unit: %v", r)
		}
	}()

	var resume *string
	cursor, found, err := w.checkpoints.LastCursor(ctx, unitID)
	if err != nil {
		return harvest.OutcomeFailedSaveError, fmt.Errorf("read checkpoint: %w", err)
	}
	if found {
		resume = &cursor
		event.LastCursor = cursor
		w.logger.Info("resuming unit", zap.String("unit_id", unitID), zap.String("cursor", cursor))
	}

	result, err := w.harvester.Harvest(ctx, unitID, resume, itemCap)
	if err != nil {
		return harvest.OutcomeFailedSaveError, fmt.Errorf("harvest: %w", err)
	}
	event.Pages = result.Pages

	if err := w.checkpoints.Append(ctx, unitID, result.Records); err != nil {
		return harvest.OutcomeFailedSaveError, fmt.Errorf("append records: %w", err)
	}
	event.RecordsAppended = len(result.Records)
	if len(result.Records) > 0 {
		event.LastCursor = result.Records[len(result.Records)-1].Cursor
	}
	metrics.ObserveRecords(len(result.Records))

	if result.Signal != harvest.SignalExhausted {
		if result.Reason != "" {
			return harvest.OutcomeIncomplete, errors.New(result.Reason)
		}
		return harvest.OutcomeIncomplete, nil
	}

	if err := w.claims.MarkComplete(ctx, unitID); err != nil {
		return harvest.OutcomeFailedSaveError, fmt.Errorf("mark complete: %w", err)
	}
	w.archiveLog(ctx, unitID)
	return harvest.OutcomeSuccessCompleted, nil
}

// archiveLog copies the finished log to the blob store. Failures are logged
// only; the unit is already complete.
func (w *Worker) archiveLog(ctx context.Context, unitID string) {
	if w.archive == nil {
		return
	}
	rc, err := w.checkpoints.Open(ctx, unitID)
	if err != nil {
		w.logger.Warn("archive skipped", zap.String("unit_id", unitID), zap.Error(err))
		return
	}
	defer rc.Close()

	uri, err := w.archive.PutObject(ctx, w.archivePath(unitID), archiveContentType, rc)
	if err != nil {
		w.logger.Warn("archive failed", zap.String("unit_id", unitID), zap.Error(err))
		return
	}
	w.logger.Info("log archived", zap.String("unit_id", unitID), zap.String("uri", uri))
}

func (w *Worker) archivePath(unitID string) string {
	name := unitID + "_reviews.jsonl"
	prefix := strings.Trim(w.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
