package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/viper"

	"github.com/casefront/outbound/internal/dal/interfaces/iactivityrepo"
	"github.com/casefront/outbound/internal/dal/interfaces/iattemptrepo"
	"github.com/casefront/outbound/internal/dal/interfaces/iauditrepo"
	"github.com/casefront/outbound/internal/dal/interfaces/imessagerepo"
	"github.com/casefront/outbound/internal/provider"
	"github.com/casefront/outbound/internal/service/models/attempt"
	"github.com/casefront/outbound/internal/service/models/message"
	"github.com/casefront/outbound/internal/telemetry"
)

// Worker drives queued messages to completion. Each tick reclaims stale
// SENDING rows, selects due messages, and dispatches them sequentially
// through the provider registry. Multiple worker processes may run the same
// pass; correctness under overlap relies on stale reclaim plus the
// providers' tolerance of duplicate sends (at-least-once).
type Worker struct {
	messageRepo  imessagerepo.IMessageRepository
	attemptRepo  iattemptrepo.IAttemptRepository
	auditRepo    iauditrepo.IAuditRepository
	activityRepo iactivityrepo.IActivityRepository
	registry     *provider.Registry
	metrics      *telemetry.PipelineMetrics

	pollInterval   time.Duration
	staleAfter     time.Duration
	batchSize      int
	backoffMinutes []int

	now    func() time.Time
	stopCh chan struct{}
}

// NewWorker creates a new delivery worker.
func NewWorker(
	messageRepo imessagerepo.IMessageRepository,
	attemptRepo iattemptrepo.IAttemptRepository,
	auditRepo iauditrepo.IAuditRepository,
	activityRepo iactivityrepo.IActivityRepository,
	registry *provider.Registry,
	metrics *telemetry.PipelineMetrics,
) *Worker {
	pollIntervalSeconds := viper.GetInt("worker.poll_interval_seconds")
	if pollIntervalSeconds == 0 {
		pollIntervalSeconds = 5
	}

	batchSize := viper.GetInt("worker.batch_size")
	if batchSize == 0 {
		batchSize = 50
	}

	staleAfterMinutes := viper.GetInt("worker.stale_after_minutes")
	if staleAfterMinutes == 0 {
		staleAfterMinutes = 10
	}

	backoffMinutes := viper.GetIntSlice("worker.backoff_minutes")
	if len(backoffMinutes) == 0 {
		backoffMinutes = defaultBackoffMinutes
	}

	return &Worker{
		messageRepo:    messageRepo,
		attemptRepo:    attemptRepo,
		auditRepo:      auditRepo,
		activityRepo:   activityRepo,
		registry:       registry,
		metrics:        metrics,
		pollInterval:   time.Duration(pollIntervalSeconds) * time.Second,
		staleAfter:     time.Duration(staleAfterMinutes) * time.Minute,
		batchSize:      batchSize,
		backoffMinutes: backoffMinutes,
		now:            time.Now,
		stopCh:         make(chan struct{}),
	}
}

// Start begins processing queued messages until the context is canceled or
// Stop is called.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	slog.Info("Delivery worker started",
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
		"stale_after", w.staleAfter,
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Delivery worker shutting down")

			return
		case <-w.stopCh:
			slog.Info("Delivery worker stopped")

			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

// Stop stops the worker.
func (w *Worker) Stop() {
	close(w.stopCh)
}

// processBatch performs one worker pass: stale reclaim, selection, dispatch.
// Dossier activities produced by the pass are flushed in one batch at the
// end of the tick.
func (w *Worker) processBatch(ctx context.Context) {
	now := w.now()

	reclaimed, err := w.messageRepo.ReclaimStale(ctx, now.Add(-w.staleAfter), now)
	if err != nil {
		slog.Error("Failed to reclaim stale messages", "error", err)
	} else if reclaimed > 0 {
		slog.Warn("Reclaimed stale messages back to queue", "count", reclaimed)
	}

	messages, err := w.messageRepo.SelectDue(ctx, now, w.batchSize)
	if err != nil {
		slog.Error("Failed to select due messages", "error", err)

		return
	}

	if len(messages) == 0 {
		return
	}

	slog.Info("Dispatching due messages", "count", len(messages))

	var activities []iactivityrepo.Entry
	for i := range messages {
		activities = append(activities, w.dispatch(ctx, &messages[i])...)
	}

	if len(activities) > 0 {
		if err := w.activityRepo.LogActivities(ctx, activities); err != nil {
			slog.Error("Failed to record dossier activities", "count", len(activities), "error", err)
		}
	}
}

// dispatch runs the full state machine for one message and returns the
// dossier activities it produced. A failure inside a single dispatch never
// stops the rest of the batch.
func (w *Worker) dispatch(ctx context.Context, msg *message.OutboundMessage) []iactivityrepo.Entry {
	now := w.now()

	// A crash during the final attempt leaves a reclaimed message with no
	// attempts remaining; another dispatch would push attemptCount past its
	// cap, so it dead-letters here instead.
	if !msg.AttemptsLeft() {
		msg.Status = message.StatusFailed
		msg.UpdatedAt = now
		if msg.ErrorCode == "" {
			msg.ErrorCode = provider.CodeWorkerError
			msg.ErrorMessage = ReasonMaxAttempts
		}
		if err := w.messageRepo.Update(ctx, msg); err != nil {
			slog.Error("Failed to dead-letter exhausted message", "message_id", msg.ID, "error", err)

			return nil
		}

		w.metrics.RecordDeadLetter(ctx, msg.Channel, msg.ErrorCode)
		w.audit(ctx, msg, "failed",
			fmt.Sprintf("dead-lettered after attempt %d (%s): %s", msg.AttemptCount, ReasonMaxAttempts, msg.ErrorCode))

		slog.Error("Message dead-lettered",
			"message_id", msg.ID,
			"channel", msg.Channel,
			"attempt", msg.AttemptCount,
			"error_code", msg.ErrorCode,
			"reason", ReasonMaxAttempts,
		)

		return activityEntry(msg, "message_failed",
			fmt.Sprintf("%s message to %s failed: %s", msg.Channel, msg.To, ReasonMaxAttempts))
	}

	msg.Status = message.StatusSending
	msg.AttemptCount++
	msg.UpdatedAt = now
	if err := w.messageRepo.Update(ctx, msg); err != nil {
		slog.Error("Failed to mark message as sending", "message_id", msg.ID, "error", err)

		return nil
	}

	att, err := w.attemptRepo.Insert(ctx, attempt.OutboundAttempt{
		OutboundMessageID: msg.ID,
		AttemptNo:         msg.AttemptCount,
		Status:            attempt.StatusTrying,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		slog.Error("Failed to record attempt", "message_id", msg.ID, "error", err)

		return nil
	}

	res := w.send(ctx, msg)

	return w.apply(ctx, msg, att, res)
}

// send resolves the adapter and invokes it. Adapter errors and panics are
// converted into retryable failures so dispatch always reaches apply.
func (w *Worker) send(ctx context.Context, msg *message.OutboundMessage) (res provider.SendResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Adapter panicked", "message_id", msg.ID, "channel", msg.Channel, "panic", r)
			res = provider.Failed(provider.CodeWorkerError, fmt.Sprintf("adapter panic: %v", r), true, nil)
		}
	}()

	adapter, ok := w.registry.Resolve(msg.Channel)
	if !ok {
		return provider.Failed(provider.CodeNoProvider,
			fmt.Sprintf("no adapter registered for channel %s", msg.Channel), true, nil)
	}

	res, err := adapter.Send(ctx, msg)
	if err != nil {
		slog.Error("Adapter returned unexpected error", "message_id", msg.ID, "error", err)

		return provider.Failed(provider.CodeWorkerError, err.Error(), true, nil)
	}

	return res
}

// apply persists the outcome decision and emits audit, activity, and metric
// side effects.
func (w *Worker) apply(
	ctx context.Context,
	msg *message.OutboundMessage,
	att attempt.OutboundAttempt,
	res provider.SendResult,
) []iactivityrepo.Entry {
	now := w.now()
	d := decide(msg, res, now, w.backoffMinutes)

	msg.Status = d.status
	msg.UpdatedAt = now

	switch d.status {
	case message.StatusSent:
		msg.ErrorCode = ""
		msg.ErrorMessage = ""
		msg.ProviderMessageID = res.ProviderMessageID
	default:
		msg.ErrorCode = res.ErrorCode
		msg.ErrorMessage = res.ErrorMessage
	}

	if err := w.messageRepo.Update(ctx, msg); err != nil {
		slog.Error("Failed to persist message outcome", "message_id", msg.ID, "error", err)

		return nil
	}

	switch d.status {
	case message.StatusSent:
		return w.applySent(ctx, msg, att, res, now)
	case message.StatusQueued:
		w.applyRetry(ctx, msg, att, res, d)

		return nil
	case message.StatusFailed:
		return w.applyDeadLetter(ctx, msg, att, res, d)
	}

	return nil
}

func (w *Worker) applySent(
	ctx context.Context,
	msg *message.OutboundMessage,
	att attempt.OutboundAttempt,
	res provider.SendResult,
	now time.Time,
) []iactivityrepo.Entry {
	if err := w.attemptRepo.MarkSuccess(ctx, att.ID, res.Response); err != nil {
		slog.Error("Failed to finalize attempt", "attempt_id", att.ID, "error", err)
	}

	w.metrics.RecordSuccess(ctx, msg.Channel, now.Sub(msg.CreatedAt).Seconds())

	w.audit(ctx, msg, "sent",
		fmt.Sprintf("delivered on attempt %d, provider id %s", msg.AttemptCount, msg.ProviderMessageID))

	slog.Info("Message delivered",
		"message_id", msg.ID,
		"channel", msg.Channel,
		"attempt", msg.AttemptCount,
		"provider_message_id", msg.ProviderMessageID,
	)

	return activityEntry(msg, "message_sent",
		fmt.Sprintf("%s message delivered to %s", msg.Channel, msg.To))
}

func (w *Worker) applyRetry(
	ctx context.Context,
	msg *message.OutboundMessage,
	att attempt.OutboundAttempt,
	res provider.SendResult,
	d decision,
) {
	if err := w.attemptRepo.MarkFailed(ctx, att.ID, res.ErrorCode, res.ErrorMessage, d.nextRetryAt, res.Response); err != nil {
		slog.Error("Failed to finalize attempt", "attempt_id", att.ID, "error", err)
	}

	w.metrics.RecordFailure(ctx, msg.Channel, res.ErrorCode)
	w.metrics.RecordRetry(ctx, msg.Channel)

	slog.Warn("Delivery failed, retry scheduled",
		"message_id", msg.ID,
		"channel", msg.Channel,
		"attempt", msg.AttemptCount,
		"error_code", res.ErrorCode,
		"next_retry", d.nextRetryAt,
	)
}

func (w *Worker) applyDeadLetter(
	ctx context.Context,
	msg *message.OutboundMessage,
	att attempt.OutboundAttempt,
	res provider.SendResult,
	d decision,
) []iactivityrepo.Entry {
	if err := w.attemptRepo.MarkFailed(ctx, att.ID, res.ErrorCode, res.ErrorMessage, nil, res.Response); err != nil {
		slog.Error("Failed to finalize attempt", "attempt_id", att.ID, "error", err)
	}

	w.metrics.RecordFailure(ctx, msg.Channel, res.ErrorCode)
	w.metrics.RecordDeadLetter(ctx, msg.Channel, res.ErrorCode)

	w.audit(ctx, msg, "failed",
		fmt.Sprintf("dead-lettered after attempt %d (%s): %s", msg.AttemptCount, d.reason, res.ErrorCode))

	slog.Error("Message dead-lettered",
		"message_id", msg.ID,
		"channel", msg.Channel,
		"attempt", msg.AttemptCount,
		"error_code", res.ErrorCode,
		"reason", d.reason,
	)

	return activityEntry(msg, "message_failed",
		fmt.Sprintf("%s message to %s failed: %s", msg.Channel, msg.To, d.reason))
}

func (w *Worker) audit(ctx context.Context, msg *message.OutboundMessage, action, description string) {
	if err := w.auditRepo.LogEvent(ctx, "outbound_message", msg.ID, action, description); err != nil {
		slog.Error("Failed to emit audit event", "message_id", msg.ID, "error", err)
	}
}

// activityEntry builds the dossier timeline entry for a message outcome.
// Messages without a dossier produce none.
func activityEntry(msg *message.OutboundMessage, activityType, description string) []iactivityrepo.Entry {
	if msg.DossierID == nil {
		return nil
	}

	metadata := map[string]string{
		"channel": string(msg.Channel),
	}
	if msg.ErrorCode != "" {
		metadata["errorCode"] = msg.ErrorCode
	}

	return []iactivityrepo.Entry{{
		DossierID:   *msg.DossierID,
		Type:        activityType,
		Description: description,
		Metadata:    metadata,
	}}
}
