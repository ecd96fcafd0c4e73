package app

import (
	"context"
	"time"

	"devotionai/pkg/ai"
	"devotionai/pkg/domain"
)

const sweepBatch = 100

// Failure messages written by the sweep.
const (
	msgInterrupted     = "generation interrupted"
	msgNotAcknowledged = "submission not acknowledged by provider"
	msgAbandoned       = "abandoned: provider never completed the job"
)

// SweepResult counts what one reconciliation pass did.
type SweepResult struct {
	Checked     int `json:"checked"`
	Settled     int `json:"settled"`
	Failed      int `json:"failed"`
	Resubmitted int `json:"resubmitted"`
	Pending     int `json:"pending"`
}

// Reconcile settles generation attempts stuck in started: submissions the
// provider never acknowledged, and jobs whose webhook never arrived.
func (a *App) Reconcile(ctx context.Context) (SweepResult, error) {
	now := a.now()
	stale, err := a.store.ListStaleGenerationLogs(ctx, now.Add(-a.staleAfter), sweepBatch)
	if err != nil {
		return SweepResult{}, err
	}
	var res SweepResult
	for _, entry := range stale {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++
		switch {
		case entry.Field != domain.FieldAvatarVideo:
			if a.fail(ctx, entry, msgInterrupted, now) {
				res.Failed++
			}
		case entry.ProviderJobID == "":
			if !a.fail(ctx, entry, msgNotAcknowledged, now) {
				continue
			}
			res.Failed++
			if a.resubmit(ctx, entry) {
				res.Resubmitted++
			}
		default:
			a.poll(ctx, entry, now, &res)
		}
	}
	if res.Checked > 0 {
		a.logger.InfoContext(ctx, "reconcile", "checked", res.Checked, "settled", res.Settled, "failed", res.Failed, "resubmitted", res.Resubmitted, "pending", res.Pending)
	}
	return res, nil
}

func (a *App) poll(ctx context.Context, entry domain.GenerationLogEntry, now time.Time, res *SweepResult) {
	if a.video == nil {
		res.Pending++
		return
	}
	status, err := a.video.VideoStatus(ctx, entry.ProviderJobID)
	if err != nil {
		a.logger.WarnContext(ctx, "video_status_failed", "job_id", entry.ProviderJobID, "err", err)
		res.Pending++
		return
	}
	switch status.State {
	case ai.VideoCompleted, ai.VideoFailed:
		success := status.State == ai.VideoCompleted
		outcome, err := a.HandleCallback(ctx, CallbackResult{
			JobID:     entry.ProviderJobID,
			Success:   success,
			ResultURL: status.VideoURL,
			Error:     status.Error,
		})
		if err != nil {
			a.logger.ErrorContext(ctx, "reconcile_settle_failed", "job_id", entry.ProviderJobID, "err", err)
			return
		}
		if outcome != OutcomeApplied {
			return
		}
		if success && status.VideoURL != "" {
			res.Settled++
		} else {
			res.Failed++
		}
	default:
		if now.Sub(entry.CreatedAt) < a.abandonAfter {
			res.Pending++
			return
		}
		if a.fail(ctx, entry, msgAbandoned, now) {
			res.Failed++
		}
	}
}

// fail marks a started attempt failed; false means someone else settled it first.
func (a *App) fail(ctx context.Context, entry domain.GenerationLogEntry, msg string, now time.Time) bool {
	won, err := a.store.SettleGenerationLog(ctx, entry.ID, domain.GenerationFailed, msg, durationSince(entry.CreatedAt, now), now)
	if err != nil {
		a.logger.ErrorContext(ctx, "reconcile_fail_write", "log_id", entry.ID, "err", err)
		return false
	}
	if won {
		a.logger.WarnContext(ctx, "generation_failed_by_sweep", "log_id", entry.ID, "content_item_id", entry.ContentItemID, "field", entry.Field, "reason", msg)
	}
	return won
}

func (a *App) resubmit(ctx context.Context, entry domain.GenerationLogEntry) bool {
	if !a.resubmitEnabled || a.video == nil || entry.Attempt >= a.maxVideoAttempts {
		return false
	}
	payload, err := decodePayload(entry.Payload)
	if err != nil {
		a.logger.WarnContext(ctx, "resubmit_skipped", "log_id", entry.ID, "err", err)
		return false
	}
	payload.CallbackID = ""
	raw, err := payload.Encode()
	if err != nil {
		return false
	}
	next, err := a.startAttempt(ctx, entry.ContentItemID, entry.Field, raw)
	if err != nil {
		a.logger.ErrorContext(ctx, "resubmit_log_failed", "content_item_id", entry.ContentItemID, "err", err)
		return false
	}
	if _, err := a.dispatch(ctx, next, payload); err != nil {
		return false
	}
	return true
}

// RunSweeper reconciles on every tick until ctx is done.
func (a *App) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := a.Reconcile(ctx); err != nil && ctx.Err() == nil {
				a.logger.ErrorContext(ctx, "reconcile_failed", "err", err)
			}
		}
	}
}
