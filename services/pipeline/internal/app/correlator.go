package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"devotionai/pkg/ai"
	"devotionai/pkg/domain"
	"devotionai/pkg/store"
)

// CallbackOutcome reports what a provider callback did.
type CallbackOutcome string

const (
	OutcomeApplied   CallbackOutcome = "applied"
	OutcomeDuplicate CallbackOutcome = "duplicate"
)

// CallbackResult is the normalized completion report of a provider job.
type CallbackResult struct {
	JobID string
	// CallbackID is the log entry id we handed to the provider, when echoed back.
	CallbackID string
	Success    bool
	ResultURL  string
	Error      string
}

// SubmitJob starts an asynchronous generation. The started log row is
// committed before the provider is called so that a crash in between leaves a
// trace for the sweep. A provider failure leaves that row started.
func (a *App) SubmitJob(ctx context.Context, contentItemID, field string, payload ai.VideoRequest) (string, error) {
	if field != domain.FieldAvatarVideo {
		return "", fmt.Errorf("%w: field %q is not generated asynchronously", domain.ErrInvalidInput, field)
	}
	if a.video == nil {
		return "", fmt.Errorf("%w: video provider not configured", domain.ErrProviderError)
	}
	if _, err := a.GetContent(ctx, contentItemID); err != nil {
		return "", err
	}
	raw, err := payload.Encode()
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	entry, err := a.startAttempt(ctx, contentItemID, field, raw)
	if err != nil {
		return "", fmt.Errorf("create generation log: %w", err)
	}
	return a.dispatch(ctx, entry, payload)
}

// dispatch sends the request for an already logged attempt and attaches the job id.
func (a *App) dispatch(ctx context.Context, entry domain.GenerationLogEntry, payload ai.VideoRequest) (string, error) {
	payload.CallbackID = entry.ID
	if payload.CallbackURL == "" {
		payload.CallbackURL = a.callbackURL
	}

	submitCtx, cancel := context.WithTimeout(ctx, a.submitTimeout)
	defer cancel()
	jobID, err := a.video.SubmitVideo(submitCtx, payload)
	if err != nil {
		a.logger.WarnContext(ctx, "video_submit_failed", "log_id", entry.ID, "content_item_id", entry.ContentItemID, "err", err)
		return "", fmt.Errorf("%w: %v", domain.ErrProviderError, err)
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return "", fmt.Errorf("%w: provider returned no job id", domain.ErrProviderError)
	}

	attached, err := a.store.AttachProviderJobID(ctx, entry.ID, jobID)
	if err != nil {
		return "", fmt.Errorf("attach job id: %w", err)
	}
	if !attached {
		// A callback that echoed our callback id got here first.
		a.logger.InfoContext(ctx, "video_job_already_attached", "log_id", entry.ID, "job_id", jobID)
	}
	a.logger.InfoContext(ctx, "video_submitted", "log_id", entry.ID, "content_item_id", entry.ContentItemID, "job_id", jobID, "attempt", entry.Attempt)
	return jobID, nil
}

// SubmitAvatarVideo renders the narration script of an item with its creator's avatar.
func (a *App) SubmitAvatarVideo(ctx context.Context, contentItemID string) (string, error) {
	item, err := a.GetContent(ctx, contentItemID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(item.NarrationScript) == "" {
		return "", fmt.Errorf("%w: narration script required before rendering", domain.ErrInvalidInput)
	}
	if item.CreatorID == "" {
		return "", fmt.Errorf("%w: content item has no creator", domain.ErrInvalidInput)
	}
	creator, ok, err := a.store.GetCreator(ctx, item.CreatorID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrCreatorNotFound, item.CreatorID)
	}
	if creator.AvatarID == "" || creator.VoiceID == "" {
		return "", fmt.Errorf("%w: creator has no avatar or voice configured", domain.ErrInvalidInput)
	}
	return a.SubmitJob(ctx, item.ID, domain.FieldAvatarVideo, ai.VideoRequest{
		Script:   item.NarrationScript,
		AvatarID: creator.AvatarID,
		VoiceID:  creator.VoiceID,
		Title:    fmt.Sprintf("%s %s %s", item.PostDate, item.Mode, item.Language),
	})
}

// HandleCallback applies a provider completion report exactly once.
// Unknown jobs return domain.ErrUnknownJob; repeats report OutcomeDuplicate.
func (a *App) HandleCallback(ctx context.Context, result CallbackResult) (CallbackOutcome, error) {
	result.JobID = strings.TrimSpace(result.JobID)
	if result.JobID == "" {
		return "", fmt.Errorf("%w: job id required", domain.ErrInvalidInput)
	}
	var outcome CallbackOutcome
	err := a.store.InTx(ctx, func(tx store.Tx) error {
		entry, ok, err := tx.LockGenerationLogByJobID(ctx, result.JobID)
		if err != nil {
			return err
		}
		if !ok && result.CallbackID != "" {
			// The callback beat the job id attach; correlate through our own id.
			entry, ok, err = adoptJobID(ctx, tx, result.CallbackID, result.JobID)
			if err != nil {
				return err
			}
		}
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrUnknownJob, result.JobID)
		}
		outcome, err = a.settle(ctx, tx, entry, result)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrUnknownJob) {
			a.logger.WarnContext(ctx, "callback_unknown_job", "job_id", result.JobID)
		}
		return "", err
	}
	a.logger.InfoContext(ctx, "callback_handled", "job_id", result.JobID, "outcome", outcome, "success", result.Success)
	return outcome, nil
}

func adoptJobID(ctx context.Context, tx store.Tx, logID, jobID string) (domain.GenerationLogEntry, bool, error) {
	entry, ok, err := tx.GetGenerationLog(ctx, logID)
	if err != nil || !ok {
		return domain.GenerationLogEntry{}, false, err
	}
	if entry.ProviderJobID != "" && entry.ProviderJobID != jobID {
		return domain.GenerationLogEntry{}, false, nil
	}
	if entry.ProviderJobID == "" {
		if _, err := tx.AttachProviderJobID(ctx, logID, jobID); err != nil {
			return domain.GenerationLogEntry{}, false, err
		}
	}
	return tx.LockGenerationLogByJobID(ctx, jobID)
}

// settle writes the terminal state of a started attempt. Both the webhook and
// the sweep go through here; the conditional update picks one winner.
func (a *App) settle(ctx context.Context, tx store.Tx, entry domain.GenerationLogEntry, result CallbackResult) (CallbackOutcome, error) {
	if entry.Status.Terminal() {
		return OutcomeDuplicate, nil
	}
	status := domain.GenerationSuccess
	errMsg := ""
	url := strings.TrimSpace(result.ResultURL)
	if !result.Success || url == "" {
		status = domain.GenerationFailed
		errMsg = strings.TrimSpace(result.Error)
		if errMsg == "" && result.Success {
			errMsg = "provider reported success without a result url"
		}
		if errMsg == "" {
			errMsg = "provider reported failure"
		}
	}
	now := a.now()
	won, err := tx.SettleGenerationLog(ctx, entry.ID, status, errMsg, durationSince(entry.CreatedAt, now), now)
	if err != nil {
		return "", err
	}
	if !won {
		return OutcomeDuplicate, nil
	}
	if status == domain.GenerationSuccess {
		if err := tx.SetContentField(ctx, entry.ContentItemID, entry.Field, url); err != nil {
			return "", err
		}
	}
	return OutcomeApplied, nil
}

func decodePayload(raw json.RawMessage) (ai.VideoRequest, error) {
	if len(raw) == 0 {
		return ai.VideoRequest{}, errors.New("no stored payload")
	}
	return ai.DecodeVideoRequest(raw)
}
