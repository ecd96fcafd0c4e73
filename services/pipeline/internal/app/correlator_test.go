package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"devotionai/pkg/ai"
	"devotionai/pkg/domain"
)

func videoRequest() ai.VideoRequest {
	return ai.VideoRequest{Script: "Good morning.", AvatarID: "avatar-a", VoiceID: "voice-a"}
}

func TestSubmitJobAttachesProviderJobID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addItem(t, "d1", "2026-03-01", domain.ModeBible, domain.StatusGenerated, "")

	jobID, err := env.app.SubmitJob(ctx, "d1", domain.FieldAvatarVideo, videoRequest())
	if err != nil {
		t.Fatalf("submit job: %v", err)
	}
	if jobID != "job-1" {
		t.Fatalf("unexpected job id %q", jobID)
	}
	logs, err := env.app.ListGenerationLogs(ctx, "d1")
	if err != nil || len(logs) != 1 {
		t.Fatalf("logs: %v %+v", err, logs)
	}
	entry := logs[0]
	if entry.Status != domain.GenerationStarted || entry.ProviderJobID != "job-1" || entry.Attempt != 1 {
		t.Fatalf("unexpected log entry: %+v", entry)
	}
	if len(entry.Payload) == 0 {
		t.Fatalf("payload should be stored for resubmission")
	}
	sent := env.video.submitted()
	if len(sent) != 1 || sent[0].CallbackID != entry.ID || sent[0].CallbackURL != "https://pipeline.test/webhooks/video" {
		t.Fatalf("unexpected provider request: %+v", sent)
	}
}

func TestSubmitJobProviderFailureLeavesStartedRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addItem(t, "d1", "2026-03-01", domain.ModeBible, domain.StatusGenerated, "")
	env.video.submitErr = errors.New("503 from provider")

	if _, err := env.app.SubmitJob(ctx, "d1", domain.FieldAvatarVideo, videoRequest()); !errors.Is(err, domain.ErrProviderError) {
		t.Fatalf("expected provider error, got %v", err)
	}
	logs, _ := env.app.ListGenerationLogs(ctx, "d1")
	if len(logs) != 1 || logs[0].Status != domain.GenerationStarted || logs[0].ProviderJobID != "" {
		t.Fatalf("expected a started row without job id, got %+v", logs)
	}
}

func TestSubmitJobValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addItem(t, "d1", "2026-03-01", domain.ModeBible, domain.StatusGenerated, "")

	if _, err := env.app.SubmitJob(ctx, "d1", domain.FieldReflection, videoRequest()); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("text field: got %v", err)
	}
	if _, err := env.app.SubmitJob(ctx, "missing", domain.FieldAvatarVideo, videoRequest()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing item: got %v", err)
	}
	if n := len(env.video.submitted()); n != 0 {
		t.Fatalf("provider should not be called, got %d calls", n)
	}
}

func TestSubmitAvatarVideoUsesCreatorAvatar(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addCreator(t, activeCreator("a", 5))
	item := env.addItem(t, "d1", "2026-03-01", domain.ModeBible, domain.StatusAssigned, "a")

	if _, err := env.app.SubmitAvatarVideo(ctx, "d1"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input without narration, got %v", err)
	}

	item.NarrationScript = "Today we read Psalm 23."
	if err := env.store.UpdateContentItem(ctx, item); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := env.app.SubmitAvatarVideo(ctx, "d1"); err != nil {
		t.Fatalf("submit avatar video: %v", err)
	}
	sent := env.video.submitted()
	if len(sent) != 1 || sent[0].AvatarID != "avatar-a" || sent[0].VoiceID != "voice-a" || sent[0].Script != item.NarrationScript {
		t.Fatalf("unexpected request: %+v", sent)
	}
}

func TestHandleCallbackAppliesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addItem(t, "d1", "2026-03-01", domain.ModeBible, domain.StatusGenerated, "")
	jobID, err := env.app.SubmitJob(ctx, "d1", domain.FieldAvatarVideo, videoRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	const callers = 8
	outcomes := make(chan CallbackOutcome, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := env.app.HandleCallback(ctx, CallbackResult{JobID: jobID, Success: true, ResultURL: "https://cdn.test/avatar.mp4"})
			if err != nil {
				t.Errorf("callback: %v", err)
				return
			}
			outcomes <- out
		}()
	}
	wg.Wait()
	close(outcomes)

	applied := 0
	for out := range outcomes {
		if out == OutcomeApplied {
			applied++
		}
	}
	if applied != 1 {
		t.Fatalf("expected exactly one applied callback, got %d", applied)
	}
	if got := env.item(t, "d1"); got.AIVideoURL != "https://cdn.test/avatar.mp4" {
		t.Fatalf("ai video url not set: %+v", got)
	}
	logs, _ := env.app.ListGenerationLogs(ctx, "d1")
	if logs[0].Status != domain.GenerationSuccess || logs[0].SettledAt == nil || logs[0].DurationMs == nil {
		t.Fatalf("unexpected settled log: %+v", logs[0])
	}

	// a late failure report cannot overwrite the success
	out, err := env.app.HandleCallback(ctx, CallbackResult{JobID: jobID, Success: false, Error: "render failed"})
	if err != nil || out != OutcomeDuplicate {
		t.Fatalf("late callback: out=%s err=%v", out, err)
	}
}

func TestHandleCallbackFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addItem(t, "d1", "2026-03-01", domain.ModeBible, domain.StatusGenerated, "")
	jobID, _ := env.app.SubmitJob(ctx, "d1", domain.FieldAvatarVideo, videoRequest())

	out, err := env.app.HandleCallback(ctx, CallbackResult{JobID: jobID, Success: false, Error: "avatar not found"})
	if err != nil || out != OutcomeApplied {
		t.Fatalf("callback: out=%s err=%v", out, err)
	}
	logs, _ := env.app.ListGenerationLogs(ctx, "d1")
	if logs[0].Status != domain.GenerationFailed || logs[0].ErrorMessage != "avatar not found" {
		t.Fatalf("unexpected log: %+v", logs[0])
	}
	if env.item(t, "d1").AIVideoURL != "" {
		t.Fatalf("failed job must not set the video url")
	}
}

func TestHandleCallbackSuccessWithoutURLFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addItem(t, "d1", "2026-03-01", domain.ModeBible, domain.StatusGenerated, "")
	jobID, _ := env.app.SubmitJob(ctx, "d1", domain.FieldAvatarVideo, videoRequest())

	if _, err := env.app.HandleCallback(ctx, CallbackResult{JobID: jobID, Success: true}); err != nil {
		t.Fatalf("callback: %v", err)
	}
	logs, _ := env.app.ListGenerationLogs(ctx, "d1")
	if logs[0].Status != domain.GenerationFailed {
		t.Fatalf("expected failed, got %+v", logs[0])
	}
}

func TestHandleCallbackUnknownJob(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.app.HandleCallback(context.Background(), CallbackResult{JobID: "nope", Success: true, ResultURL: "https://x"})
	if !errors.Is(err, domain.ErrUnknownJob) {
		t.Fatalf("expected unknown job, got %v", err)
	}
}

func TestHandleCallbackAdoptsCallbackID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addItem(t, "d1", "2026-03-01", domain.ModeBible, domain.StatusGenerated, "")
	env.video.submitErr = errors.New("timeout")
	_, _ = env.app.SubmitJob(ctx, "d1", domain.FieldAvatarVideo, videoRequest())
	logs, _ := env.app.ListGenerationLogs(ctx, "d1")
	logID := logs[0].ID

	// provider accepted the job even though our request timed out
	out, err := env.app.HandleCallback(ctx, CallbackResult{JobID: "late-job", CallbackID: logID, Success: true, ResultURL: "https://cdn.test/late.mp4"})
	if err != nil || out != OutcomeApplied {
		t.Fatalf("callback: out=%s err=%v", out, err)
	}
	entry := env.log(t, logID)
	if entry.ProviderJobID != "late-job" || entry.Status != domain.GenerationSuccess {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}
