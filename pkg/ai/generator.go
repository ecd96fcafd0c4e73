package ai

import (
	"context"
	"encoding/json"
)

// TextGenerator generates text from a system prompt and user prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// VideoRequest is the input for one avatar video render.
type VideoRequest struct {
	Script      string `json:"script"`
	AvatarID    string `json:"avatarId"`
	VoiceID     string `json:"voiceId"`
	Title       string `json:"title,omitempty"`
	CallbackID  string `json:"callbackId,omitempty"`
	CallbackURL string `json:"callbackUrl,omitempty"`
}

// Encode serializes the request for the generation log payload.
func (r VideoRequest) Encode() (json.RawMessage, error) {
	return json.Marshal(r)
}

// DecodeVideoRequest restores a request stored by Encode.
func DecodeVideoRequest(raw json.RawMessage) (VideoRequest, error) {
	var r VideoRequest
	err := json.Unmarshal(raw, &r)
	return r, err
}

// Video job states reported by providers.
const (
	VideoPending   = "pending"
	VideoCompleted = "completed"
	VideoFailed    = "failed"
)

// VideoStatus is a provider's view of a job.
type VideoStatus struct {
	JobID    string
	State    string
	VideoURL string
	Error    string
}

// VideoProvider submits asynchronous avatar video jobs and reports their state.
type VideoProvider interface {
	SubmitVideo(ctx context.Context, req VideoRequest) (jobID string, err error)
	VideoStatus(ctx context.Context, jobID string) (VideoStatus, error)
}
