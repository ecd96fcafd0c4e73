package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"devotionai/internal/util"
	"devotionai/pkg/domain"
	"devotionai/services/pipeline/internal/app"
)

// HeyGen event types.
const (
	eventVideoSuccess = "avatar_video.success"
	eventVideoFail    = "avatar_video.fail"
)

// videoWebhook accepts both the HeyGen event envelope and a flat job report.
type videoWebhook struct {
	EventType string `json:"event_type"`
	EventData struct {
		VideoID    string `json:"video_id"`
		URL        string `json:"url"`
		Msg        string `json:"msg"`
		CallbackID string `json:"callback_id"`
	} `json:"event_data"`

	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	ResultURL string `json:"result_url"`
	Error     string `json:"error"`
}

func (p videoWebhook) result() (app.CallbackResult, bool) {
	switch p.EventType {
	case eventVideoSuccess, eventVideoFail:
		return app.CallbackResult{
			JobID:      p.EventData.VideoID,
			CallbackID: p.EventData.CallbackID,
			Success:    p.EventType == eventVideoSuccess,
			ResultURL:  p.EventData.URL,
			Error:      p.EventData.Msg,
		}, true
	case "":
	default:
		return app.CallbackResult{}, false
	}
	if strings.TrimSpace(p.JobID) == "" {
		return app.CallbackResult{}, false
	}
	var success bool
	switch strings.ToLower(strings.TrimSpace(p.Status)) {
	case "success", "succeeded", "completed":
		success = true
	case "failed", "fail", "error":
	default:
		// pending, processing, waiting: not a completion
		return app.CallbackResult{}, false
	}
	return app.CallbackResult{
		JobID:     p.JobID,
		Success:   success,
		ResultURL: p.ResultURL,
		Error:     p.Error,
	}, true
}

// handleVideoWebhook always answers 200 once the request is authentic, so the
// provider stops retrying. Anything not applied here is picked up by the sweep.
// With a secret configured only unsigned or forged requests count against the
// rate limit; without one the limiter wraps the whole route.
func (s *Server) handleVideoWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	logger := util.LoggerFromContext(r.Context())
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid body")
		return
	}
	if s.webhookSecret != "" && !validSignature(s.webhookSecret, body, webhookSignature(r)) {
		ip := util.ClientIP(r, s.trustedProxies)
		if s.webhookLimiter != nil && !s.webhookLimiter.Allow(r.Context(), ip) {
			w.Header().Set("Retry-After", s.webhookLimiter.RetryAfter())
			writeError(w, http.StatusTooManyRequests, codeRateLimited, "too many requests")
			return
		}
		logger.WarnContext(r.Context(), "webhook_bad_signature", "ip", ip)
		writeError(w, http.StatusUnauthorized, codeInvalidSignature, "invalid signature")
		return
	}

	var payload videoWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.WarnContext(r.Context(), "webhook_bad_payload", "err", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	res, ok := payload.result()
	if !ok {
		logger.InfoContext(r.Context(), "webhook_ignored_event", "event_type", payload.EventType)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	outcome, err := s.app.HandleCallback(r.Context(), res)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
	case errors.Is(err, domain.ErrUnknownJob):
		writeJSON(w, http.StatusOK, map[string]string{"status": "unknown_job"})
	default:
		logger.ErrorContext(r.Context(), "webhook_apply_failed", "job_id", res.JobID, "err", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deferred"})
	}
}

func webhookSignature(r *http.Request) string {
	for _, h := range []string{"Signature", "X-Signature", "X-Webhook-Signature"} {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			return strings.TrimPrefix(v, "sha256=")
		}
	}
	return ""
}

func validSignature(secret string, body []byte, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
