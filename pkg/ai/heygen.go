package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"devotionai/internal/httpx"
)

const defaultHeyGenBaseURL = "https://api.heygen.com"

// HeyGenConfig configures the avatar video client.
type HeyGenConfig struct {
	BaseURL    string
	APIKey     string
	Width      int
	Height     int
	MaxRetries int
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// HeyGenClient implements VideoProvider against the HeyGen v2 API.
type HeyGenClient struct {
	baseURL    string
	apiKey     string
	width      int
	height     int
	maxRetries int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHeyGenClient builds a HeyGen client.
func NewHeyGenClient(cfg HeyGenConfig) (*HeyGenClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("heygen api key required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultHeyGenBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	width, height := cfg.Width, cfg.Height
	if width <= 0 || height <= 0 {
		width, height = 720, 1280
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HeyGenClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		width:      width,
		height:     height,
		maxRetries: maxRetries,
		httpClient: client,
		logger:     logger.With("client", "heygen"),
	}, nil
}

type heygenGenerateRequest struct {
	VideoInputs []heygenVideoInput `json:"video_inputs"`
	Dimension   heygenDimension    `json:"dimension"`
	Title       string             `json:"title,omitempty"`
	CallbackID  string             `json:"callback_id,omitempty"`
	CallbackURL string             `json:"callback_url,omitempty"`
}

type heygenVideoInput struct {
	Character heygenCharacter `json:"character"`
	Voice     heygenVoice     `json:"voice"`
}

type heygenCharacter struct {
	Type        string `json:"type"`
	AvatarID    string `json:"avatar_id"`
	AvatarStyle string `json:"avatar_style"`
}

type heygenVoice struct {
	Type      string `json:"type"`
	InputText string `json:"input_text"`
	VoiceID   string `json:"voice_id"`
}

type heygenDimension struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type heygenError struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

func (e *heygenError) String() string {
	if e == nil {
		return ""
	}
	msg := strings.TrimSpace(e.Message)
	if d := strings.TrimSpace(e.Detail); d != "" {
		if msg == "" {
			return d
		}
		msg += ": " + d
	}
	return msg
}

type heygenGenerateResponse struct {
	Error *heygenError `json:"error"`
	Data  struct {
		VideoID string `json:"video_id"`
	} `json:"data"`
}

type heygenStatusResponse struct {
	Code int `json:"code"`
	Data struct {
		ID       string       `json:"id"`
		Status   string       `json:"status"`
		VideoURL string       `json:"video_url"`
		Error    *heygenError `json:"error"`
	} `json:"data"`
	Message string `json:"message"`
}

// SubmitVideo starts a render and returns the provider video id.
func (c *HeyGenClient) SubmitVideo(ctx context.Context, req VideoRequest) (string, error) {
	if strings.TrimSpace(req.Script) == "" {
		return "", errors.New("heygen: script required")
	}
	if strings.TrimSpace(req.AvatarID) == "" || strings.TrimSpace(req.VoiceID) == "" {
		return "", errors.New("heygen: avatar and voice required")
	}
	body := heygenGenerateRequest{
		VideoInputs: []heygenVideoInput{{
			Character: heygenCharacter{Type: "avatar", AvatarID: req.AvatarID, AvatarStyle: "normal"},
			Voice:     heygenVoice{Type: "text", InputText: req.Script, VoiceID: req.VoiceID},
		}},
		Dimension:   heygenDimension{Width: c.width, Height: c.height},
		Title:       req.Title,
		CallbackID:  req.CallbackID,
		CallbackURL: req.CallbackURL,
	}
	var out heygenGenerateResponse
	if err := c.do(ctx, http.MethodPost, "/v2/video/generate", body, &out); err != nil {
		return "", err
	}
	if msg := out.Error.String(); msg != "" {
		return "", fmt.Errorf("heygen: %s", msg)
	}
	jobID := strings.TrimSpace(out.Data.VideoID)
	if jobID == "" {
		return "", errors.New("heygen: response missing video_id")
	}
	return jobID, nil
}

// VideoStatus polls the provider for a job.
func (c *HeyGenClient) VideoStatus(ctx context.Context, jobID string) (VideoStatus, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return VideoStatus{}, errors.New("heygen: video id required")
	}
	var out heygenStatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/video_status.get?video_id="+url.QueryEscape(jobID), nil, &out); err != nil {
		return VideoStatus{}, err
	}
	status := VideoStatus{JobID: jobID, VideoURL: out.Data.VideoURL}
	switch strings.ToLower(strings.TrimSpace(out.Data.Status)) {
	case "completed":
		status.State = VideoCompleted
	case "failed":
		status.State = VideoFailed
		status.Error = out.Data.Error.String()
		if status.Error == "" {
			status.Error = "provider reported failure"
		}
	default:
		status.State = VideoPending
	}
	return status, nil
}

func (c *HeyGenClient) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}
	return httpx.Retry(ctx, c.logger, "heygen "+path, c.maxRetries, time.Second, 10*time.Second, func(ctx context.Context) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("X-Api-Key", c.apiKey)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("heygen request: %w", err)
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("heygen read: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &httpx.StatusError{Service: "heygen", StatusCode: resp.StatusCode, Body: string(raw), RetryAfter: httpx.RetryAfter(resp)}
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("heygen decode: %w", err)
		}
		return nil
	})
}
