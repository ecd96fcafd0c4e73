package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"devotionai/internal/httpx"
)

// SendGridConfig configures the SendGrid v3 client.
type SendGridConfig struct {
	APIKey     string
	BaseURL    string
	FromEmail  string
	FromName   string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// SendGrid sends mail through the v3 /mail/send endpoint.
type SendGrid struct {
	apiKey     string
	baseURL    string
	from       Address
	maxRetries int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSendGrid builds a SendGrid mailer.
func NewSendGrid(cfg SendGridConfig) (*SendGrid, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("missing sendgrid api key")
	}
	from := Address{Email: strings.TrimSpace(cfg.FromEmail), Name: strings.TrimSpace(cfg.FromName)}
	if from.Email == "" {
		return nil, errors.New("missing sendgrid from email")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.sendgrid.com"
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SendGrid{
		apiKey:     apiKey,
		baseURL:    baseURL,
		from:       from,
		maxRetries: maxRetries,
		httpClient: client,
		logger:     logger.With("client", "sendgrid"),
	}, nil
}

type mailSendRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             Address           `json:"from"`
	Subject          string            `json:"subject"`
	Content          []mailContent     `json:"content"`
	Categories       []string          `json:"categories,omitempty"`
}

type personalization struct {
	To []Address `json:"to"`
}

type mailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridErrors struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Send implements Mailer.
func (s *SendGrid) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	wire := mailSendRequest{
		Personalizations: []personalization{{To: msg.To}},
		From:             s.from,
		Subject:          strings.TrimSpace(msg.Subject),
		Categories:       msg.Categories,
	}
	if t := strings.TrimSpace(msg.Text); t != "" {
		wire.Content = append(wire.Content, mailContent{Type: "text/plain", Value: t})
	}
	if h := strings.TrimSpace(msg.HTML); h != "" {
		wire.Content = append(wire.Content, mailContent{Type: "text/html", Value: h})
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		return err
	}
	return httpx.Retry(ctx, s.logger, "sendgrid mail send", s.maxRetries, time.Second, 10*time.Second, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/mail/send", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("sendgrid request: %w", err)
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		body := string(raw)
		var sgErr sendGridErrors
		if json.Unmarshal(raw, &sgErr) == nil && len(sgErr.Errors) > 0 && sgErr.Errors[0].Message != "" {
			body = sgErr.Errors[0].Message
		}
		return &httpx.StatusError{Service: "sendgrid", StatusCode: resp.StatusCode, Body: body, RetryAfter: httpx.RetryAfter(resp)}
	})
}
