package mailer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// Address is an email recipient or sender.
type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Message is a plain transactional email.
type Message struct {
	To         []Address
	Subject    string
	Text       string
	HTML       string
	Categories []string
}

// Validate checks the fields every provider requires.
func (m Message) Validate() error {
	if len(m.To) == 0 {
		return errors.New("mailer: recipient required")
	}
	for _, to := range m.To {
		if strings.TrimSpace(to.Email) == "" {
			return errors.New("mailer: recipient email required")
		}
	}
	if strings.TrimSpace(m.Subject) == "" {
		return errors.New("mailer: subject required")
	}
	if strings.TrimSpace(m.Text) == "" && strings.TrimSpace(m.HTML) == "" {
		return errors.New("mailer: text or html body required")
	}
	return nil
}

// Mailer delivers transactional email.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the log instead of sending them. Used when no provider is configured.
type LogMailer struct {
	Logger *slog.Logger
}

// Send implements Mailer.
func (m LogMailer) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	to := make([]string, 0, len(msg.To))
	for _, a := range msg.To {
		to = append(to, a.Email)
	}
	logger.InfoContext(ctx, "mail_logged", "to", strings.Join(to, ","), "subject", msg.Subject)
	return nil
}
