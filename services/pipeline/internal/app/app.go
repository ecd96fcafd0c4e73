package app

import (
	"errors"
	"log/slog"
	"time"

	"devotionai/pkg/ai"
	"devotionai/pkg/store"
	"devotionai/pkg/verse"
)

// Config holds runtime configuration for the content pipeline.
type Config struct {
	Store    store.Store
	Video    ai.VideoProvider
	Text     ai.TextGenerator
	Notifier Notifier
	Selector *verse.Selector
	Logger   *slog.Logger

	// CallbackURL is handed to the video provider for completion webhooks.
	CallbackURL      string
	SubmitTimeout    time.Duration
	StaleAfter       time.Duration
	AbandonAfter     time.Duration
	ResubmitEnabled  bool
	MaxVideoAttempts int

	Now func() time.Time
}

// App is the core pipeline service: assignment, lifecycle, generation correlation and reconciliation.
type App struct {
	store    store.Store
	video    ai.VideoProvider
	text     ai.TextGenerator
	notifier Notifier
	selector *verse.Selector
	logger   *slog.Logger

	callbackURL      string
	submitTimeout    time.Duration
	staleAfter       time.Duration
	abandonAfter     time.Duration
	resubmitEnabled  bool
	maxVideoAttempts int

	now func() time.Time
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	a := &App{
		store:            cfg.Store,
		video:            cfg.Video,
		text:             cfg.Text,
		notifier:         cfg.Notifier,
		selector:         cfg.Selector,
		logger:           cfg.Logger,
		callbackURL:      cfg.CallbackURL,
		submitTimeout:    cfg.SubmitTimeout,
		staleAfter:       cfg.StaleAfter,
		abandonAfter:     cfg.AbandonAfter,
		resubmitEnabled:  cfg.ResubmitEnabled,
		maxVideoAttempts: cfg.MaxVideoAttempts,
		now:              cfg.Now,
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.notifier == nil {
		a.notifier = LogNotifier{Logger: a.logger}
	}
	if a.selector == nil {
		a.selector = verse.NewSelector(cfg.Store)
	}
	if a.submitTimeout <= 0 {
		a.submitTimeout = 30 * time.Second
	}
	if a.staleAfter <= 0 {
		a.staleAfter = 15 * time.Minute
	}
	if a.abandonAfter <= a.staleAfter {
		a.abandonAfter = 6 * time.Hour
	}
	if a.maxVideoAttempts <= 0 {
		a.maxVideoAttempts = 3
	}
	if a.now == nil {
		a.now = func() time.Time { return time.Now().UTC() }
	}
	return a, nil
}
