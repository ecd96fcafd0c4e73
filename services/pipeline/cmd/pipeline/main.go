package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"devotionai/internal/ratelimit"
	"devotionai/internal/servicetoken"
	"devotionai/internal/usertoken"
	"devotionai/internal/util"
	"devotionai/pkg/ai"
	"devotionai/pkg/mailer"
	"devotionai/pkg/queue"
	"devotionai/pkg/store"
	"devotionai/services/pipeline/internal/app"
	"devotionai/services/pipeline/internal/config"
	"devotionai/services/pipeline/internal/server"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger("pipeline", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer redisClient.Close()

	notifications, err := queue.NewRedisJobQueueWithClient(redisClient, queue.RedisQueueConfig{
		Stream:     cfg.NotificationQueue,
		Group:      cfg.NotificationGroup,
		MaxRetries: cfg.QueueMaxRetries,
		RetryDelay: time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("failed to init notification queue: %v", err)
	}

	video, err := ai.NewHeyGenClient(ai.HeyGenConfig{
		BaseURL:    cfg.HeyGenBaseURL,
		APIKey:     cfg.HeyGenAPIKey,
		Width:      cfg.VideoWidth,
		Height:     cfg.VideoHeight,
		MaxRetries: cfg.HeyGenMaxRetries,
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("failed to init video provider: %v", err)
	}

	var text ai.TextGenerator
	if cfg.LLMBaseURL != "" {
		gen, err := ai.NewOpenAICompatGenerator(ai.OpenAICompatConfig{
			BaseURL: cfg.LLMBaseURL,
			APIKey:  cfg.LLMAPIKey,
			Model:   cfg.LLMModel,
		})
		if err != nil {
			log.Fatalf("failed to init text generator: %v", err)
		}
		text = gen
	} else {
		slog.Warn("text generation disabled: llmBaseURL not set")
	}

	var mail mailer.Mailer = mailer.LogMailer{Logger: logger}
	if cfg.SendGridAPIKey != "" {
		sg, err := mailer.NewSendGrid(mailer.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			BaseURL:   cfg.SendGridBaseURL,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
			Logger:    logger,
		})
		if err != nil {
			log.Fatalf("failed to init sendgrid: %v", err)
		}
		mail = sg
	} else {
		slog.Warn("sendgrid not configured: notifications will only be logged")
	}

	appCore, err := app.New(app.Config{
		Store:            st,
		Video:            video,
		Text:             text,
		Notifier:         app.QueueNotifier{Queue: notifications},
		Logger:           logger,
		CallbackURL:      cfg.HeyGenCallbackURL,
		SubmitTimeout:    time.Duration(cfg.SubmitTimeoutSeconds) * time.Second,
		StaleAfter:       time.Duration(cfg.StaleAfterSeconds) * time.Second,
		AbandonAfter:     time.Duration(cfg.AbandonAfterSeconds) * time.Second,
		ResubmitEnabled:  cfg.ResubmitEnabled,
		MaxVideoAttempts: cfg.MaxVideoAttempts,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	tokenVerifier, err := usertoken.NewVerifier(ctx, usertoken.Config{
		JWKSURL:    cfg.JWKSURL,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		log.Fatalf("failed to init jwks verifier: %v", err)
	}
	internalVerifyKeys, err := servicetoken.ParseVerifyPublicKeys(cfg.InternalJWTVerifyPublicKeys)
	if err != nil {
		log.Fatalf("failed to parse internal jwt verify public keys: %v", err)
	}
	internalVerifier, err := servicetoken.NewVerifierWithOptions(servicetoken.VerifierOptions{
		PublicKeyPath:      cfg.InternalJWTPublicKeyPath,
		VerifyPublicKeyMap: internalVerifyKeys,
		DefaultKeyID:       cfg.InternalJWTKeyID,
		Audience:           cfg.InternalJWTAudience,
		AllowedIssuers:     cfg.InternalJWTAllowedIssuers,
		Leeway:             servicetoken.DefaultLeeway,
	})
	if err != nil {
		log.Fatalf("failed to init internal token verifier: %v", err)
	}
	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("invalid trusted proxies: %v", err)
	}
	webhookLimiter, err := ratelimit.NewFixedWindowLimiter(redisClient, "ratelimit:webhook:video", cfg.WebhookRateLimit,
		time.Duration(cfg.WebhookRateWindowSeconds)*time.Second, ratelimit.WithFailOpen())
	if err != nil {
		log.Fatalf("failed to init webhook rate limiter: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                appCore,
		TokenVerifier:      tokenVerifier,
		InternalVerifier:   internalVerifier,
		WebhookSecret:      cfg.WebhookSecret,
		WebhookLimiter:     webhookLimiter,
		TrustedProxies:     trustedProxies,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("pipeline server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return appCore.RunSweeper(gctx, time.Duration(cfg.SweepIntervalSeconds)*time.Second)
	})
	g.Go(func() error {
		notifications.Start(gctx, cfg.QueueConcurrency, app.NotificationHandler(mail, cfg.DashboardURL))
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("pipeline stopped with error", "err", err)
		os.Exit(1)
	}
	slog.Info("pipeline stopped")
}
