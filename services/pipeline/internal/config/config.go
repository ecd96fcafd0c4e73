package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file, overridable with PIPELINE_CONFIG.
var ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port               string   `yaml:"port"`
	LogLevel           string   `yaml:"logLevel"`
	DatabaseURL        string   `yaml:"databaseURL"`
	RedisAddr          string   `yaml:"redisAddr"`
	RedisPassword      string   `yaml:"redisPassword"`
	CORSAllowedOrigins []string `yaml:"corsAllowedOrigins"`
	TrustedProxies     []string `yaml:"trustedProxies"`
	DashboardURL       string   `yaml:"dashboardURL"`

	// user tokens issued by the auth service
	JWKSURL     string `yaml:"jwksURL"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`

	// internal service tokens (autoassign job)
	InternalJWTPublicKeyPath    string   `yaml:"internalJwtPublicKeyPath"`
	InternalJWTVerifyPublicKeys string   `yaml:"internalJwtVerifyPublicKeys"`
	InternalJWTKeyID            string   `yaml:"internalJwtKeyId"`
	InternalJWTAudience         string   `yaml:"internalJwtAudience"`
	InternalJWTAllowedIssuers   []string `yaml:"internalJwtAllowedIssuers"`

	NotificationQueue      string `yaml:"notificationQueue"`
	NotificationGroup      string `yaml:"notificationGroup"`
	QueueConcurrency       int    `yaml:"queueConcurrency"`
	QueueMaxRetries        int    `yaml:"queueMaxRetries"`
	QueueRetryDelaySeconds int    `yaml:"queueRetryDelaySeconds"`

	HeyGenBaseURL     string `yaml:"heygenBaseURL"`
	HeyGenAPIKey      string `yaml:"heygenAPIKey"`
	HeyGenCallbackURL string `yaml:"heygenCallbackURL"`
	HeyGenMaxRetries  int    `yaml:"heygenMaxRetries"`
	VideoWidth        int    `yaml:"videoWidth"`
	VideoHeight       int    `yaml:"videoHeight"`

	WebhookSecret            string `yaml:"webhookSecret"`
	WebhookRateLimit         int    `yaml:"webhookRateLimit"`
	WebhookRateWindowSeconds int    `yaml:"webhookRateWindowSeconds"`

	SubmitTimeoutSeconds int  `yaml:"submitTimeoutSeconds"`
	SweepIntervalSeconds int  `yaml:"sweepIntervalSeconds"`
	StaleAfterSeconds    int  `yaml:"staleAfterSeconds"`
	AbandonAfterSeconds  int  `yaml:"abandonAfterSeconds"`
	ResubmitEnabled      bool `yaml:"resubmitEnabled"`
	MaxVideoAttempts     int  `yaml:"maxVideoAttempts"`

	LLMBaseURL string `yaml:"llmBaseURL"`
	LLMAPIKey  string `yaml:"llmAPIKey"`
	LLMModel   string `yaml:"llmModel"`

	SendGridAPIKey    string `yaml:"sendgridAPIKey"`
	SendGridBaseURL   string `yaml:"sendgridBaseURL"`
	SendGridFromEmail string `yaml:"sendgridFromEmail"`
	SendGridFromName  string `yaml:"sendgridFromName"`
}

// Load reads config from path (defaults to PIPELINE_CONFIG, then config.yaml),
// applies environment overrides and defaults, and validates the result.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = os.Getenv("PIPELINE_CONFIG")
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	envString("PORT", &cfg.Port)
	envString("LOG_LEVEL", &cfg.LogLevel)
	envString("DATABASE_URL", &cfg.DatabaseURL)
	envString("REDIS_ADDR", &cfg.RedisAddr)
	envString("REDIS_PASSWORD", &cfg.RedisPassword)
	envList("CORS_ALLOWED_ORIGINS", &cfg.CORSAllowedOrigins)
	envList("TRUSTED_PROXIES", &cfg.TrustedProxies)
	envString("DASHBOARD_URL", &cfg.DashboardURL)
	envString("AUTH_JWKS_URL", &cfg.JWKSURL)
	envString("AUTH_JWT_ISSUER", &cfg.JWTIssuer)
	envString("AUTH_JWT_AUDIENCE", &cfg.JWTAudience)
	envString("PIPELINE_INTERNAL_JWT_PUBLIC_KEY_PATH", &cfg.InternalJWTPublicKeyPath)
	envString("PIPELINE_INTERNAL_JWT_VERIFY_PUBLIC_KEYS", &cfg.InternalJWTVerifyPublicKeys)
	envString("PIPELINE_INTERNAL_JWT_KEY_ID", &cfg.InternalJWTKeyID)
	envList("PIPELINE_INTERNAL_JWT_ALLOWED_ISSUERS", &cfg.InternalJWTAllowedIssuers)
	envInt("PIPELINE_QUEUE_CONCURRENCY", &cfg.QueueConcurrency)
	envInt("PIPELINE_QUEUE_MAX_RETRIES", &cfg.QueueMaxRetries)
	envString("HEYGEN_BASE_URL", &cfg.HeyGenBaseURL)
	envString("HEYGEN_API_KEY", &cfg.HeyGenAPIKey)
	envString("HEYGEN_CALLBACK_URL", &cfg.HeyGenCallbackURL)
	envString("VIDEO_WEBHOOK_SECRET", &cfg.WebhookSecret)
	envInt("PIPELINE_SWEEP_INTERVAL_SECONDS", &cfg.SweepIntervalSeconds)
	envInt("PIPELINE_STALE_AFTER_SECONDS", &cfg.StaleAfterSeconds)
	envInt("PIPELINE_ABANDON_AFTER_SECONDS", &cfg.AbandonAfterSeconds)
	envBool("PIPELINE_RESUBMIT_ENABLED", &cfg.ResubmitEnabled)
	envString("LLM_BASE_URL", &cfg.LLMBaseURL)
	envString("LLM_API_KEY", &cfg.LLMAPIKey)
	envString("LLM_MODEL", &cfg.LLMModel)
	envString("SENDGRID_API_KEY", &cfg.SendGridAPIKey)
	envString("SENDGRID_BASE_URL", &cfg.SendGridBaseURL)
	envString("SENDGRID_FROM_EMAIL", &cfg.SendGridFromEmail)
	envString("SENDGRID_FROM_NAME", &cfg.SendGridFromName)
}

func applyDefaults(cfg *FileConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.InternalJWTAudience == "" {
		cfg.InternalJWTAudience = "pipeline"
	}
	if len(cfg.InternalJWTAllowedIssuers) == 0 {
		cfg.InternalJWTAllowedIssuers = []string{"autoassign-job"}
	}
	if cfg.NotificationQueue == "" {
		cfg.NotificationQueue = "pipeline:notifications"
	}
	if cfg.NotificationGroup == "" {
		cfg.NotificationGroup = "notifier"
	}
	if cfg.QueueConcurrency <= 0 {
		cfg.QueueConcurrency = 2
	}
	if cfg.QueueMaxRetries <= 0 {
		cfg.QueueMaxRetries = 5
	}
	if cfg.QueueRetryDelaySeconds <= 0 {
		cfg.QueueRetryDelaySeconds = 5
	}
	if cfg.WebhookRateLimit <= 0 {
		cfg.WebhookRateLimit = 120
	}
	if cfg.WebhookRateWindowSeconds <= 0 {
		cfg.WebhookRateWindowSeconds = 60
	}
	if cfg.SubmitTimeoutSeconds <= 0 {
		cfg.SubmitTimeoutSeconds = 30
	}
	if cfg.SweepIntervalSeconds <= 0 {
		cfg.SweepIntervalSeconds = 300
	}
	if cfg.StaleAfterSeconds <= 0 {
		cfg.StaleAfterSeconds = 900
	}
	if cfg.AbandonAfterSeconds <= 0 {
		cfg.AbandonAfterSeconds = 6 * 3600
	}
	if cfg.MaxVideoAttempts <= 0 {
		cfg.MaxVideoAttempts = 3
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.JWKSURL == "" {
		return errors.New("config: jwksURL is required (set in config.yaml or AUTH_JWKS_URL)")
	}
	if _, err := url.ParseRequestURI(cfg.JWKSURL); err != nil {
		return fmt.Errorf("config: jwksURL is not a valid url: %w", err)
	}
	if strings.TrimSpace(cfg.InternalJWTPublicKeyPath) == "" && strings.TrimSpace(cfg.InternalJWTVerifyPublicKeys) == "" {
		return errors.New("config: internal service auth requires PIPELINE_INTERNAL_JWT_PUBLIC_KEY_PATH or PIPELINE_INTERNAL_JWT_VERIFY_PUBLIC_KEYS")
	}
	if cfg.HeyGenAPIKey == "" {
		return errors.New("config: heygenAPIKey is required (set HEYGEN_API_KEY)")
	}
	if cfg.AbandonAfterSeconds <= cfg.StaleAfterSeconds {
		return errors.New("config: abandonAfterSeconds must be greater than staleAfterSeconds")
	}
	if (cfg.LLMBaseURL == "") != (cfg.LLMModel == "") {
		return errors.New("config: llmBaseURL and llmModel must be set together")
	}
	if cfg.SendGridAPIKey != "" && cfg.SendGridFromEmail == "" {
		return errors.New("config: sendgridFromEmail is required when SENDGRID_API_KEY is set")
	}
	return nil
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envList(key string, dst *[]string) {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}
