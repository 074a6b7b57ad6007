// Package config holds all service configuration. Defaults come from
// NewDefaultConfig, environment variables override, Validate catches
// nonsense before anything starts.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	HTTPAddr string
	Buffer   BufferConfig
	Analysis AnalysisConfig
	Video    VideoConfig
	Disk     DiskConfig
	Storage  StorageConfig
	Notify   NotifyConfig
	Database DatabaseConfig
}

type BufferConfig struct {
	LongWindow      time.Duration
	TargetFPS       int
	IdleTimeout     time.Duration
	JanitorInterval time.Duration
}

type AnalysisConfig struct {
	GeminiAPIKey        string
	ShortWindow         time.Duration
	LongWindow          time.Duration
	MaxClassifierFrames int
	StageTimeout        time.Duration
	MaxParallel         int
}

type VideoConfig struct {
	TargetFPS      int
	MaxUploadBytes int64
	QualityFactor  float64
}

type DiskConfig struct {
	TempDir        string
	MinFreeBytes   uint64
	WarnFreeBytes  uint64
	RoutineReapAge time.Duration
}

type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	Region          string
	KeyPrefix       string
}

type NotifyConfig struct {
	Transport string // "gmail" or "smtp"
	From      string
	FromName  string
	To        string
	Gmail     GmailConfig
	SMTP      SMTPConfig

	MaxRetries      int
	BaseDelay       time.Duration
	MaxMessageBytes int64
	LinkExpiry      time.Duration
}

type GmailConfig struct {
	ClientID     string
	ClientSecret string
	TokenPath    string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

type DatabaseConfig struct {
	DSN string // empty disables audit persistence
}

// NewDefaultConfig returns a Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		HTTPAddr: ":8080",
		Buffer: BufferConfig{
			LongWindow:      10 * time.Second,
			TargetFPS:       25,
			IdleTimeout:     10 * time.Minute,
			JanitorInterval: time.Minute,
		},
		Analysis: AnalysisConfig{
			ShortWindow:         3 * time.Second,
			LongWindow:          10 * time.Second,
			MaxClassifierFrames: 25,
			StageTimeout:        30 * time.Second,
			MaxParallel:         4,
		},
		Video: VideoConfig{
			TargetFPS:      25,
			MaxUploadBytes: 95 * 1024 * 1024,
			QualityFactor:  0.5,
		},
		Disk: DiskConfig{
			TempDir:        os.TempDir(),
			MinFreeBytes:   500 * 1024 * 1024,
			WarnFreeBytes:  2 * 1024 * 1024 * 1024,
			RoutineReapAge: time.Hour,
		},
		Storage: StorageConfig{
			Endpoint:  "localhost:9000",
			Bucket:    "sentryvision-evidence",
			KeyPrefix: "incidents",
		},
		Notify: NotifyConfig{
			Transport:       "smtp",
			FromName:        "SentryVision",
			MaxRetries:      3,
			BaseDelay:       2 * time.Second,
			MaxMessageBytes: 25 * 1024 * 1024,
			LinkExpiry:      24 * time.Hour,
		},
	}
}

// LoadFromEnv overlays SENTRY_* environment variables on the config.
func (c *Config) LoadFromEnv() {
	envString("SENTRY_HTTP_ADDR", &c.HTTPAddr)

	envString("SENTRY_GEMINI_API_KEY", &c.Analysis.GeminiAPIKey)
	envDuration("SENTRY_SHORT_WINDOW", &c.Analysis.ShortWindow)
	envDuration("SENTRY_LONG_WINDOW", &c.Analysis.LongWindow)

	envString("SENTRY_TEMP_DIR", &c.Disk.TempDir)

	envString("SENTRY_MINIO_ENDPOINT", &c.Storage.Endpoint)
	envString("SENTRY_MINIO_ACCESS_KEY", &c.Storage.AccessKeyID)
	envString("SENTRY_MINIO_SECRET_KEY", &c.Storage.SecretAccessKey)
	envBool("SENTRY_MINIO_USE_SSL", &c.Storage.UseSSL)
	envString("SENTRY_MINIO_BUCKET", &c.Storage.Bucket)

	envString("SENTRY_NOTIFY_TRANSPORT", &c.Notify.Transport)
	envString("SENTRY_NOTIFY_FROM", &c.Notify.From)
	envString("SENTRY_NOTIFY_TO", &c.Notify.To)
	envString("SENTRY_GMAIL_CLIENT_ID", &c.Notify.Gmail.ClientID)
	envString("SENTRY_GMAIL_CLIENT_SECRET", &c.Notify.Gmail.ClientSecret)
	envString("SENTRY_GMAIL_TOKEN_PATH", &c.Notify.Gmail.TokenPath)
	envString("SENTRY_SMTP_HOST", &c.Notify.SMTP.Host)
	envInt("SENTRY_SMTP_PORT", &c.Notify.SMTP.Port)
	envString("SENTRY_SMTP_USERNAME", &c.Notify.SMTP.Username)
	envString("SENTRY_SMTP_PASSWORD", &c.Notify.SMTP.Password)

	envString("SENTRY_DATABASE_DSN", &c.Database.DSN)
}

// Validate checks required fields and rejects impossible values.
func (c *Config) Validate() error {
	if c.Buffer.LongWindow <= 0 || c.Buffer.TargetFPS <= 0 {
		return fmt.Errorf("buffer window and fps must be positive")
	}
	if c.Analysis.ShortWindow <= 0 || c.Analysis.LongWindow <= 0 {
		return fmt.Errorf("analysis windows must be positive")
	}
	if c.Analysis.ShortWindow > c.Analysis.LongWindow {
		return fmt.Errorf("short window (%s) exceeds long window (%s)",
			c.Analysis.ShortWindow, c.Analysis.LongWindow)
	}
	if c.Analysis.LongWindow > c.Buffer.LongWindow {
		return fmt.Errorf("analysis long window (%s) exceeds buffered history (%s)",
			c.Analysis.LongWindow, c.Buffer.LongWindow)
	}
	if c.Analysis.GeminiAPIKey == "" {
		return fmt.Errorf("gemini API key is required (SENTRY_GEMINI_API_KEY)")
	}
	if c.Disk.TempDir == "" {
		return fmt.Errorf("temp directory is required")
	}
	if err := os.MkdirAll(c.Disk.TempDir, 0o755); err != nil {
		return fmt.Errorf("create temp directory %s: %w", c.Disk.TempDir, err)
	}
	if c.Video.QualityFactor <= 0 || c.Video.QualityFactor > 1 {
		return fmt.Errorf("quality factor must be in (0, 1], got %g", c.Video.QualityFactor)
	}
	switch c.Notify.Transport {
	case "gmail":
		if c.Notify.Gmail.ClientID == "" || c.Notify.Gmail.ClientSecret == "" {
			return fmt.Errorf("gmail transport needs client credentials")
		}
	case "smtp":
		if c.Notify.SMTP.Host == "" || c.Notify.SMTP.Port == 0 {
			return fmt.Errorf("smtp transport needs host and port")
		}
	case "":
		return fmt.Errorf("notify transport is required (gmail or smtp)")
	default:
		return fmt.Errorf("unknown notify transport %q", c.Notify.Transport)
	}
	if c.Notify.To == "" || c.Notify.From == "" {
		return fmt.Errorf("notify from/to addresses are required")
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
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

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
