package config

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Sync mode values accepted by WA_SYNC_MODE.
const (
	SyncModeContinuous = "continuous"
	SyncModeManual     = "manual"
)

// Config holds the environment driven configuration for the bridge.
type Config struct {
	// Service Configuration
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"wa-bridge"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	HTTPPort        int           `env:"WA_BRIDGE_PORT" envDefault:"8290"`
	LogLevel        string        `env:"WA_LOG_LEVEL" envDefault:"info"`
	DebugLog        bool          `env:"WA_DEBUG_LOG" envDefault:"false"`
	EnableTracing   bool          `env:"ENABLE_TRACING" envDefault:"false"`
	OTLPEndpoint    string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Object Storage (required, no defaults)
	S3Endpoint     string `env:"WA_S3_ENDPOINT,notEmpty"`
	S3Region       string `env:"WA_S3_REGION" envDefault:"us-east-1"`
	S3Bucket       string `env:"WA_S3_BUCKET,notEmpty"`
	S3AccessKeyID  string `env:"WA_S3_ACCESS_KEY_ID,notEmpty"`
	S3SecretKey    string `env:"WA_S3_SECRET_ACCESS_KEY,notEmpty"`
	S3UsePathStyle bool   `env:"WA_S3_USE_PATH_STYLE" envDefault:"true"`

	// Storage Backend Selection
	StorageBackend   string `env:"WA_STORAGE_BACKEND" envDefault:"s3"` // Options: "s3" or "local"
	LocalStoragePath string `env:"WA_LOCAL_STORAGE_PATH"`

	// Session Sync
	RemoteBasePath string `env:"WA_REMOTE_BASE_PATH" envDefault:"whatsapp/sessions"`
	SessionName    string `env:"WA_SESSION_NAME" envDefault:"session"`
	SyncMode       string `env:"WA_SYNC_MODE" envDefault:"continuous"`
	AuthDir        string `env:"WA_AUTH_DIR" envDefault:".wwebjs_auth"`
	WorkDir        string `env:"WA_WORK_DIR" envDefault:"."`

	// Change Watcher (continuous mode)
	WatcherQueueSize int           `env:"WA_WATCHER_QUEUE_SIZE" envDefault:"64"`
	CoalesceWindow   time.Duration `env:"WA_COALESCE_WINDOW" envDefault:"500ms"`

	// Media Forwarding
	MediaBasePath string `env:"WA_MEDIA_BASE_PATH" envDefault:"whatsapp/media"`
	MaxMediaBytes int64  `env:"WA_MEDIA_MAX_BYTES" envDefault:"20971520"`

	// Event Webhook (optional)
	WebhookURL     string        `env:"WA_EVENT_WEBHOOK_URL"`
	WebhookTimeout time.Duration `env:"WA_EVENT_WEBHOOK_TIMEOUT" envDefault:"5s"`
}

// Load parses environment variables into Config. Missing required
// storage settings or an unknown sync mode fail fast here; nothing
// later in the process is allowed to be fatal.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	cfg.S3Endpoint = strings.TrimSpace(cfg.S3Endpoint)
	cfg.S3Bucket = strings.TrimSpace(cfg.S3Bucket)
	cfg.S3AccessKeyID = strings.TrimSpace(cfg.S3AccessKeyID)
	cfg.S3SecretKey = strings.TrimSpace(cfg.S3SecretKey)
	cfg.SessionName = strings.TrimSpace(cfg.SessionName)
	cfg.SyncMode = strings.ToLower(strings.TrimSpace(cfg.SyncMode))

	if cfg.SessionName == "" {
		cfg.SessionName = "session"
	}
	if cfg.SyncMode != SyncModeContinuous && cfg.SyncMode != SyncModeManual {
		return nil, fmt.Errorf("WA_SYNC_MODE must be %q or %q, got %q", SyncModeContinuous, SyncModeManual, cfg.SyncMode)
	}
	if cfg.MaxMediaBytes <= 0 {
		cfg.MaxMediaBytes = 20 * 1024 * 1024
	}
	if cfg.WatcherQueueSize <= 0 {
		cfg.WatcherQueueSize = 64
	}
	if cfg.IsLocalStorage() && strings.TrimSpace(cfg.LocalStoragePath) == "" {
		return nil, fmt.Errorf("WA_LOCAL_STORAGE_PATH is required when WA_STORAGE_BACKEND is local")
	}
	return cfg, nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// SessionDir returns the local directory holding this session's state.
func (c *Config) SessionDir() string {
	return filepath.Join(c.AuthDir, c.SessionName)
}

// ArchivePath returns the scratch archive file reused by each
// restore/persist cycle.
func (c *Config) ArchivePath(ext string) string {
	return filepath.Join(c.WorkDir, c.SessionName+ext)
}

// RemoteKey returns the stable remote path for this session's archive.
// Remote keys always use forward slashes regardless of host OS.
func (c *Config) RemoteKey(ext string) string {
	base := path.Clean(filepath.ToSlash(c.RemoteBasePath))
	return path.Join(base, c.SessionName+ext)
}

// IsLocalStorage returns true if the local filesystem backend is configured.
func (c *Config) IsLocalStorage() bool {
	return strings.ToLower(strings.TrimSpace(c.StorageBackend)) == "local"
}

// IsContinuous reports whether the bridge persists on every detected
// file change rather than only on explicit triggers.
func (c *Config) IsContinuous() bool {
	return c.SyncMode == SyncModeContinuous
}
