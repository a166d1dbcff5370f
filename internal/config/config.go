package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr      string
	PublicBaseURL string
	MaxUploadSize int64
	SpoolDir      string
	WidgetsFile   string
	Log           LogConfig
	Storage       StorageConfig
	Action        ActionConfig
	Auth          AuthConfig
	Metrics       MetricsConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type StorageConfig struct {
	// Backend is "local" or "s3".
	Backend string
	Dir     string
	S3      S3Config
}

type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type ActionConfig struct {
	// WebhookURL receives onFilesSelected dispatches. Empty completes actions locally.
	WebhookURL string
	Timeout    time.Duration
}

type AuthConfig struct {
	JWKSUrl      string
	Issuer       string
	Audience     string
	JWKSCacheTTL int // Cache TTL in seconds
}

// Enabled reports whether widget routes require a bearer token.
func (a AuthConfig) Enabled() bool {
	return a.JWKSUrl != ""
}

type MetricsConfig struct {
	Namespace string
}

func Load() (*Config, error) {
	maxUploadSize, err := getInt64("FILEPICKER_MAX_UPLOAD_SIZE", 104857600)
	if err != nil {
		return nil, err
	}

	actionTimeout, err := getDuration("FILEPICKER_ACTION_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	jwksCacheTTL := 900 // 15 minutes default
	if ttlStr := getEnv("AUTH_JWKS_CACHE_TTL", ""); ttlStr != "" {
		if ttl, err := strconv.Atoi(ttlStr); err == nil {
			jwksCacheTTL = ttl
		}
	}

	cfg := &Config{
		HTTPAddr:      getEnv("FILEPICKER_HTTP_ADDR", ":8080"),
		PublicBaseURL: getEnv("FILEPICKER_PUBLIC_BASE_URL", "http://localhost:8080"),
		MaxUploadSize: maxUploadSize,
		SpoolDir:      getEnv("FILEPICKER_SPOOL_DIR", os.TempDir()+"/filepicker-spool"),
		WidgetsFile:   getEnv("FILEPICKER_WIDGETS_FILE", ""),
		Log: LogConfig{
			Level:  getEnv("FILEPICKER_LOG_LEVEL", "info"),
			Format: getEnv("FILEPICKER_LOG_FORMAT", "json"),
		},
		Storage: StorageConfig{
			Backend: getEnv("FILEPICKER_STORAGE_BACKEND", "local"),
			Dir:     getEnv("FILEPICKER_STORAGE_DIR", "/var/filepicker"),
			S3: S3Config{
				Bucket:          getEnv("FILEPICKER_S3_BUCKET", ""),
				Prefix:          getEnv("FILEPICKER_S3_PREFIX", "blobs/"),
				Region:          getEnv("FILEPICKER_S3_REGION", "us-east-1"),
				Endpoint:        getEnv("FILEPICKER_S3_ENDPOINT", ""),
				AccessKeyID:     getEnv("FILEPICKER_S3_ACCESS_KEY_ID", ""),
				SecretAccessKey: getEnv("FILEPICKER_S3_SECRET_ACCESS_KEY", ""),
			},
		},
		Action: ActionConfig{
			WebhookURL: getEnv("FILEPICKER_ACTION_WEBHOOK_URL", ""),
			Timeout:    actionTimeout,
		},
		Auth: AuthConfig{
			JWKSUrl:      getEnv("AUTH_JWKS_URL", ""),
			Issuer:       getEnv("AUTH_ISSUER", ""),
			Audience:     getEnv("AUTH_AUDIENCE", "filepicker"),
			JWKSCacheTTL: jwksCacheTTL,
		},
		Metrics: MetricsConfig{
			Namespace: getEnv("FILEPICKER_METRICS_NAMESPACE", "filepicker"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("FILEPICKER_S3_BUCKET is required for the s3 storage backend")
		}
	default:
		return fmt.Errorf("invalid FILEPICKER_STORAGE_BACKEND %q", c.Storage.Backend)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("FILEPICKER_MAX_UPLOAD_SIZE must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt64(key string, defaultValue int64) (int64, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
