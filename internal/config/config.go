// config.go - environment and .env loading for the gateway and collector.

// Package config reads QuickDrop settings from the environment, an optional
// .env file and, for the uploader, an optional YAML file. Every binary
// validates its settings once at startup and exits on the first report.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Cyxzhar/quickdrop/internal/sigv4"
)

// Storage backends.
const (
	BackendMinio  = "minio"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

type Storage struct {
	Backend   string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	// AccountID fills Endpoint with the R2 API host when Endpoint is empty.
	AccountID string
	PathStyle bool
	Timeout   time.Duration
}

type Cleanup struct {
	Enabled  bool
	Interval time.Duration
	PageSize int
	RedisURL string
	LockTTL  time.Duration
}

type Log struct {
	Level  string
	Format string
}

// Config is what cmd/gateway and cmd/collector run with.
type Config struct {
	Addr            string
	PublicURL       string
	Storage         Storage
	DefaultTTL      time.Duration
	RawCacheMaxAge  time.Duration
	MaxUploadBytes  int64
	RateLimit       int
	RateWindow      time.Duration
	CheckCollisions bool
	Cleanup         Cleanup
	Log             Log
	Version         string
}

// LoadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Load reads .env (if present) and then the environment.
func Load() (Config, error) {
	if err := LoadDotEnv(os.Getenv("QD_ENV_FILE")); err != nil {
		return Config{}, err
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds and validates a Config from getenv.
func FromEnv(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}
	v := NewValidator()

	cfg := Config{
		Addr:      get("QD_ADDR", ":8080"),
		PublicURL: strings.TrimRight(get("QD_PUBLIC_URL", ""), "/"),
		Storage: Storage{
			Backend:   get("QD_STORAGE_BACKEND", BackendMinio),
			Endpoint:  get("QD_S3_ENDPOINT", ""),
			Region:    get("QD_S3_REGION", "auto"),
			AccessKey: get("QD_S3_ACCESS_KEY", ""),
			SecretKey: get("QD_S3_SECRET_KEY", ""),
			Bucket:    get("QD_BUCKET", "quickdrop"),
			AccountID: get("QD_R2_ACCOUNT_ID", ""),
			PathStyle: v.Bool("QD_S3_PATH_STYLE", getenv("QD_S3_PATH_STYLE"), true),
			Timeout:   v.Duration("QD_STORAGE_TIMEOUT", getenv("QD_STORAGE_TIMEOUT"), 30*time.Second),
		},
		DefaultTTL:      v.Duration("QD_DEFAULT_TTL", getenv("QD_DEFAULT_TTL"), 24*time.Hour),
		RawCacheMaxAge:  v.Duration("QD_RAW_CACHE_MAX_AGE", getenv("QD_RAW_CACHE_MAX_AGE"), 5*time.Minute),
		MaxUploadBytes:  v.Int64("QD_MAX_UPLOAD_BYTES", getenv("QD_MAX_UPLOAD_BYTES"), 10<<20),
		RateLimit:       v.Int("QD_RATE_LIMIT", getenv("QD_RATE_LIMIT"), 120),
		RateWindow:      v.Duration("QD_RATE_WINDOW", getenv("QD_RATE_WINDOW"), time.Minute),
		CheckCollisions: v.Bool("QD_CHECK_COLLISIONS", getenv("QD_CHECK_COLLISIONS"), true),
		Cleanup: Cleanup{
			Enabled:  v.Bool("QD_CLEANUP_ENABLED", getenv("QD_CLEANUP_ENABLED"), false),
			Interval: v.Duration("QD_CLEANUP_INTERVAL", getenv("QD_CLEANUP_INTERVAL"), 24*time.Hour),
			PageSize: v.Int("QD_CLEANUP_PAGE_SIZE", getenv("QD_CLEANUP_PAGE_SIZE"), 1000),
			RedisURL: get("QD_REDIS_URL", ""),
			LockTTL:  v.Duration("QD_LOCK_TTL", getenv("QD_LOCK_TTL"), 30*time.Minute),
		},
		Log: Log{
			Level:  get("QD_LOG_LEVEL", "info"),
			Format: get("QD_LOG_FORMAT", "json"),
		},
		Version: get("QD_VERSION", "dev"),
	}
	if cfg.Storage.Endpoint == "" && cfg.Storage.AccountID != "" {
		cfg.Storage.Endpoint = sigv4.R2Endpoint(cfg.Storage.AccountID)
	}
	if cfg.PublicURL == "" {
		cfg.PublicURL = "http://localhost" + portSuffix(cfg.Addr)
	}

	v.ValidatePort("QD_ADDR", cfg.Addr)
	v.ValidateURL("QD_PUBLIC_URL", cfg.PublicURL)
	v.ValidateEnum("QD_STORAGE_BACKEND", cfg.Storage.Backend, []string{BackendMinio, BackendS3, BackendMemory})
	v.ValidateEnum("QD_LOG_LEVEL", cfg.Log.Level, []string{"debug", "info", "warn", "error"})
	v.ValidateEnum("QD_LOG_FORMAT", cfg.Log.Format, []string{"json", "console"})
	validateStorage(v, cfg.Storage)
	if cfg.Cleanup.RedisURL != "" && !strings.HasPrefix(cfg.Cleanup.RedisURL, "redis://") &&
		!strings.HasPrefix(cfg.Cleanup.RedisURL, "rediss://") {
		v.AddError("QD_REDIS_URL", "must be a redis:// or rediss:// URL")
	}

	return cfg, v.Err()
}

func validateStorage(v *Validator, s Storage) {
	v.ValidateRequired("QD_BUCKET", s.Bucket)
	switch s.Backend {
	case BackendMinio:
		v.ValidateRequired("QD_S3_ENDPOINT", s.Endpoint)
		v.ValidateRequired("QD_S3_ACCESS_KEY", s.AccessKey)
		v.ValidateRequired("QD_S3_SECRET_KEY", s.SecretKey)
	case BackendS3:
		if (s.AccessKey == "") != (s.SecretKey == "") {
			v.AddError("QD_S3_SECRET_KEY", "access key and secret key must be set together")
		}
	}
	// Bare host:port is allowed for a local MinIO.
	if strings.Contains(s.Endpoint, "://") {
		v.ValidateURL("QD_S3_ENDPOINT", s.Endpoint)
	}
}

func portSuffix(addr string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		return addr[i:]
	}
	return ""
}
