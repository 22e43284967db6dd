package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(envFrom(map[string]string{
		"QD_S3_ENDPOINT":   "minio:9000",
		"QD_S3_ACCESS_KEY": "ak",
		"QD_S3_SECRET_KEY": "sk",
	}))
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Addr)
	require.Equal(t, "http://localhost:8080", cfg.PublicURL)
	require.Equal(t, BackendMinio, cfg.Storage.Backend)
	require.Equal(t, "auto", cfg.Storage.Region)
	require.Equal(t, "quickdrop", cfg.Storage.Bucket)
	require.Equal(t, 24*time.Hour, cfg.DefaultTTL)
	require.Equal(t, 5*time.Minute, cfg.RawCacheMaxAge)
	require.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
	require.Equal(t, 120, cfg.RateLimit)
	require.Equal(t, 1000, cfg.Cleanup.PageSize)
	require.Equal(t, 30*time.Minute, cfg.Cleanup.LockTTL)
	require.False(t, cfg.Cleanup.Enabled)
	require.True(t, cfg.CheckCollisions)
}

func TestFromEnvR2Account(t *testing.T) {
	cfg, err := FromEnv(envFrom(map[string]string{
		"QD_STORAGE_BACKEND": "s3",
		"QD_R2_ACCOUNT_ID":   "abc123",
		"QD_PUBLIC_URL":      "https://drop.example/",
	}))
	require.NoError(t, err)
	require.Equal(t, "https://abc123.r2.cloudflarestorage.com", cfg.Storage.Endpoint)
	require.Equal(t, "https://drop.example", cfg.PublicURL)
}

func TestFromEnvReportsEveryError(t *testing.T) {
	_, err := FromEnv(envFrom(map[string]string{
		"QD_ADDR":            ":99999",
		"QD_STORAGE_BACKEND": "ftp",
		"QD_DEFAULT_TTL":     "soon",
		"QD_RATE_LIMIT":      "-4",
		"QD_LOG_FORMAT":      "xml",
		"QD_REDIS_URL":       "localhost:6379",
	}))
	require.Error(t, err)
	msg := err.Error()
	for _, field := range []string{"QD_ADDR", "QD_STORAGE_BACKEND", "QD_DEFAULT_TTL", "QD_RATE_LIMIT", "QD_LOG_FORMAT", "QD_REDIS_URL"} {
		require.Contains(t, msg, field)
	}
	require.True(t, strings.HasPrefix(msg, "Configuration validation failed with 6 error(s):"), msg)
}

func TestFromEnvMinioNeedsCredentials(t *testing.T) {
	_, err := FromEnv(envFrom(map[string]string{"QD_S3_ENDPOINT": "minio:9000"}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "QD_S3_ACCESS_KEY")
	require.Contains(t, err.Error(), "QD_S3_SECRET_KEY")
}

func TestFromEnvMemoryBackend(t *testing.T) {
	_, err := FromEnv(envFrom(map[string]string{"QD_STORAGE_BACKEND": "memory"}))
	require.NoError(t, err)
}

func TestValidatePort(t *testing.T) {
	tests := []struct {
		value string
		ok    bool
	}{
		{":8080", true},
		{"8080", true},
		{"0.0.0.0:443", true},
		{":0", false},
		{":http", false},
		{"nope", false},
	}
	for _, tt := range tests {
		v := NewValidator()
		v.ValidatePort("addr", tt.value)
		if v.HasErrors() == tt.ok {
			t.Errorf("ValidatePort(%q) errors = %v, want ok=%v", tt.value, v.Errors(), tt.ok)
		}
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
}

func TestLoadDotEnvKeepsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("QD_TEST_A=fromfile\nQD_TEST_B=fromfile\n"), 0o600))
	t.Setenv("QD_TEST_A", "fromenv")
	t.Setenv("QD_TEST_B", "")
	os.Unsetenv("QD_TEST_B")

	require.NoError(t, LoadDotEnv(path))
	require.Equal(t, "fromenv", os.Getenv("QD_TEST_A"))
	require.Equal(t, "fromfile", os.Getenv("QD_TEST_B"))
}

func TestLoadUploaderYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quickdrop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
account_id: acct
bucket: shots
access_key: yaml-ak
secret_key: yaml-sk
public_url: https://i.example/
expiry_hours: 168
timeout: 15s
`), 0o600))
	t.Setenv("QD_S3_ACCESS_KEY", "env-ak")

	u, err := LoadUploader(path)
	require.NoError(t, err)
	require.Equal(t, "https://acct.r2.cloudflarestorage.com", u.Endpoint)
	require.Equal(t, "shots", u.Bucket)
	require.Equal(t, "env-ak", u.AccessKey)
	require.Equal(t, "yaml-sk", u.SecretKey)
	require.Equal(t, "https://i.example", u.PublicURL)
	require.Equal(t, 168, u.ExpiryHours)
	require.Equal(t, 15*time.Second, u.Timeout)
	require.Equal(t, "auto", u.Region)
}

func TestUploaderRejectsBadExpiry(t *testing.T) {
	u := defaultUploader()
	u.Endpoint = "https://s3.example"
	u.AccessKey, u.SecretKey = "a", "b"
	u.PublicURL = "https://i.example"
	u.ExpiryHours = 5
	_, err := u.overlay(envFrom(nil))
	require.Error(t, err)
	require.Contains(t, err.Error(), "expiry_hours")
}

func TestStorageOpenMemory(t *testing.T) {
	s, err := Storage{Backend: BackendMemory}.Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Ping(context.Background()))

	_, err = Storage{Backend: "ftp"}.Open(context.Background())
	require.Error(t, err)
}
