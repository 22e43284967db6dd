// uploader.go - uploader settings from YAML and the environment.

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Cyxzhar/quickdrop/internal/sigv4"
	"github.com/Cyxzhar/quickdrop/internal/upload"
)

// Uploader configures cmd/quickdrop. Values come from the YAML file first;
// non-empty environment variables override them.
type Uploader struct {
	Endpoint    string        `yaml:"endpoint"`
	AccountID   string        `yaml:"account_id"`
	Bucket      string        `yaml:"bucket"`
	Region      string        `yaml:"region"`
	AccessKey   string        `yaml:"access_key"`
	SecretKey   string        `yaml:"secret_key"`
	PublicURL   string        `yaml:"public_url"`
	ExpiryHours int           `yaml:"expiry_hours"`
	Timeout     time.Duration `yaml:"timeout"`
	HistorySize int           `yaml:"history_size"`
}

func defaultUploader() Uploader {
	return Uploader{
		Bucket:      "quickdrop",
		Region:      "auto",
		ExpiryHours: 24,
		Timeout:     60 * time.Second,
		HistorySize: 50,
	}
}

// LoadUploader reads path (optional) and the environment.
func LoadUploader(path string) (Uploader, error) {
	u := defaultUploader()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Uploader{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &u); err != nil {
			return Uploader{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return u.overlay(os.Getenv)
}

func (u Uploader) overlay(getenv func(string) string) (Uploader, error) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&u.Endpoint, "QD_S3_ENDPOINT")
	set(&u.AccountID, "QD_R2_ACCOUNT_ID")
	set(&u.Bucket, "QD_BUCKET")
	set(&u.Region, "QD_S3_REGION")
	set(&u.AccessKey, "QD_S3_ACCESS_KEY")
	set(&u.SecretKey, "QD_S3_SECRET_KEY")
	set(&u.PublicURL, "QD_PUBLIC_URL")

	if u.Endpoint == "" && u.AccountID != "" {
		u.Endpoint = sigv4.R2Endpoint(u.AccountID)
	}
	u.Endpoint = strings.TrimRight(u.Endpoint, "/")
	u.PublicURL = strings.TrimRight(u.PublicURL, "/")

	v := NewValidator()
	v.ValidateRequired("endpoint", u.Endpoint)
	v.ValidateURL("endpoint", u.Endpoint)
	v.ValidateRequired("bucket", u.Bucket)
	v.ValidateRequired("access_key", u.AccessKey)
	v.ValidateRequired("secret_key", u.SecretKey)
	v.ValidateRequired("public_url", u.PublicURL)
	v.ValidateURL("public_url", u.PublicURL)
	if !upload.ExpiryHoursAllowed(u.ExpiryHours) {
		v.AddError("expiry_hours", fmt.Sprintf("must be one of %v", upload.ExpiryHours))
	}
	if u.Timeout <= 0 {
		v.AddError("timeout", "must be a positive duration")
	}
	return u, v.Err()
}
