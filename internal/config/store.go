// store.go - opening the configured storage backend.

package config

import (
	"context"
	"fmt"

	"github.com/Cyxzhar/quickdrop/internal/storage"
)

// Open connects the configured backend. The memory backend starts empty and
// lives only as long as the process.
func (s Storage) Open(ctx context.Context) (storage.Store, error) {
	switch s.Backend {
	case BackendMinio:
		return storage.NewMinio(ctx, storage.MinioConfig{
			Endpoint:  s.Endpoint,
			AccessKey: s.AccessKey,
			SecretKey: s.SecretKey,
			Bucket:    s.Bucket,
			Region:    s.Region,
		})
	case BackendS3:
		return storage.NewS3(ctx, storage.S3Config{
			Endpoint:  s.Endpoint,
			Region:    s.Region,
			AccessKey: s.AccessKey,
			SecretKey: s.SecretKey,
			Bucket:    s.Bucket,
			PathStyle: s.PathStyle,
		})
	case BackendMemory:
		return storage.NewMemory(nil), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", s.Backend)
	}
}
