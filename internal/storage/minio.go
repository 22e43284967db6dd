// minio.go - Store backed by minio-go.

package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig configures the MinIO / S3-compatible backend.
type MinioConfig struct {
	Endpoint  string // "minio:9000" or "https://acct.r2.cloudflarestorage.com"
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
}

// Minio is a Store backed by minio-go.
type Minio struct {
	client *minio.Client
	bucket string
}

func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}

	// Accept either "minio:9000" or "http://minio:9000" / "https://minio:9000".
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("endpoint must not contain a path")
		}
		return u.Host, u.Scheme == "https", nil
	}

	// Bare host:port is a local MinIO, plain HTTP.
	return raw, false, nil
}

// NewMinio connects and checks that the bucket exists.
func NewMinio(ctx context.Context, cfg MinioConfig) (*Minio, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio configuration incomplete")
	}

	endpoint, secure, err := normaliseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	m := NewMinioFromClient(client, cfg.Bucket)
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("minio bucket does not exist: %s", cfg.Bucket)
	}
	return m, nil
}

// NewMinioFromClient wraps an existing client.
func NewMinioFromClient(client *minio.Client, bucket string) *Minio {
	return &Minio{client: client, bucket: bucket}
}

func (m *Minio) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	st, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, minioErr(err)
	}
	return minioInfo(st), nil
}

func (m *Minio) Get(ctx context.Context, key string) (*Object, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, minioErr(err)
	}
	// GetObject is lazy; Stat forces the request so a missing key fails here.
	st, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, minioErr(err)
	}
	return &Object{ObjectInfo: minioInfo(st), Body: obj}, nil
}

func (m *Minio) Put(ctx context.Context, in PutInput) error {
	_, err := m.client.PutObject(ctx, m.bucket, in.Key, bytes.NewReader(in.Data), int64(len(in.Data)),
		minio.PutObjectOptions{
			ContentType:  in.ContentType,
			UserMetadata: in.Meta,
		})
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.StatusCode != 0 {
			return &ProviderError{Op: "minio put", Key: in.Key, StatusCode: resp.StatusCode, Code: resp.Code, Err: err}
		}
		return fmt.Errorf("minio put %s: %w", in.Key, err)
	}
	return nil
}

func (m *Minio) List(ctx context.Context, in ListInput) (ListPage, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	limit := in.limit()
	ch := m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		StartAfter:   in.Cursor,
		MaxKeys:      limit,
		Recursive:    true,
		WithMetadata: true,
	})

	var page ListPage
	for obj := range ch {
		if obj.Err != nil {
			return ListPage{}, fmt.Errorf("minio list: %w", obj.Err)
		}
		if len(page.Objects) == limit {
			// One more object exists past this page.
			page.NextCursor = page.Objects[limit-1].Key
			break
		}
		info := minioInfo(obj)
		if !hasLifetimeMeta(info.Meta) {
			// Plain S3 listings carry no user metadata.
			st, err := m.Stat(ctx, obj.Key)
			switch {
			case err == nil:
				info.Meta = st.Meta
			case err == ErrNotFound:
				continue
			default:
				info.MetaUnknown = true
			}
		}
		page.Objects = append(page.Objects, info)
	}
	if err := ctx.Err(); err != nil && page.NextCursor == "" {
		return ListPage{}, err
	}
	return page, nil
}

func (m *Minio) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("minio delete %s: %w", key, err)
	}
	return nil
}

func (m *Minio) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.Stat(ctx, key)
	if err == ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (m *Minio) Ping(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", m.bucket)
	}
	return nil
}

func minioInfo(o minio.ObjectInfo) ObjectInfo {
	return ObjectInfo{
		Key:          o.Key,
		Size:         o.Size,
		ContentType:  o.ContentType,
		LastModified: o.LastModified,
		Meta:         NormalizeMeta(o.UserMetadata),
	}
}

func minioErr(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return err
}

func hasLifetimeMeta(m Meta) bool {
	_, a := m[MetaExpiresAt]
	_, b := m[MetaUploadedAt]
	return a || b
}
