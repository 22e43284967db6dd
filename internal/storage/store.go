// store.go - Store interface and shared errors.

// Package storage is the object store behind the gateway, the uploader and
// the collector. Objects are addressed by key only; the provider listing is
// the only way to enumerate them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	PlainSuffix     = ".png"
	EncryptedSuffix = ".enc"

	// EncryptedContentType hides the real type of protected payloads.
	EncryptedContentType = "application/octet-stream"

	DefaultPageSize = 1000
)

var (
	// ErrNotFound means no object exists at the key. Expired-and-collected
	// and never-existed are the same condition.
	ErrNotFound = errors.New("object not found")
	// ErrUnavailable is returned while the store is considered down.
	ErrUnavailable = errors.New("object store unavailable")
	// ErrMetadataTooLarge is what providers answer when user metadata
	// passes ProviderMetaLimit.
	ErrMetadataTooLarge = errors.New("object metadata too large")
)

// ProviderError is a write the provider answered with an HTTP error.
type ProviderError struct {
	Op         string
	Key        string
	StatusCode int
	Code       string // provider error code, e.g. AccessDenied
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s %s: provider returned %d", e.Op, e.Key, e.StatusCode)
	if e.Code != "" {
		msg += " " + e.Code
	}
	return msg + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() []error {
	if e.Code == "MetadataTooLarge" {
		return []error{e.Err, ErrMetadataTooLarge}
	}
	return []error{e.Err}
}

// Store is the set of provider operations the rest of the system needs.
type Store interface {
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Get(ctx context.Context, key string) (*Object, error)
	Put(ctx context.Context, in PutInput) error
	List(ctx context.Context, in ListInput) (ListPage, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
}

type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	Meta         Meta
	// MetaUnknown is set by List when the listing carried no metadata and
	// fetching it failed.
	MetaUnknown bool
}

// Encrypted reports whether the key names an encrypted payload.
func (o ObjectInfo) Encrypted() bool {
	return strings.HasSuffix(o.Key, EncryptedSuffix)
}

// Object is an open object body. Callers must Close it.
type Object struct {
	ObjectInfo
	Body io.ReadCloser
}

func (o *Object) Close() error {
	if o == nil || o.Body == nil {
		return nil
	}
	return o.Body.Close()
}

type PutInput struct {
	Key         string
	Data        []byte
	ContentType string
	Meta        Meta
}

// ListInput asks for one page. Cursor is the opaque value from the previous
// page, empty for the first one.
type ListInput struct {
	Cursor string
	Limit  int
}

// ListPage is one page of a listing. NextCursor is empty on the last page.
type ListPage struct {
	Objects    []ObjectInfo
	NextCursor string
}

func (in ListInput) limit() int {
	if in.Limit <= 0 {
		return DefaultPageSize
	}
	return in.Limit
}

// PlainKey and EncryptedKey build object keys from an id.
func PlainKey(id string) string     { return id + PlainSuffix }
func EncryptedKey(id string) string { return id + EncryptedSuffix }
