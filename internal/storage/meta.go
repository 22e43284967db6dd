// meta.go - object metadata encoding and size budget.

package storage

import (
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Metadata keys, stored as x-amz-meta-<key> on the wire.
const (
	MetaFilename   = "filename"
	MetaUploadedAt = "uploaded-at"
	MetaExpiresAt  = "expires-at"
	MetaTitle      = "title"
	MetaText       = "text"
)

// Providers reject a PUT whose user metadata exceeds 2 KiB. MaxMetaBytes is
// the budget SetText keeps the whole set within, counted as on the wire:
// x-amz-meta-<key> plus the escaped value.
const (
	ProviderMetaLimit = 2048
	MaxMetaBytes      = 1536
	maxTextMeta       = 1024 // per text field, escaped
	metaPrefix        = "x-amz-meta-"
)

// Meta is per-object user metadata. Keys are lower case without the
// x-amz-meta- prefix; values are ASCII so they survive as header values.
type Meta map[string]string

// NormalizeMeta converts provider metadata (any key casing, with or without
// the x-amz-meta- prefix) into Meta.
func NormalizeMeta(in map[string]string) Meta {
	if len(in) == 0 {
		return nil
	}
	out := make(Meta, len(in))
	for k, v := range in {
		k = strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-")
		out[k] = v
	}
	return out
}

// SetTime stores t as Unix milliseconds.
func (m Meta) SetTime(key string, t time.Time) {
	m[key] = strconv.FormatInt(t.UnixMilli(), 10)
}

// Time parses a Unix millisecond value. ok is false when missing or malformed.
func (m Meta) Time(key string) (t time.Time, ok bool) {
	v, found := m[key]
	if !found || v == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// SetText stores free text query-escaped. The escaped value is cut on a
// character boundary so that it fits both the per-field cap and what is left
// of MaxMetaBytes; fields set earlier keep their share.
func (m Meta) SetText(key, v string) {
	delete(m, key)
	if v == "" {
		return
	}
	limit := MaxMetaBytes - m.WireSize() - len(metaPrefix) - len(key)
	if limit > maxTextMeta {
		limit = maxTextMeta
	}
	if esc := escapeWithin(v, limit); esc != "" {
		m[key] = esc
	}
}

func escapeWithin(v string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if esc := url.QueryEscape(v); len(esc) <= limit {
		return esc
	}
	var b strings.Builder
	for i := 0; i < len(v); {
		_, size := utf8.DecodeRuneInString(v[i:])
		esc := url.QueryEscape(v[i : i+size])
		if b.Len()+len(esc) > limit {
			break
		}
		b.WriteString(esc)
		i += size
	}
	return b.String()
}

// WireSize is the metadata's size as providers count it against their limit.
func (m Meta) WireSize() int {
	n := 0
	for k, v := range m {
		n += len(metaPrefix) + len(k) + len(v)
	}
	return n
}

// Text returns a value stored by SetText.
func (m Meta) Text(key string) string {
	v := m[key]
	if s, err := url.QueryUnescape(v); err == nil {
		return s
	}
	return v
}

func (m Meta) ExpiresAt() (time.Time, bool)  { return m.Time(MetaExpiresAt) }
func (m Meta) UploadedAt() (time.Time, bool) { return m.Time(MetaUploadedAt) }
func (m Meta) Filename() string              { return m.Text(MetaFilename) }
func (m Meta) Title() string                 { return m.Text(MetaTitle) }
func (m Meta) AttachedText() string          { return m.Text(MetaText) }

// Clone returns a copy safe to modify.
func (m Meta) Clone() Meta {
	if m == nil {
		return nil
	}
	out := make(Meta, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ExpiryOf returns when an object expires: the expires-at metadata when
// present, otherwise its creation time plus defaultTTL. Creation time is the
// uploaded-at metadata, falling back to the provider's last-modified time.
func ExpiryOf(info ObjectInfo, defaultTTL time.Duration) time.Time {
	if t, ok := info.Meta.ExpiresAt(); ok {
		return t
	}
	created, ok := info.Meta.UploadedAt()
	if !ok {
		created = info.LastModified
	}
	return created.Add(defaultTTL)
}
