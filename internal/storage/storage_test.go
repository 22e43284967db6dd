package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestMemoryPutGetStat(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1704163445000)
	m := NewMemory(func() time.Time { return now })

	meta := Meta{}
	meta.SetTime(MetaUploadedAt, now)
	meta.SetText(MetaFilename, "my shot.png")
	require.NoError(t, m.Put(ctx, PutInput{Key: "abc123.png", Data: []byte("0123456789"), ContentType: "image/png", Meta: meta}))

	info, err := m.Stat(ctx, "abc123.png")
	require.NoError(t, err)
	require.Equal(t, int64(10), info.Size)
	require.Equal(t, "image/png", info.ContentType)
	require.Equal(t, now, info.LastModified)
	require.Equal(t, "my shot.png", info.Meta.Filename())
	require.False(t, info.Encrypted())

	obj, err := m.Get(ctx, "abc123.png")
	require.NoError(t, err)
	defer obj.Close()
	body, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	require.Equal(t, "0123456789", string(body))

	_, err = m.Get(ctx, "abc123.enc")
	require.ErrorIs(t, err, ErrNotFound)

	ok, err := m.Exists(ctx, "abc123.enc")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryListPagination(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	for i := 0; i < 7; i++ {
		require.NoError(t, m.Put(ctx, PutInput{Key: fmt.Sprintf("obj%03d.png", i)}))
	}

	var keys []string
	var pages int
	cursor := ""
	for {
		page, err := m.List(ctx, ListInput{Cursor: cursor, Limit: 3})
		require.NoError(t, err)
		pages++
		for _, o := range page.Objects {
			keys = append(keys, o.Key)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	require.Equal(t, 3, pages)
	require.Len(t, keys, 7)
	require.Equal(t, "obj000.png", keys[0])
	require.Equal(t, "obj006.png", keys[6])
}

func TestMemoryListExactPage(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, m.Put(ctx, PutInput{Key: fmt.Sprintf("k%d", i)}))
	}
	page, err := m.List(ctx, ListInput{Limit: 3})
	require.NoError(t, err)
	require.Len(t, page.Objects, 3)
	require.Empty(t, page.NextCursor)
}

func TestMetaTimes(t *testing.T) {
	m := Meta{}
	_, ok := m.ExpiresAt()
	require.False(t, ok)

	at := time.UnixMilli(1704167045000)
	m.SetTime(MetaExpiresAt, at)
	require.Equal(t, "1704167045000", m[MetaExpiresAt])
	got, ok := m.ExpiresAt()
	require.True(t, ok)
	require.True(t, got.Equal(at))

	m[MetaExpiresAt] = "soon"
	_, ok = m.ExpiresAt()
	require.False(t, ok)
}

func TestMetaTextEscaping(t *testing.T) {
	m := Meta{}
	m.SetText(MetaTitle, "Résumé draft 1/2")
	require.NotContains(t, m[MetaTitle], "é")
	require.Equal(t, "Résumé draft 1/2", m.Title())

	m.SetText(MetaText, strings.Repeat("a", 5000))
	require.Len(t, m[MetaText], maxTextMeta)
	require.Equal(t, strings.Repeat("a", maxTextMeta), m.AttachedText())
}

func TestMetaTextFitsProviderLimit(t *testing.T) {
	long := strings.Repeat("é", 1000) // 2000 bytes, 6000 escaped
	m := Meta{}
	m.SetText(MetaFilename, "shot.png")
	m.SetTime(MetaUploadedAt, time.UnixMilli(1704163445000))
	m.SetTime(MetaExpiresAt, time.UnixMilli(1704249845000))
	m.SetText(MetaTitle, long)
	m.SetText(MetaText, long)

	require.LessOrEqual(t, m.WireSize(), MaxMetaBytes)
	for _, got := range []string{m.Title(), m.AttachedText()} {
		require.NotEmpty(t, got)
		require.True(t, utf8.ValidString(got), "cut inside a character")
		require.True(t, strings.HasPrefix(long, got))
	}
	require.Equal(t, "shot.png", m.Filename())

	// Replacing a field frees its share first.
	m.SetText(MetaTitle, "short")
	require.Equal(t, "short", m.Title())
	require.LessOrEqual(t, m.WireSize(), MaxMetaBytes)
}

func TestMetaTextKeepsInvalidUTF8Bytes(t *testing.T) {
	m := Meta{}
	m.SetText(MetaTitle, "a\xffb")
	require.Equal(t, "a\xffb", m.Title())
}

func TestNormalizeMeta(t *testing.T) {
	got := NormalizeMeta(map[string]string{
		"Expires-At":             "1",
		"X-Amz-Meta-Uploaded-At": "2",
		"filename":               "a.png",
	})
	require.Equal(t, Meta{"expires-at": "1", "uploaded-at": "2", "filename": "a.png"}, got)
	require.Nil(t, NormalizeMeta(nil))
}

func TestExpiryOf(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	explicit := created.Add(time.Hour)

	withExpiry := Meta{}
	withExpiry.SetTime(MetaExpiresAt, explicit)
	withUpload := Meta{}
	withUpload.SetTime(MetaUploadedAt, created)

	tests := []struct {
		name string
		info ObjectInfo
		want time.Time
	}{
		{"explicit expiry wins", ObjectInfo{Meta: withExpiry, LastModified: created.Add(-48 * time.Hour)}, explicit},
		{"uploaded-at plus ttl", ObjectInfo{Meta: withUpload, LastModified: created.Add(time.Minute)}, created.Add(24 * time.Hour)},
		{"last-modified plus ttl", ObjectInfo{LastModified: created}, created.Add(24 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.True(t, ExpiryOf(tt.info, 24*time.Hour).Equal(tt.want))
		})
	}
}

type failingStore struct {
	*Memory
	err error
}

func (f *failingStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if f.err != nil {
		return ObjectInfo{}, f.err
	}
	return f.Memory.Stat(ctx, key)
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	ctx := context.Background()
	backend := &failingStore{Memory: NewMemory(nil), err: errors.New("connection refused")}
	clock := time.Unix(0, 0)
	b := NewBreaker(backend, 2, time.Minute)
	b.now = func() time.Time { return clock }

	var transitions []string
	b.OnStateChange(func(from, to CircuitState) { transitions = append(transitions, from.String()+">"+to.String()) })

	for i := 0; i < 2; i++ {
		_, err := b.Stat(ctx, "abc123.png")
		require.EqualError(t, err, "connection refused")
	}
	require.Equal(t, StateOpen, b.State())

	_, err := b.Stat(ctx, "abc123.png")
	require.ErrorIs(t, err, ErrUnavailable)

	backend.err = nil
	clock = clock.Add(2 * time.Minute)
	_, err = b.Stat(ctx, "abc123.png")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, StateClosed, b.State())
	require.Equal(t, []string{"closed>open", "open>half-open", "half-open>closed"}, transitions)
}

func TestBreakerIgnoresNotFound(t *testing.T) {
	b := NewBreaker(NewMemory(nil), 1, time.Minute)
	for i := 0; i < 5; i++ {
		_, err := b.Stat(context.Background(), "nope00.png")
		require.ErrorIs(t, err, ErrNotFound)
	}
	require.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	ctx := context.Background()
	backend := &failingStore{Memory: NewMemory(nil), err: errors.New("boom")}
	clock := time.Unix(0, 0)
	b := NewBreaker(backend, 1, time.Second)
	b.now = func() time.Time { return clock }

	_, _ = b.Stat(ctx, "k")
	require.Equal(t, StateOpen, b.State())

	clock = clock.Add(2 * time.Second)
	_, err := b.Stat(ctx, "k")
	require.EqualError(t, err, "boom")
	require.Equal(t, StateOpen, b.State())
}

// hangingStore blocks every Stat until the caller's context is done.
type hangingStore struct{ *Memory }

func (h hangingStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	<-ctx.Done()
	return ObjectInfo{}, ctx.Err()
}

func TestBreakerOpensOnTimeouts(t *testing.T) {
	b := NewBreaker(hangingStore{NewMemory(nil)}, 2, time.Minute)
	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		_, err := b.Stat(ctx, "abc123.png")
		cancel()
		require.ErrorIs(t, err, context.DeadlineExceeded)
	}
	require.Equal(t, StateOpen, b.State())

	_, err := b.Stat(context.Background(), "abc123.png")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	backend := &failingStore{Memory: NewMemory(nil), err: errors.New("connection refused")}
	clock := time.Unix(0, 0)
	b := NewBreaker(backend, 2, time.Minute)
	b.now = func() time.Time { return clock }

	_, _ = b.Stat(context.Background(), "k")
	require.Equal(t, 1, b.Stats().Failures)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, _ = b.Stat(cancelled, "k")
	require.Equal(t, 1, b.Stats().Failures)
	require.Equal(t, StateClosed, b.State())

	// A dropped half-open probe neither closes the circuit nor blocks the next probe.
	_, _ = b.Stat(context.Background(), "k")
	require.Equal(t, StateOpen, b.State())
	clock = clock.Add(2 * time.Minute)
	_, _ = b.Stat(cancelled, "k")
	require.Equal(t, StateHalfOpen, b.State())

	backend.err = nil
	_, err := b.Stat(context.Background(), "k")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, StateClosed, b.State())
}
