package sigv4

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Cyxzhar/quickdrop/internal/storage"
)

// verifyingHandler re-signs what actually arrived on the wire and rejects
// any mismatch, the way the provider does.
func verifyingHandler(t *testing.T, signer *Signer, got *http.Request, gotBody *[]byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		ts, err := time.Parse(amzDateFormat, r.Header.Get("X-Amz-Date"))
		require.NoError(t, err)

		meta := map[string]string{}
		for k, v := range r.Header {
			lk := strings.ToLower(k)
			if strings.HasPrefix(lk, "x-amz-meta-") {
				meta[strings.TrimPrefix(lk, "x-amz-meta-")] = v[0]
			}
		}
		want := signer.Sign(Request{
			Method:        r.Method,
			Host:          r.Host,
			Path:          r.URL.Path,
			ContentType:   r.Header.Get("Content-Type"),
			ContentLength: r.ContentLength,
			PayloadHash:   HashPayload(body),
			Time:          ts,
			Meta:          meta,
		})
		if r.Header.Get("X-Amz-Content-Sha256") != HashPayload(body) ||
			r.Header.Get("Authorization") != want.Authorization {
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, "<Error><Code>SignatureDoesNotMatch</Code></Error>")
			return
		}
		*got = *r
		*gotBody = body
		w.WriteHeader(http.StatusOK)
	}
}

func TestClientPutSignsWhatItSends(t *testing.T) {
	signer := NewSigner(testCreds)
	var got http.Request
	var body []byte
	srv := httptest.NewServer(verifyingHandler(t, signer, &got, &body))
	defer srv.Close()

	c, err := NewClient(srv.URL, "quickdrop", signer, srv.Client())
	require.NoError(t, err)
	c.now = func() time.Time { return fixedTime }

	meta := storage.Meta{}
	meta.SetTime(storage.MetaExpiresAt, fixedTime.Add(time.Hour))
	meta.SetText(storage.MetaFilename, "my shot.png")

	err = c.Put(context.Background(), storage.PutInput{
		Key:         "abc123.png",
		Data:        []byte("0123456789"),
		ContentType: "image/png",
		Meta:        meta,
	})
	require.NoError(t, err)
	require.Equal(t, http.MethodPut, got.Method)
	require.Equal(t, "/quickdrop/abc123.png", got.URL.Path)
	require.Equal(t, "0123456789", string(body))
	require.Equal(t, strconv.FormatInt(fixedTime.Add(time.Hour).UnixMilli(), 10), got.Header.Get("X-Amz-Meta-Expires-At"))
	require.Equal(t, "my+shot.png", got.Header.Get("X-Amz-Meta-Filename"))
}

func TestClientPutEmptyBody(t *testing.T) {
	signer := NewSigner(testCreds)
	var got http.Request
	var body []byte
	srv := httptest.NewServer(verifyingHandler(t, signer, &got, &body))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/", "quickdrop", signer, nil)
	require.NoError(t, err)
	require.NoError(t, c.Put(context.Background(), storage.PutInput{Key: "abc123.png"}))
	require.Empty(t, body)
}

func TestClientPutSurfacesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, "<Error><Code>InvalidAccessKeyId</Code></Error>\n")
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "quickdrop", NewSigner(testCreds), srv.Client())
	require.NoError(t, err)

	err = c.Put(context.Background(), storage.PutInput{Key: "abc123.png", Data: []byte("x")})
	var upErr *UploadError
	require.True(t, errors.As(err, &upErr))
	require.Equal(t, http.StatusForbidden, upErr.StatusCode)
	require.Equal(t, "<Error><Code>InvalidAccessKeyId</Code></Error>", upErr.Body)
	require.True(t, upErr.IsAuth())
	require.Contains(t, err.Error(), "upload failed: 403")
}

func TestClientPutDoesNotRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "quickdrop", NewSigner(testCreds), srv.Client())
	require.NoError(t, err)
	err = c.Put(context.Background(), storage.PutInput{Key: "abc123.png"})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestClientPutHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "quickdrop", NewSigner(testCreds), srv.Client())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = c.Put(ctx, storage.PutInput{Key: "abc123.png"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewClientValidation(t *testing.T) {
	s := NewSigner(testCreds)
	for _, ep := range []string{"", "acct.r2.cloudflarestorage.com", "ftp://x", "https://x/path"} {
		_, err := NewClient(ep, "b", s, nil)
		require.Error(t, err, "endpoint %q", ep)
	}
	_, err := NewClient("https://x", "", s, nil)
	require.Error(t, err)
	require.Equal(t, "https://acct.r2.cloudflarestorage.com", R2Endpoint("acct"))
}
