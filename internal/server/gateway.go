// gateway.go - viewer, challenge and raw object routes.

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Cyxzhar/quickdrop/internal/codec"
	"github.com/Cyxzhar/quickdrop/internal/shortid"
	"github.com/Cyxzhar/quickdrop/internal/storage"
)

// Served representations, as counted in metrics.
const (
	kindRaw       = "raw"
	kindViewer    = "viewer"
	kindChallenge = "challenge"
)

// objectRequest is what GET /{name} asks for.
type objectRequest struct {
	id        string
	suffix    string // ".png", ".enc" or empty
	wantsRaw  bool
	protected bool
}

// parseObjectRequest strips a known suffix and validates the id. It never
// touches storage.
func parseObjectRequest(r *http.Request) (objectRequest, bool) {
	name := chi.URLParam(r, "name")
	var req objectRequest
	for _, suffix := range []string{storage.PlainSuffix, storage.EncryptedSuffix} {
		if strings.HasSuffix(name, suffix) {
			req.suffix = suffix
			name = strings.TrimSuffix(name, suffix)
			break
		}
	}
	if !shortid.Valid(name) {
		return objectRequest{}, false
	}
	req.id = name

	q := r.URL.Query()
	req.wantsRaw = req.suffix != "" ||
		strings.Contains(r.Header.Get("Accept"), "image/") ||
		q.Has("raw")
	req.protected = q.Has("p")
	return req, true
}

// keys lists candidate object keys in lookup order. Without a suffix or the
// protected flag the plain object wins when both exist.
func (o objectRequest) keys() []string {
	switch {
	case o.suffix == storage.EncryptedSuffix:
		return []string{storage.EncryptedKey(o.id)}
	case o.suffix == storage.PlainSuffix:
		return []string{storage.PlainKey(o.id)}
	case o.protected:
		return []string{storage.EncryptedKey(o.id)}
	default:
		return []string{storage.PlainKey(o.id), storage.EncryptedKey(o.id)}
	}
}

func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	req, ok := parseObjectRequest(r)
	if !ok {
		s.renderError(w, r, http.StatusBadRequest, msgInvalidID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.StorageTimeout)
	defer cancel()

	if req.wantsRaw {
		obj, err := s.openLive(ctx, req.keys())
		if err != nil {
			s.lookupFailed(w, r, req, err)
			return
		}
		defer func() { _ = obj.Close() }()
		s.serveRaw(w, r, req, obj)
		return
	}

	info, err := s.statLive(ctx, req.keys())
	if err != nil {
		s.lookupFailed(w, r, req, err)
		return
	}
	if info.Encrypted() {
		s.serveChallenge(w, r, req)
		return
	}
	s.serveViewer(w, r, req, info)
}

// statLive returns the first key that exists and has not expired.
func (s *Server) statLive(ctx context.Context, keys []string) (storage.ObjectInfo, error) {
	for _, key := range keys {
		info, err := s.store.Stat(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return storage.ObjectInfo{}, err
		}
		if s.expired(info) {
			continue
		}
		return info, nil
	}
	return storage.ObjectInfo{}, storage.ErrNotFound
}

func (s *Server) openLive(ctx context.Context, keys []string) (*storage.Object, error) {
	for _, key := range keys {
		obj, err := s.store.Get(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if s.expired(obj.ObjectInfo) {
			_ = obj.Close()
			continue
		}
		return obj, nil
	}
	return nil, storage.ErrNotFound
}

// expired hides objects the collector has not reached yet.
func (s *Server) expired(info storage.ObjectInfo) bool {
	return s.now().After(storage.ExpiryOf(info, s.cfg.DefaultTTL))
}

func (s *Server) remaining(info storage.ObjectInfo) time.Duration {
	return storage.ExpiryOf(info, s.cfg.DefaultTTL).Sub(s.now())
}

func (s *Server) lookupFailed(w http.ResponseWriter, r *http.Request, req objectRequest, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.renderError(w, r, http.StatusNotFound, msgNotFound)
	case errors.Is(err, storage.ErrUnavailable):
		s.renderError(w, r, http.StatusServiceUnavailable, msgLoadFailed)
	default:
		s.log.Error("object lookup failed",
			zap.String("rid", RequestIDFromContext(r.Context())),
			zap.String("id", req.id),
			zap.Error(err))
		s.renderError(w, r, http.StatusInternalServerError, msgLoadFailed)
	}
}

func (s *Server) serveRaw(w http.ResponseWriter, r *http.Request, req objectRequest, obj *storage.Object) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Cache-Control", s.rawCacheControl(obj.ObjectInfo))

	if obj.Encrypted() {
		h.Set("Content-Type", storage.EncryptedContentType)
		h.Set("Content-Disposition", contentDisposition("attachment", storage.EncryptedKey(req.id)))
	} else {
		ct := obj.ContentType
		if ct == "" {
			ct = "image/png"
		}
		h.Set("Content-Type", ct)
		if name := obj.Meta.Filename(); name != "" {
			h.Set("Content-Disposition", contentDisposition("inline", name))
		}
	}
	if obj.Size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, obj.Body); err != nil {
		// Headers are gone; all that is left is to log.
		s.log.Warn("object stream interrupted",
			zap.String("rid", RequestIDFromContext(r.Context())),
			zap.String("key", obj.Key),
			zap.Error(err))
		return
	}
	s.metrics.RecordServed(kindRaw)
}

// rawCacheControl never lets a cache keep an object past its expiry.
func (s *Server) rawCacheControl(info storage.ObjectInfo) string {
	left := s.remaining(info)
	if left <= 0 {
		return "no-store"
	}
	maxAge := s.cfg.RawCacheMaxAge
	if left < maxAge {
		maxAge = left
	}
	return fmt.Sprintf("public, max-age=%d", int64(maxAge/time.Second))
}

func (s *Server) serveChallenge(w http.ResponseWriter, r *http.Request, req objectRequest) {
	w.Header().Set("Cache-Control", "no-cache")
	s.renderPage(w, r, http.StatusOK, "challenge.html", challengePage{
		ID:         req.id,
		RawURL:     s.origin(r) + "/" + storage.EncryptedKey(req.id),
		SaltSize:   codec.SaltSize,
		NonceSize:  codec.NonceSize,
		Iterations: codec.Iterations,
		KeyBits:    codec.KeySize * 8,
	})
	s.metrics.RecordServed(kindChallenge)
}

func (s *Server) serveViewer(w http.ResponseWriter, r *http.Request, req objectRequest, info storage.ObjectInfo) {
	filename := info.Meta.Filename()
	if filename == "" {
		filename = storage.PlainKey(req.id)
	}
	w.Header().Set("Cache-Control", "no-cache")
	s.renderPage(w, r, http.StatusOK, "viewer.html", viewerPage{
		ID:        req.id,
		ImageURL:  s.origin(r) + "/" + storage.PlainKey(req.id),
		Filename:  filename,
		Title:     info.Meta.Title(),
		Text:      info.Meta.AttachedText(),
		Remaining: humanDuration(s.remaining(info)),
	})
	s.metrics.RecordServed(kindViewer)
}

// origin is the scheme and host the client used, falling back to the
// configured public URL.
func (s *Server) origin(r *http.Request) string {
	if r.Host == "" {
		return strings.TrimRight(s.cfg.PublicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + r.Host
}

// contentDisposition quotes name after dropping characters that would end
// or escape the quoted string.
func contentDisposition(kind, name string) string {
	clean := strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	return kind + `; filename="` + clean + `"`
}
